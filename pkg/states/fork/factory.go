package fork

import (
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/states"
)

type Factory struct{}

func NewFactory() states.Factory {
	return &Factory{}
}

func (f *Factory) Type() string {
	return Type
}

func (f *Factory) Description() string {
	return "Runs branches in parallel and joins on their outcome"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"branches": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"state": map[string]any{
							"type":        "string",
							"minLength":   1,
							"description": "First state of the branch",
						},
						"element": map[string]any{
							"type": "object",
						},
					},
					"required": []string{"state"},
				},
			},
		},
		"required": []string{"branches"},
	}
}

func (f *Factory) DefaultTimeout() time.Duration {
	return DefaultTimeout
}

func (f *Factory) Create(spec models.StateSpec, deps *states.Dependencies) (states.State, error) {
	return New(spec, deps)
}
