package barrier

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
	return "Waits until every parallel branch declaring the same identifier arrives"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"identifier": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Name shared by the barrier states of the branches to align",
				"examples":    []string{"join1", "before-traffic-shift"},
			},
			"expected": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": "Participant count; defaults to the number of barrier states with the same identifier",
			},
		},
		"required": []string{"identifier"},
	}
}

func (f *Factory) DefaultTimeout() time.Duration {
	return DefaultTimeout
}

func (f *Factory) Create(spec models.StateSpec, deps *states.Dependencies) (states.State, error) {
	return New(spec, deps)
}
