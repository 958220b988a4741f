package verification

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
	return "Repeats a delegated check until it fails or the verification period elapses"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_type": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples":  []string{"apm-analysis", "log-analysis"},
			},
			"duration_millis": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": "How long the deployment is watched",
			},
			"parameters": map[string]any{
				"type": "object",
			},
		},
		"required": []string{"task_type", "duration_millis"},
	}
}

func (f *Factory) DefaultTimeout() time.Duration {
	return DefaultTimeout
}

func (f *Factory) Create(spec models.StateSpec, deps *states.Dependencies) (states.State, error) {
	return New(spec, deps)
}
