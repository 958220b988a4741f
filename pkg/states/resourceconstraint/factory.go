package resourceconstraint

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
	return "Acquires permits on a shared resource, queueing in order when the capacity is exhausted"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"constraint_id": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Resource guarded by the constraint",
				"examples":    []string{"env-prod", "shared-db-migrations"},
			},
			"capacity": map[string]any{
				"type":    "integer",
				"minimum": 1,
			},
			"permits": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"default": 1,
			},
			"holding_scope": map[string]any{
				"type": "string",
				"enum": []string{
					string(models.HoldingScopeWorkflow),
					string(models.HoldingScopePipeline),
					string(models.HoldingScopePhase),
					string(models.HoldingScopePhaseSection),
					string(models.HoldingScopeNextStep),
				},
				"default": string(models.HoldingScopeWorkflow),
			},
		},
		"required": []string{"constraint_id", "capacity"},
	}
}

func (f *Factory) DefaultTimeout() time.Duration {
	return DefaultTimeout
}

func (f *Factory) Create(spec models.StateSpec, deps *states.Dependencies) (states.State, error) {
	return New(spec, deps)
}
