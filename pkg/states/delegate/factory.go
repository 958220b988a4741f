package delegate

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
	return "Queues a task for an external collaborator and waits for its result"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_type": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Kind of work the collaborator performs",
				"examples":    []string{"k8s-rollout", "collect-artifact", "send-email"},
			},
			"parameters": map[string]any{
				"type":        "object",
				"description": "Task parameters; string values may reference the execution context",
				"examples": []map[string]any{
					{"host": "{{ .elements.INSTANCE.name }}", "artifact": "app-1.2.3.tar.gz"},
				},
			},
		},
		"required": []string{"task_type"},
	}
}

func (f *Factory) DefaultTimeout() time.Duration {
	return DefaultTimeout
}

func (f *Factory) Create(spec models.StateSpec, deps *states.Dependencies) (states.State, error) {
	return New(spec, deps)
}
