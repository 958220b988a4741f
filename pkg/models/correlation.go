package models

import "time"

// NotifyCallback names the handler a wait group fires and the instance it resumes.
type NotifyCallback struct {
	Kind        string `json:"kind"`
	ExecutionID string `json:"execution_id,omitempty"`
	InstanceID  string `json:"instance_id,omitempty"`
}

// WaitGroup joins a set of correlation ids to one callback.
type WaitGroup struct {
	ID             string         `json:"id"`
	CorrelationIDs []string       `json:"correlation_ids"`
	Callback       NotifyCallback `json:"callback"`
	CreatedAt      time.Time      `json:"created_at"`
}

// DelegateTask is a unit of provider specific work dispatched on behalf of a state.
type DelegateTask struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlation_id"`
	TaskType      string         `json:"task_type"`
	ExecutionID   string         `json:"execution_id"`
	InstanceID    string         `json:"instance_id"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	QueuedAt      time.Time      `json:"queued_at"`
}
