// Package events defines the messages exchanged between workers, the API and delegate
// collaborators over the event bus.
package events

import (
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every stagehand event; handlers are selected by the event type metadata.
const Topic = "stagehand.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Correlation traffic.
	NotifyReceivedEvent EventType = "notify.received"
	TaskQueuedEvent     EventType = "task.queued"

	// Execution commands.
	ExecutionRequestedEvent      EventType = "execution.requested"
	ExecutionAbortRequestedEvent EventType = "execution.abort_requested"

	// Lifecycle notifications.
	ExecutionCompletedEvent EventType = "execution.completed"
	StateCompletedEvent     EventType = "state.completed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workerID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		WorkerID:  workerID,
	}
}

// NotifyReceived delivers a collaborator result for a correlation id.
type NotifyReceived struct {
	BaseEvent

	CorrelationID string              `json:"correlation_id"`
	Data          models.ResponseData `json:"data"`
}

func (e NotifyReceived) GetType() EventType {
	return NotifyReceivedEvent
}

// TaskQueued hands a delegate task to whichever collaborator serves its task type.
type TaskQueued struct {
	BaseEvent

	Task models.DelegateTask `json:"task"`
}

func (e TaskQueued) GetType() EventType {
	return TaskQueuedEvent
}

type ExecutionRequested struct {
	BaseEvent

	ExecutionID         string                    `json:"execution_id"`
	AppID               string                    `json:"app_id"`
	PipelineExecutionID string                    `json:"pipeline_execution_id,omitempty"`
	Definition          models.WorkflowDefinition `json:"definition"`
	Elements            []models.ContextElement   `json:"elements,omitempty"`
}

func (e ExecutionRequested) GetType() EventType {
	return ExecutionRequestedEvent
}

type ExecutionAbortRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason,omitempty"`
}

func (e ExecutionAbortRequested) GetType() EventType {
	return ExecutionAbortRequestedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID  string                 `json:"execution_id"`
	Status       models.ExecutionStatus `json:"status"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Duration     time.Duration          `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

// StateCompleted is published when an instance reaches a terminal status.
type StateCompleted struct {
	BaseEvent

	ExecutionID    string                  `json:"execution_id"`
	InstanceID     string                  `json:"instance_id"`
	StateName      string                  `json:"state_name"`
	StateType      string                  `json:"state_type"`
	Status         models.ExecutionStatus  `json:"status"`
	ErrorMessage   string                  `json:"error_message,omitempty"`
	NotifyElements []models.ContextElement `json:"notify_elements,omitempty"`
}

func (e StateCompleted) GetType() EventType {
	return StateCompletedEvent
}
