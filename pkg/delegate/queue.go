// Package delegate dispatches provider specific work to external collaborators. A task
// carries the correlation id its result must be notified on.
package delegate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stagehand/pkg/eventbus"
	"github.com/dukex/stagehand/pkg/events"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/google/uuid"
)

type TaskQueue interface {
	Enqueue(ctx context.Context, task *models.DelegateTask) error
}

// NewTask builds a task for the instance behind ec with a fresh correlation id.
func NewTask(taskType string, ec *models.ExecutionContext, parameters map[string]any) *models.DelegateTask {
	return &models.DelegateTask{
		ID:            uuid.New().String(),
		CorrelationID: uuid.New().String(),
		TaskType:      taskType,
		ExecutionID:   ec.WorkflowExecutionID,
		InstanceID:    ec.StateExecutionInstanceID,
		Parameters:    parameters,
	}
}

// EventBusQueue publishes tasks as TaskQueued events keyed by correlation id.
type EventBusQueue struct {
	publisher eventbus.EventPublisher
	workerID  string
	logger    *slog.Logger
}

var _ TaskQueue = (*EventBusQueue)(nil)

func NewEventBusQueue(publisher eventbus.EventPublisher, workerID string, logger *slog.Logger) *EventBusQueue {
	return &EventBusQueue{
		publisher: publisher,
		workerID:  workerID,
		logger:    logger.With("module", "delegate_queue"),
	}
}

func (q *EventBusQueue) Enqueue(ctx context.Context, task *models.DelegateTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	task.QueuedAt = time.Now().UTC()

	err := q.publisher.Publish(ctx, task.CorrelationID, events.TaskQueued{
		BaseEvent: events.NewBaseEvent(events.TaskQueuedEvent, q.workerID),
		Task:      *task,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s task: %w", task.TaskType, err)
	}

	q.logger.InfoContext(ctx, "Delegate task queued",
		"task_id", task.ID,
		"task_type", task.TaskType,
		"correlation_id", task.CorrelationID,
		"instance_id", task.InstanceID,
	)

	return nil
}
