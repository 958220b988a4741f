package delegate_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/stagehand/pkg/delegate"
	"github.com/dukex/stagehand/pkg/events"
	"github.com/dukex/stagehand/pkg/mocks"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEventBusQueue_Enqueue(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := &mocks.MockEventBus{}
	queue := delegate.NewEventBusQueue(bus, "worker-1", logger)

	ec := &models.ExecutionContext{WorkflowExecutionID: "exec-1", StateExecutionInstanceID: "inst-1"}
	task := delegate.NewTask("http-check", ec, map[string]any{"url": "http://web-1/health"})

	bus.On("Publish", mock.Anything, task.CorrelationID, mock.MatchedBy(func(event events.TaskQueued) bool {
		return event.Task.TaskType == "http-check" &&
			event.Task.InstanceID == "inst-1" &&
			event.WorkerID == "worker-1"
	})).Return(nil).Once()

	require.NoError(t, queue.Enqueue(context.Background(), task))
	assert.False(t, task.QueuedAt.IsZero())
	assert.NotEmpty(t, task.ID)

	bus.AssertExpectations(t)
}

func TestEventBusQueue_EnqueuePublishFailure(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := &mocks.MockEventBus{}
	queue := delegate.NewEventBusQueue(bus, "worker-1", logger)

	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	task := delegate.NewTask("http-check", &models.ExecutionContext{}, nil)

	err := queue.Enqueue(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}
