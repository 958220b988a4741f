package main

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/stagehand/pkg/cmd"
	"github.com/dukex/stagehand/pkg/config"
	"github.com/dukex/stagehand/pkg/events"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/states/delegate"
	"github.com/dukex/stagehand/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorker() config.Worker {
	return config.Worker{
		Stores:          config.Stores{DatabaseURL: config.MemoryDatabaseURL},
		Bus:             config.Bus{Provider: config.ProviderGoChannel},
		ID:              "worker-test",
		SweepSchedule:   "@every 1h",
		SweepBatchSize:  10,
		ResponseMaxAge:  time.Hour,
		SweepWorkers:    2,
		BarrierRetries:  5,
		CacheTTL:        time.Minute,
		LockTTL:         time.Second,
		LockWaitTimeout: time.Second,
	}
}

func setupWorker(t *testing.T) (*WorkerManager, *cmd.Runtime) {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	runtime, err := cmd.NewRuntime(ctx, logger, testWorker(), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = runtime.Close(context.Background())
	})

	return NewWorkerManager("worker-test", runtime, logger), runtime
}

func deployDefinition() models.WorkflowDefinition {
	return models.WorkflowDefinition{
		Name:  "deploy",
		Start: "deploy",
		States: []models.StateSpec{{
			Name:   "deploy",
			Type:   delegate.Type,
			Config: map[string]any{"task_type": "deploy"},
		}},
	}
}

func TestWorkerManager_RunsRequestedExecutionUntilNotified(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, runtime := setupWorker(t)

	tasks := make(chan models.DelegateTask, 1)
	require.NoError(t, runtime.EventBus.Handle(events.TaskQueuedEvent, func(_ context.Context, event any) error {
		tasks <- event.(*events.TaskQueued).Task

		return nil
	}))

	require.NoError(t, manager.Subscribe(ctx))

	require.NoError(t, runtime.EventBus.Publish(ctx, "exec-1", events.ExecutionRequested{
		BaseEvent:   events.NewBaseEvent(events.ExecutionRequestedEvent, "api"),
		ExecutionID: "exec-1",
		AppID:       "app",
		Definition:  deployDefinition(),
	}))

	var task models.DelegateTask

	select {
	case task = <-tasks:
	case <-time.After(5 * time.Second):
		t.Fatal("delegate task was not queued")
	}

	assert.Equal(t, "deploy", task.TaskType)
	assert.Equal(t, "exec-1", task.ExecutionID)

	require.NoError(t, runtime.EventBus.Publish(ctx, task.CorrelationID, events.NotifyReceived{
		BaseEvent:     events.NewBaseEvent(events.NotifyReceivedEvent, "collaborator"),
		CorrelationID: task.CorrelationID,
		Data:          models.ResponseData{Status: models.StatusSuccess},
	}))

	assert.Eventually(t, func() bool {
		execution, err := runtime.Persistence.ExecutionRepository().ExecutionByID(ctx, "exec-1")

		return err == nil && execution.Status == models.StatusSuccess
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWorkerManager_AbortRequestedStopsExecution(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, runtime := setupWorker(t)

	execution, err := runtime.Executor.Start(ctx, workflow.StartRequest{AppID: "app", Definition: deployDefinition()})
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, execution.Status)

	err = manager.handleExecutionAbortRequested(ctx, &events.ExecutionAbortRequested{
		ExecutionID: execution.ID,
		Reason:      "release cancelled",
	})
	require.NoError(t, err)

	stored, err := runtime.Persistence.ExecutionRepository().ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAborted, stored.Status)
}

func TestWorkerManager_AbortOfUnknownExecutionIsAcknowledged(t *testing.T) {
	t.Parallel()

	manager, _ := setupWorker(t)

	err := manager.handleExecutionAbortRequested(context.Background(), &events.ExecutionAbortRequested{ExecutionID: "missing"})

	require.NoError(t, err)
}

func TestWorkerManager_RejectedDefinitionIsAcknowledged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, runtime := setupWorker(t)

	completed := make(chan *events.ExecutionCompleted, 1)
	require.NoError(t, runtime.EventBus.Handle(events.ExecutionCompletedEvent, func(_ context.Context, event any) error {
		completed <- event.(*events.ExecutionCompleted)

		return nil
	}))
	require.NoError(t, manager.Subscribe(ctx))

	definition := deployDefinition()
	definition.States[0].Type = "UNKNOWN"

	err := manager.handleExecutionRequested(ctx, &events.ExecutionRequested{
		ExecutionID: "exec-bad",
		AppID:       "app",
		Definition:  definition,
	})
	require.NoError(t, err)

	select {
	case event := <-completed:
		assert.Equal(t, "exec-bad", event.ExecutionID)
		assert.Equal(t, models.StatusFailed, event.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("execution failure was not published")
	}
}

func TestWorkerManager_InvalidEventIsIgnored(t *testing.T) {
	t.Parallel()

	manager, _ := setupWorker(t)
	ctx := context.Background()

	assert.NoError(t, manager.handleExecutionRequested(ctx, "not an event"))
	assert.NoError(t, manager.handleExecutionAbortRequested(ctx, 42))
	assert.NoError(t, manager.handleNotifyReceived(ctx, nil))
}
