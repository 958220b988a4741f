package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/stagehand/pkg/cmd"
	"github.com/dukex/stagehand/pkg/eventbus"
	"github.com/dukex/stagehand/pkg/events"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/states"
	"github.com/dukex/stagehand/pkg/workflow"
)

type WorkerManager struct {
	id      string
	logger  *slog.Logger
	runtime *cmd.Runtime
}

func NewWorkerManager(id string, runtime *cmd.Runtime, logger *slog.Logger) *WorkerManager {
	return &WorkerManager{
		id:      id,
		logger:  logger.With("module", "stagehand-worker", "worker_id", id),
		runtime: runtime,
	}
}

// Subscribe registers the command handlers, starts consuming the bus and schedules the
// timeout supervisor.
func (w *WorkerManager) Subscribe(ctx context.Context) error {
	err := eventbus.HandleAll(w.runtime.EventBus, map[events.EventType]eventbus.EventHandler{
		events.ExecutionRequestedEvent:      w.handleExecutionRequested,
		events.ExecutionAbortRequestedEvent: w.handleExecutionAbortRequested,
		events.NotifyReceivedEvent:          w.handleNotifyReceived,
	})
	if err != nil {
		return err
	}

	err = w.runtime.EventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	return w.runtime.Supervisor.Start(ctx)
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager", "states", w.runtime.Registry.Types())

	err := w.Subscribe(ctx)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *WorkerManager) handleExecutionRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.ExecutionRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionRequested")

		return nil
	}

	logger := w.logger.With("execution_id", requested.ExecutionID, "event_id", requested.ID)
	logger.InfoContext(ctx, "Processing execution requested event")

	_, err := w.runtime.Executor.Start(ctx, workflow.StartRequest{
		ExecutionID:         requested.ExecutionID,
		AppID:               requested.AppID,
		PipelineExecutionID: requested.PipelineExecutionID,
		Definition:          requested.Definition,
		Elements:            requested.Elements,
	})
	if err == nil {
		return nil
	}

	if !rejected(err) {
		logger.ErrorContext(ctx, "Failed to start execution", "error", err)

		return err
	}

	logger.WarnContext(ctx, "Rejected workflow definition", "error", err)

	failed := events.ExecutionCompleted{
		BaseEvent:    events.NewBaseEvent(events.ExecutionCompletedEvent, w.id),
		ExecutionID:  requested.ExecutionID,
		Status:       models.StatusFailed,
		ErrorMessage: err.Error(),
	}

	publishErr := w.runtime.EventBus.Publish(ctx, requested.ExecutionID, failed)
	if publishErr != nil {
		logger.ErrorContext(ctx, "Failed to publish execution failed event", "error", publishErr)
	}

	return nil
}

func (w *WorkerManager) handleExecutionAbortRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.ExecutionAbortRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionAbortRequested")

		return nil
	}

	err := w.runtime.Executor.Abort(ctx, requested.ExecutionID, requested.Reason)
	if persistence.IsExecutionNotFound(err) {
		w.logger.WarnContext(ctx, "Ignoring abort of an unknown execution", "execution_id", requested.ExecutionID)

		return nil
	}

	return err
}

func (w *WorkerManager) handleNotifyReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.NotifyReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for NotifyReceived")

		return nil
	}

	w.logger.DebugContext(ctx, "Processing notify", "correlation_id", received.CorrelationID, "status", received.Data.Status)

	return w.runtime.Engine.Notify(ctx, received.CorrelationID, received.Data)
}

// rejected reports errors that redelivering the same request cannot fix.
func rejected(err error) bool {
	return models.IsValidationError(err) ||
		errors.Is(err, models.ErrEmptyDefinition) ||
		errors.Is(err, models.ErrUnknownState) ||
		errors.Is(err, models.ErrDuplicateState) ||
		errors.Is(err, states.ErrUnknownStateType)
}
