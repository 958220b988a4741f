// Package notify implements the correlation engine that suspends and resumes state executions.
//
// A wait group joins N correlation ids to one callback. Deliveries are buffered in the
// correlation store whether or not a group is waiting yet, so a delegate response racing the
// registration is never lost. A group fires once: the store claims it atomically after the last
// id arrives, consuming every response it joined. A handler error puts the group and its
// responses back, so redelivering any of its ids fires it again.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/google/uuid"
)

var (
	ErrNoCorrelationIDs = errors.New("wait requires at least one correlation id")
	ErrUnknownCallback  = errors.New("no handler registered for callback kind")
)

// HandlerFunc receives the full result map of a wait group once every id arrived.
type HandlerFunc func(ctx context.Context, callback models.NotifyCallback, results map[string]models.ResponseData) error

// Notifier delivers a result to whoever waits on id.
type Notifier interface {
	Notify(ctx context.Context, id string, data models.ResponseData) error
}

type Engine struct {
	repository persistence.CorrelationRepository
	logger     *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

var _ Notifier = (*Engine)(nil)

func NewEngine(repository persistence.CorrelationRepository, logger *slog.Logger) *Engine {
	return &Engine{
		repository: repository,
		logger:     logger.With("module", "notify_engine"),
		handlers:   make(map[string]HandlerFunc),
	}
}

// Handle registers the handler invoked for wait groups of the given callback kind.
func (e *Engine) Handle(kind string, handler HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.handlers[kind] = handler
}

// WaitForAll registers a join group over ids and returns its id. Responses already buffered
// count toward the group, so it may fire before WaitForAll returns.
func (e *Engine) WaitForAll(ctx context.Context, callback models.NotifyCallback, ids ...string) (string, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return "", ErrNoCorrelationIDs
	}

	wait := &models.WaitGroup{
		ID:             uuid.New().String(),
		CorrelationIDs: ids,
		Callback:       callback,
		CreatedAt:      time.Now().UTC(),
	}

	err := e.repository.SaveWait(ctx, wait)
	if err != nil {
		return "", fmt.Errorf("failed to save wait group: %w", err)
	}

	e.logger.DebugContext(ctx, "Registered wait group",
		"wait_id", wait.ID,
		"callback_kind", callback.Kind,
		"instance_id", callback.InstanceID,
		"correlation_ids", ids,
	)

	err = e.tryFire(ctx, wait)
	if err != nil {
		return wait.ID, err
	}

	return wait.ID, nil
}

// Notify delivers data for id. A second delivery for the same id keeps the first payload but
// still fires the groups waiting on id, which retries a group whose handler failed.
func (e *Engine) Notify(ctx context.Context, id string, data models.ResponseData) error {
	logger := e.logger.With("correlation_id", id)

	err := e.repository.SaveResponse(ctx, id, data)
	if err != nil {
		if persistence.IsAlreadyNotified(err) {
			logger.WarnContext(ctx, "Duplicate notification keeps the first payload", "status", data.Status)
		} else {
			return fmt.Errorf("failed to buffer response for %s: %w", id, err)
		}
	}

	waits, err := e.repository.WaitsFor(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load waits for %s: %w", id, err)
	}

	if len(waits) == 0 {
		logger.DebugContext(ctx, "Buffered notification without waiter")

		return nil
	}

	var errs []error

	for _, wait := range waits {
		err := e.tryFire(ctx, wait)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Cancel drops a wait group; responses delivered afterwards stay buffered and fire nothing.
func (e *Engine) Cancel(ctx context.Context, waitID string) error {
	if waitID == "" {
		return nil
	}

	err := e.repository.DeleteWait(ctx, waitID)
	if err != nil {
		return fmt.Errorf("failed to cancel wait %s: %w", waitID, err)
	}

	return nil
}

// CleanupExpired purges buffered responses older than maxAge.
func (e *Engine) CleanupExpired(ctx context.Context, maxAge time.Duration) error {
	return e.repository.CleanupExpiredResponses(ctx, maxAge)
}

func (e *Engine) tryFire(ctx context.Context, wait *models.WaitGroup) error {
	pending, err := e.repository.PendingResponses(ctx, wait.CorrelationIDs)
	if err != nil {
		return fmt.Errorf("failed to load responses for wait %s: %w", wait.ID, err)
	}

	if len(pending) < len(wait.CorrelationIDs) {
		return nil
	}

	claimed, results, err := e.repository.ClaimWait(ctx, wait.ID)
	if err != nil {
		return fmt.Errorf("failed to claim wait %s: %w", wait.ID, err)
	}

	if !claimed {
		return nil
	}

	e.mu.RLock()
	handler, ok := e.handlers[wait.Callback.Kind]
	e.mu.RUnlock()

	if !ok {
		e.logger.ErrorContext(ctx, "Wait group fired without handler", "wait_id", wait.ID, "callback_kind", wait.Callback.Kind)

		return e.restore(ctx, wait, fmt.Errorf("%w: %s", ErrUnknownCallback, wait.Callback.Kind))
	}

	e.logger.DebugContext(ctx, "Wait group complete", "wait_id", wait.ID, "instance_id", wait.Callback.InstanceID)

	err = handler(ctx, wait.Callback, results)
	if err != nil {
		return e.restore(ctx, wait, err)
	}

	return nil
}

// restore puts a claimed wait back after cause kept it from being handled and returns cause.
func (e *Engine) restore(ctx context.Context, wait *models.WaitGroup, cause error) error {
	err := e.repository.RestoreWait(ctx, wait)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to restore wait group, its results are lost",
			"wait_id", wait.ID,
			"instance_id", wait.Callback.InstanceID,
			"error", err,
		)

		return errors.Join(cause, fmt.Errorf("failed to restore wait %s: %w", wait.ID, err))
	}

	e.logger.WarnContext(ctx, "Wait group handler failed, restored for redelivery",
		"wait_id", wait.ID,
		"instance_id", wait.Callback.InstanceID,
		"error", cause,
	)

	return cause
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}

		seen[id] = true
		out = append(out, id)
	}

	return out
}
