// Package constraint implements the distributed ordered semaphore guarding shared resources.
//
// Consumers ask for permits on a constraint. A consumer becomes ACTIVE only when its permits
// fit in the remaining capacity and nobody registered before it is still BLOCKED, so a small
// request never overtakes a large one waiting at the head of the queue. Every mutation runs
// under a lock keyed by the constraint id.
package constraint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stagehand/pkg/lock"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/notify"
	"github.com/dukex/stagehand/pkg/persistence"
)

var (
	ErrInvalidCapacity         = errors.New("capacity must be positive")
	ErrInvalidPermits          = errors.New("permits must be positive")
	ErrPermitsExceedCapacity   = errors.New("permits exceed constraint capacity")
	ErrCapacityMismatch        = errors.New("constraint already exists with a different capacity")
	ErrUnsupportedHoldingScope = errors.New("unsupported holding scope")
)

type Coordinator struct {
	repository persistence.ConstraintRepository
	locker     lock.Locker
	notifier   notify.Notifier
	logger     *slog.Logger
}

func NewCoordinator(
	repository persistence.ConstraintRepository,
	locker lock.Locker,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		repository: repository,
		locker:     locker,
		notifier:   notifier,
		logger:     logger.With("module", "constraint_coordinator"),
	}
}

func lockName(constraintID string) string {
	return "constraint:" + constraintID
}

// EnsureConstraint creates the constraint on first use. A later call with another capacity
// fails instead of silently resizing the semaphore.
func (c *Coordinator) EnsureConstraint(ctx context.Context, id string, capacity int) (*models.ResourceConstraint, error) {
	if capacity <= 0 {
		return nil, &models.ConstraintError{Op: "Ensure", ConstraintID: id, Err: ErrInvalidCapacity}
	}

	constraint, err := c.repository.EnsureConstraint(ctx, id, capacity)
	if err != nil {
		return nil, &models.ConstraintError{Op: "Ensure", ConstraintID: id, Err: err}
	}

	if constraint.Capacity != capacity {
		return nil, &models.ConstraintError{
			Op:           "Ensure",
			ConstraintID: id,
			Err:          fmt.Errorf("%w: stored %d, requested %d", ErrCapacityMismatch, constraint.Capacity, capacity),
		}
	}

	return constraint, nil
}

func (c *Coordinator) Constraint(ctx context.Context, id string) (*models.ResourceConstraint, error) {
	return c.repository.ConstraintByID(ctx, id)
}

func (c *Coordinator) Consumers(ctx context.Context, constraintID string) ([]*models.Consumer, error) {
	return c.repository.Consumers(ctx, constraintID)
}

// Register adds a consumer and returns the state it was admitted with. Registering the same
// consumer id twice returns its current state.
func (c *Coordinator) Register(ctx context.Context, request models.ConsumerRequest) (models.ConsumerState, error) {
	logger := c.logger.With("constraint_id", request.ConstraintID, "consumer_id", request.ConsumerID)

	if request.Permits <= 0 {
		return "", &models.ConstraintError{Op: "Register", ConstraintID: request.ConstraintID, Err: ErrInvalidPermits}
	}

	if request.ReleaseEntityType != models.HoldingScopeWorkflow {
		return "", &models.ConstraintError{
			Op:           "Register",
			ConstraintID: request.ConstraintID,
			Err:          fmt.Errorf("%w: %s", ErrUnsupportedHoldingScope, request.ReleaseEntityType),
		}
	}

	var state models.ConsumerState

	err := lock.WithLock(ctx, c.locker, lockName(request.ConstraintID), func(ctx context.Context) error {
		constraint, err := c.repository.ConstraintByID(ctx, request.ConstraintID)
		if err != nil {
			return err
		}

		if request.Permits > constraint.Capacity {
			return fmt.Errorf("%w: %d > %d", ErrPermitsExceedCapacity, request.Permits, constraint.Capacity)
		}

		consumers, err := c.repository.Consumers(ctx, request.ConstraintID)
		if err != nil {
			return err
		}

		used, blocked := 0, false

		for _, consumer := range consumers {
			if consumer.ConsumerID == request.ConsumerID {
				state = consumer.State

				return nil
			}

			switch consumer.State {
			case models.ConsumerActive:
				used += consumer.Permits
			case models.ConsumerBlocked:
				blocked = true
			}
		}

		order, err := c.repository.NextOrder(ctx, request.ConstraintID)
		if err != nil {
			return err
		}

		state = models.ConsumerBlocked
		if !blocked && used+request.Permits <= constraint.Capacity {
			state = models.ConsumerActive
		}

		return c.repository.SaveConsumer(ctx, &models.Consumer{
			ConstraintID:      request.ConstraintID,
			ConsumerID:        request.ConsumerID,
			Permits:           request.Permits,
			Order:             order,
			State:             state,
			ReleaseEntityID:   request.ReleaseEntityID,
			ReleaseEntityType: request.ReleaseEntityType,
			CreatedAt:         time.Now().UTC(),
		})
	})
	if err != nil {
		return "", &models.ConstraintError{Op: "Register", ConstraintID: request.ConstraintID, Err: err}
	}

	logger.InfoContext(ctx, "Consumer registered", "state", state, "permits", request.Permits)

	return state, nil
}

// Release drops every consumer held by the release entity and admits the blocked consumers
// that now fit.
func (c *Coordinator) Release(ctx context.Context, releaseEntityID string) error {
	consumers, err := c.repository.ConsumersByReleaseEntity(ctx, releaseEntityID)
	if err != nil {
		return fmt.Errorf("failed to list consumers of %s: %w", releaseEntityID, err)
	}

	byConstraint := make(map[string][]string)
	order := make([]string, 0)

	for _, consumer := range consumers {
		if _, ok := byConstraint[consumer.ConstraintID]; !ok {
			order = append(order, consumer.ConstraintID)
		}

		byConstraint[consumer.ConstraintID] = append(byConstraint[consumer.ConstraintID], consumer.ConsumerID)
	}

	var errs []error

	for _, constraintID := range order {
		err := c.remove(ctx, constraintID, byConstraint[constraintID]...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	c.logger.InfoContext(ctx, "Released consumers", "release_entity_id", releaseEntityID, "count", len(consumers))

	return errors.Join(errs...)
}

// Deregister removes one consumer. Removing an unknown consumer is a no-op.
func (c *Coordinator) Deregister(ctx context.Context, constraintID, consumerID string) error {
	return c.remove(ctx, constraintID, consumerID)
}

func (c *Coordinator) remove(ctx context.Context, constraintID string, consumerIDs ...string) error {
	var activated []*models.Consumer

	err := lock.WithLock(ctx, c.locker, lockName(constraintID), func(ctx context.Context) error {
		for _, consumerID := range consumerIDs {
			err := c.repository.DeleteConsumer(ctx, constraintID, consumerID)
			if err != nil {
				return err
			}
		}

		var err error

		activated, err = c.admit(ctx, constraintID)

		return err
	})
	if err != nil {
		return &models.ConstraintError{Op: "Release", ConstraintID: constraintID, Err: err}
	}

	var errs []error

	for _, consumer := range activated {
		c.logger.InfoContext(ctx, "Consumer activated", "constraint_id", constraintID, "consumer_id", consumer.ConsumerID)

		err := c.notifier.Notify(ctx, consumer.ConsumerID, models.ResponseData{Status: models.StatusSuccess})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to notify consumer %s: %w", consumer.ConsumerID, err))
		}
	}

	return errors.Join(errs...)
}

// admit walks BLOCKED consumers in order, activating each that fits and stopping at the
// first that does not. Callers hold the constraint lock.
func (c *Coordinator) admit(ctx context.Context, constraintID string) ([]*models.Consumer, error) {
	constraint, err := c.repository.ConstraintByID(ctx, constraintID)
	if err != nil {
		if persistence.IsConstraintNotFound(err) {
			return nil, nil
		}

		return nil, err
	}

	consumers, err := c.repository.Consumers(ctx, constraintID)
	if err != nil {
		return nil, err
	}

	used := 0

	for _, consumer := range consumers {
		if consumer.State == models.ConsumerActive {
			used += consumer.Permits
		}
	}

	var activated []*models.Consumer

	for _, consumer := range consumers {
		if consumer.State != models.ConsumerBlocked {
			continue
		}

		if used+consumer.Permits > constraint.Capacity {
			break
		}

		consumer.State = models.ConsumerActive
		used += consumer.Permits

		err := c.repository.SaveConsumer(ctx, consumer)
		if err != nil {
			return activated, err
		}

		activated = append(activated, consumer)
	}

	return activated, nil
}
