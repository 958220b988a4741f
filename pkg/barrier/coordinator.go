// Package barrier implements the rendezvous primitive aligning parallel branches.
//
// A barrier moves from STANDING to DOWN when every expected participant arrived, or from
// STANDING to ENDURE when a participant failed first. Both are terminal. Arrivals increment
// the shared record with compare-and-swap so sibling branches on different workers can race.
package barrier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/notify"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/google/uuid"
)

const DefaultMaxRetries = 10

var ErrInvalidExpected = errors.New("barrier expects at least one participant")

// Arrival describes a branch reaching the barrier.
type Arrival struct {
	InstanceID string
	// Healthy is false when the branch failed or aborted before reaching the barrier.
	Healthy bool
	// Wait parks the participant until the barrier resolves.
	Wait bool
}

type Coordinator struct {
	repository persistence.BarrierRepository
	notifier   notify.Notifier
	logger     *slog.Logger
	maxRetries uint64
}

func NewCoordinator(repository persistence.BarrierRepository, notifier notify.Notifier, logger *slog.Logger, maxRetries uint64) *Coordinator {
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}

	return &Coordinator{
		repository: repository,
		notifier:   notifier,
		logger:     logger.With("module", "barrier_coordinator"),
		maxRetries: maxRetries,
	}
}

// CorrelationID is the id a waiting participant is parked on.
func CorrelationID(barrierID, instanceID string) string {
	return barrierID + ":" + instanceID
}

// FindOrCreate returns the barrier for key; the first arrival creates it.
func (c *Coordinator) FindOrCreate(ctx context.Context, key models.BarrierKey, expected int) (*models.BarrierInstance, error) {
	if expected < 1 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidExpected, key)
	}

	now := time.Now().UTC()

	barrier, err := c.repository.FindOrCreateBarrier(ctx, &models.BarrierInstance{
		ID:        uuid.New().String(),
		Key:       key,
		Expected:  expected,
		State:     models.BarrierStanding,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find or create barrier %s: %w", key, err)
	}

	return barrier, nil
}

func (c *Coordinator) Get(ctx context.Context, barrierID string) (*models.BarrierInstance, error) {
	return c.repository.BarrierByID(ctx, barrierID)
}

// Update records an arrival and resolves the other waiting participants when the barrier
// goes down or endures. A participant that already arrived is not counted twice.
func (c *Coordinator) Update(ctx context.Context, barrierID string, arrival Arrival) (*models.BarrierInstance, error) {
	logger := c.logger.With("barrier_id", barrierID, "instance_id", arrival.InstanceID)

	var (
		updated  *models.BarrierInstance
		resolved []models.BarrierParticipant
	)

	operation := func() error {
		resolved = nil

		current, err := c.repository.BarrierByID(ctx, barrierID)
		if err != nil {
			return backoff.Permanent(err)
		}

		if current.State.IsTerminal() || current.HasParticipant(arrival.InstanceID) {
			updated = current

			return nil
		}

		next := current.Clone()
		next.Arrived++

		participant := models.BarrierParticipant{InstanceID: arrival.InstanceID}
		if arrival.Wait {
			participant.CorrelationID = CorrelationID(barrierID, arrival.InstanceID)
			participant.Waiting = true
		}

		next.Participants = append(next.Participants, participant)

		switch {
		case !arrival.Healthy:
			next.State = models.BarrierEndure
		case next.Arrived >= next.Expected:
			next.State = models.BarrierDown
		}

		if next.State.IsTerminal() {
			for i := range next.Participants {
				p := &next.Participants[i]
				if p.Waiting && p.InstanceID != arrival.InstanceID {
					resolved = append(resolved, *p)
				}

				p.Waiting = false
			}
		}

		err = c.repository.UpdateBarrier(ctx, next)
		if err != nil {
			if persistence.IsConcurrentUpdate(err) {
				logger.DebugContext(ctx, "Barrier update lost the race, retrying")

				return err
			}

			return backoff.Permanent(err)
		}

		updated = next

		return nil
	}

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = 5 * time.Millisecond
	exponential.MaxInterval = 250 * time.Millisecond

	policy := backoff.WithMaxRetries(exponential, c.maxRetries)

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to update barrier %s: %w", barrierID, err)
	}

	logger.InfoContext(ctx, "Barrier updated",
		"state", updated.State,
		"arrived", updated.Arrived,
		"expected", updated.Expected,
		"healthy", arrival.Healthy,
	)

	err = c.resolve(ctx, updated.State, resolved)
	if err != nil {
		return updated, err
	}

	return updated, nil
}

func (c *Coordinator) resolve(ctx context.Context, state models.BarrierState, participants []models.BarrierParticipant) error {
	data := models.ResponseData{Status: models.StatusSuccess}
	if state == models.BarrierEndure {
		data = models.ResponseData{Status: models.StatusFailed, ErrorMessage: models.EndureMessage}
	}

	var errs []error

	for _, participant := range participants {
		err := c.notifier.Notify(ctx, participant.CorrelationID, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to resolve participant %s: %w", participant.InstanceID, err))
		}
	}

	return errors.Join(errs...)
}
