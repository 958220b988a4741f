// Package persistence provides the storage abstraction shared by the orchestrator and its
// coordination primitives. Every mutation of shared state goes through a compare-and-swap or
// an equivalent atomic statement so several workers can operate on the same records.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/stagehand/pkg/models"
)

type Persistence interface {
	ExecutionRepository() ExecutionRepository
	InstanceRepository() InstanceRepository
	BarrierRepository() BarrierRepository
	ConstraintRepository() ConstraintRepository
	CorrelationRepository() CorrelationRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type ExecutionRepository interface {
	SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	// UpdateExecutionStatus moves the execution to status when its current status is one of from.
	// It returns ErrConcurrentUpdate when the current status does not match.
	UpdateExecutionStatus(
		ctx context.Context, id string, from []models.ExecutionStatus, to models.ExecutionStatus, message string,
	) error
}

type InstanceRepository interface {
	SaveInstance(ctx context.Context, instance *models.StateExecutionInstance) error
	InstanceByID(ctx context.Context, id string) (*models.StateExecutionInstance, error)
	InstancesByExecution(ctx context.Context, executionID string) ([]*models.StateExecutionInstance, error)
	// UpdateInstance stores instance when the stored version equals instance.Version and the
	// stored status is one of from (any status when from is empty), then bumps
	// instance.Version. ErrConcurrentUpdate otherwise.
	UpdateInstance(ctx context.Context, instance *models.StateExecutionInstance, from ...models.ExecutionStatus) error
	// ExpiredInstances lists WAITING instances whose ExpiresAt is before now.
	ExpiredInstances(ctx context.Context, now time.Time, limit int) ([]*models.StateExecutionInstance, error)
}

type BarrierRepository interface {
	// FindOrCreateBarrier returns the barrier stored under key, creating it from barrier when absent.
	FindOrCreateBarrier(ctx context.Context, barrier *models.BarrierInstance) (*models.BarrierInstance, error)
	BarrierByID(ctx context.Context, id string) (*models.BarrierInstance, error)
	// UpdateBarrier stores barrier when the stored version equals barrier.Version and bumps
	// barrier.Version. ErrConcurrentUpdate otherwise.
	UpdateBarrier(ctx context.Context, barrier *models.BarrierInstance) error
}

type ConstraintRepository interface {
	// EnsureConstraint creates the constraint when absent and returns the stored record.
	EnsureConstraint(ctx context.Context, id string, capacity int) (*models.ResourceConstraint, error)
	ConstraintByID(ctx context.Context, id string) (*models.ResourceConstraint, error)
	// NextOrder increments and returns the constraint's order counter.
	NextOrder(ctx context.Context, constraintID string) (int64, error)
	Consumers(ctx context.Context, constraintID string) ([]*models.Consumer, error)
	ConsumersByReleaseEntity(ctx context.Context, releaseEntityID string) ([]*models.Consumer, error)
	SaveConsumer(ctx context.Context, consumer *models.Consumer) error
	DeleteConsumer(ctx context.Context, constraintID, consumerID string) error
}

// CorrelationRepository stores wait groups and buffered notify responses.
type CorrelationRepository interface {
	SaveWait(ctx context.Context, wait *models.WaitGroup) error
	WaitsFor(ctx context.Context, correlationID string) ([]*models.WaitGroup, error)
	DeleteWait(ctx context.Context, waitID string) error
	// SaveResponse buffers data for id. ErrAlreadyNotified when id was notified before.
	SaveResponse(ctx context.Context, correlationID string, data models.ResponseData) error
	// PendingResponses returns the unconsumed responses among ids.
	PendingResponses(ctx context.Context, ids []string) (map[string]models.ResponseData, error)
	// ClaimWait atomically deletes the wait and consumes its responses. claimed is false when
	// another caller already claimed it or a response is still missing.
	ClaimWait(ctx context.Context, waitID string) (claimed bool, results map[string]models.ResponseData, err error)
	// RestoreWait undoes a ClaimWait: it saves the wait again and marks its responses unconsumed.
	RestoreWait(ctx context.Context, wait *models.WaitGroup) error
	// CleanupExpiredResponses removes responses older than maxAge.
	CleanupExpiredResponses(ctx context.Context, maxAge time.Duration) error
}
