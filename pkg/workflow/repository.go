package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/google/uuid"
	c "github.com/patrickmn/go-cache"
)

// DefaultCacheTTL bounds how long a finished execution's definition stays in memory.
const DefaultCacheTTL = 30 * time.Minute

// Repository reads and writes workflow executions. Definitions never change once an
// execution starts, so executions are cached by id to spare a lookup on every resume.
type Repository struct {
	persistence persistence.Persistence
	cache       *c.Cache
}

func NewRepository(persistence persistence.Persistence, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &Repository{
		persistence: persistence,
		cache:       c.New(ttl, 10*time.Minute),
	}
}

func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := r.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create stores a new RUNNING execution.
func (r *Repository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}

	execution.Status = models.StatusRunning
	execution.CreatedAt = time.Now().UTC()

	err := r.persistence.ExecutionRepository().SaveExecution(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	r.cache.SetDefault(execution.ID, execution)

	return nil
}

// Definition returns the execution as started. Its status may be stale; use FetchByID
// when the current status matters.
func (r *Repository) Definition(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	cached, found := r.cache.Get(id)
	if found {
		return cached.(*models.WorkflowExecution), nil
	}

	execution, err := r.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cache.SetDefault(id, execution)

	return execution, nil
}

func (r *Repository) FetchByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := r.persistence.ExecutionRepository().ExecutionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return execution, nil
}

// Finish moves a RUNNING execution to a terminal status. It reports false when the execution
// was already finished by someone else.
func (r *Repository) Finish(ctx context.Context, id string, status models.ExecutionStatus, message string) (bool, error) {
	err := r.persistence.ExecutionRepository().UpdateExecutionStatus(
		ctx, id, []models.ExecutionStatus{models.StatusRunning}, status, message,
	)
	if err != nil {
		if persistence.IsConcurrentUpdate(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to finish execution %s: %w", id, err)
	}

	r.cache.Delete(id)

	return true, nil
}

func (r *Repository) Instances(ctx context.Context, executionID string) ([]*models.StateExecutionInstance, error) {
	return r.persistence.InstanceRepository().InstancesByExecution(ctx, executionID)
}

func (r *Repository) Instance(ctx context.Context, id string) (*models.StateExecutionInstance, error) {
	return r.persistence.InstanceRepository().InstanceByID(ctx, id)
}

func (r *Repository) SaveInstance(ctx context.Context, instance *models.StateExecutionInstance) error {
	return r.persistence.InstanceRepository().SaveInstance(ctx, instance)
}

// Transition stores instance when its stored status is one of from. It reports false when
// another path moved the instance first.
func (r *Repository) Transition(
	ctx context.Context, instance *models.StateExecutionInstance, from ...models.ExecutionStatus,
) (bool, error) {
	err := r.persistence.InstanceRepository().UpdateInstance(ctx, instance, from...)
	if err != nil {
		if persistence.IsConcurrentUpdate(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to update instance %s: %w", instance.ID, err)
	}

	return true, nil
}
