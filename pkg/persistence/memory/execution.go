package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
)

type ExecutionRepository struct {
	mu         sync.RWMutex
	executions map[string]*models.WorkflowExecution
}

func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{executions: make(map[string]*models.WorkflowExecution)}
}

func (r *ExecutionRepository) SaveExecution(_ context.Context, execution *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executions[execution.ID] = deepCopy(execution)

	return nil
}

func (r *ExecutionRepository) ExecutionByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, persistence.NewRecordError("Get", "execution", id, persistence.ErrExecutionNotFound)
	}

	return deepCopy(execution), nil
}

func (r *ExecutionRepository) UpdateExecutionStatus(
	_ context.Context, id string, from []models.ExecutionStatus, to models.ExecutionStatus, message string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return persistence.NewRecordError("UpdateStatus", "execution", id, persistence.ErrExecutionNotFound)
	}

	if len(from) > 0 && !slices.Contains(from, execution.Status) {
		return persistence.NewRecordError("UpdateStatus", "execution", id, persistence.ErrConcurrentUpdate)
	}

	execution.Status = to
	execution.ErrorMessage = message
	execution.Version++

	if to.IsTerminal() {
		now := time.Now().UTC()
		execution.EndedAt = &now
	}

	return nil
}
