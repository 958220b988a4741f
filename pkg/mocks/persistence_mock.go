package mocks

import (
	"context"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/persistence/memory"
	"github.com/stretchr/testify/mock"
)

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) UpdateExecutionStatus(
	ctx context.Context, id string, from []models.ExecutionStatus, to models.ExecutionStatus, message string,
) error {
	args := m.Called(ctx, id, from, to, message)

	return args.Error(0)
}

// MockPersistence mocks executions and health; the remaining repositories are in memory.
type MockPersistence struct {
	mock.Mock

	executions *MockExecutionRepository
	store      *memory.Persistence
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		executions: &MockExecutionRepository{},
		store:      memory.NewPersistence(),
	}
}

func (m *MockPersistence) GetMockExecutionRepository() *MockExecutionRepository {
	return m.executions
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.executions
}

func (m *MockPersistence) InstanceRepository() persistence.InstanceRepository {
	return m.store.InstanceRepository()
}

func (m *MockPersistence) BarrierRepository() persistence.BarrierRepository {
	return m.store.BarrierRepository()
}

func (m *MockPersistence) ConstraintRepository() persistence.ConstraintRepository {
	return m.store.ConstraintRepository()
}

func (m *MockPersistence) CorrelationRepository() persistence.CorrelationRepository {
	return m.store.CorrelationRepository()
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
