package resourceconstraint_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/dukex/stagehand/pkg/constraint"
	"github.com/dukex/stagehand/pkg/lock"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence/memory"
	"github.com/dukex/stagehand/pkg/states"
	"github.com/dukex/stagehand/pkg/states/resourceconstraint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu        sync.Mutex
	delivered map[string]models.ResponseData
}

func (n *recordingNotifier) Notify(_ context.Context, id string, data models.ResponseData) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.delivered[id] = data

	return nil
}

func setup(t *testing.T) (*states.Dependencies, *recordingNotifier) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	notifier := &recordingNotifier{delivered: make(map[string]models.ResponseData)}

	return &states.Dependencies{
		Logger: logger,
		Constraints: constraint.NewCoordinator(
			memory.NewConstraintRepository(), lock.NewMemoryLocker(lock.DefaultOptions()), notifier, logger,
		),
		Validate: states.NewValidator(),
	}, notifier
}

func spec(config map[string]any) models.StateSpec {
	return models.StateSpec{Name: "hold-prod", Type: resourceconstraint.Type, Config: config}
}

func ec(executionID, instanceID string) *models.ExecutionContext {
	return &models.ExecutionContext{
		AppID:                    "app",
		WorkflowExecutionID:      executionID,
		StateExecutionInstanceID: instanceID,
	}
}

func TestResourceConstraintState_QueuesUntilReleased(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deps, notifier := setup(t)

	state, err := resourceconstraint.New(spec(map[string]any{"constraint_id": "env-prod", "capacity": 1}), deps)
	require.NoError(t, err)
	require.Empty(t, state.ValidateFields())

	first, err := state.Execute(ctx, ec("wf-1", "inst-1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, first.Status)

	second, err := state.Execute(ctx, ec("wf-2", "inst-2"))
	require.NoError(t, err)
	require.True(t, second.Async)
	assert.Equal(t, []string{"inst-2"}, second.CorrelationIDs)

	require.NoError(t, deps.Constraints.Release(ctx, "wf-1"))
	require.Contains(t, notifier.delivered, "inst-2")

	resumed, err := state.HandleAsyncResponse(ctx, ec("wf-2", "inst-2"), notifier.delivered)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, resumed.Status)
}

func TestResourceConstraintState_AbortDeregisters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deps, notifier := setup(t)

	state, err := resourceconstraint.New(spec(map[string]any{"constraint_id": "env-prod", "capacity": 1}), deps)
	require.NoError(t, err)

	_, err = state.Execute(ctx, ec("wf-1", "inst-1"))
	require.NoError(t, err)
	_, err = state.Execute(ctx, ec("wf-2", "inst-2"))
	require.NoError(t, err)

	require.NoError(t, state.HandleAbortEvent(ctx, ec("wf-1", "inst-1")))
	require.NoError(t, state.HandleAbortEvent(ctx, ec("wf-1", "inst-1")))

	assert.Contains(t, notifier.delivered, "inst-2")

	consumers, err := deps.Constraints.Consumers(ctx, "env-prod")
	require.NoError(t, err)
	require.Len(t, consumers, 1)
	assert.Equal(t, models.ConsumerActive, consumers[0].State)
}

func TestResourceConstraintState_ValidateFields(t *testing.T) {
	t.Parallel()

	deps, _ := setup(t)

	tests := []struct {
		name   string
		config map[string]any
		field  string
	}{
		{name: "missing constraint", config: map[string]any{"capacity": 1}, field: "constraint_id"},
		{name: "permits above capacity", config: map[string]any{"constraint_id": "c", "capacity": 1, "permits": 2}, field: "permits"},
		{name: "pipeline scope", config: map[string]any{"constraint_id": "c", "capacity": 1, "holding_scope": "PIPELINE"}, field: "holding_scope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			state, err := resourceconstraint.New(spec(tt.config), deps)
			require.NoError(t, err)

			assert.Contains(t, state.ValidateFields(), tt.field)
		})
	}
}
