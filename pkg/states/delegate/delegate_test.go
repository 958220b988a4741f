package delegate_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/stagehand/pkg/mocks"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/states"
	"github.com/dukex/stagehand/pkg/states/delegate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDelegateState_DispatchAndResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tasks := &mocks.MockTaskQueue{}
	deps := &states.Dependencies{
		Logger:   slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
		Tasks:    tasks,
		Validate: states.NewValidator(),
	}

	state, err := delegate.New(models.StateSpec{
		Name: "rollout",
		Type: delegate.Type,
		Config: map[string]any{
			"task_type":  "k8s-rollout",
			"parameters": map[string]any{"host": "{{ .elements.INSTANCE.name }}"},
		},
	}, deps)
	require.NoError(t, err)
	require.Empty(t, state.ValidateFields())

	var queued *models.DelegateTask

	tasks.On("Enqueue", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		queued = args.Get(1).(*models.DelegateTask)
	}).Return(nil).Once()

	ec := &models.ExecutionContext{
		WorkflowExecutionID:      "exec-1",
		StateExecutionInstanceID: "inst-1",
		Elements:                 []models.ContextElement{{Type: models.ElementInstance, UUID: "h1", Name: "web-1"}},
		Instance:                 &models.StateExecutionInstance{ID: "inst-1"},
	}

	response, err := state.Execute(ctx, ec)
	require.NoError(t, err)
	require.True(t, response.Async)
	require.NotNil(t, queued)
	assert.Equal(t, "web-1", queued.Parameters["host"])
	assert.Equal(t, []string{queued.CorrelationID}, response.CorrelationIDs)

	ec.Instance.StateExecutionData = response.StateExecutionData

	resumed, err := state.HandleAsyncResponse(ctx, ec, map[string]models.ResponseData{
		queued.CorrelationID: {Status: models.StatusSuccess, Data: map[string]any{"revision": "42"}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, resumed.Status)
	require.Len(t, resumed.NotifyElements, 1)
	assert.Equal(t, "42", resumed.NotifyElements[0].Data["revision"])
}

func TestDelegateState_RequiresTaskType(t *testing.T) {
	t.Parallel()

	deps := &states.Dependencies{Validate: states.NewValidator()}

	state, err := delegate.New(models.StateSpec{Name: "rollout", Type: delegate.Type}, deps)
	require.NoError(t, err)
	assert.Contains(t, state.ValidateFields(), "task_type")
}
