package cmd_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/stagehand/pkg/cmd"
	"github.com/dukex/stagehand/pkg/config"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/states"
	"github.com/dukex/stagehand/pkg/states/barrier"
	"github.com/dukex/stagehand/pkg/states/delegate"
	"github.com/dukex/stagehand/pkg/states/fork"
	"github.com/dukex/stagehand/pkg/states/resourceconstraint"
	"github.com/dukex/stagehand/pkg/states/verification"
	"github.com/dukex/stagehand/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workflowRequest() workflow.StartRequest {
	return workflow.StartRequest{
		AppID: "app",
		Definition: models.WorkflowDefinition{
			Name:  "deploy",
			Start: "deploy",
			States: []models.StateSpec{{
				Name:   "deploy",
				Type:   delegate.Type,
				Config: map[string]any{"task_type": "deploy"},
			}},
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewPersistence_Providers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	store, err := cmd.NewPersistence(ctx, testLogger(), config.Stores{DatabaseURL: config.MemoryDatabaseURL}, nil)
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(ctx))

	_, err = cmd.NewPersistence(ctx, testLogger(), config.Stores{DatabaseURL: "mongodb://localhost"}, nil)
	require.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
}

func TestNewEventBus_Providers(t *testing.T) {
	t.Parallel()

	bus, err := cmd.NewEventBus(config.Bus{Provider: config.ProviderGoChannel}, testLogger())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus(config.Bus{Provider: "nats"}, testLogger())
	require.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
}

func TestNewRegistry_RegistersNativeStates(t *testing.T) {
	t.Parallel()

	registry, err := cmd.NewRegistry(testLogger(), &states.Dependencies{Logger: testLogger()}, t.TempDir())
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{barrier.Type, delegate.Type, fork.Type, resourceconstraint.Type, verification.Type},
		registry.Types(),
	)
}

func TestNewRuntime_InMemory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	runtime, err := cmd.NewRuntime(ctx, testLogger(), config.Worker{
		Stores:          config.Stores{DatabaseURL: config.MemoryDatabaseURL},
		Bus:             config.Bus{Provider: config.ProviderGoChannel},
		ID:              "worker-test",
		SweepSchedule:   "@every 1h",
		SweepBatchSize:  10,
		ResponseMaxAge:  time.Hour,
		SweepWorkers:    2,
		BarrierRetries:  10,
		CacheTTL:        time.Minute,
		LockTTL:         time.Second,
		LockWaitTimeout: time.Second,
	}, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = runtime.Close(ctx) })

	execution, err := runtime.Executor.Start(ctx, workflowRequest())
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, execution.Status)

	_, err = cmd.NewRuntime(ctx, testLogger(), config.Worker{}, nil)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}
