package postgresql_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/persistence/postgresql"
	"github.com/dukex/stagehand/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens the store on an isolated database of the shared container.
func setupTestDB(t *testing.T) *postgresql.Persistence {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, testutil.PostgresDatabase(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = p.Close(ctx)
	})

	return p
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := setupTestDB(t)

	require.NoError(t, p.HealthCheck(context.Background()))
}

func TestExecutionRepository_UpdateExecutionStatus(t *testing.T) {
	p := setupTestDB(t)
	ctx := context.Background()
	repo := p.ExecutionRepository()

	execution := &models.WorkflowExecution{
		ID:     uuid.New().String(),
		AppID:  "app",
		Status: models.StatusRunning,
		Definition: models.WorkflowDefinition{
			Name:   "deploy",
			Start:  "build",
			States: []models.StateSpec{{Name: "build", Type: "DELEGATE"}},
		},
		Elements:  []models.ContextElement{{Type: models.ElementParam, UUID: "e1", Name: "env"}},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.SaveExecution(ctx, execution))

	stored, err := repo.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploy", stored.Definition.Name)
	assert.Equal(t, "env", stored.Elements[0].Name)
	assert.Nil(t, stored.EndedAt)

	err = repo.UpdateExecutionStatus(ctx, execution.ID,
		[]models.ExecutionStatus{models.StatusRunning}, models.StatusSuccess, "")
	require.NoError(t, err)

	err = repo.UpdateExecutionStatus(ctx, execution.ID,
		[]models.ExecutionStatus{models.StatusRunning}, models.StatusAborted, "late")
	assert.True(t, persistence.IsConcurrentUpdate(err))

	stored, err = repo.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, stored.Status)
	assert.NotNil(t, stored.EndedAt)

	_, err = repo.ExecutionByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))

	err = repo.UpdateExecutionStatus(ctx, "missing", nil, models.StatusAborted, "")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestInstanceRepository_UpdateInstance_CompareAndSwap(t *testing.T) {
	p := setupTestDB(t)
	ctx := context.Background()
	repo := p.InstanceRepository()

	instance := &models.StateExecutionInstance{
		ID:             uuid.New().String(),
		ExecutionID:    "exec-1",
		StateName:      "deploy",
		StateType:      "DELEGATE",
		Status:         models.StatusWaiting,
		NotifyID:       "notify-1",
		ContextElement: &models.ContextElement{Type: models.ElementInstance, UUID: "host-a", Name: "host"},
		CorrelationIDs: []string{"c1", "c2"},
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.SaveInstance(ctx, instance))

	first, err := repo.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, first.CorrelationIDs)
	assert.Equal(t, "host-a", first.ContextElement.UUID)
	assert.Equal(t, "notify-1", first.NotifyID)

	second, err := repo.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)

	first.Status = models.StatusAborted
	require.NoError(t, repo.UpdateInstance(ctx, first, models.StatusWaiting))
	assert.Equal(t, int64(1), first.Version)

	second.Status = models.StatusRunning
	err = repo.UpdateInstance(ctx, second, models.StatusWaiting)
	assert.True(t, persistence.IsConcurrentUpdate(err))

	stored, err := repo.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAborted, stored.Status)

	instances, err := repo.InstancesByExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Len(t, instances, 1)
}

func TestInstanceRepository_ExpiredInstances(t *testing.T) {
	p := setupTestDB(t)
	ctx := context.Background()
	repo := p.InstanceRepository()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	for _, instance := range []*models.StateExecutionInstance{
		{ID: "expired", Status: models.StatusWaiting, ExpiresAt: &past},
		{ID: "pending", Status: models.StatusWaiting, ExpiresAt: &future},
		{ID: "finished", Status: models.StatusSuccess, ExpiresAt: &past},
	} {
		instance.ExecutionID = "exec-1"
		instance.StateName = instance.ID
		instance.StateType = "DELEGATE"
		instance.CreatedAt = now
		require.NoError(t, repo.SaveInstance(ctx, instance))
	}

	expired, err := repo.ExpiredInstances(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "expired", expired[0].ID)
}

func TestBarrierRepository_FindOrCreateIsKeyed(t *testing.T) {
	p := setupTestDB(t)
	ctx := context.Background()
	repo := p.BarrierRepository()
	key := models.BarrierKey{AppID: "app", ExecutionFamilyID: "family", Identifier: "join1"}

	first, err := repo.FindOrCreateBarrier(ctx, &models.BarrierInstance{
		ID: "b1", Key: key, Expected: 2, State: models.BarrierStanding,
	})
	require.NoError(t, err)

	second, err := repo.FindOrCreateBarrier(ctx, &models.BarrierInstance{
		ID: "b2", Key: key, Expected: 2, State: models.BarrierStanding,
	})
	require.NoError(t, err)
	assert.Equal(t, "b1", second.ID)

	first.Arrived = 1
	first.Participants = append(first.Participants, models.BarrierParticipant{InstanceID: "i1", Waiting: true})
	require.NoError(t, repo.UpdateBarrier(ctx, first))

	second.Arrived = 1
	err = repo.UpdateBarrier(ctx, second)
	assert.True(t, persistence.IsConcurrentUpdate(err))

	stored, err := repo.BarrierByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, key, stored.Key)
	assert.True(t, stored.HasParticipant("i1"))

	_, err = repo.BarrierByID(ctx, "b2")
	assert.True(t, persistence.IsBarrierNotFound(err))
}

func TestConstraintRepository_ConsumersInOrder(t *testing.T) {
	p := setupTestDB(t)
	ctx := context.Background()
	repo := p.ConstraintRepository()

	constraint, err := repo.EnsureConstraint(ctx, "env-prod", 1)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyFIFO, constraint.Strategy)

	constraint, err = repo.EnsureConstraint(ctx, "env-prod", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, constraint.Capacity)

	for _, consumerID := range []string{"exec-b", "exec-a"} {
		order, err := repo.NextOrder(ctx, "env-prod")
		require.NoError(t, err)

		require.NoError(t, repo.SaveConsumer(ctx, &models.Consumer{
			ConstraintID:      "env-prod",
			ConsumerID:        consumerID,
			Permits:           1,
			Order:             order,
			State:             models.ConsumerBlocked,
			ReleaseEntityID:   consumerID,
			ReleaseEntityType: models.HoldingScopeWorkflow,
		}))
	}

	consumers, err := repo.Consumers(ctx, "env-prod")
	require.NoError(t, err)
	require.Len(t, consumers, 2)
	assert.Equal(t, "exec-b", consumers[0].ConsumerID)
	assert.Less(t, consumers[0].Order, consumers[1].Order)

	held, err := repo.ConsumersByReleaseEntity(ctx, "exec-a")
	require.NoError(t, err)
	require.Len(t, held, 1)

	require.NoError(t, repo.DeleteConsumer(ctx, "env-prod", "exec-a"))

	consumers, err = repo.Consumers(ctx, "env-prod")
	require.NoError(t, err)
	assert.Len(t, consumers, 1)

	_, err = repo.NextOrder(ctx, "unknown")
	assert.True(t, persistence.IsConstraintNotFound(err))

	err = repo.SaveConsumer(ctx, &models.Consumer{
		ConstraintID: "unknown", ConsumerID: "x", Permits: 1, State: models.ConsumerActive,
		ReleaseEntityID: "x", ReleaseEntityType: models.HoldingScopeWorkflow,
	})
	assert.True(t, persistence.IsConstraintNotFound(err))
}

func TestCorrelationRepository_ClaimWait(t *testing.T) {
	p := setupTestDB(t)
	ctx := context.Background()
	repo := p.CorrelationRepository()

	wait := &models.WaitGroup{
		ID:             "wait-1",
		CorrelationIDs: []string{"a", "b"},
		Callback:       models.NotifyCallback{Kind: "resume", InstanceID: "i1"},
	}
	require.NoError(t, repo.SaveWait(ctx, wait))

	waits, err := repo.WaitsFor(ctx, "b")
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, "i1", waits[0].Callback.InstanceID)

	require.NoError(t, repo.SaveResponse(ctx, "a", models.ResponseData{Status: models.StatusSuccess}))

	claimed, _, err := repo.ClaimWait(ctx, "wait-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	pending, err := repo.PendingResponses(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, pending, 1, "a failed claim must not consume responses")

	require.NoError(t, repo.SaveResponse(ctx, "b", models.ResponseData{
		Status: models.StatusFailed, ErrorMessage: "boom",
	}))

	claimed, results, err := repo.ClaimWait(ctx, "wait-1")
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, "boom", results["b"].ErrorMessage)

	claimed, _, err = repo.ClaimWait(ctx, "wait-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	err = repo.SaveResponse(ctx, "a", models.ResponseData{Status: models.StatusSuccess})
	assert.True(t, persistence.IsAlreadyNotified(err))

	pending, err = repo.PendingResponses(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, repo.CleanupExpiredResponses(ctx, -time.Minute))
	require.NoError(t, repo.SaveResponse(ctx, "a", models.ResponseData{Status: models.StatusSuccess}))
}
