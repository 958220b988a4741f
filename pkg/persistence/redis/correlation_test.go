package redis_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/notify"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/persistence/redis"
	"github.com/dukex/stagehand/pkg/testutil"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepository(t *testing.T) *redis.CorrelationRepository {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	client := rd.NewClient(&rd.Options{Addr: testutil.RedisAddress(t)})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return redis.NewCorrelationRepository(client, "test-"+uuid.New().String(), logger)
}

func TestCorrelationRepository_ClaimWait(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)

	wait := &models.WaitGroup{
		ID:             "wait-1",
		CorrelationIDs: []string{"a", "b"},
		Callback:       models.NotifyCallback{Kind: "resume", InstanceID: "i1"},
	}
	require.NoError(t, repo.SaveWait(ctx, wait))

	waits, err := repo.WaitsFor(ctx, "a")
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, []string{"a", "b"}, waits[0].CorrelationIDs)
	assert.Equal(t, "i1", waits[0].Callback.InstanceID)

	require.NoError(t, repo.SaveResponse(ctx, "a", models.ResponseData{Status: models.StatusSuccess}))

	claimed, _, err := repo.ClaimWait(ctx, "wait-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, repo.SaveResponse(ctx, "b", models.ResponseData{Status: models.StatusFailed, ErrorMessage: "boom"}))

	pending, err := repo.PendingResponses(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	claimed, results, err := repo.ClaimWait(ctx, "wait-1")
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, models.StatusFailed, results["b"].Status)
	assert.Equal(t, "boom", results["b"].ErrorMessage)

	claimed, _, err = repo.ClaimWait(ctx, "wait-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	waits, err = repo.WaitsFor(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, waits)

	err = repo.SaveResponse(ctx, "a", models.ResponseData{Status: models.StatusSuccess})
	assert.True(t, persistence.IsAlreadyNotified(err))
}

func TestCorrelationRepository_RestoreWait(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)

	wait := &models.WaitGroup{
		ID:             "wait-1",
		CorrelationIDs: []string{"a", "b"},
		Callback:       models.NotifyCallback{Kind: "resume", InstanceID: "i1"},
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repo.SaveWait(ctx, wait))
	require.NoError(t, repo.SaveResponse(ctx, "a", models.ResponseData{Status: models.StatusSuccess}))
	require.NoError(t, repo.SaveResponse(ctx, "b", models.ResponseData{Status: models.StatusFailed}))

	claimed, _, err := repo.ClaimWait(ctx, "wait-1")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, repo.RestoreWait(ctx, wait))

	waits, err := repo.WaitsFor(ctx, "b")
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, "i1", waits[0].Callback.InstanceID)
	assert.True(t, wait.CreatedAt.Equal(waits[0].CreatedAt))

	pending, err := repo.PendingResponses(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	claimed, results, err := repo.ClaimWait(ctx, "wait-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, models.StatusFailed, results["b"].Status)
}

func TestCorrelationRepository_KeysShareOneSlot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	client := rd.NewClient(&rd.Options{Addr: testutil.RedisAddress(t)})
	t.Cleanup(func() { _ = client.Close() })

	prefix := "slot-" + uuid.New().String()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	repo := redis.NewCorrelationRepository(client, prefix, logger)

	require.NoError(t, repo.SaveWait(ctx, &models.WaitGroup{ID: "w", CorrelationIDs: []string{"a"}}))
	require.NoError(t, repo.SaveResponse(ctx, "a", models.ResponseData{Status: models.StatusSuccess}))

	keys, err := client.Keys(ctx, "*"+prefix+"*").Result()
	require.NoError(t, err)
	require.NotEmpty(t, keys)

	for _, key := range keys {
		assert.Contains(t, key, "{"+prefix+"}:", "key %s must carry the hash tag", key)
	}
}

func TestCorrelationRepository_DeleteWaitAndCleanup(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)

	require.NoError(t, repo.SaveWait(ctx, &models.WaitGroup{ID: "w", CorrelationIDs: []string{"x"}}))
	require.NoError(t, repo.DeleteWait(ctx, "w"))
	require.NoError(t, repo.DeleteWait(ctx, "w"))

	waits, err := repo.WaitsFor(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, waits)

	require.NoError(t, repo.SaveResponse(ctx, "x", models.ResponseData{Status: models.StatusSuccess}))
	require.NoError(t, repo.CleanupExpiredResponses(ctx, -time.Second))

	pending, err := repo.PendingResponses(ctx, []string{"x"})
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, repo.SaveResponse(ctx, "x", models.ResponseData{Status: models.StatusSuccess}))
}

func TestCorrelationRepository_DrivesNotifyEngine(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	engine := notify.NewEngine(repo, logger)

	fired := make(chan map[string]models.ResponseData, 1)
	engine.Handle("test", func(_ context.Context, _ models.NotifyCallback, results map[string]models.ResponseData) error {
		fired <- results

		return nil
	})

	require.NoError(t, engine.Notify(ctx, "early", models.ResponseData{Status: models.StatusSuccess}))

	_, err := engine.WaitForAll(ctx, models.NotifyCallback{Kind: "test"}, "early", "late")
	require.NoError(t, err)
	assert.Empty(t, fired)

	require.NoError(t, engine.Notify(ctx, "late", models.ResponseData{Status: models.StatusSuccess}))

	select {
	case results := <-fired:
		assert.Len(t, results, 2)
	default:
		t.Fatal("callback did not fire")
	}
}
