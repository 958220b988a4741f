package notify_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/notify"
	"github.com/dukex/stagehand/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKind = "test"

type recorder struct {
	mu    sync.Mutex
	calls []map[string]models.ResponseData
}

func (r *recorder) handle(_ context.Context, _ models.NotifyCallback, results map[string]models.ResponseData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, results)

	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.calls)
}

func setupEngine(t *testing.T) (*notify.Engine, *recorder) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	engine := notify.NewEngine(memory.NewCorrelationRepository(), logger)

	rec := &recorder{}
	engine.Handle(testKind, rec.handle)

	return engine, rec
}

func TestEngine_WaitForAll_FiresOnceAfterLastID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, rec := setupEngine(t)

	_, err := engine.WaitForAll(ctx, models.NotifyCallback{Kind: testKind}, "a", "b", "c")
	require.NoError(t, err)

	require.NoError(t, engine.Notify(ctx, "b", models.ResponseData{Status: models.StatusSuccess}))
	require.NoError(t, engine.Notify(ctx, "a", models.ResponseData{Status: models.StatusSuccess}))
	assert.Equal(t, 0, rec.count())

	require.NoError(t, engine.Notify(ctx, "c", models.ResponseData{Status: models.StatusFailed}))
	require.Equal(t, 1, rec.count())

	results := rec.calls[0]
	assert.Len(t, results, 3)
	assert.Equal(t, models.StatusFailed, results["c"].Status)
}

func TestEngine_Notify_BuffersUntilWaitRegisters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, rec := setupEngine(t)

	require.NoError(t, engine.Notify(ctx, "early", models.ResponseData{Status: models.StatusSuccess}))
	assert.Equal(t, 0, rec.count())

	_, err := engine.WaitForAll(ctx, models.NotifyCallback{Kind: testKind}, "early")
	require.NoError(t, err)

	assert.Equal(t, 1, rec.count())
}

func TestEngine_Notify_DuplicateIsDiscarded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, rec := setupEngine(t)

	_, err := engine.WaitForAll(ctx, models.NotifyCallback{Kind: testKind}, "once")
	require.NoError(t, err)

	require.NoError(t, engine.Notify(ctx, "once", models.ResponseData{Status: models.StatusSuccess}))
	require.NoError(t, engine.Notify(ctx, "once", models.ResponseData{Status: models.StatusFailed}))

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, models.StatusSuccess, rec.calls[0]["once"].Status)
}

func TestEngine_Notify_RedeliveryRetriesFailedHandler(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, rec := setupEngine(t)

	var failures atomic.Int32

	failures.Store(1)
	engine.Handle("flaky", func(ctx context.Context, callback models.NotifyCallback, results map[string]models.ResponseData) error {
		if failures.Add(-1) >= 0 {
			return fmt.Errorf("instance store unavailable")
		}

		return rec.handle(ctx, callback, results)
	})

	_, err := engine.WaitForAll(ctx, models.NotifyCallback{Kind: "flaky"}, "x", "y")
	require.NoError(t, err)

	require.NoError(t, engine.Notify(ctx, "x", models.ResponseData{Status: models.StatusSuccess}))
	require.Error(t, engine.Notify(ctx, "y", models.ResponseData{Status: models.StatusFailed}))
	assert.Equal(t, 0, rec.count())

	require.NoError(t, engine.Notify(ctx, "y", models.ResponseData{Status: models.StatusSuccess}))
	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.calls[0], 2)
	assert.Equal(t, models.StatusFailed, rec.calls[0]["y"].Status, "redelivery keeps the first payload")

	require.NoError(t, engine.Notify(ctx, "x", models.ResponseData{Status: models.StatusSuccess}))
	assert.Equal(t, 1, rec.count())
}

func TestEngine_WaitForAll_UnknownKindStaysArmed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, rec := setupEngine(t)

	require.NoError(t, engine.Notify(ctx, "early", models.ResponseData{Status: models.StatusSuccess}))

	_, err := engine.WaitForAll(ctx, models.NotifyCallback{Kind: "late-kind"}, "early")
	require.ErrorIs(t, err, notify.ErrUnknownCallback)

	engine.Handle("late-kind", rec.handle)

	require.NoError(t, engine.Notify(ctx, "early", models.ResponseData{Status: models.StatusSuccess}))
	assert.Equal(t, 1, rec.count())
}

func TestEngine_Notify_UnknownIDIsNoop(t *testing.T) {
	t.Parallel()

	engine, rec := setupEngine(t)

	err := engine.Notify(context.Background(), "nobody-waits", models.ResponseData{Status: models.StatusSuccess})

	require.NoError(t, err)
	assert.Equal(t, 0, rec.count())
}

func TestEngine_Cancel_MakesLateNotifyNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, rec := setupEngine(t)

	waitID, err := engine.WaitForAll(ctx, models.NotifyCallback{Kind: testKind}, "late")
	require.NoError(t, err)

	require.NoError(t, engine.Cancel(ctx, waitID))
	require.NoError(t, engine.Notify(ctx, "late", models.ResponseData{Status: models.StatusSuccess}))

	assert.Equal(t, 0, rec.count())
}

func TestEngine_WaitForAll_RequiresIDs(t *testing.T) {
	t.Parallel()

	engine, _ := setupEngine(t)

	_, err := engine.WaitForAll(context.Background(), models.NotifyCallback{Kind: testKind}, "", "")

	require.ErrorIs(t, err, notify.ErrNoCorrelationIDs)
}

func TestEngine_ConcurrentNotifiesFireExactlyOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := setupEngine(t)

	var fired int32

	engine.Handle("counting", func(context.Context, models.NotifyCallback, map[string]models.ResponseData) error {
		atomic.AddInt32(&fired, 1)

		return nil
	})

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}

	_, err := engine.WaitForAll(ctx, models.NotifyCallback{Kind: "counting"}, ids...)
	require.NoError(t, err)

	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)

		go func(id string) {
			defer wg.Done()

			assert.NoError(t, engine.Notify(ctx, id, models.ResponseData{Status: models.StatusSuccess}))
		}(id)
	}

	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}
