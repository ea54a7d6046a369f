package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskmaster/internal/cache"
	"taskmaster/internal/model"
	"taskmaster/internal/store"
	"taskmaster/internal/syncer"
	"taskmaster/internal/tracker"
)

var testClock = time.Date(2026, 8, 31, 0, 5, 0, 0, time.UTC)

type fixture struct {
	scheduler *Scheduler
	sync      *syncer.Engine
	store     *store.MemoryStore
	tracker   *tracker.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	memStore := store.NewMemoryStore()
	tr := tracker.Load(context.Background(), tracker.NewMemoryKV(), zap.NewNop())
	sync := syncer.New(memStore, cache.New(), tr, zap.NewNop())
	sync.SetClock(func() time.Time { return testClock })

	s := New(sync, zap.NewNop())
	s.SetClock(func() time.Time { return testClock })
	return &fixture{scheduler: s, sync: sync, store: memStore, tracker: tr}
}

func seed(t *testing.T, f *fixture, tasks ...model.Task) {
	t.Helper()
	ctx := context.Background()
	for _, task := range tasks {
		require.NoError(t, f.store.Set(ctx, task))
	}
	require.NoError(t, f.sync.LoadAll(ctx))
}

func TestRunOnceSweepsYesterdaysCompleted(t *testing.T) {
	f := newFixture(t)
	seed(t, f,
		model.Task{ID: "old-done", Name: "old done", Date: "2026-08-30", Status: model.StatusCompleted},
		model.Task{ID: "stale-done", Name: "stale done", Date: "2026-08-31", Status: model.StatusCompleted, CompletedAt: "2026-08-30T23:00:00Z"},
		model.Task{ID: "today-done", Name: "today done", Date: "2026-08-31", Status: model.StatusCompleted, CompletedAt: "2026-08-31T00:01:00Z"},
		model.Task{ID: "old-open", Name: "old open", Date: "2026-08-30", Status: model.StatusPending},
	)

	count, err := f.scheduler.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.False(t, f.store.Has("old-done"))
	assert.False(t, f.store.Has("stale-done"))
	// Completed today stays until tomorrow's sweep; pending is never swept.
	assert.True(t, f.store.Has("today-done"))
	assert.True(t, f.store.Has("old-open"))
}

func TestRunOnceMarksSweptTasksDeleted(t *testing.T) {
	f := newFixture(t)
	seed(t, f,
		model.Task{ID: "old-done", Name: "old done", Date: "2026-08-30", Status: model.StatusCompleted},
	)

	_, err := f.scheduler.RunOnce(context.Background())

	require.NoError(t, err)
	assert.True(t, f.tracker.Has("old-done"), "swept tasks must not resurrect from the feed")
}

func TestRunOnceFailedDeleteDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	seed(t, f,
		model.Task{ID: "d1", Name: "one", Date: "2026-08-29", Status: model.StatusCompleted},
		model.Task{ID: "stuck", Name: "stuck", Date: "2026-08-29", Status: model.StatusCompleted},
		model.Task{ID: "d2", Name: "two", Date: "2026-08-30", Status: model.StatusCompleted},
		model.Task{ID: "d3", Name: "three", Date: "2026-08-30", Status: model.StatusCompleted},
	)
	f.store.SetDeleteFailureFor("stuck", errors.New("write refused"))

	count, err := f.scheduler.RunOnce(context.Background())

	// The healthy tasks are all swept; only the failure is reported.
	require.Error(t, err)
	assert.Equal(t, 3, count)
	assert.False(t, f.store.Has("d1"))
	assert.False(t, f.store.Has("d2"))
	assert.False(t, f.store.Has("d3"))
	assert.True(t, f.store.Has("stuck"))
}

func TestRunOnceNothingToSweep(t *testing.T) {
	f := newFixture(t)
	seed(t, f,
		model.Task{ID: "open", Name: "open", Date: "2026-08-31", Status: model.StatusPending},
	)

	notifications := 0
	f.sync.OnChange(func() { notifications++ })

	count, err := f.scheduler.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, notifications)
}

func TestRunOnceNotifiesOncePerSweep(t *testing.T) {
	f := newFixture(t)
	seed(t, f,
		model.Task{ID: "d1", Name: "one", Date: "2026-08-29", Status: model.StatusCompleted},
		model.Task{ID: "d2", Name: "two", Date: "2026-08-30", Status: model.StatusCompleted},
	)

	notifications := 0
	f.sync.OnChange(func() { notifications++ })

	_, err := f.scheduler.RunOnce(context.Background())

	require.NoError(t, err)
	// Each delete notifies, plus the sweep's own final signal.
	assert.GreaterOrEqual(t, notifications, 1)
}

func TestUntilNextMidnight(t *testing.T) {
	f := newFixture(t)

	wait := f.scheduler.untilNextMidnight()

	// 00:05 now, so just under 24h plus the safety delay.
	assert.Equal(t, 23*time.Hour+55*time.Minute+5*time.Second, wait)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	f.scheduler.Start(ctx)
	cancel()

	// The loop exits without sweeping anything.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, f.tracker.Len())
}
