package recurrence

import (
	"context"
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

var (
	alice     = model.Identity{ID: "alice", DisplayName: "Alice"}
	testClock = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	engine     *Engine
	sync       *syncer.Engine
	store      *store.MemoryStore
	tracker    *tracker.Tracker
	tasksCache *cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	memStore := store.NewMemoryStore()
	tr := tracker.Load(context.Background(), tracker.NewMemoryKV(), zap.NewNop())
	c := cache.New()
	sync := syncer.New(memStore, c, tr, zap.NewNop())
	sync.SetClock(func() time.Time { return testClock })

	e := New(sync, zap.NewNop())
	e.SetClock(func() time.Time { return testClock })
	return &fixture{engine: e, sync: sync, store: memStore, tracker: tr, tasksCache: c}
}

func (f *fixture) loadAll(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sync.LoadAll(context.Background()))
}

// findChild returns the task whose parent is the given id.
func findChild(tasks []model.Task, parentID string) (model.Task, bool) {
	for _, t := range tasks {
		if t.ParentTaskID == parentID {
			return t, true
		}
	}
	return model.Task{}, false
}

func TestCompleteNonRecurringTask(t *testing.T) {
	f := newFixture(t)
	f.loadAll(t)
	ctx := context.Background()

	saved, err := f.sync.Save(ctx, alice, model.Task{Name: "walk dog", Date: "2026-08-31"})
	require.NoError(t, err)

	done, err := f.engine.OnTaskCompleted(ctx, alice, saved.ID)

	require.NoError(t, err)
	assert.Equal(t, saved.ID, done.ID)
	assert.Equal(t, model.StatusCompleted, done.Status)
	assert.Empty(t, done.NextOccurrenceDate)
	assert.Equal(t, 1, f.tasksCache.Len())
}

func TestCompleteRecurringTaskRollsForward(t *testing.T) {
	f := newFixture(t)
	f.loadAll(t)
	ctx := context.Background()

	saved, err := f.sync.Save(ctx, alice, model.Task{
		Name:      "daily standup",
		Date:      "2026-08-31",
		Recurring: true,
	})
	require.NoError(t, err)

	next, err := f.engine.OnTaskCompleted(ctx, alice, saved.ID)
	require.NoError(t, err)

	// The roll-forward produced a fresh pending occurrence for tomorrow.
	assert.NotEqual(t, saved.ID, next.ID)
	assert.Equal(t, "daily standup", next.Name)
	assert.Equal(t, "2026-09-01", next.Date)
	assert.Equal(t, model.StatusPending, next.Status)
	assert.True(t, next.Recurring)
	assert.Equal(t, saved.ID, next.ParentTaskID)
	assert.Equal(t, 1, next.RecurrenceCount)
	assert.Equal(t, alice.Ref(), next.CreatedBy)

	// The old occurrence was discarded without killing the lineage.
	assert.False(t, f.store.Has(saved.ID))
	assert.False(t, f.tracker.Has(saved.ID))
	assert.True(t, f.store.Has(next.ID))
	assert.Equal(t, 1, f.tasksCache.Len())
}

func TestCompleteAlreadyCompletedIsNoop(t *testing.T) {
	f := newFixture(t)
	f.loadAll(t)
	ctx := context.Background()

	saved, err := f.sync.Save(ctx, alice, model.Task{
		Name:   "walk dog",
		Date:   "2026-08-31",
		Status: model.StatusCompleted,
	})
	require.NoError(t, err)

	got, err := f.engine.OnTaskCompleted(ctx, alice, saved.ID)

	require.NoError(t, err)
	assert.Equal(t, saved, got)
}

func TestCompleteUnknownTask(t *testing.T) {
	f := newFixture(t)
	f.loadAll(t)

	_, err := f.engine.OnTaskCompleted(context.Background(), alice, "missing")

	assert.Error(t, err)
}

func TestCatchUpRepairsInterruptedChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A marker left behind by a client that crashed before writing the
	// next occurrence.
	marker := model.Task{
		ID:                 "marker",
		Name:               "daily standup",
		Date:               "2026-08-30",
		Status:             model.StatusCompleted,
		Recurring:          true,
		RecurrenceCount:    3,
		NextOccurrenceDate: "2026-08-31",
		CreatedBy:          model.UserRef{ID: "alice", Name: "Alice"},
	}
	require.NoError(t, f.store.Set(ctx, marker))
	f.loadAll(t)

	f.engine.CatchUpPending(ctx, "2026-08-31")

	tasks := f.sync.Tasks()
	child, ok := findChild(tasks, "marker")
	require.True(t, ok, "catch-up should have generated the missing occurrence")
	assert.Equal(t, "daily standup", child.Name)
	assert.Equal(t, "2026-08-31", child.Date)
	assert.Equal(t, model.StatusPending, child.Status)
	assert.Equal(t, 3, child.RecurrenceCount)

	// The marker stays as history but its debt is cleared.
	repaired, err := f.store.Get(ctx, "marker")
	require.NoError(t, err)
	assert.Empty(t, repaired.NextOccurrenceDate)
	assert.False(t, f.tracker.Has("marker"))

	// A second pass finds nothing left to repair.
	f.engine.CatchUpPending(ctx, "2026-08-31")
	count := 0
	for _, task := range f.sync.Tasks() {
		if task.ParentTaskID == "marker" {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one occurrence per chain per run")
}

func TestCatchUpStaleChainYieldsSingleOccurrenceForToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A chain that went unrepaired for days gets one occurrence dated
	// today, not one per missed day.
	marker := model.Task{
		ID:                 "marker",
		Name:               "daily standup",
		Date:               "2026-08-26",
		Status:             model.StatusCompleted,
		Recurring:          true,
		NextOccurrenceDate: "2026-08-27",
		CreatedBy:          model.UserRef{ID: "alice", Name: "Alice"},
	}
	require.NoError(t, f.store.Set(ctx, marker))
	f.loadAll(t)

	f.engine.CatchUpPending(ctx, "2026-08-31")

	children := 0
	for _, task := range f.sync.Tasks() {
		if task.ParentTaskID == "marker" {
			children++
			assert.Equal(t, "2026-08-31", task.Date)
			assert.Equal(t, model.StatusPending, task.Status)
		}
	}
	assert.Equal(t, 1, children)

	repaired, err := f.store.Get(ctx, "marker")
	require.NoError(t, err)
	assert.Empty(t, repaired.NextOccurrenceDate)
}

func TestCatchUpSkipsChainsWithPendingChild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	marker := model.Task{
		ID:                 "marker",
		Name:               "daily standup",
		Date:               "2026-08-30",
		Status:             model.StatusCompleted,
		Recurring:          true,
		NextOccurrenceDate: "2026-08-31",
		CreatedBy:          model.UserRef{ID: "alice", Name: "Alice"},
	}
	child := model.Task{
		ID:           "child",
		Name:         "daily standup",
		Date:         "2026-08-31",
		Status:       model.StatusPending,
		Recurring:    true,
		ParentTaskID: "marker",
		CreatedBy:    model.UserRef{ID: "alice", Name: "Alice"},
	}
	require.NoError(t, f.store.Set(ctx, marker))
	require.NoError(t, f.store.Set(ctx, child))
	f.loadAll(t)
	before := len(f.sync.Tasks())

	f.engine.CatchUpPending(ctx, "2026-08-31")

	assert.Len(t, f.sync.Tasks(), before, "an intact chain needs no repair")
}

func TestCatchUpSkipsFutureOccurrences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	marker := model.Task{
		ID:                 "marker",
		Name:               "daily standup",
		Date:               "2026-08-31",
		Status:             model.StatusCompleted,
		Recurring:          true,
		NextOccurrenceDate: "2026-09-01",
		CreatedBy:          model.UserRef{ID: "alice", Name: "Alice"},
	}
	require.NoError(t, f.store.Set(ctx, marker))
	f.loadAll(t)

	f.engine.CatchUpPending(ctx, "2026-08-31")

	_, ok := findChild(f.sync.Tasks(), "marker")
	assert.False(t, ok, "tomorrow's occurrence is not due yet")
	assert.True(t, f.store.Has("marker"))
}
