package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taskmaster/internal/cache"
	"taskmaster/internal/model"
	"taskmaster/internal/store"
	"taskmaster/internal/tracker"
	"taskmaster/pkg/metrics"
)

// CatchUpFunc repairs interrupted recurring chains after the initial load.
type CatchUpFunc func(ctx context.Context, today string)

// Engine keeps the local task cache consistent with the remote store. All
// mutation runs under one mutex so local writes and applied feed events form
// a single timeline; observer callbacks fire after the lock is released.
type Engine struct {
	store   store.TaskStore
	cache   *cache.Cache
	tracker *tracker.Tracker
	logger  *zap.Logger
	now     func() time.Time

	mu          sync.Mutex
	status      SyncStatus
	lastSync    time.Time
	unsubscribe store.Unsubscribe
	closed      bool

	changeSubs []func()
	statusSubs []func(SyncStatus)
	errorSubs  []func(error)
	catchUp    CatchUpFunc
}

func New(st store.TaskStore, c *cache.Cache, tr *tracker.Tracker, logger *zap.Logger) *Engine {
	return &Engine{
		store:   st,
		cache:   c,
		tracker: tr,
		logger:  logger,
		now:     time.Now,
		status:  StatusSyncing,
	}
}

// SetClock overrides the engine's time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetCatchUp installs the recurrence catch-up hook invoked once after every
// successful initial load, before the change feed is opened.
func (e *Engine) SetCatchUp(fn CatchUpFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.catchUp = fn
}

// OnChange registers a callback fired whenever the cache contents change.
// Feed batches coalesce into a single notification.
func (e *Engine) OnChange(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changeSubs = append(e.changeSubs, fn)
}

// OnStatus registers a callback fired on every sync status transition.
func (e *Engine) OnStatus(fn func(SyncStatus)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statusSubs = append(e.statusSubs, fn)
}

// OnStreamError registers a callback for subscription-level feed failures.
func (e *Engine) OnStreamError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorSubs = append(e.errorSubs, fn)
}

// LoadAll performs the initial load: fetch every task, drop the ones marked
// deleted, replace the cache, run recurrence catch-up, then open the change
// feed. On store failure the cache is left untouched so stale data keeps
// serving reads.
func (e *Engine) LoadAll(ctx context.Context) error {
	e.setStatus(StatusSyncing)

	tasks, err := e.store.GetAll(ctx)
	if err != nil {
		e.setStatus(StatusError)
		return fmt.Errorf("%w: load: %v", ErrStoreUnavailable, err)
	}

	kept := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if e.tracker.Has(t.ID) || e.tracker.Has(t.ParentTaskID) {
			metrics.ChangeEventsSuppressed.Inc()
			e.logger.Debug("Dropping deleted task from initial load", zap.String("task_id", t.ID))
			continue
		}
		t.Normalize()
		kept = append(kept, t)
	}

	e.mu.Lock()
	e.cache.ReplaceAll(kept)
	e.lastSync = e.now()
	catchUp := e.catchUp
	e.mu.Unlock()

	if catchUp != nil {
		catchUp(ctx, model.FormatDate(e.now()))
	}

	e.mu.Lock()
	if e.unsubscribe == nil && !e.closed {
		unsub, subErr := e.store.Subscribe(e.handleBatch, e.handleStreamError)
		if subErr != nil {
			e.mu.Unlock()
			e.setStatus(StatusError)
			return fmt.Errorf("%w: subscribe: %v", ErrStoreUnavailable, subErr)
		}
		e.unsubscribe = unsub
	}
	e.mu.Unlock()

	e.setStatus(StatusSynced)
	e.notifyChange()
	e.logger.Info("Initial task load complete", zap.Int("count", len(kept)))
	return nil
}

// handleBatch applies one change-feed batch to the cache. Events for tracked
// ids (or children of a tracked recurring parent) are suppressed so deleted
// tasks cannot resurrect. Echoes of local writes apply idempotently.
func (e *Engine) handleBatch(events []store.ChangeEvent) {
	e.mu.Lock()
	mutated := false
	for _, ev := range events {
		parentID := ""
		if ev.Task != nil {
			parentID = ev.Task.ParentTaskID
		}
		if e.tracker.Has(ev.ID) || e.tracker.Has(parentID) {
			metrics.ChangeEventsSuppressed.Inc()
			e.logger.Debug("Suppressing change for deleted task",
				zap.String("task_id", ev.ID),
				zap.String("type", string(ev.Type)),
			)
			continue
		}

		switch ev.Type {
		case store.ChangeAdded:
			if ev.Task == nil {
				continue
			}
			t := *ev.Task
			t.Normalize()
			e.cache.Upsert(t)
			mutated = true
		case store.ChangeModified:
			if ev.Task == nil {
				continue
			}
			// A modify for an id we never had is not synthesized into an
			// add; it may be a late echo for a task deleted meanwhile.
			if _, ok := e.cache.Find(ev.ID); !ok {
				continue
			}
			t := *ev.Task
			t.Normalize()
			e.cache.Upsert(t)
			mutated = true
		case store.ChangeRemoved:
			if _, ok := e.cache.Find(ev.ID); !ok {
				continue
			}
			e.cache.Remove(ev.ID)
			mutated = true
		default:
			continue
		}
		metrics.ChangeEventsApplied.WithLabelValues(string(ev.Type)).Inc()
	}

	if mutated {
		e.lastSync = e.now()
		e.status = StatusSynced
	}
	statusSubs := append([]func(SyncStatus){}, e.statusSubs...)
	changeSubs := append([]func(){}, e.changeSubs...)
	e.mu.Unlock()

	if mutated {
		for _, fn := range statusSubs {
			fn(StatusSynced)
		}
		for _, fn := range changeSubs {
			fn()
		}
	}
}

func (e *Engine) handleStreamError(err error) {
	e.logger.Error("Task change feed failed", zap.Error(err))
	e.setStatus(StatusError)

	e.mu.Lock()
	subs := append([]func(error){}, e.errorSubs...)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

// Save writes a task through to the store and mirrors it into the cache.
// New tasks get a generated id and the actor as creator. Saves against a
// deleted recurring lineage are silently dropped; that is how an interrupted
// chain stays dead instead of resurrecting half-finished.
func (e *Engine) Save(ctx context.Context, actor model.Identity, task model.Task) (model.Task, error) {
	e.mu.Lock()

	isNew := task.ID == ""
	if isNew {
		task.ID = model.NewID()
	}
	if task.CreatedBy.ID == "" {
		task.CreatedBy = actor.Ref()
	}
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}
	if task.Status == "" {
		task.Status = model.StatusPending
	}

	if e.tracker.Has(task.ID) || e.tracker.Has(task.ParentTaskID) {
		e.mu.Unlock()
		metrics.TaskSaves.WithLabelValues("dead_chain").Inc()
		e.logger.Debug("Dropping save for deleted lineage",
			zap.String("task_id", task.ID),
			zap.String("parent_id", task.ParentTaskID),
		)
		return task, nil
	}

	existing, exists := e.cache.Find(task.ID)
	if exists && existing.CreatedBy.ID != actor.ID {
		e.mu.Unlock()
		metrics.TaskSaves.WithLabelValues("denied").Inc()
		return task, fmt.Errorf("%w: task %s belongs to %s", ErrPermissionDenied, task.ID, existing.CreatedBy.Name)
	}

	// Name uniqueness binds non-completed tasks only; a completing save may
	// share its name with the chain's pending occurrence.
	if task.Status != model.StatusCompleted && e.hasDuplicateLocked(task) {
		e.mu.Unlock()
		metrics.TaskSaves.WithLabelValues("duplicate").Inc()
		return task, fmt.Errorf("%w: %q", ErrDuplicateTask, task.Name)
	}

	now := e.now()
	if task.CreatedAt == "" {
		task.CreatedAt = model.NowISO(now)
	}
	task.LastUpdated = model.NowISO(now)
	task.LastUpdatedBy = actor.Ref()
	switch {
	case task.Status == model.StatusCompleted && task.CompletedAt == "":
		task.CompletedAt = model.NowISO(now)
	case task.Status != model.StatusCompleted:
		task.CompletedAt = ""
	}
	task.Normalize()

	e.status = StatusSyncing
	e.mu.Unlock()
	e.notifyStatus(StatusSyncing)

	if err := e.store.Set(ctx, task); err != nil {
		metrics.TaskSaves.WithLabelValues("store_error").Inc()
		e.setStatus(StatusError)
		return task, fmt.Errorf("%w: save %s: %v", ErrStoreUnavailable, task.ID, err)
	}

	e.mu.Lock()
	e.cache.Upsert(task)
	e.lastSync = e.now()
	e.status = StatusSynced
	e.mu.Unlock()

	metrics.TaskSaves.WithLabelValues("ok").Inc()
	e.notifyStatus(StatusSynced)
	e.notifyChange()
	return task, nil
}

// hasDuplicateLocked checks the duplicate-name guard: same creator, same
// name ignoring case, not completed, different id.
func (e *Engine) hasDuplicateLocked(task model.Task) bool {
	for _, t := range e.cache.All() {
		if t.ID == task.ID || t.Status == model.StatusCompleted {
			continue
		}
		if t.CreatedBy.ID == task.CreatedBy.ID && t.SameName(task.Name) {
			return true
		}
	}
	return false
}

// DeleteResult reports what a delete actually did.
type DeleteResult struct {
	ID             string `json:"id"`
	WasRecurring   bool   `json:"wasRecurring"`
	WasAlreadyGone bool   `json:"wasAlreadyGone"`
}

// Delete removes a task on behalf of a user, enforcing that only the creator
// may delete it. The ownership check reads the cache; a task unknown locally
// falls through to the system path.
func (e *Engine) Delete(ctx context.Context, actor model.Identity, id string) (DeleteResult, error) {
	e.mu.Lock()
	if existing, ok := e.cache.Find(id); ok && existing.CreatedBy.ID != actor.ID {
		e.mu.Unlock()
		return DeleteResult{ID: id}, fmt.Errorf("%w: task %s belongs to %s", ErrPermissionDenied, id, existing.CreatedBy.Name)
	}
	e.mu.Unlock()

	return e.DeleteTask(ctx, id)
}

// DeleteTask permanently removes a task without an ownership check; callers
// are the cleanup scheduler, purge, and Delete after its guard. The deletion
// mark is written before the remote delete and never rolled back, so a feed
// echo arriving mid-delete cannot resurrect the task.
func (e *Engine) DeleteTask(ctx context.Context, id string) (DeleteResult, error) {
	result := DeleteResult{ID: id}

	current, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			result.WasAlreadyGone = true
			e.tracker.MarkDeleted(ctx, id)
			e.mu.Lock()
			e.cache.Remove(id)
			e.mu.Unlock()
			metrics.TaskDeletes.WithLabelValues("already_gone").Inc()
			e.logger.Info("Task already gone, marked deleted", zap.String("task_id", id))
			e.notifyChange()
			return result, nil
		}
		metrics.TaskDeletes.WithLabelValues("store_error").Inc()
		return result, fmt.Errorf("%w: delete %s: %v", ErrStoreUnavailable, id, err)
	}

	result.WasRecurring = current.Recurring
	if current.Recurring || current.ParentTaskID != "" {
		e.tracker.MarkDeletedWithLineage(ctx, id, current.ParentTaskID)
	} else {
		e.tracker.MarkDeleted(ctx, id)
	}

	if err := e.store.Delete(ctx, id); err != nil {
		// The mark stays: a half-deleted task must not come back.
		metrics.TaskDeletes.WithLabelValues("store_error").Inc()
		return result, fmt.Errorf("%w: delete %s: %v", ErrStoreUnavailable, id, err)
	}

	e.mu.Lock()
	e.cache.Remove(id)
	e.lastSync = e.now()
	e.mu.Unlock()

	metrics.TaskDeletes.WithLabelValues("ok").Inc()
	e.notifyChange()
	return result, nil
}

// DiscardOccurrence removes a completed recurring occurrence without marking
// it deleted. Marking would kill the whole lineage and stop the chain, so
// this path skips the tracker on purpose.
func (e *Engine) DiscardOccurrence(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: discard %s: %v", ErrStoreUnavailable, id, err)
	}
	e.mu.Lock()
	e.cache.Remove(id)
	e.mu.Unlock()
	e.notifyChange()
	return nil
}

// DeleteAllCompleted permanently removes every completed task. The change
// feed is torn down for the duration so the burst of removals cannot race
// the deletes, then re-opened whatever the outcome.
func (e *Engine) DeleteAllCompleted(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed || e.unsubscribe != nil {
			return
		}
		unsub, err := e.store.Subscribe(e.handleBatch, e.handleStreamError)
		if err != nil {
			e.logger.Error("Failed to re-open change feed after purge", zap.Error(err))
			e.status = StatusError
			return
		}
		e.unsubscribe = unsub
	}()

	completed, err := e.store.QueryByStatus(ctx, model.StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("%w: query completed: %v", ErrStoreUnavailable, err)
	}
	if len(completed) == 0 {
		return 0, nil
	}

	var deleted int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, t := range completed {
		id := t.ID
		g.Go(func() error {
			if _, err := e.DeleteTask(gctx, id); err != nil {
				return err
			}
			atomic.AddInt64(&deleted, 1)
			return nil
		})
	}
	err = g.Wait()

	count := int(atomic.LoadInt64(&deleted))
	e.logger.Info("Purged completed tasks",
		zap.Int("requested", len(completed)),
		zap.Int("deleted", count),
	)
	e.notifyChange()
	return count, err
}

// Tasks returns a snapshot of the cache in insertion order.
func (e *Engine) Tasks() []model.Task {
	return e.cache.All()
}

// Find returns a copy of one cached task.
func (e *Engine) Find(id string) (model.Task, bool) {
	return e.cache.Find(id)
}

// Stats computes the dashboard counters from the cache.
func (e *Engine) Stats() model.Stats {
	return model.ComputeStats(e.cache.All(), model.FormatDate(e.now()))
}

func (e *Engine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// FeedConnected reports whether the change feed subscription is open.
func (e *Engine) FeedConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unsubscribe != nil
}

// SignalChanged fires the change observers without touching the cache. The
// cleanup scheduler uses it to publish one notification per sweep.
func (e *Engine) SignalChanged() {
	e.notifyChange()
}

// Close tears down the change feed. The engine is unusable afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

func (e *Engine) setStatus(s SyncStatus) {
	e.mu.Lock()
	if e.status == s {
		e.mu.Unlock()
		return
	}
	e.status = s
	e.mu.Unlock()
	e.notifyStatus(s)
}

func (e *Engine) notifyStatus(s SyncStatus) {
	e.mu.Lock()
	subs := append([]func(SyncStatus){}, e.statusSubs...)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func (e *Engine) notifyChange() {
	e.mu.Lock()
	subs := append([]func(){}, e.changeSubs...)
	e.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
