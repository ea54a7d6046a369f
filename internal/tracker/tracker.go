package tracker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// StorageKey is the durable KV key holding the serialized id set.
const StorageKey = "taskmaster:deleted-task-ids"

// KV is the durable storage contract the tracker persists through.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Tracker is the set of task ids that must never be resurrected by the
// change feed: permanently deleted tasks and deleted recurring lineages.
// The in-memory set is authoritative for the session; persistence is
// best-effort and synchronous after every mutation. Entries never expire.
type Tracker struct {
	mu     sync.RWMutex
	ids    map[string]struct{}
	kv     KV
	logger *zap.Logger
}

// Load reads the persisted id set once at startup. A missing or corrupt
// entry starts an empty set rather than failing.
func Load(ctx context.Context, kv KV, logger *zap.Logger) *Tracker {
	t := &Tracker{
		ids:    make(map[string]struct{}),
		kv:     kv,
		logger: logger,
	}

	raw, ok, err := kv.Get(ctx, StorageKey)
	if err != nil {
		logger.Warn("Failed to load deleted task ids, starting empty", zap.Error(err))
		return t
	}
	if !ok || raw == "" {
		return t
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		logger.Warn("Corrupt deleted task id set, starting empty", zap.Error(err))
		return t
	}
	for _, id := range ids {
		t.ids[id] = struct{}{}
	}
	logger.Info("Loaded deleted task ids", zap.Int("count", len(ids)))
	return t
}

// Has reports whether an id is marked deleted. The empty id is never marked.
func (t *Tracker) Has(id string) bool {
	if id == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[id]
	return ok
}

// MarkDeleted adds an id to the set and persists it. Idempotent; marking an
// already-present id does not rewrite storage.
func (t *Tracker) MarkDeleted(ctx context.Context, id string) {
	t.mark(ctx, id, "")
}

// MarkDeletedWithLineage marks a task id together with its recurring parent,
// killing the whole chain.
func (t *Tracker) MarkDeletedWithLineage(ctx context.Context, id, parentID string) {
	t.mark(ctx, id, parentID)
}

func (t *Tracker) mark(ctx context.Context, ids ...string) {
	t.mu.Lock()
	changed := false
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := t.ids[id]; !ok {
			t.ids[id] = struct{}{}
			changed = true
		}
	}
	if !changed {
		t.mu.Unlock()
		return
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.persist(ctx, snapshot)
}

func (t *Tracker) snapshotLocked() []string {
	ids := make([]string, 0, len(t.ids))
	for id := range t.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// persist writes the set to durable storage. Failure is logged, not fatal;
// the in-memory set stays authoritative for the running session.
func (t *Tracker) persist(ctx context.Context, ids []string) {
	raw, err := json.Marshal(ids)
	if err != nil {
		t.logger.Error("Failed to encode deleted task ids", zap.Error(err))
		return
	}
	if err := t.kv.Set(ctx, StorageKey, string(raw)); err != nil {
		t.logger.Warn("Failed to persist deleted task ids, in-memory set remains authoritative",
			zap.Int("count", len(ids)),
			zap.Error(err),
		)
	}
}

// Len reports how many ids are marked.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}
