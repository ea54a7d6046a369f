package store

import (
	"context"
	"errors"

	"taskmaster/internal/model"
)

// ErrNotFound is returned by Get when no document exists for the id.
var ErrNotFound = errors.New("task not found")

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// ChangeEvent is one document change delivered over the real-time feed.
type ChangeEvent struct {
	Type ChangeType  `json:"type"`
	ID   string      `json:"id"`
	Task *model.Task `json:"task,omitempty"`
}

// Unsubscribe tears down an active subscription.
type Unsubscribe func()

// TaskStore is the document store contract the sync engine runs against:
// CRUD on task documents keyed by id plus a real-time change subscription.
// A client's own writes echo back through the subscription.
type TaskStore interface {
	Get(ctx context.Context, id string) (*model.Task, error)
	GetAll(ctx context.Context) ([]model.Task, error)
	// Set upserts the full document keyed by task id.
	Set(ctx context.Context, task model.Task) error
	Delete(ctx context.Context, id string) error
	QueryByStatus(ctx context.Context, status model.Status) ([]model.Task, error)
	// Subscribe opens the change feed for the whole collection. Each
	// delivery is a batch of events; onError reports subscription-level
	// failures, not per-event conditions.
	Subscribe(onBatch func([]ChangeEvent), onError func(error)) (Unsubscribe, error)
}
