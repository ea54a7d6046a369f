package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadRestoresPersistedSet(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	kv.Seed(StorageKey, `["a","b"]`)

	tr := Load(ctx, kv, zap.NewNop())

	assert.True(t, tr.Has("a"))
	assert.True(t, tr.Has("b"))
	assert.False(t, tr.Has("c"))
	assert.Equal(t, 2, tr.Len())
}

func TestLoadToleratesMissingAndCorruptData(t *testing.T) {
	ctx := context.Background()

	tr := Load(ctx, NewMemoryKV(), zap.NewNop())
	assert.Equal(t, 0, tr.Len())

	corrupt := NewMemoryKV()
	corrupt.Seed(StorageKey, "{not json")
	tr = Load(ctx, corrupt, zap.NewNop())
	assert.Equal(t, 0, tr.Len())

	failing := NewMemoryKV()
	failing.FailGets(errors.New("kv down"))
	tr = Load(ctx, failing, zap.NewNop())
	assert.Equal(t, 0, tr.Len())
}

func TestMarkDeletedPersistsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	tr := Load(ctx, kv, zap.NewNop())

	tr.MarkDeleted(ctx, "task-1")
	require.True(t, tr.Has("task-1"))
	assert.Equal(t, 1, kv.SetCalls())
	assert.JSONEq(t, `["task-1"]`, kv.LastStored())

	// Re-marking the same id must not rewrite storage.
	tr.MarkDeleted(ctx, "task-1")
	assert.Equal(t, 1, kv.SetCalls())
}

func TestMarkDeletedIgnoresEmptyID(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	tr := Load(ctx, kv, zap.NewNop())

	tr.MarkDeleted(ctx, "")

	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 0, kv.SetCalls())
	assert.False(t, tr.Has(""))
}

func TestMarkDeletedWithLineage(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	tr := Load(ctx, kv, zap.NewNop())

	tr.MarkDeletedWithLineage(ctx, "child", "parent")

	assert.True(t, tr.Has("child"))
	assert.True(t, tr.Has("parent"))
	assert.JSONEq(t, `["child","parent"]`, kv.LastStored())

	// A root task has no parent; only the id itself is marked.
	tr.MarkDeletedWithLineage(ctx, "root", "")
	assert.True(t, tr.Has("root"))
	assert.Equal(t, 3, tr.Len())
}

func TestPersistFailureKeepsInMemorySet(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	kv.FailSets(errors.New("kv down"))
	tr := Load(ctx, kv, zap.NewNop())

	tr.MarkDeleted(ctx, "task-1")

	assert.True(t, tr.Has("task-1"))
}
