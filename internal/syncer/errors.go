package syncer

import "errors"

var (
	// ErrStoreUnavailable wraps any store failure surfaced by an engine
	// operation. The local cache is left untouched when it is returned.
	ErrStoreUnavailable = errors.New("task store unavailable")

	// ErrDuplicateTask rejects a save whose name collides with another
	// non-completed task by the same creator.
	ErrDuplicateTask = errors.New("duplicate task name")

	// ErrPermissionDenied rejects an edit or delete of someone else's task.
	ErrPermissionDenied = errors.New("not permitted to modify this task")
)
