package syncer

// SyncStatus is the engine's connection state exposed to observers.
type SyncStatus string

const (
	StatusSyncing SyncStatus = "syncing"
	StatusSynced  SyncStatus = "synced"
	StatusError   SyncStatus = "error"
)
