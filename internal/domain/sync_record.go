package domain

import "time"

type SyncStatus string

const (
	SyncStatusLocal    SyncStatus = "local"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusSyncing  SyncStatus = "syncing"
	SyncStatusModified SyncStatus = "modified"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusError    SyncStatus = "error"
	SyncStatusPending  SyncStatus = "pending"
)

// SyncRecord tracks one document or folder against its cloud
// counterpart. CloudID stays nil until the first successful push.
// RemoteVersion is the version the remote reported at last sync and is
// submitted as the expected version on the next update; the remote
// rejects the write when it is stale.
type SyncRecord struct {
	LocalID             string     `json:"local_id"`
	CloudID             *string    `json:"cloud_id"`
	Status              SyncStatus `json:"status"`
	LocalVersion        int64      `json:"local_version"`
	RemoteVersion       int64      `json:"remote_version"`
	LastSyncedAt        time.Time  `json:"last_synced_at"`
	LastRemoteUpdatedAt time.Time  `json:"last_remote_updated_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// SyncOutcome is what every reconciler operation returns. Failures are
// carried in Error with a human-readable message, never as a panic or a
// raw remote error body.
type SyncOutcome struct {
	Success  bool       `json:"success"`
	Status   SyncStatus `json:"status"`
	Error    string     `json:"error,omitempty"`
	CloudID  string     `json:"cloud_id,omitempty"`
	SyncedAt time.Time  `json:"synced_at,omitempty"`
}
