package types

import (
	"encoding/json"
	"time"
)

// UpdateRecord is one persisted CRDT update blob for a document.
type UpdateRecord struct {
	ID        int64     `json:"id"`
	DocName   string    `json:"doc_name"`
	Payload   []byte    `json:"payload"`
	ClientID  string    `json:"client_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a full encoding of a document's CRDT state at a point in time.
type Snapshot struct {
	ID          string          `json:"id"`
	NoteID      string          `json:"note_id,omitempty"`
	DocName     string          `json:"doc_name"`
	State       []byte          `json:"state"`
	Checksum    string          `json:"checksum"`
	UpdateCount int             `json:"update_count,omitempty"`
	SizeBytes   int             `json:"size_bytes,omitempty"`
	Panels      json.RawMessage `json:"panels,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CompactionEntry records one compaction run for observability.
type CompactionEntry struct {
	ID            string        `json:"id"`
	DocName       string        `json:"doc_name"`
	UpdatesBefore int           `json:"updates_before"`
	UpdatesAfter  int           `json:"updates_after"`
	SnapshotSize  int           `json:"snapshot_size"`
	Duration      time.Duration `json:"duration_ms"`
	CreatedAt     time.Time     `json:"created_at"`
}

// CompactStatus describes a document's update log and snapshot state,
// plus whether compaction is recommended.
type CompactStatus struct {
	DocName        string     `json:"doc_name"`
	UpdateCount    int        `json:"update_count"`
	TotalSize      int64      `json:"total_size"`
	OldestUpdate   *time.Time `json:"oldest_update,omitempty"`
	NewestUpdate   *time.Time `json:"newest_update,omitempty"`
	SnapshotCount  int        `json:"snapshot_count"`
	LatestSnapshot *time.Time `json:"latest_snapshot,omitempty"`
	Recommended    bool       `json:"recommended"`
}

// CompactResult is the outcome of a compaction run.
type CompactResult struct {
	DocName        string `json:"doc_name"`
	Skipped        bool   `json:"skipped,omitempty"`
	CompactedCount int    `json:"compacted_count,omitempty"`
	UpdateCount    int    `json:"update_count,omitempty"`
	Checksum       string `json:"checksum,omitempty"`
	Size           int    `json:"size,omitempty"`
}

// SaveSnapshotResult is the outcome of an idempotent snapshot save.
type SaveSnapshotResult struct {
	ID        string    `json:"id,omitempty"`
	Checksum  string    `json:"checksum"`
	Size      int       `json:"size,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

// DeleteResult reports what a soft or hard delete removed.
type DeleteResult struct {
	NoteID           string `json:"note_id"`
	Hard             bool   `json:"hard"`
	UpdatesDeleted   int64  `json:"updates_deleted"`
	SnapshotsDeleted int64  `json:"snapshots_deleted"`
}

// PoolStatus reports database pool occupancy for health checks.
type PoolStatus struct {
	Total   int `json:"total"`
	Idle    int `json:"idle"`
	Waiting int `json:"waiting"`
}

// HealthStatus is the health-check response body.
type HealthStatus struct {
	Healthy    bool       `json:"healthy"`
	LatencyMS  int64      `json:"latency_ms"`
	PoolStatus PoolStatus `json:"pool_status"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
