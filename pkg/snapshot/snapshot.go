package snapshot

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/dandytbermillo/annotation/pkg/store"
	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/google/uuid"
)

// Checksum returns the lowercase hex SHA-256 of a state blob.
func Checksum(state []byte) string {
	sum := sha256.Sum256(state)
	return hex.EncodeToString(sum[:])
}

// SaveInput describes a snapshot write. Checksum is optional; when set it
// must match the computed value or the write is rejected.
type SaveInput struct {
	DocName     string
	NoteID      string
	State       []byte
	Checksum    string
	UpdateCount int
	Panels      json.RawMessage
}

// Save inserts one snapshot row, computing and verifying the checksum.
func Save(ctx context.Context, db store.DBTX, in SaveInput) (*types.Snapshot, error) {
	computed := Checksum(in.State)
	if in.Checksum != "" && in.Checksum != computed {
		return nil, types.ValidationError("checksum mismatch: requested %s, computed %s", in.Checksum, computed)
	}

	snap := &types.Snapshot{
		ID:          uuid.NewString(),
		NoteID:      in.NoteID,
		DocName:     in.DocName,
		State:       in.State,
		Checksum:    computed,
		UpdateCount: in.UpdateCount,
		SizeBytes:   len(in.State),
		Panels:      in.Panels,
	}

	var noteID any
	if in.NoteID != "" {
		noteID = in.NoteID
	}
	var panels any
	if len(in.Panels) > 0 {
		panels = []byte(in.Panels)
	}

	err := db.QueryRowContext(ctx,
		`INSERT INTO snapshots (id, note_id, doc_name, state, checksum, update_count, size_bytes, panels, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 RETURNING created_at`,
		snap.ID, noteID, snap.DocName, snap.State, snap.Checksum,
		snap.UpdateCount, snap.SizeBytes, panels,
	).Scan(&snap.CreatedAt)
	if err != nil {
		return nil, types.StorageError("save snapshot", err)
	}
	return snap, nil
}

// Latest returns the newest snapshot for docName, or nil when none exists.
func Latest(ctx context.Context, db store.DBTX, docName string) (*types.Snapshot, error) {
	return queryOne(ctx, db,
		`SELECT id, note_id, doc_name, state, checksum, update_count, size_bytes, panels, created_at
		 FROM snapshots WHERE doc_name = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`, docName)
}

// ByChecksum returns the snapshot with the given checksum, or nil. Enables
// idempotent saves: an identical blob is detected before writing.
func ByChecksum(ctx context.Context, db store.DBTX, docName, checksum string) (*types.Snapshot, error) {
	return queryOne(ctx, db,
		`SELECT id, note_id, doc_name, state, checksum, update_count, size_bytes, panels, created_at
		 FROM snapshots WHERE doc_name = $1 AND checksum = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`, docName, checksum)
}

func queryOne(ctx context.Context, db store.DBTX, query string, args ...any) (*types.Snapshot, error) {
	var snap types.Snapshot
	var noteID sql.NullString
	var updateCount, sizeBytes sql.NullInt64
	var panels []byte

	err := db.QueryRowContext(ctx, query, args...).Scan(
		&snap.ID, &noteID, &snap.DocName, &snap.State, &snap.Checksum,
		&updateCount, &sizeBytes, &panels, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.StorageError("load snapshot", err)
	}

	snap.NoteID = noteID.String
	snap.UpdateCount = int(updateCount.Int64)
	snap.SizeBytes = int(sizeBytes.Int64)
	if len(panels) > 0 {
		snap.Panels = json.RawMessage(panels)
	}
	return &snap, nil
}

// PruneToLast deletes all but the newest keep snapshots for docName.
func PruneToLast(ctx context.Context, db store.DBTX, docName string, keep int) (int64, error) {
	if keep < 1 {
		return 0, types.ValidationError("keep must be >= 1, got %d", keep)
	}
	res, err := db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE doc_name = $1 AND id NOT IN (
			SELECT id FROM snapshots WHERE doc_name = $1
			ORDER BY created_at DESC, id DESC LIMIT $2
		)`, docName, keep)
	if err != nil {
		return 0, types.StorageError("prune snapshots", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountFor returns the snapshot count and newest creation time for a doc.
func CountFor(ctx context.Context, db store.DBTX, docName string) (int, *time.Time, error) {
	var count int
	var latest sql.NullTime
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(created_at) FROM snapshots WHERE doc_name = $1`, docName,
	).Scan(&count, &latest)
	if err != nil {
		return 0, nil, types.StorageError("count snapshots", err)
	}
	if latest.Valid {
		t := latest.Time
		return count, &t, nil
	}
	return count, nil, nil
}

// ClearForNote deletes snapshots for the note doc and all its panel docs.
func ClearForNote(ctx context.Context, db store.DBTX, noteDoc, panelPattern string) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE doc_name = $1 OR doc_name LIKE $2`, noteDoc, panelPattern)
	if err != nil {
		return 0, types.StorageError("clear note snapshots", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
