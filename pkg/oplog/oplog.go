package oplog

import (
	"context"
	"database/sql"
	"time"

	"github.com/dandytbermillo/annotation/pkg/store"
	"github.com/dandytbermillo/annotation/pkg/types"
)

// Append inserts one update record with a server-assigned timestamp and id.
// The record is durable once this returns without error.
func Append(ctx context.Context, db store.DBTX, docName string, payload []byte, clientID string) (*types.UpdateRecord, error) {
	rec := &types.UpdateRecord{DocName: docName, Payload: payload, ClientID: clientID}

	var client sql.NullString
	if clientID != "" {
		client = sql.NullString{String: clientID, Valid: true}
	}

	err := db.QueryRowContext(ctx,
		`INSERT INTO updates (doc_name, "update", client_id, timestamp)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id, timestamp`,
		docName, payload, client,
	).Scan(&rec.ID, &rec.Timestamp)
	if err != nil {
		return nil, types.StorageError("append update", err)
	}
	return rec, nil
}

// ReadAll returns every update for docName in (timestamp, id) ascending
// order — the canonical replay order.
func ReadAll(ctx context.Context, db store.DBTX, docName string) ([]types.UpdateRecord, error) {
	return readRange(ctx, db, docName, time.Time{})
}

// ReadSince returns updates strictly newer than cutoff, same ordering.
// Load uses this to fetch the tail beyond the latest snapshot.
func ReadSince(ctx context.Context, db store.DBTX, docName string, cutoff time.Time) ([]types.UpdateRecord, error) {
	return readRange(ctx, db, docName, cutoff)
}

func readRange(ctx context.Context, db store.DBTX, docName string, cutoff time.Time) ([]types.UpdateRecord, error) {
	query := `SELECT id, doc_name, "update", client_id, timestamp FROM updates
		 WHERE doc_name = $1 ORDER BY timestamp ASC, id ASC`
	args := []any{docName}
	if !cutoff.IsZero() {
		query = `SELECT id, doc_name, "update", client_id, timestamp FROM updates
		 WHERE doc_name = $1 AND timestamp > $2 ORDER BY timestamp ASC, id ASC`
		args = append(args, cutoff)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.StorageError("read updates", err)
	}
	defer rows.Close()

	var records []types.UpdateRecord
	for rows.Next() {
		var rec types.UpdateRecord
		var client sql.NullString
		if err := rows.Scan(&rec.ID, &rec.DocName, &rec.Payload, &client, &rec.Timestamp); err != nil {
			return nil, types.StorageError("scan update", err)
		}
		rec.ClientID = client.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StorageError("iterate updates", err)
	}
	return records, nil
}

// TruncateThrough deletes updates up to and including the (timestamp, id)
// bound observed when the compaction snapshot was cut. Updates committed
// after that bound survive, which is what keeps concurrent appends safe.
func TruncateThrough(ctx context.Context, db store.DBTX, docName string, maxTS time.Time, maxID int64) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM updates
		 WHERE doc_name = $1 AND (timestamp, id) <= ($2, $3)`,
		docName, maxTS, maxID)
	if err != nil {
		return 0, types.StorageError("truncate updates", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Clear deletes all updates for docName. Snapshots are untouched.
func Clear(ctx context.Context, db store.DBTX, docName string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM updates WHERE doc_name = $1`, docName)
	if err != nil {
		return 0, types.StorageError("clear updates", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearBefore deletes updates older than the given instant.
func ClearBefore(ctx context.Context, db store.DBTX, docName string, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM updates WHERE doc_name = $1 AND timestamp < $2`, docName, before)
	if err != nil {
		return 0, types.StorageError("clear updates", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearForNote deletes updates for the note doc and all its panel docs.
// Used by the delete coordinator inside its transaction.
func ClearForNote(ctx context.Context, db store.DBTX, noteDoc, panelPattern string) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM updates WHERE doc_name = $1 OR doc_name LIKE $2`, noteDoc, panelPattern)
	if err != nil {
		return 0, types.StorageError("clear note updates", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats are the cheap aggregates feeding the compaction decision.
type Stats struct {
	Count  int
	Size   int64
	Oldest *time.Time
	Newest *time.Time
}

// StatsFor returns count, total payload size and timestamp bounds for a doc.
func StatsFor(ctx context.Context, db store.DBTX, docName string) (Stats, error) {
	var s Stats
	var size sql.NullInt64
	var oldest, newest sql.NullTime

	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH("update")), 0), MIN(timestamp), MAX(timestamp)
		 FROM updates WHERE doc_name = $1`, docName,
	).Scan(&s.Count, &size, &oldest, &newest)
	if err != nil {
		return s, types.StorageError("update stats", err)
	}

	s.Size = size.Int64
	if oldest.Valid {
		t := oldest.Time
		s.Oldest = &t
	}
	if newest.Valid {
		t := newest.Time
		s.Newest = &t
	}
	return s, nil
}
