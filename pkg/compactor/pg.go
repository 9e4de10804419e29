package compactor

import (
	"context"
	"database/sql"
	"time"

	"github.com/dandytbermillo/annotation/pkg/oplog"
	"github.com/dandytbermillo/annotation/pkg/snapshot"
	"github.com/dandytbermillo/annotation/pkg/store"
	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/google/uuid"
)

// PGBackend adapts the store and engines to the compactor's Backend.
type PGBackend struct {
	Store *store.Store
}

func (b *PGBackend) Stats(ctx context.Context, docName string) (oplog.Stats, error) {
	return oplog.StatsFor(ctx, b.Store.DB(), docName)
}

func (b *PGBackend) SnapshotCount(ctx context.Context, docName string) (int, *time.Time, error) {
	return snapshot.CountFor(ctx, b.Store.DB(), docName)
}

func (b *PGBackend) DocsWithUpdates(ctx context.Context) ([]string, error) {
	rows, err := b.Store.DB().QueryContext(ctx, `SELECT DISTINCT doc_name FROM updates`)
	if err != nil {
		return nil, types.StorageError("list documents", err)
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, types.StorageError("scan document name", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StorageError("iterate documents", err)
	}
	return docs, nil
}

func (b *PGBackend) Run(ctx context.Context, fn func(tx Tx) error) error {
	return b.Store.Transaction(ctx, func(tx *sql.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LatestSnapshot(ctx context.Context, docName string) (*types.Snapshot, error) {
	return snapshot.Latest(ctx, t.tx, docName)
}

func (t *pgTx) ReadAll(ctx context.Context, docName string) ([]types.UpdateRecord, error) {
	return oplog.ReadAll(ctx, t.tx, docName)
}

func (t *pgTx) SaveSnapshot(ctx context.Context, in snapshot.SaveInput) (*types.Snapshot, error) {
	return snapshot.Save(ctx, t.tx, in)
}

func (t *pgTx) TruncateThrough(ctx context.Context, docName string, maxTS time.Time, maxID int64) (int64, error) {
	return oplog.TruncateThrough(ctx, t.tx, docName, maxTS, maxID)
}

func (t *pgTx) PruneToLast(ctx context.Context, docName string, keep int) (int64, error) {
	return snapshot.PruneToLast(ctx, t.tx, docName, keep)
}

func (t *pgTx) LogCompaction(ctx context.Context, entry types.CompactionEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO compaction_log (id, doc_name, updates_before, updates_after, snapshot_size, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		uuid.NewString(), entry.DocName, entry.UpdatesBefore, entry.UpdatesAfter,
		entry.SnapshotSize, entry.Duration.Milliseconds())
	if err != nil {
		return types.StorageError("log compaction", err)
	}
	return nil
}
