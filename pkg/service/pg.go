package service

import (
	"context"
	"time"

	"github.com/dandytbermillo/annotation/pkg/oplog"
	"github.com/dandytbermillo/annotation/pkg/snapshot"
	"github.com/dandytbermillo/annotation/pkg/store"
	"github.com/dandytbermillo/annotation/pkg/types"
)

// PGStorage adapts the store and engines to the service's Storage
// interface. Reads retry transient failures through the store policy.
type PGStorage struct {
	Store *store.Store
}

func (p *PGStorage) ReadAll(ctx context.Context, docName string) ([]types.UpdateRecord, error) {
	var records []types.UpdateRecord
	err := p.Store.WithRetry(ctx, "read_all", func(ctx context.Context) error {
		var err error
		records, err = oplog.ReadAll(ctx, p.Store.DB(), docName)
		return err
	})
	return records, err
}

func (p *PGStorage) ReadSince(ctx context.Context, docName string, cutoff time.Time) ([]types.UpdateRecord, error) {
	var records []types.UpdateRecord
	err := p.Store.WithRetry(ctx, "read_since", func(ctx context.Context) error {
		var err error
		records, err = oplog.ReadSince(ctx, p.Store.DB(), docName, cutoff)
		return err
	})
	return records, err
}

func (p *PGStorage) ClearUpdates(ctx context.Context, docName string) (int64, error) {
	ctx, cancel := p.Store.AcquireContext(ctx)
	defer cancel()
	return oplog.Clear(ctx, p.Store.DB(), docName)
}

func (p *PGStorage) ClearUpdatesBefore(ctx context.Context, docName string, before time.Time) (int64, error) {
	ctx, cancel := p.Store.AcquireContext(ctx)
	defer cancel()
	return oplog.ClearBefore(ctx, p.Store.DB(), docName, before)
}

func (p *PGStorage) LatestSnapshot(ctx context.Context, docName string) (*types.Snapshot, error) {
	var snap *types.Snapshot
	err := p.Store.WithRetry(ctx, "latest_snapshot", func(ctx context.Context) error {
		var err error
		snap, err = snapshot.Latest(ctx, p.Store.DB(), docName)
		return err
	})
	return snap, err
}

func (p *PGStorage) SnapshotByChecksum(ctx context.Context, docName, checksum string) (*types.Snapshot, error) {
	ctx, cancel := p.Store.AcquireContext(ctx)
	defer cancel()
	return snapshot.ByChecksum(ctx, p.Store.DB(), docName, checksum)
}

func (p *PGStorage) SaveSnapshot(ctx context.Context, in snapshot.SaveInput) (*types.Snapshot, error) {
	return snapshot.Save(ctx, p.Store.DB(), in)
}

func (p *PGStorage) PruneSnapshots(ctx context.Context, docName string, keep int) (int64, error) {
	ctx, cancel := p.Store.AcquireContext(ctx)
	defer cancel()
	return snapshot.PruneToLast(ctx, p.Store.DB(), docName, keep)
}

func (p *PGStorage) Health(ctx context.Context) types.HealthStatus {
	return p.Store.Health(ctx)
}

// LogAppender adapts the update log to the batching writer's sink, with a
// per-append deadline and the store retry policy.
type LogAppender struct {
	Store *store.Store
}

func (a *LogAppender) Append(ctx context.Context, docName string, payload []byte, clientID string) error {
	return a.Store.WithRetry(ctx, "append", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err := oplog.Append(ctx, a.Store.DB(), docName, payload, clientID)
		return err
	})
}
