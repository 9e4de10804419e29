package service

import (
	"context"
	"time"

	"github.com/dandytbermillo/annotation/pkg/codec"
	"github.com/dandytbermillo/annotation/pkg/deletion"
	"github.com/dandytbermillo/annotation/pkg/log"
	"github.com/dandytbermillo/annotation/pkg/metrics"
	"github.com/dandytbermillo/annotation/pkg/snapshot"
	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Storage is the read/write surface the service needs beyond the batching
// writer. The Postgres implementation lives in pg.go.
type Storage interface {
	ReadAll(ctx context.Context, docName string) ([]types.UpdateRecord, error)
	ReadSince(ctx context.Context, docName string, cutoff time.Time) ([]types.UpdateRecord, error)
	ClearUpdates(ctx context.Context, docName string) (int64, error)
	ClearUpdatesBefore(ctx context.Context, docName string, before time.Time) (int64, error)
	LatestSnapshot(ctx context.Context, docName string) (*types.Snapshot, error)
	SnapshotByChecksum(ctx context.Context, docName, checksum string) (*types.Snapshot, error)
	SaveSnapshot(ctx context.Context, in snapshot.SaveInput) (*types.Snapshot, error)
	PruneSnapshots(ctx context.Context, docName string, keep int) (int64, error)
	Health(ctx context.Context) types.HealthStatus
}

// Writer is the batching writer surface used by the service.
type Writer interface {
	Enqueue(ctx context.Context, docName string, payload []byte, clientID string) error
	Flush(ctx context.Context, docName string, reason types.FlushReason) error
	FlushAll(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Compaction is the compactor surface used by the service.
type Compaction interface {
	Compact(ctx context.Context, docName string, force bool) (*types.CompactResult, error)
	Status(ctx context.Context, docName string) (*types.CompactStatus, error)
	MaybeCompact(docName string)
}

// Deleter cascades note deletes.
type Deleter interface {
	SoftDelete(ctx context.Context, noteID string) (*types.DeleteResult, error)
	HardDelete(ctx context.Context, noteID, confirm string) (*types.DeleteResult, error)
}

// Service is the request/response facade over the persistence engines.
// Every mutation is either a single append or a single transaction, so
// callers never observe partial writes.
type Service struct {
	storage     Storage
	writer      Writer
	compactor   Compaction
	deleter     Deleter
	codec       codec.Codec
	autoCompact bool
	logger      zerolog.Logger
}

// New wires the facade. Set autoCompact to run the threshold check after
// each persist.
func New(storage Storage, writer Writer, compaction Compaction, deleter Deleter, c codec.Codec, autoCompact bool) *Service {
	return &Service{
		storage:     storage,
		writer:      writer,
		compactor:   compaction,
		deleter:     deleter,
		codec:       c,
		autoCompact: autoCompact,
		logger:      log.Component("service"),
	}
}

// logOp emits the per-operation structured line and drives the operation
// metrics. Called via defer from every public method.
func (s *Service) logOp(action, docName string, start time.Time, err *error) {
	duration := time.Since(start)

	status := "ok"
	if *err != nil {
		status = "error"
	}
	metrics.OperationsTotal.WithLabelValues(action, status).Inc()
	metrics.OperationDuration.WithLabelValues(action).Observe(duration.Seconds())

	log.Operation(s.logger, action, docName, duration, *err)
}

// Persist enqueues one update for docName. It acknowledges as soon as the
// update is queued; durability follows at the next flush. During shutdown
// the write is synchronous and a storage failure surfaces here.
func (s *Service) Persist(ctx context.Context, docName string, payload []byte, clientID string) (err error) {
	defer s.logOp("persist", docName, time.Now(), &err)

	if docName == "" {
		return types.ValidationError("docName is required")
	}
	if len(payload) == 0 {
		return types.ValidationError("update payload is empty")
	}

	if err = s.writer.Enqueue(ctx, docName, payload, clientID); err != nil {
		return err
	}
	if s.autoCompact {
		s.compactor.MaybeCompact(docName)
	}
	return nil
}

// Load returns a single blob representing every persisted update for
// docName: the latest snapshot merged with the log tail beyond it. Returns
// nil when the doc has never been seen.
func (s *Service) Load(ctx context.Context, docName string) (blob []byte, err error) {
	defer s.logOp("load", docName, time.Now(), &err)

	if docName == "" {
		return nil, types.ValidationError("docName is required")
	}
	if err = s.writer.Flush(ctx, docName, types.FlushReasonManual); err != nil {
		return nil, err
	}

	snap, err := s.storage.LatestSnapshot(ctx, docName)
	if err != nil {
		return nil, err
	}

	var updates []types.UpdateRecord
	if snap != nil {
		updates, err = s.storage.ReadSince(ctx, docName, snap.CreatedAt)
	} else {
		updates, err = s.storage.ReadAll(ctx, docName)
	}
	if err != nil {
		return nil, err
	}

	blobs := make([][]byte, 0, len(updates)+1)
	if snap != nil {
		blobs = append(blobs, snap.State)
	}
	for _, u := range updates {
		blobs = append(blobs, u.Payload)
	}

	switch len(blobs) {
	case 0:
		return nil, nil
	case 1:
		return blobs[0], nil
	default:
		return s.codec.Merge(blobs)
	}
}

// ReadAll returns the raw update records for docName in replay order.
func (s *Service) ReadAll(ctx context.Context, docName string) (records []types.UpdateRecord, err error) {
	defer s.logOp("getAllUpdates", docName, time.Now(), &err)

	if docName == "" {
		return nil, types.ValidationError("docName is required")
	}
	if err = s.writer.Flush(ctx, docName, types.FlushReasonManual); err != nil {
		return nil, err
	}
	return s.storage.ReadAll(ctx, docName)
}

// ClearUpdates deletes update records for docName, optionally only those
// older than before. Snapshots are untouched.
func (s *Service) ClearUpdates(ctx context.Context, docName string, before *time.Time) (deleted int64, err error) {
	defer s.logOp("clearUpdates", docName, time.Now(), &err)

	if docName == "" {
		return 0, types.ValidationError("docName is required")
	}
	if err = s.writer.Flush(ctx, docName, types.FlushReasonManual); err != nil {
		return 0, err
	}
	if before != nil {
		return s.storage.ClearUpdatesBefore(ctx, docName, *before)
	}
	return s.storage.ClearUpdates(ctx, docName)
}

// SaveSnapshot stores a full-state blob, idempotently by checksum: saving
// bytes that already exist writes no row and returns a duplicate result
// carrying only the checksum.
func (s *Service) SaveSnapshot(ctx context.Context, docName string, blob []byte, panels []byte) (result *types.SaveSnapshotResult, err error) {
	defer s.logOp("saveSnapshot", docName, time.Now(), &err)

	if docName == "" {
		return nil, types.ValidationError("docName is required")
	}
	if len(blob) == 0 {
		return nil, types.ValidationError("snapshot payload is empty")
	}
	if err = s.writer.Flush(ctx, docName, types.FlushReasonManual); err != nil {
		return nil, err
	}

	checksum := snapshot.Checksum(blob)
	existing, err := s.storage.SnapshotByChecksum(ctx, docName, checksum)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &types.SaveSnapshotResult{Checksum: checksum, Duplicate: true}, nil
	}

	saved, err := s.storage.SaveSnapshot(ctx, snapshot.SaveInput{
		DocName:  docName,
		NoteID:   noteIDFor(docName),
		State:    blob,
		Checksum: checksum,
		Panels:   panels,
	})
	if err != nil {
		return nil, err
	}
	return &types.SaveSnapshotResult{
		ID:        saved.ID,
		Checksum:  saved.Checksum,
		Size:      saved.SizeBytes,
		CreatedAt: saved.CreatedAt,
	}, nil
}

// LoadSnapshot returns the newest snapshot for docName, or the one with
// the given checksum. Nil when none exists.
func (s *Service) LoadSnapshot(ctx context.Context, docName, checksum string) (snap *types.Snapshot, err error) {
	defer s.logOp("loadSnapshot", docName, time.Now(), &err)

	if docName == "" {
		return nil, types.ValidationError("docName is required")
	}
	if checksum != "" {
		return s.storage.SnapshotByChecksum(ctx, docName, checksum)
	}
	return s.storage.LatestSnapshot(ctx, docName)
}

// PruneSnapshots deletes all but the newest keep snapshots for docName.
func (s *Service) PruneSnapshots(ctx context.Context, docName string, keep int) (deleted int64, err error) {
	defer s.logOp("pruneSnapshots", docName, time.Now(), &err)

	if docName == "" {
		return 0, types.ValidationError("docName is required")
	}
	return s.storage.PruneSnapshots(ctx, docName, keep)
}

// Compact flushes pending updates and runs compaction for docName.
func (s *Service) Compact(ctx context.Context, docName string, force bool) (result *types.CompactResult, err error) {
	defer s.logOp("compact", docName, time.Now(), &err)

	if docName == "" {
		return nil, types.ValidationError("docName is required")
	}
	if err = s.writer.Flush(ctx, docName, types.FlushReasonManual); err != nil {
		return nil, err
	}
	return s.compactor.Compact(ctx, docName, force)
}

// CompactStatus reports log size, snapshot state and the compaction
// recommendation for docName. Read-only.
func (s *Service) CompactStatus(ctx context.Context, docName string) (status *types.CompactStatus, err error) {
	defer s.logOp("compactStatus", docName, time.Now(), &err)

	if docName == "" {
		return nil, types.ValidationError("docName is required")
	}
	return s.compactor.Status(ctx, docName)
}

// DeleteDoc soft- or hard-deletes a note and everything hanging off it.
// doc may be a bare note id or a "note:<id>" doc name. Hard deletes
// require the confirmation token.
func (s *Service) DeleteDoc(ctx context.Context, doc string, hard bool, confirm string) (result *types.DeleteResult, err error) {
	defer s.logOp("deleteDoc", doc, time.Now(), &err)

	noteID := doc
	if id, ok := deletion.NoteIDFromDoc(doc); ok {
		noteID = id
	}

	if err = s.writer.FlushAll(ctx); err != nil {
		return nil, err
	}
	if hard {
		return s.deleter.HardDelete(ctx, noteID, confirm)
	}
	return s.deleter.SoftDelete(ctx, noteID)
}

// HealthCheck reports database reachability and pool state. Never errors;
// an unreachable database yields healthy=false.
func (s *Service) HealthCheck(ctx context.Context) types.HealthStatus {
	return s.storage.Health(ctx)
}

// Shutdown drains the batching writer. Updates arriving afterwards are
// written synchronously until the process exits.
func (s *Service) Shutdown(ctx context.Context) (err error) {
	defer s.logOp("shutdown", "", time.Now(), &err)
	return s.writer.Shutdown(ctx)
}

// noteIDFor derives the snapshots.note_id column value from a doc name.
// Only well-formed "note:<uuid>" docs produce one.
func noteIDFor(docName string) string {
	id, ok := deletion.NoteIDFromDoc(docName)
	if !ok {
		return ""
	}
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}
