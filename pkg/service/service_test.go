package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dandytbermillo/annotation/pkg/codec"
	"github.com/dandytbermillo/annotation/pkg/snapshot"
	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStorage is an in-memory Storage implementation.
type fakeStorage struct {
	mu        sync.Mutex
	updates   map[string][]types.UpdateRecord
	snapshots map[string][]types.Snapshot
	nextID    int64
	clock     time.Time
	healthy   bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		updates:   make(map[string][]types.UpdateRecord),
		snapshots: make(map[string][]types.Snapshot),
		clock:     time.Now().Add(-time.Hour),
		healthy:   true,
	}
}

func (f *fakeStorage) append(docName string, payload []byte, clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.clock = f.clock.Add(time.Millisecond)
	f.updates[docName] = append(f.updates[docName], types.UpdateRecord{
		ID: f.nextID, DocName: docName, Payload: payload, ClientID: clientID, Timestamp: f.clock,
	})
}

func (f *fakeStorage) ReadAll(ctx context.Context, docName string) ([]types.UpdateRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.UpdateRecord(nil), f.updates[docName]...), nil
}

func (f *fakeStorage) ReadSince(ctx context.Context, docName string, cutoff time.Time) ([]types.UpdateRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.UpdateRecord
	for _, u := range f.updates[docName] {
		if u.Timestamp.After(cutoff) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStorage) ClearUpdates(ctx context.Context, docName string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.updates[docName]))
	delete(f.updates, docName)
	return n, nil
}

func (f *fakeStorage) ClearUpdatesBefore(ctx context.Context, docName string, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []types.UpdateRecord
	var removed int64
	for _, u := range f.updates[docName] {
		if u.Timestamp.Before(before) {
			removed++
		} else {
			kept = append(kept, u)
		}
	}
	f.updates[docName] = kept
	return removed, nil
}

func (f *fakeStorage) LatestSnapshot(ctx context.Context, docName string) (*types.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snaps := f.snapshots[docName]
	if len(snaps) == 0 {
		return nil, nil
	}
	s := snaps[len(snaps)-1]
	return &s, nil
}

func (f *fakeStorage) SnapshotByChecksum(ctx context.Context, docName, checksum string) (*types.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.snapshots[docName] {
		if s.Checksum == checksum {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStorage) SaveSnapshot(ctx context.Context, in snapshot.SaveInput) (*types.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Millisecond)
	snap := types.Snapshot{
		ID:       uuid.NewString(),
		NoteID:   in.NoteID,
		DocName:  in.DocName,
		State:    in.State,
		Checksum: snapshot.Checksum(in.State),
		SizeBytes: len(in.State),
		Panels:   in.Panels,
		CreatedAt: f.clock,
	}
	f.snapshots[in.DocName] = append(f.snapshots[in.DocName], snap)
	return &snap, nil
}

func (f *fakeStorage) PruneSnapshots(ctx context.Context, docName string, keep int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snaps := f.snapshots[docName]
	if len(snaps) <= keep {
		return 0, nil
	}
	removed := int64(len(snaps) - keep)
	f.snapshots[docName] = snaps[len(snaps)-keep:]
	return removed, nil
}

func (f *fakeStorage) Health(ctx context.Context) types.HealthStatus {
	return types.HealthStatus{Healthy: f.healthy, Timestamp: time.Now()}
}

// fakeWriter buffers enqueued updates and lands them in storage on flush,
// mirroring the real batcher's contract.
type fakeWriter struct {
	mu       sync.Mutex
	storage  *fakeStorage
	pending  map[string][]types.UpdateRecord
	flushes  []string
	shutdown bool
}

func newFakeWriter(storage *fakeStorage) *fakeWriter {
	return &fakeWriter{storage: storage, pending: make(map[string][]types.UpdateRecord)}
}

func (w *fakeWriter) Enqueue(ctx context.Context, docName string, payload []byte, clientID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.shutdown {
		w.storage.append(docName, payload, clientID)
		return nil
	}
	w.pending[docName] = append(w.pending[docName], types.UpdateRecord{DocName: docName, Payload: payload, ClientID: clientID})
	return nil
}

func (w *fakeWriter) Flush(ctx context.Context, docName string, reason types.FlushReason) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes = append(w.flushes, docName)
	for _, u := range w.pending[docName] {
		w.storage.append(docName, u.Payload, u.ClientID)
	}
	delete(w.pending, docName)
	return nil
}

func (w *fakeWriter) FlushAll(ctx context.Context) error {
	w.mu.Lock()
	docs := make([]string, 0, len(w.pending))
	for d := range w.pending {
		docs = append(docs, d)
	}
	w.mu.Unlock()
	for _, d := range docs {
		_ = w.Flush(ctx, d, types.FlushReasonManual)
	}
	w.mu.Lock()
	w.flushes = append(w.flushes, "*")
	w.mu.Unlock()
	return nil
}

func (w *fakeWriter) Shutdown(ctx context.Context) error {
	_ = w.FlushAll(ctx)
	w.mu.Lock()
	w.shutdown = true
	w.mu.Unlock()
	return nil
}

type fakeCompaction struct {
	mu       sync.Mutex
	compacts []string
	maybes   []string
}

func (f *fakeCompaction) Compact(ctx context.Context, docName string, force bool) (*types.CompactResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compacts = append(f.compacts, docName)
	return &types.CompactResult{DocName: docName, CompactedCount: 1}, nil
}

func (f *fakeCompaction) Status(ctx context.Context, docName string) (*types.CompactStatus, error) {
	return &types.CompactStatus{DocName: docName}, nil
}

func (f *fakeCompaction) MaybeCompact(docName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maybes = append(f.maybes, docName)
}

type fakeDeleter struct {
	mu    sync.Mutex
	calls []struct {
		noteID  string
		hard    bool
		confirm string
	}
}

func (f *fakeDeleter) SoftDelete(ctx context.Context, noteID string) (*types.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		noteID  string
		hard    bool
		confirm string
	}{noteID, false, ""})
	return &types.DeleteResult{NoteID: noteID}, nil
}

func (f *fakeDeleter) HardDelete(ctx context.Context, noteID, confirm string) (*types.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if confirm != "PERMANENTLY-DELETE" {
		return nil, types.AuthorizationError("hard delete requires confirmation")
	}
	f.calls = append(f.calls, struct {
		noteID  string
		hard    bool
		confirm string
	}{noteID, true, confirm})
	return &types.DeleteResult{NoteID: noteID, Hard: true}, nil
}

type fixture struct {
	storage   *fakeStorage
	writer    *fakeWriter
	compactor *fakeCompaction
	deleter   *fakeDeleter
	svc       *Service
}

func newFixture(autoCompact bool) *fixture {
	storage := newFakeStorage()
	writer := newFakeWriter(storage)
	compaction := &fakeCompaction{}
	deleter := &fakeDeleter{}
	return &fixture{
		storage:   storage,
		writer:    writer,
		compactor: compaction,
		deleter:   deleter,
		svc:       New(storage, writer, compaction, deleter, codec.New(), autoCompact),
	}
}

func blob(key string, clock uint64, value string) []byte {
	return codec.EncodeEntries([]codec.Entry{{Key: key, Clock: clock, Actor: "test", Value: []byte(value)}})
}

func TestPersistValidation(t *testing.T) {
	f := newFixture(false)

	err := f.svc.Persist(context.Background(), "", blob("k", 1, "v"), "")
	assert.True(t, types.IsKind(err, types.KindValidation))

	err = f.svc.Persist(context.Background(), "note:d", nil, "")
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestPersistEnqueuesAndTriggersAutoCompact(t *testing.T) {
	f := newFixture(true)

	require.NoError(t, f.svc.Persist(context.Background(), "note:d", blob("k", 1, "v"), "client-1"))

	f.writer.mu.Lock()
	pending := len(f.writer.pending["note:d"])
	f.writer.mu.Unlock()
	assert.Equal(t, 1, pending)

	f.compactor.mu.Lock()
	maybes := len(f.compactor.maybes)
	f.compactor.mu.Unlock()
	assert.Equal(t, 1, maybes)
}

func TestPersistSkipsAutoCompactWhenDisabled(t *testing.T) {
	f := newFixture(false)

	require.NoError(t, f.svc.Persist(context.Background(), "note:d", blob("k", 1, "v"), ""))

	f.compactor.mu.Lock()
	defer f.compactor.mu.Unlock()
	assert.Empty(t, f.compactor.maybes)
}

func TestLoadNeverSeenDocReturnsNone(t *testing.T) {
	f := newFixture(false)

	out, err := f.svc.Load(context.Background(), "note:never")
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Contains(t, f.writer.flushes, "note:never", "Load must flush first")
}

func TestLoadReflectsPendingWrites(t *testing.T) {
	f := newFixture(false)
	c := codec.New()

	// Persisted but not yet flushed; Load's implied flush makes it visible.
	require.NoError(t, f.svc.Persist(context.Background(), "note:d", blob("greeting", 1, "Hello"), ""))

	out, err := f.svc.Load(context.Background(), "note:d")
	require.NoError(t, err)
	require.NotNil(t, out)

	doc := c.NewDoc()
	require.NoError(t, c.Apply(doc, out))
	entries, err := codec.Entries(doc)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("Hello"), entries[0].Value)
}

func TestLoadMergesSnapshotAndTail(t *testing.T) {
	f := newFixture(false)
	c := codec.New()

	// Snapshot state first, then two later updates.
	doc := c.NewDoc()
	require.NoError(t, c.Apply(doc, blob("base", 1, "from-snapshot")))
	state, err := c.Encode(doc)
	require.NoError(t, err)
	_, err = f.storage.SaveSnapshot(context.Background(), snapshot.SaveInput{DocName: "note:d", State: state})
	require.NoError(t, err)

	f.storage.append("note:d", blob("tail1", 1, "a"), "")
	f.storage.append("note:d", blob("tail2", 1, "b"), "")

	out, err := f.svc.Load(context.Background(), "note:d")
	require.NoError(t, err)

	loaded := c.NewDoc()
	require.NoError(t, c.Apply(loaded, out))
	entries, err := codec.Entries(loaded)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "snapshot state and log tail must both be present")
}

func TestReadAllImpliesFlush(t *testing.T) {
	f := newFixture(false)

	require.NoError(t, f.svc.Persist(context.Background(), "note:d", blob("k", 1, "v"), "client-7"))

	records, err := f.svc.ReadAll(context.Background(), "note:d")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "client-7", records[0].ClientID)
}

func TestClearUpdates(t *testing.T) {
	f := newFixture(false)
	for i := 0; i < 3; i++ {
		f.storage.append("note:d", blob(fmt.Sprintf("k%d", i), 1, "v"), "")
	}

	n, err := f.svc.ClearUpdates(context.Background(), "note:d", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	records, err := f.svc.ReadAll(context.Background(), "note:d")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSaveSnapshotIdempotent(t *testing.T) {
	f := newFixture(false)
	state := blob("k", 1, "v")

	first, err := f.svc.SaveSnapshot(context.Background(), "note:d", state, nil)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, snapshot.Checksum(state), first.Checksum)

	second, err := f.svc.SaveSnapshot(context.Background(), "note:d", state, nil)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Checksum, second.Checksum)

	assert.Len(t, f.storage.snapshots["note:d"], 1, "duplicate save must not add a row")
}

func TestSaveSnapshotValidation(t *testing.T) {
	f := newFixture(false)

	_, err := f.svc.SaveSnapshot(context.Background(), "note:d", nil, nil)
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestSaveSnapshotDerivesNoteID(t *testing.T) {
	f := newFixture(false)
	noteID := uuid.NewString()

	_, err := f.svc.SaveSnapshot(context.Background(), "note:"+noteID, blob("k", 1, "v"), nil)
	require.NoError(t, err)
	assert.Equal(t, noteID, f.storage.snapshots["note:"+noteID][0].NoteID)

	// Panel docs carry no note_id.
	_, err = f.svc.SaveSnapshot(context.Background(), "panel:"+noteID+":p1", blob("k", 1, "v"), nil)
	require.NoError(t, err)
	assert.Empty(t, f.storage.snapshots["panel:"+noteID+":p1"][0].NoteID)
}

func TestSaveSnapshotKeepsPanelsSidecar(t *testing.T) {
	f := newFixture(false)
	panels := json.RawMessage(`{"p1":{"x":10}}`)

	_, err := f.svc.SaveSnapshot(context.Background(), "note:d", blob("k", 1, "v"), panels)
	require.NoError(t, err)

	snap, err := f.svc.LoadSnapshot(context.Background(), "note:d", "")
	require.NoError(t, err)
	assert.JSONEq(t, string(panels), string(snap.Panels))
}

func TestLoadSnapshotByChecksum(t *testing.T) {
	f := newFixture(false)
	a := blob("a", 1, "1")
	b := blob("b", 1, "2")

	ra, err := f.svc.SaveSnapshot(context.Background(), "note:d", a, nil)
	require.NoError(t, err)
	_, err = f.svc.SaveSnapshot(context.Background(), "note:d", b, nil)
	require.NoError(t, err)

	snap, err := f.svc.LoadSnapshot(context.Background(), "note:d", ra.Checksum)
	require.NoError(t, err)
	assert.Equal(t, a, snap.State)

	// No checksum: newest wins.
	snap, err = f.svc.LoadSnapshot(context.Background(), "note:d", "")
	require.NoError(t, err)
	assert.Equal(t, b, snap.State)

	// Unknown checksum: none.
	snap, err = f.svc.LoadSnapshot(context.Background(), "note:d", "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCompactFlushesFirst(t *testing.T) {
	f := newFixture(false)

	result, err := f.svc.Compact(context.Background(), "note:d", true)
	require.NoError(t, err)
	assert.Equal(t, "note:d", result.DocName)
	assert.Contains(t, f.writer.flushes, "note:d")
}

func TestDeleteDocStripsPrefixAndFlushes(t *testing.T) {
	f := newFixture(false)
	noteID := uuid.NewString()

	result, err := f.svc.DeleteDoc(context.Background(), "note:"+noteID, false, "")
	require.NoError(t, err)
	assert.Equal(t, noteID, result.NoteID)
	assert.Contains(t, f.writer.flushes, "*", "delete must flush everything first")

	require.Len(t, f.deleter.calls, 1)
	assert.Equal(t, noteID, f.deleter.calls[0].noteID)
	assert.False(t, f.deleter.calls[0].hard)
}

func TestDeleteDocHardRequiresConfirmation(t *testing.T) {
	f := newFixture(false)
	noteID := uuid.NewString()

	_, err := f.svc.DeleteDoc(context.Background(), noteID, true, "")
	assert.True(t, types.IsKind(err, types.KindAuthorization))
	assert.Empty(t, f.deleter.calls)

	result, err := f.svc.DeleteDoc(context.Background(), noteID, true, "PERMANENTLY-DELETE")
	require.NoError(t, err)
	assert.True(t, result.Hard)
}

func TestHealthCheckNeverErrors(t *testing.T) {
	f := newFixture(false)

	status := f.svc.HealthCheck(context.Background())
	assert.True(t, status.Healthy)

	f.storage.healthy = false
	status = f.svc.HealthCheck(context.Background())
	assert.False(t, status.Healthy)
}

func TestShutdownDrainsThenBypasses(t *testing.T) {
	f := newFixture(false)

	require.NoError(t, f.svc.Persist(context.Background(), "note:d", blob("k", 1, "v"), ""))
	require.NoError(t, f.svc.Shutdown(context.Background()))

	records, err := f.storage.ReadAll(context.Background(), "note:d")
	require.NoError(t, err)
	assert.Len(t, records, 1, "shutdown must drain pending updates")

	// Post-shutdown persists land synchronously.
	require.NoError(t, f.svc.Persist(context.Background(), "note:d", blob("k2", 1, "v"), ""))
	records, _ = f.storage.ReadAll(context.Background(), "note:d")
	assert.Len(t, records, 2)
}
