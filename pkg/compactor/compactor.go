package compactor

import (
	"context"
	"sync"
	"time"

	"github.com/dandytbermillo/annotation/pkg/codec"
	"github.com/dandytbermillo/annotation/pkg/events"
	"github.com/dandytbermillo/annotation/pkg/log"
	"github.com/dandytbermillo/annotation/pkg/metrics"
	"github.com/dandytbermillo/annotation/pkg/oplog"
	"github.com/dandytbermillo/annotation/pkg/snapshot"
	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds the compaction thresholds and retention limit.
type Config struct {
	UpdateThreshold int
	SizeThreshold   int64
	AgeThreshold    time.Duration
	Keep            int
	SweepInterval   time.Duration
}

// Tx is the set of storage operations the compaction algorithm performs
// inside its transaction.
type Tx interface {
	LatestSnapshot(ctx context.Context, docName string) (*types.Snapshot, error)
	ReadAll(ctx context.Context, docName string) ([]types.UpdateRecord, error)
	SaveSnapshot(ctx context.Context, in snapshot.SaveInput) (*types.Snapshot, error)
	TruncateThrough(ctx context.Context, docName string, maxTS time.Time, maxID int64) (int64, error)
	PruneToLast(ctx context.Context, docName string, keep int) (int64, error)
	LogCompaction(ctx context.Context, entry types.CompactionEntry) error
}

// Backend abstracts the store for the compactor. Run executes fn inside a
// single transaction; the other calls run against the pool directly.
type Backend interface {
	Stats(ctx context.Context, docName string) (oplog.Stats, error)
	SnapshotCount(ctx context.Context, docName string) (int, *time.Time, error)
	DocsWithUpdates(ctx context.Context) ([]string, error)
	Run(ctx context.Context, fn func(tx Tx) error) error
}

// Compactor folds a document's accumulated updates into a snapshot and
// truncates the consumed range, atomically.
type Compactor struct {
	backend Backend
	codec   codec.Codec
	cfg     Config
	broker  *events.Broker
	logger  zerolog.Logger

	mu     sync.Mutex
	perDoc map[string]*sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a compactor. broker may be nil.
func New(backend Backend, c codec.Codec, cfg Config, broker *events.Broker) *Compactor {
	return &Compactor{
		backend: backend,
		codec:   c,
		cfg:     cfg,
		broker:  broker,
		logger:  log.Component("compactor"),
		perDoc:  make(map[string]*sync.Mutex),
		stopCh:  make(chan struct{}),
	}
}

// ShouldCompact applies the threshold decision to a doc's log stats.
func (c *Compactor) ShouldCompact(stats oplog.Stats) bool {
	if stats.Count >= c.cfg.UpdateThreshold {
		return true
	}
	if stats.Size >= c.cfg.SizeThreshold {
		return true
	}
	if stats.Count >= 1 && stats.Oldest != nil && time.Since(*stats.Oldest) >= c.cfg.AgeThreshold {
		return true
	}
	return false
}

func (c *Compactor) docLock(docName string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.perDoc[docName]
	if !ok {
		m = &sync.Mutex{}
		c.perDoc[docName] = m
	}
	return m
}

// Compact runs the compaction algorithm for docName. force bypasses the
// threshold check. Compactions are serialized per doc; different docs
// compact in parallel.
func (c *Compactor) Compact(ctx context.Context, docName string, force bool) (*types.CompactResult, error) {
	lock := c.docLock(docName)
	lock.Lock()
	defer lock.Unlock()

	stats, err := c.backend.Stats(ctx, docName)
	if err != nil {
		return nil, err
	}
	if stats.Count == 0 {
		return &types.CompactResult{DocName: docName, Skipped: true, UpdateCount: 0}, nil
	}
	if !force && !c.ShouldCompact(stats) {
		metrics.CompactionsTotal.WithLabelValues("skipped").Inc()
		return &types.CompactResult{DocName: docName, Skipped: true, UpdateCount: stats.Count}, nil
	}

	timer := metrics.NewTimer()
	result := &types.CompactResult{DocName: docName}

	err = c.backend.Run(ctx, func(tx Tx) error {
		latest, err := tx.LatestSnapshot(ctx, docName)
		if err != nil {
			return err
		}

		updates, err := tx.ReadAll(ctx, docName)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			// Raced with another compaction; nothing to fold.
			result.Skipped = true
			return nil
		}

		// Rebuild the document from the snapshot plus the full log.
		doc := c.codec.NewDoc()
		if latest != nil {
			if err := c.codec.Apply(doc, latest.State); err != nil {
				return err
			}
		}
		for _, u := range updates {
			if err := c.codec.Apply(doc, u.Payload); err != nil {
				return err
			}
		}

		state, err := c.codec.Encode(doc)
		if err != nil {
			return err
		}

		saved, err := tx.SaveSnapshot(ctx, snapshot.SaveInput{
			DocName:     docName,
			State:       state,
			UpdateCount: len(updates),
		})
		if err != nil {
			return err
		}

		// Truncate only what was read: updates committed after the read
		// sit beyond (maxTS, maxID) and survive.
		last := updates[len(updates)-1]
		if _, err := tx.TruncateThrough(ctx, docName, last.Timestamp, last.ID); err != nil {
			return err
		}

		if _, err := tx.PruneToLast(ctx, docName, c.cfg.Keep); err != nil {
			return err
		}

		entry := types.CompactionEntry{
			DocName:       docName,
			UpdatesBefore: len(updates),
			UpdatesAfter:  0,
			SnapshotSize:  len(state),
			Duration:      timer.Duration(),
		}
		if err := tx.LogCompaction(ctx, entry); err != nil {
			return err
		}

		result.CompactedCount = len(updates)
		result.Checksum = saved.Checksum
		result.Size = len(state)
		return nil
	})
	if err != nil {
		metrics.CompactionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if result.Skipped {
		metrics.CompactionsTotal.WithLabelValues("skipped").Inc()
		return result, nil
	}

	timer.ObserveDuration(metrics.CompactionDuration)
	metrics.CompactionsTotal.WithLabelValues("compacted").Inc()
	metrics.CompactedUpdates.Add(float64(result.CompactedCount))

	c.broker.Publish(events.Event{
		Type:    events.EventCompactionComplete,
		DocName: docName,
	})
	c.logger.Info().Str("doc_name", docName).Int("updates", result.CompactedCount).
		Int("snapshot_size", result.Size).Dur("duration", timer.Duration()).
		Msg("Compaction complete")
	return result, nil
}

// MaybeCompact runs an asynchronous threshold check after an append.
// Failures are logged and never surfaced; persistence must not fail
// because compaction failed.
func (c *Compactor) MaybeCompact(docName string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		stats, err := c.backend.Stats(ctx, docName)
		if err != nil {
			c.logger.Warn().Err(err).Str("doc_name", docName).Msg("Auto-compaction stats check failed")
			return
		}
		if !c.ShouldCompact(stats) {
			return
		}
		if _, err := c.Compact(ctx, docName, false); err != nil {
			c.logger.Warn().Err(err).Str("doc_name", docName).Msg("Auto-compaction failed")
		}
	}()
}

// Status reports a doc's log and snapshot state plus the recommendation.
func (c *Compactor) Status(ctx context.Context, docName string) (*types.CompactStatus, error) {
	stats, err := c.backend.Stats(ctx, docName)
	if err != nil {
		return nil, err
	}
	count, latest, err := c.backend.SnapshotCount(ctx, docName)
	if err != nil {
		return nil, err
	}

	return &types.CompactStatus{
		DocName:        docName,
		UpdateCount:    stats.Count,
		TotalSize:      stats.Size,
		OldestUpdate:   stats.Oldest,
		NewestUpdate:   stats.Newest,
		SnapshotCount:  count,
		LatestSnapshot: latest,
		Recommended:    c.ShouldCompact(stats),
	}, nil
}

// Start begins the periodic background sweep. No-op when the interval is
// zero or negative.
func (c *Compactor) Start() {
	if c.cfg.SweepInterval <= 0 {
		return
	}
	go c.run()
}

// Stop stops the background sweep.
func (c *Compactor) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Compactor) run() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	c.logger.Info().Dur("interval", c.cfg.SweepInterval).Msg("Compaction sweep started")

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			c.logger.Info().Msg("Compaction sweep stopped")
			return
		}
	}
}

func (c *Compactor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	docs, err := c.backend.DocsWithUpdates(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Sweep failed to list documents")
		return
	}

	for _, doc := range docs {
		stats, err := c.backend.Stats(ctx, doc)
		if err != nil {
			c.logger.Warn().Err(err).Str("doc_name", doc).Msg("Sweep stats check failed")
			continue
		}
		if !c.ShouldCompact(stats) {
			continue
		}
		if _, err := c.Compact(ctx, doc, false); err != nil {
			c.logger.Warn().Err(err).Str("doc_name", doc).Msg("Sweep compaction failed")
		}
	}
}
