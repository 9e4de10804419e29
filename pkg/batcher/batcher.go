package batcher

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dandytbermillo/annotation/pkg/codec"
	"github.com/dandytbermillo/annotation/pkg/events"
	"github.com/dandytbermillo/annotation/pkg/log"
	"github.com/dandytbermillo/annotation/pkg/metrics"
	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/rs/zerolog"
)

// Appender is the downstream sink for flushed batches, implemented by the
// update log.
type Appender interface {
	Append(ctx context.Context, docName string, payload []byte, clientID string) error
}

// update is one queued payload awaiting flush.
type update struct {
	payload  []byte
	clientID string
}

// docQueue is the per-document pending state. queue state is guarded by mu;
// flushMu serializes flush bodies so at most one flush per doc is in flight.
type docQueue struct {
	doc string

	mu         sync.Mutex
	pending    []update
	bytes      int
	debounce   *time.Timer
	deadline   *time.Timer
	flushing   bool
	flushAgain bool

	flushMu sync.Mutex
}

// Batcher is the per-document batching writer. Updates are queued in
// memory, debounced, bounded by count and size, coalesced through the
// codec, and written to the log as single records.
type Batcher struct {
	cfg      types.BatchConfig
	appender Appender
	codec    codec.Codec
	broker   *events.Broker
	logger   zerolog.Logger

	mu   sync.Mutex
	docs map[string]*docQueue
	down bool

	counters counters
}

// New validates cfg and builds a batching writer. broker may be nil to
// disable event emission.
func New(appender Appender, c codec.Codec, cfg types.BatchConfig, broker *events.Broker) (*Batcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Batcher{
		cfg:      cfg,
		appender: appender,
		codec:    c,
		broker:   broker,
		logger:   log.Component("batcher"),
		docs:     make(map[string]*docQueue),
	}, nil
}

func (b *Batcher) queue(docName string) *docQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.docs[docName]
	if !ok {
		q = &docQueue{doc: docName}
		b.docs[docName] = q
	}
	return q
}

// Enqueue queues one payload for docName. Size and count thresholds flush
// synchronously; otherwise the debounce and hard-deadline timers decide.
// During shutdown the batcher is bypassed and the payload is appended
// directly, so an acknowledgement always implies eventual durability.
func (b *Batcher) Enqueue(ctx context.Context, docName string, payload []byte, clientID string) error {
	b.mu.Lock()
	down := b.down
	b.mu.Unlock()

	if down {
		return b.directAppend(ctx, docName, payload, clientID)
	}

	q := b.queue(docName)

	q.mu.Lock()
	q.pending = append(q.pending, update{payload: payload, clientID: clientID})
	q.bytes += len(payload)
	count, size := len(q.pending), q.bytes

	var trigger types.FlushReason
	switch {
	case count >= b.cfg.MaxBatchCount:
		trigger = types.FlushReasonCount
	case size >= b.cfg.MaxBatchBytes:
		trigger = types.FlushReasonSize
	}

	if trigger != "" {
		if q.flushing {
			// A flush is in flight; ask it to go again with what it finds.
			q.flushAgain = true
			trigger = ""
		}
	} else {
		b.armTimersLocked(q)
	}
	q.mu.Unlock()

	b.counters.enqueue()
	metrics.UpdatesEnqueued.Inc()
	b.broker.Publish(events.Event{
		Type:    events.EventEnqueue,
		DocName: docName,
		Metadata: map[string]string{
			"queue_size": strconv.Itoa(count),
			"total_size": strconv.Itoa(size),
		},
	})

	if trigger != "" {
		// Threshold flush failures requeue internally; the enqueue itself
		// has succeeded, so they are not surfaced here.
		if err := b.Flush(ctx, docName, trigger); err != nil {
			b.logger.Error().Err(err).Str("doc_name", docName).Msg("Threshold flush failed, updates requeued")
		}
	}
	return nil
}

// directAppend is the shutdown-mode write path. The flush mutex keeps it
// ordered with respect to any still-draining batch for the same doc.
func (b *Batcher) directAppend(ctx context.Context, docName string, payload []byte, clientID string) error {
	q := b.queue(docName)
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	if err := b.appender.Append(ctx, docName, payload, clientID); err != nil {
		return err
	}
	b.counters.direct()
	metrics.UpdatesEnqueued.Inc()
	metrics.UpdatesFlushed.Inc()
	return nil
}

// armTimersLocked (q.mu held) resets the debounce timer and arms the hard
// deadline if this is the first pending update of the batch. The deadline
// is never reset by later enqueues.
func (b *Batcher) armTimersLocked(q *docQueue) {
	if q.debounce != nil {
		q.debounce.Stop()
		q.debounce = nil
	}
	if b.cfg.Debounce > 0 {
		q.debounce = time.AfterFunc(b.cfg.Debounce, func() { b.timerFire(q.doc) })
	}
	if q.deadline == nil {
		q.deadline = time.AfterFunc(b.cfg.BatchTimeout, func() { b.timerFire(q.doc) })
	}
}

// stopTimersLocked (q.mu held) cancels both timers. A timer that already
// fired finds an empty queue and no-ops.
func (q *docQueue) stopTimersLocked() {
	if q.debounce != nil {
		q.debounce.Stop()
		q.debounce = nil
	}
	if q.deadline != nil {
		q.deadline.Stop()
		q.deadline = nil
	}
}

func (b *Batcher) timerFire(docName string) {
	if err := b.Flush(context.Background(), docName, types.FlushReasonTimeout); err != nil {
		b.logger.Error().Err(err).Str("doc_name", docName).Msg("Timer flush failed, updates requeued")
	}
}

// Flush drains the pending queue for docName. It waits for any in-flight
// flush of the same doc, so callers observe a log that includes everything
// enqueued before the call. No-op for an empty or unknown queue.
func (b *Batcher) Flush(ctx context.Context, docName string, reason types.FlushReason) error {
	b.mu.Lock()
	q, ok := b.docs[docName]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	for {
		q.mu.Lock()
		q.flushAgain = false
		q.stopTimersLocked()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		batch := q.pending
		preBytes := q.bytes
		q.pending = nil
		q.bytes = 0
		q.flushing = true
		q.mu.Unlock()

		appended, finalBytes, unwritten, err := b.write(ctx, docName, batch)

		q.mu.Lock()
		q.flushing = false
		if err != nil {
			// Never drop updates: re-prepend what did not make it, ahead of
			// anything enqueued while the flush ran, and let the timers
			// drive the retry.
			restored := make([]update, 0, len(unwritten)+len(q.pending))
			restored = append(restored, unwritten...)
			restored = append(restored, q.pending...)
			q.pending = restored
			q.bytes = 0
			for _, u := range q.pending {
				q.bytes += len(u.payload)
			}
			b.armTimersLocked(q)
			q.mu.Unlock()

			b.counters.flushError(appended)
			metrics.FlushErrors.Inc()
			return types.WrapError(types.KindOf(err), "flush "+docName, err)
		}
		again := q.flushAgain
		q.mu.Unlock()

		b.recordFlush(docName, len(batch), appended, preBytes, finalBytes, reason)
		if !again {
			return nil
		}
	}
}

// write persists one batch. With coalescing on and at least two blobs the
// batch merges into a single append; a codec failure falls back to
// individual appends in queue order. Returns how many records were
// appended, the bytes written, and the tail not yet persisted on error.
func (b *Batcher) write(ctx context.Context, docName string, batch []update) (int, int, []update, error) {
	if b.cfg.Coalesce && len(batch) >= 2 {
		blobs := make([][]byte, len(batch))
		for i, u := range batch {
			blobs[i] = u.payload
		}

		merged, err := b.codec.Merge(blobs)
		switch {
		case err == nil:
			if aerr := b.appender.Append(ctx, docName, merged, firstClient(batch)); aerr != nil {
				return 0, 0, batch, aerr
			}
			return 1, len(merged), nil, nil
		case types.IsKind(err, types.KindCodec):
			b.logger.Warn().Err(err).Str("doc_name", docName).Int("batch", len(batch)).
				Msg("Merge failed, appending updates individually")
		default:
			return 0, 0, batch, err
		}
	}

	written := 0
	total := 0
	for i, u := range batch {
		if err := b.appender.Append(ctx, docName, u.payload, u.clientID); err != nil {
			return written, total, batch[i:], err
		}
		written++
		total += len(u.payload)
	}
	return written, total, nil, nil
}

func firstClient(batch []update) string {
	for _, u := range batch {
		if u.clientID != "" {
			return u.clientID
		}
	}
	return ""
}

// FlushAll flushes every known doc, waiting out in-flight flushes.
func (b *Batcher) FlushAll(ctx context.Context) error {
	b.mu.Lock()
	docs := make([]string, 0, len(b.docs))
	for d := range b.docs {
		docs = append(docs, d)
	}
	b.mu.Unlock()

	var firstErr error
	for _, d := range docs {
		if err := b.Flush(ctx, d, types.FlushReasonManual); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown switches to direct-append mode, cancels all timers and drains
// every queue. Safe to call more than once.
func (b *Batcher) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return nil
	}
	b.down = true
	queues := make([]*docQueue, 0, len(b.docs))
	for _, q := range b.docs {
		queues = append(queues, q)
	}
	b.mu.Unlock()

	for _, q := range queues {
		q.mu.Lock()
		q.stopTimersLocked()
		q.mu.Unlock()
	}

	err := b.FlushAll(ctx)

	b.broker.Publish(events.Event{Type: events.EventShutdown})
	b.logger.Info().Msg("Batching writer drained")
	return err
}

func (b *Batcher) recordFlush(docName string, batchCount, appended, preBytes, finalBytes int, reason types.FlushReason) {
	b.counters.flush(batchCount, appended, preBytes, finalBytes, reason)

	metrics.UpdatesFlushed.Add(float64(appended))
	metrics.UpdatesCoalesced.Add(float64(batchCount - appended))
	metrics.FlushesTotal.WithLabelValues(string(reason)).Inc()
	metrics.BatchSize.Observe(float64(batchCount))
	metrics.BatchBytes.Observe(float64(finalBytes))

	b.broker.Publish(events.Event{
		Type:    events.EventFlush,
		DocName: docName,
		Metadata: map[string]string{
			"update_count": strconv.Itoa(batchCount),
			"final_size":   strconv.Itoa(finalBytes),
			"reason":       string(reason),
		},
	})
	b.logger.Debug().Str("doc_name", docName).Int("updates", batchCount).
		Int("bytes", finalBytes).Str("reason", string(reason)).Msg("Batch flushed")
}
