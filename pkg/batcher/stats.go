package batcher

import (
	"sync"
	"time"

	"github.com/dandytbermillo/annotation/pkg/types"
)

// counters accumulates writer throughput under its own lock so the hot
// enqueue path never contends with flushes on the doc maps.
type counters struct {
	mu sync.Mutex

	enqueued  int64
	flushed   int64
	batches   int64
	byReason  map[types.FlushReason]int64
	errors    int64
	preBytes  int64
	postBytes int64
	lastFlush time.Time
}

// Stats is a point-in-time snapshot of writer throughput.
type Stats struct {
	Enqueued         int64
	Flushed          int64
	Coalesced        int64
	Batches          int64
	FlushesByReason  map[types.FlushReason]int64
	Errors           int64
	AvgBatchSize     float64
	CompressionRatio float64
	LastFlush        time.Time
}

func (c *counters) enqueue() {
	c.mu.Lock()
	c.enqueued++
	c.mu.Unlock()
}

// direct counts a shutdown-mode append: enqueued and flushed in one step.
func (c *counters) direct() {
	c.mu.Lock()
	c.enqueued++
	c.flushed++
	c.mu.Unlock()
}

func (c *counters) flush(batchCount, appended, preBytes, finalBytes int, reason types.FlushReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byReason == nil {
		c.byReason = make(map[types.FlushReason]int64)
	}
	c.flushed += int64(appended)
	c.batches++
	c.byReason[reason]++
	c.preBytes += int64(preBytes)
	c.postBytes += int64(finalBytes)
	c.lastFlush = time.Now()
}

func (c *counters) flushError(appended int) {
	c.mu.Lock()
	c.errors++
	c.flushed += int64(appended)
	c.mu.Unlock()
}

// Stats returns a snapshot of the writer's counters.
func (b *Batcher) Stats() Stats {
	c := &b.counters
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Enqueued:        c.enqueued,
		Flushed:         c.flushed,
		Coalesced:       c.enqueued - c.flushed,
		Batches:         c.batches,
		Errors:          c.errors,
		LastFlush:       c.lastFlush,
		FlushesByReason: make(map[types.FlushReason]int64, len(c.byReason)),
	}
	for k, v := range c.byReason {
		s.FlushesByReason[k] = v
	}
	if c.batches > 0 {
		s.AvgBatchSize = float64(c.enqueued) / float64(c.batches)
	}
	if c.postBytes > 0 {
		s.CompressionRatio = float64(c.preBytes) / float64(c.postBytes)
	}
	return s
}
