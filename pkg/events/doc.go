// Package events fans persistence lifecycle events (enqueue, flush,
// compaction, deletion) out to in-process subscribers. Delivery is
// synchronous and lossy by design: a subscriber that falls behind loses
// events (counted via Dropped) rather than ever stalling the write path.
// A nil broker silently drops everything, which is how test mode disables
// emission; Close participates in the service's shutdown ordering after
// the batching writer drains.
package events
