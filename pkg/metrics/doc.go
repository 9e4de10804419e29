/*
Package metrics exposes Prometheus collectors for the persistence core.

Collectors are package-level and registered in init: batching writer
throughput (enqueued, flushed, coalesced, flush reasons, batch sizes),
service operation counts and latencies, compaction outcomes, database pool
occupancy, and HTTP request metrics. Handler serves them at /metrics.

The Timer helper times an operation and records it into a histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CompactionDuration)
*/
package metrics
