/*
Package batcher implements the per-document batching writer, the write-path
core of the persistence service.

Updates enqueue into an in-memory queue per document. A queue flushes when
it crosses the configured count or byte bound, when the debounce timer
expires (reset on every enqueue), or when the hard deadline fires (armed at
the first enqueue of a batch and never reset). On flush the queued blobs
are coalesced through the codec into a single update and handed to the log
engine; a codec failure falls back to appending each blob in order.

# Guarantees

  - At most one flush per document is in flight at any time.
  - A failed flush re-prepends its batch; updates are never dropped.
  - Flush waits out an in-flight flush for the same document, so readers
    that flush first observe every previously acknowledged update.
  - After Shutdown begins, enqueues bypass batching and append
    synchronously, so no acknowledgement ever precedes durability.

Queues for different documents are independent and flush in parallel,
bounded only by the database pool.
*/
package batcher
