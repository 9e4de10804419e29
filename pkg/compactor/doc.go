/*
Package compactor folds a document's accumulated update log into a single
snapshot, atomically replacing the range it consumed.

A compaction runs when the update count, total payload size or oldest
update age crosses its threshold, or on demand with force. The whole
algorithm — read latest snapshot, read the log, rebuild the document
through the codec, write the new snapshot, truncate and prune — executes
inside one store transaction, so a crash at any point leaves either the
old log or the new snapshot, never neither.

The truncate is bounded to the (timestamp, id) of the last update read, so
appends that commit while a compaction is running always survive it.
Compactions are serialized per document; the optional background sweep
walks every document with pending updates on a fixed interval.
*/
package compactor
