/*
Package service is the request/response facade over the persistence
engines: persist, load, raw log access, snapshot save/load, compaction and
note deletion.

The facade validates inputs, flushes the batching writer (the document's
queue before Load, ReadAll, ClearUpdates, SaveSnapshot and Compact; every
queue before DeleteDoc) so the log appears strongly consistent, and emits
one structured log line per operation with action, doc name, outcome and
duration. Binary payloads cross the wire as base64 (with a legacy
integer-array form accepted on ingest); the helpers in encoding.go convert
both.
*/
package service
