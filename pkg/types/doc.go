/*
Package types defines the entities shared across the persistence core:
update records, snapshots, compaction bookkeeping, batching configuration,
and the tagged error taxonomy used at every package boundary.

All binary payloads are opaque byte slices; only pkg/codec interprets them.
*/
package types
