/*
Package snapshot stores and loads full-state document encodings.

Every snapshot row carries a lowercase hex SHA-256 checksum of its state
blob, computed on write and verified against any caller-supplied value.
ByChecksum makes saves idempotent; PruneToLast enforces the per-document
retention limit after compaction. The panels column is opaque metadata,
stored and returned verbatim.
*/
package snapshot
