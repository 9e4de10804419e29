/*
Package store provides pooled Postgres access for the persistence core.

The Store wraps database/sql with the lib/pq driver: a bounded connection
pool, an idle timeout, per-operation acquire deadlines, and explicit
transactions with rollback on error or panic. Errors are classified into
transient (connection-class failures, attempted up to three times with
exponential backoff via WithRetry) and terminal (everything else, surfaced
immediately as storage errors).

Engines run their SQL against the DBTX interface, satisfied by both the
pool and an open transaction, so the compaction and delete paths reuse the
same queries inside their transactions.

# Schema

Migrate bootstraps the persistence tables: updates (the per-document event
log, ordered by (timestamp, id)), snapshots (full-state encodings with
sha256 checksums), compaction_log (observability), and the externally owned
notes/panels/branches tables that carry the soft-delete markers.
*/
package store
