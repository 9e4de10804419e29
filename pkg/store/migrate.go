package store

import (
	"context"
)

// Schema per the data-at-rest contract. Updates are the event-sourced log,
// snapshots hold full-state encodings, compaction_log is observability.
// notes/panels/branches are externally owned; they are created here only so
// a fresh development database can exercise the delete cascades.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS updates (
		id        bigserial PRIMARY KEY,
		doc_name  text NOT NULL,
		"update"  bytea NOT NULL,
		client_id text,
		timestamp timestamptz NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_updates_doc_ts ON updates (doc_name, timestamp ASC)`,

	`CREATE TABLE IF NOT EXISTS snapshots (
		id           uuid PRIMARY KEY,
		note_id      uuid,
		doc_name     text NOT NULL,
		state        bytea NOT NULL,
		checksum     text NOT NULL,
		update_count int,
		size_bytes   int,
		panels       jsonb,
		created_at   timestamptz NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_doc_created ON snapshots (doc_name, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS compaction_log (
		id             uuid PRIMARY KEY,
		doc_name       text NOT NULL,
		updates_before int NOT NULL,
		updates_after  int NOT NULL,
		snapshot_size  int NOT NULL,
		duration_ms    int NOT NULL,
		created_at     timestamptz NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS notes (
		id         uuid PRIMARY KEY,
		deleted_at timestamptz
	)`,
	`CREATE TABLE IF NOT EXISTS panels (
		id         uuid PRIMARY KEY,
		note_id    uuid NOT NULL,
		deleted_at timestamptz
	)`,
	`CREATE TABLE IF NOT EXISTS branches (
		id         uuid PRIMARY KEY,
		note_id    uuid NOT NULL,
		deleted_at timestamptz
	)`,
}

// Migrate creates the persistence schema if absent. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrap("migrate schema", err)
		}
	}
	s.logger.Info().Int("statements", len(migrations)).Msg("Schema ready")
	return nil
}
