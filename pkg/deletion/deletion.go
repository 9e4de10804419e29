package deletion

import (
	"context"
	"database/sql"
	"strings"

	"github.com/dandytbermillo/annotation/pkg/events"
	"github.com/dandytbermillo/annotation/pkg/log"
	"github.com/dandytbermillo/annotation/pkg/oplog"
	"github.com/dandytbermillo/annotation/pkg/snapshot"
	"github.com/dandytbermillo/annotation/pkg/store"
	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConfirmToken must accompany a hard delete. Anything else is rejected
// before any row is touched.
const ConfirmToken = "PERMANENTLY-DELETE"

// NoteDoc returns the log doc name for a note id.
func NoteDoc(noteID string) string {
	return "note:" + noteID
}

// PanelPattern returns the LIKE pattern matching every panel doc of a note.
func PanelPattern(noteID string) string {
	return "panel:" + noteID + ":%"
}

// NoteIDFromDoc extracts the note id from a "note:<id>" doc name.
func NoteIDFromDoc(docName string) (string, bool) {
	id, ok := strings.CutPrefix(docName, "note:")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Coordinator cascades document deletes across the update log, snapshots
// and the externally owned note/panel/branch rows, one transaction per note.
type Coordinator struct {
	store  *store.Store
	broker *events.Broker
	logger zerolog.Logger
}

// New builds a delete coordinator. broker may be nil.
func New(st *store.Store, broker *events.Broker) *Coordinator {
	return &Coordinator{
		store:  st,
		broker: broker,
		logger: log.Component("deletion"),
	}
}

// SoftDelete marks the note, its panels and branches deleted and purges
// the CRDT log and snapshots. Repeating a soft delete is a no-op.
func (c *Coordinator) SoftDelete(ctx context.Context, noteID string) (*types.DeleteResult, error) {
	if err := validateNoteID(noteID); err != nil {
		return nil, err
	}

	result := &types.DeleteResult{NoteID: noteID}
	err := c.store.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE notes SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, noteID); err != nil {
			return types.StorageError("mark note deleted", err)
		}

		var err error
		if result.UpdatesDeleted, err = oplog.ClearForNote(ctx, tx, NoteDoc(noteID), PanelPattern(noteID)); err != nil {
			return err
		}
		if result.SnapshotsDeleted, err = snapshot.ClearForNote(ctx, tx, NoteDoc(noteID), PanelPattern(noteID)); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE panels SET deleted_at = NOW() WHERE note_id = $1 AND deleted_at IS NULL`, noteID); err != nil {
			return types.StorageError("mark panels deleted", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE branches SET deleted_at = NOW() WHERE note_id = $1 AND deleted_at IS NULL`, noteID); err != nil {
			return types.StorageError("mark branches deleted", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.emit(noteID, false)
	return result, nil
}

// HardDelete purges the CRDT log and snapshots and removes the note,
// panel and branch rows. Allowed after a prior soft delete.
func (c *Coordinator) HardDelete(ctx context.Context, noteID, confirm string) (*types.DeleteResult, error) {
	if err := validateNoteID(noteID); err != nil {
		return nil, err
	}
	if confirm != ConfirmToken {
		return nil, types.AuthorizationError("hard delete requires the %q confirmation", ConfirmToken)
	}

	result := &types.DeleteResult{NoteID: noteID, Hard: true}
	err := c.store.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		if result.UpdatesDeleted, err = oplog.ClearForNote(ctx, tx, NoteDoc(noteID), PanelPattern(noteID)); err != nil {
			return err
		}
		if result.SnapshotsDeleted, err = snapshot.ClearForNote(ctx, tx, NoteDoc(noteID), PanelPattern(noteID)); err != nil {
			return err
		}

		// Children first so the cascade never leaves orphans.
		if _, err := tx.ExecContext(ctx, `DELETE FROM branches WHERE note_id = $1`, noteID); err != nil {
			return types.StorageError("delete branches", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM panels WHERE note_id = $1`, noteID); err != nil {
			return types.StorageError("delete panels", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = $1`, noteID); err != nil {
			return types.StorageError("delete note", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.emit(noteID, true)
	return result, nil
}

func (c *Coordinator) emit(noteID string, hard bool) {
	mode := "soft"
	if hard {
		mode = "hard"
	}
	c.broker.Publish(events.Event{
		Type:     events.EventNoteDeleted,
		DocName:  NoteDoc(noteID),
		Metadata: map[string]string{"mode": mode},
	})
	c.logger.Info().Str("note_id", noteID).Str("mode", mode).Msg("Note deleted")
}

func validateNoteID(noteID string) error {
	if noteID == "" {
		return types.ValidationError("note id is required")
	}
	if _, err := uuid.Parse(noteID); err != nil {
		return types.ValidationError("note id %q is not a valid UUID", noteID)
	}
	return nil
}
