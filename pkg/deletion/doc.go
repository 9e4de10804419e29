// Package deletion cascades note deletes across the update log, snapshots
// and the note/panel/branch rows in a single transaction. Soft delete sets
// deleted_at markers and purges the CRDT data; hard delete additionally
// removes the rows and requires an explicit confirmation token.
package deletion
