/*
Package oplog is the event-sourced update log: append-only insert of CRDT
update blobs, range reads in (timestamp, id) order, and the bounded
truncate used by compaction. All functions run against a store.DBTX so they
compose into larger transactions.
*/
package oplog
