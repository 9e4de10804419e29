/*
Package api exposes the persistence service over JSON/HTTP.

A unified POST /persistence endpoint dispatches on {action, ...} for the
original client protocol; specialised routes mirror the same operations
with REST conventions under /persistence/updates, /persistence/snapshots
and /persistence/compact. DELETE /notes/{noteID} cascades a note delete,
requiring the X-Confirm-Delete header for hard deletes. GET /health and
GET /metrics serve liveness and Prometheus metrics.

Binary payloads travel base64-encoded; legacy integer arrays are accepted
on ingest. Errors are a JSON envelope {error, status, timestamp} with the
status derived from the persistence error taxonomy.
*/
package api
