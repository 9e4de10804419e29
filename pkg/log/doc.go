/*
Package log provides structured logging for the annotation persistence core.

Setup configures the process logger once at startup, rejecting unknown
levels as a configuration error. Component and ForDoc derive scoped child
loggers; Operation emits the per-operation line the error-handling
contract requires on every service call:

	if err := log.Setup("info", true, nil); err != nil { ... }
	logger := log.Component("batcher")
	log.Operation(logger, "persist", doc, time.Since(start), err)

Before Setup runs the logger discards output, so packages under test need
no logging wiring.
*/
package log
