package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/rs/zerolog"
)

// base is the process logger. Until Setup runs it discards everything,
// which keeps package tests silent without any wiring.
var base = zerolog.New(io.Discard)

// Setup configures the process logger. level is any name zerolog.ParseLevel
// accepts (such as "debug", "info", "warn", "error"); an unparseable or empty
// name is a ConfigError so a typo in LOG_LEVEL refuses startup.
func Setup(level string, jsonOutput bool, out io.Writer) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return types.ConfigError("unknown log level %q", level)
	}

	if out == nil {
		out = os.Stdout
	}
	if !jsonOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base = zerolog.New(out).Level(lvl).With().
		Timestamp().
		Str("service", "annotationd").
		Logger()
	return nil
}

// Component returns a child logger scoped to one persistence component
// (store, batcher, compactor, ...).
func Component(name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// ForDoc returns a component logger pinned to a single document, for code
// paths that live inside one doc's lifecycle (a flush, a compaction run).
func ForDoc(component, docName string) zerolog.Logger {
	return base.With().Str("component", component).Str("doc_name", docName).Logger()
}

// Operation emits the canonical per-operation line every service call
// produces regardless of outcome: action, doc, success, duration, error.
// Failures log at error level, successes at info.
func Operation(logger zerolog.Logger, action, docName string, duration time.Duration, err error) {
	ev := logger.Info()
	if err != nil {
		ev = logger.Error().Err(err)
	}
	ev.Str("action", action).
		Str("doc_name", docName).
		Bool("success", err == nil).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("Operation")
}
