package store

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const (
	maxAttempts  = 3
	initialDelay = 1 * time.Second
)

// classify sorts a database error into retryable (transient) vs terminal.
// Connection-class failures retry; everything else surfaces immediately.
func classify(err error) types.ErrorKind {
	if err == nil {
		return types.KindStorage
	}
	if isRetryable(err) {
		return types.KindTransientStorage
	}
	return types.KindStorage
}

func isRetryable(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exception. 57P01: admin shutdown.
		// 53300: too many connections.
		code := string(pqErr.Code)
		if strings.HasPrefix(code, "08") || code == "57P01" || code == "53300" {
			return true
		}
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out")
}

// WithRetry runs fn up to 3 times with exponential backoff, retrying only
// transient failures. A terminal error is returned unchanged; a transient
// error that outlasts the attempts surfaces as a storage error.
func (s *Store) WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return withRetry(ctx, s.logger.With().Str("op", op).Logger(), fn)
}

func withRetry(ctx context.Context, logger zerolog.Logger, fn func(ctx context.Context) error) error {
	delay := initialDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("delay", delay).
			Msg("Transient database error, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return wrap("retry canceled", ctx.Err())
		}
		delay *= 2
	}

	// Retries exhausted: the transient error becomes terminal.
	return types.StorageError("retries exhausted", lastErr)
}
