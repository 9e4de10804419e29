package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/dandytbermillo/annotation/pkg/config"
	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain syntax error", errors.New("syntax error"), false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"no such host", errors.New("dial tcp: lookup db.internal: no such host"), true},
		{"net timeout", timeoutErr{}, true},
		{"pq connection exception", &pq.Error{Code: "08006"}, true},
		{"pq admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"pq too many connections", &pq.Error{Code: "53300"}, true},
		{"pq unique violation", &pq.Error{Code: "23505"}, false},
		{"pq undefined table", &pq.Error{Code: "42P01"}, false},
		{"wrapped refused", fmt.Errorf("append: %w", errors.New("connection refused")), true},
		{"eof is terminal", io.EOF, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if classify(&pq.Error{Code: "08001"}) != types.KindTransientStorage {
		t.Error("connection exception should classify transient")
	}
	if classify(errors.New("division by zero")) != types.KindStorage {
		t.Error("plain error should classify terminal")
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestWithRetryStopsOnTerminalError(t *testing.T) {
	terminal := &pq.Error{Code: "23505"}
	attempts := 0
	err := withRetry(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		attempts++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on terminal)", attempts)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	start := time.Now()
	err := withRetry(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		attempts++
		return errors.New("connection refused")
	})
	if attempts != maxAttempts {
		t.Errorf("attempts = %d, want %d", attempts, maxAttempts)
	}
	if !types.IsKind(err, types.KindStorage) {
		t.Errorf("exhausted retries should surface a terminal storage error, got %v", err)
	}
	// 1s + 2s of backoff between the three attempts.
	if elapsed := time.Since(start); elapsed < 3*time.Second {
		t.Errorf("elapsed = %v, expected backoff delays", elapsed)
	}
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := withRetry(ctx, zerolog.Nop(), func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestOpenRejectsEmptyURL(t *testing.T) {
	cfg := config.Default()
	_, err := Open(cfg)
	if !types.IsKind(err, types.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
