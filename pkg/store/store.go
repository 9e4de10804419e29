package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/dandytbermillo/annotation/pkg/config"
	"github.com/dandytbermillo/annotation/pkg/log"
	"github.com/dandytbermillo/annotation/pkg/metrics"
	"github.com/dandytbermillo/annotation/pkg/types"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx. Engine
// methods take a DBTX so the same code runs standalone or inside the
// compaction and delete transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store holds the pooled Postgres connection used by every engine.
type Store struct {
	db             *sql.DB
	acquireTimeout time.Duration
	logger         zerolog.Logger
}

// Open connects to Postgres and configures the pool. The connection is
// verified with a ping before returning.
func Open(cfg config.Config) (*Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, types.ConfigError("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, types.ConfigError("open database: %v", err)
	}

	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, types.StorageError("ping database", err)
	}

	return &Store{
		db:             db,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         log.Component("store"),
	}, nil
}

// DB exposes the pool as a DBTX for engine calls outside a transaction.
func (s *Store) DB() DBTX {
	return s.db
}

// Close closes the pool. Installed as a shutdown hook at the process edge.
func (s *Store) Close() error {
	s.logger.Info().Msg("Closing database pool")
	return s.db.Close()
}

// AcquireContext derives a context bounded by the pool acquire timeout.
func (s *Store) AcquireContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.acquireTimeout)
}

// Transaction runs fn inside BEGIN/COMMIT, rolling back on error or panic.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(classify(err), "begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return types.WrapError(classify(err), "commit transaction", err)
	}
	return nil
}

// Stats reports pool occupancy for health checks and records it in the pool
// gauges.
func (s *Store) Stats() types.PoolStatus {
	st := s.db.Stats()
	metrics.PoolOpenConnections.Set(float64(st.OpenConnections))
	metrics.PoolIdleConnections.Set(float64(st.Idle))
	return types.PoolStatus{
		Total:   st.OpenConnections,
		Idle:    st.Idle,
		Waiting: int(st.WaitCount),
	}
}

// Health runs a trivial query and reports latency plus pool state. A failed
// check reports unhealthy rather than returning an error.
func (s *Store) Health(ctx context.Context) types.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	var now time.Time
	err := s.db.QueryRowContext(ctx, "SELECT NOW()").Scan(&now)
	if err != nil {
		// One retry for a transient blip before declaring unhealthy.
		err = s.db.QueryRowContext(ctx, "SELECT NOW()").Scan(&now)
	}

	status := types.HealthStatus{
		Healthy:    err == nil,
		LatencyMS:  time.Since(start).Milliseconds(),
		PoolStatus: s.Stats(),
		Timestamp:  time.Now(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// wrap classifies a database error into the persistence taxonomy.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := classify(err)
	return types.WrapError(kind, op, err)
}
