// Package store persists signal events to PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"signal-engine/internal/events"
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Store wraps the PostgreSQL connection pool.
type Store struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// New opens a pooled connection and verifies it.
func New(cfg Config, log zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")
	return &Store{Pool: pool, log: log}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Migrate creates the signal_events table.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS signal_events (
		idempotency_key TEXT PRIMARY KEY,
		kind            TEXT NOT NULL,
		reason          TEXT,
		ts              TIMESTAMPTZ NOT NULL,
		symbol          TEXT NOT NULL,
		market          TEXT NOT NULL,
		direction       TEXT NOT NULL,
		timeframe       TEXT NOT NULL,
		confidence      DOUBLE PRECISION NOT NULL,
		payload         JSONB NOT NULL,
		inserted_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_signal_events_symbol_ts
		ON signal_events (symbol, market, ts DESC);
	CREATE INDEX IF NOT EXISTS idx_signal_events_ts
		ON signal_events (ts DESC);`

	if _, err := s.Pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrating signal_events: %w", err)
	}
	return nil
}

// WriteEvent persists one event. The idempotency key makes at-least-once
// delivery safe: replays are silently absorbed.
func (s *Store) WriteEvent(ctx context.Context, ev events.SignalEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	var reason *string
	if ev.Reason != nil {
		r := string(*ev.Reason)
		reason = &r
	}

	const insert = `
	INSERT INTO signal_events
		(idempotency_key, kind, reason, ts, symbol, market, direction, timeframe, confidence, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (idempotency_key) DO NOTHING`

	_, err = s.Pool.Exec(ctx, insert,
		ev.IdempotencyKey(),
		string(ev.Kind),
		reason,
		ev.TS,
		ev.Signal.Symbol,
		string(ev.Signal.Market),
		string(ev.Signal.Direction),
		string(ev.Signal.Timeframe),
		ev.Signal.Confidence,
		payload,
	)
	if err != nil {
		return fmt.Errorf("inserting signal event: %w", err)
	}
	return nil
}

// RecentEvents returns the latest events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]events.SignalEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT payload FROM signal_events ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying signal events: %w", err)
	}
	defer rows.Close()

	var out []events.SignalEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning signal event: %w", err)
		}
		var ev events.SignalEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decoding signal event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
