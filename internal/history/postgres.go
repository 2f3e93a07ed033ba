package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the fallback_attempts table. Execute it via
// [PostgresSink.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS fallback_attempts (
    id            BIGSERIAL PRIMARY KEY,
    trigger_kind  TEXT NOT NULL,
    from_key      TEXT NOT NULL,
    to_key        TEXT NOT NULL,
    succeeded     BOOLEAN NOT NULL,
    processing_ms BIGINT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_fallback_attempts_to_key ON fallback_attempts(to_key);
CREATE INDEX IF NOT EXISTS idx_fallback_attempts_recorded ON fallback_attempts(recorded_at);
`

// Sink receives a durable copy of every fallback attempt. The in-memory
// [History] remains authoritative; sinks exist for offline analysis.
type Sink interface {
	Insert(ctx context.Context, a Attempt) error
}

// DB is the database interface used by [PostgresSink]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink persists fallback attempts to a PostgreSQL table.
type PostgresSink struct {
	db DB
}

// Compile-time interface check.
var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink creates a [PostgresSink] using the given connection or pool.
// Call [PostgresSink.Migrate] once before inserting.
func NewPostgresSink(db DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Migrate executes the [Schema] DDL, creating the fallback_attempts table and
// indexes if they do not already exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Insert persists a single attempt record.
func (s *PostgresSink) Insert(ctx context.Context, a Attempt) error {
	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO fallback_attempts
			(trigger_kind, from_key, to_key, succeeded, processing_ms, error_message, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(a.Trigger),
		a.FromConfig.Key(),
		a.ToConfig.Key(),
		a.Succeeded,
		a.ProcessingTime.Milliseconds(),
		a.ErrorMessage,
		ts,
	)
	if err != nil {
		return fmt.Errorf("history: insert attempt: %w", err)
	}
	return nil
}

// StoredAttempt is one persisted attempt row, keyed rather than holding full
// configs (the identity key is all that survives the round trip).
type StoredAttempt struct {
	Trigger        Trigger
	FromKey        string
	ToKey          string
	Succeeded      bool
	ProcessingTime time.Duration
	ErrorMessage   string
	RecordedAt     time.Time
}

// RecentRows returns up to limit most recently persisted attempts, newest
// first.
func (s *PostgresSink) RecentRows(ctx context.Context, limit int) ([]StoredAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT trigger_kind, from_key, to_key, succeeded, processing_ms, error_message, recorded_at
		FROM fallback_attempts
		ORDER BY recorded_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var out []StoredAttempt
	for rows.Next() {
		var (
			sa      StoredAttempt
			trigger string
			millis  int64
		)
		if err := rows.Scan(&trigger, &sa.FromKey, &sa.ToKey, &sa.Succeeded, &millis, &sa.ErrorMessage, &sa.RecordedAt); err != nil {
			return nil, fmt.Errorf("history: scan attempt row: %w", err)
		}
		sa.Trigger = Trigger(trigger)
		sa.ProcessingTime = time.Duration(millis) * time.Millisecond
		out = append(out, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate attempt rows: %w", err)
	}
	return out, nil
}
