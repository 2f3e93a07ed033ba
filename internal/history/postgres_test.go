package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voicekit-labs/cascade/pkg/backend"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *bool:
			*d = v.(bool)
		case *int64:
			*d = v.(int64)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryFunc func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc  func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

// ---------------------------------------------------------------------------
// PostgresSink tests
// ---------------------------------------------------------------------------

func TestPostgresSink_Migrate(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
				if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS fallback_attempts") {
					t.Errorf("Migrate SQL should create fallback_attempts, got: %s", sql)
				}
				return pgconn.CommandTag{}, nil
			},
		}
		if err := NewPostgresSink(db).Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate() unexpected error: %v", err)
		}
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
				return pgconn.CommandTag{}, errors.New("connection refused")
			},
		}
		err := NewPostgresSink(db).Migrate(context.Background())
		if err == nil {
			t.Fatal("Migrate() expected error, got nil")
		}
		if !strings.Contains(err.Error(), "history: migrate:") {
			t.Errorf("error = %q, want prefix 'history: migrate:'", err.Error())
		}
	})
}

func TestPostgresSink_Insert(t *testing.T) {
	t.Parallel()

	from := backend.Config{Implementation: "whisper-native", ModelID: "base.en", ComputeMode: "int8"}
	to := backend.Config{Implementation: "whisper-native", ModelID: "tiny.en", ComputeMode: "int8"}
	recorded := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		var capturedSQL string
		var capturedArgs []any
		db := &mockDB{
			execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
				capturedSQL = sql
				capturedArgs = args
				return pgconn.CommandTag{}, nil
			},
		}

		err := NewPostgresSink(db).Insert(context.Background(), Attempt{
			Trigger:        TriggerTimeout,
			FromConfig:     from,
			ToConfig:       to,
			Succeeded:      true,
			ProcessingTime: 1500 * time.Millisecond,
			Timestamp:      recorded,
		})
		if err != nil {
			t.Fatalf("Insert() unexpected error: %v", err)
		}
		if !strings.Contains(capturedSQL, "INSERT INTO fallback_attempts") {
			t.Errorf("SQL should contain INSERT, got: %s", capturedSQL)
		}
		if len(capturedArgs) != 7 {
			t.Fatalf("expected 7 args, got %d", len(capturedArgs))
		}
		if capturedArgs[0] != "timeout" {
			t.Errorf("trigger arg = %v, want 'timeout'", capturedArgs[0])
		}
		if capturedArgs[1] != from.Key() {
			t.Errorf("from arg = %v, want %q", capturedArgs[1], from.Key())
		}
		if capturedArgs[2] != to.Key() {
			t.Errorf("to arg = %v, want %q", capturedArgs[2], to.Key())
		}
		if capturedArgs[4] != int64(1500) {
			t.Errorf("processing_ms arg = %v, want 1500", capturedArgs[4])
		}
		if capturedArgs[6] != recorded {
			t.Errorf("recorded_at arg = %v, want %v", capturedArgs[6], recorded)
		}
	})

	t.Run("fills zero timestamp", func(t *testing.T) {
		t.Parallel()

		var capturedArgs []any
		db := &mockDB{
			execFunc: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
				capturedArgs = args
				return pgconn.CommandTag{}, nil
			},
		}
		if err := NewPostgresSink(db).Insert(context.Background(), Attempt{ToConfig: to}); err != nil {
			t.Fatalf("Insert() unexpected error: %v", err)
		}
		ts, ok := capturedArgs[6].(time.Time)
		if !ok || ts.IsZero() {
			t.Errorf("recorded_at arg = %v, want non-zero time", capturedArgs[6])
		}
	})

	t.Run("db error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
				return pgconn.CommandTag{}, errors.New("disk full")
			},
		}
		err := NewPostgresSink(db).Insert(context.Background(), Attempt{ToConfig: to})
		if err == nil {
			t.Fatal("Insert() expected error, got nil")
		}
		if !strings.Contains(err.Error(), "history: insert attempt:") {
			t.Errorf("error = %q, want prefix 'history: insert attempt:'", err.Error())
		}
	})
}

func TestPostgresSink_RecentRows(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	makeRow := func(trigger, toKey string, succeeded bool, millis int64) []any {
		return []any{
			trigger,      // trigger_kind
			"a|b|c",      // from_key
			toKey,        // to_key
			succeeded,    // succeeded
			millis,       // processing_ms
			"",           // error_message
			fixedTime,    // recorded_at
		}
	}

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		rows := &mockRows{
			data: [][]any{
				makeRow("timeout", "x|y|z", true, 1000),
				makeRow("error", "x|y|z", false, 250),
			},
		}
		db := &mockDB{
			queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
				if !strings.Contains(sql, "ORDER BY recorded_at DESC") {
					t.Errorf("query should order newest first, got: %s", sql)
				}
				if len(args) != 1 || args[0] != 2 {
					t.Errorf("args = %v, want [2]", args)
				}
				return rows, nil
			},
		}

		got, err := NewPostgresSink(db).RecentRows(context.Background(), 2)
		if err != nil {
			t.Fatalf("RecentRows() unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("RecentRows() returned %d rows, want 2", len(got))
		}
		if got[0].Trigger != TriggerTimeout {
			t.Errorf("Trigger = %q, want timeout", got[0].Trigger)
		}
		if got[0].ProcessingTime != time.Second {
			t.Errorf("ProcessingTime = %v, want 1s", got[0].ProcessingTime)
		}
		if !rows.closed {
			t.Error("rows were not closed")
		}
	})

	t.Run("default limit", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
				if len(args) != 1 || args[0] != 100 {
					t.Errorf("args = %v, want default limit 100", args)
				}
				return &mockRows{}, nil
			},
		}
		if _, err := NewPostgresSink(db).RecentRows(context.Background(), 0); err != nil {
			t.Fatalf("RecentRows() unexpected error: %v", err)
		}
	})

	t.Run("query error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryFunc: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
				return nil, errors.New("connection reset")
			},
		}
		_, err := NewPostgresSink(db).RecentRows(context.Background(), 10)
		if err == nil {
			t.Fatal("RecentRows() expected error, got nil")
		}
	})

	t.Run("rows error after iteration", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryFunc: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
				return &mockRows{err: errors.New("stream interrupted")}, nil
			},
		}
		_, err := NewPostgresSink(db).RecentRows(context.Background(), 10)
		if err == nil {
			t.Fatal("RecentRows() expected error from rows.Err()")
		}
		if !strings.Contains(err.Error(), "history: iterate attempt rows:") {
			t.Errorf("error = %q, want iterate prefix", err.Error())
		}
	})
}
