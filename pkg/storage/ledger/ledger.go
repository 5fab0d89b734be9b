// Package ledger records the outcome of every delivery sink in PostgreSQL.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createTableSQL = `
		CREATE TABLE IF NOT EXISTS deliveries (
			run_id VARCHAR(36) NOT NULL,
			sink VARCHAR(32) NOT NULL,
			success BOOLEAN NOT NULL,
			errors TEXT[],
			locator TEXT,
			recorded_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (run_id, sink)
		);
	`
	// A re-delivered run replaces the previous outcome for the same sink.
	upsertDeliverySQL = `
		INSERT INTO deliveries (run_id, sink, success, errors, locator, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, sink) DO UPDATE SET
			success = EXCLUDED.success,
			errors = EXCLUDED.errors,
			locator = EXCLUDED.locator,
			recorded_at = EXCLUDED.recorded_at;
	`
)

// Entry is one sink outcome for one run.
type Entry struct {
	RunID      string
	Sink       string
	Success    bool
	Errors     []string
	Locator    string
	RecordedAt time.Time
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Ledger writes delivery entries.
type Ledger struct {
	db     execer
	close  func()
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to dsn and makes sure the deliveries table exists.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Ledger, error) {
	dbpool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	logger.Info("PostgreSQL connection pool established")

	l := newLedger(dbpool, logger)
	l.close = dbpool.Close
	if err := l.EnsureSchema(ctx); err != nil {
		dbpool.Close()
		return nil, err
	}
	return l, nil
}

func newLedger(db execer, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger.With(slog.String("component", "ledger")),
		now:    time.Now,
	}
}

// EnsureSchema creates the deliveries table if needed.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create deliveries table: %w", err)
	}
	return nil
}

// Record upserts e. A zero RecordedAt is set to the current time.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.RunID == "" || e.Sink == "" {
		return fmt.Errorf("invalid ledger entry: run id and sink are required")
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = l.now().UTC()
	}
	var locator *string
	if e.Locator != "" {
		locator = &e.Locator
	}

	if _, err := l.db.Exec(ctx, upsertDeliverySQL, e.RunID, e.Sink, e.Success, e.Errors, locator, e.RecordedAt); err != nil {
		return fmt.Errorf("failed to record delivery for run %s: %w", e.RunID, err)
	}
	l.logger.Debug("Recorded delivery",
		slog.String("run_id", e.RunID), slog.String("sink", e.Sink), slog.Bool("success", e.Success))
	return nil
}

// Close releases the connection pool.
func (l *Ledger) Close() error {
	if l.close != nil {
		l.logger.Info("Closing ledger connections")
		l.close()
	}
	return nil
}
