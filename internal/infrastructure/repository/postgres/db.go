package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockID int64 = 2026101501

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the trace and alias tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS answer_traces (
	id TEXT PRIMARY KEY,
	session_id TEXT,
	question TEXT NOT NULL,
	intent TEXT NOT NULL,
	intent_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	fan_out BOOLEAN NOT NULL DEFAULT FALSE,
	state TEXT NOT NULL,
	grounded BOOLEAN NOT NULL,
	rejected_reason TEXT,
	citations JSONB NOT NULL DEFAULT '[]'::jsonb,
	latency_ms BIGINT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_answer_traces_received_at ON answer_traces(received_at DESC);

CREATE TABLE IF NOT EXISTS answer_attempts (
	trace_id TEXT NOT NULL REFERENCES answer_traces(id) ON DELETE CASCADE,
	position INT NOT NULL,
	strategy TEXT NOT NULL,
	status TEXT NOT NULL,
	latency_ms BIGINT NOT NULL,
	evidence_count INT NOT NULL,
	error_kind TEXT,
	error_detail TEXT,
	retried BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (trace_id, position)
);

CREATE TABLE IF NOT EXISTS source_aliases (
	alias_id TEXT PRIMARY KEY,
	canonical_id TEXT NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
