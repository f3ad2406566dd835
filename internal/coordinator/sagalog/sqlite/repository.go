// Package sqlite provides a SQLite-backed implementation of sagalog.Repository.
//
// It shares the *sql.DB opened for the order store, so WAL mode and the single
// writer connection configured there apply here too.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/sagalog"
)

// schema is append-only: each row is one immutable event.
const schema = `
CREATE TABLE IF NOT EXISTS saga_logs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,

    -- Order id. Not UNIQUE: one row per event.
    saga_id         TEXT        NOT NULL,
    status          TEXT        NOT NULL,
    step_id         TEXT        NOT NULL DEFAULT '',

    -- "<adapter>/<action>", e.g. "cms/execute".
    current_step    TEXT        NOT NULL DEFAULT '',
    attempt         INTEGER     NOT NULL DEFAULT 0,

    -- Submission payload, written on STARTED only.
    payload         TEXT,
    error_messages  TEXT        NOT NULL DEFAULT '[]',
    trace_id        TEXT        NOT NULL DEFAULT '',
    span_id         TEXT        NOT NULL DEFAULT '',
    updated_at      TEXT        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_logs_saga_id ON saga_logs(saga_id, id);
CREATE INDEX IF NOT EXISTS idx_saga_logs_trace_id ON saga_logs(trace_id);
`

type Repository struct {
	db *sql.DB
}

var _ sagalog.Repository = (*Repository)(nil)

// New applies the schema on db.
func New(db *sql.DB) (*Repository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite: apply saga log schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Save inserts a new entry. Safe for concurrent use.
func (r *Repository) Save(ctx context.Context, entry *sagalog.SagaLog) error {
	const q = `
		INSERT INTO saga_logs
			(saga_id, status, step_id, current_step, attempt, payload, error_messages, trace_id, span_id, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		entry.SagaID,
		string(entry.Status),
		entry.StepID,
		entry.CurrentStep,
		entry.Attempt,
		nullableString(entry.Payload),
		entry.ErrorMessages,
		entry.TraceID,
		entry.SpanID,
		entry.UpdatedAt.UTC().Format("2006-01-02T15:04:05.999999999Z"),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save saga log for %q: %w", entry.SagaID, err)
	}
	return nil
}

// ListBySaga returns the entries of one order in insertion order.
func (r *Repository) ListBySaga(ctx context.Context, sagaID string) ([]*sagalog.SagaLog, error) {
	const q = `
		SELECT saga_id, status, step_id, current_step, attempt, COALESCE(payload,''),
		       error_messages, trace_id, span_id, updated_at
		FROM   saga_logs
		WHERE  saga_id = ?
		ORDER  BY id`

	rows, err := r.db.QueryContext(ctx, q, sagaID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list saga log for %q: %w", sagaID, err)
	}
	defer rows.Close()

	out := make([]*sagalog.SagaLog, 0)
	for rows.Next() {
		var entry sagalog.SagaLog
		var updatedAt string
		if err := rows.Scan(
			&entry.SagaID,
			&entry.Status,
			&entry.StepID,
			&entry.CurrentStep,
			&entry.Attempt,
			&entry.Payload,
			&entry.ErrorMessages,
			&entry.TraceID,
			&entry.SpanID,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan saga log for %q: %w", sagaID, err)
		}
		if entry.UpdatedAt, err = parseRFC3339(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

// nullableString stores NULL for empty payloads.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse saga log time %q: %w", s, err)
	}
	return t, nil
}
