// Package sqlite provides a SQLite-backed implementation of store.Repository.
//
// The order is stored as one JSON document per row next to the columns the
// coordinator filters on. Update is a compare-and-swap on the version column.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/store"
	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"

	// Pure-Go driver, no CGO.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id          TEXT    PRIMARY KEY,
    client_id   TEXT    NOT NULL,
    status      TEXT    NOT NULL,
    version     INTEGER NOT NULL,
    document    TEXT    NOT NULL,
    created_at  TEXT    NOT NULL,
    updated_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_client_id ON orders(client_id, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
`

const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Repository struct {
	db *sql.DB
}

var _ store.Repository = (*Repository)(nil)

// OpenDB opens (or creates) the SQLite file at path with WAL enabled. The
// handle is shared by the order store and the saga log.
func OpenDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	return db, nil
}

// New applies the schema on db and returns the repository.
func New(db *sql.DB) (*Repository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite: apply orders schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Create(ctx context.Context, o *domain.Order) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("sqlite: encode order %s: %w", o.ID, err)
	}
	const q = `
		INSERT INTO orders (id, client_id, status, version, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, q,
		o.ID, o.ClientID, string(o.Status), o.Version, string(doc),
		o.CreatedAt.UTC().Format(timeLayout), o.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", store.ErrDuplicate, o.ID)
		}
		return fmt.Errorf("sqlite: create order %s: %w", o.ID, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT document FROM orders WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get order %s: %w", id, err)
	}
	return decode(doc)
}

func (r *Repository) Update(ctx context.Context, o *domain.Order) error {
	next := o.Clone()
	next.Version = o.Version + 1
	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("sqlite: encode order %s: %w", o.ID, err)
	}

	const q = `
		UPDATE orders
		SET    status = ?, version = ?, document = ?, updated_at = ?
		WHERE  id = ? AND version = ?`
	res, err := r.db.ExecContext(ctx, q,
		string(next.Status), next.Version, string(doc), next.UpdatedAt.UTC().Format(timeLayout),
		o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("sqlite: update order %s: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update order %s: %w", o.ID, err)
	}
	if n == 0 {
		if _, gerr := r.Get(ctx, o.ID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("%w: %s version %d", store.ErrConcurrencyConflict, o.ID, o.Version)
	}
	o.Version = next.Version
	return nil
}

func (r *Repository) ListByClient(ctx context.Context, clientID string) ([]*domain.Order, error) {
	return r.list(ctx, `SELECT document FROM orders WHERE client_id = ? ORDER BY created_at`, clientID)
}

func (r *Repository) ListActive(ctx context.Context) ([]*domain.Order, error) {
	return r.list(ctx, `SELECT document FROM orders WHERE status IN (?, ?, ?, ?) ORDER BY created_at`,
		string(domain.StageSubmitted),
		string(domain.StageBillingPending),
		string(domain.StageWarehouseCheckinPending),
		string(domain.StageRouteOptimizationPending))
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list orders: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Order, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlite: scan order: %w", err)
		}
		o, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func decode(doc string) (*domain.Order, error) {
	var o domain.Order
	if err := json.Unmarshal([]byte(doc), &o); err != nil {
		return nil, fmt.Errorf("sqlite: decode order: %w", err)
	}
	return &o, nil
}
