// Package postgres stores orders in PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/store"
	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id          TEXT        PRIMARY KEY,
    client_id   TEXT        NOT NULL,
    status      TEXT        NOT NULL,
    version     INTEGER     NOT NULL,
    document    JSONB       NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_client_id ON orders(client_id, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
`

type Repository struct {
	pool *pgxpool.Pool
}

var _ store.Repository = (*Repository)(nil)

// Open connects to databaseURL, pings it and applies the schema.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() {
	r.pool.Close()
}

func (r *Repository) Create(ctx context.Context, o *domain.Order) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("postgres: encode order %s: %w", o.ID, err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO orders(id, client_id, status, version, document, created_at, updated_at)
		 VALUES($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.ClientID, string(o.Status), o.Version, doc, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicate, o.ID)
		}
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT document FROM orders WHERE id=$1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return decode(doc)
}

func (r *Repository) Update(ctx context.Context, o *domain.Order) error {
	next := o.Clone()
	next.Version = o.Version + 1
	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("postgres: encode order %s: %w", o.ID, err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status=$3, version=$4, document=$5, updated_at=$6
		 WHERE id=$1 AND version=$2`,
		o.ID, o.Version, string(next.Status), next.Version, doc, next.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := r.Get(ctx, o.ID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("%w: %s version %d", store.ErrConcurrencyConflict, o.ID, o.Version)
	}
	o.Version = next.Version
	return nil
}

func (r *Repository) ListByClient(ctx context.Context, clientID string) ([]*domain.Order, error) {
	return r.list(ctx, `SELECT document FROM orders WHERE client_id=$1 ORDER BY created_at`, clientID)
}

func (r *Repository) ListActive(ctx context.Context) ([]*domain.Order, error) {
	return r.list(ctx, `SELECT document FROM orders WHERE status = ANY($1) ORDER BY created_at`,
		[]string{
			string(domain.StageSubmitted),
			string(domain.StageBillingPending),
			string(domain.StageWarehouseCheckinPending),
			string(domain.StageRouteOptimizationPending),
		})
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]*domain.Order, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	out := make([]*domain.Order, 0, len(docs))
	for _, doc := range docs {
		o, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func decode(doc []byte) (*domain.Order, error) {
	var o domain.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("postgres: decode order: %w", err)
	}
	return &o, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
