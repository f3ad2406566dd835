// Package store persists order aggregates for the coordinator.
//
// Every implementation stores the order as a single document guarded by its
// Version. Update succeeds only when the stored version equals the version the
// caller loaded; the stored copy then carries Version+1.
package store

import (
	"context"
	"errors"

	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
)

// ErrConcurrencyConflict is returned by Update when another writer advanced
// the order since it was loaded.
var ErrConcurrencyConflict = errors.New("store: concurrency conflict")

// ErrDuplicate is returned by Create for an id that already exists.
var ErrDuplicate = errors.New("store: order already exists")

// Repository is the port the coordinator depends on.
type Repository interface {
	Create(ctx context.Context, o *domain.Order) error
	// Get returns domain.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*domain.Order, error)
	// Update writes o if the stored version equals o.Version, then bumps
	// o.Version.
	Update(ctx context.Context, o *domain.Order) error
	ListByClient(ctx context.Context, clientID string) ([]*domain.Order, error)
	// ListActive returns orders the saga still drives: submitted ones and
	// those waiting on an adapter.
	ListActive(ctx context.Context) ([]*domain.Order, error)
}
