package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcmexdev/swifttrack-sagas/internal/api-gateway/core/ports"
	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/cache"
)

const pendingMarker = "pending"

// ErrSubmissionInProgress is returned while another request with the same
// idempotency key is still being processed.
var ErrSubmissionInProgress = errors.New("submission with this idempotency key is in progress")

var _ ports.Submitter = (*IdempotentSubmitter)(nil)

// IdempotentSubmitter remembers the order id created for each idempotency key
// so a retried POST returns the first order instead of creating another.
type IdempotentSubmitter struct {
	orders ports.OrderService
	cache  cache.Cache
	ttl    time.Duration
}

func NewIdempotentSubmitter(orders ports.OrderService, c cache.Cache, ttl time.Duration) *IdempotentSubmitter {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotentSubmitter{orders: orders, cache: c, ttl: ttl}
}

func (s *IdempotentSubmitter) Submit(ctx context.Context, idempotencyKey string, in domain.NewOrder) (string, bool, error) {
	if idempotencyKey == "" || s.cache == nil {
		id, err := s.orders.SubmitOrder(ctx, in)
		return id, false, err
	}

	key := s.cache.GenerateKey("submit", in.ClientID+":"+idempotencyKey)
	reserved, err := s.cache.SetNX(ctx, key, pendingMarker, s.ttl)
	if err != nil {
		return "", false, fmt.Errorf("idempotency reserve: %w", err)
	}
	if !reserved {
		prev, err := s.cache.Get(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("idempotency lookup: %w", err)
		}
		if prev == "" || prev == pendingMarker {
			return "", false, ErrSubmissionInProgress
		}
		slog.InfoContext(ctx, "replaying idempotent submission", "order_id", prev, "client_id", in.ClientID)
		return prev, true, nil
	}

	id, err := s.orders.SubmitOrder(ctx, in)
	if err != nil {
		if derr := s.cache.Delete(ctx, key); derr != nil {
			slog.WarnContext(ctx, "idempotency release failed", "key", key, "error", derr)
		}
		return "", false, err
	}
	if err := s.cache.Set(ctx, key, id, s.ttl); err != nil {
		slog.WarnContext(ctx, "idempotency store failed", "order_id", id, "error", err)
	}
	return id, false, nil
}
