package ports

import (
	"context"

	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/sagalog"
	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
)

// OrderService is what the HTTP layer needs from the coordinator.
// *coordinator.Orchestrator satisfies it.
type OrderService interface {
	SubmitOrder(ctx context.Context, in domain.NewOrder) (string, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, clientID string) ([]*domain.Order, error)
	CancelOrder(ctx context.Context, id string) (*domain.Order, error)
	RecordDriverAction(ctx context.Context, id string, action domain.DriverAction, driverID string) (*domain.Order, error)
	Steps(ctx context.Context, id string) ([]*sagalog.SagaLog, error)
}

// Submitter submits an order at most once per idempotency key.
type Submitter interface {
	Submit(ctx context.Context, idempotencyKey string, in domain.NewOrder) (orderID string, replayed bool, err error)
}
