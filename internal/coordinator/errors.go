package coordinator

import (
	"errors"
	"fmt"

	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
)

var (
	// ErrConflict is returned for requests the order's current stage does not
	// allow, such as cancelling after pickup.
	ErrConflict = errors.New("coordinator: conflicting order state")
	// ErrWrongDriver is returned when a driver action comes from a driver other
	// than the one assigned to the order.
	ErrWrongDriver = errors.New("coordinator: driver not assigned to order")
)

// SagaExhaustedError records why a step stopped being retried. It moves the
// order to Failed and is never returned to API callers.
type SagaExhaustedError struct {
	OrderID  string
	Kind     contracts.AdapterKind
	Attempts int
	Code     contracts.ErrorCode
	Message  string
}

func (e *SagaExhaustedError) Error() string {
	return fmt.Sprintf("saga %s: %s step gave up after %d attempt(s): %s %s",
		e.OrderID, e.Kind, e.Attempts, e.Code, e.Message)
}
