package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
)

// Step is one forward action of the saga together with the action that undoes
// it. Steps build bus payloads from the order; adapters do the I/O.
type Step interface {
	Name() string
	Kind() contracts.AdapterKind
	// Pending is the status an order holds while the step is in flight.
	Pending() domain.Stage
	// Milestone is recorded in history when the step succeeds.
	Milestone() domain.Stage
	Execute(o *domain.Order) any
	// Apply copies the adapter's result onto o and returns the history detail.
	Apply(o *domain.Order, data json.RawMessage) (string, error)
	Compensate(o *domain.Order) any
	// FailureReason is the human readable reason stored on a failed order.
	FailureReason(code contracts.ErrorCode) string
}

// saga lists the automated steps in execution order.
var saga = []Step{billingStep{}, checkinStep{}, routingStep{}}

var errEmptyResult = errors.New("adapter result carries no data")

func stepForStatus(s domain.Stage) (Step, bool) {
	for _, st := range saga {
		if st.Pending() == s {
			return st, true
		}
	}
	return nil, false
}

func stepForKind(k contracts.AdapterKind) (Step, bool) {
	for _, st := range saga {
		if st.Kind() == k {
			return st, true
		}
	}
	return nil, false
}

func stepForMilestone(m domain.Stage) (Step, bool) {
	for _, st := range saga {
		if st.Milestone() == m {
			return st, true
		}
	}
	return nil, false
}

func reason(subject string, code contracts.ErrorCode) string {
	if code == contracts.CodeRejected || code == contracts.CodeInvalidRequest {
		return subject + "_rejected"
	}
	return subject + "_unavailable"
}

// --- billingStep ---

type billingStep struct{}

func (billingStep) Name() string                { return "billing" }
func (billingStep) Kind() contracts.AdapterKind { return contracts.KindCMS }
func (billingStep) Pending() domain.Stage       { return domain.StageBillingPending }
func (billingStep) Milestone() domain.Stage     { return domain.StageBillingConfirmed }

func (billingStep) Execute(o *domain.Order) any {
	return contracts.BillingRequest{
		OrderID:  o.ID,
		ClientID: o.ClientID,
		Priority: o.Priority,
		Items:    o.Items,
	}
}

func (billingStep) Apply(o *domain.Order, data json.RawMessage) (string, error) {
	var res contracts.BillingResult
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("billing result: %w", err)
	}
	if res.BillingRef == "" {
		return "", fmt.Errorf("billing result: %w", errEmptyResult)
	}
	o.BillingRef = res.BillingRef
	return res.BillingRef, nil
}

func (billingStep) Compensate(o *domain.Order) any {
	return contracts.BillingRequest{OrderID: o.ID, ClientID: o.ClientID, BillingRef: o.BillingRef}
}

func (billingStep) FailureReason(code contracts.ErrorCode) string { return reason("billing", code) }

// --- checkinStep ---

type checkinStep struct{}

func (checkinStep) Name() string                { return "warehouse_checkin" }
func (checkinStep) Kind() contracts.AdapterKind { return contracts.KindWMS }
func (checkinStep) Pending() domain.Stage       { return domain.StageWarehouseCheckinPending }
func (checkinStep) Milestone() domain.Stage     { return domain.StageWarehouseConfirmed }

func (checkinStep) Execute(o *domain.Order) any {
	return contracts.CheckinRequest{OrderID: o.ID, Items: o.Items}
}

func (checkinStep) Apply(o *domain.Order, data json.RawMessage) (string, error) {
	var res contracts.CheckinResult
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("checkin result: %w", err)
	}
	if res.WarehouseSlot == "" {
		return "", fmt.Errorf("checkin result: %w", errEmptyResult)
	}
	o.WarehouseSlot = res.WarehouseSlot
	return res.WarehouseSlot, nil
}

func (checkinStep) Compensate(o *domain.Order) any {
	return contracts.CheckinRequest{OrderID: o.ID, WarehouseSlot: o.WarehouseSlot}
}

func (checkinStep) FailureReason(code contracts.ErrorCode) string { return reason("warehouse", code) }

// --- routingStep ---

type routingStep struct{}

func (routingStep) Name() string                { return "route_optimization" }
func (routingStep) Kind() contracts.AdapterKind { return contracts.KindROS }
func (routingStep) Pending() domain.Stage       { return domain.StageRouteOptimizationPending }
func (routingStep) Milestone() domain.Stage     { return domain.StageDriverAssigned }

func (routingStep) Execute(o *domain.Order) any {
	return contracts.RouteRequest{
		OrderID:         o.ID,
		Priority:        o.Priority,
		DeliveryAddress: o.DeliveryAddress,
		WarehouseSlot:   o.WarehouseSlot,
	}
}

func (routingStep) Apply(o *domain.Order, data json.RawMessage) (string, error) {
	var res contracts.RouteResult
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("route result: %w", err)
	}
	if res.RouteRef == "" || res.AssignedDriverID == "" {
		return "", fmt.Errorf("route result: %w", errEmptyResult)
	}
	o.RouteRef = res.RouteRef
	o.AssignedDriverID = res.AssignedDriverID
	return res.RouteRef + " driver " + res.AssignedDriverID, nil
}

func (routingStep) Compensate(o *domain.Order) any {
	return contracts.RouteRequest{OrderID: o.ID, RouteRef: o.RouteRef}
}

func (routingStep) FailureReason(code contracts.ErrorCode) string { return reason("routing", code) }
