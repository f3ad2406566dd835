// Package contracts holds the message shapes exchanged over the bus between
// the coordinator, the protocol adapters and the notification service.
package contracts

import (
	"encoding/json"
	"time"

	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
)

// AdapterKind names one external system.
type AdapterKind string

const (
	KindCMS AdapterKind = "cms"
	KindROS AdapterKind = "ros"
	KindWMS AdapterKind = "wms"
)

func (k AdapterKind) RequestTopic() string { return string(k) + ".request" }
func (k AdapterKind) ResultTopic() string  { return string(k) + ".result" }

// TopicStateChange carries order status changes to push clients.
const TopicStateChange = "order.statechange"

// Action distinguishes forward work from compensation.
type Action string

const (
	ActionExecute    Action = "execute"
	ActionCompensate Action = "compensate"
)

// ErrorCode categorizes an adapter failure.
type ErrorCode string

const (
	CodeMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	CodeRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	CodeRejected          ErrorCode = "REJECTED"
	CodeConnectionRefused ErrorCode = "CONNECTION_REFUSED"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeProtocolError     ErrorCode = "PROTOCOL_ERROR"
	CodeInvalidRequest    ErrorCode = "INVALID_REQUEST"
)

// StepRequest is the envelope published on <kind>.request.
type StepRequest struct {
	StepID    string          `json:"stepId"`
	OrderID   string          `json:"orderId"`
	Kind      AdapterKind     `json:"kind"`
	Action    Action          `json:"action"`
	Attempt   int             `json:"attempt"`
	Deadline  time.Time       `json:"deadline"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// AdapterResult is the envelope published on <kind>.result.
type AdapterResult struct {
	StepID       string          `json:"stepId"`
	OrderID      string          `json:"orderId"`
	Kind         AdapterKind     `json:"kind"`
	Action       Action          `json:"action"`
	Attempt      int             `json:"attempt"`
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    ErrorCode       `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	LatencyMS    int64           `json:"latencyMs"`
	Timestamp    time.Time       `json:"timestamp"`
}

// StateChange is published on order.statechange after every transition.
type StateChange struct {
	OrderID   string       `json:"orderId"`
	Status    domain.Stage `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Version   int          `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
}

// Billing.

type BillingRequest struct {
	OrderID    string          `json:"orderId"`
	ClientID   string          `json:"clientId"`
	Priority   domain.Priority `json:"priority"`
	Items      []domain.Item   `json:"items"`
	BillingRef string          `json:"billingRef,omitempty"`
}

type BillingResult struct {
	BillingRef string `json:"billingRef"`
}

// Warehouse.

type CheckinRequest struct {
	OrderID       string        `json:"orderId"`
	Items         []domain.Item `json:"items"`
	WarehouseSlot string        `json:"warehouseSlot,omitempty"`
}

type CheckinResult struct {
	WarehouseSlot string `json:"warehouseSlot"`
}

// Routing.

type RouteRequest struct {
	OrderID         string          `json:"orderId"`
	Priority        domain.Priority `json:"priority"`
	DeliveryAddress domain.Address  `json:"deliveryAddress"`
	WarehouseSlot   string          `json:"warehouseSlot"`
	RouteRef        string          `json:"routeRef,omitempty"`
}

type RouteResult struct {
	RouteRef         string `json:"routeRef"`
	AssignedDriverID string `json:"assignedDriverId"`
}
