package httpx

import (
	"time"

	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
)

type CreateOrderRequest struct {
	ClientID            string               `json:"clientId"`
	Priority            string               `json:"priority"`
	Items               []CreateOrderItemDTO `json:"items"`
	DeliveryAddress     AddressDTO           `json:"deliveryAddress"`
	SpecialInstructions string               `json:"specialInstructions,omitempty"`
}

type CreateOrderItemDTO struct {
	Name          string  `json:"name"`
	Quantity      int     `json:"quantity"`
	Weight        float64 `json:"weight"`
	DeclaredValue float64 `json:"declaredValue"`
}

type AddressDTO struct {
	Street     string  `json:"street"`
	City       string  `json:"city"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country,omitempty"`
	Lat        float64 `json:"lat,omitempty"`
	Lng        float64 `json:"lng,omitempty"`
}

type SubmitOrderResponse struct {
	OrderID string       `json:"orderId"`
	Status  domain.Stage `json:"status"`
}

type DriverActionRequest struct {
	DriverID string `json:"driverId"`
}

type OrderResponse struct {
	OrderID             string               `json:"orderId"`
	ClientID            string               `json:"clientId"`
	Priority            domain.Priority      `json:"priority"`
	Status              domain.Stage         `json:"status"`
	Reason              string               `json:"reason,omitempty"`
	Items               []CreateOrderItemDTO `json:"items"`
	DeliveryAddress     AddressDTO           `json:"deliveryAddress"`
	SpecialInstructions string               `json:"specialInstructions,omitempty"`
	BillingRef          string               `json:"billingRef,omitempty"`
	WarehouseSlot       string               `json:"warehouseSlot,omitempty"`
	RouteRef            string               `json:"routeRef,omitempty"`
	AssignedDriverID    string               `json:"assignedDriverId,omitempty"`
	History             []HistoryResponse    `json:"history"`
	CreatedAt           string               `json:"createdAt"`
	UpdatedAt           string               `json:"updatedAt"`
}

type HistoryResponse struct {
	Stage     domain.Stage   `json:"stage"`
	Timestamp string         `json:"timestamp"`
	Outcome   domain.Outcome `json:"outcome"`
	Detail    string         `json:"detail,omitempty"`
}

type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message,omitempty"`
	Fields  []domain.FieldError `json:"fields,omitempty"`
}

func (r CreateOrderRequest) toDomain() domain.NewOrder {
	priority, err := domain.ParsePriority(r.Priority)
	if err != nil {
		// left as given so validation reports the field
		priority = domain.Priority(r.Priority)
	}
	items := make([]domain.Item, len(r.Items))
	for i, it := range r.Items {
		items[i] = domain.Item{Name: it.Name, Quantity: it.Quantity, Weight: it.Weight, DeclaredValue: it.DeclaredValue}
	}
	a := r.DeliveryAddress
	return domain.NewOrder{
		ClientID:            r.ClientID,
		Priority:            priority,
		Items:               items,
		DeliveryAddress:     domain.Address{Street: a.Street, City: a.City, PostalCode: a.PostalCode, Country: a.Country, Lat: a.Lat, Lng: a.Lng},
		SpecialInstructions: r.SpecialInstructions,
	}
}

func mapOrderToResponse(o *domain.Order) OrderResponse {
	items := make([]CreateOrderItemDTO, len(o.Items))
	for i, it := range o.Items {
		items[i] = CreateOrderItemDTO{Name: it.Name, Quantity: it.Quantity, Weight: it.Weight, DeclaredValue: it.DeclaredValue}
	}
	history := make([]HistoryResponse, len(o.History))
	for i, h := range o.History {
		history[i] = HistoryResponse{Stage: h.Stage, Timestamp: formatTime(h.Timestamp), Outcome: h.Outcome, Detail: h.Detail}
	}
	a := o.DeliveryAddress
	return OrderResponse{
		OrderID:             o.ID,
		ClientID:            o.ClientID,
		Priority:            o.Priority,
		Status:              o.Status,
		Reason:              o.FailureReason,
		Items:               items,
		DeliveryAddress:     AddressDTO{Street: a.Street, City: a.City, PostalCode: a.PostalCode, Country: a.Country, Lat: a.Lat, Lng: a.Lng},
		SpecialInstructions: o.SpecialInstructions,
		BillingRef:          o.BillingRef,
		WarehouseSlot:       o.WarehouseSlot,
		RouteRef:            o.RouteRef,
		AssignedDriverID:    o.AssignedDriverID,
		History:             history,
		CreatedAt:           formatTime(o.CreatedAt),
		UpdatedAt:           formatTime(o.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
