package domain

import (
	"fmt"
	"strings"
)

// NewOrder is the client-supplied input to order submission.
type NewOrder struct {
	ClientID            string
	Priority            Priority
	Items               []Item
	DeliveryAddress     Address
	SpecialInstructions string
}

// FieldError names one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for client input that can never succeed. It is
// surfaced immediately and never retried.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// Validate checks the submission and returns a *ValidationError listing every
// problem, or nil.
func (in NewOrder) Validate() error {
	verr := &ValidationError{}

	if strings.TrimSpace(in.ClientID) == "" {
		verr.add("clientId", "is required")
	}
	switch in.Priority {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
	default:
		verr.add("priority", fmt.Sprintf("unknown value %q", in.Priority))
	}

	if len(in.Items) == 0 {
		verr.add("items", "must not be empty")
	}
	for i, it := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.Name) == "" {
			verr.add(field+".name", "is required")
		}
		if it.Quantity < 1 {
			verr.add(field+".quantity", "must be at least 1")
		}
		if it.Weight < 0 {
			verr.add(field+".weight", "must not be negative")
		}
		if it.DeclaredValue < 0 {
			verr.add(field+".declaredValue", "must not be negative")
		}
	}

	addr := in.DeliveryAddress
	if strings.TrimSpace(addr.Street) == "" {
		verr.add("deliveryAddress.street", "is required")
	}
	if strings.TrimSpace(addr.City) == "" {
		verr.add("deliveryAddress.city", "is required")
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		verr.add("deliveryAddress.postalCode", "is required")
	}
	if addr.Lat < -90 || addr.Lat > 90 {
		verr.add("deliveryAddress.lat", "must be within [-90, 90]")
	}
	if addr.Lng < -180 || addr.Lng > 180 {
		verr.add("deliveryAddress.lng", "must be within [-180, 180]")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}
