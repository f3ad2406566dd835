package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Priority string

const (
	PriorityNormal Priority = "Normal"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

// ParsePriority accepts the canonical names case-insensitively. An empty value
// defaults to Normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

type Item struct {
	Name          string  `json:"name"`
	Quantity      int     `json:"quantity"`
	Weight        float64 `json:"weight"`
	DeclaredValue float64 `json:"declaredValue"`
}

type Address struct {
	Street     string  `json:"street"`
	City       string  `json:"city"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country,omitempty"`
	Lat        float64 `json:"lat,omitempty"`
	Lng        float64 `json:"lng,omitempty"`
}

// Outcome of a history entry.
type Outcome string

const (
	OutcomeSucceeded Outcome = "Succeeded"
	OutcomeFailed    Outcome = "Failed"
	OutcomeCancelled Outcome = "Cancelled"
)

type HistoryEntry struct {
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
}

// Order is the aggregate root of the fulfillment saga.
type Order struct {
	ID                  string         `json:"orderId"`
	ClientID            string         `json:"clientId"`
	Priority            Priority       `json:"priority"`
	Status              Stage          `json:"status"`
	FailureReason       string         `json:"reason,omitempty"`
	Items               []Item         `json:"items"`
	DeliveryAddress     Address        `json:"deliveryAddress"`
	SpecialInstructions string         `json:"specialInstructions,omitempty"`
	BillingRef          string         `json:"billingRef,omitempty"`
	WarehouseSlot       string         `json:"warehouseSlot,omitempty"`
	RouteRef            string         `json:"routeRef,omitempty"`
	AssignedDriverID    string         `json:"assignedDriverId,omitempty"`
	History             []HistoryEntry `json:"history"`
	Version             int            `json:"version"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

var (
	ErrIllegalTransition = errors.New("illegal stage transition")
	ErrNotFound          = errors.New("order not found")
)

// New builds an order in Submitted with its first history entry.
func New(id string, in NewOrder, now time.Time) *Order {
	items := make([]Item, len(in.Items))
	copy(items, in.Items)
	o := &Order{
		ID:                  id,
		ClientID:            in.ClientID,
		Priority:            in.Priority,
		Items:               items,
		DeliveryAddress:     in.DeliveryAddress,
		SpecialInstructions: in.SpecialInstructions,
		CreatedAt:           now,
	}
	o.Status = StageSubmitted
	o.History = []HistoryEntry{{Stage: StageSubmitted, Timestamp: now, Outcome: OutcomeSucceeded}}
	o.UpdatedAt = now
	return o
}

// Advance records milestone m and moves the status to the stage that follows
// it. m must be the next milestone after the last one recorded.
func (o *Order) Advance(m Stage, detail string, now time.Time) error {
	if o.Status.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, o.Status)
	}
	if want := nextMilestone(o.lastMilestone()); m != want {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, m)
	}
	o.History = append(o.History, HistoryEntry{Stage: m, Timestamp: now, Outcome: OutcomeSucceeded, Detail: detail})
	o.Status = StatusAfter(m)
	o.UpdatedAt = now
	return nil
}

// Begin moves a freshly submitted order into its first pending stage.
func (o *Order) Begin(now time.Time) error {
	if o.Status != StageSubmitted {
		return fmt.Errorf("%w: begin from %s", ErrIllegalTransition, o.Status)
	}
	o.Status = StatusAfter(StageSubmitted)
	o.UpdatedAt = now
	return nil
}

// Fail moves a pending order to Failed with a human readable reason.
func (o *Order) Fail(reason string, now time.Time) error {
	if !o.Status.Pending() {
		return fmt.Errorf("%w: fail from %s", ErrIllegalTransition, o.Status)
	}
	o.History = append(o.History, HistoryEntry{Stage: StageFailed, Timestamp: now, Outcome: OutcomeFailed, Detail: reason})
	o.Status = StageFailed
	o.FailureReason = reason
	o.UpdatedAt = now
	return nil
}

// Cancellable reports whether the client may still cancel the order.
func (o *Order) Cancellable() bool {
	return !o.Status.Terminal() && o.Status.Before(StagePickedUp)
}

// Cancel moves the order to Cancelled.
func (o *Order) Cancel(detail string, now time.Time) error {
	if !o.Cancellable() {
		return fmt.Errorf("%w: cancel from %s", ErrIllegalTransition, o.Status)
	}
	o.History = append(o.History, HistoryEntry{Stage: StageCancelled, Timestamp: now, Outcome: OutcomeCancelled, Detail: detail})
	o.Status = StageCancelled
	o.UpdatedAt = now
	return nil
}

func (o *Order) lastMilestone() Stage {
	for i := len(o.History) - 1; i >= 0; i-- {
		if o.History[i].Outcome == OutcomeSucceeded {
			return o.History[i].Stage
		}
	}
	return ""
}

func nextMilestone(last Stage) Stage {
	if last == "" {
		return StageSubmitted
	}
	for i, m := range Milestones {
		if m == last && i+1 < len(Milestones) {
			return Milestones[i+1]
		}
	}
	return ""
}

// Completed returns the milestones recorded so far, in order.
func (o *Order) Completed() []Stage {
	var out []Stage
	for _, h := range o.History {
		if h.Outcome == OutcomeSucceeded {
			out = append(out, h.Stage)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand to readers.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	c.History = append([]HistoryEntry(nil), o.History...)
	return &c
}

// TotalWeight sums weight across all units.
func (o *Order) TotalWeight() float64 {
	var w float64
	for _, it := range o.Items {
		w += it.Weight * float64(it.Quantity)
	}
	return w
}

// TotalUnits sums item quantities.
func (o *Order) TotalUnits() int {
	var n int
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}
