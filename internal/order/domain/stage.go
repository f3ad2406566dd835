package domain

// Stage is one position in an order's lifecycle.
type Stage string

const (
	StageSubmitted                Stage = "Submitted"
	StageBillingPending           Stage = "BillingPending"
	StageBillingConfirmed         Stage = "BillingConfirmed"
	StageWarehouseCheckinPending  Stage = "WarehouseCheckinPending"
	StageWarehouseConfirmed       Stage = "WarehouseConfirmed"
	StageRouteOptimizationPending Stage = "RouteOptimizationPending"
	StageDriverAssigned           Stage = "DriverAssigned"
	StageReadyForPickup           Stage = "ReadyForPickup"
	StagePickedUp                 Stage = "PickedUp"
	StageInTransit                Stage = "InTransit"
	StageDelivered                Stage = "Delivered"

	StageFailed    Stage = "Failed"
	StageCancelled Stage = "Cancelled"
)

// canonical is the required stage order. Failed and Cancelled are side
// branches and have no position.
var canonical = []Stage{
	StageSubmitted,
	StageBillingPending,
	StageBillingConfirmed,
	StageWarehouseCheckinPending,
	StageWarehouseConfirmed,
	StageRouteOptimizationPending,
	StageDriverAssigned,
	StageReadyForPickup,
	StagePickedUp,
	StageInTransit,
	StageDelivered,
}

// Milestones are the stages recorded in an order's history, in order.
var Milestones = []Stage{
	StageSubmitted,
	StageBillingConfirmed,
	StageWarehouseConfirmed,
	StageDriverAssigned,
	StagePickedUp,
	StageInTransit,
	StageDelivered,
}

var position = func() map[Stage]int {
	m := make(map[Stage]int, len(canonical))
	for i, s := range canonical {
		m[s] = i
	}
	return m
}()

// Canonical returns a copy of the full stage ordering.
func Canonical() []Stage {
	out := make([]Stage, len(canonical))
	copy(out, canonical)
	return out
}

// Index returns the stage's position in the canonical order, or -1 for the
// side-branch stages and unknown values.
func (s Stage) Index() int {
	if i, ok := position[s]; ok {
		return i
	}
	return -1
}

// Before reports whether s comes strictly before other in the canonical order.
func (s Stage) Before(other Stage) bool {
	i, j := s.Index(), other.Index()
	return i >= 0 && j >= 0 && i < j
}

// Next returns the stage following s, or "" when s is the last stage or a
// side branch.
func (s Stage) Next() Stage {
	i := s.Index()
	if i < 0 || i+1 >= len(canonical) {
		return ""
	}
	return canonical[i+1]
}

// Terminal reports whether no further transition can leave s.
func (s Stage) Terminal() bool {
	return s == StageDelivered || s == StageFailed || s == StageCancelled
}

// Pending reports whether s waits on an adapter reply.
func (s Stage) Pending() bool {
	switch s {
	case StageBillingPending, StageWarehouseCheckinPending, StageRouteOptimizationPending:
		return true
	}
	return false
}

// Resting reports whether s is a status-only stage reached automatically once
// the milestone before it is recorded.
func (s Stage) Resting() bool {
	return s.Pending() || s == StageReadyForPickup
}

// Milestone reports whether s is recorded in history.
func (s Stage) Milestone() bool {
	for _, m := range Milestones {
		if m == s {
			return true
		}
	}
	return false
}

// StatusAfter is the status an order holds once milestone m is recorded.
func StatusAfter(m Stage) Stage {
	if next := m.Next(); next != "" && next.Resting() {
		return next
	}
	return m
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.Index() >= 0 || s == StageFailed || s == StageCancelled
}

// DriverAction is a delivery event reported by the driver app.
type DriverAction string

const (
	DriverPickup  DriverAction = "pickup"
	DriverTransit DriverAction = "transit"
	DriverDeliver DriverAction = "deliver"
)

// Milestone returns the stage a driver action records.
func (a DriverAction) Milestone() (Stage, bool) {
	switch a {
	case DriverPickup:
		return StagePickedUp, true
	case DriverTransit:
		return StageInTransit, true
	case DriverDeliver:
		return StageDelivered, true
	}
	return "", false
}
