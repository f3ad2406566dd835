package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleInput() NewOrder {
	return NewOrder{
		ClientID: "client-001",
		Priority: PriorityNormal,
		Items:    []Item{{Name: "Box", Quantity: 1, Weight: 2, DeclaredValue: 50}},
		DeliveryAddress: Address{
			Street:     "12 Galle Road",
			City:       "Colombo",
			PostalCode: "00300",
		},
	}
}

func givenPendingOrder(t *testing.T) *Order {
	t.Helper()
	o := New("ORD-1", sampleInput(), t0)
	require.NoError(t, o.Begin(t0))
	return o
}

func givenReadyOrder(t *testing.T) *Order {
	t.Helper()
	o := givenPendingOrder(t)
	require.NoError(t, o.Advance(StageBillingConfirmed, "", t0))
	require.NoError(t, o.Advance(StageWarehouseConfirmed, "", t0))
	require.NoError(t, o.Advance(StageDriverAssigned, "", t0))
	return o
}

func TestStage_Ordering(t *testing.T) {
	assert.True(t, StageSubmitted.Before(StageBillingPending))
	assert.True(t, StageReadyForPickup.Before(StagePickedUp))
	assert.False(t, StagePickedUp.Before(StagePickedUp))
	assert.False(t, StageFailed.Before(StageDelivered))
	assert.Equal(t, StageBillingConfirmed, StageBillingPending.Next())
	assert.Equal(t, Stage(""), StageDelivered.Next())
	assert.Equal(t, -1, StageCancelled.Index())
	assert.True(t, StageCancelled.Valid())
	assert.False(t, Stage("Lost").Valid())
}

func TestStatusAfter(t *testing.T) {
	cases := map[Stage]Stage{
		StageSubmitted:          StageBillingPending,
		StageBillingConfirmed:   StageWarehouseCheckinPending,
		StageWarehouseConfirmed: StageRouteOptimizationPending,
		StageDriverAssigned:     StageReadyForPickup,
		StagePickedUp:           StagePickedUp,
		StageInTransit:          StageInTransit,
		StageDelivered:          StageDelivered,
	}
	for m, want := range cases {
		assert.Equal(t, want, StatusAfter(m), "milestone %s", m)
	}
}

func TestOrder_HappyPathHistory(t *testing.T) {
	o := givenReadyOrder(t)

	assert.Equal(t, StageReadyForPickup, o.Status)
	assert.Equal(t, []Stage{StageSubmitted, StageBillingConfirmed, StageWarehouseConfirmed, StageDriverAssigned}, o.Completed())
	assert.Len(t, o.History, 4)

	require.NoError(t, o.Advance(StagePickedUp, "", t0))
	require.NoError(t, o.Advance(StageInTransit, "", t0))
	require.NoError(t, o.Advance(StageDelivered, "", t0))
	assert.Equal(t, StageDelivered, o.Status)
	assert.Equal(t, Milestones, o.Completed())
}

func TestOrder_Transitions(t *testing.T) {
	cases := []struct {
		name    string
		given   func(*testing.T) *Order
		action  func(*Order) error
		wantErr bool
		want    Stage
	}{
		{
			name:   "billing confirmation advances to warehouse check-in",
			given:  givenPendingOrder,
			action: func(o *Order) error { return o.Advance(StageBillingConfirmed, "INV-1", t0) },
			want:   StageWarehouseCheckinPending,
		},
		{
			name:    "skipping billing is rejected",
			given:   givenPendingOrder,
			action:  func(o *Order) error { return o.Advance(StageWarehouseConfirmed, "", t0) },
			wantErr: true,
			want:    StageBillingPending,
		},
		{
			name:   "pending order can fail",
			given:  givenPendingOrder,
			action: func(o *Order) error { return o.Fail("billing_unavailable", t0) },
			want:   StageFailed,
		},
		{
			name:    "ready order cannot fail",
			given:   givenReadyOrder,
			action:  func(o *Order) error { return o.Fail("x", t0) },
			wantErr: true,
			want:    StageReadyForPickup,
		},
		{
			name:   "ready order can be cancelled",
			given:  givenReadyOrder,
			action: func(o *Order) error { return o.Cancel("client request", t0) },
			want:   StageCancelled,
		},
		{
			name: "picked up order cannot be cancelled",
			given: func(t *testing.T) *Order {
				o := givenReadyOrder(t)
				require.NoError(t, o.Advance(StagePickedUp, "", t0))
				return o
			},
			action:  func(o *Order) error { return o.Cancel("", t0) },
			wantErr: true,
			want:    StagePickedUp,
		},
		{
			name: "failed order cannot advance",
			given: func(t *testing.T) *Order {
				o := givenPendingOrder(t)
				require.NoError(t, o.Fail("billing_unavailable", t0))
				return o
			},
			action:  func(o *Order) error { return o.Advance(StageBillingConfirmed, "", t0) },
			wantErr: true,
			want:    StageFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := tc.given(t)
			err := tc.action(o)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrIllegalTransition))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, o.Status)
		})
	}
}

func TestOrder_FailRecordsReason(t *testing.T) {
	o := givenPendingOrder(t)
	require.NoError(t, o.Fail("billing_unavailable", t0))

	last := o.History[len(o.History)-1]
	assert.Equal(t, StageFailed, last.Stage)
	assert.Equal(t, OutcomeFailed, last.Outcome)
	assert.Equal(t, "billing_unavailable", o.FailureReason)
	assert.Equal(t, []Stage{StageSubmitted}, o.Completed())
}

func TestOrder_CloneIsIndependent(t *testing.T) {
	o := givenPendingOrder(t)
	c := o.Clone()
	c.Items[0].Name = "Crate"
	c.History = append(c.History, HistoryEntry{Stage: StageBillingConfirmed})

	assert.Equal(t, "Box", o.Items[0].Name)
	assert.Len(t, o.History, 1)
}

func TestNewOrder_Validate(t *testing.T) {
	assert.NoError(t, sampleInput().Validate())

	empty := sampleInput()
	empty.Items = nil
	err := empty.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "items", verr.Fields[0].Field)

	bad := sampleInput()
	bad.Items = []Item{{Name: "", Quantity: 0, Weight: -1, DeclaredValue: -5}}
	bad.DeliveryAddress = Address{}
	require.ErrorAs(t, bad.Validate(), &verr)
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{
		"items[0].name", "items[0].quantity", "items[0].weight", "items[0].declaredValue",
		"deliveryAddress.street", "deliveryAddress.city", "deliveryAddress.postalCode",
	}, fields)
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("URGENT")
	require.NoError(t, err)
	assert.Equal(t, PriorityUrgent, p)

	p, err = ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, p)

	_, err = ParsePriority("asap")
	assert.Error(t, err)
}
