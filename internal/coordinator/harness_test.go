package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/swifttrack-sagas/internal/bus"
	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/sagalog"
	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/store"
	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/metrics"
)

// recordingBus captures every publish synchronously.
type recordingBus struct {
	mu   sync.Mutex
	sent map[string][]bus.Message
}

func newRecordingBus() *recordingBus {
	return &recordingBus{sent: make(map[string][]bus.Message)}
}

func (b *recordingBus) Publish(_ context.Context, topic string, msg bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent[topic] = append(b.sent[topic], msg)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, string, bus.Handler) error { return nil }
func (b *recordingBus) Close() error                                                 { return nil }

func (b *recordingBus) requests(t *testing.T, kind contracts.AdapterKind) []contracts.StepRequest {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []contracts.StepRequest
	for _, m := range b.sent[kind.RequestTopic()] {
		var req contracts.StepRequest
		require.NoError(t, json.Unmarshal(m.Value, &req))
		out = append(out, req)
	}
	return out
}

func (b *recordingBus) changes(t *testing.T) []contracts.StateChange {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []contracts.StateChange
	for _, m := range b.sent[contracts.TopicStateChange] {
		var c contracts.StateChange
		require.NoError(t, json.Unmarshal(m.Value, &c))
		out = append(out, c)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	orch  *Orchestrator
	repo  *store.Memory
	logs  *sagalog.Memory
	bus   *recordingBus
	clock *fakeClock
	ctx   context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:  store.NewMemory(),
		logs:  sagalog.NewMemory(),
		bus:   newRecordingBus(),
		clock: &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		ctx:   context.Background(),
	}
	h.orch = New(h.repo, h.logs, h.bus, DefaultConfig(),
		WithClock(h.clock.Now),
		WithMetrics(metrics.NewSaga(prometheus.NewRegistry())),
	)
	return h
}

func sampleOrder() domain.NewOrder {
	return domain.NewOrder{
		ClientID: "client-001",
		Priority: domain.PriorityHigh,
		Items: []domain.Item{
			{Name: "Laptop", Quantity: 1, Weight: 2.5, DeclaredValue: 1200},
			{Name: "Charger", Quantity: 2, Weight: 0.4, DeclaredValue: 40},
		},
		DeliveryAddress: domain.Address{Street: "12 Galle Road", City: "Colombo", PostalCode: "00300"},
	}
}

func (h *harness) submit(t *testing.T) string {
	t.Helper()
	id, err := h.orch.SubmitOrder(h.ctx, sampleOrder())
	require.NoError(t, err)
	return id
}

func (h *harness) order(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := h.orch.GetOrder(h.ctx, id)
	require.NoError(t, err)
	return o
}

// lastRequest returns the newest request published for kind.
func (h *harness) lastRequest(t *testing.T, kind contracts.AdapterKind) contracts.StepRequest {
	t.Helper()
	reqs := h.bus.requests(t, kind)
	require.NotEmpty(t, reqs, "no %s request published", kind)
	return reqs[len(reqs)-1]
}

func successData(kind contracts.AdapterKind) json.RawMessage {
	var v any
	switch kind {
	case contracts.KindCMS:
		v = contracts.BillingResult{BillingRef: "INV-1001"}
	case contracts.KindWMS:
		v = contracts.CheckinResult{WarehouseSlot: "A-07"}
	case contracts.KindROS:
		v = contracts.RouteResult{RouteRef: "RT-55", AssignedDriverID: "DRV-9"}
	}
	data, _ := json.Marshal(v)
	return data
}

func (h *harness) succeed(t *testing.T, req contracts.StepRequest) contracts.AdapterResult {
	t.Helper()
	res := contracts.AdapterResult{
		StepID:  req.StepID,
		OrderID: req.OrderID,
		Kind:    req.Kind,
		Action:  req.Action,
		Attempt: req.Attempt,
		Success: true,
		Data:    successData(req.Kind),
	}
	require.NoError(t, h.orch.OnAdapterResult(h.ctx, res))
	return res
}

func (h *harness) fail(t *testing.T, req contracts.StepRequest, code contracts.ErrorCode) {
	t.Helper()
	require.NoError(t, h.orch.OnAdapterResult(h.ctx, contracts.AdapterResult{
		StepID:       req.StepID,
		OrderID:      req.OrderID,
		Kind:         req.Kind,
		Action:       req.Action,
		Attempt:      req.Attempt,
		ErrorCode:    code,
		ErrorMessage: "backend said no",
	}))
}

// timeout lets the current attempt of a step expire.
func (h *harness) timeout() {
	h.clock.Advance(DefaultConfig().StepTimeout + time.Second)
	h.orch.Sweep(h.ctx)
}

// driveToReady runs billing, check-in and routing to success.
func (h *harness) driveToReady(t *testing.T, id string) {
	t.Helper()
	h.succeed(t, h.lastRequest(t, contracts.KindCMS))
	h.succeed(t, h.lastRequest(t, contracts.KindWMS))
	h.succeed(t, h.lastRequest(t, contracts.KindROS))
	require.Equal(t, domain.StageReadyForPickup, h.order(t, id).Status)
}
