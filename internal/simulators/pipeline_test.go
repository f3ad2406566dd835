package simulators_test

import (
	"context"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/swifttrack-sagas/internal/adapters"
	"github.com/jcmexdev/swifttrack-sagas/internal/adapters/cms"
	"github.com/jcmexdev/swifttrack-sagas/internal/adapters/ros"
	"github.com/jcmexdev/swifttrack-sagas/internal/adapters/wms"
	"github.com/jcmexdev/swifttrack-sagas/internal/bus"
	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator"
	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/sagalog"
	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/store"
	"github.com/jcmexdev/swifttrack-sagas/internal/notification"
	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
	"github.com/jcmexdev/swifttrack-sagas/internal/simulators"
)

// pipeline runs the real adapters against the simulators, joined to the
// coordinator and the notification hub by the memory bus.
type pipeline struct {
	orch      *coordinator.Orchestrator
	hub       *notification.Hub
	billing   *simulators.Billing
	routing   *simulators.Routing
	warehouse *simulators.Warehouse
}

func newPipeline(t *testing.T, creditLimit float64, slots int) *pipeline {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	p := &pipeline{
		billing:   simulators.NewBilling(creditLimit),
		routing:   simulators.NewRouting("DRV-001"),
		warehouse: simulators.NewWarehouse(slots, 0),
		hub:       notification.NewHub(nil),
	}
	cmsSrv := httptest.NewServer(p.billing)
	rosSrv := httptest.NewServer(p.routing.Handler())
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	wmsDone := make(chan struct{})
	go func() {
		defer close(wmsDone)
		_ = p.warehouse.Serve(ctx, lis)
	}()

	b := bus.NewMemory(bus.DefaultDeliveryPolicy())
	wmsCfg := wms.DefaultConfig()
	wmsCfg.Addr = lis.Addr().String()
	wmsAdapter := wms.New(wmsCfg)

	workers := []*adapters.Worker{
		adapters.NewWorker(cms.New(cms.Config{URL: cmsSrv.URL}), b),
		adapters.NewWorker(ros.New(ros.Config{BaseURL: rosSrv.URL}), b),
		adapters.NewWorker(wmsAdapter, b),
	}
	for _, w := range workers {
		require.NoError(t, w.Start(ctx))
	}
	require.NoError(t, p.hub.Subscribe(ctx, b))

	cfg := coordinator.DefaultConfig()
	cfg.BackoffBase = 10 * time.Millisecond
	cfg.BackoffMax = 50 * time.Millisecond
	cfg.StepTimeout = 3 * time.Second
	cfg.SweepInterval = 10 * time.Millisecond
	p.orch = coordinator.New(store.NewMemory(), sagalog.NewMemory(), b, cfg)
	require.NoError(t, p.orch.Subscribe(ctx))
	go func() { _ = p.orch.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		for _, w := range workers {
			w.Wait()
		}
		_ = b.Close()
		_ = wmsAdapter.Close()
		cmsSrv.Close()
		rosSrv.Close()
		<-wmsDone
	})
	return p
}

func sampleOrder() domain.NewOrder {
	return domain.NewOrder{
		ClientID: "client-001",
		Priority: domain.PriorityUrgent,
		Items: []domain.Item{
			{Name: "Laptop", Quantity: 1, Weight: 2.5, DeclaredValue: 1200},
			{Name: "Charger", Quantity: 2, Weight: 0.4, DeclaredValue: 40},
		},
		DeliveryAddress: domain.Address{Street: "12 Galle Road", City: "Colombo", PostalCode: "00300"},
	}
}

func (p *pipeline) waitFor(t *testing.T, id string, want domain.Stage) *domain.Order {
	t.Helper()
	var last *domain.Order
	require.Eventually(t, func() bool {
		o, err := p.orch.GetOrder(context.Background(), id)
		if err != nil {
			return false
		}
		last = o
		return o.Status == want
	}, 10*time.Second, 10*time.Millisecond, "order never reached %s", want)
	return last
}

type recorder struct {
	mu  sync.Mutex
	got []domain.Stage
}

func (r *recorder) ID() string { return "recorder" }

func (r *recorder) Send(n notification.Notification) error {
	r.mu.Lock()
	r.got = append(r.got, n.Status)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) stages() []domain.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Stage(nil), r.got...)
}

func TestPipelineReachesReadyForPickup(t *testing.T) {
	p := newPipeline(t, 5000, 4)
	ctx := context.Background()

	id, err := p.orch.SubmitOrder(ctx, sampleOrder())
	require.NoError(t, err)
	rec := &recorder{}
	p.hub.Register(id, rec)

	o := p.waitFor(t, id, domain.StageReadyForPickup)
	assert.Equal(t, "DRV-001", o.AssignedDriverID)
	assert.NotEmpty(t, o.BillingRef)
	assert.Equal(t, "A-01", o.WarehouseSlot)
	assert.Equal(t, 1, p.billing.Open())
	assert.Equal(t, 1, p.warehouse.Held())
	assert.Equal(t, 1, p.routing.Active())

	require.Eventually(t, func() bool {
		got := rec.stages()
		return len(got) > 0 && got[len(got)-1] == domain.StageReadyForPickup
	}, 2*time.Second, 10*time.Millisecond)

	for _, action := range []domain.DriverAction{domain.DriverPickup, domain.DriverTransit, domain.DriverDeliver} {
		_, err := p.orch.RecordDriverAction(ctx, id, action, "DRV-001")
		require.NoError(t, err)
	}
	assert.Equal(t, domain.StageDelivered, p.waitFor(t, id, domain.StageDelivered).Status)
}

func TestPipelineBillingDeclined(t *testing.T) {
	p := newPipeline(t, 100, 4)

	id, err := p.orch.SubmitOrder(context.Background(), sampleOrder())
	require.NoError(t, err)

	o := p.waitFor(t, id, domain.StageFailed)
	assert.Equal(t, "billing_rejected", o.FailureReason)
	assert.Zero(t, p.billing.Open())
	assert.Zero(t, p.warehouse.Held())
}

func TestPipelineWarehouseFullVoidsInvoice(t *testing.T) {
	p := newPipeline(t, 5000, 0)

	id, err := p.orch.SubmitOrder(context.Background(), sampleOrder())
	require.NoError(t, err)

	o := p.waitFor(t, id, domain.StageFailed)
	assert.Equal(t, "warehouse_rejected", o.FailureReason)
	require.Eventually(t, func() bool { return p.billing.Open() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestPipelineRetriesTransientFaults(t *testing.T) {
	p := newPipeline(t, 5000, 4)
	p.billing.FailNext(1)
	p.warehouse.FailNext(1)
	p.routing.FailNext(1)

	id, err := p.orch.SubmitOrder(context.Background(), sampleOrder())
	require.NoError(t, err)

	p.waitFor(t, id, domain.StageReadyForPickup)
	steps, err := p.orch.Steps(context.Background(), id)
	require.NoError(t, err)
	assert.NotEmpty(t, steps)
}

func TestPipelineCancelReleasesEverything(t *testing.T) {
	p := newPipeline(t, 5000, 4)
	ctx := context.Background()

	id, err := p.orch.SubmitOrder(ctx, sampleOrder())
	require.NoError(t, err)
	p.waitFor(t, id, domain.StageReadyForPickup)

	o, err := p.orch.CancelOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StageCancelled, o.Status)

	require.Eventually(t, func() bool {
		return p.billing.Open() == 0 && p.warehouse.Held() == 0 && p.routing.Active() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
