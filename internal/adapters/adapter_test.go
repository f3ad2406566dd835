package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/swifttrack-sagas/internal/bus"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/metrics"
)

type stubAdapter struct {
	execute    func(ctx context.Context, req contracts.StepRequest) Outcome
	compensate func(ctx context.Context, req contracts.StepRequest) Outcome
}

func (s *stubAdapter) Kind() contracts.AdapterKind { return contracts.KindCMS }

func (s *stubAdapter) Execute(ctx context.Context, req contracts.StepRequest) Outcome {
	return s.execute(ctx, req)
}

func (s *stubAdapter) Compensate(ctx context.Context, req contracts.StepRequest) Outcome {
	return s.compensate(ctx, req)
}

func request(action contracts.Action) contracts.StepRequest {
	payload, _ := json.Marshal(contracts.BillingRequest{OrderID: "ord-1", ClientID: "c-1"})
	return contracts.StepRequest{
		StepID:  "step-1",
		OrderID: "ord-1",
		Kind:    contracts.KindCMS,
		Action:  action,
		Attempt: 2,
		Payload: payload,
	}
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, contracts.CodeRejected, CodeOf(fmt.Errorf("call: %w", Errorf(contracts.CodeRejected, "no"))))
	assert.Equal(t, contracts.CodeTimeout, CodeOf(fmt.Errorf("dial: %w", context.DeadlineExceeded)))
	assert.Equal(t, contracts.CodeRemoteUnavailable, CodeOf(errors.New("boom")))

	inner := errors.New("socket closed")
	err := Wrap(contracts.CodeProtocolError, "read reply", inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "PROTOCOL_ERROR")
}

func TestDecodePayload(t *testing.T) {
	var br contracts.BillingRequest
	require.NoError(t, DecodePayload(request(contracts.ActionExecute), &br))
	assert.Equal(t, "c-1", br.ClientID)

	bad := request(contracts.ActionExecute)
	bad.Payload = json.RawMessage(`{"orderId":`)
	assert.Equal(t, contracts.CodeInvalidRequest, CodeOf(DecodePayload(bad, &br)))

	bad.Payload = nil
	assert.Equal(t, contracts.CodeInvalidRequest, CodeOf(DecodePayload(bad, &br)))
}

func TestWorkerHandleSuccess(t *testing.T) {
	b := bus.NewMemory(bus.DefaultDeliveryPolicy())
	t.Cleanup(func() { _ = b.Close() })
	results := collect(t, b)

	reg := prometheus.NewRegistry()
	m := metrics.NewAdapter(reg, "cms")
	w := NewWorker(&stubAdapter{
		execute: func(context.Context, contracts.StepRequest) Outcome {
			return Ok(contracts.BillingResult{BillingRef: "INV-9"})
		},
	}, b, WithMetrics(m))

	res := w.Handle(context.Background(), request(contracts.ActionExecute))
	require.True(t, res.Success)
	assert.Equal(t, "step-1", res.StepID)
	assert.Equal(t, 2, res.Attempt)
	assert.JSONEq(t, `{"billingRef":"INV-9"}`, string(res.Data))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("execute", "OK")))

	got := <-results
	assert.Equal(t, res.StepID, got.StepID)
	assert.True(t, got.Success)
}

func TestWorkerHandleFailureAndUnknownAction(t *testing.T) {
	b := bus.NewMemory(bus.DefaultDeliveryPolicy())
	t.Cleanup(func() { _ = b.Close() })

	w := NewWorker(&stubAdapter{
		compensate: func(context.Context, contracts.StepRequest) Outcome {
			return Fail(Errorf(contracts.CodeRejected, "already voided"))
		},
	}, b)

	res := w.Handle(context.Background(), request(contracts.ActionCompensate))
	assert.False(t, res.Success)
	assert.Equal(t, contracts.CodeRejected, res.ErrorCode)
	assert.Contains(t, res.ErrorMessage, "already voided")

	res = w.Handle(context.Background(), request("refund"))
	assert.Equal(t, contracts.CodeInvalidRequest, res.ErrorCode)
}

func TestWorkerRequestTimeout(t *testing.T) {
	b := bus.NewMemory(bus.DefaultDeliveryPolicy())
	t.Cleanup(func() { _ = b.Close() })

	w := NewWorker(&stubAdapter{
		execute: func(ctx context.Context, _ contracts.StepRequest) Outcome {
			<-ctx.Done()
			return Fail(ctx.Err())
		},
	}, b, WithRequestTimeout(20*time.Millisecond))

	res := w.Handle(context.Background(), request(contracts.ActionExecute))
	assert.Equal(t, contracts.CodeTimeout, res.ErrorCode)
}

func TestWorkerConsumesRequests(t *testing.T) {
	b := bus.NewMemory(bus.DefaultDeliveryPolicy())
	t.Cleanup(func() { _ = b.Close() })
	results := collect(t, b)

	w := NewWorker(&stubAdapter{
		execute: func(_ context.Context, req contracts.StepRequest) Outcome {
			return Ok(contracts.BillingResult{BillingRef: "INV-" + req.StepID})
		},
	}, b)
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, bus.PublishJSON(ctx, b, contracts.KindCMS.RequestTopic(), "ord-1", request(contracts.ActionExecute)))

	select {
	case res := <-results:
		assert.True(t, res.Success)
		assert.JSONEq(t, `{"billingRef":"INV-step-1"}`, string(res.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no result published")
	}
	w.Wait()
}

func collect(t *testing.T, b bus.Bus) <-chan contracts.AdapterResult {
	t.Helper()
	out := make(chan contracts.AdapterResult, 8)
	require.NoError(t, b.Subscribe(context.Background(), contracts.KindCMS.ResultTopic(), "test", func(_ context.Context, msg bus.Message) error {
		var res contracts.AdapterResult
		if err := bus.DecodeJSON(msg, &res); err != nil {
			return err
		}
		out <- res
		return nil
	}))
	return out
}
