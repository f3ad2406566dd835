package adapters

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/swifttrack-sagas/internal/bus"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
)

func TestAdminRouter(t *testing.T) {
	srv := httptest.NewServer(AdminRouter("cms-adapter"))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	_ = res.Body.Close()
	assert.Equal(t, "cms-adapter", body["service"])

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestServeProcessesUntilCancelled(t *testing.T) {
	b := bus.NewMemory(bus.DefaultDeliveryPolicy())
	t.Cleanup(func() { _ = b.Close() })

	results := make(chan contracts.AdapterResult, 64)
	require.NoError(t, b.Subscribe(context.Background(), contracts.KindCMS.ResultTopic(), "test", func(_ context.Context, msg bus.Message) error {
		var res contracts.AdapterResult
		if err := bus.DecodeJSON(msg, &res); err != nil {
			return err
		}
		select {
		case results <- res:
		default:
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(&stubAdapter{
		execute: func(context.Context, contracts.StepRequest) Outcome {
			return Ok(map[string]string{"billingRef": "B-1"})
		},
	}, b)
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, w, ServeConfig{HTTPAddr: freeAddr(t)}) }()

	// The worker subscribes asynchronously; publish until one request lands.
	require.Eventually(t, func() bool {
		if err := bus.PublishJSON(context.Background(), b, contracts.KindCMS.RequestTopic(), "ord-1", request(contracts.ActionExecute)); err != nil {
			return false
		}
		select {
		case res := <-results:
			return res.Success
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
