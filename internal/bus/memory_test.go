package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() DeliveryPolicy {
	return DeliveryPolicy{MaxDeliveries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

type recorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *recorder) handle(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, string(msg.Value))
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func TestMemory_DeliversInPublishOrder(t *testing.T) {
	b := NewMemory(fastPolicy())
	defer b.Close()
	ctx := context.Background()

	rec := &recorder{}
	require.NoError(t, b.Subscribe(ctx, "cms.result", "coordinator", rec.handle))

	want := []string{"a", "b", "c", "d", "e"}
	for _, v := range want {
		require.NoError(t, b.Publish(ctx, "cms.result", Message{Key: "ORD-1", Value: []byte(v)}))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.snapshot())
}

func TestMemory_EachGroupGetsACopy(t *testing.T) {
	b := NewMemory(fastPolicy())
	defer b.Close()
	ctx := context.Background()

	first, second := &recorder{}, &recorder{}
	require.NoError(t, b.Subscribe(ctx, "order.statechange", "notifier", first.handle))
	require.NoError(t, b.Subscribe(ctx, "order.statechange", "audit", second.handle))
	require.NoError(t, b.Publish(ctx, "order.statechange", Message{Key: "ORD-1", Value: []byte("x")}))

	require.Eventually(t, func() bool {
		return len(first.snapshot()) == 1 && len(second.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMemory_BacklogReachesLateSubscriber(t *testing.T) {
	b := NewMemory(fastPolicy())
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "wms.request", Message{Key: "ORD-1", Value: []byte("early")}))

	rec := &recorder{}
	require.NoError(t, b.Subscribe(ctx, "wms.request", "wms-adapter", rec.handle))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestMemory_RedeliversFailedHandler(t *testing.T) {
	b := NewMemory(fastPolicy())
	defer b.Close()
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, b.Subscribe(ctx, "ros.result", "coordinator", func(context.Context, Message) error {
		if calls.Add(1) < 3 {
			return errors.New("store busy")
		}
		return nil
	}))
	require.NoError(t, b.Publish(ctx, "ros.result", Message{Key: "ORD-1"}))

	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestMemory_PanickingHandlerDoesNotStopSubscriber(t *testing.T) {
	b := NewMemory(fastPolicy())
	defer b.Close()
	ctx := context.Background()

	rec := &recorder{}
	require.NoError(t, b.Subscribe(ctx, "cms.request", "cms-adapter", func(ctx context.Context, msg Message) error {
		if string(msg.Value) == "boom" {
			panic("bad payload")
		}
		return rec.handle(ctx, msg)
	}))
	require.NoError(t, b.Publish(ctx, "cms.request", Message{Key: "ORD-1", Value: []byte("boom")}))
	require.NoError(t, b.Publish(ctx, "cms.request", Message{Key: "ORD-1", Value: []byte("ok")}))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ok"}, rec.snapshot())
}

func TestMemory_PublishAfterClose(t *testing.T) {
	b := NewMemory(fastPolicy())
	require.NoError(t, b.Close())
	err := b.Publish(context.Background(), "cms.request", Message{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublishJSON_RoundTrip(t *testing.T) {
	b := NewMemory(fastPolicy())
	defer b.Close()
	ctx := context.Background()

	type payload struct {
		OrderID string `json:"orderId"`
	}
	got := make(chan payload, 1)
	require.NoError(t, b.Subscribe(ctx, "wms.result", "coordinator", func(_ context.Context, msg Message) error {
		var p payload
		if err := DecodeJSON(msg, &p); err != nil {
			return err
		}
		assert.Equal(t, "ORD-9", msg.Key)
		assert.NotEmpty(t, msg.ID)
		got <- p
		return nil
	}))
	require.NoError(t, PublishJSON(ctx, b, "wms.result", "ORD-9", payload{OrderID: "ORD-9"}))

	select {
	case p := <-got:
		assert.Equal(t, "ORD-9", p.OrderID)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}
