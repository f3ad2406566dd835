package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/swifttrack-sagas/internal/bus"
)

func TestNew_ParsesBrokerList(t *testing.T) {
	b, err := New(" kafka-1:9092, ,kafka-2:9092 ", bus.DefaultDeliveryPolicy())
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, b.brokers)

	_, err = New(" , ", bus.DefaultDeliveryPolicy())
	assert.Error(t, err)
}

func TestMessageConversion(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	in := bus.Message{
		ID:      "m-1",
		Key:     "ORD-1",
		Value:   []byte(`{"orderId":"ORD-1"}`),
		Headers: map[string]string{"traceparent": "00-abc-def-01"},
		Time:    now,
	}

	km := toKafka(in)
	assert.Equal(t, []byte("ORD-1"), km.Key)
	assert.Len(t, km.Headers, 2)

	out := fromKafka(km)
	assert.Equal(t, in, out)
}

func TestFromKafka_SynthesizesMissingID(t *testing.T) {
	out := fromKafka(kafka.Message{Topic: "cms.result", Partition: 2, Offset: 41, Key: []byte("ORD-1")})
	assert.Equal(t, "cms.result/2/41", out.ID)
	assert.Empty(t, out.Headers)
}

func TestPublishAfterClose(t *testing.T) {
	b, err := New("localhost:9092", bus.DefaultDeliveryPolicy())
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = b.writer("cms.request")
	assert.ErrorIs(t, err, bus.ErrClosed)
}
