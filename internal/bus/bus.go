// Package bus defines the publish/subscribe contract connecting the
// coordinator, the protocol adapters and the notification service.
//
// Delivery is at-least-once: handlers must tolerate duplicates. Messages on one
// topic that share a key are delivered in publish order to each subscriber
// group; nothing is promised across topics.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Message is one delivery unit. Key is the serialization key (the order id).
type Message struct {
	ID      string
	Key     string
	Value   []byte
	Headers map[string]string
	Time    time.Time
}

// Handler processes a delivered message. A non-nil error requests redelivery.
type Handler func(ctx context.Context, msg Message) error

// Bus is implemented by Memory and by the kafka subpackage.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic, group string, h Handler) error
	Close() error
}

var ErrClosed = errors.New("bus: closed")

// DeliveryPolicy bounds redelivery of a message whose handler fails.
type DeliveryPolicy struct {
	MaxDeliveries int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
}

func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{MaxDeliveries: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// PublishJSON marshals v and publishes it under key, carrying the active trace
// context in the message headers.
func PublishJSON(ctx context.Context, b Bus, topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal %s message: %w", topic, err)
	}
	headers := map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	return b.Publish(ctx, topic, Message{
		ID:      uuid.NewString(),
		Key:     key,
		Value:   data,
		Headers: headers,
		Time:    time.Now().UTC(),
	})
}

// DecodeJSON unmarshals the message payload into v.
func DecodeJSON(msg Message, v any) error {
	if err := json.Unmarshal(msg.Value, v); err != nil {
		return fmt.Errorf("bus: decode message %s: %w", msg.ID, err)
	}
	return nil
}

// ContextFrom restores the publisher's trace context from msg headers.
func ContextFrom(ctx context.Context, msg Message) context.Context {
	if len(msg.Headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
}

// Deliver invokes h for msg, recovering panics and retrying failures per
// policy. It returns the last handler error once deliveries are exhausted; the
// caller then acknowledges the message and moves on.
func Deliver(ctx context.Context, topic string, h Handler, msg Message, policy DeliveryPolicy) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialDelay
	eb.MaxInterval = policy.MaxDelay
	eb.MaxElapsedTime = 0

	retries := policy.MaxDeliveries - 1
	if retries < 0 {
		retries = 0
	}

	delivery := 0
	op := func() error {
		delivery++
		err := safeInvoke(ctx, h, msg)
		if err != nil {
			slog.WarnContext(ctx, "bus handler failed",
				"topic", topic, "message_id", msg.ID, "key", msg.Key,
				"delivery", delivery, "error", err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx))
	if err != nil {
		slog.ErrorContext(ctx, "bus message dead-lettered",
			"topic", topic, "message_id", msg.ID, "key", msg.Key,
			"deliveries", delivery, "error", err)
	}
	return err
}

func safeInvoke(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: handler panic: %v", r)
		}
	}()
	return h(ContextFrom(ctx, msg), msg)
}
