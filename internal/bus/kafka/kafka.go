// Package kafka implements bus.Bus on top of segmentio/kafka-go.
//
// Each topic gets one writer using the Hash balancer, so every message for an
// order lands on the same partition and keeps its publish order. Readers join
// a consumer group and commit an offset only after the handler succeeded or
// the message was dead-lettered.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jcmexdev/swifttrack-sagas/internal/bus"
)

type Bus struct {
	brokers []string
	policy  bus.DeliveryPolicy

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers []*kafka.Reader
	closed  bool

	wg sync.WaitGroup
}

var _ bus.Bus = (*Bus)(nil)

// New parses a comma separated broker list.
func New(brokersCSV string, policy bus.DeliveryPolicy) (*Bus, error) {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	return &Bus{brokers: brokers, policy: policy, writers: make(map[string]*kafka.Writer)}, nil
}

func (b *Bus) writer(topic string) (*kafka.Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, bus.ErrClosed
	}
	if w, ok := b.writers[topic]; ok {
		return w, nil
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(b.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	b.writers[topic] = w
	return w, nil
}

func (b *Bus) Publish(ctx context.Context, topic string, msg bus.Message) error {
	w, err := b.writer(topic)
	if err != nil {
		return err
	}
	if err := w.WriteMessages(ctx, toKafka(msg)); err != nil {
		return fmt.Errorf("kafka: publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a reader goroutine for the group. It returns immediately;
// the reader stops when ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic, group string, h bus.Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return bus.ErrClosed
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	b.readers = append(b.readers, r)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.consume(ctx, r, topic, group, h)
	return nil
}

func (b *Bus) consume(ctx context.Context, r *kafka.Reader, topic, group string, h bus.Handler) {
	defer b.wg.Done()
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			slog.ErrorContext(ctx, "kafka fetch failed", "topic", topic, "group", group, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		_ = bus.Deliver(ctx, topic, h, fromKafka(m), b.policy)
		if ctx.Err() != nil {
			return
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			slog.ErrorContext(ctx, "kafka commit failed",
				"topic", topic, "group", group, "offset", m.Offset, "error", err)
		}
	}
}

// Close flushes writers and stops readers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	writers := b.writers
	readers := b.readers
	b.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.wg.Wait()
	for topic, w := range writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: close writer %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

const headerMessageID = "message-id"

func toKafka(msg bus.Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+1)
	if msg.ID != "" {
		headers = append(headers, kafka.Header{Key: headerMessageID, Value: []byte(msg.ID)})
	}
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	t := msg.Time
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return kafka.Message{Key: []byte(msg.Key), Value: msg.Value, Headers: headers, Time: t}
}

func fromKafka(m kafka.Message) bus.Message {
	out := bus.Message{
		Key:     string(m.Key),
		Value:   m.Value,
		Headers: make(map[string]string, len(m.Headers)),
		Time:    m.Time,
	}
	for _, h := range m.Headers {
		if h.Key == headerMessageID {
			out.ID = string(h.Value)
			continue
		}
		out.Headers[h.Key] = string(h.Value)
	}
	if out.ID == "" {
		out.ID = fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
	}
	return out
}
