// Package notification pushes order status changes to connected clients.
//
// The Hub keeps a registry of client channels per order and consumes
// order.statechange from the bus. A failing channel is dropped and logged; it
// never affects the order itself.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jcmexdev/swifttrack-sagas/internal/bus"
	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/metrics"
)

// ConsumerGroup is the bus group the hub subscribes with.
const ConsumerGroup = "notification"

// Notification is the message pushed to clients.
type Notification struct {
	OrderID   string       `json:"orderId"`
	Status    domain.Stage `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Version   int          `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
}

func FromChange(c contracts.StateChange) Notification {
	return Notification{OrderID: c.OrderID, Status: c.Status, Reason: c.Reason, Version: c.Version, Timestamp: c.Timestamp}
}

func FromOrder(o *domain.Order) Notification {
	return Notification{OrderID: o.ID, Status: o.Status, Reason: o.FailureReason, Version: o.Version, Timestamp: o.UpdatedAt}
}

// Terminal reports whether no further notification follows n.
func (n Notification) Terminal() bool { return n.Status.Terminal() }

// Channel is one client connection. Send must not block.
type Channel interface {
	ID() string
	Send(n Notification) error
	Close() error
}

var ErrSlowChannel = errors.New("notification: channel buffer full")

// ChannelError reports a push that could not reach a client.
type ChannelError struct {
	OrderID   string
	ChannelID string
	Err       error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("notification: channel %s of order %s: %v", e.ChannelID, e.OrderID, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

type subscription struct {
	version int
	members map[string]*Member
}

// Member is one channel registered for an order. It remembers the newest
// version pushed to the channel.
type Member struct {
	hub     *Hub
	orderID string
	ch      Channel
	version int
	closed  bool
}

type Hub struct {
	mu      sync.RWMutex
	orders  map[string]*subscription
	metrics *metrics.Notifier
}

func NewHub(m *metrics.Notifier) *Hub {
	return &Hub{orders: make(map[string]*subscription), metrics: m}
}

// Register adds ch for orderID. Register before reading the order's current
// state, then hand that state to Prime, so no change falls in between.
func (h *Hub) Register(orderID string, ch Channel) *Member {
	m := &Member{hub: h, orderID: orderID, ch: ch}
	h.mu.Lock()
	sub, ok := h.orders[orderID]
	if !ok {
		sub = &subscription{members: make(map[string]*Member)}
		h.orders[orderID] = sub
	}
	sub.members[ch.ID()] = m
	n := h.countLocked()
	h.mu.Unlock()
	h.metrics.SetConnected(n)
	return m
}

// Attach registers ch and primes it with current.
func (h *Hub) Attach(orderID string, ch Channel, current *Notification) error {
	return h.Register(orderID, ch).Prime(current)
}

// Prime sends current unless the channel already received that version or a
// newer one. A terminal current closes the channel.
func (m *Member) Prime(current *Notification) error {
	if current == nil {
		return nil
	}
	h := m.hub
	h.mu.Lock()
	if m.closed || current.Version <= m.version {
		h.mu.Unlock()
		return nil
	}
	m.version = current.Version
	terminal := current.Terminal()
	if terminal {
		m.closed = true
		h.removeLocked(m.orderID, m.ch.ID())
	}
	n := h.countLocked()
	h.mu.Unlock()
	if terminal {
		h.metrics.SetConnected(n)
	}

	if err := m.ch.Send(*current); err != nil {
		h.Unregister(m.orderID, m.ch.ID())
		_ = m.ch.Close()
		return &ChannelError{OrderID: m.orderID, ChannelID: m.ch.ID(), Err: err}
	}
	h.metrics.Push()
	if terminal {
		_ = m.ch.Close()
	}
	return nil
}

// Unregister removes a channel without closing it.
func (h *Hub) Unregister(orderID, channelID string) {
	h.mu.Lock()
	h.removeLocked(orderID, channelID)
	n := h.countLocked()
	h.mu.Unlock()
	h.metrics.SetConnected(n)
}

func (h *Hub) removeLocked(orderID, channelID string) {
	if sub, ok := h.orders[orderID]; ok {
		delete(sub.members, channelID)
		if len(sub.members) == 0 {
			delete(h.orders, orderID)
		}
	}
}

// Connected returns the number of channels registered for orderID.
func (h *Hub) Connected(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if sub, ok := h.orders[orderID]; ok {
		return len(sub.members)
	}
	return 0
}

func (h *Hub) countLocked() int {
	n := 0
	for _, sub := range h.orders {
		n += len(sub.members)
	}
	return n
}

// Publish pushes n to every channel of its order. Events not newer than the
// last one published for the order are dropped, and a channel primed with a
// newer snapshot skips it. After a terminal status every channel of the
// order is closed. It returns the channel failures, already logged.
func (h *Hub) Publish(ctx context.Context, n Notification) []error {
	h.mu.Lock()
	sub, ok := h.orders[n.OrderID]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	if n.Version <= sub.version {
		h.mu.Unlock()
		h.metrics.Drop("stale")
		slog.DebugContext(ctx, "stale notification dropped", "order_id", n.OrderID, "version", n.Version, "seen", sub.version)
		return nil
	}
	sub.version = n.Version
	channels := make([]Channel, 0, len(sub.members))
	for _, m := range sub.members {
		if n.Version <= m.version {
			continue
		}
		m.version = n.Version
		if n.Terminal() {
			m.closed = true
		}
		channels = append(channels, m.ch)
	}
	if n.Terminal() {
		delete(h.orders, n.OrderID)
	}
	h.mu.Unlock()

	var errs []error
	for _, ch := range channels {
		if err := ch.Send(n); err != nil {
			cerr := &ChannelError{OrderID: n.OrderID, ChannelID: ch.ID(), Err: err}
			errs = append(errs, cerr)
			h.metrics.Drop("channel_error")
			slog.WarnContext(ctx, "notification not delivered", "order_id", n.OrderID, "channel_id", ch.ID(), "error", err)
			h.Unregister(n.OrderID, ch.ID())
			_ = ch.Close()
			continue
		}
		h.metrics.Push()
		if n.Terminal() {
			_ = ch.Close()
		}
	}
	if n.Terminal() {
		h.mu.RLock()
		c := h.countLocked()
		h.mu.RUnlock()
		h.metrics.SetConnected(c)
	}
	return errs
}

// Subscribe consumes state changes from b.
func (h *Hub) Subscribe(ctx context.Context, b bus.Bus) error {
	return b.Subscribe(ctx, contracts.TopicStateChange, ConsumerGroup, func(ctx context.Context, msg bus.Message) error {
		var c contracts.StateChange
		if err := bus.DecodeJSON(msg, &c); err != nil {
			slog.ErrorContext(ctx, "dropping undecodable state change", "message_id", msg.ID, "error", err)
			return nil
		}
		h.Publish(ctx, FromChange(c))
		return nil
	})
}
