package notification

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
)

const (
	writeWait   = 5 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
	sendBuffer  = 16
	readLimit   = 512
	closeReason = "order reached a terminal status"
)

var errChannelClosed = errors.New("notification: channel closed")

// SnapshotFunc returns the order's current status, or nil when unknown.
type SnapshotFunc func(ctx context.Context, orderID string) (*Notification, error)

// SnapshotFrom adapts an order lookup; unknown orders yield no snapshot.
func SnapshotFrom(get func(ctx context.Context, id string) (*domain.Order, error)) SnapshotFunc {
	return func(ctx context.Context, orderID string) (*Notification, error) {
		o, err := get(ctx, orderID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		n := FromOrder(o)
		return &n, nil
	}
}

// Handler upgrades GET /ws/orders/{orderId} to a WebSocket and streams that
// order's notifications until a terminal status or disconnect.
type Handler struct {
	hub      *Hub
	snapshot SnapshotFunc
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, snapshot SnapshotFunc) *Handler {
	return &Handler{
		hub:      hub,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes mounts the handler on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ws/orders/{orderId}", h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		http.Error(w, "missing order id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "websocket upgrade failed", "order_id", orderID, "error", err)
		return
	}

	ch := newWSChannel(conn)
	go ch.writeLoop()

	// Changes published from here on reach ch; the snapshot covers the rest.
	member := h.hub.Register(orderID, ch)
	if h.snapshot != nil {
		current, err := h.snapshot(r.Context(), orderID)
		if err != nil {
			slog.WarnContext(r.Context(), "snapshot failed", "order_id", orderID, "error", err)
		}
		if err := member.Prime(current); err != nil {
			slog.WarnContext(r.Context(), "initial notification failed", "order_id", orderID, "error", err)
		}
	}
	slog.InfoContext(r.Context(), "client connected", "order_id", orderID, "channel_id", ch.ID())

	ch.readLoop()
	h.hub.Unregister(orderID, ch.ID())
	_ = ch.Close()
	slog.InfoContext(r.Context(), "client disconnected", "order_id", orderID, "channel_id", ch.ID())
}

// wsChannel buffers outgoing notifications; a single writer goroutine owns
// the connection's write side.
type wsChannel struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	out    chan Notification
	closed bool
	done   chan struct{}
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan Notification, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsChannel) ID() string { return c.id }

func (c *wsChannel) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errChannelClosed
	}
	select {
	case c.out <- n:
		return nil
	default:
		return ErrSlowChannel
	}
}

// Close stops accepting notifications. Buffered ones are still written
// before the close frame.
func (c *wsChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
	return nil
}

func (c *wsChannel) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.done)
	}()
	for {
		select {
		case n, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReason))
				return
			}
			if err := c.conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so control messages are processed, and
// returns once the peer goes away or the writer closed the connection.
func (c *wsChannel) readLoop() {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
