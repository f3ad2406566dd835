package wms

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

var errPoolClosed = errors.New("wms: pool closed")

type conn struct {
	net.Conn
	r *bufio.Reader
}

// pool bounds the number of open connections to the warehouse system. Idle
// connections are reused; broken ones are closed by the caller via discard.
type pool struct {
	addr        string
	dialTimeout time.Duration
	dialer      net.Dialer

	tokens chan struct{}
	idle   chan *conn

	mu     sync.Mutex
	closed bool
}

func newPool(addr string, size int, dialTimeout time.Duration) *pool {
	p := &pool{
		addr:        addr,
		dialTimeout: dialTimeout,
		tokens:      make(chan struct{}, size),
		idle:        make(chan *conn, size),
	}
	for i := 0; i < size; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

// get blocks until a slot is free, then returns an idle connection or dials a
// new one.
func (p *pool) get(ctx context.Context) (*conn, error) {
	select {
	case <-p.tokens:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if p.isClosed() {
		p.tokens <- struct{}{}
		return nil, errPoolClosed
	}

	select {
	case c := <-p.idle:
		return c, nil
	default:
	}

	dctx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	nc, err := p.dialer.DialContext(dctx, "tcp", p.addr)
	if err != nil {
		p.tokens <- struct{}{}
		return nil, err
	}
	return &conn{Conn: nc, r: bufio.NewReaderSize(nc, maxLine)}, nil
}

// put returns a healthy connection for reuse.
func (p *pool) put(c *conn) {
	_ = c.SetDeadline(time.Time{})
	if p.isClosed() {
		_ = c.Close()
	} else {
		select {
		case p.idle <- c:
		default:
			_ = c.Close()
		}
	}
	p.tokens <- struct{}{}
}

// discard closes a connection that timed out or broke the protocol.
func (p *pool) discard(c *conn) {
	_ = c.Close()
	p.tokens <- struct{}{}
}

func (p *pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *pool) idleCount() int { return len(p.idle) }

func (p *pool) close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	var errs []error
	for {
		select {
		case c := <-p.idle:
			errs = append(errs, c.Close())
		default:
			return errors.Join(errs...)
		}
	}
}
