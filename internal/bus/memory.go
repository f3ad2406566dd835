package bus

import (
	"context"
	"hash/fnv"
	"sync"
)

// Memory is an in-process Bus. Each (topic, group) pair owns one delivery
// goroutine so per-topic order is kept for every group. Messages published to
// a topic before any group subscribes are held and handed to the first group.
type Memory struct {
	policy DeliveryPolicy

	mu      sync.Mutex
	topics  map[string]map[string]*memGroup
	backlog map[string][]Message
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type memGroup struct {
	topic string
	name  string

	mu       sync.Mutex
	handlers []Handler
	queue    []Message
	wake     chan struct{}
}

func NewMemory(policy DeliveryPolicy) *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		policy:  policy,
		topics:  make(map[string]map[string]*memGroup),
		backlog: make(map[string][]Message),
		ctx:     ctx,
		cancel:  cancel,
	}
}

var _ Bus = (*Memory)(nil)

func (m *Memory) Publish(ctx context.Context, topic string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	groups := m.topics[topic]
	if len(groups) == 0 {
		m.backlog[topic] = append(m.backlog[topic], msg)
		return nil
	}
	for _, g := range groups {
		g.enqueue(msg)
	}
	return nil
}

// Subscribe registers h in group. Handlers sharing a group split the topic by
// message key.
func (m *Memory) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	groups, ok := m.topics[topic]
	if !ok {
		groups = make(map[string]*memGroup)
		m.topics[topic] = groups
	}
	g, ok := groups[group]
	if !ok {
		g = &memGroup{topic: topic, name: group, wake: make(chan struct{}, 1)}
		groups[group] = g
		for _, msg := range m.backlog[topic] {
			g.enqueue(msg)
		}
		delete(m.backlog, topic)
		m.wg.Add(1)
		go m.run(g)
	}
	g.mu.Lock()
	g.handlers = append(g.handlers, h)
	g.mu.Unlock()
	g.signal()
	return nil
}

// Close stops every delivery goroutine. Undelivered messages are dropped.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Memory) run(g *memGroup) {
	defer m.wg.Done()
	for {
		msg, h, ok := g.next()
		if !ok {
			select {
			case <-m.ctx.Done():
				return
			case <-g.wake:
				continue
			}
		}
		_ = Deliver(m.ctx, g.topic, h, msg, m.policy)
		if m.ctx.Err() != nil {
			return
		}
	}
}

func (g *memGroup) enqueue(msg Message) {
	g.mu.Lock()
	g.queue = append(g.queue, msg)
	g.mu.Unlock()
	g.signal()
}

func (g *memGroup) signal() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *memGroup) next() (Message, Handler, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) == 0 || len(g.handlers) == 0 {
		return Message{}, nil, false
	}
	msg := g.queue[0]
	g.queue[0] = Message{}
	g.queue = g.queue[1:]
	return msg, g.handlers[pick(msg.Key, len(g.handlers))], true
}

func pick(key string, n int) int {
	if n == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
