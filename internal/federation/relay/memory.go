package relay

import (
	"context"
	"sync"
)

// MemoryHub is an in-process relay. Each instance takes its own Client.
type MemoryHub struct {
	mu      sync.RWMutex
	clients map[*MemoryClient]struct{}
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{clients: map[*MemoryClient]struct{}{}}
}

func (h *MemoryHub) Client() *MemoryClient {
	c := &MemoryClient{hub: h, subs: map[string][]chan Message{}}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *MemoryHub) publish(m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.deliver(m)
	}
}

func (h *MemoryHub) remove(c *MemoryClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// MemoryClient delivers to every subscriber of a topic, the publisher
// included. Slow subscribers lose messages rather than block publishers.
type MemoryClient struct {
	hub *MemoryHub

	mu     sync.Mutex
	subs   map[string][]chan Message
	closed bool
}

func (c *MemoryClient) Connect(ctx context.Context) error { return ctx.Err() }

func (c *MemoryClient) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrUnavailable
	}
	c.hub.publish(Message{Topic: topic, Data: append([]byte(nil), data...)})
	return nil
}

func (c *MemoryClient) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrUnavailable
	}
	ch := make(chan Message, 256)
	c.subs[topic] = append(c.subs[topic], ch)
	return ch, nil
}

func (c *MemoryClient) deliver(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, ch := range c.subs[m.Topic] {
		select {
		case ch <- m:
		default:
		}
	}
}

func (c *MemoryClient) Close() error {
	c.hub.remove(c)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, chs := range c.subs {
		for _, ch := range chs {
			close(ch)
		}
	}
	c.subs = nil
	return nil
}
