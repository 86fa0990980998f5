package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ClientOptions struct {
	DialTimeout time.Duration
	Buffer      int
}

// Client is a websocket relay client with ordered endpoint failover. After
// the first successful Connect it keeps reconnecting in the background and
// re-sends its subscriptions on every new connection.
type Client struct {
	urls []string
	opts ClientOptions
	log  *zap.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	url     string
	subs    map[string]*subscription
	nextSub int
	closed  bool

	writeMu sync.Mutex

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

type subscription struct {
	topic string
	ch    chan Message
}

func NewClient(urls []string, opts ClientOptions, logger *zap.Logger) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		urls: append([]string(nil), urls...),
		opts: opts,
		log:  logger.Named("relay-client"),
		subs: map[string]*subscription{},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// URL reports the endpoint currently in use, or "" when disconnected.
func (c *Client) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

// Connect dials the endpoints in order and returns ErrUnavailable when none
// answers. On success the read loop runs until Close.
func (c *Client) Connect(ctx context.Context) error {
	if len(c.urls) == 0 {
		return ErrUnavailable
	}
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrUnavailable
	}
	conn, url, err := c.dialAny(ctx)
	if err != nil {
		return err
	}
	if !c.attach(conn, url) {
		_ = conn.Close()
		return ErrUnavailable
	}
	c.startOnce.Do(func() { go c.run(conn) })
	return nil
}

func (c *Client) dialAny(ctx context.Context) (*websocket.Conn, string, error) {
	var errs []error
	for _, u := range c.urls {
		d := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
		dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
		conn, resp, err := d.DialContext(dctx, u, http.Header{})
		cancel()
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		return conn, u, nil
	}
	return nil, "", fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

// attach installs conn as the live connection. It reports false, leaving
// conn to the caller, once Close has started.
func (c *Client) attach(conn *websocket.Conn, url string) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.url = url
	subs := make(map[string]string, len(c.subs))
	for id, s := range c.subs {
		subs[id] = s.topic
	}
	c.mu.Unlock()
	for id, topic := range subs {
		if err := c.write(conn, frameReq, id, wireFilter{Topic: topic}); err != nil {
			c.log.Debug("resubscribe failed", zap.String("sub", id), zap.Error(err))
		}
	}
	c.log.Info("relay connected", zap.String("url", url))
	return true
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.url = ""
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)

	backoff := 200 * time.Millisecond
	for {
		if conn != nil {
			err := c.readLoop(conn)
			c.detach(conn)
			conn = nil
			select {
			case <-c.stop:
				return
			default:
			}
			c.log.Warn("relay connection lost", zap.Error(err))
		}

		select {
		case <-c.stop:
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		next, url, err := c.dialAny(ctx)
		cancel()
		if err != nil {
			c.log.Debug("relay reconnect failed", zap.Error(err))
			continue
		}
		backoff = 200 * time.Millisecond
		if !c.attach(next, url) {
			_ = next.Close()
			return
		}
		conn = next
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f, err := decodeFrame(msg)
		if err != nil {
			c.log.Debug("bad relay frame", zap.Error(err))
			continue
		}
		switch f.Kind {
		case frameEvent:
			c.deliver(f.SubID, Message{Topic: f.Event.Topic, Data: []byte(f.Event.Content)})
		case frameNotice:
			c.log.Debug("relay notice", zap.String("text", f.Notice))
		}
	}
}

func (c *Client) deliver(subID string, m Message) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.subs[subID]
	if !ok || c.closed {
		return
	}
	select {
	case s.ch <- m:
	default:
		c.log.Debug("relay subscriber full, dropping", zap.String("topic", m.Topic))
	}
}

func (c *Client) write(conn *websocket.Conn, parts ...any) error {
	b, err := encodeFrame(parts...)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) current() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn := c.current()
	if conn == nil {
		return ErrUnavailable
	}
	if err := c.write(conn, frameEvent, wireEvent{Topic: topic, Content: string(data)}); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Subscribe registers a topic subscription. It survives reconnects; the
// returned channel closes on Close.
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrUnavailable
	}
	c.nextSub++
	id := "sub-" + strconv.Itoa(c.nextSub)
	s := &subscription{topic: topic, ch: make(chan Message, c.opts.Buffer)}
	c.subs[id] = s
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.write(conn, frameReq, id, wireFilter{Topic: topic}); err != nil {
			c.log.Debug("subscribe write failed; will retry on reconnect", zap.Error(err))
		}
	}
	return s.ch, nil
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		started := true
		c.startOnce.Do(func() { started = false })
		if started {
			<-c.done
		}
		c.mu.Lock()
		for id, s := range c.subs {
			close(s.ch)
			delete(c.subs, id)
		}
		c.mu.Unlock()
	})
	return nil
}
