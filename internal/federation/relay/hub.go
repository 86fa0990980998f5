package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxSubsPerConn = 32

type HubOptions struct {
	SendBuffer      int
	MaxMessageBytes int64
	PongWait        time.Duration
}

func (o *HubOptions) applyDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
}

// Hub is the websocket relay server. It stores nothing: events fan out to
// the live subscriptions matching their topic.
type Hub struct {
	opts HubOptions
	log  *zap.Logger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	peers map[*peer]struct{}

	eventsIn  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

type peer struct {
	out  chan []byte
	done chan struct{}

	mu   sync.Mutex
	subs map[string]string // subID -> topic
}

func NewHub(opts HubOptions, logger *zap.Logger) *Hub {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		opts:  opts,
		log:   logger.Named("relay"),
		peers: map[*peer]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(h.opts.MaxMessageBytes)

		p := &peer{out: make(chan []byte, h.opts.SendBuffer), done: make(chan struct{}), subs: map[string]string{}}
		h.mu.Lock()
		h.peers[p] = struct{}{}
		h.mu.Unlock()
		log := h.log.With(zap.String("remote", r.RemoteAddr))
		log.Debug("peer connected")

		ctx, cancel := context.WithCancel(context.Background())
		writeErr := make(chan error, 1)
		go func() { writeErr <- h.writeLoop(ctx, conn, p) }()

		_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		})
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
			f, err := decodeFrame(msg)
			if err != nil {
				h.notice(p, "malformed frame")
				continue
			}
			h.handle(p, f, log)
		}

		cancel()
		h.mu.Lock()
		delete(h.peers, p)
		h.mu.Unlock()
		close(p.done)
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		log.Debug("peer disconnected")
	}
}

func (h *Hub) handle(p *peer, f frame, log *zap.Logger) {
	switch f.Kind {
	case frameEvent:
		if f.SubID != "" || f.Event.Topic == "" {
			h.notice(p, "EVENT needs a topic")
			return
		}
		h.eventsIn.Add(1)
		h.fanout(f.Event)
	case frameReq:
		p.mu.Lock()
		if _, exists := p.subs[f.SubID]; !exists && len(p.subs) >= maxSubsPerConn {
			p.mu.Unlock()
			h.notice(p, "too many subscriptions")
			return
		}
		p.subs[f.SubID] = f.Filter.Topic
		p.mu.Unlock()
		log.Debug("subscribe", zap.String("sub", f.SubID), zap.String("topic", f.Filter.Topic))
	case frameClose:
		p.mu.Lock()
		delete(p.subs, f.SubID)
		p.mu.Unlock()
	default:
		h.notice(p, "unsupported frame "+f.Kind)
	}
}

func (h *Hub) fanout(ev wireEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		p.mu.Lock()
		var subIDs []string
		for id, topic := range p.subs {
			if topic == ev.Topic {
				subIDs = append(subIDs, id)
			}
		}
		p.mu.Unlock()
		for _, id := range subIDs {
			b, err := encodeFrame(frameEvent, id, ev)
			if err != nil {
				continue
			}
			if sendLatest(p.out, b) {
				h.dropped.Add(1)
			}
			h.delivered.Add(1)
		}
	}
}

func (h *Hub) notice(p *peer, text string) {
	if b, err := encodeFrame(frameNotice, text); err == nil {
		sendLatest(p.out, b)
	}
}

// sendLatest enqueues b, evicting the oldest frame when the buffer is full.
// It reports whether a frame was evicted.
func sendLatest(ch chan []byte, b []byte) (evicted bool) {
	select {
	case ch <- b:
		return false
	default:
	}
	select {
	case <-ch:
		evicted = true
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return evicted
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, p *peer) error {
	ping := time.NewTicker(h.opts.PongWait * 9 / 10)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		case b := <-p.out:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = conn.Close()
				return err
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return err
			}
		}
	}
}

func (h *Hub) WriteMetrics(w io.Writer) {
	fmt.Fprintf(w, "# HELP realm_relay_peers Connected relay peers.\n")
	fmt.Fprintf(w, "# TYPE realm_relay_peers gauge\n")
	fmt.Fprintf(w, "realm_relay_peers %d\n", h.Peers())

	fmt.Fprintf(w, "# HELP realm_relay_events_in_total Events published to the relay.\n")
	fmt.Fprintf(w, "# TYPE realm_relay_events_in_total counter\n")
	fmt.Fprintf(w, "realm_relay_events_in_total %d\n", h.eventsIn.Load())

	fmt.Fprintf(w, "# HELP realm_relay_delivered_total Events delivered to subscriptions.\n")
	fmt.Fprintf(w, "# TYPE realm_relay_delivered_total counter\n")
	fmt.Fprintf(w, "realm_relay_delivered_total %d\n", h.delivered.Load())

	fmt.Fprintf(w, "# HELP realm_relay_dropped_total Frames evicted from slow peers.\n")
	fmt.Fprintf(w, "# TYPE realm_relay_dropped_total counter\n")
	fmt.Fprintf(w, "realm_relay_dropped_total %d\n", h.dropped.Load())
}
