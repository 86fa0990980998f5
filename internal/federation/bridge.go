package federation

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/federation/relay"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/world"
)

// Relay is a topic pub/sub transport shared by the instances of a channel.
type Relay interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan relay.Message, error)
	Close() error
}

// Queue is the slice of the command queue the bridge needs.
type Queue interface {
	Enqueue(cmd command.Command) command.Result
	Lookup(id string) (command.Origin, bool)
}

type Options struct {
	Instance string
	Channel  string
	Codec    Codec
	Buffer   int
}

// Bridge publishes locally committed events and feeds remote ones into the
// command queue. It is a world.EventSink.
type Bridge struct {
	relay Relay
	queue Queue
	opts  Options
	topic string
	log   *zap.Logger

	out       chan []Envelope
	connected atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup

	published     atomic.Uint64
	publishFailed atomic.Uint64
	outDropped    atomic.Uint64
	received      atomic.Uint64
	applied       atomic.Uint64
	ignored       atomic.Uint64
	rejected      atomic.Uint64
}

func New(r Relay, q Queue, opts Options, logger *zap.Logger) *Bridge {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		relay: r,
		queue: q,
		opts:  opts,
		topic: Topic(opts.Channel),
		log:   logger.Named("federation").With(zap.String("channel", opts.Channel)),
		out:   make(chan []Envelope, opts.Buffer),
		stop:  make(chan struct{}),
	}
}

func Topic(channel string) string { return "realm/" + channel }

func (b *Bridge) Connected() bool { return b.connected.Load() }

// Start connects and subscribes. Relay failure is not an error: the room
// keeps running local-only.
func (b *Bridge) Start(ctx context.Context) {
	if err := b.relay.Connect(ctx); err != nil {
		b.log.Warn("relay unavailable, running local-only", zap.Error(err))
		return
	}
	msgs, err := b.relay.Subscribe(ctx, b.topic)
	if err != nil {
		b.log.Warn("relay subscribe failed, running local-only", zap.Error(err))
		return
	}
	b.connected.Store(true)
	b.log.Info("federation started", zap.String("topic", b.topic), zap.Bool("signed", b.opts.Codec.Signed()))

	b.wg.Add(2)
	go b.publishLoop(ctx)
	go b.receiveLoop(ctx, msgs)
}

func (b *Bridge) Close() error {
	b.stopOnce.Do(func() { close(b.stop) })
	err := b.relay.Close()
	b.wg.Wait()
	return err
}

// WriteEvents hands local-origin events to the publisher. It never blocks
// the loop; a full buffer drops the batch.
func (b *Bridge) WriteEvents(tick uint64, events []world.Event) error {
	if !b.connected.Load() {
		return nil
	}
	var batch []Envelope
	for _, ev := range events {
		if ev.Origin != command.Local {
			continue
		}
		batch = append(batch, envelopeOf(b.opts.Instance, b.opts.Channel, ev))
	}
	if len(batch) == 0 {
		return nil
	}
	select {
	case b.out <- batch:
	default:
		b.outDropped.Add(uint64(len(batch)))
	}
	return nil
}

func (b *Bridge) publishLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case batch := <-b.out:
			for _, env := range batch {
				data, err := b.opts.Codec.Encode(env)
				if err != nil {
					b.publishFailed.Add(1)
					b.log.Warn("encode envelope", zap.Error(err))
					continue
				}
				if err := b.relay.Publish(ctx, b.topic, data); err != nil {
					b.publishFailed.Add(1)
					b.log.Debug("publish failed", zap.String("agent", env.AgentID), zap.Error(err))
					continue
				}
				b.published.Add(1)
			}
		}
	}
}

func (b *Bridge) receiveLoop(ctx context.Context, msgs <-chan relay.Message) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			b.ingest(m.Data)
		}
	}
}

func (b *Bridge) ingest(data []byte) {
	b.received.Add(1)
	env, err := b.opts.Codec.Decode(data)
	if err != nil {
		b.ignored.Add(1)
		b.log.Debug("dropping relay message", zap.Error(err))
		return
	}
	if env.Instance == b.opts.Instance || env.Channel != b.opts.Channel || env.AgentID == "" {
		b.ignored.Add(1)
		return
	}
	origin, known := b.queue.Lookup(env.AgentID)
	if known && origin == command.Local {
		// Homed here; the local session is authoritative for this id.
		b.ignored.Add(1)
		return
	}
	for _, cmd := range env.commands(known) {
		if res := b.queue.Enqueue(cmd); !res.OK {
			b.rejected.Add(1)
			b.log.Debug("remote command rejected",
				zap.String("instance", env.Instance),
				zap.String("agent", cmd.AgentID),
				zap.String("kind", string(cmd.Kind)),
				zap.String("reason", res.Reason))
			return
		}
	}
	b.applied.Add(1)
}

func (b *Bridge) WriteMetrics(w io.Writer, room string) {
	connected := 0
	if b.connected.Load() {
		connected = 1
	}
	fmt.Fprintf(w, "# HELP realm_federation_connected Whether the relay is connected.\n")
	fmt.Fprintf(w, "# TYPE realm_federation_connected gauge\n")
	fmt.Fprintf(w, "realm_federation_connected{room=%q} %d\n", room, connected)

	fmt.Fprintf(w, "# HELP realm_federation_published_total Envelopes published.\n")
	fmt.Fprintf(w, "# TYPE realm_federation_published_total counter\n")
	fmt.Fprintf(w, "realm_federation_published_total{room=%q} %d\n", room, b.published.Load())

	fmt.Fprintf(w, "# HELP realm_federation_publish_failed_total Envelopes that failed to publish or were dropped.\n")
	fmt.Fprintf(w, "# TYPE realm_federation_publish_failed_total counter\n")
	fmt.Fprintf(w, "realm_federation_publish_failed_total{room=%q} %d\n", room, b.publishFailed.Load()+b.outDropped.Load())

	fmt.Fprintf(w, "# HELP realm_federation_received_total Relay messages received.\n")
	fmt.Fprintf(w, "# TYPE realm_federation_received_total counter\n")
	fmt.Fprintf(w, "realm_federation_received_total{room=%q} %d\n", room, b.received.Load())

	fmt.Fprintf(w, "# HELP realm_federation_applied_total Remote events enqueued.\n")
	fmt.Fprintf(w, "# TYPE realm_federation_applied_total counter\n")
	fmt.Fprintf(w, "realm_federation_applied_total{room=%q} %d\n", room, b.applied.Load())

	fmt.Fprintf(w, "# HELP realm_federation_ignored_total Echoes, foreign channels, locally homed ids and undecodable messages.\n")
	fmt.Fprintf(w, "# TYPE realm_federation_ignored_total counter\n")
	fmt.Fprintf(w, "realm_federation_ignored_total{room=%q} %d\n", room, b.ignored.Load())

	fmt.Fprintf(w, "# HELP realm_federation_rejected_total Remote commands refused by validation.\n")
	fmt.Fprintf(w, "# TYPE realm_federation_rejected_total counter\n")
	fmt.Fprintf(w, "realm_federation_rejected_total{room=%q} %d\n", room, b.rejected.Load())
}
