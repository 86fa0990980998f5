// Package ws is the websocket protocol bridge: it turns inbound frames into
// queue commands and session updates, and carries the loop's snapshots and
// deltas back out.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/clients"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/world"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/transport/intake"
)

type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	// PongWait is the idle timeout; pings go out at 9/10 of it.
	PongWait       time.Duration
	WriteWait      time.Duration
	AllowAnyOrigin bool
}

func (o *Options) applyDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = protocol.MaxMessageBytes
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
}

type Server struct {
	world     *world.World
	validator *protocol.Validator
	log       *zap.Logger
	opts      Options

	upgrader  websocket.Upgrader
	playerSeq atomic.Uint64
}

func NewServer(w *world.World, v *protocol.Validator, opts Options, logger *zap.Logger) *Server {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		world:     w,
		validator: v,
		log:       logger.Named("ws"),
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
	if opts.AllowAnyOrigin {
		s.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return s
}

// Handler serves /v1/ws. Query parameters: follow=<agentId>,
// encoding=json|msgpack.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		enc, err := protocol.ParseEncoding(r.URL.Query().Get("encoding"))
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		wsConn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer wsConn.Close()

		c := newConn(enc, s.opts.SendBuffer)
		mgr := s.world.Clients()
		sid := mgr.AddConnection(c)
		log := s.log.With(zap.String("session", string(sid)), zap.String("remote", r.RemoteAddr))
		log.Debug("connected", zap.Stringer("encoding", enc))

		if follow := r.URL.Query().Get("follow"); follow != "" {
			_ = mgr.SetFollowEntity(c, follow)
		}
		_ = c.Send(protocol.RoomInfoMsg{Type: protocol.TypeRoomInfo, Room: s.world.RoomInfo()})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() { writeErr <- s.writeLoop(ctx, wsConn, c) }()

		s.readLoop(wsConn, c, log)

		cancel()
		if mgr.RemoveConnection(c) {
			log.Debug("disconnected")
		}
		c.Close()
		_ = wsConn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, wsConn *websocket.Conn, c *conn) error {
	ping := time.NewTicker(s.opts.PongWait * 9 / 10)
	defer ping.Stop()
	// A closed conn (send failure, shutdown) must also stop the reader.
	defer wsConn.Close()

	frameType := websocket.TextMessage
	if c.enc == protocol.EncodingMsgpack {
		frameType = websocket.BinaryMessage
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return errConnClosed
		case b := <-c.out:
			_ = wsConn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := wsConn.WriteMessage(frameType, b); err != nil {
				return err
			}
		case <-ping.C:
			_ = wsConn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (s *Server) readLoop(wsConn *websocket.Conn, c *conn, log *zap.Logger) {
	_ = wsConn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})
	for {
		_, r, err := wsConn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("read", zap.Error(err))
			}
			return
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		b, err := io.ReadAll(io.LimitReader(r, s.opts.MaxMessageBytes+1))
		if err != nil {
			return
		}
		if int64(len(b)) > s.opts.MaxMessageBytes {
			if _, err := io.Copy(io.Discard, r); err != nil {
				return
			}
			log.Debug("dropped frame", zap.String("code", protocol.ErrOversizedMessage), zap.Int("bytes", len(b)))
			continue
		}
		s.handle(c, b, log)
	}
}

func (s *Server) handle(c *conn, b []byte, log *zap.Logger) {
	raw, err := protocol.ToJSON(c.enc, b)
	if err != nil {
		log.Debug("dropped frame", zap.String("code", protocol.ErrMalformedMessage), zap.Error(err))
		return
	}
	base, err := protocol.DecodeBase(raw)
	if err != nil || !s.validator.Knows(base.Type) {
		log.Debug("dropped frame", zap.String("code", protocol.ErrMalformedMessage), zap.String("type", base.Type))
		return
	}
	if err := s.validator.Validate(base.Type, raw); err != nil {
		log.Debug("dropped frame", zap.String("code", protocol.ErrMalformedMessage), zap.String("type", base.Type), zap.Error(err))
		return
	}

	mgr := s.world.Clients()
	switch base.Type {
	case protocol.TypeSubscribe:
		_ = mgr.RequestSnapshot(c)

	case protocol.TypeRequestRoomInfo:
		_ = c.Send(protocol.RoomInfoMsg{Type: protocol.TypeRoomInfo, Room: s.world.RoomInfo()})

	case protocol.TypeRequestProfiles:
		_ = c.Send(protocol.ProfilesMsg{Type: protocol.TypeProfiles, Profiles: s.world.Profiles()})

	case protocol.TypeRequestProfile:
		var m protocol.RequestProfileMsg
		_ = json.Unmarshal(raw, &m)
		p, ok := s.world.Profile(m.AgentID)
		if !ok {
			_ = c.Send(protocol.NewError(protocol.ErrNotFound, base.Type, "no such agent: "+m.AgentID))
			return
		}
		_ = c.Send(protocol.ProfileMsg{Type: protocol.TypeProfile, Profile: p})

	case protocol.TypeViewport:
		var m protocol.ViewportMsg
		_ = json.Unmarshal(raw, &m)
		if err := mgr.SetViewport(c, m.X, m.Z); errors.Is(err, clients.ErrInvalidViewport) {
			_ = c.Send(protocol.NewError(protocol.ErrInvalidNumeric, base.Type, err.Error()))
		}

	case protocol.TypeFollow:
		var m protocol.FollowMsg
		_ = json.Unmarshal(raw, &m)
		_ = mgr.SetFollowEntity(c, m.AgentID)

	case protocol.TypePlayerJoin:
		s.playerJoin(c, raw)

	default:
		s.playerCommand(c, base.Type, raw)
	}
}

func (s *Server) playerJoin(c *conn, raw []byte) {
	var m protocol.PlayerJoinMsg
	_ = json.Unmarshal(raw, &m)
	mgr := s.world.Clients()
	if old, ok := mgr.ControlledEntity(c); ok && !s.world.Queue().Known(old) {
		// The avatar left through another path; let the connection rejoin.
		_, _ = mgr.UnbindControlledEntity(c)
	}
	id := s.nextPlayerID()
	if err := mgr.BindControlledEntity(c, id); err != nil {
		_ = c.Send(protocol.NewError(protocol.ErrAlreadyBound, protocol.TypePlayerJoin, err.Error()))
		return
	}
	res := s.world.Queue().Enqueue(command.NewJoin(id, command.Join{Name: m.Name, Color: m.Color}))
	if !res.OK {
		_, _ = mgr.UnbindControlledEntity(c)
		_ = c.Send(protocol.NewError(res.Reason, protocol.TypePlayerJoin, ""))
		return
	}
	_ = c.Send(protocol.PlayerJoinedMsg{Type: protocol.TypePlayerJoined, AgentID: id})
}

// nextPlayerID skips ids already in the room, such as agents restored from a
// snapshot.
func (s *Server) nextPlayerID() string {
	for {
		id := fmt.Sprintf("player-%d", s.playerSeq.Add(1))
		if !s.world.Queue().Known(id) {
			return id
		}
	}
}

func (s *Server) playerCommand(c *conn, typ string, raw []byte) {
	mgr := s.world.Clients()
	id, ok := mgr.ControlledEntity(c)
	if !ok {
		_ = c.Send(protocol.NewError(protocol.ErrNotBound, typ, "send playerJoin first"))
		return
	}
	cmd, err := intake.FromPlayer(id, typ, raw)
	if err != nil {
		_ = c.Send(protocol.NewError(intake.Code(err), typ, err.Error()))
		return
	}
	res := s.world.Queue().Enqueue(cmd)
	if !res.OK {
		_ = c.Send(protocol.NewError(res.Reason, typ, ""))
		return
	}
	if cmd.Kind == command.KindLeave {
		_, _ = mgr.UnbindControlledEntity(c)
	}
}

var (
	// ErrSendBuffer means the connection's outbound buffer is full.
	ErrSendBuffer = errors.New("send buffer full")
	errConnClosed = errors.New("connection closed")
)

// conn is the clients.Conn handed to the loop. Send never blocks.
type conn struct {
	enc  protocol.Encoding
	out  chan []byte
	done chan struct{}
	shut atomic.Bool
}

var _ clients.Conn = (*conn)(nil)

func newConn(enc protocol.Encoding, buffer int) *conn {
	return &conn{enc: enc, out: make(chan []byte, buffer), done: make(chan struct{})}
}

func (c *conn) Send(msg any) error {
	if c.shut.Load() {
		return errConnClosed
	}
	b, err := protocol.Marshal(c.enc, msg)
	if err != nil {
		return err
	}
	select {
	case c.out <- b:
		return nil
	default:
		return ErrSendBuffer
	}
}

func (c *conn) Close() {
	if c.shut.CompareAndSwap(false, true) {
		close(c.done)
	}
}
