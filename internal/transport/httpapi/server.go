// Package httpapi serves the synchronous HTTP surface: command submission,
// health, Prometheus metrics and read-only room queries.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/world"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/transport/intake"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventQuery serves /api/v1/events from durable storage.
type EventQuery interface {
	Recent(ctx context.Context, limit int, kind string) ([]protocol.EventView, error)
}

// MetricsWriter appends extra exposition lines to /metrics.
type MetricsWriter interface {
	WriteMetrics(w io.Writer, room string)
}

type Options struct {
	Events  EventQuery
	Metrics []MetricsWriter
	MaxBody int64
}

type Server struct {
	world *world.World
	opts  Options
	log   *zap.Logger
}

func New(w *world.World, opts Options, logger *zap.Logger) *Server {
	if opts.MaxBody <= 0 {
		opts.MaxBody = protocol.MaxMessageBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{world: w, opts: opts, log: logger.Named("http")}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/api/v1/command", s.handleCommand)
	mux.HandleFunc("/api/v1/room", s.handleRoom)
	mux.HandleFunc("/api/v1/profiles", s.handleProfiles)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.world.Health())
}

func (s *Server) handleCommand(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, s.opts.MaxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(rw, http.StatusRequestEntityTooLarge, protocol.SubmitResponse{Reason: protocol.ErrOversizedMessage})
			return
		}
		writeJSON(rw, http.StatusBadRequest, protocol.SubmitResponse{Reason: protocol.ErrMalformedMessage})
		return
	}
	var req protocol.SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.SubmitResponse{Reason: protocol.ErrMalformedMessage})
		return
	}
	resp := intake.Submit(s.world.Queue(), req)
	if !resp.OK {
		s.log.Debug("command rejected",
			zap.String("command", req.Command),
			zap.String("agent", req.AgentID),
			zap.String("reason", resp.Reason))
	}
	writeJSON(rw, statusFor(resp), resp)
}

func statusFor(resp protocol.SubmitResponse) int {
	if resp.OK {
		return http.StatusOK
	}
	switch resp.Reason {
	case protocol.ErrRateLimited, protocol.ErrQueueFull:
		return http.StatusTooManyRequests
	case protocol.ErrCapacityExceeded:
		return http.StatusConflict
	case protocol.ErrUnknownEntity:
		return http.StatusNotFound
	}
	return http.StatusUnprocessableEntity
}

func (s *Server) handleRoom(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.world.RoomInfo())
}

func (s *Server) handleProfiles(rw http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("agentId"); id != "" {
		p, ok := s.world.Profile(id)
		if !ok {
			writeJSON(rw, http.StatusNotFound, protocol.NewError(protocol.ErrNotFound, "", "no such agent: "+id))
			return
		}
		writeJSON(rw, http.StatusOK, p)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.ProfilesMsg{Type: protocol.TypeProfiles, Profiles: s.world.Profiles()})
}

func (s *Server) handleEvents(rw http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(rw, "bad limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventLimit)
	}
	kind := r.URL.Query().Get("type")

	var events []protocol.EventView
	if s.opts.Events != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		var err error
		events, err = s.opts.Events.Recent(ctx, limit, kind)
		if err != nil {
			s.log.Warn("event query", zap.Error(err))
			http.Error(rw, "event store unavailable", http.StatusServiceUnavailable)
			return
		}
	} else {
		for _, ev := range s.world.RecentEvents(limit, command.Kind(kind)) {
			events = append(events, world.EventView(ev))
		}
	}
	if events == nil {
		events = []protocol.EventView{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"room": s.world.ID(), "events": events})
}

func (s *Server) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	room := s.world.ID()
	m := s.world.Metrics()
	tick := s.world.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP realm_room_tick Current room tick.\n")
	fmt.Fprintf(rw, "# TYPE realm_room_tick gauge\n")
	fmt.Fprintf(rw, "realm_room_tick{room=%q} %d\n", room, tick)

	fmt.Fprintf(rw, "# HELP realm_room_entities Entities present in the room.\n")
	fmt.Fprintf(rw, "# TYPE realm_room_entities gauge\n")
	fmt.Fprintf(rw, "realm_room_entities{room=%q} %d\n", room, m.Entities)

	fmt.Fprintf(rw, "# HELP realm_room_sessions Connected sessions.\n")
	fmt.Fprintf(rw, "# TYPE realm_room_sessions gauge\n")
	fmt.Fprintf(rw, "realm_room_sessions{room=%q} %d\n", room, m.Sessions)

	fmt.Fprintf(rw, "# HELP realm_room_queue_depth Commands waiting for the next tick.\n")
	fmt.Fprintf(rw, "# TYPE realm_room_queue_depth gauge\n")
	fmt.Fprintf(rw, "realm_room_queue_depth{room=%q} %d\n", room, m.QueueDepth)

	fmt.Fprintf(rw, "# HELP realm_room_applied Commands applied in the last tick.\n")
	fmt.Fprintf(rw, "# TYPE realm_room_applied gauge\n")
	fmt.Fprintf(rw, "realm_room_applied{room=%q} %d\n", room, m.Applied)

	fmt.Fprintf(rw, "# HELP realm_room_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE realm_room_step_ms gauge\n")
	fmt.Fprintf(rw, "realm_room_step_ms{room=%q} %.3f\n", room, m.StepMS)

	fmt.Fprintf(rw, "# HELP realm_room_missed_deadlines_total Ticks that overran their period.\n")
	fmt.Fprintf(rw, "# TYPE realm_room_missed_deadlines_total counter\n")
	fmt.Fprintf(rw, "realm_room_missed_deadlines_total{room=%q} %d\n", room, m.MissedDeadlines)

	fmt.Fprintf(rw, "# HELP realm_room_send_failures_total Connections dropped on send failure.\n")
	fmt.Fprintf(rw, "# TYPE realm_room_send_failures_total counter\n")
	fmt.Fprintf(rw, "realm_room_send_failures_total{room=%q} %d\n", room, m.SendFailures)

	fmt.Fprintf(rw, "# HELP realm_room_events_total Committed world events.\n")
	fmt.Fprintf(rw, "# TYPE realm_room_events_total counter\n")
	fmt.Fprintf(rw, "realm_room_events_total{room=%q} %d\n", room, m.EventsTotal)

	for _, mw := range s.opts.Metrics {
		if mw != nil {
			mw.WriteMetrics(rw, room)
		}
	}
}
