// Command bot joins a room over websocket and wanders, chatting now and then.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/config"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/logging"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "agent name")
		color = flag.String("color", "#4a9eff", "agent color")
		every = flag.Duration("every", 500*time.Millisecond, "move interval")
	)
	flag.Parse()

	logger, err := logging.New(config.LoggingConfig{Level: "info"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("bot")
	defer logger.Sync()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.PlayerJoinMsg{Type: protocol.TypePlayerJoin, Name: *name, Color: *color}); err != nil {
		logger.Fatal("send playerJoin", zap.Error(err))
	}

	info := make(chan protocol.RoomInfo, 1)
	go readLoop(conn, logger, info)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	w := walker{half: 50, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for n := 0; ; n++ {
		select {
		case <-stop:
			_ = conn.WriteJSON(protocol.BaseMessage{Type: protocol.TypePlayerLeave})
			return
		case ri := <-info:
			w.half = ri.HalfExtent
		case <-ticker.C:
			x, z, rot := w.step()
			if err := conn.WriteJSON(protocol.PlayerMoveMsg{Type: protocol.TypePlayerMove, X: x, Z: z, Rotation: rot}); err != nil {
				logger.Warn("send move", zap.Error(err))
				return
			}
			if n%40 == 39 {
				text := fmt.Sprintf("%s passing through (%.0f, %.0f)", *name, x, z)
				_ = conn.WriteJSON(protocol.PlayerChatMsg{Type: protocol.TypePlayerChat, Text: text})
			}
		}
	}
}

func readLoop(conn *websocket.Conn, logger *zap.Logger, info chan<- protocol.RoomInfo) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Info("connection closed", zap.Error(err))
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeRoomInfo:
			var m protocol.RoomInfoMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			logger.Info("room", zap.String("id", m.Room.ID), zap.Float64("half_extent", m.Room.HalfExtent), zap.Int("entities", m.Room.Entities))
			select {
			case info <- m.Room:
			default:
			}
		case protocol.TypePlayerJoined:
			var m protocol.PlayerJoinedMsg
			if err := json.Unmarshal(msg, &m); err == nil {
				logger.Info("joined", zap.String("agent_id", m.AgentID))
			}
		case protocol.TypeError:
			var m protocol.ErrorMsg
			if err := json.Unmarshal(msg, &m); err == nil {
				logger.Warn("server error", zap.String("code", m.Code), zap.String("message", m.Message))
			}
		}
	}
}

// walker drifts toward a random waypoint, picking a new one on arrival.
type walker struct {
	half      float64
	rng       *rand.Rand
	x, z      float64
	tx, tz    float64
	hasTarget bool
}

func (w *walker) step() (x, z, rotation float64) {
	const stride = 1.5
	if !w.hasTarget || math.Hypot(w.tx-w.x, w.tz-w.z) < stride {
		lim := w.half * 0.8
		w.tx = (w.rng.Float64()*2 - 1) * lim
		w.tz = (w.rng.Float64()*2 - 1) * lim
		w.hasTarget = true
	}
	dx, dz := w.tx-w.x, w.tz-w.z
	d := math.Hypot(dx, dz)
	if d > 0 {
		w.x += dx / d * stride
		w.z += dz / d * stride
	}
	return w.x, w.z, math.Atan2(dx, dz)
}
