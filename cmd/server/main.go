package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/config"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/federation"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/federation/relay"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/logging"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/persistence/eventstore"
	persistlog "github.com/MoikasLabs/realm.shalohm.co-sub001/internal/persistence/log"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/persistence/snapshot"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/chatfilter"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/registry"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/room"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/world"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/transport/httpapi"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/transport/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "server config (TOML); empty uses built-in defaults")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		roomPath   = flag.String("room", "", "room config (YAML, overrides config)")
		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		withPprof  = flag.Bool("pprof", false, "serve /debug/pprof")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *roomPath != "" {
		cfg.Server.RoomFile = *roomPath
	}
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = uuid.NewString()
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	roomCfg, err := room.Load(cfg.Server.RoomFile)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	reg, err := registry.Load(cfg.Server.AgentsFile)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	validator, err := protocol.NewValidator()
	if err != nil {
		return fmt.Errorf("protocol schemas: %w", err)
	}

	wcfg := roomCfg.WorldConfig()
	if wcfg.SnapshotEveryTicks == 0 {
		wcfg.SnapshotEveryTicks = cfg.Persistence.SnapshotEveryTicks
	}
	qopts := wcfg.QueueOptions()
	qopts.MaxPending = cfg.Network.MaxPending
	qopts.MoveRate = cfg.Network.MaxMovesPerSecond

	w := world.New(wcfg, world.Deps{
		Queue:    command.NewQueue(qopts),
		Registry: reg,
		Filter:   chatfilter.New(),
		Logger:   logger,
	})
	log := logger.With(zap.String("room", w.ID()), zap.String("instance", cfg.Server.InstanceID))

	roomDir := filepath.Join(cfg.Server.DataDir, "rooms", w.ID())
	if err := os.MkdirAll(roomDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	snapDir := filepath.Join(roomDir, "snapshots")

	snapshotToLoad := *snapPath
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(snapDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			return fmt.Errorf("import snapshot: %w", err)
		}
		log.Info("resumed from snapshot", zap.String("file", filepath.Base(snapshotToLoad)), zap.Uint64("tick", w.CurrentTick()))
	}

	ctx, cancel := signalContext()
	defer cancel()

	var metrics []httpapi.MetricsWriter

	if cfg.Persistence.Journal {
		journal := persistlog.NewJournal(roomDir, 0, logger)
		defer journal.Close()
		w.AddSink(journal)
		metrics = append(metrics, journal)
	}

	var events httpapi.EventQuery
	if cfg.Persistence.EventStoreDSN != "" {
		store, err := eventstore.Open(ctx, w.ID(), cfg.Persistence.EventStoreDSN, logger)
		if err != nil {
			return fmt.Errorf("open event store: %w", err)
		}
		defer store.Close()
		w.AddSink(store)
		events = store
		metrics = append(metrics, store)
	}

	if cfg.Federation.Enabled {
		client := relay.NewClient(cfg.Federation.Relays, relay.ClientOptions{
			DialTimeout: cfg.Federation.DialTimeout,
			Buffer:      cfg.Federation.Buffer,
		}, logger)
		bridge := federation.New(client, w.Queue(), federation.Options{
			Instance: cfg.Server.InstanceID,
			Channel:  wcfg.Channel,
			Codec:    federation.NewCodec(cfg.Federation.Secret),
			Buffer:   cfg.Federation.Buffer,
		}, logger)
		bridge.Start(ctx)
		defer bridge.Close()
		w.AddSink(bridge)
		metrics = append(metrics, bridge)
	}

	snapCh := make(chan snapshot.RoomV1, 2)
	w.SetSnapshotSink(snapCh)

	mux := http.NewServeMux()
	httpapi.New(w, httpapi.Options{Events: events, Metrics: metrics}, logger).Register(mux)
	mux.HandleFunc("/v1/ws", ws.NewServer(w, validator, ws.Options{
		SendBuffer:      cfg.Network.SendBuffer,
		MaxMessageBytes: cfg.Network.MaxMessageBytes,
		PongWait:        cfg.Network.ReadTimeout,
		WriteWait:       cfg.Network.WriteTimeout,
		AllowAnyOrigin:  cfg.Network.AllowAnyOrigin,
	}, logger).Handler())
	if *withPprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := w.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap := <-snapCh:
				path := snapshot.PathFor(snapDir, snap.Header.Tick)
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					log.Warn("snapshot write", zap.Error(err))
					continue
				}
				log.Debug("snapshot written", zap.String("file", filepath.Base(path)))
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		log.Info("listening",
			zap.String("addr", cfg.Server.Addr),
			zap.Int("tick_rate_hz", w.TickRateHz()),
			zap.Bool("federation", cfg.Federation.Enabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	err = g.Wait()
	// The loop has exited, so this goroutine owns the room state now.
	writeFinalSnapshot(w, snapDir, log)
	log.Info("server stopped")
	return err
}

// writeFinalSnapshot persists the room on shutdown so a restart resumes
// from the last tick rather than the last periodic snapshot.
func writeFinalSnapshot(w *world.World, dir string, log *zap.Logger) {
	snap := w.ExportSnapshot(time.Now())
	if snap.Header.Tick == 0 {
		return
	}
	path := snapshot.PathFor(dir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		log.Warn("final snapshot", zap.Error(err))
		return
	}
	log.Info("final snapshot written", zap.String("file", filepath.Base(path)))
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
