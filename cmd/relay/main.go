// Command relay runs a standalone federation relay hub.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/config"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/federation/relay"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr       = flag.String("addr", ":7447", "http listen address")
		level      = flag.String("log_level", "info", "debug|info|warn|error")
		format     = flag.String("log_format", "console", "console|json")
		sendBuffer = flag.Int("send_buffer", 256, "frames buffered per peer")
		maxMsg     = flag.Int64("max_message_bytes", 64*1024, "largest accepted frame")
	)
	flag.Parse()

	logger, err := logging.New(config.LoggingConfig{Level: *level, Format: *format})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	hub := relay.NewHub(relay.HubOptions{SendBuffer: *sendBuffer, MaxMessageBytes: *maxMsg}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/", hub.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		hub.WriteMetrics(rw)
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("relay listening", zap.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}
