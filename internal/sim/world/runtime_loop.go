package world

import (
	"context"
	"time"
)

// Run drives the loop at the configured tick rate until ctx is done or Stop
// is called. A tick in flight always completes before Run returns.
func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info("simulation started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-ticker.C:
			w.step(w.now())
		}
	}
}

// Start runs the loop on its own goroutine.
func (w *World) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

// StepOnce runs exactly one tick with the given wall-clock time. It must not
// be called while Run is active.
func (w *World) StepOnce(now time.Time) uint64 {
	w.step(now)
	return w.tick.Load()
}
