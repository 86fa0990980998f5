package world

import "time"

// Metrics is a thread-safe read-only view of key loop signals. It is updated
// from the loop goroutine and read from HTTP handlers and tests.
type Metrics struct {
	Tick       uint64 `json:"tick"`
	TickRateHz int    `json:"tick_rate_hz"`

	Entities   int `json:"entities"`
	Sessions   int `json:"sessions"`
	QueueDepth int `json:"queue_depth"`
	Applied    int `json:"applied_last_tick"`

	StepMS          float64 `json:"step_ms"`
	MissedDeadlines uint64  `json:"missed_deadlines"`
	SendFailures    uint64  `json:"send_failures"`
	EventsTotal     uint64  `json:"events_total"`
}

func (w *World) storeMetrics(tick uint64, applied int, elapsed time.Duration) {
	w.metrics.Store(Metrics{
		Tick:            tick,
		TickRateHz:      w.cfg.TickRateHz,
		Entities:        w.state.Len(),
		Sessions:        w.clients.Size(),
		QueueDepth:      w.queue.Len(),
		Applied:         applied,
		StepMS:          float64(elapsed.Microseconds()) / 1000,
		MissedDeadlines: w.missedDeadlines.Load(),
		SendFailures:    w.sendFailures.Load(),
		EventsTotal:     w.eventsTotal.Load(),
	})
}

func (w *World) Metrics() Metrics {
	if w == nil {
		return Metrics{}
	}
	m, _ := w.metrics.Load().(Metrics)
	return m
}
