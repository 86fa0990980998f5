// Package log writes committed room events to hourly rotated, zstd
// compressed JSONL files under <room dir>/events.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/world"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return fmt.Errorf("rotate %s: %w", hour, err)
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines into the current zstd frame.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickEntry is one journal line: everything a tick committed.
type TickEntry struct {
	Tick   uint64        `json:"tick"`
	Events []world.Event `json:"events"`
}

// Journal is a world.EventSink. WriteEvents only enqueues; a goroutine does
// the file work. When the buffer is full the tick is dropped and counted.
type Journal struct {
	w   *JSONLZstdWriter
	log *zap.Logger

	in      chan TickEntry
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool

	written atomic.Uint64
	dropped atomic.Uint64
}

func NewJournal(roomDir string, buffer int, logger *zap.Logger) *Journal {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Journal{
		w:    NewJSONLZstdWriter(filepath.Join(roomDir, "events"), "events"),
		log:  logger.Named("journal"),
		in:   make(chan TickEntry, buffer),
		done: make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *Journal) WriteEvents(tick uint64, events []world.Event) error {
	j.closeMu.Lock()
	defer j.closeMu.Unlock()
	if j.closed {
		return errors.New("journal closed")
	}
	select {
	case j.in <- TickEntry{Tick: tick, Events: events}:
	default:
		j.dropped.Add(1)
	}
	return nil
}

func (j *Journal) run() {
	defer close(j.done)
	for e := range j.in {
		if err := j.w.Write(e); err != nil {
			j.log.Warn("journal write", zap.Uint64("tick", e.Tick), zap.Error(err))
			continue
		}
		j.written.Add(1)
		if len(j.in) == 0 {
			if err := j.w.Flush(); err != nil {
				j.log.Warn("journal flush", zap.Error(err))
			}
		}
	}
}

// Close drains pending entries and closes the current file.
func (j *Journal) Close() error {
	j.closeMu.Lock()
	if j.closed {
		j.closeMu.Unlock()
		return nil
	}
	j.closed = true
	close(j.in)
	j.closeMu.Unlock()
	<-j.done
	return j.w.Close()
}

func (j *Journal) Stats() (written, dropped uint64) {
	return j.written.Load(), j.dropped.Load()
}

// ReadFile decodes every entry of one journal file.
func ReadFile(path string) ([]TickEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) ([]TickEntry, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []TickEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e TickEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("decode tick entry: %w", err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// Files lists a room's journal files, oldest first.
func Files(roomDir string) ([]string, error) {
	return filepath.Glob(filepath.Join(roomDir, "events", "events-*.jsonl.zst"))
}

func (j *Journal) WriteMetrics(w io.Writer, room string) {
	fmt.Fprintf(w, "# HELP realm_journal_ticks_total Ticks written to the event journal.\n")
	fmt.Fprintf(w, "# TYPE realm_journal_ticks_total counter\n")
	fmt.Fprintf(w, "realm_journal_ticks_total{room=%q} %d\n", room, j.written.Load())

	fmt.Fprintf(w, "# HELP realm_journal_dropped_total Ticks dropped because the journal fell behind.\n")
	fmt.Fprintf(w, "# TYPE realm_journal_dropped_total counter\n")
	fmt.Fprintf(w, "realm_journal_dropped_total{room=%q} %d\n", room, j.dropped.Load())
}
