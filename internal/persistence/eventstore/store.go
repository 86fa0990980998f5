// Package eventstore indexes committed room events in SQL (sqlite or
// postgres) for the history endpoint. The journal stays the source of truth:
// when the writer falls behind, batches are dropped.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/world"
)

type dialect struct {
	name       string
	goose      string
	migrations string
	insert     string
	recent     string
	recentKind string
}

var (
	sqliteDialect = dialect{
		name:       "sqlite",
		goose:      "sqlite3",
		migrations: "migrations/sqlite",
		insert:     `INSERT INTO events(room,tick,kind,agent_id,origin,at_ms,payload) VALUES(?,?,?,?,?,?,?)`,
		recent:     `SELECT tick,kind,agent_id,origin,at_ms,payload FROM events WHERE room=? ORDER BY id DESC LIMIT ?`,
		recentKind: `SELECT tick,kind,agent_id,origin,at_ms,payload FROM events WHERE room=? AND kind=? ORDER BY id DESC LIMIT ?`,
	}
	postgresDialect = dialect{
		name:       "postgres",
		goose:      "postgres",
		migrations: "migrations/postgres",
		insert:     `INSERT INTO events(room,tick,kind,agent_id,origin,at_ms,payload) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		recent:     `SELECT tick,kind,agent_id,origin,at_ms,payload FROM events WHERE room=$1 ORDER BY id DESC LIMIT $2`,
		recentKind: `SELECT tick,kind,agent_id,origin,at_ms,payload FROM events WHERE room=$1 AND kind=$2 ORDER BY id DESC LIMIT $3`,
	}
)

type batch struct {
	tick   uint64
	events []world.Event
	flush  chan struct{}
}

type Store struct {
	room    string
	dialect dialect
	db      *sql.DB
	pool    *pgxpool.Pool
	log     *zap.Logger

	ch     chan batch
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Open connects to dsn and applies migrations. postgres:// and
// postgresql:// DSNs use pgx; anything else is a sqlite file path, with an
// optional sqlite: prefix.
func Open(ctx context.Context, room, dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("empty event store dsn")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		room: room,
		log:  logger.Named("eventstore"),
		ch:   make(chan batch, 4096),
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		pool, err := openPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		s.db = stdlib.OpenDBFromPool(pool)
		s.dialect = postgresDialect
	} else {
		db, err := openSQLite(strings.TrimPrefix(dsn, "sqlite:"))
		if err != nil {
			return nil, err
		}
		s.db = db
		s.dialect = sqliteDialect
	}

	if err := runMigrations(ctx, s.db, s.dialect); err != nil {
		s.closeDB()
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	s.log.Info("event store open", zap.String("dialect", s.dialect.name))
	return s, nil
}

func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

func (s *Store) closeDB() {
	_ = s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
}

// WriteEvents implements world.EventSink.
func (s *Store) WriteEvents(tick uint64, events []world.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- batch{tick: tick, events: events}:
	default:
		s.dropped.Add(uint64(len(events)))
	}
	return nil
}

// Flush waits until every batch queued before the call is committed.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errors.New("event store closed")
	}
	select {
	case s.ch <- batch{flush: done}:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		s.closeDB()
	})
	return nil
}

func (s *Store) loop() {
	ctx := context.Background()
	stmt, err := s.db.PrepareContext(ctx, s.dialect.insert)
	if err != nil {
		s.log.Error("prepare insert", zap.Error(err))
	}
	defer func() {
		if stmt != nil {
			_ = stmt.Close()
		}
	}()

	for b := range s.ch {
		if b.flush != nil {
			close(b.flush)
			continue
		}
		if stmt == nil || len(b.events) == 0 {
			continue
		}
		if err := s.insert(ctx, stmt, b.events); err != nil {
			s.failed.Add(uint64(len(b.events)))
			s.log.Warn("insert events", zap.Uint64("tick", b.tick), zap.Error(err))
			continue
		}
		s.written.Add(uint64(len(b.events)))
	}
}

func (s *Store) insert(ctx context.Context, stmt *sql.Stmt, events []world.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	txStmt := tx.StmtContext(ctx, stmt)
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := txStmt.ExecContext(ctx,
			s.room,
			int64(ev.Tick),
			string(ev.Type),
			ev.AgentID,
			ev.Origin.String(),
			ev.At.UnixMilli(),
			string(payload),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Recent returns up to limit of the newest stored events, oldest first,
// optionally restricted to one kind.
func (s *Store) Recent(ctx context.Context, limit int, kind string) ([]protocol.EventView, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = s.db.QueryContext(ctx, s.dialect.recent, s.room, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, s.dialect.recentKind, s.room, kind, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []protocol.EventView
	for rows.Next() {
		var (
			tick    int64
			k       string
			agentID string
			origin  string
			atMS    int64
			payload string
		)
		if err := rows.Scan(&tick, &k, &agentID, &origin, &atMS, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev := world.Event{
			Tick:    uint64(tick),
			Type:    command.Kind(k),
			AgentID: agentID,
			At:      time.UnixMilli(atMS).UTC(),
		}
		_ = ev.Origin.UnmarshalText([]byte(origin))
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		out = append(out, world.EventView(ev))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) WriteMetrics(w io.Writer, room string) {
	fmt.Fprintf(w, "# HELP realm_eventstore_written_total Events committed to the event store.\n")
	fmt.Fprintf(w, "# TYPE realm_eventstore_written_total counter\n")
	fmt.Fprintf(w, "realm_eventstore_written_total{room=%q} %d\n", room, s.written.Load())

	fmt.Fprintf(w, "# HELP realm_eventstore_dropped_total Events dropped because the writer fell behind.\n")
	fmt.Fprintf(w, "# TYPE realm_eventstore_dropped_total counter\n")
	fmt.Fprintf(w, "realm_eventstore_dropped_total{room=%q} %d\n", room, s.dropped.Load())

	fmt.Fprintf(w, "# HELP realm_eventstore_failed_total Events whose insert failed.\n")
	fmt.Fprintf(w, "# TYPE realm_eventstore_failed_total counter\n")
	fmt.Fprintf(w, "realm_eventstore_failed_total{room=%q} %d\n", room, s.failed.Load())

	fmt.Fprintf(w, "# HELP realm_eventstore_queue_depth Batches waiting for the writer.\n")
	fmt.Fprintf(w, "# TYPE realm_eventstore_queue_depth gauge\n")
	fmt.Fprintf(w, "realm_eventstore_queue_depth{room=%q} %d\n", room, len(s.ch))
}
