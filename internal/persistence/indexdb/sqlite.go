package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"

	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/engine"
	"stellarcolony.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of sessions and their events.
// Writes are queued and applied by one goroutine; the tick journal stays the
// source of truth, so a full queue drops rows instead of stalling a session.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvents   atomic.Uint64
	dropSessions atomic.Uint64
}

type reqKind int

const (
	reqEvents reqKind = iota + 1
	reqSessionOpen
	reqSessionClose
	reqFlush
)

type req struct {
	kind reqKind

	sessionID string
	variant   string
	events    []engine.Event
	session   SessionRow
	at        time.Time
	done      chan struct{}
}

type SessionRow struct {
	SessionID     string `json:"session_id"`
	Variant       string `json:"variant"`
	Seed          int64  `json:"seed"`
	CatalogDigest string `json:"catalog_digest"`
	CreatedAt     string `json:"created_at"`
	ClosedAt      string `json:"closed_at,omitempty"`
}

type EventRow struct {
	SessionID string         `json:"session_id"`
	Variant   string         `json:"variant"`
	Tick      uint64         `json:"tick"`
	Seq       int            `json:"seq"`
	Type      string         `json:"type"`
	Details   map[string]any `json:"details,omitempty"`
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropEventsTotal   uint64 `json:"drop_events_total"`
	DropSessionsTotal uint64 `json:"drop_sessions_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
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

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			variant TEXT NOT NULL,
			seed INTEGER NOT NULL,
			catalog_digest TEXT NOT NULL,
			created_at TEXT NOT NULL,
			closed_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);`,
		`CREATE TABLE IF NOT EXISTS events (
			session_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			variant TEXT NOT NULL,
			type TEXT NOT NULL,
			details_json TEXT NOT NULL,
			PRIMARY KEY (session_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, session_id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropEventsTotal:   s.dropEvents.Load(),
		DropSessionsTotal: s.dropSessions.Load(),
	}
}

// RecordEvents queues a session's events. It never blocks.
func (s *SQLiteIndex) RecordEvents(sessionID, variant string, events []engine.Event) {
	if s == nil || s.closed.Load() || len(events) == 0 {
		return
	}
	select {
	case s.ch <- req{kind: reqEvents, sessionID: sessionID, variant: variant, events: events}:
	default:
		s.dropEvents.Add(uint64(len(events)))
	}
}

func (s *SQLiteIndex) RecordSessionOpened(id, variant string, seed int64, catalogDigest string, at time.Time) {
	if s == nil || s.closed.Load() {
		return
	}
	row := SessionRow{
		SessionID:     id,
		Variant:       variant,
		Seed:          seed,
		CatalogDigest: catalogDigest,
		CreatedAt:     at.UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSessionOpen, session: row}:
	default:
		s.dropSessions.Add(1)
	}
}

func (s *SQLiteIndex) RecordSessionClosed(id string, at time.Time) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSessionClose, sessionID: id, at: at}:
	default:
		s.dropSessions.Add(1)
	}
}

// Flush waits until everything queued so far is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertCatalogs stores the catalogs and tuning the server runs with.
func (s *SQLiteIndex) UpsertCatalogs(cats []*catalogs.Catalog, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	for _, c := range cats {
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("catalog %s: %w", c.Name, err)
		}
		rows = append(rows, kv{name: "variant:" + c.Name, digest: c.Digest, json: b})
	}
	{
		b, _ := json.Marshal(tune)
		sum := blake3.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: fmt.Sprintf("%x", sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const (
	batchMaxOps  = 2000
	batchMaxWait = 2 * time.Second
)

// batch is the write transaction the loop is currently filling.
type batch struct {
	db      *sql.DB
	tx      *sql.Tx
	ops     int
	started time.Time

	insertEvent   *sql.Stmt
	insertSession *sql.Stmt
	closeSession  *sql.Stmt
}

func (b *batch) open() bool {
	if b.tx != nil {
		return true
	}
	tx, err := b.db.BeginTx(context.Background(), nil)
	if err != nil {
		time.Sleep(50 * time.Millisecond)
		return false
	}
	b.tx, b.ops, b.started = tx, 0, time.Now()
	return true
}

func (b *batch) commit() {
	if b.tx != nil {
		_ = b.tx.Commit()
	}
	b.tx, b.ops = nil, 0
}

func (b *batch) abort() {
	if b.tx != nil {
		_ = b.tx.Rollback()
	}
	b.tx, b.ops = nil, 0
}

func (b *batch) due() bool {
	return b.tx != nil && (b.ops >= batchMaxOps || time.Since(b.started) >= batchMaxWait)
}

// exec runs stmt inside the open transaction. A failed statement drops the
// whole batch.
func (b *batch) exec(stmt *sql.Stmt, args ...any) bool {
	if stmt == nil || b.tx == nil {
		return false
	}
	if _, err := b.tx.Stmt(stmt).Exec(args...); err != nil {
		b.abort()
		return false
	}
	b.ops++
	return true
}

func (b *batch) close() {
	for _, st := range []*sql.Stmt{b.insertEvent, b.insertSession, b.closeSession} {
		if st != nil {
			_ = st.Close()
		}
	}
}

// eventCursor numbers a session's events within one tick. Events arrive in
// tick order per session.
type eventCursor struct {
	tick uint64
	seq  int
}

func (s *SQLiteIndex) loop() {
	b := &batch{db: s.db}
	b.insertEvent, _ = s.db.Prepare(`INSERT OR REPLACE INTO events(session_id,tick,seq,variant,type,details_json) VALUES(?,?,?,?,?,?)`)
	b.insertSession, _ = s.db.Prepare(`INSERT OR REPLACE INTO sessions(session_id,variant,seed,catalog_digest,created_at) VALUES(?,?,?,?,?)`)
	b.closeSession, _ = s.db.Prepare(`UPDATE sessions SET closed_at=? WHERE session_id=?`)
	defer b.close()

	cursors := map[string]eventCursor{}
	idle := time.NewTicker(batchMaxWait)
	defer idle.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				b.commit()
				return
			}
			r = rr
		case <-idle.C:
			if b.due() {
				b.commit()
			}
			continue
		}

		if r.kind == reqFlush {
			b.commit()
			close(r.done)
			continue
		}
		if !b.open() {
			continue
		}

		switch r.kind {
		case reqEvents:
			for _, ev := range r.events {
				cur := cursors[r.sessionID]
				if ev.Tick != cur.tick {
					cur = eventCursor{tick: ev.Tick}
				}
				details, _ := json.Marshal(ev.Details)
				if !b.exec(b.insertEvent, r.sessionID, int64(ev.Tick), cur.seq, r.variant, ev.Type, string(details)) {
					break
				}
				cur.seq++
				cursors[r.sessionID] = cur
			}
		case reqSessionOpen:
			row := r.session
			b.exec(b.insertSession, row.SessionID, row.Variant, row.Seed, row.CatalogDigest, row.CreatedAt)
		case reqSessionClose:
			delete(cursors, r.sessionID)
			b.exec(b.closeSession, r.at.UTC().Format(time.RFC3339Nano), r.sessionID)
		}
		if b.due() {
			b.commit()
		}
	}
}
