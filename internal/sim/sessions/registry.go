// Package sessions keeps the live game sessions of a server process: one
// private engine per player, addressed by id or by a signed resume token.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/clock"
	"stellarcolony.ai/internal/sim/contracts"
	"stellarcolony.ai/internal/sim/engine"
	"stellarcolony.ai/internal/sim/tuning"
)

var (
	ErrTooManySessions = errors.New("too many sessions")
	ErrUnknownSession  = errors.New("unknown session")
	ErrBadToken        = errors.New("invalid resume token")
	ErrUnknownVariant  = errors.New("unknown variant")
)

// JournalOpener returns the tick journal for a new session, or nil for none.
type JournalOpener func(sessionID, variant string) (JournalCloser, error)

type JournalCloser interface {
	engine.Journal
	io.Closer
}

// Recorder is told when sessions start and end. Implemented in
// internal/persistence/indexdb.
type Recorder interface {
	RecordSessionOpened(id, variant string, seed int64, catalogDigest string, at time.Time)
	RecordSessionClosed(id string, at time.Time)
}

// Archiver takes over a session's journal once it is closed. Implemented in
// internal/persistence/archive.
type Archiver interface {
	ArchiveSession(id string) (string, error)
}

type Options struct {
	Tuning   tuning.Tuning
	Secret   []byte
	Clock    clock.Clock
	Logger   *log.Logger
	Sink     engine.EventSink
	Recorder Recorder
	Journal  JournalOpener
	Archiver Archiver
	// Ticks builds the tick source for each session; defaults to a real ticker.
	Ticks func() clock.Source
	// Catalogs overrides the embedded variants when non-nil.
	Catalogs map[string]*catalogs.Catalog
}

type entry struct {
	sess     *engine.Session
	cancel   context.CancelFunc
	journal  JournalCloser
	lastSeen time.Time
	created  time.Time
}

type Registry struct {
	opts Options
	ctx  context.Context

	mu      sync.Mutex
	entries map[string]*entry
	cats    map[string]*catalogs.Catalog
	wg      sync.WaitGroup
}

// New returns a registry whose sessions live until ctx is done or they are closed.
func New(ctx context.Context, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Ticks == nil {
		interval := opts.Tuning.TickInterval()
		opts.Ticks = func() clock.Source { return clock.NewReal(interval) }
	}
	r := &Registry{opts: opts, ctx: ctx, entries: map[string]*entry{}, cats: map[string]*catalogs.Catalog{}}
	for k, v := range opts.Catalogs {
		r.cats[k] = v
	}
	return r
}

func (r *Registry) logf(format string, args ...any) {
	if r.opts.Logger != nil {
		r.opts.Logger.Printf(format, args...)
	}
}

// Variants lists the variants sessions can be created with.
func (r *Registry) Variants() []string {
	if len(r.opts.Catalogs) > 0 {
		out := make([]string, 0, len(r.opts.Catalogs))
		for k := range r.opts.Catalogs {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}
	return catalogs.Names()
}

func (r *Registry) catalog(variant string) (*catalogs.Catalog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cats[variant]; ok {
		return c, nil
	}
	if len(r.opts.Catalogs) > 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
	c, err := catalogs.Builtin(variant)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownVariant, variant, err)
	}
	r.cats[variant] = c
	return c, nil
}

type CreateOptions struct {
	Variant string
	Seed    int64
	HasSeed bool
}

// Create starts a new session and returns it with a resume token.
func (r *Registry) Create(co CreateOptions) (*engine.Session, string, error) {
	cat, err := r.catalog(co.Variant)
	if err != nil {
		return nil, "", err
	}
	seed := co.Seed
	if !co.HasSeed {
		seed = r.opts.Clock.Now().UnixNano()
	}
	t := r.opts.Tuning.Contracts
	eng, err := engine.New(engine.Config{
		Catalog: cat,
		Seed:    seed,
		Contracts: contracts.Limits{
			MinAvailable:       t.MinAvailable,
			MaxActive:          t.MaxActive,
			PeriodicEveryTicks: t.PeriodicEveryTicks,
			PeriodicCap:        t.PeriodicCap,
		},
	})
	if err != nil {
		return nil, "", err
	}

	r.mu.Lock()
	if limit := r.opts.Tuning.Sessions.MaxSessions; limit > 0 && len(r.entries) >= limit {
		r.mu.Unlock()
		return nil, "", fmt.Errorf("%w: %d live", ErrTooManySessions, limit)
	}
	id := uuid.NewString()
	now := r.opts.Clock.Now()
	e := &entry{created: now, lastSeen: now}
	r.entries[id] = e
	r.mu.Unlock()

	if r.opts.Journal != nil {
		j, err := r.opts.Journal(id, cat.Name)
		if err != nil {
			r.logf("session=%s journal disabled: %v", id, err)
		} else if j != nil {
			if err := eng.SetJournal(j, id); err != nil {
				r.logf("session=%s journal header: %v", id, err)
			}
			e.journal = j
		}
	}

	sess := engine.NewSession(eng, engine.SessionOptions{
		ID:     id,
		Ticks:  r.opts.Ticks(),
		Logger: r.opts.Logger,
		Sink:   r.opts.Sink,
	})
	ctx, cancel := context.WithCancel(r.ctx)
	r.mu.Lock()
	e.sess, e.cancel = sess, cancel
	r.mu.Unlock()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = sess.Run(ctx)
		if e.journal == nil {
			return
		}
		if err := e.journal.Close(); err != nil {
			r.logf("session=%s journal close: %v", id, err)
			return
		}
		if r.opts.Archiver != nil {
			if _, err := r.opts.Archiver.ArchiveSession(id); err != nil {
				r.logf("session=%s archive: %v", id, err)
			}
		}
	}()

	token, err := r.IssueToken(id)
	if err != nil {
		r.Close(id)
		return nil, "", err
	}
	if r.opts.Recorder != nil {
		r.opts.Recorder.RecordSessionOpened(id, cat.Name, seed, cat.Digest, now)
	}
	r.logf("session=%s created variant=%s seed=%d", id, cat.Name, seed)
	return sess, token, nil
}

// Get returns a live session and marks it as seen.
func (r *Registry) Get(id string) (*engine.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.sess == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}
	e.lastSeen = r.opts.Clock.Now()
	return e.sess, nil
}

func (r *Registry) IssueToken(id string) (string, error) {
	now := r.opts.Clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   id,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(r.opts.Tuning.ResumeTokenTTL())),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(r.opts.Secret)
	if err != nil {
		return "", fmt.Errorf("sign resume token: %w", err)
	}
	return s, nil
}

// Resume verifies a resume token and returns the session it names.
func (r *Registry) Resume(token string) (*engine.Session, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.opts.Secret, nil
	}, jwt.WithTimeFunc(r.opts.Clock.Now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	return r.Get(claims.Subject)
}

// Reap closes sessions idle for longer than the configured timeout and
// returns how many were closed.
func (r *Registry) Reap() int {
	idle := r.opts.Tuning.IdleTimeout()
	if idle <= 0 {
		return 0
	}
	now := r.opts.Clock.Now()
	var stale []string
	r.mu.Lock()
	for id, e := range r.entries {
		if now.Sub(e.lastSeen) > idle {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()
	for _, id := range stale {
		r.logf("session=%s idle, closing", id)
		r.Close(id)
	}
	return len(stale)
}

// Close stops one session. Unknown ids are ignored.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok || e.sess == nil {
		return
	}
	e.sess.Stop()
	e.cancel()
	if r.opts.Recorder != nil {
		r.opts.Recorder.RecordSessionClosed(id, r.opts.Clock.Now())
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Close(id)
	}
}

type Info struct {
	ID       string    `json:"id"`
	Variant  string    `json:"variant"`
	Created  time.Time `json:"created"`
	LastSeen time.Time `json:"last_seen"`
}

// List describes the live sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.entries))
	for id, e := range r.entries {
		if e.sess == nil {
			continue
		}
		out = append(out, Info{ID: id, Variant: e.sess.Variant(), Created: e.created, LastSeen: e.lastSeen})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Wait blocks until every session loop has exited and its journal is closed
// and archived.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RunReaper calls Reap every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Reap()
		}
	}
}
