package engine

import (
	"context"
	"errors"
	"log"
	"sync"

	"stellarcolony.ai/internal/sim/clock"
)

var ErrSessionClosed = errors.New("session closed")

type intentReq struct {
	Intent Intent
	Resp   chan IntentResponse
}

type IntentResponse struct {
	Result Result
	Err    error
	State  Snapshot
}

type stateReq struct {
	Resp chan Snapshot
}

type subscribeReq struct {
	Out  chan Snapshot
	Done bool
}

// Session owns an Engine and drives it from a single goroutine. Intents,
// state queries and ticks are serialized through Run, so an intent never
// observes a half-applied tick.
type Session struct {
	id     string
	eng    *Engine
	ticks  clock.Source
	logger *log.Logger
	sink   EventSink

	intents chan intentReq
	queries chan stateReq
	subs    chan subscribeReq

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	subscribers map[chan Snapshot]struct{}
}

type SessionOptions struct {
	ID     string
	Ticks  clock.Source
	Logger *log.Logger
	Sink   EventSink
}

func NewSession(eng *Engine, opts SessionOptions) *Session {
	return &Session{
		id:          opts.ID,
		eng:         eng,
		ticks:       opts.Ticks,
		logger:      opts.Logger,
		sink:        opts.Sink,
		intents:     make(chan intentReq, 64),
		queries:     make(chan stateReq, 16),
		subs:        make(chan subscribeReq, 16),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		subscribers: map[chan Snapshot]struct{}{},
	}
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Variant() string { return s.eng.Variant() }

// CatalogDigest is fixed for the life of the session, so it is read without
// going through Run.
func (s *Session) CatalogDigest() string { return s.eng.Catalog().Digest }

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf("session=%s "+format, append([]any{s.id}, args...)...)
	}
}

// Run processes requests and ticks until ctx is done or Stop is called.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.ticks.Stop()
	defer func() {
		for ch := range s.subscribers {
			close(ch)
		}
		s.subscribers = nil
		s.flushEvents()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logf("stopping: %v", ctx.Err())
			return ctx.Err()
		case <-s.stop:
			s.logf("stopped")
			return nil
		case req := <-s.intents:
			res, err := s.eng.Apply(req.Intent)
			if err == nil && req.Intent.Kind == IntentPrestige {
				s.logf("prestige bonus=%d level=%d", res.Bonus, s.eng.prestige.Level())
			}
			s.flushEvents()
			req.Resp <- IntentResponse{Result: res, Err: err, State: s.eng.State()}
		case req := <-s.queries:
			req.Resp <- s.eng.State()
		case req := <-s.subs:
			if req.Done {
				if _, ok := s.subscribers[req.Out]; ok {
					delete(s.subscribers, req.Out)
					close(req.Out)
				}
				continue
			}
			s.subscribers[req.Out] = struct{}{}
			sendLatest(req.Out, s.eng.State())
		case <-s.ticks.C():
			rep := s.eng.Tick()
			if rep.StageEntered > 0 {
				s.logf("tick=%d entered stage %d", rep.Tick, rep.StageEntered)
			}
			s.flushEvents()
			if len(s.subscribers) > 0 {
				snap := s.eng.State()
				for ch := range s.subscribers {
					sendLatest(ch, snap)
				}
			}
		}
	}
}

func (s *Session) flushEvents() {
	evs := s.eng.DrainEvents()
	if s.sink != nil && len(evs) > 0 {
		s.sink.RecordEvents(s.id, s.eng.Variant(), evs)
	}
}

func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Do submits an intent and waits for its result together with the state
// right after it was applied.
func (s *Session) Do(ctx context.Context, in Intent) (IntentResponse, error) {
	req := intentReq{Intent: in, Resp: make(chan IntentResponse, 1)}
	select {
	case s.intents <- req:
	case <-s.done:
		return IntentResponse{}, ErrSessionClosed
	case <-ctx.Done():
		return IntentResponse{}, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		return resp, nil
	case <-s.done:
		return IntentResponse{}, ErrSessionClosed
	case <-ctx.Done():
		return IntentResponse{}, ctx.Err()
	}
}

func (s *Session) State(ctx context.Context) (Snapshot, error) {
	req := stateReq{Resp: make(chan Snapshot, 1)}
	select {
	case s.queries <- req:
	case <-s.done:
		return Snapshot{}, ErrSessionClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-req.Resp:
		return snap, nil
	case <-s.done:
		return Snapshot{}, ErrSessionClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Subscribe returns a channel that receives the current state and then a
// fresh snapshot after every tick. Slow readers only ever miss older
// snapshots. The channel is closed by cancel or when the session ends.
func (s *Session) Subscribe(queue int) (<-chan Snapshot, func()) {
	if queue < 1 {
		queue = 1
	}
	ch := make(chan Snapshot, queue)
	select {
	case s.subs <- subscribeReq{Out: ch}:
	case <-s.done:
		close(ch)
		return ch, func() {}
	}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			select {
			case s.subs <- subscribeReq{Out: ch, Done: true}:
			case <-s.done:
			}
		})
	}
	return ch, cancel
}

func sendLatest(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
