package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stellarcolony.ai/internal/sim/clock"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
}

func (m *memSink) RecordEvents(sessionID, variant string, evs []Event) {
	m.mu.Lock()
	m.events = append(m.events, evs...)
	m.mu.Unlock()
}

func (m *memSink) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func startSession(t *testing.T) (*Session, *clock.Manual, *memSink) {
	t.Helper()
	src := clock.NewManual(time.Unix(0, 0), time.Second)
	sink := &memSink{}
	s := NewSession(newColony(t), SessionOptions{ID: "s-test", Ticks: src, Sink: sink})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return s, src, sink
}

func TestSessionIntentsAndTicks(t *testing.T) {
	s, src, sink := startSession(t)
	ctx := context.Background()

	resp, err := s.Do(ctx, Intent{Kind: IntentPurchase, Structure: "solarPanel"})
	if err != nil || resp.Err != nil {
		t.Fatalf("do: %v / %v", err, resp.Err)
	}
	if resp.Result.Amount != 10 || resp.State.Resources["metal"] != 15 {
		t.Fatalf("resp=%+v", resp)
	}

	if !src.Fire(3) {
		t.Fatalf("fire")
	}
	st, err := s.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Tick != 3 {
		t.Fatalf("tick=%d", st.Tick)
	}
	// One solar panel at stage 1 makes 2 energy per tick.
	if st.Resources["energy"] != 56 {
		t.Fatalf("energy=%v", st.Resources["energy"])
	}

	resp, err = s.Do(ctx, Intent{Kind: IntentUpgrade, Structure: "solarPanel"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Err == nil {
		t.Fatalf("upgrade without crystals should be rejected")
	}
	got := sink.types()
	if len(got) < 1 || got[0] != EventStructurePurchased {
		t.Fatalf("sink events=%v", got)
	}
}

func TestSessionSubscribe(t *testing.T) {
	s, src, _ := startSession(t)
	ch, cancel := s.Subscribe(1)

	first := <-ch
	if first.Tick != 0 {
		t.Fatalf("initial snapshot tick=%d", first.Tick)
	}
	src.Fire(1)
	next := <-ch
	if next.Tick != 1 {
		t.Fatalf("pushed snapshot tick=%d", next.Tick)
	}
	cancel()
	for range ch {
	}
}

func TestSessionStop(t *testing.T) {
	s, src, _ := startSession(t)
	s.Stop()
	<-s.Done()
	if _, err := s.Do(context.Background(), Intent{Kind: IntentGenerate, Resource: "energy"}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("do after stop: %v", err)
	}
	if _, err := s.State(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("state after stop: %v", err)
	}
	if src.Fire(1) {
		t.Fatalf("ticks delivered after stop")
	}
}
