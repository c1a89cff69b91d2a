// Package clock supplies wall time and tick sources. Sessions take a Source so
// tests can drive ticks by hand.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// Source delivers ticks on C until Stop.
type Source interface {
	C() <-chan time.Time
	Stop()
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Real is a Source backed by time.Ticker.
type Real struct {
	t *time.Ticker
}

func NewReal(interval time.Duration) *Real {
	if interval <= 0 {
		interval = time.Second
	}
	return &Real{t: time.NewTicker(interval)}
}

func (r *Real) C() <-chan time.Time { return r.t.C }
func (r *Real) Stop()               { r.t.Stop() }

// Manual is a deterministic Clock and Source. Fire blocks until the consumer
// takes the tick, so a following request to the same loop observes it.
type Manual struct {
	mu       sync.Mutex
	now      time.Time
	interval time.Duration

	ch       chan time.Time
	stopOnce sync.Once
	stopped  chan struct{}
}

func NewManual(start time.Time, interval time.Duration) *Manual {
	if interval <= 0 {
		interval = time.Second
	}
	return &Manual{
		now:      start,
		interval: interval,
		ch:       make(chan time.Time),
		stopped:  make(chan struct{}),
	}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves wall time without firing ticks.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *Manual) C() <-chan time.Time { return m.ch }

func (m *Manual) Stop() {
	m.stopOnce.Do(func() { close(m.stopped) })
}

// Fire advances by one interval and delivers n ticks. It reports false if the
// source was stopped before all ticks were taken.
func (m *Manual) Fire(n int) bool {
	for i := 0; i < n; i++ {
		m.Advance(m.interval)
		select {
		case m.ch <- m.Now():
		case <-m.stopped:
			return false
		}
	}
	return true
}
