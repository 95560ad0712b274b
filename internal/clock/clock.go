// Package clock provides the tick source that drives the simulation.
package clock

import (
	"errors"
	"sync"
	"time"
)

// Clock produces one tick per simulated second.
type Clock interface {
	Now() time.Time
	Tick() <-chan time.Time
	// Reset restarts the tick period from now and discards a pending tick.
	Reset()
}

// Real is a Clock backed by a time.Ticker.
type Real struct {
	ticker *time.Ticker
	period time.Duration
}

// NewReal creates a Real clock that ticks every period.
// A period of zero or less defaults to one second.
func NewReal(period time.Duration) *Real {
	if period <= 0 {
		period = time.Second
	}
	return &Real{ticker: time.NewTicker(period), period: period}
}

func (r *Real) Now() time.Time         { return time.Now() }
func (r *Real) Tick() <-chan time.Time { return r.ticker.C }

// Reset restarts the ticker so the next tick is a full period away. A tick
// buffered while nothing was listening is dropped.
func (r *Real) Reset() {
	r.ticker.Reset(r.period)
	select {
	case <-r.ticker.C:
	default:
	}
}

// Stop releases the underlying ticker.
func (r *Real) Stop() { r.ticker.Stop() }

// ErrNoConsumer is returned by Manual.Step when nothing received the tick.
var ErrNoConsumer = errors.New("tick not consumed")

// Manual is a Clock advanced explicitly by tests.
// Ticks are delivered on an unbuffered channel so Step returns only once a
// receiver has taken the tick.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	period time.Duration
	ch     chan time.Time
}

// NewManual creates a Manual clock starting at start. Each Step advances the
// clock by period.
func NewManual(start time.Time, period time.Duration) *Manual {
	if period <= 0 {
		period = time.Second
	}
	return &Manual{now: start, period: period, ch: make(chan time.Time)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Tick() <-chan time.Time { return m.ch }

// Reset is a no-op: Manual ticks only exist while Step is blocked on a
// receiver.
func (m *Manual) Reset() {}

// Step advances the clock by one period and delivers the tick. It fails with
// ErrNoConsumer if no receiver takes the tick within timeout.
func (m *Manual) Step(timeout time.Duration) error {
	m.mu.Lock()
	m.now = m.now.Add(m.period)
	t := m.now
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m.ch <- t:
		return nil
	case <-timer.C:
		return ErrNoConsumer
	}
}

// Advance moves the clock forward by d without delivering a tick.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t without delivering a tick.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
