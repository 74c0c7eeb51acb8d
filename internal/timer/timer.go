// Package timer implements the per-question countdown.
package timer

import (
	"fmt"
	"sync"
	"time"

	"quiz-tutor-service/internal/domain"
)

// Ticker is the subset of time.Ticker the countdown needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc builds a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker adapts time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Handler receives countdown events. Each event carries the run id returned by Start
// so a receiver can ignore events from a run it no longer cares about.
type Handler struct {
	OnTick   func(run uint64, remaining int)
	OnExpire func(run uint64)
}

// Timer is a cancellable one-tick-per-second countdown. At most one run is active.
type Timer struct {
	handler   Handler
	newTicker TickerFunc
	interval  time.Duration

	mu        sync.Mutex
	run       uint64
	running   bool
	duration  int
	remaining int
	stop      chan struct{}
}

// Option customises a Timer.
type Option func(*Timer)

// WithTicker replaces the ticker source, used by tests to drive ticks by hand.
func WithTicker(f TickerFunc) Option {
	return func(t *Timer) { t.newTicker = f }
}

// New builds an idle timer delivering events to h.
func New(h Handler, opts ...Option) *Timer {
	t := &Timer{
		handler:   h,
		newTicker: NewRealTicker,
		interval:  time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins a countdown of seconds, cancelling any run in progress.
func (t *Timer) Start(seconds int) (uint64, error) {
	if seconds <= 0 {
		return 0, fmt.Errorf("%w: %d seconds", domain.ErrInvalidDuration, seconds)
	}

	t.mu.Lock()
	t.cancelLocked()
	t.run++
	run := t.run
	t.running = true
	t.duration = seconds
	t.remaining = seconds
	stop := make(chan struct{})
	t.stop = stop
	ticker := t.newTicker(t.interval)
	t.mu.Unlock()

	go t.loop(run, ticker, stop)
	return run, nil
}

// Cancel stops the current run. It is a no-op when idle.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

func (t *Timer) cancelLocked() {
	if !t.running {
		return
	}
	t.running = false
	close(t.stop)
	t.stop = nil
}

// Running reports whether a countdown is active.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Remaining returns the seconds left in the current or last run.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Elapsed returns the seconds consumed in the current or last run.
func (t *Timer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration - t.remaining
}

func (t *Timer) loop(run uint64, ticker Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			t.mu.Lock()
			// a cancel or restart may race with a tick already delivered
			if !t.running || t.run != run {
				t.mu.Unlock()
				return
			}
			t.remaining--
			remaining := t.remaining
			expired := remaining <= 0
			if expired {
				t.running = false
				t.stop = nil
			}
			t.mu.Unlock()

			if t.handler.OnTick != nil {
				t.handler.OnTick(run, remaining)
			}
			if expired {
				if t.handler.OnExpire != nil {
					t.handler.OnExpire(run)
				}
				return
			}
		}
	}
}

// Format renders seconds as m:ss.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
