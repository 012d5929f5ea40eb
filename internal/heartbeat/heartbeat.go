// Package heartbeat drives a session's Tick from the wall clock when no UI
// event loop is available (headless runs).
package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Ticker is anything advanced by elapsed time.
type Ticker interface {
	Tick(dt time.Duration)
}

// TickerFunc adapts a function to Ticker.
type TickerFunc func(dt time.Duration)

// Tick calls f(dt).
func (f TickerFunc) Tick(dt time.Duration) { f(dt) }

const defaultMaxStepFactor = 10

// Heartbeat calls Tick at a fixed interval with the measured time since the
// previous beat.
type Heartbeat struct {
	target   Ticker
	interval time.Duration
	maxStep  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	stopFunc context.CancelFunc
	stopped  chan struct{}
	beats    atomic.Uint64
}

// Option configures a Heartbeat.
type Option func(*Heartbeat)

// WithClock replaces time.Now for measuring dt.
func WithClock(now func() time.Time) Option {
	return func(h *Heartbeat) {
		if now != nil {
			h.now = now
		}
	}
}

// WithMaxStep caps a single dt, so a suspended process does not replay
// minutes of round time in one beat. Zero disables the cap.
func WithMaxStep(d time.Duration) Option {
	return func(h *Heartbeat) {
		h.maxStep = d
	}
}

// New creates a heartbeat. The default cap on dt is ten intervals.
func New(target Ticker, interval time.Duration, opts ...Option) *Heartbeat {
	h := &Heartbeat{
		target:   target,
		interval: interval,
		maxStep:  interval * defaultMaxStepFactor,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins beating on a background goroutine. Call Stop to end it.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopFunc != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	h.stopFunc = cancel
	h.stopped = make(chan struct{})
	go h.loop(ctx)
}

// Stop ends the loop and waits for the last beat to finish. It is safe to
// call Stop even if Start was never called.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel, stopped := h.stopFunc, h.stopped
	h.stopFunc = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-stopped
	}
}

// Beats returns how many times Tick was called.
func (h *Heartbeat) Beats() uint64 {
	return h.beats.Load()
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer close(h.stopped)

	// A non-positive interval never beats.
	if h.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	last := h.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := h.now()
			h.beat(now.Sub(last))
			last = now
		}
	}
}

func (h *Heartbeat) beat(dt time.Duration) {
	if dt < 0 {
		dt = 0
	}
	if h.maxStep > 0 && dt > h.maxStep {
		dt = h.maxStep
	}
	h.target.Tick(dt)
	h.beats.Add(1)
}
