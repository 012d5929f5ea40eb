package session

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/sketchround/internal/classify"
	"github.com/Iron-Ham/sketchround/internal/errors"
)

// SnapshotSource supplies the current drawing on demand.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (classify.Snapshot, error)
}

// Request is one dispatched classify attempt.
type Request struct {
	Generation uint64
	RequestID  uint64
	Snapshot   classify.Snapshot
}

// Completion is the outcome of one attempt. Exactly one of Set and Err is set.
type Completion struct {
	Generation uint64
	RequestID  uint64
	Set        *classify.PredictionSet
	Err        error
	Latency    time.Duration
}

// Dispatcher runs a classify attempt without blocking the caller and reports
// the outcome through done, which may be called from any goroutine (or
// synchronously, before Dispatch returns).
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request, done func(Completion))
}

// AsyncDispatcher runs each attempt on its own goroutine.
type AsyncDispatcher struct {
	client classify.Client
	now    func() time.Time
}

// NewAsyncDispatcher creates a dispatcher that calls client on a goroutine.
func NewAsyncDispatcher(client classify.Client) *AsyncDispatcher {
	return &AsyncDispatcher{client: client, now: time.Now}
}

// Dispatch starts the attempt and returns immediately.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, req Request, done func(Completion)) {
	go func() {
		start := d.now()
		set, err := d.client.Classify(ctx, req.Snapshot)
		done(complete(req, set, err, d.now().Sub(start)))
	}()
}

// complete tags a classify result with the identity captured at dispatch.
func complete(req Request, set *classify.PredictionSet, err error, latency time.Duration) Completion {
	c := Completion{
		Generation: req.Generation,
		RequestID:  req.RequestID,
		Latency:    latency,
	}
	switch {
	case err != nil:
		c.Err = err
	case set.Len() == 0:
		c.Err = errors.ErrEmptyResult
	default:
		set.RequestID = req.RequestID
		set.Generation = req.Generation
		c.Set = set
	}
	return c
}

// inflight is the single outstanding attempt.
type inflight struct {
	generation uint64
	requestID  uint64
	cancel     context.CancelFunc
	age        time.Duration
}

// SchedulerConfig holds the dispatch timing.
type SchedulerConfig struct {
	Cadence time.Duration
	// Timeout abandons an in-flight attempt after this much tick time (0 = never).
	Timeout time.Duration
	// Endpoint labels transport errors raised by the scheduler itself.
	Endpoint string
}

// Scheduler owns cadence timing and enforces at most one in-flight attempt.
// Tick must be called from a single goroutine; completions may be delivered
// from any goroutine and are queued until Drain.
type Scheduler struct {
	cfg        SchedulerConfig
	ctx        context.Context
	source     SnapshotSource
	dispatcher Dispatcher

	generation    uint64
	intervalTimer time.Duration
	lastRequestID uint64
	current       *inflight

	mu      sync.Mutex
	pending []Completion
}

// NewScheduler creates a scheduler. ctx bounds every attempt it dispatches.
func NewScheduler(ctx context.Context, cfg SchedulerConfig, source SnapshotSource, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		ctx:        ctx,
		source:     source,
		dispatcher: dispatcher,
	}
}

// BeginRound resets cadence state for a new round generation, abandoning any
// outstanding attempt. Request IDs restart at 1.
func (s *Scheduler) BeginRound(generation uint64) {
	s.Abandon()
	s.generation = generation
	s.intervalTimer = 0
	s.lastRequestID = 0
}

// Abandon cancels the outstanding attempt, if any. Its completion will be
// rejected by Accept.
func (s *Scheduler) Abandon() {
	if s.current == nil {
		return
	}
	s.current.cancel()
	s.current = nil
}

// Tick advances the interval timer by dt and dispatches when the cadence has
// elapsed and nothing is in flight. It returns the dispatched request, if
// any, and a synthesized completion when the in-flight attempt timed out.
func (s *Scheduler) Tick(dt time.Duration) (*Request, *Completion) {
	if dt < 0 {
		dt = 0
	}
	s.intervalTimer += dt

	if s.current != nil {
		s.current.age += dt
		if s.cfg.Timeout <= 0 || s.current.age < s.cfg.Timeout {
			return nil, nil
		}
		timedOut := s.expire()
		return nil, &timedOut
	}

	if s.intervalTimer < s.cfg.Cadence {
		return nil, nil
	}
	req := s.dispatch()
	return req, nil
}

// expire abandons the in-flight attempt and reports it as a transport failure.
func (s *Scheduler) expire() Completion {
	c := Completion{
		Generation: s.current.generation,
		RequestID:  s.current.requestID,
		Err: errors.NewTransportError(s.cfg.Endpoint,
			errors.NewTimeoutError("classify", s.cfg.Timeout)),
		Latency: s.current.age,
	}
	s.Abandon()
	return c
}

func (s *Scheduler) dispatch() *Request {
	s.lastRequestID++
	ctx, cancel := context.WithCancel(s.ctx)
	s.current = &inflight{
		generation: s.generation,
		requestID:  s.lastRequestID,
		cancel:     cancel,
	}
	s.intervalTimer = 0

	req := Request{Generation: s.generation, RequestID: s.lastRequestID}

	snapshot, err := s.source.Snapshot(ctx)
	if err != nil {
		s.enqueue(Completion{
			Generation: req.Generation,
			RequestID:  req.RequestID,
			Err:        errors.NewTransportError("capture", errors.Join(errors.ErrCaptureFailed, err)),
		})
		return &req
	}

	req.Snapshot = snapshot
	s.dispatcher.Dispatch(ctx, req, s.enqueue)
	return &req
}

func (s *Scheduler) enqueue(c Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, c)
}

// Drain returns and clears the queued completions in arrival order.
func (s *Scheduler) Drain() []Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// Accept reports whether c answers the live in-flight attempt and, if so,
// clears in-flight. Anything else is stale.
func (s *Scheduler) Accept(c Completion) bool {
	if s.current == nil ||
		c.Generation != s.current.generation ||
		c.RequestID != s.current.requestID {
		return false
	}
	s.current.cancel()
	s.current = nil
	return true
}

// InFlight reports whether an attempt is outstanding.
func (s *Scheduler) InFlight() bool {
	return s.current != nil
}

// InFlightID returns the request ID of the outstanding attempt, or 0.
func (s *Scheduler) InFlightID() uint64 {
	if s.current == nil {
		return 0
	}
	return s.current.requestID
}

// IntervalTimer returns the time accumulated since the last dispatch.
func (s *Scheduler) IntervalTimer() time.Duration {
	return s.intervalTimer
}

// LastRequestID returns the most recently dispatched request ID of the round.
func (s *Scheduler) LastRequestID() uint64 {
	return s.lastRequestID
}
