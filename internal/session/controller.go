package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/sketchround/internal/classify"
	"github.com/Iron-Ham/sketchround/internal/config"
	"github.com/Iron-Ham/sketchround/internal/errors"
	"github.com/Iron-Ham/sketchround/internal/event"
	"github.com/Iron-Ham/sketchround/internal/logging"
)

// TargetPicker chooses the label for each new round.
type TargetPicker interface {
	Next() string
}

// Config holds the timing and identity of one controller.
type Config struct {
	SessionID string
	// Resource names the shared capture device or display this controller drives.
	Resource string
	// Endpoint labels timeout errors; usually the classifier's predict URL.
	Endpoint string

	InitialDelay   time.Duration
	Cadence        time.Duration
	CycleInterval  time.Duration
	RequestTimeout time.Duration
	WaitForInput   bool
}

// NewConfig derives a controller Config from the loaded settings.
func NewConfig(sessionID string, cfg *config.Config) Config {
	return Config{
		SessionID:      sessionID,
		Resource:       cfg.Capture.Resource(),
		Endpoint:       strings.TrimRight(cfg.Classifier.BaseURL, "/") + cfg.Classifier.PredictPath,
		InitialDelay:   cfg.Session.InitialDelay(),
		Cadence:        cfg.Session.Cadence(),
		CycleInterval:  cfg.Session.CycleInterval(),
		RequestTimeout: cfg.Session.RequestTimeout(),
		WaitForInput:   cfg.Session.WaitForInput,
	}
}

// Deps are the collaborators a Controller drives. Source, Dispatcher and
// Targets are required.
type Deps struct {
	Source     SnapshotSource
	Dispatcher Dispatcher
	Targets    TargetPicker
	Bus        *event.Bus
	Logger     *logging.Logger
	// Guard defaults to a process-wide guard.
	Guard *Guard
}

// View is a read-only picture of the controller for presentation.
type View struct {
	SessionID  string
	Round      Round
	Stats      Stats
	Displayed  classify.Candidate
	Index      int
	Total      int
	HasDisplay bool
	InFlight   bool
	StaleDrops int
}

// attemptObserver consumes one accepted completion.
type attemptObserver func(Completion)

// Controller owns all state of a recognition session: the round machine, the
// capture scheduler, the candidate cycler, the match evaluator and the stats.
//
// Tick is the only time entry point. Event handlers run synchronously inside
// Controller calls and must not call back into the Controller.
type Controller struct {
	cfg     Config
	targets TargetPicker
	bus     *event.Bus
	logger  *logging.Logger
	release func()
	cancel  context.CancelFunc

	mu         sync.Mutex
	machine    *Machine
	scheduler  *Scheduler
	cycler     *Cycler
	evaluator  *Evaluator
	stats      Stats
	roundLog   *logging.Logger
	staleDrops int
	observers  []attemptObserver

	inputSignal atomic.Bool
	closeOnce   sync.Once
}

// New constructs a controller in Idle and claims cfg.Resource. A second
// controller for the same resource fails with ErrControllerExists until the
// first is closed.
func New(cfg Config, deps Deps) (*Controller, error) {
	if err := validate(cfg, deps); err != nil {
		return nil, err
	}

	guard := deps.Guard
	if guard == nil {
		guard = defaultGuard
	}
	release, err := guard.Acquire(cfg.Resource, cfg.SessionID)
	if err != nil {
		return nil, err
	}

	bus := deps.Bus
	if bus == nil {
		bus = event.NewBus()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithSession(cfg.SessionID)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:     cfg,
		targets: deps.Targets,
		bus:     bus,
		logger:  logger,
		release: release,
		cancel:  cancel,
		machine: NewMachine(MachineConfig{
			InitialDelay: cfg.InitialDelay,
			WaitForInput: cfg.WaitForInput,
		}),
		scheduler: NewScheduler(ctx, SchedulerConfig{
			Cadence:  cfg.Cadence,
			Timeout:  cfg.RequestTimeout,
			Endpoint: cfg.Endpoint,
		}, deps.Source, deps.Dispatcher),
		cycler:    NewCycler(cfg.CycleInterval),
		evaluator: NewEvaluator(""),
		roundLog:  logger,
	}
	// Accepted completions are applied in this order.
	c.observers = []attemptObserver{
		c.recordAttempt,
		c.presentCandidates,
		c.evaluateMatch,
	}
	c.machine.OnTransition(c.onTransition)

	logger.Info("controller created",
		"resource", cfg.Resource,
		"initial_delay_ms", cfg.InitialDelay.Milliseconds(),
		"cadence_ms", cfg.Cadence.Milliseconds(),
		"cycle_interval_ms", cfg.CycleInterval.Milliseconds(),
		"request_timeout_ms", cfg.RequestTimeout.Milliseconds(),
	)
	return c, nil
}

func validate(cfg Config, deps Deps) error {
	switch {
	case deps.Source == nil:
		return errors.NewValidationError("snapshot source is required").WithField("source")
	case deps.Dispatcher == nil:
		return errors.NewValidationError("dispatcher is required").WithField("dispatcher")
	case deps.Targets == nil:
		return errors.NewValidationError("target picker is required").WithField("targets")
	case strings.TrimSpace(cfg.Resource) == "":
		return errors.NewValidationError("resource is required").WithField("resource")
	case cfg.InitialDelay < 0:
		return errors.NewValidationError("initial delay cannot be negative").
			WithField("initial_delay").WithValue(cfg.InitialDelay)
	case cfg.Cadence <= 0:
		return errors.NewValidationError("cadence must be positive").
			WithField("cadence").WithValue(cfg.Cadence)
	case cfg.CycleInterval < 0:
		return errors.NewValidationError("cycle interval cannot be negative").
			WithField("cycle_interval").WithValue(cfg.CycleInterval)
	case cfg.RequestTimeout < 0:
		return errors.NewValidationError("request timeout cannot be negative").
			WithField("request_timeout").WithValue(cfg.RequestTimeout)
	}
	return nil
}

// Bus returns the event bus the controller publishes on.
func (c *Controller) Bus() *event.Bus {
	return c.bus
}

// SessionID returns the session identifier.
func (c *Controller) SessionID() string {
	return c.cfg.SessionID
}

// Start begins a round with a target from the picker. Only valid in Idle.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(c.targets.Next())
}

// StartWith begins a round with an explicit target. Only valid in Idle.
func (c *Controller) StartWith(target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(target)
}

func (c *Controller) startLocked(target string) error {
	if err := c.machine.Start(target); err != nil {
		return err
	}
	round := c.machine.Round()

	c.stats.Reset()
	c.cycler.Clear()
	c.evaluator = NewEvaluator(round.Target)
	c.scheduler.BeginRound(round.Generation)
	c.inputSignal.Store(false)
	c.roundLog = c.logger.WithRound(round.Generation)

	c.roundLog.Info("round started", "target", round.Target)
	c.bus.Publish(event.NewRoundStartedEvent(c.cfg.SessionID, round.Generation, round.Target))
	return nil
}

// Reset abandons the live round, including any in-flight attempt, and
// immediately starts a new one with a fresh target. Valid from any state.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state := c.machine.CurrentState(); state != StateIdle {
		round := c.machine.Round()
		if c.scheduler.InFlight() {
			c.roundLog.Debug("abandoning in-flight attempt", "request_id", c.scheduler.InFlightID())
		}
		c.scheduler.Abandon()
		c.roundLog.Info("round reset",
			"target", round.Target,
			"state", state.String(),
			"attempts", c.stats.AttemptCount,
			"elapsed_ms", round.Elapsed.Milliseconds(),
		)
		c.bus.Publish(event.NewRoundResetEvent(c.cfg.SessionID, round.Generation,
			round.Target, state.String(), c.stats.AttemptCount, round.Elapsed))
		c.machine.Reset()
	}
	c.cycler.Clear()
	return c.startLocked(c.targets.Next())
}

// NotifyInputStarted records that the user started drawing.
func (c *Controller) NotifyInputStarted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifyInputStarted()
}

// SignalInput is a goroutine-safe NotifyInputStarted, applied on the next Tick.
// Capture sources call it from their watcher goroutines.
func (c *Controller) SignalInput() {
	c.inputSignal.Store(true)
}

func (c *Controller) notifyInputStarted() error {
	already := c.machine.Round().InputStarted
	if err := c.machine.NotifyInputStarted(); err != nil {
		return err
	}
	if already {
		return nil
	}
	round := c.machine.Round()
	c.roundLog.Debug("input started", "elapsed_ms", round.InputAt.Milliseconds())
	c.bus.Publish(event.NewRoundInputStartedEvent(round.Generation, round.InputAt))
	return nil
}

// Tick advances the session by dt. Within one tick the order is: pending
// input signal, candidate rotation, completions that arrived since the last
// tick, the round timer, the scheduler (which may dispatch), then any
// completion delivered synchronously by that dispatch.
func (c *Controller) Tick(dt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dt < 0 {
		dt = 0
	}
	prev := c.machine.CurrentState()

	if c.inputSignal.Swap(false) && prev != StateIdle {
		_ = c.notifyInputStarted()
	}

	if prev == StatePredicting && c.cycler.Tick(dt) {
		c.publishDisplayed()
	}

	c.applyCompletions()
	c.machine.Tick(dt)

	// The scheduler only runs on ticks spent wholly in Predicting, so the
	// interval timer starts counting on the first tick after the transition.
	if prev != StatePredicting || c.machine.CurrentState() != StatePredicting {
		return
	}

	req, timedOut := c.scheduler.Tick(dt)
	if timedOut != nil {
		c.observe(*timedOut)
	}
	if req != nil {
		c.roundLog.WithRequest(req.RequestID).Debug("attempt dispatched",
			"elapsed_ms", c.machine.Round().Elapsed.Milliseconds())
		c.bus.Publish(event.NewAttemptDispatchedEvent(req.Generation, req.RequestID))
	}
	c.applyCompletions()
}

func (c *Controller) applyCompletions() {
	for _, comp := range c.scheduler.Drain() {
		if c.machine.CurrentState() != StatePredicting || !c.scheduler.Accept(comp) {
			c.dropStale(comp)
			continue
		}
		c.observe(comp)
	}
}

func (c *Controller) observe(comp Completion) {
	for _, fn := range c.observers {
		fn(comp)
	}
}

// dropStale discards a completion for an abandoned attempt or past round.
func (c *Controller) dropStale(comp Completion) {
	c.staleDrops++
	c.logger.WithRound(comp.Generation).WithRequest(comp.RequestID).Debug("dropped stale response",
		"error", errors.ErrStaleResponse.Error(),
		"live_generation", c.machine.Generation(),
	)
}

// recordAttempt counts the attempt and reports it.
func (c *Controller) recordAttempt(comp Completion) {
	c.stats.RecordAttempt()

	log := c.roundLog.WithRequest(comp.RequestID)
	if comp.Err != nil {
		logAt(log, errors.GetSeverity(comp.Err))("attempt failed",
			"kind", errors.Kind(comp.Err),
			"error", comp.Err.Error(),
			"retryable", errors.IsRetryable(comp.Err),
			"latency_ms", comp.Latency.Milliseconds(),
			"attempts", c.stats.AttemptCount,
		)
	} else {
		top, _ := comp.Set.Top()
		log.Info("attempt completed",
			"candidates", comp.Set.Len(),
			"top_label", top.Label,
			"top_percent", classify.FormatPercent(top.Confidence),
			"latency_ms", comp.Latency.Milliseconds(),
			"attempts", c.stats.AttemptCount,
		)
	}
	c.bus.Publish(event.NewAttemptCompletedEvent(c.cfg.SessionID, comp.Generation,
		comp.RequestID, comp.Set, comp.Err, comp.Latency))
}

// logAt picks the logger method for an error severity. An empty result is
// routine while the drawing is sparse and logs at info.
func logAt(log *logging.Logger, severity errors.Severity) func(string, ...any) {
	switch severity {
	case errors.SeverityDebug:
		return log.Debug
	case errors.SeverityInfo:
		return log.Info
	case errors.SeverityWarning:
		return log.Warn
	default:
		return log.Error
	}
}

// presentCandidates shows the first candidate of a fresh set.
func (c *Controller) presentCandidates(comp Completion) {
	if comp.Set == nil || !c.cycler.Apply(comp.Set) {
		return
	}
	c.publishDisplayed()
}

// evaluateMatch wins the round if the target is among the candidates.
func (c *Controller) evaluateMatch(comp Completion) {
	if comp.Set == nil {
		return
	}
	match, ok := c.evaluator.Evaluate(comp.Set)
	if !ok {
		return
	}

	round := c.machine.Round()
	if !c.stats.RecordWin(match.Candidate, match.Rank, round.Elapsed) {
		return
	}
	if err := c.machine.Win(); err != nil {
		c.roundLog.Error("win rejected", "error", err.Error())
		return
	}

	c.roundLog.Info("round won",
		"target", round.Target,
		"label", match.Candidate.Label,
		"confidence", match.Candidate.Confidence,
		"rank", match.Rank,
		"attempts", c.stats.AttemptCount,
		"elapsed_ms", round.Elapsed.Milliseconds(),
	)
	c.bus.Publish(event.NewRoundWonEvent(c.cfg.SessionID, round.Generation, round.Target,
		match.Candidate, match.Rank, c.stats.AttemptCount, round.Elapsed))
}

func (c *Controller) publishDisplayed() {
	cand, idx, ok := c.cycler.Current()
	if !ok {
		return
	}
	set := c.cycler.Set()
	c.bus.Publish(event.NewCandidateDisplayedEvent(set.Generation, set.RequestID, idx, set.Len(), cand))
}

func (c *Controller) onTransition(t Transition) {
	c.roundLog.Debug("state changed",
		"from", t.From.String(),
		"to", t.To.String(),
		"elapsed_ms", t.Elapsed.Milliseconds(),
	)
	c.bus.Publish(event.NewRoundStateChangedEvent(t.Generation, t.From.String(), t.To.String(), t.Elapsed))
}

// CurrentState returns the round state.
func (c *Controller) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.CurrentState()
}

// Round returns a copy of the live round.
func (c *Controller) Round() Round {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Round()
}

// Stats returns a copy of the round stats.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Displayed returns the currently presented candidate, if any.
func (c *Controller) Displayed() (classify.Candidate, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycler.Current()
}

// Prediction returns the held prediction set, or nil.
func (c *Controller) Prediction() *classify.PredictionSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycler.Set()
}

// InFlight reports whether a classify attempt is outstanding.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduler.InFlight()
}

// StaleDrops returns how many completions were discarded as stale.
func (c *Controller) StaleDrops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staleDrops
}

// View returns everything a display needs in one consistent read.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		SessionID:  c.cfg.SessionID,
		Round:      c.machine.Round(),
		Stats:      c.stats,
		InFlight:   c.scheduler.InFlight(),
		StaleDrops: c.staleDrops,
	}
	if cand, idx, ok := c.cycler.Current(); ok {
		v.Displayed = cand
		v.Index = idx
		v.Total = c.cycler.Set().Len()
		v.HasDisplay = true
	}
	return v
}

// Close abandons any in-flight attempt and releases the shared resource.
// Safe to call multiple times.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.scheduler.Abandon()
		c.mu.Unlock()
		c.cancel()
		c.release()
		c.logger.Info("controller closed")
	})
	return nil
}
