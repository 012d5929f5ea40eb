package session

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/sketchround/internal/classify"
	"github.com/Iron-Ham/sketchround/internal/errors"
	"github.com/Iron-Ham/sketchround/internal/event"
	"github.com/Iron-Ham/sketchround/internal/logging"
)

const step = 100 * time.Millisecond

type controllerFixture struct {
	ctrl   *Controller
	disp   *manualDispatcher
	src    *staticSource
	events *recorder
	guard  *Guard
}

func roundConfig() Config {
	return Config{
		SessionID:     "test-session",
		Resource:      "source:/tmp/drawing.png",
		Endpoint:      "http://classifier.test/predict/base64",
		InitialDelay:  4 * time.Second,
		Cadence:       2 * time.Second,
		CycleInterval: 500 * time.Millisecond,
	}
}

func newFixture(t *testing.T, cfg Config, targets ...string) *controllerFixture {
	t.Helper()
	if len(targets) == 0 {
		targets = []string{"cat"}
	}
	f := &controllerFixture{
		disp:  &manualDispatcher{},
		src:   &staticSource{},
		guard: NewGuard(),
	}
	bus := event.NewBus()
	f.events = newRecorder(bus)

	ctrl, err := New(cfg, Deps{
		Source:     f.src,
		Dispatcher: f.disp,
		Targets:    &sequenceTargets{labels: targets},
		Bus:        bus,
		Guard:      f.guard,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })
	f.ctrl = ctrl
	return f
}

// advance ticks n fixed steps.
func (f *controllerFixture) advance(n int) {
	for i := 0; i < n; i++ {
		f.ctrl.Tick(step)
	}
}

func TestNew_Validation(t *testing.T) {
	base := roundConfig()
	deps := Deps{
		Source:     &staticSource{},
		Dispatcher: &manualDispatcher{},
		Targets:    &sequenceTargets{labels: []string{"cat"}},
	}

	tests := []struct {
		name   string
		mutate func(*Config, *Deps)
	}{
		{name: "no source", mutate: func(c *Config, d *Deps) { d.Source = nil }},
		{name: "no dispatcher", mutate: func(c *Config, d *Deps) { d.Dispatcher = nil }},
		{name: "no targets", mutate: func(c *Config, d *Deps) { d.Targets = nil }},
		{name: "no resource", mutate: func(c *Config, d *Deps) { c.Resource = " " }},
		{name: "zero cadence", mutate: func(c *Config, d *Deps) { c.Cadence = 0 }},
		{name: "negative delay", mutate: func(c *Config, d *Deps) { c.InitialDelay = -time.Second }},
		{name: "negative timeout", mutate: func(c *Config, d *Deps) { c.RequestTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, d := base, deps
			d.Guard = NewGuard()
			tt.mutate(&cfg, &d)
			if _, err := New(cfg, d); !errors.Is(err, &errors.ValidationError{}) {
				t.Errorf("New() error = %v, want a ValidationError", err)
			}
		})
	}
}

func TestController_SecondInstanceRejected(t *testing.T) {
	f := newFixture(t, roundConfig())

	second := roundConfig()
	second.SessionID = "other"
	_, err := New(second, Deps{
		Source:     &staticSource{},
		Dispatcher: &manualDispatcher{},
		Targets:    &sequenceTargets{labels: []string{"dog"}},
		Guard:      f.guard,
	})
	if !errors.Is(err, errors.ErrControllerExists) {
		t.Fatalf("second New() error = %v, want ErrControllerExists", err)
	}
	var exists *errors.AlreadyExistsError
	if !errors.As(err, &exists) || exists.ResourceID != second.Resource {
		t.Errorf("error = %#v, want AlreadyExistsError for %q", err, second.Resource)
	}

	other := roundConfig()
	other.Resource = "camera:1"
	c, err := New(other, Deps{
		Source:     &staticSource{},
		Dispatcher: &manualDispatcher{},
		Targets:    &sequenceTargets{labels: []string{"dog"}},
		Guard:      f.guard,
	})
	if err != nil {
		t.Fatalf("New() for a different resource error = %v", err)
	}
	_ = c.Close()

	_ = f.ctrl.Close()
	c, err = New(second, Deps{
		Source:     &staticSource{},
		Dispatcher: &manualDispatcher{},
		Targets:    &sequenceTargets{labels: []string{"dog"}},
		Guard:      f.guard,
	})
	if err != nil {
		t.Fatalf("New() after Close error = %v", err)
	}
	_ = c.Close()
}

// A target at rank 2 of the first response wins on the first attempt.
func TestController_WinOnFirstResponse(t *testing.T) {
	f := newFixture(t, roundConfig())
	f.disp.respond = func(Request) (*classify.PredictionSet, error) {
		return predictions("dog", 0.6, "cat", 0.3, "bird", 0.1), nil
	}

	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	f.advance(39)
	if got := f.ctrl.CurrentState(); got != StateActive {
		t.Fatalf("state at 3.9s = %v, want active", got)
	}
	f.advance(1)
	if got := f.ctrl.CurrentState(); got != StatePredicting {
		t.Fatalf("state at 4.0s = %v, want predicting", got)
	}

	f.advance(19)
	if f.disp.count() != 0 {
		t.Fatalf("dispatched before 6.0s")
	}
	f.advance(1)
	if f.disp.count() != 1 {
		t.Fatalf("dispatches at 6.0s = %d, want 1", f.disp.count())
	}

	if got := f.ctrl.CurrentState(); got != StateWon {
		t.Fatalf("state = %v, want won", got)
	}
	stats := f.ctrl.Stats()
	if stats.AttemptCount != 1 || stats.FinalLabel != "cat" || stats.FinalConfidence != 0.3 ||
		stats.WinningRank != 2 || stats.ElapsedAtWin != 6*time.Second {
		t.Errorf("stats = %+v, want 1 attempt, cat at rank 2 with 0.3 after 6s", stats)
	}

	wantEvents := []string{
		event.TypeRoundStateChanged, // idle -> active
		event.TypeRoundStarted,
		event.TypeRoundStateChanged, // active -> predicting
		event.TypeAttemptDispatched,
		event.TypeAttemptCompleted,
		event.TypeCandidateDisplayed,
		event.TypeRoundStateChanged, // predicting -> won
		event.TypeRoundWon,
	}
	if got := f.events.types(); !slices.Equal(got, wantEvents) {
		t.Errorf("events = %v\nwant %v", got, wantEvents)
	}

	// Won is terminal: nothing else is dispatched or rotated.
	f.advance(100)
	if f.disp.count() != 1 {
		t.Errorf("dispatches after win = %d, want 1", f.disp.count())
	}
	if n := len(f.events.displayed()); n != 1 {
		t.Errorf("candidate.displayed events = %d, want 1 (no rotation after win)", n)
	}
	if got := f.ctrl.Round().Elapsed; got != 6*time.Second {
		t.Errorf("elapsed after win = %v, want frozen at 6s", got)
	}
}

// Three responses without a match keep the round going while
// the cycler rotates through the latest response.
func TestController_NoMatchKeepsPredicting(t *testing.T) {
	f := newFixture(t, roundConfig())
	f.disp.respond = func(Request) (*classify.PredictionSet, error) {
		return predictions("dog", 0.6, "bird", 0.3, "fish", 0.1), nil
	}
	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Dispatches happen at 6s, 8s and 10s; stop just before the fourth.
	f.advance(119)

	if got := f.ctrl.CurrentState(); got != StatePredicting {
		t.Fatalf("state = %v, want predicting", got)
	}
	if got := f.ctrl.Stats().AttemptCount; got != 3 {
		t.Errorf("AttemptCount = %d, want 3", got)
	}
	if f.ctrl.Stats().Won {
		t.Error("stats report a win")
	}

	var latest []int
	for _, d := range f.events.displayed() {
		if d.RequestID == 3 {
			latest = append(latest, d.Index)
		}
	}
	if want := []int{0, 1, 2, 0}; !slices.Equal(latest, want) {
		t.Errorf("indices shown for request 3 = %v, want %v", latest, want)
	}

	cand, idx, ok := f.ctrl.Displayed()
	if !ok || idx != 0 || cand.Label != "dog" {
		t.Errorf("Displayed() = (%v, %d, %v), want dog at 0", cand, idx, ok)
	}
}

// A slow call blocks further dispatches until it resolves, then
// the next call goes out on the very next tick.
func TestController_SlowCallCoalesces(t *testing.T) {
	f := newFixture(t, roundConfig())
	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	f.advance(60)
	if f.disp.count() != 1 {
		t.Fatalf("dispatches at 6s = %d, want 1", f.disp.count())
	}

	f.advance(50)
	if f.disp.count() != 1 {
		t.Fatalf("dispatches during the 5s call = %d, want 1", f.disp.count())
	}
	if !f.ctrl.InFlight() {
		t.Fatal("call should still be in flight")
	}

	f.disp.resolve(t, 0, predictions("dog", 0.7, "bird", 0.3), nil)
	f.advance(1)

	if f.disp.count() != 2 {
		t.Fatalf("dispatches on the tick after resolution = %d, want 2", f.disp.count())
	}
	if got := f.disp.call(1).req.RequestID; got != 2 {
		t.Errorf("second request id = %d, want 2", got)
	}
	if got := f.ctrl.Stats().AttemptCount; got != 1 {
		t.Errorf("AttemptCount = %d, want 1", got)
	}
}

// A response for a round that was reset is discarded.
func TestController_ResetDiscardsInFlight(t *testing.T) {
	f := newFixture(t, roundConfig(), "cat", "dog")
	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.advance(60)
	if !f.ctrl.InFlight() {
		t.Fatal("expected an in-flight call")
	}

	if err := f.ctrl.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got := f.ctrl.Round(); got.Status != StateActive || got.Target != "dog" || got.Generation != 2 {
		t.Fatalf("round after Reset = %+v, want active dog generation 2", got)
	}
	if f.disp.call(0).ctx.Err() == nil {
		t.Error("abandoned call context not cancelled")
	}

	// The old round's target is in the late response.
	f.disp.resolve(t, 0, predictions("cat", 0.9), nil)
	f.advance(1)

	if got := f.ctrl.CurrentState(); got != StateActive {
		t.Errorf("state = %v, want active", got)
	}
	if got := f.ctrl.Stats(); got != (Stats{}) {
		t.Errorf("stats = %+v, want untouched", got)
	}
	if _, _, ok := f.ctrl.Displayed(); ok {
		t.Error("stale response reached the cycler")
	}
	if f.ctrl.StaleDrops() != 1 {
		t.Errorf("StaleDrops() = %d, want 1", f.ctrl.StaleDrops())
	}
	if n := f.events.count(event.TypeAttemptCompleted); n != 0 {
		t.Errorf("attempt.completed events = %d, want 0", n)
	}
	if n := f.events.count(event.TypeRoundReset); n != 1 {
		t.Errorf("round.reset events = %d, want 1", n)
	}
}

// A late response whose request id collides with the new round's live
// request is still stale.
func TestController_StaleIsolationAcrossGenerations(t *testing.T) {
	f := newFixture(t, roundConfig(), "cat", "dog")
	_ = f.ctrl.Start()
	f.advance(60)
	_ = f.ctrl.Reset()
	f.advance(60)

	if f.disp.count() != 2 {
		t.Fatalf("dispatches = %d, want 2", f.disp.count())
	}
	if a, b := f.disp.call(0).req, f.disp.call(1).req; a.RequestID != b.RequestID || a.Generation == b.Generation {
		t.Fatalf("requests %+v and %+v should share an id across generations", a, b)
	}

	f.disp.resolve(t, 0, predictions("dog", 0.9), nil)
	f.advance(1)

	if got := f.ctrl.CurrentState(); got != StatePredicting {
		t.Errorf("state = %v, want predicting", got)
	}
	if !f.ctrl.InFlight() {
		t.Error("live request lost its in-flight slot to a stale response")
	}
	if f.ctrl.Stats().AttemptCount != 0 {
		t.Errorf("AttemptCount = %d, want 0", f.ctrl.Stats().AttemptCount)
	}

	f.disp.resolve(t, 1, predictions("bird", 0.5, "dog", 0.4), nil)
	f.advance(1)
	if got := f.ctrl.CurrentState(); got != StateWon {
		t.Errorf("state after live response = %v, want won", got)
	}
}

func TestController_FailuresCountAndRetryOnCadence(t *testing.T) {
	f := newFixture(t, roundConfig())
	calls := 0
	f.disp.respond = func(Request) (*classify.PredictionSet, error) {
		calls++
		switch calls {
		case 1:
			return nil, errNetwork
		case 2:
			return nil, errors.NewProtocolError("unexpected status", 500)
		case 3:
			return &classify.PredictionSet{}, nil
		default:
			return predictions("cat", 0.8), nil
		}
	}
	_ = f.ctrl.Start()

	f.advance(60 + 3*20)

	if got := f.ctrl.CurrentState(); got != StateWon {
		t.Fatalf("state = %v, want won on the fourth attempt", got)
	}
	if got := f.ctrl.Stats().AttemptCount; got != 4 {
		t.Errorf("AttemptCount = %d, want 4", got)
	}

	var kinds []string
	for _, c := range f.events.completed() {
		kinds = append(kinds, errors.Kind(c.Err))
	}
	if want := []string{"transport", "protocol", "empty", ""}; !slices.Equal(kinds, want) {
		t.Errorf("attempt kinds = %v, want %v", kinds, want)
	}
	if n := len(f.events.displayed()); n != 1 {
		t.Errorf("candidate.displayed events = %d, want 1 (failures leave the display alone)", n)
	}
}

func TestController_FailureLogLevels(t *testing.T) {
	var buf bytes.Buffer
	calls := 0
	disp := &manualDispatcher{respond: func(Request) (*classify.PredictionSet, error) {
		calls++
		switch calls {
		case 1:
			return nil, errNetwork
		case 2:
			return &classify.PredictionSet{}, nil
		default:
			return nil, errors.New("unclassified")
		}
	}}
	ctrl, err := New(roundConfig(), Deps{
		Source:     &staticSource{},
		Dispatcher: disp,
		Targets:    &sequenceTargets{labels: []string{"cat"}},
		Logger:     logging.NewWriterLogger(&buf, logging.LevelDebug),
		Guard:      NewGuard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = ctrl.Close() }()
	_ = ctrl.Start()

	for i := 0; i < 60+2*20; i++ {
		ctrl.Tick(step)
	}

	type entry struct {
		Level     string `json:"level"`
		Msg       string `json:"msg"`
		Kind      string `json:"kind"`
		Retryable bool   `json:"retryable"`
	}
	var failed []entry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("log line %q is not JSON: %v", line, err)
		}
		if e.Msg == "attempt failed" {
			failed = append(failed, e)
		}
	}

	want := []entry{
		{Level: "WARN", Msg: "attempt failed", Kind: "transport", Retryable: true},
		{Level: "INFO", Msg: "attempt failed", Kind: "empty", Retryable: true},
		{Level: "ERROR", Msg: "attempt failed", Kind: "error", Retryable: false},
	}
	if !slices.Equal(failed, want) {
		t.Errorf("attempt failure logs = %+v\nwant %+v", failed, want)
	}
}

func TestController_CaptureFailureCounts(t *testing.T) {
	f := newFixture(t, roundConfig())
	f.src.err = errors.New("camera unplugged")
	_ = f.ctrl.Start()

	f.advance(60)

	if f.disp.count() != 0 {
		t.Errorf("classifier called %d times", f.disp.count())
	}
	if got := f.ctrl.Stats().AttemptCount; got != 1 {
		t.Errorf("AttemptCount = %d, want 1", got)
	}
	if f.ctrl.InFlight() {
		t.Error("failed capture left an attempt in flight")
	}
}

func TestController_Timeout(t *testing.T) {
	cfg := roundConfig()
	cfg.RequestTimeout = 3 * time.Second
	f := newFixture(t, cfg)
	_ = f.ctrl.Start()

	f.advance(60)
	f.advance(29)
	if f.ctrl.Stats().AttemptCount != 0 {
		t.Fatal("attempt counted before timeout")
	}
	f.advance(1)

	if got := f.ctrl.Stats().AttemptCount; got != 1 {
		t.Errorf("AttemptCount after timeout = %d, want 1", got)
	}
	completed := f.events.completed()
	if len(completed) != 1 || errors.Kind(completed[0].Err) != "timeout" {
		t.Fatalf("completions = %+v, want one timeout", completed)
	}

	f.advance(1)
	if f.disp.count() != 2 {
		t.Fatalf("dispatches after timeout = %d, want 2", f.disp.count())
	}

	// The abandoned call finally answers with the target: it must not win.
	f.disp.resolve(t, 0, predictions("cat", 0.99), nil)
	f.advance(1)
	if got := f.ctrl.CurrentState(); got != StatePredicting {
		t.Errorf("state = %v, want predicting", got)
	}
	if f.ctrl.StaleDrops() != 1 {
		t.Errorf("StaleDrops() = %d, want 1", f.ctrl.StaleDrops())
	}
}

func TestController_ResetFromEveryState(t *testing.T) {
	tests := []struct {
		name  string
		ticks int
		win   bool
		want  State
	}{
		{name: "idle", want: StateIdle},
		{name: "active", ticks: 10, want: StateActive},
		{name: "predicting", ticks: 50, want: StatePredicting},
		{name: "won", ticks: 60, win: true, want: StateWon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, roundConfig(), "cat", "dog")
			if tt.win {
				f.disp.respond = func(Request) (*classify.PredictionSet, error) {
					return predictions("cat", 0.9), nil
				}
			}
			if tt.want != StateIdle {
				_ = f.ctrl.Start()
			}
			f.advance(tt.ticks)
			if got := f.ctrl.CurrentState(); got != tt.want {
				t.Fatalf("setup state = %v, want %v", got, tt.want)
			}

			if err := f.ctrl.Reset(); err != nil {
				t.Fatalf("Reset() error = %v", err)
			}

			round := f.ctrl.Round()
			if round.Status != StateActive || round.Elapsed != 0 {
				t.Errorf("round after Reset = %+v, want fresh active round", round)
			}
			if f.ctrl.Stats() != (Stats{}) {
				t.Errorf("stats after Reset = %+v, want zero", f.ctrl.Stats())
			}
			if _, _, ok := f.ctrl.Displayed(); ok {
				t.Error("display not cleared by Reset")
			}
		})
	}
}

func TestController_StartTwice(t *testing.T) {
	f := newFixture(t, roundConfig())
	if err := f.ctrl.StartWith("cat"); err != nil {
		t.Fatalf("StartWith() error = %v", err)
	}
	if err := f.ctrl.Start(); !errors.Is(err, errors.ErrRoundInProgress) {
		t.Errorf("second Start() error = %v, want ErrRoundInProgress", err)
	}
}

func TestController_SignalInput(t *testing.T) {
	cfg := roundConfig()
	cfg.WaitForInput = true
	f := newFixture(t, cfg)
	_ = f.ctrl.Start()

	f.advance(100)
	if got := f.ctrl.CurrentState(); got != StateActive {
		t.Fatalf("state without input = %v, want active", got)
	}

	done := make(chan struct{})
	go func() {
		f.ctrl.SignalInput()
		close(done)
	}()
	<-done

	f.advance(1)
	if !f.ctrl.Round().InputStarted {
		t.Fatal("signal not applied on the next tick")
	}
	f.advance(40)
	if got := f.ctrl.CurrentState(); got != StatePredicting {
		t.Errorf("state 4s after input = %v, want predicting", got)
	}
	if n := f.events.count(event.TypeRoundInputStarted); n != 1 {
		t.Errorf("round.input_started events = %d, want 1", n)
	}

	if err := f.ctrl.NotifyInputStarted(); err != nil {
		t.Errorf("repeat NotifyInputStarted() error = %v", err)
	}
	if n := f.events.count(event.TypeRoundInputStarted); n != 1 {
		t.Errorf("round.input_started events after repeat = %d, want 1", n)
	}
}

func TestController_SignalBeforeRoundIsDropped(t *testing.T) {
	cfg := roundConfig()
	cfg.WaitForInput = true
	f := newFixture(t, cfg)

	f.ctrl.SignalInput()
	f.ctrl.Tick(step)
	_ = f.ctrl.Start()
	f.advance(100)

	if f.ctrl.Round().InputStarted {
		t.Error("input signalled before the round leaked into it")
	}
}

func TestController_View(t *testing.T) {
	f := newFixture(t, roundConfig())
	_ = f.ctrl.Start()
	f.advance(60)
	f.disp.resolve(t, 0, predictions("dog", 0.6, "bird", 0.4), nil)
	f.advance(1)

	v := f.ctrl.View()
	if v.SessionID != "test-session" || v.Round.Target != "cat" {
		t.Errorf("view identity = (%q, %q)", v.SessionID, v.Round.Target)
	}
	if !v.HasDisplay || v.Displayed.Label != "dog" || v.Index != 0 || v.Total != 2 {
		t.Errorf("view display = %+v", v)
	}
	if v.Stats.AttemptCount != 1 || v.InFlight {
		t.Errorf("view stats = %+v, inFlight = %v", v.Stats, v.InFlight)
	}
}

// Random tick sizes, random response timing and random resets must never
// produce two live classify calls at once, and the cycler index must stay
// in range.
func TestController_AtMostOneInFlight(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*31))
		cfg := roundConfig()
		cfg.InitialDelay = 300 * time.Millisecond
		cfg.Cadence = 200 * time.Millisecond
		cfg.CycleInterval = 70 * time.Millisecond
		if seed%2 == 0 {
			cfg.RequestTimeout = 900 * time.Millisecond
		}
		f := newFixture(t, cfg, "cat", "dog", "bird")
		_ = f.ctrl.Start()

		resolved := 0
		for i := 0; i < 2000; i++ {
			f.ctrl.Tick(time.Duration(rng.IntN(150)) * time.Millisecond)

			switch r := rng.IntN(100); {
			case r < 25 && resolved < f.disp.count():
				f.disp.resolve(t, resolved, predictions("fish", 0.5, "tree", 0.3, "cup", 0.2), nil)
				resolved++
			case r == 99:
				_ = f.ctrl.Reset()
			}

			if _, idx, ok := f.ctrl.Displayed(); ok {
				if n := f.ctrl.Prediction().Len(); idx < 0 || idx >= n {
					t.Fatalf("seed %d: displayed index %d out of [0, %d)", seed, idx, n)
				}
			}
		}

		if f.disp.overlaps != 0 {
			t.Errorf("seed %d: %d dispatches overlapped a live call", seed, f.disp.overlaps)
		}
		if f.disp.count() == 0 {
			t.Errorf("seed %d: nothing was dispatched", seed)
		}
		_ = f.ctrl.Close()
	}
}
