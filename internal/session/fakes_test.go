package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/sketchround/internal/classify"
	"github.com/Iron-Ham/sketchround/internal/errors"
	"github.com/Iron-Ham/sketchround/internal/event"
)

// staticSource hands back the same snapshot every time, or err.
type staticSource struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *staticSource) Snapshot(ctx context.Context) (classify.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return classify.Snapshot{}, s.err
	}
	return classify.Snapshot{Data: []byte{0x89, 'P', 'N', 'G'}, CapturedAt: time.Now()}, nil
}

// sequenceTargets returns labels in order, repeating the last one.
type sequenceTargets struct {
	labels []string
	next   int
}

func (s *sequenceTargets) Next() string {
	label := s.labels[min(s.next, len(s.labels)-1)]
	s.next++
	return label
}

type manualCall struct {
	ctx      context.Context
	req      Request
	done     func(Completion)
	resolved bool
}

// manualDispatcher records each dispatch and resolves it only when told to,
// unless respond is set, in which case it answers synchronously.
type manualDispatcher struct {
	mu      sync.Mutex
	calls   []*manualCall
	respond func(Request) (*classify.PredictionSet, error)

	// overlaps counts dispatches made while an earlier call's context was
	// still live.
	overlaps int
}

func (d *manualDispatcher) Dispatch(ctx context.Context, req Request, done func(Completion)) {
	d.mu.Lock()
	for _, c := range d.calls {
		if !c.resolved && c.ctx.Err() == nil {
			d.overlaps++
		}
	}
	call := &manualCall{ctx: ctx, req: req, done: done}
	d.calls = append(d.calls, call)
	respond := d.respond
	d.mu.Unlock()

	if respond != nil {
		set, err := respond(req)
		d.finish(call, set, err)
	}
}

// resolve completes the i-th dispatched call.
func (d *manualDispatcher) resolve(t *testing.T, i int, set *classify.PredictionSet, err error) {
	t.Helper()
	d.mu.Lock()
	if i >= len(d.calls) {
		d.mu.Unlock()
		t.Fatalf("resolve(%d): only %d calls dispatched", i, len(d.calls))
	}
	call := d.calls[i]
	d.mu.Unlock()
	d.finish(call, set, err)
}

func (d *manualDispatcher) finish(call *manualCall, set *classify.PredictionSet, err error) {
	d.mu.Lock()
	call.resolved = true
	d.mu.Unlock()
	call.done(complete(call.req, set, err, 0))
}

func (d *manualDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *manualDispatcher) call(i int) *manualCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[i]
}

// recorder captures every event published on a bus.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func newRecorder(bus *event.Bus) *recorder {
	r := &recorder{}
	bus.SubscribeAll(func(e event.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
	return r
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

func (r *recorder) count(eventType string) int {
	n := 0
	for _, t := range r.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

func (r *recorder) displayed() []event.CandidateDisplayedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.CandidateDisplayedEvent
	for _, e := range r.events {
		if d, ok := e.(event.CandidateDisplayedEvent); ok {
			out = append(out, d)
		}
	}
	return out
}

func (r *recorder) completed() []event.AttemptCompletedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.AttemptCompletedEvent
	for _, e := range r.events {
		if c, ok := e.(event.AttemptCompletedEvent); ok {
			out = append(out, c)
		}
	}
	return out
}

var errNetwork = errors.NewTransportError("http://classifier.test/predict/base64", errors.New("connection refused"))
