package tui

import (
	"fmt"
	"sync"

	"github.com/Iron-Ham/sketchround/internal/classify"
	"github.com/Iron-Ham/sketchround/internal/errors"
	"github.com/Iron-Ham/sketchround/internal/event"
)

const defaultFeedSize = 6

// Feed keeps the last few round events as display lines. Bus handlers run
// inside Controller.Tick, which the model calls from Update, so the model
// reads the feed on render instead of receiving program messages.
type Feed struct {
	mu    sync.Mutex
	lines []string
	size  int
	ids   []string
	bus   *event.Bus
}

// NewFeed creates a feed holding up to size lines.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = defaultFeedSize
	}
	return &Feed{size: size}
}

// Attach subscribes to the round and attempt events on bus.
func (f *Feed) Attach(bus *event.Bus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bus = bus
	for _, typ := range []string{
		event.TypeRoundStarted,
		event.TypeRoundWon,
		event.TypeRoundReset,
		event.TypeAttemptCompleted,
	} {
		f.ids = append(f.ids, bus.Subscribe(typ, f.onEvent))
	}
}

// Detach removes the feed's subscriptions.
func (f *Feed) Detach() {
	f.mu.Lock()
	bus, ids := f.bus, f.ids
	f.bus, f.ids = nil, nil
	f.mu.Unlock()
	if bus == nil {
		return
	}
	for _, id := range ids {
		bus.Unsubscribe(id)
	}
}

// Lines returns the buffered lines, oldest first.
func (f *Feed) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *Feed) onEvent(e event.Event) {
	line := Describe(e)
	if line == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
	if len(f.lines) > f.size {
		f.lines = f.lines[len(f.lines)-f.size:]
	}
}

// Describe renders a round or attempt event as one log line, or "" for
// events that are not logged.
func Describe(e event.Event) string {
	stamp := e.Timestamp().Format("15:04:05")
	switch ev := e.(type) {
	case event.RoundStartedEvent:
		return fmt.Sprintf("%s round %d: draw %q", stamp, ev.Generation, ev.Target)
	case event.RoundWonEvent:
		return fmt.Sprintf("%s round %d won: %s (rank %d, %d attempts, %.1fs)",
			stamp, ev.Generation, ev.Winner.Label, ev.Rank, ev.AttemptCount, ev.ElapsedAtWin.Seconds())
	case event.RoundResetEvent:
		return fmt.Sprintf("%s round %d reset from %s", stamp, ev.Generation, ev.State)
	case event.AttemptCompletedEvent:
		if !ev.Success() {
			return fmt.Sprintf("%s attempt %d failed (%s)", stamp, ev.RequestID, errors.Kind(ev.Err))
		}
		top, _ := ev.Set.Top()
		return fmt.Sprintf("%s attempt %d: %s %s (%dms)",
			stamp, ev.RequestID, top.Label, classify.FormatPercent(top.Confidence), ev.Latency.Milliseconds())
	}
	return ""
}
