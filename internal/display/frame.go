// Package display serves the live round to browsers: a gin HTTP server with a
// websocket feed of round frames, a JSON snapshot endpoint, and reset/input
// controls.
package display

import (
	"time"

	"github.com/Iron-Ham/sketchround/internal/classify"
	"github.com/Iron-Ham/sketchround/internal/errors"
	"github.com/Iron-Ham/sketchround/internal/event"
)

// CandidateFrame is a candidate as sent to browsers.
type CandidateFrame struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Percent    string  `json:"confidence_percent"`
}

func candidateFrame(c classify.Candidate) *CandidateFrame {
	pct := c.ConfidencePercent
	if pct == "" {
		pct = classify.FormatPercent(c.Confidence)
	}
	return &CandidateFrame{Label: c.Label, Confidence: c.Confidence, Percent: pct}
}

// Frame is one websocket message. Type mirrors the bus event type.
type Frame struct {
	Type       string          `json:"type"`
	Time       time.Time       `json:"time"`
	Generation uint64          `json:"generation"`
	Target     string          `json:"target,omitempty"`
	From       string          `json:"from,omitempty"`
	State      string          `json:"state,omitempty"`
	RequestID  uint64          `json:"request_id,omitempty"`
	Candidate  *CandidateFrame `json:"candidate,omitempty"`
	Index      int             `json:"index,omitempty"`
	Total      int             `json:"total,omitempty"`
	Rank       int             `json:"rank,omitempty"`
	Attempts   int             `json:"attempts,omitempty"`
	ElapsedMs  int64           `json:"elapsed_ms,omitempty"`
	LatencyMs  int64           `json:"latency_ms,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// FrameFromEvent converts a bus event into a frame.
func FrameFromEvent(e event.Event) (Frame, bool) {
	f := Frame{Type: e.EventType(), Time: e.Timestamp()}

	switch ev := e.(type) {
	case event.RoundStartedEvent:
		f.Generation = ev.Generation
		f.Target = ev.Target
		f.State = "active"
	case event.RoundStateChangedEvent:
		f.Generation = ev.Generation
		f.From = ev.From
		f.State = ev.To
		f.ElapsedMs = ev.Elapsed.Milliseconds()
	case event.RoundInputStartedEvent:
		f.Generation = ev.Generation
		f.ElapsedMs = ev.Elapsed.Milliseconds()
	case event.RoundWonEvent:
		f.Generation = ev.Generation
		f.Target = ev.Target
		f.State = "won"
		f.Candidate = candidateFrame(ev.Winner)
		f.Rank = ev.Rank
		f.Attempts = ev.AttemptCount
		f.ElapsedMs = ev.ElapsedAtWin.Milliseconds()
	case event.RoundResetEvent:
		f.Generation = ev.Generation
		f.Target = ev.Target
		f.From = ev.State
		f.Attempts = ev.AttemptCount
		f.ElapsedMs = ev.Elapsed.Milliseconds()
	case event.AttemptDispatchedEvent:
		f.Generation = ev.Generation
		f.RequestID = ev.RequestID
	case event.AttemptCompletedEvent:
		f.Generation = ev.Generation
		f.RequestID = ev.RequestID
		f.LatencyMs = ev.Latency.Milliseconds()
		if ev.Err != nil {
			f.ErrorKind = errors.Kind(ev.Err)
			f.Error = ev.Err.Error()
		} else if top, ok := ev.Set.Top(); ok {
			f.Candidate = candidateFrame(top)
			f.Total = ev.Set.Len()
		}
	case event.CandidateDisplayedEvent:
		f.Generation = ev.Generation
		f.RequestID = ev.RequestID
		f.Candidate = candidateFrame(ev.Candidate)
		f.Index = ev.Index
		f.Total = ev.Total
	default:
		return Frame{}, false
	}
	return f, true
}

// Snapshot is the accumulated round view served by /api/state and sent to
// newly connected browsers.
type Snapshot struct {
	Generation uint64          `json:"generation"`
	Target     string          `json:"target"`
	State      string          `json:"state"`
	Displayed  *CandidateFrame `json:"displayed,omitempty"`
	Index      int             `json:"index"`
	Total      int             `json:"total"`
	Attempts   int             `json:"attempts"`
	InFlight   bool            `json:"in_flight"`
	Winner     *CandidateFrame `json:"winner,omitempty"`
	Rank       int             `json:"rank,omitempty"`
	ElapsedMs  int64           `json:"elapsed_ms,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
}

// Apply folds a frame into the snapshot. Frames from an older round than
// the snapshot's are ignored.
func (s *Snapshot) Apply(f Frame) {
	if f.Type != event.TypeRoundStarted && f.Generation < s.Generation {
		return
	}

	switch f.Type {
	case event.TypeRoundStarted:
		*s = Snapshot{Generation: f.Generation, Target: f.Target, State: f.State}
	case event.TypeRoundStateChanged:
		s.State = f.State
	case event.TypeAttemptDispatched:
		s.InFlight = true
	case event.TypeAttemptCompleted:
		s.InFlight = false
		s.Attempts++
		s.LastError = f.Error
	case event.TypeCandidateDisplayed:
		s.Displayed = f.Candidate
		s.Index = f.Index
		s.Total = f.Total
	case event.TypeRoundWon:
		s.State = "won"
		s.Winner = f.Candidate
		s.Rank = f.Rank
		s.Attempts = f.Attempts
		s.ElapsedMs = f.ElapsedMs
	case event.TypeRoundReset:
		s.InFlight = false
	}
}
