package event

import (
	"time"

	"github.com/Iron-Ham/sketchround/internal/classify"
)

// Event type names. Convention: "category.action".
const (
	TypeRoundStarted       = "round.started"
	TypeRoundStateChanged  = "round.state_changed"
	TypeRoundInputStarted  = "round.input_started"
	TypeRoundWon           = "round.won"
	TypeRoundReset         = "round.reset"
	TypeAttemptDispatched  = "attempt.dispatched"
	TypeAttemptCompleted   = "attempt.completed"
	TypeCandidateDisplayed = "candidate.displayed"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Round Lifecycle Events
// -----------------------------------------------------------------------------

// RoundStartedEvent is emitted when a target is chosen and the round enters Active.
type RoundStartedEvent struct {
	baseEvent
	SessionID  string
	Generation uint64
	Target     string
}

// NewRoundStartedEvent creates a RoundStartedEvent.
func NewRoundStartedEvent(sessionID string, generation uint64, target string) RoundStartedEvent {
	return RoundStartedEvent{
		baseEvent:  newBaseEvent(TypeRoundStarted),
		SessionID:  sessionID,
		Generation: generation,
		Target:     target,
	}
}

// RoundStateChangedEvent is emitted on every round state transition.
type RoundStateChangedEvent struct {
	baseEvent
	Generation uint64
	From       string
	To         string
	Elapsed    time.Duration // round time at the transition
}

// NewRoundStateChangedEvent creates a RoundStateChangedEvent.
func NewRoundStateChangedEvent(generation uint64, from, to string, elapsed time.Duration) RoundStateChangedEvent {
	return RoundStateChangedEvent{
		baseEvent:  newBaseEvent(TypeRoundStateChanged),
		Generation: generation,
		From:       from,
		To:         to,
		Elapsed:    elapsed,
	}
}

// RoundInputStartedEvent is emitted the first time the user starts drawing in a round.
type RoundInputStartedEvent struct {
	baseEvent
	Generation uint64
	Elapsed    time.Duration
}

// NewRoundInputStartedEvent creates a RoundInputStartedEvent.
func NewRoundInputStartedEvent(generation uint64, elapsed time.Duration) RoundInputStartedEvent {
	return RoundInputStartedEvent{
		baseEvent:  newBaseEvent(TypeRoundInputStarted),
		Generation: generation,
		Elapsed:    elapsed,
	}
}

// RoundWonEvent is emitted when a candidate matched the target.
type RoundWonEvent struct {
	baseEvent
	SessionID    string
	Generation   uint64
	Target       string
	Winner       classify.Candidate
	Rank         int // 1-based rank of the winner in its prediction set
	AttemptCount int
	ElapsedAtWin time.Duration
}

// NewRoundWonEvent creates a RoundWonEvent.
func NewRoundWonEvent(sessionID string, generation uint64, target string, winner classify.Candidate, rank, attempts int, elapsed time.Duration) RoundWonEvent {
	return RoundWonEvent{
		baseEvent:    newBaseEvent(TypeRoundWon),
		SessionID:    sessionID,
		Generation:   generation,
		Target:       target,
		Winner:       winner,
		Rank:         rank,
		AttemptCount: attempts,
		ElapsedAtWin: elapsed,
	}
}

// RoundResetEvent is emitted when a round is abandoned through Reset.
type RoundResetEvent struct {
	baseEvent
	SessionID    string
	Generation   uint64 // generation of the round that ended
	Target       string
	State        string // state the round was in when reset
	AttemptCount int
	Elapsed      time.Duration
}

// NewRoundResetEvent creates a RoundResetEvent.
func NewRoundResetEvent(sessionID string, generation uint64, target, state string, attempts int, elapsed time.Duration) RoundResetEvent {
	return RoundResetEvent{
		baseEvent:    newBaseEvent(TypeRoundReset),
		SessionID:    sessionID,
		Generation:   generation,
		Target:       target,
		State:        state,
		AttemptCount: attempts,
		Elapsed:      elapsed,
	}
}

// -----------------------------------------------------------------------------
// Attempt Events
// -----------------------------------------------------------------------------

// AttemptDispatchedEvent is emitted when a classify attempt leaves the scheduler.
type AttemptDispatchedEvent struct {
	baseEvent
	Generation uint64
	RequestID  uint64
}

// NewAttemptDispatchedEvent creates an AttemptDispatchedEvent.
func NewAttemptDispatchedEvent(generation, requestID uint64) AttemptDispatchedEvent {
	return AttemptDispatchedEvent{
		baseEvent:  newBaseEvent(TypeAttemptDispatched),
		Generation: generation,
		RequestID:  requestID,
	}
}

// AttemptCompletedEvent is emitted for every non-stale completed attempt,
// successful or not. Exactly one of Set and Err is non-nil.
type AttemptCompletedEvent struct {
	baseEvent
	SessionID  string
	Generation uint64
	RequestID  uint64
	Set        *classify.PredictionSet
	Err        error
	Latency    time.Duration
}

// NewAttemptCompletedEvent creates an AttemptCompletedEvent.
func NewAttemptCompletedEvent(sessionID string, generation, requestID uint64, set *classify.PredictionSet, err error, latency time.Duration) AttemptCompletedEvent {
	return AttemptCompletedEvent{
		baseEvent:  newBaseEvent(TypeAttemptCompleted),
		SessionID:  sessionID,
		Generation: generation,
		RequestID:  requestID,
		Set:        set,
		Err:        err,
		Latency:    latency,
	}
}

// Success reports whether the attempt produced a prediction set.
func (e AttemptCompletedEvent) Success() bool {
	return e.Err == nil && e.Set != nil
}

// -----------------------------------------------------------------------------
// Display Events
// -----------------------------------------------------------------------------

// CandidateDisplayedEvent is emitted whenever the currently presented candidate changes.
type CandidateDisplayedEvent struct {
	baseEvent
	Generation uint64
	RequestID  uint64
	Index      int
	Total      int
	Candidate  classify.Candidate
}

// NewCandidateDisplayedEvent creates a CandidateDisplayedEvent.
func NewCandidateDisplayedEvent(generation, requestID uint64, index, total int, c classify.Candidate) CandidateDisplayedEvent {
	return CandidateDisplayedEvent{
		baseEvent:  newBaseEvent(TypeCandidateDisplayed),
		Generation: generation,
		RequestID:  requestID,
		Index:      index,
		Total:      total,
		Candidate:  c,
	}
}
