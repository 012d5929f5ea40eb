package session

import (
	"strings"
	"time"

	"github.com/Iron-Ham/sketchround/internal/errors"
)

// State is the lifecycle state of a round.
type State int

const (
	// StateIdle means no target has been chosen.
	StateIdle State = iota
	// StateActive means a target is chosen and the user is drawing; no
	// classification has been attempted yet.
	StateActive
	// StatePredicting means classification attempts run on the cadence.
	StatePredicting
	// StateWon is terminal: a candidate matched the target.
	StateWon
)

// String returns the state name used in logs and events.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StatePredicting:
		return "predicting"
	case StateWon:
		return "won"
	default:
		return "unknown"
	}
}

// Round is a snapshot of the live round.
type Round struct {
	Target       string
	Status       State
	Elapsed      time.Duration // time since Start, frozen at Won
	Generation   uint64        // strictly increases with every Start
	InputStarted bool
	InputAt      time.Duration // Elapsed when input started
}

// Transition describes one state change.
type Transition struct {
	From       State
	To         State
	Generation uint64
	Elapsed    time.Duration
}

// MachineConfig holds the timing of the Active phase.
type MachineConfig struct {
	InitialDelay time.Duration
	// WaitForInput only counts Active time after NotifyInputStarted.
	WaitForInput bool
}

// Machine owns the round lifecycle: Idle → Active → Predicting → Won, with
// Reset returning to Idle from any state. It is not safe for concurrent use;
// the controller drives it from a single goroutine.
type Machine struct {
	cfg          MachineConfig
	round        Round
	generation   uint64
	activeTime   time.Duration
	onTransition func(Transition)
}

// NewMachine creates a machine in Idle.
func NewMachine(cfg MachineConfig) *Machine {
	return &Machine{cfg: cfg}
}

// OnTransition registers a callback invoked after every state change.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.onTransition = fn
}

// Start begins a round for target. Only valid from Idle.
func (m *Machine) Start(target string) error {
	if m.round.Status != StateIdle {
		return errors.NewSessionError("cannot start round", errors.ErrRoundInProgress).
			WithState(m.round.Status.String())
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return errors.NewValidationError("target label cannot be empty").WithField("target")
	}

	m.generation++
	m.activeTime = 0
	m.round = Round{
		Target:     target,
		Status:     StateIdle,
		Generation: m.generation,
	}
	m.transition(StateActive)
	return nil
}

// NotifyInputStarted records the first moment the user draws in this round.
// Later calls are no-ops.
func (m *Machine) NotifyInputStarted() error {
	if m.round.Status == StateIdle {
		return errors.NewSessionError("input started without a round", errors.ErrNoRound).
			WithState(StateIdle.String())
	}
	if !m.round.InputStarted {
		m.round.InputStarted = true
		m.round.InputAt = m.round.Elapsed
	}
	return nil
}

// Tick advances round time by dt. Negative dt is treated as zero.
// Active moves to Predicting once the Active time reaches InitialDelay.
func (m *Machine) Tick(dt time.Duration) {
	if dt < 0 {
		dt = 0
	}

	switch m.round.Status {
	case StateActive:
		m.round.Elapsed += dt
		if !m.cfg.WaitForInput || m.round.InputStarted {
			m.activeTime += dt
		}
		if m.activeTime >= m.cfg.InitialDelay && (!m.cfg.WaitForInput || m.round.InputStarted) {
			m.transition(StatePredicting)
		}
	case StatePredicting:
		m.round.Elapsed += dt
	}
}

// Win moves Predicting to Won. It is the only way into Won.
func (m *Machine) Win() error {
	if m.round.Status != StatePredicting {
		return errors.NewSessionError("cannot win round", errors.ErrInvalidTransition).
			WithState(m.round.Status.String())
	}
	m.transition(StateWon)
	return nil
}

// Reset abandons the round and returns to Idle. Valid from any state.
func (m *Machine) Reset() {
	if m.round.Status == StateIdle {
		return
	}
	m.transition(StateIdle)
	m.round = Round{Status: StateIdle, Generation: m.generation}
	m.activeTime = 0
}

// CurrentState returns the current state.
func (m *Machine) CurrentState() State {
	return m.round.Status
}

// Round returns a copy of the live round.
func (m *Machine) Round() Round {
	return m.round
}

// Generation returns the generation of the most recently started round.
func (m *Machine) Generation() uint64 {
	return m.generation
}

func (m *Machine) transition(to State) {
	t := Transition{
		From:       m.round.Status,
		To:         to,
		Generation: m.round.Generation,
		Elapsed:    m.round.Elapsed,
	}
	m.round.Status = to
	if m.onTransition != nil {
		m.onTransition(t)
	}
}
