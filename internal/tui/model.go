// Package tui renders a recognition session in the terminal and drives its
// clock from the Bubbletea event loop.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/sketchround/internal/errors"
	"github.com/Iron-Ham/sketchround/internal/session"
)

// Session is the part of the controller the TUI drives.
type Session interface {
	Tick(dt time.Duration)
	Reset() error
	NotifyInputStarted() error
	View() session.View
}

const (
	defaultInterval = 50 * time.Millisecond
	maxStepFactor   = 10
)

// Model holds the TUI application state.
type Model struct {
	session  Session
	feed     *Feed
	keys     keyMap
	help     help.Model
	spinner  spinner.Model
	interval time.Duration

	lastTick     time.Time
	view         session.View
	width        int
	height       int
	errorMessage string
	quitting     bool
}

type tickMsg time.Time

// NewModel creates a model that ticks s every interval. feed may be nil.
func NewModel(s Session, feed *Feed, interval time.Duration) Model {
	if interval <= 0 {
		interval = defaultInterval
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warningStyle

	return Model{
		session:  s,
		feed:     feed,
		keys:     defaultKeyMap(),
		help:     help.New(),
		spinner:  sp,
		interval: interval,
		view:     s.View(),
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the clock and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.spinner.Tick)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeypress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		now := time.Time(msg)
		m.session.Tick(m.step(now))
		m.lastTick = now
		m.view = m.session.View()
		return m, m.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// step returns the time since the previous tick, capped so a stalled
// terminal does not fast-forward the round.
func (m Model) step(now time.Time) time.Duration {
	if m.lastTick.IsZero() {
		return 0
	}
	dt := now.Sub(m.lastTick)
	if dt < 0 {
		return 0
	}
	if limit := m.interval * maxStepFactor; dt > limit {
		return limit
	}
	return dt
}

func (m Model) handleKeypress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Reset):
		m.errorMessage = ""
		if err := m.session.Reset(); err != nil {
			m.errorMessage = errors.UserMessage(err, "reset failed, see the log")
		}
		m.view = m.session.View()
		return m, nil

	case key.Matches(msg, m.keys.Input):
		m.errorMessage = ""
		if err := m.session.NotifyInputStarted(); err != nil {
			m.errorMessage = errors.UserMessage(err, "could not mark input, see the log")
		}
		m.view = m.session.View()
		return m, nil
	}
	return m, nil
}
