package tui

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/sketchround/internal/event"
)

// App wraps the Bubbletea program.
type App struct {
	program *tea.Program
	model   Model
	feed    *Feed
	bus     *event.Bus
}

// New creates a TUI for s. Events from bus feed the activity log.
func New(s Session, bus *event.Bus, interval time.Duration) *App {
	feed := NewFeed(defaultFeedSize)
	return &App{
		model: NewModel(s, feed, interval),
		feed:  feed,
		bus:   bus,
	}
}

// Run starts the TUI and blocks until the user quits or ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.bus != nil {
		a.feed.Attach(a.bus)
		defer a.feed.Detach()
	}

	a.program = tea.NewProgram(
		a.model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigChan:
			a.program.Send(tea.Quit())
		case <-done:
		}
	}()

	_, err := a.program.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
