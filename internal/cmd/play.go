package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/sketchround/internal/capture"
	"github.com/Iron-Ham/sketchround/internal/config"
	"github.com/Iron-Ham/sketchround/internal/display"
	"github.com/Iron-Ham/sketchround/internal/event"
	"github.com/Iron-Ham/sketchround/internal/heartbeat"
	"github.com/Iron-Ham/sketchround/internal/logging"
	"github.com/Iron-Ham/sketchround/internal/session"
	"github.com/Iron-Ham/sketchround/internal/store"
	"github.com/Iron-Ham/sketchround/internal/targets"
	"github.com/Iron-Ham/sketchround/internal/tui"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play drawing rounds against the classifier",
	Long: `Start a recognition session. Each round picks a target label; once you
start drawing, snapshots of the drawing are sent to the classification
service on a fixed cadence and its ranked guesses are shown one after
another until one of them matches the target.

With a terminal attached the interactive UI is used; otherwise, or with
--headless, rounds are driven by a wall-clock heartbeat and progress is
printed line by line.`,
	RunE: runPlay,
}

var (
	playHeadless  bool
	playTarget    string
	playImage     string
	playSource    string
	playWeb       bool
	playRounds    int
	playNextDelay time.Duration
)

func init() {
	playCmd.Flags().BoolVar(&playHeadless, "headless", false, "Run without the terminal UI")
	playCmd.Flags().StringVarP(&playTarget, "target", "t", "", "Target label for the first round (default: random)")
	playCmd.Flags().StringVarP(&playImage, "image", "i", "", "Drawing file to capture (overrides capture.path)")
	playCmd.Flags().StringVar(&playSource, "source", "", "Capture source: file, watch or camera (overrides capture.source)")
	playCmd.Flags().BoolVar(&playWeb, "web", false, "Serve the browser display (overrides display.websocket)")
	playCmd.Flags().IntVar(&playRounds, "rounds", 0, "Headless only: stop after this many won rounds (0 = until interrupted)")
	playCmd.Flags().DurationVar(&playNextDelay, "next-delay", 3*time.Second, "Headless only: pause after a win before the next round")
	rootCmd.AddCommand(playCmd)
}

// applyPlayFlags layers command-line overrides on the loaded configuration.
func applyPlayFlags(cfg *config.Config) error {
	if playImage != "" {
		cfg.Capture.Path = playImage
	}
	if playSource != "" {
		cfg.Capture.Source = playSource
	}
	if playWeb {
		cfg.Display.WebSocket = true
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return config.ValidationErrors(errs)
	}
	return nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := applyPlayFlags(cfg); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer func() { _ = logger.Close() }()

	sessionID := uuid.NewString()
	logger = logger.WithSession(sessionID)

	lock, err := session.AcquireLock(filepath.Join(config.ConfigDir(), "locks"), cfg.Capture.Resource(), sessionID, logger)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := capture.New(cfg.Capture)
	if err != nil {
		return fmt.Errorf("failed to open capture source: %w", err)
	}
	defer func() { _ = source.Close() }()

	client, err := newClassifier(cfg)
	if err != nil {
		return err
	}
	picker, err := targets.FromConfig(ctx, cfg.Targets, client)
	if err != nil {
		return fmt.Errorf("failed to build target pool: %w", err)
	}

	bus := event.NewBus()
	ctrl, err := session.New(session.NewConfig(sessionID, cfg), session.Deps{
		Source:     source,
		Dispatcher: session.NewAsyncDispatcher(client),
		Targets:    picker,
		Bus:        bus,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = ctrl.Close() }()

	if cfg.Store.Enabled {
		closeStore, err := recordHistory(cfg, sessionID, bus, logger)
		if err != nil {
			return err
		}
		defer closeStore()
	}

	if n, ok := source.(capture.InputNotifier); ok {
		n.OnInputStarted(ctrl.SignalInput)
		bus.Subscribe(event.TypeRoundStarted, func(event.Event) { n.Rearm() })
	}

	if cfg.Display.WebSocket {
		srv := display.NewServer(cfg.Display.ListenAddr, ctrl, logger)
		srv.Attach(bus)
		defer srv.Detach()
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("display server stopped", "error", err.Error())
			}
		}()
	}

	if playTarget != "" {
		err = ctrl.StartWith(playTarget)
	} else {
		err = ctrl.Start()
	}
	if err != nil {
		return err
	}

	logger.Info("session started",
		"resource", cfg.Capture.Resource(),
		"endpoint", client.Endpoint(),
		"targets", len(picker.Labels()),
	)

	if cfg.Display.TUI && !playHeadless && term.IsTerminal(int(os.Stdout.Fd())) {
		return tui.New(ctrl, bus, cfg.Session.Tick()).Run(ctx)
	}
	return runHeadless(ctx, cmd.OutOrStdout(), ctrl, bus, cfg.Session.Tick())
}

// recordHistory attaches a store recorder to bus and returns its cleanup.
func recordHistory(cfg *config.Config, sessionID string, bus *event.Bus, logger *logging.Logger) (func(), error) {
	db, err := store.Open(cfg.Store.ResolveStorePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	rec := store.NewRecorder(store.NewRoundRepository(db), sessionID, logger)
	rec.Attach(bus)
	return func() {
		_ = rec.Close()
		_ = db.Close()
	}, nil
}

// headlessSession is what the headless loop drives.
type headlessSession interface {
	heartbeat.Ticker
	Reset() error
}

// runHeadless ticks s from the wall clock and prints round progress to out
// until ctx is done or playRounds wins have been recorded. After each win it
// waits playNextDelay and starts the next round.
func runHeadless(ctx context.Context, out io.Writer, s headlessSession, bus *event.Bus, interval time.Duration) error {
	printer := bus.SubscribeAll(func(e event.Event) {
		if line := tui.Describe(e); line != "" {
			fmt.Fprintln(out, line)
		}
	})
	defer bus.Unsubscribe(printer)

	// Handlers run inside Tick, so the win is handed to this goroutine
	// rather than acted on in place.
	won := make(chan struct{}, 1)
	winSub := bus.Subscribe(event.TypeRoundWon, func(event.Event) {
		select {
		case won <- struct{}{}:
		default:
		}
	})
	defer bus.Unsubscribe(winSub)

	hb := heartbeat.New(s, interval)
	hb.Start(ctx)
	defer hb.Stop()

	wins := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-won:
			wins++
			if playRounds > 0 && wins >= playRounds {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(playNextDelay):
			}
			if err := s.Reset(); err != nil {
				return err
			}
		}
	}
}
