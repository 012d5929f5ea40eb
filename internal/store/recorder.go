package store

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/sketchround/internal/errors"
	"github.com/Iron-Ham/sketchround/internal/event"
	"github.com/Iron-Ham/sketchround/internal/logging"
)

// Recorder writes round history from bus events. Write failures are logged
// and never interrupt the session.
type Recorder struct {
	repo      *RoundRepository
	sessionID string
	logger    *logging.Logger
	timeout   time.Duration
	now       func() time.Time

	mu     sync.Mutex
	rounds map[uint64]int64 // generation -> row id
	subs   []string
	bus    *event.Bus
}

// NewRecorder creates a recorder for one session.
func NewRecorder(repo *RoundRepository, sessionID string, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Recorder{
		repo:      repo,
		sessionID: sessionID,
		logger:    logger.With("component", "store"),
		timeout:   5 * time.Second,
		now:       time.Now,
		rounds:    make(map[uint64]int64),
	}
}

// Attach subscribes the recorder to bus.
func (r *Recorder) Attach(bus *event.Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bus = bus
	r.subs = append(r.subs,
		bus.Subscribe(event.TypeRoundStarted, r.onRoundStarted),
		bus.Subscribe(event.TypeAttemptCompleted, r.onAttemptCompleted),
		bus.Subscribe(event.TypeRoundWon, r.onRoundWon),
		bus.Subscribe(event.TypeRoundReset, r.onRoundReset),
	)
}

// Close unsubscribes and marks rounds still open as abandoned.
func (r *Recorder) Close() error {
	r.mu.Lock()
	bus, subs := r.bus, r.subs
	r.subs = nil
	r.mu.Unlock()

	if bus != nil {
		for _, id := range subs {
			bus.Unsubscribe(id)
		}
	}

	ctx, cancel := r.context()
	defer cancel()
	n, err := r.repo.AbandonOpen(ctx, r.sessionID, r.now())
	if err != nil {
		return errors.Wrap(err, "failed to close round history")
	}
	if n > 0 {
		r.logger.Debug("rounds abandoned", "count", n)
	}
	return nil
}

func (r *Recorder) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *Recorder) roundID(generation uint64) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.rounds[generation]
	return id, ok
}

func (r *Recorder) onRoundStarted(e event.Event) {
	ev, ok := e.(event.RoundStartedEvent)
	if !ok {
		return
	}
	ctx, cancel := r.context()
	defer cancel()

	id, err := r.repo.InsertRound(ctx, &RoundRecord{
		SessionID:  r.sessionID,
		Generation: ev.Generation,
		Target:     ev.Target,
		StartedAt:  ev.Timestamp(),
	})
	if err != nil {
		r.logger.Warn("failed to record round start", "round", ev.Generation, "error", err.Error())
		return
	}

	r.mu.Lock()
	r.rounds[ev.Generation] = id
	r.mu.Unlock()
}

func (r *Recorder) onAttemptCompleted(e event.Event) {
	ev, ok := e.(event.AttemptCompletedEvent)
	if !ok {
		return
	}
	roundID, ok := r.roundID(ev.Generation)
	if !ok {
		return
	}

	rec := &AttemptRecord{
		RoundID:     roundID,
		RequestID:   ev.RequestID,
		Success:     ev.Success(),
		Kind:        errors.Kind(ev.Err),
		Latency:     ev.Latency,
		CompletedAt: ev.Timestamp(),
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	if top, ok := ev.Set.Top(); ok {
		rec.TopLabel = top.Label
		rec.TopConfidence = top.Confidence
		rec.Candidates = ev.Set.Len()
	}

	ctx, cancel := r.context()
	defer cancel()
	if _, err := r.repo.InsertAttempt(ctx, rec); err != nil {
		r.logger.Warn("failed to record attempt",
			"round", ev.Generation, "request_id", ev.RequestID, "error", err.Error())
	}
}

func (r *Recorder) onRoundWon(e event.Event) {
	ev, ok := e.(event.RoundWonEvent)
	if !ok {
		return
	}
	r.finish(ev.Generation, RoundFinish{
		Outcome:         OutcomeWon,
		Attempts:        ev.AttemptCount,
		FinalLabel:      ev.Winner.Label,
		FinalConfidence: ev.Winner.Confidence,
		WinningRank:     ev.Rank,
		Elapsed:         ev.ElapsedAtWin,
		EndedAt:         ev.Timestamp(),
	})
}

func (r *Recorder) onRoundReset(e event.Event) {
	ev, ok := e.(event.RoundResetEvent)
	if !ok {
		return
	}
	// A reset after a win only closes the session's view of the round; the
	// won row is already final.
	r.finish(ev.Generation, RoundFinish{
		Outcome:  OutcomeReset,
		Attempts: ev.AttemptCount,
		Elapsed:  ev.Elapsed,
		EndedAt:  ev.Timestamp(),
	})

	r.mu.Lock()
	delete(r.rounds, ev.Generation)
	r.mu.Unlock()
}

func (r *Recorder) finish(generation uint64, f RoundFinish) {
	id, ok := r.roundID(generation)
	if !ok {
		return
	}
	ctx, cancel := r.context()
	defer cancel()
	if err := r.repo.FinishRound(ctx, id, f); err != nil {
		r.logger.Warn("failed to record round end",
			"round", generation, "outcome", f.Outcome, "error", err.Error())
	}
}
