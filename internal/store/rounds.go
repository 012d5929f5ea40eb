package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Round outcomes.
const (
	OutcomeActive    = "active"
	OutcomeWon       = "won"
	OutcomeReset     = "reset"
	OutcomeAbandoned = "abandoned" // the process exited mid-round
)

// RoundRecord is one persisted round.
type RoundRecord struct {
	ID              int64         `json:"id"`
	SessionID       string        `json:"session_id"`
	Generation      uint64        `json:"generation"`
	Target          string        `json:"target"`
	Outcome         string        `json:"outcome"`
	Attempts        int           `json:"attempts"`
	FinalLabel      string        `json:"final_label"`
	FinalConfidence float64       `json:"final_confidence"`
	WinningRank     int           `json:"winning_rank"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at"`
}

// AttemptRecord is one persisted classify attempt.
type AttemptRecord struct {
	ID            int64         `json:"id"`
	RoundID       int64         `json:"round_id"`
	RequestID     uint64        `json:"request_id"`
	Success       bool          `json:"success"`
	Kind          string        `json:"kind"`
	Error         string        `json:"error"`
	TopLabel      string        `json:"top_label"`
	TopConfidence float64       `json:"top_confidence"`
	Candidates    int           `json:"candidates"`
	Latency       time.Duration `json:"latency_ns"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// RoundFinish holds the values written when a round ends.
type RoundFinish struct {
	Outcome         string
	Attempts        int
	FinalLabel      string
	FinalConfidence float64
	WinningRank     int
	Elapsed         time.Duration
	EndedAt         time.Time
}

// Summary aggregates the history.
type Summary struct {
	Rounds          int           `json:"rounds"`
	Wins            int           `json:"wins"`
	Resets          int           `json:"resets"`
	AvgAttemptsWin  float64       `json:"avg_attempts_win"`
	AvgElapsedWin   time.Duration `json:"avg_elapsed_win_ns"`
	TopRankWinShare float64       `json:"top_rank_win_share"` // share of wins where the target was ranked first
}

// RoundRepository reads and writes rounds and attempts.
type RoundRepository struct {
	db *DB
}

// NewRoundRepository creates a repository over db.
func NewRoundRepository(db *DB) *RoundRepository {
	return &RoundRepository{db: db}
}

// InsertRound records a newly started round and returns its row ID.
func (r *RoundRepository) InsertRound(ctx context.Context, rec *RoundRecord) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	outcome := rec.Outcome
	if outcome == "" {
		outcome = OutcomeActive
	}
	result, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO rounds (session_id, generation, target, outcome, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.SessionID, rec.Generation, rec.Target, outcome, rec.StartedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert round: %w", err)
	}
	return result.LastInsertId()
}

// FinishRound writes the outcome of a round. Rounds that already ended are
// left untouched.
func (r *RoundRepository) FinishRound(ctx context.Context, id int64, f RoundFinish) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().ExecContext(ctx, `
		UPDATE rounds
		SET outcome = ?, attempts = ?, final_label = ?, final_confidence = ?,
			winning_rank = ?, elapsed_ms = ?, ended_at = ?
		WHERE id = ? AND ended_at IS NULL
	`, f.Outcome, f.Attempts, f.FinalLabel, f.FinalConfidence,
		f.WinningRank, f.Elapsed.Milliseconds(), f.EndedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish round: %w", err)
	}
	return nil
}

// AbandonOpen marks every unfinished round of a session as abandoned.
func (r *RoundRepository) AbandonOpen(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `
		UPDATE rounds
		SET outcome = ?, ended_at = ?,
			attempts = (SELECT COUNT(*) FROM attempts WHERE attempts.round_id = rounds.id)
		WHERE session_id = ? AND ended_at IS NULL
	`, OutcomeAbandoned, at.UTC(), sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon rounds: %w", err)
	}
	return result.RowsAffected()
}

// InsertAttempt records one completed attempt.
func (r *RoundRepository) InsertAttempt(ctx context.Context, a *AttemptRecord) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO attempts (round_id, request_id, success, kind, error, top_label,
			top_confidence, candidates, latency_ms, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.RoundID, a.RequestID, a.Success, a.Kind, a.Error, a.TopLabel,
		a.TopConfidence, a.Candidates, a.Latency.Milliseconds(), a.CompletedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert attempt: %w", err)
	}
	return result.LastInsertId()
}

// GetRound returns a round by ID, or nil if it does not exist.
func (r *RoundRepository) GetRound(ctx context.Context, id int64) (*RoundRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRowContext(ctx, roundSelect+` WHERE id = ?`, id)
	rec, err := scanRound(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return rec, nil
}

// ListRounds returns the most recent rounds, newest first. A non-empty
// sessionID restricts the list to that session.
func (r *RoundRepository) ListRounds(ctx context.Context, sessionID string, limit int) ([]RoundRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	query := roundSelect
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundRecord
	for rows.Next() {
		rec, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ListAttempts returns the attempts of a round in request order.
func (r *RoundRepository) ListAttempts(ctx context.Context, roundID int64) ([]AttemptRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, round_id, request_id, success, kind, error, top_label,
			top_confidence, candidates, latency_ms, completed_at
		FROM attempts WHERE round_id = ? ORDER BY request_id, id
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var (
			a         AttemptRecord
			latencyMs int64
		)
		if err := rows.Scan(&a.ID, &a.RoundID, &a.RequestID, &a.Success, &a.Kind, &a.Error,
			&a.TopLabel, &a.TopConfidence, &a.Candidates, &latencyMs, &a.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Latency = time.Duration(latencyMs) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

// Summarize aggregates all finished rounds.
func (r *RoundRepository) Summarize(ctx context.Context) (*Summary, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var (
		s            Summary
		avgAttempts  sql.NullFloat64
		avgElapsedMs sql.NullFloat64
		topRankWins  int
	)
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(outcome = 'won'), 0),
			COALESCE(SUM(outcome = 'reset'), 0),
			AVG(CASE WHEN outcome = 'won' THEN attempts END),
			AVG(CASE WHEN outcome = 'won' THEN elapsed_ms END),
			COALESCE(SUM(outcome = 'won' AND winning_rank = 1), 0)
		FROM rounds WHERE ended_at IS NOT NULL
	`).Scan(&s.Rounds, &s.Wins, &s.Resets, &avgAttempts, &avgElapsedMs, &topRankWins)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize rounds: %w", err)
	}

	s.AvgAttemptsWin = avgAttempts.Float64
	s.AvgElapsedWin = time.Duration(avgElapsedMs.Float64 * float64(time.Millisecond))
	if s.Wins > 0 {
		s.TopRankWinShare = float64(topRankWins) / float64(s.Wins)
	}
	return &s, nil
}

const roundSelect = `
	SELECT id, session_id, generation, target, outcome, attempts, final_label,
		final_confidence, winning_rank, elapsed_ms, started_at, ended_at
	FROM rounds`

type scanner interface {
	Scan(dest ...any) error
}

func scanRound(s scanner) (*RoundRecord, error) {
	var (
		rec       RoundRecord
		elapsedMs int64
		endedAt   sql.NullTime
	)
	if err := s.Scan(&rec.ID, &rec.SessionID, &rec.Generation, &rec.Target, &rec.Outcome,
		&rec.Attempts, &rec.FinalLabel, &rec.FinalConfidence, &rec.WinningRank,
		&elapsedMs, &rec.StartedAt, &endedAt); err != nil {
		return nil, err
	}
	rec.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	return &rec, nil
}
