package session

import (
	"time"

	"github.com/Iron-Ham/sketchround/internal/classify"
)

// Stats accrues per-round attempt counts and freezes the winning values.
type Stats struct {
	AttemptCount    int           `json:"attempt_count"`
	FinalLabel      string        `json:"final_label,omitempty"`
	FinalConfidence float64       `json:"final_confidence,omitempty"`
	WinningRank     int           `json:"winning_rank,omitempty"` // 1-based
	ElapsedAtWin    time.Duration `json:"elapsed_at_win,omitempty"`
	Won             bool          `json:"won"`
}

// RecordAttempt counts one completed attempt, successful or not. Attempts
// completing after the win are not counted.
func (s *Stats) RecordAttempt() {
	if s.Won {
		return
	}
	s.AttemptCount++
}

// RecordWin writes the final fields. It returns false if they were already
// written this round.
func (s *Stats) RecordWin(c classify.Candidate, rank int, elapsed time.Duration) bool {
	if s.Won {
		return false
	}
	s.FinalLabel = c.Label
	s.FinalConfidence = c.Confidence
	s.WinningRank = rank
	s.ElapsedAtWin = elapsed
	s.Won = true
	return true
}

// Reset clears the stats for a new round.
func (s *Stats) Reset() {
	*s = Stats{}
}
