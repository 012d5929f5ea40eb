// Package classify talks to the remote sketch classification service.
//
// A [Client] turns one [Snapshot] into a ranked [PredictionSet] or an attempt
// error from internal/errors (transport, protocol or empty result). The
// [HTTPClient] implementation speaks the service's JSON wire format:
//
//	POST /predict/base64  {"image": "<base64 PNG>", "top_k": 3}
//	200 OK                {"predictions": [{"label": "cat", "confidence": 0.91, "confidence_percent": "91.00%"}],
//	                       "success": true, "message": "ok"}
package classify

import (
	"context"
	"fmt"
	"time"
)

// Snapshot is one capture of the user's drawing. The round controller treats
// it as opaque bytes; only the client encodes it.
type Snapshot struct {
	Data       []byte // encoded image (PNG)
	CapturedAt time.Time
}

// Empty reports whether the snapshot carries no image data.
func (s Snapshot) Empty() bool {
	return len(s.Data) == 0
}

// Candidate is a single labeled outcome of one classification attempt.
type Candidate struct {
	Label             string  `json:"label"`
	Confidence        float64 `json:"confidence"`
	ConfidencePercent string  `json:"confidence_percent"`
}

// FormatPercent renders a confidence in [0,1] the way the service does ("91.25%").
func FormatPercent(confidence float64) string {
	return fmt.Sprintf("%.2f%%", confidence*100)
}

// PredictionSet is the full ranked result of one classification attempt.
// Candidates are ordered by descending confidence and are never empty once
// the set is attached to a round.
type PredictionSet struct {
	Candidates []Candidate `json:"candidates"`
	ReceivedAt time.Time   `json:"received_at"`
	RequestID  uint64      `json:"request_id"`
	Generation uint64      `json:"generation"`
	Message    string      `json:"message,omitempty"`
}

// Len returns the number of candidates.
func (p *PredictionSet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Candidates)
}

// Top returns the highest ranked candidate.
func (p *PredictionSet) Top() (Candidate, bool) {
	if p.Len() == 0 {
		return Candidate{}, false
	}
	return p.Candidates[0], true
}

// At returns the candidate at rank index i (0-based).
func (p *PredictionSet) At(i int) (Candidate, bool) {
	if i < 0 || i >= p.Len() {
		return Candidate{}, false
	}
	return p.Candidates[i], true
}

// Client performs one classify operation against a remote service.
type Client interface {
	Classify(ctx context.Context, snapshot Snapshot) (*PredictionSet, error)
}

// ClientFunc adapts an ordinary function to the Client interface.
type ClientFunc func(ctx context.Context, snapshot Snapshot) (*PredictionSet, error)

// Classify calls f(ctx, snapshot).
func (f ClientFunc) Classify(ctx context.Context, snapshot Snapshot) (*PredictionSet, error) {
	return f(ctx, snapshot)
}
