package session

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/Iron-Ham/sketchround/internal/classify"
)

// NormalizeLabel trims surrounding whitespace and case-folds a label so that
// "Cat", " cat " and "CAT" compare equal. It is applied to the target and to
// every candidate before matching.
func NormalizeLabel(label string) string {
	return cases.Fold().String(strings.TrimSpace(label))
}

// Match is a winning candidate and its 1-based rank in the prediction set.
type Match struct {
	Candidate classify.Candidate
	Rank      int
}

// Evaluator decides whether a prediction set satisfies the win condition:
// the target appearing anywhere among the candidates.
type Evaluator struct {
	target string
}

// NewEvaluator creates an evaluator for target.
func NewEvaluator(target string) *Evaluator {
	return &Evaluator{target: NormalizeLabel(target)}
}

// Target returns the normalized target.
func (e *Evaluator) Target() string {
	return e.target
}

// Evaluate scans candidates in rank order and returns the first whose
// normalized label equals the target.
func (e *Evaluator) Evaluate(set *classify.PredictionSet) (Match, bool) {
	if e.target == "" || set.Len() == 0 {
		return Match{}, false
	}
	for i, c := range set.Candidates {
		if NormalizeLabel(c.Label) == e.target {
			return Match{Candidate: c, Rank: i + 1}, true
		}
	}
	return Match{}, false
}
