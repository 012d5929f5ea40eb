package session

import (
	"time"

	"github.com/Iron-Ham/sketchround/internal/classify"
)

// Cycler rotates which ranked candidate is presented. It only holds the most
// recent prediction set; a new set replaces the old one wholesale.
type Cycler struct {
	interval time.Duration
	set      *classify.PredictionSet
	index    int
	timer    time.Duration
}

// NewCycler creates a cycler that advances every interval. A non-positive
// interval keeps the top candidate on display.
func NewCycler(interval time.Duration) *Cycler {
	return &Cycler{interval: interval}
}

// Apply holds a fresh set and presents its first candidate. Empty sets are
// ignored.
func (c *Cycler) Apply(set *classify.PredictionSet) bool {
	if set.Len() == 0 {
		return false
	}
	c.set = set
	c.index = 0
	c.timer = 0
	return true
}

// Tick advances the rotation timer and reports whether the displayed
// candidate changed.
func (c *Cycler) Tick(dt time.Duration) bool {
	if c.set.Len() == 0 || c.interval <= 0 || dt <= 0 {
		return false
	}
	c.timer += dt
	if c.timer < c.interval {
		return false
	}
	c.timer = 0
	c.index = (c.index + 1) % c.set.Len()
	return true
}

// Current returns the displayed candidate and its 0-based index.
func (c *Cycler) Current() (classify.Candidate, int, bool) {
	if c.set.Len() == 0 {
		return classify.Candidate{}, 0, false
	}
	return c.set.Candidates[c.index], c.index, true
}

// Set returns the held prediction set, or nil.
func (c *Cycler) Set() *classify.PredictionSet {
	return c.set
}

// Clear drops the held set.
func (c *Cycler) Clear() {
	c.set = nil
	c.index = 0
	c.timer = 0
}
