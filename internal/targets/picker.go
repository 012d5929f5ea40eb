// Package targets chooses the label the player has to draw each round.
package targets

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/sketchround/internal/config"
	"github.com/Iron-Ham/sketchround/internal/errors"
)

// ClassLister returns the labels a classifier can produce.
type ClassLister interface {
	Classes(ctx context.Context) ([]string, error)
}

// Picker draws random targets from a fixed pool. Consecutive picks differ
// whenever the pool has more than one label. It is safe for concurrent use.
type Picker struct {
	mu     sync.Mutex
	labels []string
	rng    *rand.Rand
	last   string
}

// Option configures a Picker.
type Option func(*Picker)

// WithRand sets the random source, for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(p *Picker) {
		if r != nil {
			p.rng = r
		}
	}
}

// NewPicker builds a picker over labels after applying the include and
// exclude glob filters. Blank and duplicate labels are dropped.
func NewPicker(labels, include, exclude []string, opts ...Option) (*Picker, error) {
	filtered, err := Filter(labels, include, exclude)
	if err != nil {
		return nil, err
	}
	if len(filtered) == 0 {
		return nil, errors.NewValidationError("no target labels left after filtering").
			WithField("targets").WithValue(len(labels))
	}

	p := &Picker{
		labels: filtered,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Next returns a new target label.
func (p *Picker) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.labels) == 1 {
		p.last = p.labels[0]
		return p.last
	}

	for {
		label := p.labels[p.rng.IntN(len(p.labels))]
		if label != p.last {
			p.last = label
			return label
		}
	}
}

// Labels returns a copy of the pool.
func (p *Picker) Labels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.labels...)
}

// Filter trims, dedupes and glob-filters labels, keeping their order.
// Labels that differ only in case count as duplicates, and patterns are
// matched against the case-folded label.
func Filter(labels, include, exclude []string) ([]string, error) {
	includes, err := compileAll(include)
	if err != nil {
		return nil, err
	}
	excludes, err := compileAll(exclude)
	if err != nil {
		return nil, err
	}

	fold := cases.Fold()
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, raw := range labels {
		label := strings.TrimSpace(raw)
		key := fold.String(label)
		if label == "" || seen[key] {
			continue
		}
		if len(includes) > 0 && !matchAny(includes, key) {
			continue
		}
		if matchAny(excludes, key) {
			continue
		}
		seen[key] = true
		out = append(out, label)
	}
	return out, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("invalid glob pattern: %v", err)).
				WithField("targets").WithValue(pattern)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

func matchAny(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// labelsFile is the YAML shape of a labels file. A bare list is accepted too.
type labelsFile struct {
	Labels []string `yaml:"labels"`
}

// LoadLabelsFile reads labels from a YAML file containing either a list or
// a mapping with a "labels" key.
func LoadLabelsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels file: %w", err)
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}

	var file labelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse labels file %s: %w", path, err)
	}
	if len(file.Labels) == 0 {
		return nil, errors.NewValidationError("labels file has no labels").WithField("targets.labels_file").WithValue(path)
	}
	return file.Labels, nil
}

// FromConfig builds a picker from the targets configuration. The pool comes
// from the classifier when UseRemote is set, else from LabelsFile, else from
// Labels. lister may be nil when UseRemote is false.
func FromConfig(ctx context.Context, cfg config.TargetsConfig, lister ClassLister, opts ...Option) (*Picker, error) {
	labels := cfg.Labels

	switch {
	case cfg.UseRemote:
		if lister == nil {
			return nil, errors.NewValidationError("remote targets need a classifier").WithField("targets.use_remote")
		}
		remote, err := lister.Classes(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "fetch target classes")
		}
		labels = remote
	case cfg.LabelsFile != "":
		fromFile, err := LoadLabelsFile(cfg.LabelsFile)
		if err != nil {
			return nil, err
		}
		labels = fromFile
	}

	return NewPicker(labels, cfg.Include, cfg.Exclude, opts...)
}
