package targets

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/Iron-Ham/sketchround/internal/config"
	"github.com/Iron-Ham/sketchround/internal/errors"
)

func seeded() Option {
	return WithRand(rand.New(rand.NewPCG(1, 2)))
}

func TestFilter(t *testing.T) {
	labels := []string{"cat", " dog ", "Car", "castle", "cat", "", "tree"}

	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{"no filters", nil, nil, []string{"cat", "dog", "Car", "castle", "tree"}},
		{"include prefix", []string{"ca*"}, nil, []string{"cat", "Car", "castle"}},
		{"exclude", nil, []string{"c?t", "tree"}, []string{"dog", "Car", "castle"}},
		{"include and exclude", []string{"c*"}, []string{"castle"}, []string{"cat", "Car"}},
		{"alternatives", []string{"{dog,tree}"}, nil, []string{"dog", "tree"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Filter(labels, tt.include, tt.exclude)
			if err != nil {
				t.Fatalf("Filter failed: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Filter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_DedupesIgnoringCase(t *testing.T) {
	got, err := Filter([]string{"Cat", "cat", " CAT ", "dog", "Dog"}, nil, nil)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if want := []string{"Cat", "dog"}; !slices.Equal(got, want) {
		t.Errorf("Filter() = %v, want %v", got, want)
	}

	p, err := NewPicker([]string{"Cat", "cat"}, nil, nil, seeded())
	if err != nil {
		t.Fatalf("NewPicker failed: %v", err)
	}
	if labels := p.Labels(); len(labels) != 1 {
		t.Errorf("Labels() = %v, want a single label", labels)
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := Filter([]string{"cat"}, []string{"[oops"}, nil); !errors.Is(err, &errors.ValidationError{}) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPicker_NeverRepeats(t *testing.T) {
	p, err := NewPicker([]string{"cat", "dog"}, nil, nil, seeded())
	if err != nil {
		t.Fatalf("NewPicker failed: %v", err)
	}

	prev := p.Next()
	for i := 0; i < 50; i++ {
		next := p.Next()
		if next == prev {
			t.Fatalf("pick %d repeated %q", i, next)
		}
		prev = next
	}
}

func TestPicker_SingleLabel(t *testing.T) {
	p, err := NewPicker([]string{"sun"}, nil, nil)
	if err != nil {
		t.Fatalf("NewPicker failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := p.Next(); got != "sun" {
			t.Errorf("Next() = %q, want sun", got)
		}
	}
}

func TestPicker_CoversPool(t *testing.T) {
	pool := []string{"a", "b", "c", "d"}
	p, _ := NewPicker(pool, nil, nil, seeded())

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		seen[p.Next()] = true
	}
	for _, label := range pool {
		if !seen[label] {
			t.Errorf("label %q never picked", label)
		}
	}
}

func TestNewPicker_EmptyPool(t *testing.T) {
	if _, err := NewPicker([]string{"cat"}, nil, []string{"*"}); err == nil {
		t.Error("expected error when every label is excluded")
	}
}

func TestLoadLabelsFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("list", func(t *testing.T) {
		path := filepath.Join(dir, "list.yaml")
		_ = os.WriteFile(path, []byte("- cat\n- dog\n"), 0644)
		got, err := LoadLabelsFile(path)
		if err != nil {
			t.Fatalf("LoadLabelsFile failed: %v", err)
		}
		if !slices.Equal(got, []string{"cat", "dog"}) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("mapping", func(t *testing.T) {
		path := filepath.Join(dir, "map.yaml")
		_ = os.WriteFile(path, []byte("labels:\n  - moon\n  - star\n"), 0644)
		got, err := LoadLabelsFile(path)
		if err != nil {
			t.Fatalf("LoadLabelsFile failed: %v", err)
		}
		if !slices.Equal(got, []string{"moon", "star"}) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		_ = os.WriteFile(path, []byte("labels: []\n"), 0644)
		if _, err := LoadLabelsFile(path); err == nil {
			t.Error("expected error for empty labels file")
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := LoadLabelsFile(filepath.Join(dir, "nope.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

type staticLister struct {
	classes []string
	err     error
}

func (s staticLister) Classes(context.Context) ([]string, error) {
	return s.classes, s.err
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("labels", func(t *testing.T) {
		cfg := config.TargetsConfig{Labels: []string{"cat", "dog"}, Exclude: []string{"dog"}}
		p, err := FromConfig(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("FromConfig failed: %v", err)
		}
		if !slices.Equal(p.Labels(), []string{"cat"}) {
			t.Errorf("Labels() = %v", p.Labels())
		}
	})

	t.Run("labels file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "labels.yaml")
		_ = os.WriteFile(path, []byte("- guitar\n- piano\n"), 0644)
		cfg := config.TargetsConfig{Labels: []string{"cat"}, LabelsFile: path}
		p, err := FromConfig(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("FromConfig failed: %v", err)
		}
		if !slices.Equal(p.Labels(), []string{"guitar", "piano"}) {
			t.Errorf("Labels() = %v", p.Labels())
		}
	})

	t.Run("remote", func(t *testing.T) {
		cfg := config.TargetsConfig{UseRemote: true}
		p, err := FromConfig(ctx, cfg, staticLister{classes: []string{"house", "barn"}})
		if err != nil {
			t.Fatalf("FromConfig failed: %v", err)
		}
		if !slices.Equal(p.Labels(), []string{"house", "barn"}) {
			t.Errorf("Labels() = %v", p.Labels())
		}
	})

	t.Run("remote failure", func(t *testing.T) {
		cfg := config.TargetsConfig{UseRemote: true}
		_, err := FromConfig(ctx, cfg, staticLister{err: errors.ErrEmptyResult})
		if !errors.Is(err, errors.ErrEmptyResult) {
			t.Errorf("expected wrapped ErrEmptyResult, got %v", err)
		}
	})

	t.Run("remote without lister", func(t *testing.T) {
		if _, err := FromConfig(ctx, config.TargetsConfig{UseRemote: true}, nil); err == nil {
			t.Error("expected error without a lister")
		}
	})
}
