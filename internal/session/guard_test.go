package session

import (
	"sync"
	"testing"

	"github.com/Iron-Ham/sketchround/internal/errors"
)

func TestGuard_AcquireRelease(t *testing.T) {
	g := NewGuard()

	release, err := g.Acquire("camera:0", "s1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if owner, ok := g.Owner("camera:0"); !ok || owner != "s1" {
		t.Errorf("Owner() = (%q, %v), want (s1, true)", owner, ok)
	}

	if _, err := g.Acquire("camera:0", "s2"); !errors.Is(err, errors.ErrControllerExists) {
		t.Errorf("second Acquire() error = %v, want ErrControllerExists", err)
	}

	release()
	release()
	if _, ok := g.Owner("camera:0"); ok {
		t.Error("resource still owned after release")
	}

	release2, err := g.Acquire("camera:0", "s2")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}

	// A stale release from the first owner must not free the new claim.
	release()
	if owner, _ := g.Owner("camera:0"); owner != "s2" {
		t.Errorf("Owner() = %q, want s2", owner)
	}
	release2()
}

func TestGuard_ConcurrentAcquire(t *testing.T) {
	g := NewGuard()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Acquire("display", "owner"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}
