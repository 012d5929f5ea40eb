package capture

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/sketchround/internal/classify"
)

// debounceInterval collapses the burst of events editors emit for one save.
const debounceInterval = 50 * time.Millisecond

// WatchedSource is a FileSource that also watches the drawing for edits.
//
// The parent directory is watched rather than the file itself so editors that
// save by renaming a temp file over the original are still seen.
type WatchedSource struct {
	*FileSource

	watcher *fsnotify.Watcher
	target  string

	mu      sync.RWMutex
	onInput func()
	armed   atomic.Bool
	edits   atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatchedSource creates a watched source for path and starts watching.
func NewWatchedSource(path string) (*WatchedSource, error) {
	file, err := NewFileSource(path)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	s := &WatchedSource{
		FileSource: file,
		watcher:    watcher,
		target:     abs,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.armed.Store(true)

	go s.watchLoop()
	return s, nil
}

// OnInputStarted registers the callback fired on the first edit after arming.
func (s *WatchedSource) OnInputStarted(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInput = fn
}

// Rearm makes the next edit fire the input callback again. Called when a new
// round starts.
func (s *WatchedSource) Rearm() {
	s.armed.Store(true)
}

// Edits returns how many debounced edits have been observed.
func (s *WatchedSource) Edits() int64 {
	return s.edits.Load()
}

// Snapshot reads the current drawing.
func (s *WatchedSource) Snapshot(ctx context.Context) (classify.Snapshot, error) {
	return s.FileSource.Snapshot(ctx)
}

// Close stops watching. It is safe to call more than once.
func (s *WatchedSource) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		err = s.watcher.Close()
		<-s.done
	})
	return err
}

// watchLoop processes filesystem events
func (s *WatchedSource) watchLoop() {
	defer close(s.done)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer
	pending := false

	for {
		select {
		case <-s.stopCh:
			debounceTimer.Stop()
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !s.isTarget(event) {
				continue
			}
			pending = true
			debounceTimer.Reset(debounceInterval)

		case <-debounceTimer.C:
			if pending {
				pending = false
				s.handleEdit()
			}

		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are transient (queue overflow); snapshots still
			// read the file directly.
		}
	}
}

func (s *WatchedSource) isTarget(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return name == s.target
}

func (s *WatchedSource) handleEdit() {
	s.edits.Add(1)

	s.mu.RLock()
	fn := s.onInput
	s.mu.RUnlock()
	if fn == nil || !s.armed.CompareAndSwap(true, false) {
		return
	}
	fn()
}
