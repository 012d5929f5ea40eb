package capture

import (
	"context"
	"time"

	"github.com/Iron-Ham/sketchround/internal/classify"
	"github.com/Iron-Ham/sketchround/internal/errors"
)

// FileSource reads a drawing from an image file each time a snapshot is taken.
type FileSource struct {
	path string
	now  func() time.Time
}

// NewFileSource creates a source for the image at path.
func NewFileSource(path string) (*FileSource, error) {
	if path == "" {
		return nil, errors.NewValidationError("capture path is required").WithField("capture.path")
	}
	return &FileSource{path: path, now: time.Now}, nil
}

// Path returns the file being read.
func (s *FileSource) Path() string {
	return s.path
}

// Snapshot reads and normalizes the file.
func (s *FileSource) Snapshot(ctx context.Context) (classify.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return classify.Snapshot{}, err
	}
	data, err := readSnapshot(s.path)
	if err != nil {
		return classify.Snapshot{}, err
	}
	return classify.Snapshot{Data: data, CapturedAt: s.now()}, nil
}

// Close is a no-op.
func (s *FileSource) Close() error {
	return nil
}
