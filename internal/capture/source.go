// Package capture supplies snapshots of the user's drawing to the round
// controller. Every source hands back PNG bytes; the controller never looks
// inside them.
//
// Three sources exist:
//   - FileSource reads an image file on demand
//   - WatchedSource reads the same way but also watches the file with
//     fsnotify and reports the first edit as "input started"
//   - CameraSource grabs frames from a webcam through OpenCV (requires
//     building with -tags gocv)
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"

	// Registered so drawings saved as JPEG or GIF are accepted too.
	_ "image/gif"
	_ "image/jpeg"

	"github.com/Iron-Ham/sketchround/internal/classify"
	"github.com/Iron-Ham/sketchround/internal/config"
	"github.com/Iron-Ham/sketchround/internal/errors"
)

// Source produces a snapshot of the current drawing on demand.
type Source interface {
	Snapshot(ctx context.Context) (classify.Snapshot, error)
	Close() error
}

// InputNotifier is implemented by sources that can tell when the user
// starts drawing. The callback may run on any goroutine.
type InputNotifier interface {
	OnInputStarted(fn func())
	// Rearm makes the next detected edit fire the callback again.
	Rearm()
}

// New builds the source selected by cfg.
func New(cfg config.CaptureConfig) (Source, error) {
	switch cfg.Source {
	case "file":
		return NewFileSource(cfg.Path)
	case "watch":
		return NewWatchedSource(cfg.Path)
	case "camera":
		return NewCameraSource(cfg.DeviceID)
	default:
		return nil, errors.NewValidationError("unknown capture source").
			WithField("capture.source").WithValue(cfg.Source)
	}
}

// readSnapshot loads an image file and normalizes it to PNG.
func readSnapshot(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCaptureFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", errors.ErrCaptureFailed, path)
	}
	return toPNG(data)
}

// toPNG re-encodes non-PNG images. PNG input is returned unchanged.
func toPNG(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", errors.ErrCaptureFailed, err)
	}
	if format == "png" {
		return data, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: encode png: %v", errors.ErrCaptureFailed, err)
	}
	return buf.Bytes(), nil
}
