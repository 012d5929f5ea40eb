//go:build !gocv

package capture

import (
	"fmt"

	"github.com/Iron-Ham/sketchround/internal/errors"
)

// NewCameraSource reports that camera capture is unavailable in this build.
// Rebuild with -tags gocv (OpenCV 4 required) to enable it.
func NewCameraSource(deviceID int) (Source, error) {
	return nil, fmt.Errorf("%w: camera %d: built without gocv support", errors.ErrCaptureFailed, deviceID)
}
