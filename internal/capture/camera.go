//go:build gocv

package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/Iron-Ham/sketchround/internal/classify"
	"github.com/Iron-Ham/sketchround/internal/errors"
)

// motionThreshold is the fraction of changed pixels, relative to the first
// frame of a round, that counts as the user having started to draw.
const motionThreshold = 0.01

// CameraSource grabs frames from a webcam pointed at paper or a whiteboard.
type CameraSource struct {
	deviceID int
	webcam   *gocv.VideoCapture

	mu       sync.Mutex
	baseline gocv.Mat
	hasBase  bool
	onInput  func()
	armed    atomic.Bool
	closed   bool
}

// NewCameraSource opens the camera with the given device index.
func NewCameraSource(deviceID int) (Source, error) {
	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: open camera %d: %v", errors.ErrCaptureFailed, deviceID, err)
	}
	s := &CameraSource{deviceID: deviceID, webcam: webcam}
	s.armed.Store(true)
	return s, nil
}

// OnInputStarted registers the callback fired once enough of the frame changed.
func (s *CameraSource) OnInputStarted(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInput = fn
}

// Rearm resets the motion baseline so the next round detects drawing afresh.
func (s *CameraSource) Rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasBase {
		s.baseline.Close()
		s.hasBase = false
	}
	s.armed.Store(true)
}

// Snapshot reads one frame, converts it to grayscale and encodes it as PNG.
func (s *CameraSource) Snapshot(ctx context.Context) (classify.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return classify.Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return classify.Snapshot{}, fmt.Errorf("%w: camera %d closed", errors.ErrCaptureFailed, s.deviceID)
	}

	frame := gocv.NewMat()
	defer frame.Close()
	if ok := s.webcam.Read(&frame); !ok || frame.Empty() {
		return classify.Snapshot{}, fmt.Errorf("%w: camera %d returned no frame", errors.ErrCaptureFailed, s.deviceID)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray); err != nil {
		return classify.Snapshot{}, fmt.Errorf("%w: grayscale: %v", errors.ErrCaptureFailed, err)
	}

	s.detectMotion(gray)

	buf, err := gocv.IMEncode(gocv.PNGFileExt, gray)
	if err != nil {
		return classify.Snapshot{}, fmt.Errorf("%w: encode frame: %v", errors.ErrCaptureFailed, err)
	}
	defer buf.Close()

	data := append([]byte(nil), buf.GetBytes()...)
	return classify.Snapshot{Data: data, CapturedAt: time.Now()}, nil
}

// detectMotion compares the frame with the round's first frame and fires the
// input callback once the difference crosses motionThreshold. Caller holds mu.
func (s *CameraSource) detectMotion(gray gocv.Mat) {
	if !s.hasBase {
		s.baseline = gray.Clone()
		s.hasBase = true
		return
	}
	if s.onInput == nil || !s.armed.Load() {
		return
	}

	diff := gocv.NewMat()
	defer diff.Close()
	if err := gocv.AbsDiff(s.baseline, gray, &diff); err != nil {
		return
	}

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, 30, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(thresh)) / float64(thresh.Total())
	if changed >= motionThreshold && s.armed.CompareAndSwap(true, false) {
		go s.onInput()
	}
}

// Close releases the camera.
func (s *CameraSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.hasBase {
		s.baseline.Close()
		s.hasBase = false
	}
	return s.webcam.Close()
}
