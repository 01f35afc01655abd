// Package video wraps gocv container I/O for the batch job path.
package video

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Fallbacks for containers that do not report rate or dimensions
const (
	DefaultFPS    = 25.0
	DefaultWidth  = 640
	DefaultHeight = 360
)

// Reader manages sequential frame reads from a video file
type Reader struct {
	capture *gocv.VideoCapture
	path    string
	fps     float64
	width   int
	height  int
	frames  int
	mu      sync.Mutex
}

// OpenReader opens a video file for sequential reads. Frame rate and
// dimensions fall back to defaults when the container does not report them.
func OpenReader(path string) (*Reader, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = DefaultFPS
	}
	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))
	if width <= 0 || height <= 0 {
		width = DefaultWidth
		height = DefaultHeight
	}

	return &Reader{
		capture: capture,
		path:    path,
		fps:     fps,
		width:   width,
		height:  height,
		frames:  int(capture.Get(gocv.VideoCaptureFrameCount)),
	}, nil
}

// Read captures the next frame into the provided Mat; false means
// end-of-stream or a read failure.
func (r *Reader) Read(frame *gocv.Mat) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture == nil {
		return false
	}
	return r.capture.Read(frame)
}

// FPS returns the source frame rate
func (r *Reader) FPS() float64 {
	return r.fps
}

// Width returns frame width
func (r *Reader) Width() int {
	return r.width
}

// Height returns frame height
func (r *Reader) Height() int {
	return r.height
}

// FrameCount returns the reported frame count, 0 when unknown
func (r *Reader) FrameCount() int {
	if r.frames < 0 {
		return 0
	}
	return r.frames
}

// Close releases the capture
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture != nil {
		err := r.capture.Close()
		r.capture = nil
		return err
	}
	return nil
}
