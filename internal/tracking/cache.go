// Package tracking holds the temporal face cache that lets the pipeline
// skip expensive detection on most frames.
package tracking

import (
	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/detector"
)

// DefaultCadence is the number of frames between forced re-detections.
// Faces move little between consecutive frames, so reusing the cached
// descriptor bounds positional lag to cadence-1 frames while cutting
// detector invocations to 1/cadence.
const DefaultCadence = 4

// Locator finds faces in a frame. Implemented by detector.Analyzer.
type Locator interface {
	Detect(img gocv.Mat) ([]detector.Face, error)
}

// Cache decides per frame whether to reuse the last detected target face or
// run the locator again. One Cache belongs to exactly one stream or job and
// must never be shared.
type Cache struct {
	locator              Locator
	cadence              int
	last                 *detector.Face
	framesSinceDetection int
}

// NewCache creates a tracking cache around the locator
func NewCache(locator Locator, cadence int) *Cache {
	if cadence < 1 {
		cadence = DefaultCadence
	}
	return &Cache{
		locator: locator,
		cadence: cadence,
	}
}

// Target returns the face to swap in this frame, or nil when there is none.
//
// On reuse frames the cached descriptor comes back unchanged. On detection
// frames the largest detected face (first maximum wins) becomes the new
// cached descriptor; a detection that finds nothing returns nil but leaves
// the cached descriptor in place, so a brief occlusion does not drop the
// target on the following reuse frames. That carry-over is deliberate.
func (c *Cache) Target(img gocv.Mat) (*detector.Face, error) {
	c.framesSinceDetection++

	if c.last != nil && c.framesSinceDetection%c.cadence != 0 {
		return c.last, nil
	}

	faces, err := c.locator.Detect(img)
	c.framesSinceDetection = 0
	if err != nil {
		return nil, err
	}

	target := detector.Largest(faces)
	if target != nil {
		c.last = target
	}
	return target, nil
}

// Cached reports the currently cached descriptor, if any
func (c *Cache) Cached() *detector.Face {
	return c.last
}

// Reset clears the cached descriptor and the staleness counter
func (c *Cache) Reset() {
	c.last = nil
	c.framesSinceDetection = 0
}
