// Package reference holds the process-wide active reference face: the
// identity painted onto detected target faces.
package reference

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/detector"
	"github.com/dudu/swapstream/internal/imaging"
)

const (
	maxIDLength = 64
	defaultID   = "char"
)

// ErrNoFaceFound reports an upload in which the detector found no face
var ErrNoFaceFound = errors.New("no face found in image")

// Locator finds faces in a frame
type Locator interface {
	Detect(img gocv.Mat) ([]detector.Face, error)
}

// Face is the active reference: descriptor, display id and thumbnail.
// The three fields are replaced as one unit and never mutated afterwards.
type Face struct {
	Descriptor detector.Face
	ID         string
	Thumbnail  []byte // encoded JPEG, nil when thumbnail encoding failed
}

// Store is the process-wide holder of the single active reference face.
// It is shared by every connection and job; Set replaces the whole triple
// atomically so readers always observe a complete snapshot.
type Store struct {
	mu      sync.RWMutex
	current *Face
	locator Locator
	log     zerolog.Logger
}

// NewStore creates an empty reference store
func NewStore(log zerolog.Logger, locator Locator) *Store {
	return &Store{
		locator: locator,
		log:     log,
	}
}

// Set decodes the uploaded image, picks the largest detected face and
// replaces the active reference. On decode failure or when no face is found
// the previous reference is left untouched.
func (s *Store) Set(imageBytes []byte, filename string) (*Face, error) {
	img, err := imaging.Decode(imageBytes)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	faces, err := s.locator.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	face := detector.Largest(faces)
	if face == nil {
		return nil, ErrNoFaceFound
	}

	thumb, err := imaging.Thumbnail(img)
	if err != nil {
		// Thumbnail is display-only; a reference without one is still valid
		s.log.Warn().Err(err).Msg("thumbnail encoding failed")
		thumb = nil
	}

	ref := &Face{
		Descriptor: *face,
		ID:         deriveID(filename),
		Thumbnail:  thumb,
	}

	s.mu.Lock()
	s.current = ref
	s.mu.Unlock()

	s.log.Info().Str("id", ref.ID).Bool("thumb", thumb != nil).Msg("reference face replaced")
	return ref, nil
}

// Get returns the active reference, or nil when none has been uploaded.
// The returned value is immutable and safe to use without the lock.
func (s *Store) Get() *Face {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Thumbnail returns the stored thumbnail bytes, or nil
func (s *Store) Thumbnail() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	return s.current.Thumbnail
}

// deriveID takes the last path segment of the uploaded filename, truncated
// to 64 characters, falling back to a default when absent.
func deriveID(filename string) string {
	if idx := strings.LastIndex(filename, "/"); idx >= 0 {
		filename = filename[idx+1:]
	}
	if filename == "" {
		return defaultID
	}
	if len(filename) > maxIDLength {
		filename = filename[:maxIDLength]
	}
	return filename
}
