package detector

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// Embedder computes an identity embedding for a detected face
type Embedder interface {
	Embed(img gocv.Mat, face *Face) (*Embedding, error)
}

// Analyzer runs the full detection stack: SCRFD boxes and keypoints, then
// optional 106-point landmarks and identity embeddings per face. The model
// sessions are not safe for concurrent calls, so Detect serializes.
type Analyzer struct {
	mu        sync.Mutex
	scrfd     *SCRFD
	landmarks *Landmark106 // optional
	embedder  Embedder     // optional
	log       zerolog.Logger
}

// NewAnalyzer creates an analyzer. landmarks and embedder may be nil, in
// which case the corresponding descriptor fields stay unset.
func NewAnalyzer(log zerolog.Logger, scrfd *SCRFD, landmarks *Landmark106, embedder Embedder) *Analyzer {
	return &Analyzer{
		scrfd:     scrfd,
		landmarks: landmarks,
		embedder:  embedder,
		log:       log,
	}
}

// Detect finds faces and enriches each with landmarks and an embedding where
// the models are available. Enrichment failures degrade the descriptor
// rather than failing the detection.
func (a *Analyzer) Detect(img gocv.Mat) ([]Face, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	faces, err := a.scrfd.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	for i := range faces {
		if a.landmarks != nil {
			if err := a.landmarks.Detect(img, &faces[i]); err != nil {
				a.log.Warn().Err(err).Msg("landmark detection failed")
			}
		}
		if a.embedder != nil {
			emb, err := a.embedder.Embed(img, &faces[i])
			if err != nil {
				a.log.Warn().Err(err).Msg("embedding extraction failed")
				continue
			}
			faces[i].Embedding = emb
		}
	}

	return faces, nil
}

// Close releases all analyzer resources
func (a *Analyzer) Close() error {
	var errs []error

	if a.scrfd != nil {
		if err := a.scrfd.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.landmarks != nil {
		if err := a.landmarks.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if closer, ok := a.embedder.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
