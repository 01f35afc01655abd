package swapper

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/dudu/swapstream/internal/detector"
)

// Emap is the 512x512 matrix that maps ArcFace embeddings into the latent
// space expected by inswapper.
type Emap [512][512]float32

// LoadEmap loads the emap matrix from a little-endian float32 binary file
func LoadEmap(path string) (*Emap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read emap file: %w", err)
	}

	expectedSize := 512 * 512 * 4
	if len(data) != expectedSize {
		return nil, fmt.Errorf("emap file size mismatch: expected %d, got %d", expectedSize, len(data))
	}

	var emap Emap
	for i := 0; i < 512; i++ {
		for j := 0; j < 512; j++ {
			offset := (i*512 + j) * 4
			emap[i][j] = math.Float32frombits(binary.LittleEndian.Uint32(data[offset : offset+4]))
		}
	}

	return &emap, nil
}

// TransformEmbedding computes latent = normalize(embedding @ emap)
func (e *Emap) TransformEmbedding(embedding *detector.Embedding) *detector.Embedding {
	var latent detector.Embedding

	for j := 0; j < 512; j++ {
		var sum float32
		for i := 0; i < 512; i++ {
			sum += embedding[i] * e[i][j]
		}
		latent[j] = sum
	}

	var norm float64
	for _, v := range latent {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		norm = 1
	}
	for i := range latent {
		latent[i] /= float32(norm)
	}

	return &latent
}
