package swapper

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/detector"
)

// Engine composites a reference identity onto a target face in a full frame:
// align the target crop, run the generator, paste the result back. The
// generator is not safe for concurrent calls, so Swap serializes; live
// connections and the batch worker share one engine.
type Engine struct {
	mu        sync.Mutex
	aligner   *FaceAligner
	generator Generator
	blender   *Blender
}

// NewEngine creates a swap engine around the given generator
func NewEngine(generator Generator, blurSize int) *Engine {
	return &Engine{
		aligner:   NewFaceAligner(),
		generator: generator,
		blender:   NewBlender(blurSize),
	}
}

// Swap replaces the target face in frame with the reference identity.
// The frame is modified in place; on error it is left untouched.
func (e *Engine) Swap(frame *gocv.Mat, target, ref *detector.Face) error {
	if ref.Embedding == nil {
		return fmt.Errorf("reference face has no embedding")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	aligned, err := e.aligner.Align(*frame, target.Keypoints, e.generator.InputSize())
	if err != nil {
		return fmt.Errorf("alignment failed: %w", err)
	}
	defer aligned.AlignedFace.Close()
	defer aligned.Transform.Close()

	swapped, err := e.generator.SwapFace(aligned.AlignedFace, ref.Embedding)
	if err != nil {
		return fmt.Errorf("swap failed: %w", err)
	}
	defer swapped.Close()

	e.blender.BlendFace(swapped, frame, aligned.Transform, target.Keypoints)
	return nil
}

// Close releases engine resources
func (e *Engine) Close() error {
	e.aligner.Close()
	e.blender.Close()
	return e.generator.Close()
}
