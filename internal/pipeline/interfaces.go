package pipeline

import (
	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/detector"
)

// Swapper composites a reference identity onto the target face in a frame,
// modifying the frame in place. Implemented by swapper.Engine.
type Swapper interface {
	Swap(frame *gocv.Mat, target, ref *detector.Face) error
}
