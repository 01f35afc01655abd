package swapper

import (
	"fmt"
	"image"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/detector"
	"github.com/dudu/swapstream/internal/inference"
)

const simswapSize = 512

// SimSwap512 performs face swapping using the SimSwap 512x512 model.
// An alternative Generator to Inswapper, traded off for quality over speed.
type SimSwap512 struct {
	session *inference.Session
}

// NewSimSwap512 creates a new SimSwap 512x512 generator
func NewSimSwap512(log zerolog.Logger, modelPath string) (*SimSwap512, error) {
	inputNames := []string{"target", "source"}
	outputNames := []string{"output"}

	session, err := inference.NewSession(log, modelPath, inputNames, outputNames)
	if err != nil {
		return nil, fmt.Errorf("failed to create SimSwap512 session: %w", err)
	}

	return &SimSwap512{session: session}, nil
}

// InputSize returns the aligned crop size the model expects
func (s *SimSwap512) InputSize() int {
	return simswapSize
}

// SwapFace generates a swapped face from an aligned 512x512 target crop and
// a source embedding. SimSwap takes the embedding directly, no emap.
func (s *SimSwap512) SwapFace(alignedTarget gocv.Mat, source *detector.Embedding) (gocv.Mat, error) {
	if alignedTarget.Rows() != simswapSize || alignedTarget.Cols() != simswapSize {
		return gocv.NewMat(), fmt.Errorf("expected %dx%d target, got %dx%d",
			simswapSize, simswapSize, alignedTarget.Cols(), alignedTarget.Rows())
	}

	targetTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, simswapSize, simswapSize),
		s.preprocessTarget(alignedTarget),
	)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create target tensor: %w", err)
	}
	defer targetTensor.Destroy()

	sourceTensor, err := ort.NewTensor(ort.NewShape(1, 512), source[:])
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create source tensor: %w", err)
	}
	defer sourceTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 3, simswapSize, simswapSize})
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = s.session.Run(
		[]ort.Value{targetTensor, sourceTensor},
		[]ort.Value{outputTensor},
	)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("inference failed: %w", err)
	}

	return s.postprocess(outputTensor.GetData()), nil
}

// preprocessTarget converts the crop to RGB NCHW in [0, 1]
func (s *SimSwap512) preprocessTarget(img gocv.Mat) []float32 {
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(simswapSize, simswapSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	return bytesToFloat32Slice(blob.ToBytes())
}

// postprocess converts NCHW RGB output in [0, 1] back to a BGR image
func (s *SimSwap512) postprocess(data []float32) gocv.Mat {
	result := gocv.NewMatWithSize(simswapSize, simswapSize, gocv.MatTypeCV8UC3)

	plane := simswapSize * simswapSize
	for y := 0; y < simswapSize; y++ {
		for x := 0; x < simswapSize; x++ {
			idx := y*simswapSize + x
			r := clampByte(data[idx] * 255.0)
			g := clampByte(data[plane+idx] * 255.0)
			b := clampByte(data[2*plane+idx] * 255.0)

			result.SetUCharAt(y, x*3+0, b)
			result.SetUCharAt(y, x*3+1, g)
			result.SetUCharAt(y, x*3+2, r)
		}
	}

	return result
}

// Close releases swapper resources
func (s *SimSwap512) Close() error {
	return s.session.Destroy()
}
