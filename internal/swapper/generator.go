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

const inswapperSize = 128

// Generator produces a swapped face crop from an aligned target crop and a
// source identity embedding.
type Generator interface {
	SwapFace(alignedTarget gocv.Mat, source *detector.Embedding) (gocv.Mat, error)
	InputSize() int
	Close() error
}

// Inswapper performs face swapping using the insightface inswapper model
type Inswapper struct {
	session *inference.Session
	emap    *Emap
}

// NewInswapper creates a new inswapper generator. emapPath may be empty when
// the emap transform is baked into the model export.
func NewInswapper(log zerolog.Logger, modelPath, emapPath string) (*Inswapper, error) {
	inputNames := []string{"target", "source"}
	outputNames := []string{"output"}

	session, err := inference.NewSession(log, modelPath, inputNames, outputNames)
	if err != nil {
		return nil, fmt.Errorf("failed to create Inswapper session: %w", err)
	}

	var emap *Emap
	if emapPath != "" {
		emap, err = LoadEmap(emapPath)
		if err != nil {
			session.Destroy()
			return nil, fmt.Errorf("failed to load emap: %w", err)
		}
	}

	return &Inswapper{
		session: session,
		emap:    emap,
	}, nil
}

// InputSize returns the aligned crop size the model expects
func (s *Inswapper) InputSize() int {
	return inswapperSize
}

// SwapFace generates a swapped face from an aligned 128x128 target crop and
// a source embedding. Returns the swapped crop as a 128x128 BGR image.
func (s *Inswapper) SwapFace(alignedTarget gocv.Mat, source *detector.Embedding) (gocv.Mat, error) {
	if alignedTarget.Rows() != inswapperSize || alignedTarget.Cols() != inswapperSize {
		return gocv.NewMat(), fmt.Errorf("expected %dx%d target, got %dx%d",
			inswapperSize, inswapperSize, alignedTarget.Cols(), alignedTarget.Rows())
	}

	latent := source
	if s.emap != nil {
		latent = s.emap.TransformEmbedding(source)
	}

	targetTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, inswapperSize, inswapperSize),
		s.preprocessTarget(alignedTarget),
	)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create target tensor: %w", err)
	}
	defer targetTensor.Destroy()

	sourceTensor, err := ort.NewTensor(ort.NewShape(1, 512), latent[:])
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create source tensor: %w", err)
	}
	defer sourceTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 3, inswapperSize, inswapperSize})
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

// preprocessTarget matches insightface preprocessing:
// blob = cv2.dnn.blobFromImage(aimg, 1.0/255, input_size, (0,0,0), swapRB=True)
func (s *Inswapper) preprocessTarget(img gocv.Mat) []float32 {
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(inswapperSize, inswapperSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	return bytesToFloat32Slice(blob.ToBytes())
}

// postprocess converts NCHW RGB output in [0, 1] back to a BGR image
func (s *Inswapper) postprocess(data []float32) gocv.Mat {
	result := gocv.NewMatWithSize(inswapperSize, inswapperSize, gocv.MatTypeCV8UC3)

	plane := inswapperSize * inswapperSize
	for y := 0; y < inswapperSize; y++ {
		for x := 0; x < inswapperSize; x++ {
			idx := y*inswapperSize + x
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
func (s *Inswapper) Close() error {
	return s.session.Destroy()
}

func clampByte(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
