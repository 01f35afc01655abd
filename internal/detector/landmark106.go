package detector

import (
	"fmt"
	"image"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/inference"
)

// Landmark106 detects 106 facial landmarks using insightface's 2d106det model
type Landmark106 struct {
	session   *inference.Session
	inputSize int
	inputMean float32
	inputStd  float32
}

// NewLandmark106 creates a new 106-point landmark detector
func NewLandmark106(log zerolog.Logger, modelPath string) (*Landmark106, error) {
	inputNames := []string{"data"}
	outputNames := []string{"fc1"}

	session, err := inference.NewSession(log, modelPath, inputNames, outputNames)
	if err != nil {
		return nil, fmt.Errorf("failed to create landmark session: %w", err)
	}

	return &Landmark106{
		session:   session,
		inputSize: 192,
		inputMean: 127.5,
		inputStd:  128.0,
	}, nil
}

// Detect extracts 106 landmarks for a detected face and stores them on it
func (l *Landmark106) Detect(img gocv.Mat, face *Face) error {
	bbox := face.BoundingBox

	// Crop with 1.5x expansion around the box center, like insightface
	maxDim := bbox.Width()
	if bbox.Height() > maxDim {
		maxDim = bbox.Height()
	}
	center := bbox.Center()
	scale := float32(l.inputSize) / (maxDim * 1.5)

	M := l.cropTransform(center, scale)
	aligned := gocv.NewMat()
	defer aligned.Close()
	gocv.WarpAffine(img, &aligned, M, image.Pt(l.inputSize, l.inputSize))
	M.Close()

	rgb := gocv.NewMat()
	gocv.CvtColor(aligned, &rgb, gocv.ColorBGRToRGB)
	defer rgb.Close()

	floatMat := gocv.NewMat()
	rgb.ConvertTo(&floatMat, gocv.MatTypeCV32FC3)
	defer floatMat.Close()

	// (x - mean) / std
	gocv.AddWeighted(floatMat, 1.0/float64(l.inputStd), floatMat, 0, -float64(l.inputMean)/float64(l.inputStd), &floatMat)

	blob := gocv.BlobFromImage(floatMat, 1.0, image.Pt(l.inputSize, l.inputSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(l.inputSize), int64(l.inputSize)),
		bytesToFloat32(blob.ToBytes()),
	)
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	// Output is (1, 212): 106 landmarks x 2 coords
	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 212})
	if err != nil {
		return fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := l.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return fmt.Errorf("landmark inference failed: %w", err)
	}

	landmarks := l.postprocess(outputTensor.GetData(), center, scale)
	face.Landmarks106 = &landmarks
	return nil
}

// cropTransform creates the affine transform for the face crop
// (scale and translate only, no rotation)
func (l *Landmark106) cropTransform(center Point, scale float32) gocv.Mat {
	M := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	half := float64(l.inputSize) / 2

	M.SetDoubleAt(0, 0, float64(scale))
	M.SetDoubleAt(0, 1, 0)
	M.SetDoubleAt(0, 2, half-float64(center.X*scale))
	M.SetDoubleAt(1, 0, 0)
	M.SetDoubleAt(1, 1, float64(scale))
	M.SetDoubleAt(1, 2, half-float64(center.Y*scale))

	return M
}

// postprocess maps landmarks from the model's [-1, 1] output range back to
// original image coordinates.
func (l *Landmark106) postprocess(output []float32, center Point, scale float32) Landmarks106 {
	var landmarks Landmarks106
	halfSize := float32(l.inputSize) / 2

	for i := 0; i < 106; i++ {
		x := (output[i*2] + 1) * halfSize
		y := (output[i*2+1] + 1) * halfSize
		landmarks[i] = Point{
			X: (x-halfSize)/scale + center.X,
			Y: (y-halfSize)/scale + center.Y,
		}
	}

	return landmarks
}

// Close releases detector resources
func (l *Landmark106) Close() error {
	return l.session.Destroy()
}
