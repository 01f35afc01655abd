package detector

import (
	"fmt"
	"image"
	"math"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/inference"
)

// SCRFD implements the SCRFD face detector
type SCRFD struct {
	session       *inference.Session
	inputSize     int
	confThreshold float32
	nmsThreshold  float32
	strides       []int
	numAnchors    int
}

// NewSCRFD creates a new SCRFD detector
func NewSCRFD(log zerolog.Logger, modelPath string, inputSize int, confThreshold, nmsThreshold float32) (*SCRFD, error) {
	// SCRFD has 1 input and 9 outputs (3 levels x 3 outputs each: score, bbox, kps)
	inputNames := []string{"input.1"}
	outputNames := []string{
		"score_8", "score_16", "score_32",
		"bbox_8", "bbox_16", "bbox_32",
		"kps_8", "kps_16", "kps_32",
	}

	session, err := inference.NewSession(log, modelPath, inputNames, outputNames)
	if err != nil {
		return nil, fmt.Errorf("failed to create SCRFD session: %w", err)
	}

	return &SCRFD{
		session:       session,
		inputSize:     inputSize,
		confThreshold: confThreshold,
		nmsThreshold:  nmsThreshold,
		strides:       []int{8, 16, 32},
		numAnchors:    2, // anchors per position
	}, nil
}

// Detect finds faces in an image
func (s *SCRFD) Detect(img gocv.Mat) ([]Face, error) {
	origWidth := img.Cols()
	origHeight := img.Rows()

	inputBlob, scale := s.preprocess(img)
	defer inputBlob.Close()

	floatData := bytesToFloat32(inputBlob.ToBytes())

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(s.inputSize), int64(s.inputSize)),
		floatData,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	// One score/bbox/kps output tensor per feature level
	outputs := make([]ort.Value, 9)
	outputTensors := make([]*ort.Tensor[float32], 9)
	for i, stride := range s.strides {
		cells := (s.inputSize / stride) * (s.inputSize / stride) * s.numAnchors

		scoreTensor, _ := inference.CreateEmptyTensor[float32]([]int64{int64(cells), 1})
		outputs[i] = scoreTensor
		outputTensors[i] = scoreTensor

		bboxTensor, _ := inference.CreateEmptyTensor[float32]([]int64{int64(cells), 4})
		outputs[i+3] = bboxTensor
		outputTensors[i+3] = bboxTensor

		kpsTensor, _ := inference.CreateEmptyTensor[float32]([]int64{int64(cells), 10})
		outputs[i+6] = kpsTensor
		outputTensors[i+6] = kpsTensor
	}
	defer func() {
		for _, t := range outputTensors {
			t.Destroy()
		}
	}()

	if err := s.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	faces := s.postprocess(outputTensors, scale, origWidth, origHeight)
	return nms(faces, s.nmsThreshold), nil
}

// preprocess letterboxes the image into the model input square and
// normalizes to (x - 127.5) / 128 in NCHW RGB order.
func (s *SCRFD) preprocess(img gocv.Mat) (gocv.Mat, float32) {
	height := img.Rows()
	width := img.Cols()

	longest := width
	if height > width {
		longest = height
	}
	scale := float32(s.inputSize) / float32(longest)

	newWidth := int(float32(width) * scale)
	newHeight := int(float32(height) * scale)

	resized := gocv.NewMat()
	gocv.Resize(img, &resized, image.Pt(newWidth, newHeight), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMatWithSize(s.inputSize, s.inputSize, gocv.MatTypeCV8UC3)
	padded.SetTo(gocv.NewScalar(0, 0, 0, 0))

	roi := padded.Region(image.Rect(0, 0, newWidth, newHeight))
	resized.CopyTo(&roi)
	roi.Close()
	resized.Close()

	rgb := gocv.NewMat()
	gocv.CvtColor(padded, &rgb, gocv.ColorBGRToRGB)
	padded.Close()

	blob := gocv.NewMat()
	rgb.ConvertTo(&blob, gocv.MatTypeCV32FC3)
	rgb.Close()

	gocv.AddWeighted(blob, 1.0/128.0, blob, 0, -127.5/128.0, &blob)

	blobNCHW := gocv.BlobFromImage(blob, 1.0, image.Pt(s.inputSize, s.inputSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	blob.Close()

	return blobNCHW, scale
}

// postprocess decodes the anchor-relative model outputs into faces in
// original image coordinates.
func (s *SCRFD) postprocess(outputs []*ort.Tensor[float32], scale float32, origWidth, origHeight int) []Face {
	var faces []Face

	for level, stride := range s.strides {
		cellsPerRow := s.inputSize / stride

		scoreData := outputs[level].GetData()
		bboxData := outputs[level+3].GetData()
		kpsData := outputs[level+6].GetData()

		anchorIdx := 0
		for y := 0; y < cellsPerRow; y++ {
			for x := 0; x < cellsPerRow; x++ {
				for a := 0; a < s.numAnchors; a++ {
					score := sigmoid(scoreData[anchorIdx])
					if score <= s.confThreshold {
						anchorIdx++
						continue
					}

					// Anchor center in input coordinates
					cx := (float32(x) + 0.5) * float32(stride)
					cy := (float32(y) + 0.5) * float32(stride)

					// Bbox outputs are distances from the anchor to each edge
					b := bboxData[anchorIdx*4 : anchorIdx*4+4]
					box := BoundingBox{
						X1: clamp((cx-b[0]*float32(stride))/scale, 0, float32(origWidth)),
						Y1: clamp((cy-b[1]*float32(stride))/scale, 0, float32(origHeight)),
						X2: clamp((cx+b[2]*float32(stride))/scale, 0, float32(origWidth)),
						Y2: clamp((cy+b[3]*float32(stride))/scale, 0, float32(origHeight)),
					}

					k := kpsData[anchorIdx*10 : anchorIdx*10+10]
					decode := func(i int) Point {
						return Point{
							X: (cx + k[i*2]*float32(stride)) / scale,
							Y: (cy + k[i*2+1]*float32(stride)) / scale,
						}
					}
					kps := Keypoints{
						LeftEye:    decode(0),
						RightEye:   decode(1),
						Nose:       decode(2),
						LeftMouth:  decode(3),
						RightMouth: decode(4),
					}

					faces = append(faces, Face{
						BoundingBox: box,
						Keypoints:   kps,
						Score:       score,
					})
					anchorIdx++
				}
			}
		}
	}

	return faces
}

// Close releases detector resources
func (s *SCRFD) Close() error {
	return s.session.Destroy()
}

func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}

func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func bytesToFloat32(data []byte) []float32 {
	result := make([]float32, len(data)/4)
	for i := range result {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		result[i] = math.Float32frombits(bits)
	}
	return result
}
