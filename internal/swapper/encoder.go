package swapper

import (
	"fmt"
	"image"
	"math"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/detector"
	"github.com/dudu/swapstream/internal/inference"
)

const arcfaceSize = 112

// ArcFaceEncoder extracts identity embeddings using ArcFace
type ArcFaceEncoder struct {
	session *inference.Session
	aligner *FaceAligner
}

// NewArcFaceEncoder creates a new ArcFace encoder
func NewArcFaceEncoder(log zerolog.Logger, modelPath string) (*ArcFaceEncoder, error) {
	inputNames := []string{"input.1"}
	outputNames := []string{"683"} // output node name from model

	session, err := inference.NewSession(log, modelPath, inputNames, outputNames)
	if err != nil {
		return nil, fmt.Errorf("failed to create ArcFace session: %w", err)
	}

	return &ArcFaceEncoder{
		session: session,
		aligner: NewFaceAligner(),
	}, nil
}

// Embed aligns the detected face and computes its 512-dim embedding.
// Implements detector.Embedder.
func (e *ArcFaceEncoder) Embed(img gocv.Mat, face *detector.Face) (*detector.Embedding, error) {
	aligned, err := e.aligner.Align(img, face.Keypoints, arcfaceSize)
	if err != nil {
		return nil, fmt.Errorf("alignment failed: %w", err)
	}
	defer aligned.AlignedFace.Close()
	defer aligned.Transform.Close()

	return e.Extract(aligned.AlignedFace)
}

// Extract computes the 512-dim embedding from an aligned 112x112 face
func (e *ArcFaceEncoder) Extract(alignedFace gocv.Mat) (*detector.Embedding, error) {
	if alignedFace.Rows() != arcfaceSize || alignedFace.Cols() != arcfaceSize {
		return nil, fmt.Errorf("expected %dx%d input, got %dx%d",
			arcfaceSize, arcfaceSize, alignedFace.Cols(), alignedFace.Rows())
	}

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, arcfaceSize, arcfaceSize),
		e.preprocess(alignedFace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 512})
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := e.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return normalizeEmbedding(outputTensor.GetData()), nil
}

// preprocess converts the aligned face to RGB NCHW in [0, 1]
func (e *ArcFaceEncoder) preprocess(img gocv.Mat) []float32 {
	rgb := gocv.NewMat()
	gocv.CvtColor(img, &rgb, gocv.ColorBGRToRGB)
	defer rgb.Close()

	floatImg := gocv.NewMat()
	rgb.ConvertTo(&floatImg, gocv.MatTypeCV32FC3)
	defer floatImg.Close()

	blob := gocv.BlobFromImage(floatImg, 1.0/255.0, image.Pt(arcfaceSize, arcfaceSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	return bytesToFloat32Slice(blob.ToBytes())
}

// normalizeEmbedding L2-normalizes the raw model output
func normalizeEmbedding(data []float32) *detector.Embedding {
	var embedding detector.Embedding

	var norm float64
	for _, v := range data[:512] {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		norm = 1
	}

	for i := 0; i < 512; i++ {
		embedding[i] = data[i] / float32(norm)
	}

	return &embedding
}

// Close releases encoder resources
func (e *ArcFaceEncoder) Close() error {
	e.aligner.Close()
	return e.session.Destroy()
}

// CosineSimilarity computes cosine similarity between two embeddings.
// Embeddings are L2-normalized so the dot product is the similarity.
func CosineSimilarity(a, b *detector.Embedding) float32 {
	var dot float32
	for i := 0; i < 512; i++ {
		dot += a[i] * b[i]
	}
	return dot
}

func bytesToFloat32Slice(data []byte) []float32 {
	result := make([]float32, len(data)/4)
	for i := range result {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		result[i] = math.Float32frombits(bits)
	}
	return result
}
