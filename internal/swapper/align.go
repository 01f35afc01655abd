package swapper

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/detector"
)

// ArcFace reference keypoints for a 112x112 aligned face
var arcfaceTemplate = []detector.Point{
	{X: 38.2946, Y: 51.6963}, // left eye
	{X: 73.5318, Y: 51.5014}, // right eye
	{X: 56.0252, Y: 71.7366}, // nose
	{X: 41.5493, Y: 92.3655}, // left mouth
	{X: 70.7299, Y: 92.2041}, // right mouth
}

// FaceAligner estimates similarity transforms from detected keypoints to the
// ArcFace template, scaled for the model input size it is asked for.
type FaceAligner struct {
	templates map[int]gocv.Mat
}

// NewFaceAligner creates a new face aligner
func NewFaceAligner() *FaceAligner {
	return &FaceAligner{templates: make(map[int]gocv.Mat)}
}

// AlignResult contains alignment results
type AlignResult struct {
	AlignedFace gocv.Mat // the aligned face crop
	Transform   gocv.Mat // 2x3 affine transform matrix
}

// Align warps the face described by kps into a size x size crop matching the
// ArcFace template layout.
func (a *FaceAligner) Align(img gocv.Mat, kps detector.Keypoints, size int) (*AlignResult, error) {
	srcPts := gocv.NewMatWithSize(5, 2, gocv.MatTypeCV32F)
	defer srcPts.Close()

	flat := kps.AsSlice()
	for i := 0; i < 5; i++ {
		srcPts.SetFloatAt(i, 0, flat[i*2])
		srcPts.SetFloatAt(i, 1, flat[i*2+1])
	}

	transform := estimateSimilarityTransform(srcPts, a.template(size))

	aligned := gocv.NewMat()
	gocv.WarpAffine(img, &aligned, transform, image.Pt(size, size))

	return &AlignResult{
		AlignedFace: aligned,
		Transform:   transform,
	}, nil
}

// template returns the destination point matrix for the given crop size,
// building and caching it on first use. Not safe for concurrent aligners,
// which is fine: each engine owns its own.
func (a *FaceAligner) template(size int) gocv.Mat {
	if m, ok := a.templates[size]; ok {
		return m
	}

	scale := float32(size) / 112.0
	m := gocv.NewMatWithSize(5, 2, gocv.MatTypeCV32F)
	for i, pt := range arcfaceTemplate {
		m.SetFloatAt(i, 0, pt.X*scale)
		m.SetFloatAt(i, 1, pt.Y*scale)
	}
	a.templates[size] = m
	return m
}

// Close releases aligner resources
func (a *FaceAligner) Close() {
	for _, m := range a.templates {
		m.Close()
	}
	a.templates = nil
}

// estimateSimilarityTransform computes a 2D similarity transform (rotation,
// scale, translation) from source points to destination points by least
// squares.
func estimateSimilarityTransform(src, dst gocv.Mat) gocv.Mat {
	n := src.Rows()

	// Centroids
	var srcCx, srcCy, dstCx, dstCy float32
	for i := 0; i < n; i++ {
		srcCx += src.GetFloatAt(i, 0)
		srcCy += src.GetFloatAt(i, 1)
		dstCx += dst.GetFloatAt(i, 0)
		dstCy += dst.GetFloatAt(i, 1)
	}
	srcCx /= float32(n)
	srcCy /= float32(n)
	dstCx /= float32(n)
	dstCy /= float32(n)

	// Centered coordinates and norms
	var srcNorm, dstNorm float64
	srcCentered := make([]float32, n*2)
	dstCentered := make([]float32, n*2)
	for i := 0; i < n; i++ {
		srcCentered[i*2] = src.GetFloatAt(i, 0) - srcCx
		srcCentered[i*2+1] = src.GetFloatAt(i, 1) - srcCy
		dstCentered[i*2] = dst.GetFloatAt(i, 0) - dstCx
		dstCentered[i*2+1] = dst.GetFloatAt(i, 1) - dstCy

		srcNorm += float64(srcCentered[i*2]*srcCentered[i*2] + srcCentered[i*2+1]*srcCentered[i*2+1])
		dstNorm += float64(dstCentered[i*2]*dstCentered[i*2] + dstCentered[i*2+1]*dstCentered[i*2+1])
	}
	srcNorm = math.Sqrt(srcNorm)
	dstNorm = math.Sqrt(dstNorm)

	// Cross-covariance
	var a11, a12, a21, a22 float64
	for i := 0; i < n; i++ {
		sx := float64(srcCentered[i*2])
		sy := float64(srcCentered[i*2+1])
		dx := float64(dstCentered[i*2])
		dy := float64(dstCentered[i*2+1])

		a11 += sx * dx
		a12 += sx * dy
		a21 += sy * dx
		a22 += sy * dy
	}

	// cos ∝ a11 + a22, sin ∝ a21 - a12
	norm := math.Sqrt((a11+a22)*(a11+a22) + (a21-a12)*(a21-a12))
	if norm < 1e-10 {
		norm = 1
	}
	cosTheta := (a11 + a22) / norm
	sinTheta := (a21 - a12) / norm
	scale := dstNorm / srcNorm

	transform := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	transform.SetDoubleAt(0, 0, scale*cosTheta)
	transform.SetDoubleAt(0, 1, -scale*sinTheta)
	transform.SetDoubleAt(1, 0, scale*sinTheta)
	transform.SetDoubleAt(1, 1, scale*cosTheta)

	// Translation: dstC - scale * R * srcC
	tx := float64(dstCx) - scale*(cosTheta*float64(srcCx)-sinTheta*float64(srcCy))
	ty := float64(dstCy) - scale*(sinTheta*float64(srcCx)+cosTheta*float64(srcCy))
	transform.SetDoubleAt(0, 2, tx)
	transform.SetDoubleAt(1, 2, ty)

	return transform
}
