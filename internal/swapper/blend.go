package swapper

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/detector"
)

// Blender pastes a swapped face crop back into the original frame
type Blender struct {
	blurSize int
}

// NewBlender creates a new face blender. blurSize controls edge feathering
// and is forced odd for the Gaussian kernel.
func NewBlender(blurSize int) *Blender {
	if blurSize%2 == 0 {
		blurSize++
	}
	return &Blender{blurSize: blurSize}
}

// BlendFace warps the swapped crop back into the frame using the inverse of
// the alignment transform and feathers it in with an elliptical mask derived
// from the target keypoints. The blurred mask acts as a per-pixel weight, so
// the edge fades into the frame instead of cutting hard. The frame is
// modified in place.
func (b *Blender) BlendFace(swapped gocv.Mat, frame *gocv.Mat, transform gocv.Mat, kps detector.Keypoints) {
	invTransform := gocv.NewMat()
	gocv.InvertAffineTransform(transform, &invTransform)
	defer invTransform.Close()

	frameSize := image.Pt(frame.Cols(), frame.Rows())

	warpedFace := gocv.NewMat()
	gocv.WarpAffine(swapped, &warpedFace, invTransform, frameSize)
	defer warpedFace.Close()

	mask := b.faceMask(frame.Rows(), frame.Cols(), kps)
	defer mask.Close()

	// Mask values become weights in [0, 1], replicated per channel
	alpha := gocv.NewMat()
	defer alpha.Close()
	mask.ConvertTo(&alpha, gocv.MatTypeCV32F)
	alpha.DivideFloat(255)

	weights := gocv.NewMat()
	defer weights.Close()
	gocv.Merge([]gocv.Mat{alpha, alpha, alpha}, &weights)

	faceF := gocv.NewMat()
	defer faceF.Close()
	warpedFace.ConvertTo(&faceF, gocv.MatTypeCV32FC3)
	gocv.Multiply(faceF, weights, &faceF)

	remainder := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 1, 1, 0),
		frame.Rows(), frame.Cols(), gocv.MatTypeCV32FC3)
	defer remainder.Close()
	gocv.Subtract(remainder, weights, &remainder)

	frameF := gocv.NewMat()
	defer frameF.Close()
	frame.ConvertTo(&frameF, gocv.MatTypeCV32FC3)
	gocv.Multiply(frameF, remainder, &frameF)

	gocv.Add(faceF, frameF, &faceF)
	faceF.ConvertTo(frame, gocv.MatTypeCV8UC3)
}

// faceMask builds a soft elliptical mask around the face in frame coordinates
func (b *Blender) faceMask(rows, cols int, kps detector.Keypoints) gocv.Mat {
	mask := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8U)

	// Face center from the keypoint centroid, extent from eye distance
	centerX := (kps.LeftEye.X + kps.RightEye.X + kps.Nose.X + kps.LeftMouth.X + kps.RightMouth.X) / 5
	centerY := (kps.LeftEye.Y + kps.RightEye.Y + kps.Nose.Y + kps.LeftMouth.Y + kps.RightMouth.Y) / 5
	eyeDist := kps.RightEye.X - kps.LeftEye.X
	faceWidth := eyeDist * 2.5
	faceHeight := eyeDist * 3.0

	gocv.Ellipse(&mask,
		image.Pt(int(centerX), int(centerY)),
		image.Pt(int(faceWidth/2), int(faceHeight/2)),
		0, 0, 360,
		color.RGBA{R: 255, G: 255, B: 255, A: 255},
		-1,
	)

	blurred := gocv.NewMat()
	gocv.GaussianBlur(mask, &blurred, image.Pt(b.blurSize, b.blurSize), 0, 0, gocv.BorderDefault)
	mask.Close()

	return blurred
}

// Close releases blender resources
func (b *Blender) Close() {}
