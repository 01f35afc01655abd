// Package imaging handles the compressed-image edge of the pipeline:
// JPEG decode/encode, working-resolution caps and overlay text.
package imaging

import (
	"errors"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

const (
	// StreamQuality is the JPEG quality for frames sent back to a live
	// client, tuned for latency over size.
	StreamQuality = 72
	// ThumbQuality is the JPEG quality for reference thumbnails.
	ThumbQuality = 85
	// MaxStreamWidth caps the working resolution so detector and swap cost
	// stay bounded regardless of the source resolution.
	MaxStreamWidth = 640
	// ThumbMaxWidth caps reference thumbnail width.
	ThumbMaxWidth = 256

	// WatermarkText is burned into frames that pass through unswapped.
	WatermarkText = "AI face swap (local)"
)

// ErrDecodeFailure reports bytes that do not decode to an image
var ErrDecodeFailure = errors.New("input is not a valid image")

// Decode decodes compressed image bytes into a BGR pixel buffer.
// The caller owns the returned Mat.
func Decode(data []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, ErrDecodeFailure
	}
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, ErrDecodeFailure
	}
	return img, nil
}

// EncodeJPEG re-encodes a pixel buffer as JPEG at the given quality
func EncodeJPEG(img gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	// The native buffer is freed on Close, so copy out
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// CapWidth downscales the image in place when it is wider than maxWidth,
// preserving aspect ratio.
func CapWidth(img *gocv.Mat, maxWidth int) {
	width := img.Cols()
	if width <= maxWidth {
		return
	}
	scale := float64(maxWidth) / float64(width)
	height := int(float64(img.Rows()) * scale)
	gocv.Resize(*img, img, image.Pt(maxWidth, height), 0, 0, gocv.InterpolationArea)
}

// CappedSize reports the dimensions CapWidth would produce for a source of
// the given size.
func CappedSize(width, height, maxWidth int) (int, int) {
	if width <= maxWidth {
		return width, height
	}
	scale := float64(maxWidth) / float64(width)
	return maxWidth, int(float64(height) * scale)
}

// Watermark burns text into the bottom-left corner of the frame, dark
// outline under a light fill so it reads on any background. Empty text is a
// no-op.
func Watermark(img *gocv.Mat, text string) {
	if text == "" {
		return
	}
	org := image.Pt(10, img.Rows()-20)
	gocv.PutText(img, text, org, gocv.FontHersheySimplex, 1.0,
		color.RGBA{R: 0, G: 0, B: 0, A: 255}, 4)
	gocv.PutText(img, text, org, gocv.FontHersheySimplex, 1.0,
		color.RGBA{R: 255, G: 255, B: 255, A: 255}, 2)
}

// Thumbnail produces a width-capped JPEG rendition of the image for display
func Thumbnail(img gocv.Mat) ([]byte, error) {
	small := img.Clone()
	defer small.Close()
	CapWidth(&small, ThumbMaxWidth)
	return EncodeJPEG(small, ThumbQuality)
}
