package imaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func encodedImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	defer img.Close()
	data, err := EncodeJPEG(img, 90)
	require.NoError(t, err)
	return data
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	data := encodedImage(t, 64, 48)

	img, err := Decode(data)
	require.NoError(t, err)
	defer img.Close()

	assert.Equal(t, 64, img.Cols())
	assert.Equal(t, 48, img.Rows())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not a jpeg"))
	assert.ErrorIs(t, err, ErrDecodeFailure)

	_, err = Decode(nil)
	assert.ErrorIs(t, err, ErrDecodeFailure)
}

func TestCapWidthDownscales(t *testing.T) {
	img := gocv.NewMatWithSize(720, 1280, gocv.MatTypeCV8UC3)
	defer img.Close()

	CapWidth(&img, MaxStreamWidth)

	assert.Equal(t, 640, img.Cols())
	assert.Equal(t, 360, img.Rows())
}

func TestCapWidthLeavesSmallFramesAlone(t *testing.T) {
	img := gocv.NewMatWithSize(200, 320, gocv.MatTypeCV8UC3)
	defer img.Close()

	CapWidth(&img, MaxStreamWidth)

	assert.Equal(t, 320, img.Cols())
	assert.Equal(t, 200, img.Rows())
}

func TestCappedSize(t *testing.T) {
	w, h := CappedSize(1280, 720, 640)
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)

	w, h = CappedSize(320, 200, 640)
	assert.Equal(t, 320, w)
	assert.Equal(t, 200, h)
}

func TestThumbnailCapsWidth(t *testing.T) {
	img := gocv.NewMatWithSize(800, 1024, gocv.MatTypeCV8UC3)
	defer img.Close()

	data, err := Thumbnail(img)
	require.NoError(t, err)

	thumb, err := Decode(data)
	require.NoError(t, err)
	defer thumb.Close()

	assert.LessOrEqual(t, thumb.Cols(), ThumbMaxWidth)
	// Aspect ratio preserved
	assert.Equal(t, 200, thumb.Rows())
}

func TestWatermarkModifiesFrame(t *testing.T) {
	img := gocv.NewMatWithSize(100, 200, gocv.MatTypeCV8UC3)
	defer img.Close()
	before := img.Clone()
	defer before.Close()

	Watermark(&img, WatermarkText)

	assert.NotZero(t, nonZeroDiff(t, img, before))
}

func TestWatermarkEmptyTextIsNoop(t *testing.T) {
	img := gocv.NewMatWithSize(100, 200, gocv.MatTypeCV8UC3)
	defer img.Close()
	before := img.Clone()
	defer before.Close()

	Watermark(&img, "")

	assert.Zero(t, nonZeroDiff(t, img, before))
}

// nonZeroDiff counts the pixels where the two frames differ
func nonZeroDiff(t *testing.T, a, b gocv.Mat) int {
	t.Helper()
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(a, b, &diff)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(diff, &gray, gocv.ColorBGRToGray)
	return gocv.CountNonZero(gray)
}
