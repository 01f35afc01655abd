package reference

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/detector"
	"github.com/dudu/swapstream/internal/imaging"
)

type stubLocator struct {
	faces []detector.Face
	err   error
}

func (s *stubLocator) Detect(img gocv.Mat) ([]detector.Face, error) {
	return s.faces, s.err
}

func encodedImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	defer img.Close()
	data, err := imaging.EncodeJPEG(img, 90)
	require.NoError(t, err)
	return data
}

func oneFace() []detector.Face {
	return []detector.Face{
		{BoundingBox: detector.BoundingBox{X1: 10, Y1: 10, X2: 90, Y2: 90}},
	}
}

func TestSetStoresCompleteReference(t *testing.T) {
	store := NewStore(zerolog.Nop(), &stubLocator{faces: oneFace()})

	ref, err := store.Set(encodedImage(t, 400, 300), "alice.png")
	require.NoError(t, err)

	assert.Equal(t, "alice.png", ref.ID)
	assert.NotNil(t, ref.Thumbnail)
	assert.Same(t, ref, store.Get())
	assert.Equal(t, ref.Thumbnail, store.Thumbnail())

	// Thumbnail width is capped
	thumb, err := imaging.Decode(ref.Thumbnail)
	require.NoError(t, err)
	defer thumb.Close()
	assert.LessOrEqual(t, thumb.Cols(), imaging.ThumbMaxWidth)
}

func TestSetPicksLargestFace(t *testing.T) {
	faces := []detector.Face{
		{BoundingBox: detector.BoundingBox{X1: 0, Y1: 0, X2: 20, Y2: 20}, Score: 0.4},
		{BoundingBox: detector.BoundingBox{X1: 0, Y1: 0, X2: 200, Y2: 200}, Score: 0.8},
	}
	store := NewStore(zerolog.Nop(), &stubLocator{faces: faces})

	ref, err := store.Set(encodedImage(t, 400, 300), "x.jpg")
	require.NoError(t, err)
	assert.Equal(t, float32(0.8), ref.Descriptor.Score)
}

func TestSetDecodeFailureLeavesPreviousReference(t *testing.T) {
	loc := &stubLocator{faces: oneFace()}
	store := NewStore(zerolog.Nop(), loc)

	prev, err := store.Set(encodedImage(t, 100, 100), "first.jpg")
	require.NoError(t, err)

	_, err = store.Set([]byte("not an image"), "second.jpg")
	assert.ErrorIs(t, err, imaging.ErrDecodeFailure)
	assert.Same(t, prev, store.Get())
}

func TestSetNoFaceLeavesPreviousReference(t *testing.T) {
	loc := &stubLocator{faces: oneFace()}
	store := NewStore(zerolog.Nop(), loc)

	prev, err := store.Set(encodedImage(t, 100, 100), "first.jpg")
	require.NoError(t, err)

	loc.faces = nil
	_, err = store.Set(encodedImage(t, 100, 100), "second.jpg")
	assert.ErrorIs(t, err, ErrNoFaceFound)
	assert.Same(t, prev, store.Get())
	assert.Equal(t, "first.jpg", store.Get().ID)
}

func TestSetDetectorErrorLeavesPreviousReference(t *testing.T) {
	loc := &stubLocator{faces: oneFace()}
	store := NewStore(zerolog.Nop(), loc)

	prev, err := store.Set(encodedImage(t, 100, 100), "first.jpg")
	require.NoError(t, err)

	loc.err = errors.New("inference failed")
	loc.faces = nil
	_, err = store.Set(encodedImage(t, 100, 100), "second.jpg")
	assert.Error(t, err)
	assert.Same(t, prev, store.Get())
}

func TestEmptyStore(t *testing.T) {
	store := NewStore(zerolog.Nop(), &stubLocator{})
	assert.Nil(t, store.Get())
	assert.Nil(t, store.Thumbnail())
}

func TestDeriveID(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"plain", "face.jpg", "face.jpg"},
		{"path stripped", "uploads/2024/face.jpg", "face.jpg"},
		{"empty falls back", "", "char"},
		{"trailing slash falls back", "uploads/", "char"},
		{"long name truncated", strings.Repeat("a", 100), strings.Repeat("a", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveID(tt.filename))
		})
	}
}
