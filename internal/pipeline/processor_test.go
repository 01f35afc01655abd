package pipeline

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/detector"
	"github.com/dudu/swapstream/internal/imaging"
	"github.com/dudu/swapstream/internal/reference"
	"github.com/dudu/swapstream/internal/tracking"
)

type stubLocator struct {
	faces []detector.Face
	err   error
}

func (s *stubLocator) Detect(img gocv.Mat) ([]detector.Face, error) {
	return s.faces, s.err
}

type stubSwapper struct {
	calls int
	ref   *detector.Face
	err   error
}

func (s *stubSwapper) Swap(frame *gocv.Mat, target, ref *detector.Face) error {
	s.calls++
	s.ref = ref
	return s.err
}

func oneFace() []detector.Face {
	return []detector.Face{
		{BoundingBox: detector.BoundingBox{X1: 10, Y1: 10, X2: 90, Y2: 90}},
	}
}

func storeWithReference(t *testing.T) *reference.Store {
	t.Helper()
	store := reference.NewStore(zerolog.Nop(), &stubLocator{faces: oneFace()})

	img := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()
	data, err := imaging.EncodeJPEG(img, 90)
	require.NoError(t, err)

	_, err = store.Set(data, "ref.jpg")
	require.NoError(t, err)
	return store
}

func newFrame() gocv.Mat {
	return gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
}

func framesDiffer(t *testing.T, a, b gocv.Mat) bool {
	t.Helper()
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(a, b, &diff)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(diff, &gray, gocv.ColorBGRToGray)
	return gocv.CountNonZero(gray) > 0
}

func TestRenderWithoutReferenceSkipsDetection(t *testing.T) {
	loc := &stubLocator{faces: oneFace()}
	swap := &stubSwapper{}
	store := reference.NewStore(zerolog.Nop(), loc)
	p := NewProcessor(zerolog.Nop(), store, tracking.NewCache(loc, 4), swap)

	frame := newFrame()
	defer frame.Close()
	before := frame.Clone()
	defer before.Close()

	p.Render(&frame)

	assert.Zero(t, swap.calls)
	assert.False(t, framesDiffer(t, frame, before))
}

func TestRenderSwapsDetectedTarget(t *testing.T) {
	loc := &stubLocator{faces: oneFace()}
	swap := &stubSwapper{}
	store := storeWithReference(t)
	p := NewProcessor(zerolog.Nop(), store, tracking.NewCache(loc, 4), swap)

	frame := newFrame()
	defer frame.Close()

	p.Render(&frame)

	require.Equal(t, 1, swap.calls)
	assert.Equal(t, &store.Get().Descriptor, swap.ref)
}

func TestRenderNoTargetPaintsWatermark(t *testing.T) {
	loc := &stubLocator{} // no faces in the frame
	swap := &stubSwapper{}
	p := NewProcessor(zerolog.Nop(), storeWithReference(t), tracking.NewCache(loc, 4), swap)

	frame := newFrame()
	defer frame.Close()
	before := frame.Clone()
	defer before.Close()

	p.Render(&frame)

	assert.Zero(t, swap.calls)
	assert.True(t, framesDiffer(t, frame, before))
}

func TestRenderDetectionErrorPaintsWatermark(t *testing.T) {
	loc := &stubLocator{err: errors.New("model exploded")}
	swap := &stubSwapper{}
	p := NewProcessor(zerolog.Nop(), storeWithReference(t), tracking.NewCache(loc, 4), swap)

	frame := newFrame()
	defer frame.Close()
	before := frame.Clone()
	defer before.Close()

	p.Render(&frame)

	assert.Zero(t, swap.calls)
	assert.True(t, framesDiffer(t, frame, before))
}

func TestRenderSwapErrorAnnotatesFrame(t *testing.T) {
	loc := &stubLocator{faces: oneFace()}
	swap := &stubSwapper{err: errors.New("bad embedding")}
	p := NewProcessor(zerolog.Nop(), storeWithReference(t), tracking.NewCache(loc, 4), swap)

	frame := newFrame()
	defer frame.Close()
	before := frame.Clone()
	defer before.Close()

	p.Render(&frame)

	require.Equal(t, 1, swap.calls)
	assert.True(t, framesDiffer(t, frame, before))
}
