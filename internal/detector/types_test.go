package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundingBoxArea(t *testing.T) {
	b := BoundingBox{X1: 10, Y1: 20, X2: 30, Y2: 60}
	assert.Equal(t, float32(20), b.Width())
	assert.Equal(t, float32(40), b.Height())
	assert.Equal(t, float32(800), b.Area())
	assert.Equal(t, Point{X: 20, Y: 40}, b.Center())
}

func TestLargest(t *testing.T) {
	assert.Nil(t, Largest(nil))
	assert.Nil(t, Largest([]Face{}))

	faces := []Face{
		{BoundingBox: BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{BoundingBox: BoundingBox{X1: 0, Y1: 0, X2: 50, Y2: 50}},
		{BoundingBox: BoundingBox{X1: 0, Y1: 0, X2: 20, Y2: 20}},
	}
	got := Largest(faces)
	require.NotNil(t, got)
	assert.Equal(t, faces[1].BoundingBox, got.BoundingBox)
}

func TestLargestFirstMaximumWins(t *testing.T) {
	faces := []Face{
		{BoundingBox: BoundingBox{X1: 0, Y1: 0, X2: 30, Y2: 30}, Score: 0.9},
		{BoundingBox: BoundingBox{X1: 100, Y1: 100, X2: 130, Y2: 130}, Score: 0.5},
	}
	got := Largest(faces)
	require.NotNil(t, got)
	assert.Equal(t, float32(0.9), got.Score)
}

func TestIOU(t *testing.T) {
	a := BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}

	assert.Equal(t, float32(1), iou(a, a))
	assert.Equal(t, float32(0), iou(a, BoundingBox{X1: 20, Y1: 20, X2: 30, Y2: 30}))

	// Half overlap: intersection 50, union 150
	b := BoundingBox{X1: 5, Y1: 0, X2: 15, Y2: 10}
	assert.InDelta(t, 50.0/150.0, float64(iou(a, b)), 1e-6)
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	faces := []Face{
		{BoundingBox: BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, Score: 0.6},
		{BoundingBox: BoundingBox{X1: 1, Y1: 1, X2: 11, Y2: 11}, Score: 0.9},
		{BoundingBox: BoundingBox{X1: 100, Y1: 100, X2: 110, Y2: 110}, Score: 0.5},
	}
	kept := nms(faces, 0.4)

	require.Len(t, kept, 2)
	// Highest score survives, the overlapping lower score is suppressed
	assert.Equal(t, float32(0.9), kept[0].Score)
	assert.Equal(t, float32(0.5), kept[1].Score)
}

func TestLandmarks106BoundingBox(t *testing.T) {
	var lm Landmarks106
	for i := range lm {
		lm[i] = Point{X: 50, Y: 50}
	}
	lm[10] = Point{X: 10, Y: 200}
	lm[20] = Point{X: 120, Y: 30}

	box := lm.BoundingBox()
	assert.Equal(t, BoundingBox{X1: 10, Y1: 30, X2: 120, Y2: 200}, box)
}
