package detector

// Point represents a 2D point
type Point struct {
	X, Y float32
}

// BoundingBox represents a face bounding box
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Center returns box center point
func (b BoundingBox) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Area returns box area
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Keypoints represents the 5 facial keypoints produced by the detector
type Keypoints struct {
	LeftEye    Point // index 0
	RightEye   Point // index 1
	Nose       Point // index 2
	LeftMouth  Point // index 3
	RightMouth Point // index 4
}

// AsSlice returns keypoints as a flat slice [x0,y0,x1,y1,...]
func (k Keypoints) AsSlice() []float32 {
	return []float32{
		k.LeftEye.X, k.LeftEye.Y,
		k.RightEye.X, k.RightEye.Y,
		k.Nose.X, k.Nose.Y,
		k.LeftMouth.X, k.LeftMouth.Y,
		k.RightMouth.X, k.RightMouth.Y,
	}
}

// Embedding represents a 512-dimensional identity embedding
type Embedding [512]float32

// Landmarks106 represents 106 facial landmark points from insightface
type Landmarks106 [106]Point

// BoundingBox computes the tight bounding box around all 106 points
func (l *Landmarks106) BoundingBox() BoundingBox {
	minX, minY := l[0].X, l[0].Y
	maxX, maxY := l[0].X, l[0].Y
	for i := 1; i < len(l); i++ {
		if l[i].X < minX {
			minX = l[i].X
		}
		if l[i].X > maxX {
			maxX = l[i].X
		}
		if l[i].Y < minY {
			minY = l[i].Y
		}
		if l[i].Y > maxY {
			maxY = l[i].Y
		}
	}
	return BoundingBox{X1: minX, Y1: minY, X2: maxX, Y2: maxY}
}

// Face describes one detected face at one instant. BoundingBox, Keypoints
// and Score always come from the detector; Landmarks106 and Embedding are
// filled in by the analyzer when the corresponding models are loaded.
// A Face is never mutated after it is produced, so the tracking cache can
// hand the same value back on reuse frames.
type Face struct {
	BoundingBox  BoundingBox
	Keypoints    Keypoints
	Landmarks106 *Landmarks106 // optional
	Embedding    *Embedding    // optional, L2-normalized
	Score        float32
}

// Largest returns the face with the maximum bounding-box area, or nil when
// the slice is empty. The first maximum wins on ties.
func Largest(faces []Face) *Face {
	var best *Face
	for i := range faces {
		if best == nil || faces[i].BoundingBox.Area() > best.BoundingBox.Area() {
			best = &faces[i]
		}
	}
	return best
}
