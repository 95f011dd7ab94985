// Package geometry holds the axis-aligned rectangle primitives shared by
// the overlap evaluator, the calibrator and the upstream detection filter.
//
// All rectangles live in the detector's pixel space: origin top-left,
// x growing right, y growing down.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRect is returned by Validate for NaN/Inf coordinates or a
// negative width/height.
var ErrInvalidRect = errors.New("invalid rectangle")

// Rect is an axis-aligned rectangle.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.Left + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Area returns width*height, never negative.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Validate reports whether r is well formed.
func (r Rect) Validate() error {
	for _, v := range [...]float64{r.Left, r.Top, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate in %+v", ErrInvalidRect, r)
		}
	}
	if r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("%w: negative size %gx%g", ErrInvalidRect, r.Width, r.Height)
	}
	return nil
}

// Sanitize clamps a malformed rectangle to the empty rectangle at its
// origin (or at 0,0 when the origin itself is not finite). Well-formed
// rectangles are returned unchanged.
func (r Rect) Sanitize() Rect {
	if r.Validate() == nil {
		return r
	}
	if math.IsNaN(r.Left) || math.IsInf(r.Left, 0) || math.IsNaN(r.Top) || math.IsInf(r.Top, 0) {
		return Rect{}
	}
	return Rect{Left: r.Left, Top: r.Top}
}

// Intersect returns the overlap of a and b. ok is false when the two
// rectangles share no area, including when they only touch along an edge.
func Intersect(a, b Rect) (Rect, bool) {
	left, width, ok := overlap1D(a.Left, a.Width, b.Left, b.Width)
	if !ok {
		return Rect{}, false
	}
	top, height, ok := overlap1D(a.Top, a.Height, b.Top, b.Height)
	if !ok {
		return Rect{}, false
	}
	return Rect{Left: left, Top: top, Width: width, Height: height}, true
}

// overlap1D intersects [aStart, aStart+aLen) with [bStart, bStart+bLen).
// When the overlap coincides with one of the inputs, that input's length
// is returned verbatim so that Intersect(a, a) reproduces a exactly.
func overlap1D(aStart, aLen, bStart, bLen float64) (start, length float64, ok bool) {
	aEnd := aStart + aLen
	bEnd := bStart + bLen
	start = math.Max(aStart, bStart)
	end := math.Min(aEnd, bEnd)
	if end <= start {
		return 0, 0, false
	}
	switch {
	case start == aStart && end == aEnd:
		length = aLen
	case start == bStart && end == bEnd:
		length = bLen
	default:
		length = end - start
	}
	return start, length, true
}

// IoU returns intersection-over-union of a and b in [0, 1].
func IoU(a, b Rect) float64 {
	inter, ok := Intersect(a, b)
	if !ok {
		return 0
	}
	union := a.Area() + b.Area() - inter.Area()
	if union <= 0 {
		return 0
	}
	return inter.Area() / union
}
