package geometry

import (
	"image"
	"math"
)

// Rect is a rectangle in normalized frame coordinates (0..1 on both axes,
// origin top-left).
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Pixels scales the normalized rectangle to a width x height frame.
func (r Rect) Pixels(width, height int) image.Rectangle {
	x0 := int(math.Round(r.X * float64(width)))
	y0 := int(math.Round(r.Y * float64(height)))
	x1 := int(math.Round((r.X + r.W) * float64(width)))
	y1 := int(math.Round((r.Y + r.H) * float64(height)))
	return image.Rect(x0, y0, x1, y1)
}

// FrameGuide computes the framing guide for a delivery aspect ratio
// (e.g. 2.39) inside a frame with aspect sourceAspect.
// A guide wider than the frame is letterboxed (full width, bars top/bottom),
// a narrower one is pillarboxed (full height, bars left/right).
// Non-positive aspects yield the full frame.
func FrameGuide(sourceAspect, guideAspect float64) Rect {
	if !finite(sourceAspect) || !finite(guideAspect) || sourceAspect <= 0 || guideAspect <= 0 {
		return Rect{W: 1, H: 1}
	}

	if guideAspect >= sourceAspect {
		// Letterbox
		h := sourceAspect / guideAspect
		return Rect{X: 0, Y: (1 - h) / 2, W: 1, H: h}
	}

	// Pillarbox
	w := guideAspect / sourceAspect
	return Rect{X: (1 - w) / 2, Y: 0, W: w, H: 1}
}

// SafeArea shrinks a guide around its center to percent (0-100) of its size,
// e.g. 90 for title safe.
func SafeArea(r Rect, percent float64) Rect {
	if percent <= 0 || percent >= 100 {
		return r
	}
	k := percent / 100.0
	w, h := r.W*k, r.H*k
	return Rect{
		X: r.X + (r.W-w)/2,
		Y: r.Y + (r.H-h)/2,
		W: w,
		H: h,
	}
}

// DesqueezedAspect returns the aspect ratio of the desqueezed image for
// the target. The second value is false when the sensor height is unknown.
func DesqueezedAspect(t Target) (float64, bool) {
	if t.SensorHeightMm <= 0 || t.SensorWidthMm <= 0 {
		return 0, false
	}
	squeeze := t.Squeeze
	if squeeze < 1 {
		squeeze = 1
	}
	return t.SensorWidthMm * squeeze / t.SensorHeightMm, true
}
