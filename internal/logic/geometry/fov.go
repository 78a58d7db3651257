package geometry

import (
	"fmt"
	"math"
)

// DegreesToRadians converts an angle in degrees to radians.
func DegreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// RadiansToDegrees converts an angle in radians to degrees.
func RadiansToDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// HorizontalFOV returns the horizontal field of view in radians.
// Formula: FOV = 2 × arctan((sensor_width / squeeze) / (2 × focal_length))
//
// focalLengthMm must be > 0; the function does not validate its inputs.
func HorizontalFOV(sensorWidthMm, focalLengthMm, squeeze float64) float64 {
	return 2.0 * math.Atan((sensorWidthMm/squeeze)/(2.0*focalLengthMm))
}

// VerticalFOV returns the vertical field of view in radians.
// Formula: FOV = 2 × arctan(sensor_height / (2 × focal_length))
func VerticalFOV(sensorHeightMm, focalLengthMm float64) float64 {
	return 2.0 * math.Atan(sensorHeightMm/(2.0*focalLengthMm))
}

// Target is a fully resolved virtual camera + lens configuration.
type Target struct {
	SensorWidthMm  float64 `json:"sensor_width_mm"`  // active sensor width of the selected camera mode
	SensorHeightMm float64 `json:"sensor_height_mm"` // optional, 0 = unknown
	FocalLengthMm  float64 `json:"focal_length_mm"`
	Squeeze        float64 `json:"squeeze"` // anamorphic squeeze, 1.0 = spherical
}

// Validate reports whether the target can produce a meaningful field of view.
func (t Target) Validate() error {
	if !finite(t.SensorWidthMm) || t.SensorWidthMm <= 0 {
		return fmt.Errorf("sensor width must be > 0, got %g", t.SensorWidthMm)
	}
	if !finite(t.SensorHeightMm) || t.SensorHeightMm < 0 {
		return fmt.Errorf("sensor height must be >= 0, got %g", t.SensorHeightMm)
	}
	if !finite(t.FocalLengthMm) || t.FocalLengthMm <= 0 {
		return fmt.Errorf("focal length must be > 0, got %g", t.FocalLengthMm)
	}
	if !finite(t.Squeeze) || t.Squeeze < 1.0 {
		return fmt.Errorf("squeeze must be >= 1.0, got %g", t.Squeeze)
	}
	return nil
}

// HFOVRadians returns the target horizontal field of view in radians.
func (t Target) HFOVRadians() float64 {
	return HorizontalFOV(t.SensorWidthMm, t.FocalLengthMm, t.Squeeze)
}

// HFOVDegrees returns the target horizontal field of view in degrees.
func (t Target) HFOVDegrees() float64 {
	return RadiansToDegrees(t.HFOVRadians())
}

// VFOVDegrees returns the vertical field of view in degrees, 0 when the
// sensor height is unknown.
func (t Target) VFOVDegrees() float64 {
	if t.SensorHeightMm <= 0 {
		return 0
	}
	return RadiansToDegrees(VerticalFOV(t.SensorHeightMm, t.FocalLengthMm))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
