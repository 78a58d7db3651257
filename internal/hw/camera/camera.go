package camera

import (
	"context"
	"errors"
	"image"
)

// Device errors. Implementations wrap these so callers can use errors.Is.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceBusy       = errors.New("camera device busy")
	ErrUnavailable      = errors.New("camera module unavailable")
)

// Device is the high-level interface of a multi-module phone camera,
// regardless of how it is driven (native bridge, network, simulator).
type Device interface {
	// Start begins streaming from the currently selected input.
	Start(ctx context.Context) error
	// Stop ends streaming and releases the hardware.
	Stop() error
	// SelectInput switches the physical module used for capture.
	SelectInput(ctx context.Context, role string) error
	// SetZoom applies a digital zoom factor on the selected module.
	SetZoom(ctx context.Context, zoom float64) error
	// Capture takes a single still from the selected module.
	Capture(ctx context.Context) (image.Image, error)
}

// Authorizer handles the camera permission prompt.
type Authorizer interface {
	Authorized() bool
	// RequestAccess prompts for permission and reports whether it was granted.
	RequestAccess(ctx context.Context) (bool, error)
}
