package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/cjeanneret/ScoutGo/internal/debug"
)

// MockDevice simulates a phone camera for development on PC or testing.
// Digital zoom is simulated by cropping the center of the source frame and
// scaling it back to full size.
type MockDevice struct {
	mu      sync.Mutex
	roles   map[string]bool
	source  image.Image
	delay   time.Duration
	denied  bool
	failing []error

	running bool
	role    string
	zoom    float64
	calls   []string
}

// NewMockDevice creates a simulated device exposing the given roles.
// source is the scene every module sees; nil uses a synthetic test chart.
func NewMockDevice(roles []string, source image.Image) *MockDevice {
	m := &MockDevice{
		roles:  make(map[string]bool, len(roles)),
		source: source,
		zoom:   1.0,
	}
	for _, r := range roles {
		m.roles[r] = true
	}
	if m.source == nil {
		m.source = TestChart(1280, 720)
	}
	return m
}

// SetDelay makes every SelectInput/SetZoom take d (or until ctx is done).
func (m *MockDevice) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// SetDenied simulates a revoked (true) or granted (false) permission.
func (m *MockDevice) SetDenied(denied bool) {
	m.mu.Lock()
	m.denied = denied
	m.mu.Unlock()
}

// FailNext queues an error returned by the next SelectInput call.
func (m *MockDevice) FailNext(err error) {
	m.mu.Lock()
	m.failing = append(m.failing, err)
	m.mu.Unlock()
}

// Calls returns the recorded device calls ("start", "select:main", "zoom:2.00", ...).
func (m *MockDevice) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// State returns the selected role, zoom and whether the device streams.
func (m *MockDevice) State() (role string, zoom float64, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role, m.zoom, m.running
}

func (m *MockDevice) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "start")
	if m.denied {
		return ErrPermissionDenied
	}
	m.running = true
	debug.Trace("Mock camera: start")
	return nil
}

func (m *MockDevice) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "stop")
	m.running = false
	debug.Trace("Mock camera: stop")
	return nil
}

func (m *MockDevice) SelectInput(ctx context.Context, role string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "select:"+role)

	if len(m.failing) > 0 {
		err := m.failing[0]
		m.failing = m.failing[1:]
		return err
	}
	if m.denied {
		return ErrPermissionDenied
	}
	if !m.roles[role] {
		return fmt.Errorf("%w: %s", ErrUnavailable, role)
	}
	m.role = role
	debug.Trace("Mock camera: input %s", role)
	return nil
}

func (m *MockDevice) SetZoom(ctx context.Context, zoom float64) error {
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("zoom:%.2f", zoom))
	if m.denied {
		return ErrPermissionDenied
	}
	if zoom <= 0 {
		return fmt.Errorf("invalid zoom factor %g", zoom)
	}
	m.zoom = zoom
	debug.Trace("Mock camera: zoom %.2fx", zoom)
	return nil
}

func (m *MockDevice) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "capture")
	if !m.running {
		return nil, fmt.Errorf("%w: not streaming", ErrDeviceBusy)
	}
	return zoomCrop(m.source, m.zoom), nil
}

func (m *MockDevice) wait(ctx context.Context) error {
	m.mu.Lock()
	d := m.delay
	m.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// zoomCrop crops the center 1/zoom of src and scales it back to full size.
func zoomCrop(src image.Image, zoom float64) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if zoom <= 1.0 {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst
	}

	w := int(float64(b.Dx()) / zoom)
	h := int(float64(b.Dy()) / zoom)
	x0 := b.Min.X + (b.Dx()-w)/2
	y0 := b.Min.Y + (b.Dy()-h)/2
	crop := image.Rect(x0, y0, x0+w, y0+h)
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}

// TestChart renders a synthetic framing chart: a gradient with a grid and
// a center cross.
func TestChart(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	cellW, cellH := max(width/16, 1), max(height/9, 1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{
				R: uint8(40 + 160*x/width),
				G: uint8(60 + 120*y/height),
				B: 140,
				A: 255,
			}
			if x%cellW == 0 || y%cellH == 0 {
				c = color.RGBA{R: 230, G: 230, B: 230, A: 255}
			}
			if x == width/2 || y == height/2 {
				c = color.RGBA{R: 255, G: 40, B: 40, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

// MockAuthorizer answers permission prompts for a MockDevice.
// When Grant is set, a prompt lifts the device's denial.
type MockAuthorizer struct {
	Device *MockDevice
	Grant  bool

	mu       sync.Mutex
	requests int
}

func (a *MockAuthorizer) Authorized() bool {
	if a.Device == nil {
		return a.Grant
	}
	a.Device.mu.Lock()
	defer a.Device.mu.Unlock()
	return !a.Device.denied
}

func (a *MockAuthorizer) RequestAccess(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.mu.Lock()
	a.requests++
	a.mu.Unlock()
	if a.Grant && a.Device != nil {
		a.Device.SetDenied(false)
	}
	return a.Grant, nil
}

// Requests returns how many times access was requested.
func (a *MockAuthorizer) Requests() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests
}
