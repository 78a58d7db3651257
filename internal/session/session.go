package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/cjeanneret/ScoutGo/internal/debug"
	"github.com/cjeanneret/ScoutGo/internal/hw/camera"
	"github.com/cjeanneret/ScoutGo/internal/logic/match"
)

var (
	ErrNotRunning      = errors.New("capture session not running")
	ErrUnsupportedRole = errors.New("camera role not supported by device")

	ErrPermissionDenied = camera.ErrPermissionDenied
	ErrDeviceBusy       = camera.ErrDeviceBusy
)

// ConfigureError describes a failed session reconfiguration.
type ConfigureError struct {
	Role string
	Zoom float64
	Err  error
}

func (e *ConfigureError) Error() string {
	return fmt.Sprintf("configure %s at %.2fx: %v", e.Role, e.Zoom, e.Err)
}

func (e *ConfigureError) Unwrap() error { return e.Err }

// Indicator is an on/off output reflecting whether the session is live
// and configured (tally light).
type Indicator interface {
	Set(on bool) error
}

// Manager owns the live capture session. Device I/O is serialized; Stop
// cancels any in-flight reconfiguration before releasing the device.
type Manager struct {
	dev   camera.Device
	auth  camera.Authorizer
	light Indicator

	stateMu    sync.Mutex
	modules    map[string]match.Module
	running    bool
	sessCtx    context.Context
	cancel     context.CancelFunc
	current    match.Result
	configured bool

	ioMu sync.Mutex
}

// New creates a manager for dev. auth and light may be nil.
// Malformed modules are ignored.
func New(dev camera.Device, auth camera.Authorizer, modules []match.Module, light Indicator) *Manager {
	m := &Manager{dev: dev, auth: auth, light: light}
	m.SetModules(modules)
	return m
}

// SetModules replaces the modules the device exposes.
func (m *Manager) SetModules(modules []match.Module) {
	byRole := make(map[string]match.Module, len(modules))
	for _, mod := range modules {
		if mod.Valid() {
			byRole[mod.Role] = mod
		}
	}
	m.stateMu.Lock()
	m.modules = byRole
	m.stateMu.Unlock()
}

// Start opens the device. A permission denial is followed by at most one
// access request and one retry.
func (m *Manager) Start(ctx context.Context) error {
	m.ioMu.Lock()
	defer m.ioMu.Unlock()

	m.stateMu.Lock()
	if m.running {
		m.stateMu.Unlock()
		return nil
	}
	m.stateMu.Unlock()

	err := m.withPermission(ctx, func() error { return m.dev.Start(ctx) })
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	m.stateMu.Lock()
	m.sessCtx, m.cancel = context.WithCancel(context.Background())
	m.running = true
	m.configured = false
	m.stateMu.Unlock()

	debug.Live("Capture session started")
	return nil
}

// Stop ends the session. It is safe to call when not running.
func (m *Manager) Stop() error {
	m.stateMu.Lock()
	if !m.running {
		m.stateMu.Unlock()
		return nil
	}
	m.running = false
	m.configured = false
	m.cancel()
	m.stateMu.Unlock()

	m.ioMu.Lock()
	defer m.ioMu.Unlock()
	m.setLight(false)
	if err := m.dev.Stop(); err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	debug.Live("Capture session stopped")
	return nil
}

// Running reports whether the session is started.
func (m *Manager) Running() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.running
}

// Current returns the last applied role and zoom. The flag is false until a
// configure succeeds and again after one fails.
func (m *Manager) Current() (match.Result, bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.current, m.configured
}

// Configure switches the device to role and applies zoom, clamped to the
// module's range. Errors are returned as *ConfigureError.
func (m *Manager) Configure(ctx context.Context, role string, zoom float64) error {
	m.stateMu.Lock()
	running, sessCtx := m.running, m.sessCtx
	mod, known := m.modules[role]
	m.stateMu.Unlock()

	if !running {
		return &ConfigureError{Role: role, Zoom: zoom, Err: ErrNotRunning}
	}
	if !known {
		return &ConfigureError{Role: role, Zoom: zoom, Err: ErrUnsupportedRole}
	}
	z := clampZoom(zoom, mod)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessCtx, cancel)
	defer stop()

	m.ioMu.Lock()
	defer m.ioMu.Unlock()

	err := m.withPermission(ctx, func() error {
		if err := m.dev.SelectInput(ctx, role); err != nil {
			return err
		}
		return m.dev.SetZoom(ctx, z)
	})
	if err != nil {
		// The device may already be on the new input.
		m.stateMu.Lock()
		m.configured = false
		m.stateMu.Unlock()
		m.setLight(false)
		return &ConfigureError{Role: role, Zoom: z, Err: err}
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if !m.running || m.sessCtx != sessCtx {
		return &ConfigureError{Role: role, Zoom: z, Err: ErrNotRunning}
	}
	m.current = match.Result{Role: role, Zoom: z}
	m.configured = true
	m.setLight(true)
	return nil
}

// CapturePhoto takes a still from the configured module.
func (m *Manager) CapturePhoto(ctx context.Context) (image.Image, error) {
	m.stateMu.Lock()
	running, sessCtx := m.running, m.sessCtx
	m.stateMu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessCtx, cancel)
	defer stop()

	m.ioMu.Lock()
	defer m.ioMu.Unlock()
	img, err := m.dev.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture photo: %w", err)
	}
	return img, nil
}

// withPermission runs op; on a permission denial it prompts once and,
// if granted, runs op exactly one more time. Caller holds ioMu.
func (m *Manager) withPermission(ctx context.Context, op func() error) error {
	err := op()
	if !errors.Is(err, camera.ErrPermissionDenied) || m.auth == nil {
		return err
	}
	debug.Info("Camera permission denied, requesting access")
	granted, aerr := m.auth.RequestAccess(ctx)
	if aerr != nil {
		return fmt.Errorf("%w (access request failed: %v)", err, aerr)
	}
	if !granted {
		return err
	}
	return op()
}

func (m *Manager) setLight(on bool) {
	if m.light == nil {
		return
	}
	if err := m.light.Set(on); err != nil {
		debug.Error(fmt.Errorf("tally: %w", err))
	}
}

func clampZoom(z float64, mod match.Module) float64 {
	if math.IsNaN(z) {
		return mod.MinZoom
	}
	return math.Max(mod.MinZoom, math.Min(z, mod.MaxZoom))
}
