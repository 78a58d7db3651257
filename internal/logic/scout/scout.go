// Package scout is the control loop between the user's virtual camera
// selection and the live capture session.
//
// Every selection change is recomputed synchronously and replaces the whole
// state. Applying the result to the session is asynchronous and latest-wins:
// a single applier holds at most one pending result, newer results overwrite
// older ones, and results whose generation is no longer current are dropped.
package scout

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/cjeanneret/ScoutGo/internal/catalog"
	"github.com/cjeanneret/ScoutGo/internal/debug"
	"github.com/cjeanneret/ScoutGo/internal/logic/geometry"
	"github.com/cjeanneret/ScoutGo/internal/logic/match"
)

// DefaultPreviewAspect is the aspect ratio of the phone's photo frame.
const DefaultPreviewAspect = 4.0 / 3.0

// Catalog resolves selection names to equipment.
type Catalog interface {
	Mode(ctx context.Context, camera, name string) (catalog.Mode, error)
	Lens(ctx context.Context, name string) (catalog.Lens, error)
}

// Calibrations is the calibration store as seen by the view model.
type Calibrations interface {
	Snapshot() map[string]float64
	Set(ctx context.Context, role string, factor float64) error
	Reset(ctx context.Context, role string) error
}

// Session is the capture session as seen by the view model.
type Session interface {
	Start(ctx context.Context) error
	Stop() error
	Configure(ctx context.Context, role string, zoom float64) error
}

// Deps groups the view model's collaborators.
type Deps struct {
	Catalog     Catalog
	Calibration Calibrations
	Session     Session
	Modules     []match.Module
	Engine      match.Engine

	// GuideAspect is the delivery aspect drawn as framing guide.
	// Zero uses the desqueezed sensor aspect.
	GuideAspect   float64
	PreviewAspect float64
}

// ViewModel owns the current selection and its derived state.
type ViewModel struct {
	deps Deps

	mu        sync.Mutex
	state     State
	gen       uint64
	settled   uint64
	changed   chan struct{}
	listeners []func(State)

	pendMu   sync.Mutex
	pending  *job
	inflight context.CancelFunc
	wake     chan struct{}
}

type job struct {
	gen uint64
	res match.Result
}

// New creates a view model in the Idle phase with an empty selection.
func New(deps Deps) *ViewModel {
	if deps.PreviewAspect <= 0 {
		deps.PreviewAspect = DefaultPreviewAspect
	}
	deps.Modules = append([]match.Module(nil), deps.Modules...)
	return &ViewModel{
		deps:    deps,
		state:   State{Phase: PhaseIdle, Guide: geometry.Rect{W: 1, H: 1}},
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// State returns a snapshot of the current state.
func (vm *ViewModel) State() State {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.state.clone()
}

// Modules returns the device modules used for matching.
func (vm *ViewModel) Modules() []match.Module {
	return append([]match.Module(nil), vm.deps.Modules...)
}

// OnChange registers fn to be called after every state change.
// fn must not call back into the view model synchronously.
func (vm *ViewModel) OnChange(fn func(State)) {
	vm.mu.Lock()
	vm.listeners = append(vm.listeners, fn)
	vm.mu.Unlock()
}

// SelectCamera sets the cinema camera. The mode is cleared when the camera changes.
func (vm *ViewModel) SelectCamera(ctx context.Context, camera string) uint64 {
	return vm.update(ctx, func(s *Selection) {
		if s.Camera != camera {
			s.Mode = ""
		}
		s.Camera = camera
	})
}

func (vm *ViewModel) SelectMode(ctx context.Context, mode string) uint64 {
	return vm.update(ctx, func(s *Selection) { s.Mode = mode })
}

// SelectLens sets the lens. The focal length is kept and clamped to the
// lens range on recompute; primes always use their own focal length.
func (vm *ViewModel) SelectLens(ctx context.Context, lens string) uint64 {
	return vm.update(ctx, func(s *Selection) { s.Lens = lens })
}

func (vm *ViewModel) SetFocalLength(ctx context.Context, mm float64) uint64 {
	return vm.update(ctx, func(s *Selection) { s.FocalMm = mm })
}

// Select replaces the whole selection in one recompute.
func (vm *ViewModel) Select(ctx context.Context, sel Selection) uint64 {
	return vm.update(ctx, func(s *Selection) { *s = sel })
}

// Recompute re-evaluates the current selection (e.g. after calibration).
func (vm *ViewModel) Recompute(ctx context.Context) uint64 {
	return vm.update(ctx, func(*Selection) {})
}

// Calibrate stores a calibration multiplier and recomputes.
func (vm *ViewModel) Calibrate(ctx context.Context, role string, factor float64) (uint64, error) {
	if err := vm.deps.Calibration.Set(ctx, role, factor); err != nil {
		return 0, err
	}
	return vm.Recompute(ctx), nil
}

// ResetCalibration drops a role's calibration and recomputes.
func (vm *ViewModel) ResetCalibration(ctx context.Context, role string) (uint64, error) {
	if err := vm.deps.Calibration.Reset(ctx, role); err != nil {
		return 0, err
	}
	return vm.Recompute(ctx), nil
}

func (vm *ViewModel) update(ctx context.Context, mutate func(*Selection)) uint64 {
	vm.mu.Lock()
	sel := vm.state.Selection
	mutate(&sel)

	next := vm.compute(ctx, sel)
	vm.gen++
	next.Generation = vm.gen
	next.Applied = vm.state.Applied
	vm.state = next
	gen := vm.gen

	if next.Phase == PhaseRecomputing {
		vm.submit(job{gen: gen, res: next.Match})
	} else {
		vm.dropPending()
		vm.settled = gen
	}
	snapshot := vm.notifyLocked()
	vm.mu.Unlock()

	vm.emit(snapshot)
	return gen
}

// compute derives the full state of sel. It never touches the session.
func (vm *ViewModel) compute(ctx context.Context, sel Selection) State {
	st := State{Selection: sel, Phase: PhaseIdle, Guide: geometry.Rect{W: 1, H: 1}}
	if !sel.Complete() {
		return st
	}

	target, err := vm.resolve(ctx, &sel)
	st.Selection = sel
	if err != nil {
		st.Phase = PhaseError
		st.Err = err.Error()
		return st
	}

	multipliers := vm.deps.Calibration.Snapshot()
	targetRad := target.HFOVRadians()

	st.Complete = true
	st.Target = target
	st.TargetHFOVDeg = target.HFOVDegrees()
	st.TargetVFOVDeg = target.VFOVDegrees()
	st.Candidates = vm.deps.Engine.DebugCandidates(targetRad, vm.deps.Modules, multipliers)
	st.Match, st.Matched = vm.deps.Engine.Match(targetRad, vm.deps.Modules, multipliers)
	if !st.Matched {
		st.Match = match.Fallback
		debug.Verbose("No module matches %.2f°, falling back to %s at %.1fx",
			st.TargetHFOVDeg, st.Match.Role, st.Match.Zoom)
	} else if len(st.Candidates) > 0 {
		debug.Match(st.Match.Role, st.Match.Zoom, st.Candidates[0].ErrorDeg)
	}

	aspect := vm.deps.GuideAspect
	if aspect <= 0 {
		aspect, _ = geometry.DesqueezedAspect(target)
	}
	st.Guide = geometry.FrameGuide(vm.deps.PreviewAspect, aspect)
	st.Phase = PhaseRecomputing
	return st
}

// resolve looks up the selection's equipment and builds a validated target.
// The focal length is clamped into the lens range in sel.
func (vm *ViewModel) resolve(ctx context.Context, sel *Selection) (geometry.Target, error) {
	mode, err := vm.deps.Catalog.Mode(ctx, sel.Camera, sel.Mode)
	if err != nil {
		return geometry.Target{}, fmt.Errorf("mode %s/%s: %w", sel.Camera, sel.Mode, err)
	}
	lens, err := vm.deps.Catalog.Lens(ctx, sel.Lens)
	if err != nil {
		return geometry.Target{}, fmt.Errorf("lens %s: %w", sel.Lens, err)
	}
	sel.FocalMm = lens.ClampFocal(sel.FocalMm)

	t := geometry.Target{
		SensorWidthMm:  mode.SensorWidthMm,
		SensorHeightMm: mode.SensorHeightMm,
		FocalLengthMm:  sel.FocalMm,
		Squeeze:        lens.Squeeze,
	}
	if t.Squeeze == 0 {
		t.Squeeze = 1
	}
	if err := t.Validate(); err != nil {
		return geometry.Target{}, err
	}
	return t, nil
}

// notifyLocked wakes waiters and returns the snapshot for listeners.
// Caller holds vm.mu.
func (vm *ViewModel) notifyLocked() State {
	close(vm.changed)
	vm.changed = make(chan struct{})
	return vm.state.clone()
}

func (vm *ViewModel) emit(st State) {
	vm.mu.Lock()
	listeners := slices.Clone(vm.listeners)
	vm.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}

// submit puts j in the pending slot, replacing any older job, and cancels
// an in-flight apply of an older generation.
func (vm *ViewModel) submit(j job) {
	vm.pendMu.Lock()
	vm.pending = &j
	if vm.inflight != nil {
		vm.inflight()
	}
	vm.pendMu.Unlock()

	select {
	case vm.wake <- struct{}{}:
	default:
	}
}

// dropPending discards the pending job and aborts the in-flight apply.
func (vm *ViewModel) dropPending() {
	vm.pendMu.Lock()
	vm.pending = nil
	if vm.inflight != nil {
		vm.inflight()
	}
	vm.pendMu.Unlock()
}

// Wait blocks until generation gen has been applied, failed, or superseded.
func (vm *ViewModel) Wait(ctx context.Context, gen uint64) (State, error) {
	for {
		vm.mu.Lock()
		if vm.settled >= gen {
			st := vm.state.clone()
			vm.mu.Unlock()
			return st, nil
		}
		ch := vm.changed
		vm.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return State{}, ctx.Err()
		}
	}
}

// Run starts the capture session, applies results until ctx is done, then
// stops the session. An in-flight apply is aborted on return.
func (vm *ViewModel) Run(ctx context.Context) error {
	if err := vm.deps.Session.Start(ctx); err != nil {
		vm.fail(err)
		return err
	}
	defer func() {
		if err := vm.deps.Session.Stop(); err != nil {
			debug.Error(err)
		}
	}()

	// Apply whatever was selected before the session was up.
	vm.mu.Lock()
	if vm.state.Phase == PhaseRecomputing || vm.state.Phase == PhaseConfigured {
		vm.submit(job{gen: vm.gen, res: vm.state.Match})
	}
	vm.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-vm.wake:
		}

		vm.pendMu.Lock()
		j := vm.pending
		vm.pending = nil
		applyCtx, cancel := context.WithCancel(ctx)
		vm.inflight = cancel
		vm.pendMu.Unlock()

		if j != nil {
			vm.apply(applyCtx, *j)
		}

		vm.pendMu.Lock()
		vm.inflight = nil
		vm.pendMu.Unlock()
		cancel()
	}
}

func (vm *ViewModel) apply(ctx context.Context, j job) {
	if !vm.isCurrent(j.gen) {
		vm.settle(j.gen)
		return
	}

	debug.Configure(j.gen, j.res.Role, j.res.Zoom)
	err := vm.deps.Session.Configure(ctx, j.res.Role, j.res.Zoom)

	vm.mu.Lock()
	if j.gen != vm.gen {
		// Superseded while applying; the newer job is pending.
		vm.mu.Unlock()
		debug.Trace("Discarding stale generation %d", j.gen)
		return
	}
	switch {
	case err != nil && ctx.Err() != nil:
		// Aborted by shutdown; keep the last phase.
	case err != nil:
		vm.state.Phase = PhaseError
		vm.state.Err = err.Error()
		debug.Error(err)
	default:
		vm.state.Phase = PhaseConfigured
		vm.state.Err = ""
		vm.state.Applied = j.gen
	}
	if j.gen > vm.settled {
		vm.settled = j.gen
	}
	snapshot := vm.notifyLocked()
	vm.mu.Unlock()
	vm.emit(snapshot)
}

func (vm *ViewModel) isCurrent(gen uint64) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return gen == vm.gen
}

func (vm *ViewModel) settle(gen uint64) {
	vm.mu.Lock()
	if gen > vm.settled {
		vm.settled = gen
	}
	vm.notifyLocked()
	vm.mu.Unlock()
}

func (vm *ViewModel) fail(err error) {
	vm.mu.Lock()
	vm.state.Phase = PhaseError
	vm.state.Err = err.Error()
	vm.settled = vm.gen
	snapshot := vm.notifyLocked()
	vm.mu.Unlock()
	vm.emit(snapshot)
}
