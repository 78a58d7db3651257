package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/cjeanneret/ScoutGo/internal/catalog"
	"github.com/cjeanneret/ScoutGo/internal/compose"
	"github.com/cjeanneret/ScoutGo/internal/debug"
	"github.com/cjeanneret/ScoutGo/internal/logic/geometry"
	"github.com/cjeanneret/ScoutGo/internal/logic/scout"
	"github.com/cjeanneret/ScoutGo/internal/shots"
)

var (
	// ErrNotConfigured is returned when the session is not on the current selection.
	ErrNotConfigured = errors.New("capture session not configured for the current selection")
	// ErrInterrupted is returned when the selection changed under a running sweep.
	ErrInterrupted = errors.New("sweep interrupted by a selection change")
)

// Scout is the part of the view model a sequence drives.
type Scout interface {
	State() scout.State
	SetFocalLength(ctx context.Context, mm float64) uint64
	Wait(ctx context.Context, gen uint64) (scout.State, error)
}

// Camera takes stills from the configured module.
type Camera interface {
	CapturePhoto(ctx context.Context) (image.Image, error)
}

// ShotLog records taken stills.
type ShotLog interface {
	Record(ctx context.Context, s shots.Shot) (shots.Shot, error)
}

// Options controls how stills are framed and stored.
type Options struct {
	OutputDir string
	Format    string // webp (default), png or jpg
	Width     int
	// GuideAspect is the delivery aspect; 0 uses the desqueezed sensor aspect.
	GuideAspect float64
	// SqueezedPlates stores anamorphic stills squeezed, as recorded.
	SqueezedPlates bool
	Location       *orb.Point
}

// Sequence contains high-level capture logic: single reference stills and
// lens sweeps.
type Sequence struct {
	vm   Scout
	cam  Camera
	log  ShotLog
	opts Options
}

func NewSequence(vm Scout, cam Camera, log ShotLog, opts Options) *Sequence {
	if opts.Format == "" {
		opts.Format = "webp"
	}
	return &Sequence{vm: vm, cam: cam, log: log, opts: opts}
}

// SweepParams defines a lens sweep.
type SweepParams struct {
	FocalLengths  []float64
	SettleDelay   time.Duration // after the session is configured, before the shot
	PostShotDelay time.Duration
}

// CaptureReference takes one framed still for the current selection.
func (s *Sequence) CaptureReference(ctx context.Context) (shots.Shot, error) {
	st := s.vm.State()
	if st.Phase != scout.PhaseConfigured || st.Applied != st.Generation {
		return shots.Shot{}, ErrNotConfigured
	}

	frame, err := s.cam.CapturePhoto(ctx)
	if err != nil {
		return shots.Shot{}, err
	}
	// A newer selection may have reconfigured the device during the shot.
	if now := s.vm.State(); now.Generation != st.Generation || now.Applied != st.Generation {
		return shots.Shot{}, ErrNotConfigured
	}

	aspect := s.opts.GuideAspect
	if aspect <= 0 {
		aspect, _ = geometry.DesqueezedAspect(st.Target)
	}
	opts := compose.Options{Width: s.opts.Width, GuideAspect: aspect}
	if s.opts.SqueezedPlates {
		opts.Squeeze = st.Target.Squeeze
	}
	out := compose.Render(frame, opts)

	shot := shots.Shot{
		ID:            uuid.New(),
		Time:          time.Now(),
		Camera:        st.Selection.Camera,
		Mode:          st.Selection.Mode,
		Lens:          st.Selection.Lens,
		FocalMm:       st.Selection.FocalMm,
		Squeeze:       st.Target.Squeeze,
		TargetHFOVDeg: st.TargetHFOVDeg,
		Role:          st.Match.Role,
		Zoom:          st.Match.Zoom,
		ErrorDeg:      matchError(st),
		Location:      s.opts.Location,
	}
	shot.Path = filepath.Join(s.opts.OutputDir, FileName(shot, s.opts.Format))

	if err := compose.Save(shot.Path, out); err != nil {
		return shots.Shot{}, err
	}
	return s.log.Record(ctx, shot)
}

// RunSweep steps through the focal lengths, waits for the session to be
// configured for each, then takes a reference still.
func (s *Sequence) RunSweep(ctx context.Context, p SweepParams) ([]shots.Shot, error) {
	debug.Section("Lens sweep")
	debug.Value("Focal lengths", p.FocalLengths)

	var taken []shots.Shot
	for i, mm := range p.FocalLengths {
		select {
		case <-ctx.Done():
			return taken, ctx.Err()
		default:
		}

		debug.Step(i+1, fmt.Sprintf("%.1fmm", mm))
		gen := s.vm.SetFocalLength(ctx, mm)
		st, err := s.vm.Wait(ctx, gen)
		if err != nil {
			return taken, err
		}
		if st.Generation != gen {
			return taken, ErrInterrupted
		}
		if st.Phase != scout.PhaseConfigured {
			return taken, fmt.Errorf("%.1fmm: %s", mm, st.Err)
		}

		if err := sleep(ctx, p.SettleDelay); err != nil {
			return taken, err
		}
		shot, err := s.CaptureReference(ctx)
		if errors.Is(err, ErrNotConfigured) {
			return taken, ErrInterrupted
		}
		if err != nil {
			return taken, err
		}
		taken = append(taken, shot)

		if err := sleep(ctx, p.PostShotDelay); err != nil {
			return taken, err
		}
	}

	debug.Live("Sweep complete: %d shots", len(taken))
	return taken, nil
}

// SweepFocals spreads steps focal lengths geometrically across a zoom lens.
// A prime yields its single focal length.
func SweepFocals(lens catalog.Lens, steps int) []float64 {
	if !lens.IsZoom() {
		return []float64{lens.MinFocalMm}
	}
	if steps < 2 {
		steps = 2
	}
	ratio := lens.MaxFocalMm / lens.MinFocalMm
	out := make([]float64, steps)
	for i := range out {
		f := lens.MinFocalMm * math.Pow(ratio, float64(i)/float64(steps-1))
		out[i] = math.Round(f*10) / 10
	}
	out[0], out[steps-1] = lens.MinFocalMm, lens.MaxFocalMm
	return out
}

// FileName builds a sortable, filesystem-safe name for a shot.
func FileName(s shots.Shot, format string) string {
	lens := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, s.Lens)
	return fmt.Sprintf("%s_%s_%05.1fmm_%s.%s",
		s.Time.UTC().Format("20060102-150405"), lens, s.FocalMm, s.ID.String()[:8], format)
}

// matchError is the chosen candidate's error; 0 for the fallback.
func matchError(st scout.State) float64 {
	for _, c := range st.Candidates {
		if c.Role == st.Match.Role {
			return c.ErrorDeg
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
