package match

import (
	"math"
	"sort"

	"github.com/cjeanneret/ScoutGo/internal/logic/geometry"
)

// Camera roles of a multi-camera phone.
const (
	RoleUltra = "ultra"
	RoleMain  = "main"
	RoleTele  = "tele"
)

// DefaultTolerance is the grid (degrees) errors are rounded to before
// comparison; candidates on the same grid step are tied.
const DefaultTolerance = 1e-9

// Fallback is applied by callers when no match is possible.
var Fallback = Result{Role: RoleMain, Zoom: 1.0}

// Module is a physical camera module of the device.
type Module struct {
	Role          string  `json:"role" yaml:"role"`
	NativeHFOVDeg float64 `json:"native_hfov_deg" yaml:"native_hfov_deg"` // manufacturer HFOV at 1.0x
	MinZoom       float64 `json:"min_zoom" yaml:"min_zoom"`
	MaxZoom       float64 `json:"max_zoom" yaml:"max_zoom"`
}

// Valid reports whether the module can take part in matching.
func (m Module) Valid() bool {
	return finite(m.NativeHFOVDeg) && m.NativeHFOVDeg > 0 &&
		finite(m.MinZoom) && finite(m.MaxZoom) &&
		m.MinZoom > 0 && m.MinZoom <= m.MaxZoom
}

// Result is the module and zoom factor the capture session should use.
type Result struct {
	Role string  `json:"role"`
	Zoom float64 `json:"zoom"`
}

// Candidate is the full scoring breakdown of one module.
type Candidate struct {
	Role              string  `json:"role"`
	NativeHFOVDeg     float64 `json:"native_hfov_deg"`
	CalibratedHFOVDeg float64 `json:"calibrated_hfov_deg"`
	RequiredZoom      float64 `json:"required_zoom"`
	ClampedZoom       float64 `json:"clamped_zoom"`
	MinZoom           float64 `json:"min_zoom"`
	MaxZoom           float64 `json:"max_zoom"`
	AchievedHFOVDeg   float64 `json:"achieved_hfov_deg"`
	ErrorDeg          float64 `json:"error_deg"`
}

// Result returns the candidate as a session result.
func (c Candidate) Result() Result {
	return Result{Role: c.Role, Zoom: c.ClampedZoom}
}

// CalibratedHFOVDegrees applies the role's calibration multiplier to the
// module's native HFOV. Missing, non-finite or non-positive multipliers
// count as 1.0.
func CalibratedHFOVDegrees(m Module, multipliers map[string]float64) float64 {
	k, ok := multipliers[m.Role]
	if !ok || !finite(k) || k <= 0 {
		k = 1.0
	}
	return m.NativeHFOVDeg * k
}

// RoleRank orders known roles from widest to narrowest. Unknown roles sort last.
func RoleRank(role string) int {
	switch role {
	case RoleUltra:
		return 0
	case RoleMain:
		return 1
	case RoleTele:
		return 2
	default:
		return 3
	}
}

// Engine maps a target horizontal field of view onto the closest module
// and zoom factor. The zero value is ready to use.
type Engine struct {
	// Tolerance overrides DefaultTolerance when > 0.
	Tolerance float64
}

// Match returns the module and zoom that best reproduce targetHFOVRad.
// The second value is false when no match is possible: a non-positive or
// non-finite target, or no valid module.
//
// Ties are resolved by PreferLeastCrop.
func (e *Engine) Match(targetHFOVRad float64, modules []Module, multipliers map[string]float64) (Result, bool) {
	if !finite(targetHFOVRad) || targetHFOVRad <= 0 {
		return Result{}, false
	}

	var best Candidate
	found := false
	for _, m := range modules {
		c, ok := Score(m, targetHFOVRad, multipliers)
		if !ok {
			continue
		}
		if !found || e.PreferLeastCrop(c, best) {
			best = c
			found = true
		}
	}
	if !found {
		return Result{}, false
	}
	return best.Result(), true
}

// DebugCandidates scores every valid module and returns them sorted by
// ascending error, best first. It returns nil when Match would not match.
func (e *Engine) DebugCandidates(targetHFOVRad float64, modules []Module, multipliers map[string]float64) []Candidate {
	if !finite(targetHFOVRad) || targetHFOVRad <= 0 {
		return nil
	}

	candidates := make([]Candidate, 0, len(modules))
	for _, m := range modules {
		if c, ok := Score(m, targetHFOVRad, multipliers); ok {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return e.PreferLeastCrop(candidates[i], candidates[j])
	})
	return candidates
}

// PreferLeastCrop reports whether a ranks strictly before b:
//  1. smaller error
//  2. on a tie, less digital crop (clamped zoom / min zoom)
//  3. then the wider role (ultra, main, tele, others)
//  4. then role name
//
// Errors and crops are compared on a grid of the tolerance, so the order
// is transitive and Match agrees with DebugCandidates.
func (e *Engine) PreferLeastCrop(a, b Candidate) bool {
	tol := e.tolerance()
	if ka, kb := quantize(a.ErrorDeg, tol), quantize(b.ErrorDeg, tol); ka != kb {
		return ka < kb
	}

	cropA := quantize(a.ClampedZoom/a.MinZoom, cropTolerance)
	cropB := quantize(b.ClampedZoom/b.MinZoom, cropTolerance)
	if cropA != cropB {
		return cropA < cropB
	}

	if ra, rb := RoleRank(a.Role), RoleRank(b.Role); ra != rb {
		return ra < rb
	}
	return a.Role < b.Role
}

// Score computes the candidate breakdown for one module.
// The second value is false for malformed modules.
func Score(m Module, targetHFOVRad float64, multipliers map[string]float64) (Candidate, bool) {
	if !m.Valid() {
		return Candidate{}, false
	}

	calibrated := CalibratedHFOVDegrees(m, multipliers)
	nativeRad := geometry.DegreesToRadians(calibrated)
	required := nativeRad / targetHFOVRad
	clamped := clamp(required, m.MinZoom, m.MaxZoom)
	achieved := calibrated / clamped
	targetDeg := geometry.RadiansToDegrees(targetHFOVRad)

	return Candidate{
		Role:              m.Role,
		NativeHFOVDeg:     m.NativeHFOVDeg,
		CalibratedHFOVDeg: calibrated,
		RequiredZoom:      required,
		ClampedZoom:       clamped,
		MinZoom:           m.MinZoom,
		MaxZoom:           m.MaxZoom,
		AchievedHFOVDeg:   achieved,
		ErrorDeg:          math.Abs(achieved - targetDeg),
	}, true
}

const cropTolerance = 1e-12

func quantize(v, step float64) float64 {
	return math.Round(v / step)
}

func (e *Engine) tolerance() float64 {
	if e.Tolerance > 0 {
		return e.Tolerance
	}
	return DefaultTolerance
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
