package match

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/ScoutGo/internal/logic/geometry"
)

func referenceModules() []Module {
	return []Module{
		{Role: RoleUltra, NativeHFOVDeg: 120, MinZoom: 0.5, MaxZoom: 1.0},
		{Role: RoleMain, NativeHFOVDeg: 80, MinZoom: 1.0, MaxZoom: 2.0},
		{Role: RoleTele, NativeHFOVDeg: 40, MinZoom: 2.0, MaxZoom: 6.0},
	}
}

func deg(d float64) float64 { return geometry.DegreesToRadians(d) }

func TestMatch_TargetEqualsMainNative(t *testing.T) {
	var e Engine
	res, ok := e.Match(deg(80), referenceModules(), nil)
	require.True(t, ok)
	assert.Equal(t, RoleMain, res.Role)
	assert.InDelta(t, 1.0, res.Zoom, 1e-9)

	cands := e.DebugCandidates(deg(80), referenceModules(), nil)
	require.Len(t, cands, 3)
	assert.InDelta(t, 0, cands[0].ErrorDeg, 1e-9)
}

func TestMatch_NarrowTargetNeverPicksUltra(t *testing.T) {
	var e Engine
	res, ok := e.Match(deg(20), referenceModules(), nil)
	require.True(t, ok)
	assert.Contains(t, []string{RoleMain, RoleTele}, res.Role)
	assert.Equal(t, RoleTele, res.Role)
	assert.InDelta(t, 2.0, res.Zoom, 1e-9)

	byRole := map[string]Candidate{}
	for _, c := range e.DebugCandidates(deg(20), referenceModules(), nil) {
		byRole[c.Role] = c
	}
	assert.InDelta(t, 4.0, byRole[RoleMain].RequiredZoom, 1e-9)
	assert.InDelta(t, 2.0, byRole[RoleMain].ClampedZoom, 1e-9)
	assert.InDelta(t, 40.0, byRole[RoleMain].AchievedHFOVDeg, 1e-9)
	assert.InDelta(t, 20.0, byRole[RoleMain].ErrorDeg, 1e-9)
	assert.InDelta(t, 6.0, byRole[RoleUltra].RequiredZoom, 1e-9)
	assert.InDelta(t, 1.0, byRole[RoleUltra].ClampedZoom, 1e-9)
	assert.InDelta(t, 100.0, byRole[RoleUltra].ErrorDeg, 1e-9)
}

func TestMatch_WideTarget(t *testing.T) {
	var e Engine

	res, ok := e.Match(deg(150), referenceModules(), nil)
	require.True(t, ok)
	assert.Equal(t, RoleUltra, res.Role)
	assert.InDelta(t, 0.8, res.Zoom, 1e-9)

	// Wider than anything reachable: every module sits at its min zoom.
	cands := e.DebugCandidates(deg(300), referenceModules(), nil)
	require.Len(t, cands, 3)
	for _, c := range cands {
		assert.Equal(t, c.MinZoom, c.ClampedZoom, "role %s", c.Role)
	}
	res, ok = e.Match(deg(300), referenceModules(), nil)
	require.True(t, ok)
	assert.Equal(t, RoleUltra, res.Role)
	assert.Equal(t, 0.5, res.Zoom)
}

func TestMatch_NoMatchGuards(t *testing.T) {
	var e Engine
	cases := []struct {
		name    string
		target  float64
		modules []Module
	}{
		{"zero_target", 0, referenceModules()},
		{"negative_target", -0.5, referenceModules()},
		{"nan_target", math.NaN(), referenceModules()},
		{"inf_target", math.Inf(1), referenceModules()},
		{"empty_modules", deg(60), nil},
		{"only_malformed", deg(60), []Module{{Role: RoleMain, NativeHFOVDeg: 80, MinZoom: 0, MaxZoom: 2}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := e.Match(tc.target, tc.modules, nil)
			assert.False(t, ok)
			assert.Nil(t, e.DebugCandidates(tc.target, tc.modules, nil))
		})
	}
}

func TestMatch_MalformedModulesSkipped(t *testing.T) {
	var e Engine
	modules := []Module{
		{Role: RoleUltra, NativeHFOVDeg: 120, MinZoom: 0, MaxZoom: 1},      // non-positive min
		{Role: RoleTele, NativeHFOVDeg: 40, MinZoom: 6, MaxZoom: 2},        // min > max
		{Role: "periscope", NativeHFOVDeg: -10, MinZoom: 1, MaxZoom: 5},    // negative HFOV
		{Role: "macro", NativeHFOVDeg: math.NaN(), MinZoom: 1, MaxZoom: 2}, // NaN
		{Role: RoleMain, NativeHFOVDeg: 80, MinZoom: 1, MaxZoom: 2},
	}

	res, ok := e.Match(deg(20), modules, nil)
	require.True(t, ok)
	assert.Equal(t, RoleMain, res.Role)
	assert.Equal(t, 2.0, res.Zoom)

	cands := e.DebugCandidates(deg(20), modules, nil)
	require.Len(t, cands, 1)
	assert.Equal(t, RoleMain, cands[0].Role)
}

func TestPreferLeastCrop_ErrorTieGoesToLeastCrop(t *testing.T) {
	var e Engine
	// Both reach 40° for a 20° target: main cropped 2x, tele at its optical baseline.
	modules := []Module{
		{Role: RoleMain, NativeHFOVDeg: 80, MinZoom: 1, MaxZoom: 2},
		{Role: RoleTele, NativeHFOVDeg: 40, MinZoom: 1, MaxZoom: 1},
	}
	cands := e.DebugCandidates(deg(20), modules, nil)
	require.Len(t, cands, 2)
	assert.InDelta(t, cands[0].ErrorDeg, cands[1].ErrorDeg, 1e-9)

	res, ok := e.Match(deg(20), modules, nil)
	require.True(t, ok)
	assert.Equal(t, RoleTele, res.Role)
	assert.Equal(t, RoleTele, cands[0].Role)

	// Input order must not matter.
	reversed := []Module{modules[1], modules[0]}
	res2, ok := e.Match(deg(20), reversed, nil)
	require.True(t, ok)
	assert.Equal(t, res, res2)
}

func TestPreferLeastCrop_EqualCropGoesToWiderRole(t *testing.T) {
	var e Engine
	// 60° target: main at 80° and tele at 40° are both 20° off, both uncropped.
	modules := []Module{
		{Role: RoleTele, NativeHFOVDeg: 40, MinZoom: 1, MaxZoom: 1},
		{Role: RoleMain, NativeHFOVDeg: 80, MinZoom: 1, MaxZoom: 1},
	}
	res, ok := e.Match(deg(60), modules, nil)
	require.True(t, ok)
	assert.Equal(t, RoleMain, res.Role)

	cands := e.DebugCandidates(deg(60), modules, nil)
	require.Len(t, cands, 2)
	assert.Equal(t, RoleMain, cands[0].Role)
}

func TestPreferLeastCrop_UnknownRolesByName(t *testing.T) {
	var e Engine
	a := Candidate{Role: "b-cam", ErrorDeg: 1, ClampedZoom: 1, MinZoom: 1}
	b := Candidate{Role: "a-cam", ErrorDeg: 1, ClampedZoom: 1, MinZoom: 1}
	assert.True(t, e.PreferLeastCrop(b, a))
	assert.False(t, e.PreferLeastCrop(a, b))
	assert.True(t, e.PreferLeastCrop(Candidate{Role: RoleTele, ErrorDeg: 1, ClampedZoom: 1, MinZoom: 1}, a))
}

func TestEngine_CustomTolerance(t *testing.T) {
	e := Engine{Tolerance: 0.5}
	a := Candidate{Role: RoleTele, ErrorDeg: 1.0, ClampedZoom: 1, MinZoom: 1}
	b := Candidate{Role: RoleMain, ErrorDeg: 1.1, ClampedZoom: 1, MinZoom: 1}
	// Same tolerance step -> role rank decides.
	assert.True(t, e.PreferLeastCrop(b, a))

	var strict Engine
	assert.True(t, strict.PreferLeastCrop(a, b))
}

func TestPreferLeastCrop_ChainedNearTiesAreOrdered(t *testing.T) {
	e := Engine{Tolerance: 1}
	// Each neighbour is within one tolerance of the next, the ends are not.
	modules := []Module{
		{Role: RoleTele, NativeHFOVDeg: 20, MinZoom: 1, MaxZoom: 1},
		{Role: RoleMain, NativeHFOVDeg: 20.6, MinZoom: 1, MaxZoom: 1},
		{Role: RoleUltra, NativeHFOVDeg: 21.2, MinZoom: 1, MaxZoom: 1},
	}
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		in := []Module{modules[p[0]], modules[p[1]], modules[p[2]]}
		res, ok := e.Match(deg(20), in, nil)
		require.True(t, ok)
		cands := e.DebugCandidates(deg(20), in, nil)
		require.Len(t, cands, 3)

		assert.Equal(t, RoleTele, res.Role, "order %v", p)
		assert.Equal(t, cands[0].Result(), res, "order %v", p)
		for i := range cands {
			for j := i + 1; j < len(cands); j++ {
				assert.False(t, e.PreferLeastCrop(cands[j], cands[i]), "order %v: %s before %s", p, cands[j].Role, cands[i].Role)
			}
		}
	}
}

func TestCalibration_ScalesOnlyItsRole(t *testing.T) {
	var e Engine
	modules := referenceModules()
	const k = 1.1

	base := e.DebugCandidates(deg(30), modules, nil)
	calibrated := e.DebugCandidates(deg(30), modules, map[string]float64{RoleMain: k})

	byRole := func(cs []Candidate) map[string]Candidate {
		out := map[string]Candidate{}
		for _, c := range cs {
			out[c.Role] = c
		}
		return out
	}
	b, c := byRole(base), byRole(calibrated)

	assert.InDelta(t, b[RoleMain].CalibratedHFOVDeg*k, c[RoleMain].CalibratedHFOVDeg, 1e-9)
	assert.InDelta(t, b[RoleMain].RequiredZoom*k, c[RoleMain].RequiredZoom, 1e-9)
	assert.Equal(t, b[RoleUltra], c[RoleUltra])
	assert.Equal(t, b[RoleTele], c[RoleTele])
}

func TestCalibratedHFOVDegrees(t *testing.T) {
	m := Module{Role: RoleMain, NativeHFOVDeg: 80, MinZoom: 1, MaxZoom: 2}
	assert.Equal(t, 80.0, CalibratedHFOVDegrees(m, nil))
	assert.Equal(t, 80.0, CalibratedHFOVDegrees(m, map[string]float64{RoleTele: 2}))
	assert.InDelta(t, 76.0, CalibratedHFOVDegrees(m, map[string]float64{RoleMain: 0.95}), 1e-9)
	assert.Equal(t, 80.0, CalibratedHFOVDegrees(m, map[string]float64{RoleMain: 0}))
	assert.Equal(t, 80.0, CalibratedHFOVDegrees(m, map[string]float64{RoleMain: math.NaN()}))
}

func TestProperties_OverTargetSweep(t *testing.T) {
	var e Engine
	modules := referenceModules()
	multipliers := map[string]float64{RoleUltra: 0.97, RoleTele: 1.04}

	prevRequired := map[string]float64{}
	for d := 5.0; d <= 200.0; d += 0.5 {
		target := deg(d)

		res, ok := e.Match(target, modules, multipliers)
		require.True(t, ok)
		cands := e.DebugCandidates(target, modules, multipliers)
		require.NotEmpty(t, cands)

		// The two paths agree on the winner.
		assert.Equal(t, cands[0].Result(), res, "target %v°", d)

		// Idempotence
		again, _ := e.Match(target, modules, multipliers)
		assert.Equal(t, res, again)

		var winner Candidate
		for _, c := range cands {
			// Clamp correctness
			assert.GreaterOrEqual(t, c.ClampedZoom, c.MinZoom)
			assert.LessOrEqual(t, c.ClampedZoom, c.MaxZoom)
			if c.Role == res.Role {
				winner = c
			}
		}

		// Selection optimality
		for _, c := range cands {
			assert.LessOrEqual(t, winner.ErrorDeg, c.ErrorDeg+DefaultTolerance, "target %v°", d)
		}

		// Monotonicity: wider targets never need more zoom.
		for _, c := range cands {
			if prev, seen := prevRequired[c.Role]; seen {
				assert.LessOrEqual(t, c.RequiredZoom, prev)
			}
			prevRequired[c.Role] = c.RequiredZoom
		}
	}
}

func TestMatch_DoesNotMutateInputs(t *testing.T) {
	var e Engine
	modules := referenceModules()
	multipliers := map[string]float64{RoleMain: 1.02}

	e.Match(deg(45), modules, multipliers)
	e.DebugCandidates(deg(45), modules, multipliers)

	assert.Equal(t, referenceModules(), modules)
	assert.Equal(t, map[string]float64{RoleMain: 1.02}, multipliers)
}
