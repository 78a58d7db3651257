package scout

import (
	"fmt"

	"github.com/cjeanneret/ScoutGo/internal/logic/geometry"
	"github.com/cjeanneret/ScoutGo/internal/logic/match"
)

// Phase is the view model's position in the recompute/apply cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRecomputing
	PhaseConfigured
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRecomputing:
		return "recomputing"
	case PhaseConfigured:
		return "configured"
	case PhaseError:
		return "error"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for _, c := range []Phase{PhaseIdle, PhaseRecomputing, PhaseConfigured, PhaseError} {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Selection is what the user picked. A zero focal length on a prime lens
// resolves to the prime's focal length.
type Selection struct {
	Camera  string  `json:"camera"`
	Mode    string  `json:"mode"`
	Lens    string  `json:"lens"`
	FocalMm float64 `json:"focal_mm"`
}

// Complete reports whether the selection names a camera, mode and lens.
// Incomplete selections are never sent to the engine.
func (s Selection) Complete() bool {
	return s.Camera != "" && s.Mode != "" && s.Lens != ""
}

// State is everything derived from one selection. It is replaced as a whole
// on every recompute.
type State struct {
	Generation uint64    `json:"generation"`
	Applied    uint64    `json:"applied"`
	Phase      Phase     `json:"phase"`
	Err        string    `json:"error,omitempty"`
	Selection  Selection `json:"selection"`

	// Set only when the selection resolved to a valid target.
	Complete      bool              `json:"complete"`
	Target        geometry.Target   `json:"target"`
	TargetHFOVDeg float64           `json:"target_hfov_deg"`
	TargetVFOVDeg float64           `json:"target_vfov_deg"`
	Match         match.Result      `json:"match"`
	Matched       bool              `json:"matched"` // false: Match is the fallback
	Candidates    []match.Candidate `json:"candidates"`
	Guide         geometry.Rect     `json:"guide"`
}

func (s State) clone() State {
	s.Candidates = append([]match.Candidate(nil), s.Candidates...)
	return s
}
