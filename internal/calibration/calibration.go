package calibration

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/ScoutGo/internal/debug"
)

// Multipliers outside this range are accepted but worth a warning: they
// usually mean the measurement itself went wrong.
const (
	WarnBelow = 0.8
	WarnAbove = 1.25
)

// ErrInvalidMultiplier is returned for non-finite or non-positive factors.
var ErrInvalidMultiplier = errors.New("calibration multiplier must be finite and > 0")

// Persister stores calibration multipliers.
type Persister interface {
	LoadCalibration(ctx context.Context) (map[string]float64, error)
	SaveCalibration(ctx context.Context, role string, factor float64) error
	DeleteCalibration(ctx context.Context, role string) error
}

// Store holds the per-role multipliers. Writes are serialized and
// published as a new immutable map, so readers always see a consistent
// snapshot.
type Store struct {
	persist Persister
	writeMu sync.Mutex
	current atomic.Pointer[map[string]float64]
}

// NewStore creates an empty store (every role at 1.0) backed by p.
func NewStore(p Persister) *Store {
	s := &Store{persist: p}
	empty := map[string]float64{}
	s.current.Store(&empty)
	return s
}

// Load replaces the in-memory multipliers with the persisted ones.
// Invalid persisted values are dropped.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	loaded, err := s.persist.LoadCalibration(ctx)
	if err != nil {
		return fmt.Errorf("load calibration: %w", err)
	}

	next := make(map[string]float64, len(loaded))
	for role, k := range loaded {
		if !valid(k) {
			debug.Info("Ignoring invalid calibration for %s: %g", role, k)
			continue
		}
		next[role] = k
	}
	s.current.Store(&next)
	debug.Verbose("Calibration loaded: %v", next)
	return nil
}

// Multiplier returns the factor for role, 1.0 if uncalibrated.
func (s *Store) Multiplier(role string) float64 {
	if k, ok := (*s.current.Load())[role]; ok {
		return k
	}
	return 1.0
}

// Snapshot returns a copy of the current multipliers. Take one snapshot per
// computation and do not re-read the store mid-computation.
func (s *Store) Snapshot() map[string]float64 {
	return maps.Clone(*s.current.Load())
}

// Set persists factor for role and publishes it.
func (s *Store) Set(ctx context.Context, role string, factor float64) error {
	if role == "" {
		return fmt.Errorf("calibration role is required")
	}
	if !valid(factor) {
		return fmt.Errorf("%w: %s=%g", ErrInvalidMultiplier, role, factor)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.persist.SaveCalibration(ctx, role, factor); err != nil {
		return fmt.Errorf("save calibration for %s: %w", role, err)
	}

	next := maps.Clone(*s.current.Load())
	next[role] = factor
	s.current.Store(&next)

	if Warn(factor) {
		debug.Info("Calibration for %s is %.3f, far from 1.0", role, factor)
	}
	debug.Live("Calibration %s = %.4f", role, factor)
	return nil
}

// Reset returns role to the default 1.0.
func (s *Store) Reset(ctx context.Context, role string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.persist.DeleteCalibration(ctx, role); err != nil {
		return fmt.Errorf("reset calibration for %s: %w", role, err)
	}

	next := maps.Clone(*s.current.Load())
	delete(next, role)
	s.current.Store(&next)
	debug.Live("Calibration %s reset", role)
	return nil
}

// Warn reports whether a multiplier is far enough from 1.0 to warn about.
func Warn(factor float64) bool {
	return factor < WarnBelow || factor > WarnAbove
}

func valid(k float64) bool {
	return !math.IsNaN(k) && !math.IsInf(k, 0) && k > 0
}

// MemoryPersister keeps multipliers in memory. Used when no catalog
// database is configured, and in tests.
type MemoryPersister struct {
	mu   sync.Mutex
	data map[string]float64
}

// NewMemoryPersister creates a persister seeded with initial values.
func NewMemoryPersister(initial map[string]float64) *MemoryPersister {
	data := maps.Clone(initial)
	if data == nil {
		data = map[string]float64{}
	}
	return &MemoryPersister{data: data}
}

func (m *MemoryPersister) LoadCalibration(_ context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.data), nil
}

func (m *MemoryPersister) SaveCalibration(_ context.Context, role string, factor float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[role] = factor
	return nil
}

func (m *MemoryPersister) DeleteCalibration(_ context.Context, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, role)
	return nil
}
