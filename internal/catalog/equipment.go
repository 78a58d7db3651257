package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cjeanneret/ScoutGo/internal/logic/match"
)

// Mode is a recording mode of a cinema camera, defining the active sensor area.
type Mode struct {
	Camera         string  `json:"camera" yaml:"-"`
	Name           string  `json:"name" yaml:"name"`
	SensorWidthMm  float64 `json:"sensor_width_mm" yaml:"sensor_width_mm"`
	SensorHeightMm float64 `json:"sensor_height_mm" yaml:"sensor_height_mm"`
}

// Lens is a prime (min == max focal) or zoom lens.
type Lens struct {
	Name       string  `json:"name" yaml:"name"`
	MinFocalMm float64 `json:"min_focal_mm" yaml:"min_focal_mm"`
	MaxFocalMm float64 `json:"max_focal_mm" yaml:"max_focal_mm"`
	Squeeze    float64 `json:"squeeze" yaml:"squeeze"`
}

// IsZoom reports whether the lens covers a focal range.
func (l Lens) IsZoom() bool {
	return l.MaxFocalMm > l.MinFocalMm
}

// ClampFocal bounds a focal length to the lens range.
func (l Lens) ClampFocal(mm float64) float64 {
	if mm < l.MinFocalMm {
		return l.MinFocalMm
	}
	if mm > l.MaxFocalMm {
		return l.MaxFocalMm
	}
	return mm
}

// Devices lists the phone models in the catalog.
func (d *DB) Devices(ctx context.Context) ([]string, error) {
	return d.names(ctx, "SELECT model FROM devices ORDER BY model")
}

// Modules returns the physical camera modules of a device, widest first.
func (d *DB) Modules(ctx context.Context, device string) ([]match.Module, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT role, native_hfov_deg, min_zoom, max_zoom
		FROM camera_modules WHERE device = ?
		ORDER BY native_hfov_deg DESC`, device)
	if err != nil {
		return nil, fmt.Errorf("query modules: %w", err)
	}
	defer rows.Close()

	var modules []match.Module
	for rows.Next() {
		var m match.Module
		if err := rows.Scan(&m.Role, &m.NativeHFOVDeg, &m.MinZoom, &m.MaxZoom); err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("modules for device %q: %w", device, ErrNotFound)
	}
	return modules, nil
}

// SaveModule inserts or replaces a device module.
func (d *DB) SaveModule(ctx context.Context, device string, m match.Module) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO devices (model) VALUES (?)", device); err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO camera_modules (device, role, native_hfov_deg, min_zoom, max_zoom)
		VALUES (?, ?, ?, ?, ?)`, device, m.Role, m.NativeHFOVDeg, m.MinZoom, m.MaxZoom); err != nil {
		return fmt.Errorf("save module: %w", err)
	}
	return tx.Commit()
}

// Cameras lists cinema camera names.
func (d *DB) Cameras(ctx context.Context) ([]string, error) {
	return d.names(ctx, "SELECT name FROM cinema_cameras ORDER BY name")
}

// Modes lists the recording modes of a camera.
func (d *DB) Modes(ctx context.Context, camera string) ([]Mode, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT camera, name, sensor_width_mm, sensor_height_mm
		FROM camera_modes WHERE camera = ? ORDER BY name`, camera)
	if err != nil {
		return nil, fmt.Errorf("query modes: %w", err)
	}
	defer rows.Close()

	var modes []Mode
	for rows.Next() {
		var m Mode
		if err := rows.Scan(&m.Camera, &m.Name, &m.SensorWidthMm, &m.SensorHeightMm); err != nil {
			return nil, fmt.Errorf("scan mode: %w", err)
		}
		modes = append(modes, m)
	}
	return modes, rows.Err()
}

// Mode returns one recording mode.
func (d *DB) Mode(ctx context.Context, camera, name string) (Mode, error) {
	m := Mode{Camera: camera, Name: name}
	err := d.QueryRowContext(ctx, `
		SELECT sensor_width_mm, sensor_height_mm FROM camera_modes
		WHERE camera = ? AND name = ?`, camera, name).Scan(&m.SensorWidthMm, &m.SensorHeightMm)
	if errors.Is(err, sql.ErrNoRows) {
		return Mode{}, fmt.Errorf("mode %q of %q: %w", name, camera, ErrNotFound)
	}
	if err != nil {
		return Mode{}, fmt.Errorf("query mode: %w", err)
	}
	return m, nil
}

// SaveMode inserts or replaces a camera mode (and its camera).
func (d *DB) SaveMode(ctx context.Context, m Mode) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO cinema_cameras (name) VALUES (?)", m.Camera); err != nil {
		return fmt.Errorf("save camera: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO camera_modes (camera, name, sensor_width_mm, sensor_height_mm)
		VALUES (?, ?, ?, ?)`, m.Camera, m.Name, m.SensorWidthMm, m.SensorHeightMm); err != nil {
		return fmt.Errorf("save mode: %w", err)
	}
	return tx.Commit()
}

// Lenses lists all lenses.
func (d *DB) Lenses(ctx context.Context) ([]Lens, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT name, min_focal_mm, max_focal_mm, squeeze FROM lenses ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query lenses: %w", err)
	}
	defer rows.Close()

	var lenses []Lens
	for rows.Next() {
		var l Lens
		if err := rows.Scan(&l.Name, &l.MinFocalMm, &l.MaxFocalMm, &l.Squeeze); err != nil {
			return nil, fmt.Errorf("scan lens: %w", err)
		}
		lenses = append(lenses, l)
	}
	return lenses, rows.Err()
}

// Lens returns one lens by name.
func (d *DB) Lens(ctx context.Context, name string) (Lens, error) {
	l := Lens{Name: name}
	err := d.QueryRowContext(ctx, `
		SELECT min_focal_mm, max_focal_mm, squeeze FROM lenses WHERE name = ?`, name).
		Scan(&l.MinFocalMm, &l.MaxFocalMm, &l.Squeeze)
	if errors.Is(err, sql.ErrNoRows) {
		return Lens{}, fmt.Errorf("lens %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Lens{}, fmt.Errorf("query lens: %w", err)
	}
	return l, nil
}

// SaveLens inserts or replaces a lens.
func (d *DB) SaveLens(ctx context.Context, l Lens) error {
	if l.Squeeze < 1 {
		l.Squeeze = 1
	}
	if l.MaxFocalMm < l.MinFocalMm {
		l.MaxFocalMm = l.MinFocalMm
	}
	_, err := d.ExecContext(ctx, `
		INSERT OR REPLACE INTO lenses (name, min_focal_mm, max_focal_mm, squeeze)
		VALUES (?, ?, ?, ?)`, l.Name, l.MinFocalMm, l.MaxFocalMm, l.Squeeze)
	if err != nil {
		return fmt.Errorf("save lens: %w", err)
	}
	return nil
}

// --- Calibration (implements calibration.Persister) ---

func (d *DB) LoadCalibration(ctx context.Context) (map[string]float64, error) {
	rows, err := d.QueryContext(ctx, "SELECT role, multiplier FROM calibration")
	if err != nil {
		return nil, fmt.Errorf("query calibration: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var role string
		var k float64
		if err := rows.Scan(&role, &k); err != nil {
			return nil, fmt.Errorf("scan calibration: %w", err)
		}
		out[role] = k
	}
	return out, rows.Err()
}

func (d *DB) SaveCalibration(ctx context.Context, role string, factor float64) error {
	_, err := d.ExecContext(ctx, `
		INSERT OR REPLACE INTO calibration (role, multiplier, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)`, role, factor)
	return err
}

func (d *DB) DeleteCalibration(ctx context.Context, role string) error {
	_, err := d.ExecContext(ctx, "DELETE FROM calibration WHERE role = ?", role)
	return err
}

func (d *DB) names(ctx context.Context, query string) ([]string, error) {
	rows, err := d.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
