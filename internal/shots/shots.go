// Package shots keeps the log of reference stills taken during a scout.
package shots

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/cjeanneret/ScoutGo/internal/catalog"
	"github.com/cjeanneret/ScoutGo/internal/debug"
)

// Shot is one reference still and the configuration it was framed for.
type Shot struct {
	ID            uuid.UUID  `json:"id"`
	Time          time.Time  `json:"time"`
	Camera        string     `json:"camera"`
	Mode          string     `json:"mode"`
	Lens          string     `json:"lens"`
	FocalMm       float64    `json:"focal_mm"`
	Squeeze       float64    `json:"squeeze"`
	TargetHFOVDeg float64    `json:"target_hfov_deg"`
	Role          string     `json:"role"`
	Zoom          float64    `json:"zoom"`
	ErrorDeg      float64    `json:"error_deg"`
	Path          string     `json:"path"`
	Location      *orb.Point `json:"location,omitempty"` // [lon, lat]
}

// Log stores shots in the catalog database.
type Log struct {
	db  *catalog.DB
	now func() time.Time
}

// NewLog creates a shot log on db.
func NewLog(db *catalog.DB) *Log {
	return &Log{db: db, now: time.Now}
}

// Record stores s. A zero ID or time is filled in; the stored shot is returned.
func (l *Log) Record(ctx context.Context, s Shot) (Shot, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Time.IsZero() {
		s.Time = l.now()
	}
	s.Time = s.Time.UTC()

	var lat, lon sql.NullFloat64
	if s.Location != nil {
		lon = sql.NullFloat64{Float64: s.Location.Lon(), Valid: true}
		lat = sql.NullFloat64{Float64: s.Location.Lat(), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO shots (id, taken_at, camera, mode, lens, focal_mm, squeeze,
			target_hfov_deg, role, zoom, error_deg, path, lat, lon, has_location)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.Time.Format(time.RFC3339Nano), s.Camera, s.Mode, s.Lens,
		s.FocalMm, s.Squeeze, s.TargetHFOVDeg, s.Role, s.Zoom, s.ErrorDeg, s.Path,
		lat, lon, s.Location != nil)
	if err != nil {
		return Shot{}, fmt.Errorf("record shot: %w", err)
	}
	debug.Shot(s.ID.String(), s.FocalMm)
	return s, nil
}

// List returns shots oldest first. limit <= 0 returns all of them.
func (l *Log) List(ctx context.Context, limit int) ([]Shot, error) {
	query := `
		SELECT id, taken_at, camera, mode, lens, focal_mm, squeeze, target_hfov_deg,
			role, zoom, error_deg, path, lat, lon, has_location
		FROM shots ORDER BY taken_at, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query shots: %w", err)
	}
	defer rows.Close()

	var out []Shot
	for rows.Next() {
		var (
			s        Shot
			id, ts   string
			lat, lon sql.NullFloat64
			hasLoc   bool
		)
		if err := rows.Scan(&id, &ts, &s.Camera, &s.Mode, &s.Lens, &s.FocalMm, &s.Squeeze,
			&s.TargetHFOVDeg, &s.Role, &s.Zoom, &s.ErrorDeg, &s.Path, &lat, &lon, &hasLoc); err != nil {
			return nil, fmt.Errorf("scan shot: %w", err)
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("shot id %q: %w", id, err)
		}
		if s.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("shot %s time: %w", id, err)
		}
		if hasLoc && lat.Valid && lon.Valid {
			p := orb.Point{lon.Float64, lat.Float64}
			s.Location = &p
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GeoJSON exports located shots as a point feature collection. Shots
// without a location are left out.
func (l *Log) GeoJSON(ctx context.Context) (*geojson.FeatureCollection, error) {
	list, err := l.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	for _, s := range list {
		if s.Location == nil {
			continue
		}
		f := geojson.NewFeature(*s.Location)
		f.ID = s.ID.String()
		f.Properties["time"] = s.Time.Format(time.RFC3339)
		f.Properties["camera"] = s.Camera
		f.Properties["mode"] = s.Mode
		f.Properties["lens"] = s.Lens
		f.Properties["focal_mm"] = s.FocalMm
		f.Properties["role"] = s.Role
		f.Properties["zoom"] = s.Zoom
		f.Properties["path"] = s.Path
		fc.Append(f)
	}
	return fc, nil
}
