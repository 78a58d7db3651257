package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Register driver

	"github.com/cjeanneret/ScoutGo/internal/debug"
)

// ErrNotFound is returned when a catalog row does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the sql.DB connection of the equipment catalog.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the catalog database and runs migrations.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// Single connection: avoids SQLITE_BUSY and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	d := &DB{db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	debug.Verbose("Catalog opened: %s", path)
	return d, nil
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			model TEXT PRIMARY KEY
		);`,
		`CREATE TABLE IF NOT EXISTS camera_modules (
			device TEXT NOT NULL REFERENCES devices(model),
			role TEXT NOT NULL,
			native_hfov_deg REAL NOT NULL,
			min_zoom REAL NOT NULL,
			max_zoom REAL NOT NULL,
			PRIMARY KEY (device, role)
		);`,
		`CREATE TABLE IF NOT EXISTS cinema_cameras (
			name TEXT PRIMARY KEY
		);`,
		`CREATE TABLE IF NOT EXISTS camera_modes (
			camera TEXT NOT NULL REFERENCES cinema_cameras(name),
			name TEXT NOT NULL,
			sensor_width_mm REAL NOT NULL,
			sensor_height_mm REAL NOT NULL,
			PRIMARY KEY (camera, name)
		);`,
		`CREATE TABLE IF NOT EXISTS lenses (
			name TEXT PRIMARY KEY,
			min_focal_mm REAL NOT NULL,
			max_focal_mm REAL NOT NULL,
			squeeze REAL NOT NULL DEFAULT 1.0
		);`,
		`CREATE TABLE IF NOT EXISTS calibration (
			role TEXT PRIMARY KEY,
			multiplier REAL NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS shots (
			id TEXT PRIMARY KEY,
			taken_at DATETIME NOT NULL,
			camera TEXT,
			mode TEXT,
			lens TEXT,
			focal_mm REAL,
			squeeze REAL,
			target_hfov_deg REAL,
			role TEXT,
			zoom REAL,
			error_deg REAL,
			path TEXT,
			lat REAL,
			lon REAL,
			has_location BOOLEAN DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_shots_taken_at ON shots(taken_at);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("query failed: %s: %w", q, err)
		}
	}
	return nil
}

// IsEmpty reports whether the catalog has no device yet.
func (d *DB) IsEmpty(ctx context.Context) (bool, error) {
	var n int
	if err := d.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices").Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}
