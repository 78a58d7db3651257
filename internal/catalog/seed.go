package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/ScoutGo/internal/debug"
	"github.com/cjeanneret/ScoutGo/internal/logic/match"
)

//go:embed seed.yaml
var builtinSeed []byte

// SeedData is the YAML layout of a catalog seed file.
type SeedData struct {
	Devices []struct {
		Model   string         `yaml:"model"`
		Modules []match.Module `yaml:"modules"`
	} `yaml:"devices"`
	Cameras []struct {
		Name  string `yaml:"name"`
		Modes []Mode `yaml:"modes"`
	} `yaml:"cameras"`
	Lenses []Lens `yaml:"lenses"`
}

// ParseSeed decodes seed YAML.
func ParseSeed(data []byte) (*SeedData, error) {
	var s SeedData
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal seed: %w", err)
	}
	return &s, nil
}

// SeedFile returns the seed at path, or the built-in seed when path is empty.
func SeedFile(path string) (*SeedData, error) {
	if path == "" {
		return ParseSeed(builtinSeed)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// Seed inserts seed rows. Existing rows with the same keys are replaced.
func (d *DB) Seed(ctx context.Context, s *SeedData) error {
	for _, dev := range s.Devices {
		for _, m := range dev.Modules {
			if !m.Valid() {
				return fmt.Errorf("seed: invalid module %q on %q: %+v", m.Role, dev.Model, m)
			}
			if err := d.SaveModule(ctx, dev.Model, m); err != nil {
				return err
			}
		}
	}
	for _, cam := range s.Cameras {
		for _, mode := range cam.Modes {
			mode.Camera = cam.Name
			if err := d.SaveMode(ctx, mode); err != nil {
				return err
			}
		}
	}
	for _, l := range s.Lenses {
		if err := d.SaveLens(ctx, l); err != nil {
			return err
		}
	}
	debug.Info("Catalog seeded: %d devices, %d cameras, %d lenses", len(s.Devices), len(s.Cameras), len(s.Lenses))
	return nil
}

// SeedIfEmpty seeds the catalog from path (built-in when empty) on first run.
func (d *DB) SeedIfEmpty(ctx context.Context, path string) error {
	empty, err := d.IsEmpty(ctx)
	if err != nil {
		return fmt.Errorf("check catalog: %w", err)
	}
	if !empty {
		return nil
	}
	s, err := SeedFile(path)
	if err != nil {
		return err
	}
	return d.Seed(ctx, s)
}
