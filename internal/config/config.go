package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// DeviceConfig describes the phone rig.
type DeviceConfig struct {
	Model       string `yaml:"model"`         // catalog device, e.g. "iPhone 15 Pro"
	Mock        bool   `yaml:"mock"`          // simulated camera (true=dev/test)
	MockFrame   string `yaml:"mock_frame"`    // optional png/jpeg/tga plate seen by the simulator
	MockDelayMs int    `yaml:"mock_delay_ms"` // simulated reconfiguration latency
	MockGPIO    bool   `yaml:"mock_gpio"`     // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	TallyPin    int    `yaml:"tally_pin"`     // BCM pin of the tally LED. 0 = not used.
}

// CatalogConfig locates the equipment database.
type CatalogConfig struct {
	Path     string `yaml:"path"`      // sqlite file
	SeedFile string `yaml:"seed_file"` // YAML seed for an empty catalog; "" = built-in
}

// TargetConfig is the virtual camera selected at startup.
type TargetConfig struct {
	Camera        string  `yaml:"camera"` // e.g. "ARRI ALEXA 35"
	Mode          string  `yaml:"mode"`   // e.g. "4K 16:9"
	Lens          string  `yaml:"lens"`
	FocalLengthMm float64 `yaml:"focal_length_mm"` // 0 = lens minimum
}

// LocationConfig is the scouted location stamped on shots.
type LocationConfig struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// CaptureConfig controls reference stills and sweeps.
type CaptureConfig struct {
	OutputDir       string          `yaml:"output_dir"`
	Format          string          `yaml:"format"`           // webp, png or jpg
	WidthPx         int             `yaml:"width_px"`         // output width, 0 = capture width
	GuideAspect     float64         `yaml:"guide_aspect"`     // delivery aspect, 0 = sensor aspect
	SqueezedPlates  bool            `yaml:"squeezed_plates"`  // keep anamorphic stills squeezed
	SweepSteps      int             `yaml:"sweep_steps"`      // focal lengths per zoom sweep
	SettleDelayMs   int             `yaml:"settle_delay_ms"`  // after reconfiguration, before the shot
	PostShotDelayMs int             `yaml:"post_shot_delay_ms"`
	Location        *LocationConfig `yaml:"location,omitempty"` // optional
}

// WebConfig configures the HTTP interface.
type WebConfig struct {
	Listen          string `yaml:"listen"`
	SweepCooldownMs int    `yaml:"sweep_cooldown_ms"` // minimum time between two sweeps
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Target   TargetConfig   `yaml:"target"`
	Capture  CaptureConfig  `yaml:"capture"`
	Web      WebConfig      `yaml:"web"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files directly inside a configs/
// directory, without ".." elements.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, applies defaults and validates the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if cfg.Device.Model == "" {
		return nil, fmt.Errorf("device.model is required")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Catalog.Path == "" {
		c.Catalog.Path = "data/scoutgo.db"
	}
	if c.Capture.OutputDir == "" {
		c.Capture.OutputDir = "shots"
	}
	if c.Capture.Format == "" {
		c.Capture.Format = "webp"
	}
	if c.Capture.SweepSteps <= 0 {
		c.Capture.SweepSteps = 5
	}
	if c.Capture.SettleDelayMs <= 0 {
		c.Capture.SettleDelayMs = 300 // let auto-exposure settle after a module switch
	}
	if c.Capture.PostShotDelayMs <= 0 {
		c.Capture.PostShotDelayMs = 200
	}
	if c.Web.Listen == "" {
		c.Web.Listen = ":8080"
	}
	if c.Web.SweepCooldownMs <= 0 {
		c.Web.SweepCooldownMs = 5000
	}
}

func (c *Config) validate() error {
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Device.TallyPin < 0 || c.Device.TallyPin > 27 {
		return fmt.Errorf("tally_pin must be a BCM pin between 0 and 27, got %d", c.Device.TallyPin)
	}
	if c.Device.MockDelayMs < 0 {
		return fmt.Errorf("mock_delay_ms must be >= 0, got %d", c.Device.MockDelayMs)
	}
	if c.Target.FocalLengthMm < 0 {
		return fmt.Errorf("target.focal_length_mm must be >= 0, got %.2f", c.Target.FocalLengthMm)
	}
	switch c.Capture.Format {
	case "webp", "png", "jpg":
	default:
		return fmt.Errorf("capture.format must be webp, png or jpg, got %q", c.Capture.Format)
	}
	if c.Capture.WidthPx < 0 {
		return fmt.Errorf("capture.width_px must be >= 0, got %d", c.Capture.WidthPx)
	}
	if c.Capture.GuideAspect < 0 {
		return fmt.Errorf("capture.guide_aspect must be >= 0, got %.2f", c.Capture.GuideAspect)
	}
	if l := c.Capture.Location; l != nil {
		if l.Lat < -90 || l.Lat > 90 {
			return fmt.Errorf("capture.location.lat must be between -90 and 90, got %.6f", l.Lat)
		}
		if l.Lon < -180 || l.Lon > 180 {
			return fmt.Errorf("capture.location.lon must be between -180 and 180, got %.6f", l.Lon)
		}
	}
	return nil
}

// SettleDelay returns the delay between reconfiguration and the shot.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Capture.SettleDelayMs) * time.Millisecond
}

// PostShotDelay returns the delay after a shot in a sweep.
func (c *Config) PostShotDelay() time.Duration {
	return time.Duration(c.Capture.PostShotDelayMs) * time.Millisecond
}

// MockDelay returns the simulated device latency.
func (c *Config) MockDelay() time.Duration {
	return time.Duration(c.Device.MockDelayMs) * time.Millisecond
}

// SweepCooldown returns the minimum time between two web-triggered sweeps.
func (c *Config) SweepCooldown() time.Duration {
	return time.Duration(c.Web.SweepCooldownMs) * time.Millisecond
}

// LocationPoint returns the configured location as [lon, lat], or nil.
func (c *Config) LocationPoint() *orb.Point {
	if c.Capture.Location == nil {
		return nil
	}
	return &orb.Point{c.Capture.Location.Lon, c.Capture.Location.Lat}
}
