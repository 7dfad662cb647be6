// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"droneops-survey/internal/flightpath"
	"droneops-survey/internal/geo"
)

// Base is a launch site drones are stationed at.
type Base struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Location geo.Coordinate `yaml:"location"`
}

// Fleet defines a group of identical drones stationed at one base
type Fleet struct {
	Name       string             `yaml:"name"`
	Model      string             `yaml:"model"`
	Count      int                `yaml:"count"`
	Base       string             `yaml:"base"`
	BatteryPct float64            `yaml:"battery_pct"`
	Sensor     *flightpath.Sensor `yaml:"sensor,omitempty"` // overrides Config.Sensor
}

// PathConfig tunes flight path generation.
type PathConfig struct {
	PerimeterPasses int     `yaml:"perimeter_passes"`
	FallbackHoverS  float64 `yaml:"fallback_hover_s"`
	SpiralStepM     float64 `yaml:"spiral_step_m"`
}

// Battery holds the simulated drain model. Rates are percent per simulated
// second.
type Battery struct {
	CruiseDrainPctPerS   float64 `yaml:"cruise_drain_pct_per_s"` // unset selects 0.02; the schema rejects 0
	SpeedDrainPctPerMpsS float64 `yaml:"speed_drain_pct_per_mps_s"`
	HoverDrainMultiplier float64 `yaml:"hover_drain_multiplier"`
	MinStartPct          float64 `yaml:"min_start_pct"` // drones below this are not reserved
}

// Hub configures live telemetry fan-out.
type Hub struct {
	BufferSize int `yaml:"buffer_size"`
}

// Persistence configures how ticks retry failed store writes.
type Persistence struct {
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// Store selects the mission store backend.
type Store struct {
	Driver string `yaml:"driver"` // memory, sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// Config is the root engine configuration.
type Config struct {
	ClusterID     string            `yaml:"cluster_id"`
	TickInterval  time.Duration     `yaml:"tick_interval"`
	TimeScale     float64           `yaml:"time_scale"`
	Projection    string            `yaml:"projection"`
	Sensor        flightpath.Sensor `yaml:"sensor"`
	Path          PathConfig        `yaml:"path"`
	Battery       Battery           `yaml:"battery"`
	Hub           Hub               `yaml:"hub"`
	Persistence   Persistence       `yaml:"persistence"`
	Store         Store             `yaml:"store"`
	PlanCacheSize int               `yaml:"plan_cache_size"`
	Bases         []Base            `yaml:"bases"`
	Fleets        []Fleet           `yaml:"fleets"`
}

// Default returns a configuration with every tunable set to its default and
// no bases or fleets.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.ClusterID == "" {
		c.ClusterID = "local"
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.TimeScale <= 0 {
		c.TimeScale = 1
	}
	if c.Projection == "" {
		c.Projection = geo.ProjectionGeodetic
	}
	if c.Sensor.FootprintWidthM <= 0 && c.Sensor.FieldOfViewDeg <= 0 {
		c.Sensor.FieldOfViewDeg = 84
	}
	if c.Path.PerimeterPasses <= 0 {
		c.Path.PerimeterPasses = 1
	}
	if c.Path.FallbackHoverS <= 0 {
		c.Path.FallbackHoverS = 30
	}
	if c.Battery.CruiseDrainPctPerS <= 0 {
		c.Battery.CruiseDrainPctPerS = 0.02
	}
	if c.Battery.SpeedDrainPctPerMpsS < 0 {
		c.Battery.SpeedDrainPctPerMpsS = 0
	}
	if c.Battery.HoverDrainMultiplier < 1 {
		c.Battery.HoverDrainMultiplier = 1.5
	}
	if c.Hub.BufferSize <= 0 {
		c.Hub.BufferSize = 64
	}
	if c.Persistence.Retries <= 0 {
		c.Persistence.Retries = 3
	}
	if c.Persistence.RetryBackoff <= 0 {
		c.Persistence.RetryBackoff = 50 * time.Millisecond
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.PlanCacheSize <= 0 {
		c.PlanCacheSize = 128
	}
	for i := range c.Fleets {
		if c.Fleets[i].BatteryPct <= 0 {
			c.Fleets[i].BatteryPct = 100
		}
	}
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("CLUSTER_ID"); v != "" {
		c.ClusterID = v
	}
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid TICK_INTERVAL %q: %w", v, err)
		}
		c.TickInterval = d
	}
	if v := os.Getenv("TIME_SCALE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid TIME_SCALE %q: %w", v, err)
		}
		c.TimeScale = f
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	return nil
}

// PathOptions returns the flight path generator options.
func (c *Config) PathOptions() flightpath.Options {
	return flightpath.Options{
		Projection:      c.Projection,
		PerimeterPasses: c.Path.PerimeterPasses,
		FallbackHoverS:  c.Path.FallbackHoverS,
		SpiralStepM:     c.Path.SpiralStepM,
	}
}

// Base returns the base with the given id.
func (c *Config) Base(id string) (Base, bool) {
	for _, b := range c.Bases {
		if b.ID == id {
			return b, true
		}
	}
	return Base{}, false
}

// Check verifies cross references the schema cannot express.
func (c *Config) Check() error {
	seen := map[string]bool{}
	for _, b := range c.Bases {
		if seen[b.ID] {
			return fmt.Errorf("duplicate base %q", b.ID)
		}
		seen[b.ID] = true
	}
	for _, f := range c.Fleets {
		if !seen[f.Base] {
			return fmt.Errorf("fleet %q references unknown base %q", f.Name, f.Base)
		}
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if _, err := geo.NewProjection(c.Projection, geo.Coordinate{}); err != nil {
		return err
	}
	return nil
}

// Load loads YAML config, validates it against a CUE schema, applies defaults
// and environment overrides.
func Load(configPath, cueSchemaPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	if cueSchemaPath != "" {
		if err := ValidateWithCue(configPath, data, cueSchemaPath); err != nil {
			return nil, err
		}
	}
	return Parse(data)
}

// Parse decodes YAML config without schema validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
