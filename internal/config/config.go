// Package config loads and watches the autoscope YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"autoscope/internal/instrument"
)

// Config holds all autoscope configuration.
type Config struct {
	// Instrument safety envelope
	Instrument InstrumentConfig `yaml:"instrument"`

	// Channel definitions: name -> default exposure ms
	Channels map[string]float64 `yaml:"channels"`

	// Control loop tuning
	Loop LoopConfig `yaml:"loop"`

	// Telemetry storage
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Simulated rig (used when no hardware is attached)
	Sim SimConfig `yaml:"sim"`
}

// InstrumentConfig configures the hardware safety limits and objective.
type InstrumentConfig struct {
	ExposureMinMs float64 `yaml:"exposure_min_ms"`
	ExposureMaxMs float64 `yaml:"exposure_max_ms"`
	ZMaxUm        float64 `yaml:"z_max_um"`
	XYMaxUm       float64 `yaml:"xy_max_um"`

	Magnification     float64 `yaml:"magnification"`
	NumericalAperture float64 `yaml:"numerical_aperture"`
}

// LoopConfig tunes the control loop.
type LoopConfig struct {
	ActionTimeout string `yaml:"action_timeout"`
	IdlePoll      string `yaml:"idle_poll"`
	MaxIdlePolls  int    `yaml:"max_idle_polls"`
}

// TelemetryConfig configures the run-history store.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// SimConfig configures the simulated rig.
type SimConfig struct {
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	PixelSize float64 `yaml:"pixel_size"` // µm per pixel
	FocalZ    float64 `yaml:"focal_z"`    // µm
}

// DefaultConfig returns the stock configuration: a three-channel fluorescence
// setup with the default safety envelope.
func DefaultConfig() *Config {
	limits := instrument.DefaultLimits()
	return &Config{
		Instrument: InstrumentConfig{
			ExposureMinMs:     limits.ExposureMin,
			ExposureMaxMs:     limits.ExposureMax,
			ZMaxUm:            limits.ZMax,
			XYMaxUm:           limits.XYMax,
			Magnification:     20,
			NumericalAperture: 0.75,
		},
		Channels: map[string]float64{
			"DAPI":  30,
			"FITC":  200,
			"TxRed": 200,
		},
		Loop: LoopConfig{
			ActionTimeout: "30s",
			IdlePoll:      "100ms",
			MaxIdlePolls:  600,
		},
		Telemetry: TelemetryConfig{
			Enabled:      true,
			DatabasePath: "data/autoscope.db",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
		},
		Sim: SimConfig{
			Width:     64,
			Height:    64,
			PixelSize: 1.0,
			FocalZ:    50,
		},
	}
}

// Load reads the config at path, layered over defaults. A missing file
// returns defaults without error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Instrument.ExposureMinMs <= 0 || c.Instrument.ExposureMaxMs <= c.Instrument.ExposureMinMs {
		return fmt.Errorf("invalid exposure range [%g, %g]",
			c.Instrument.ExposureMinMs, c.Instrument.ExposureMaxMs)
	}
	if c.Instrument.ZMaxUm <= 0 || c.Instrument.XYMaxUm <= 0 {
		return fmt.Errorf("travel limits must be positive")
	}
	for ch, exp := range c.Channels {
		if exp <= 0 {
			return fmt.Errorf("channel %s: exposure must be positive", ch)
		}
	}
	return nil
}

// Limits converts the instrument section into an instrument.Limits envelope.
func (c *Config) Limits() instrument.Limits {
	return instrument.Limits{
		ExposureMin: c.Instrument.ExposureMinMs,
		ExposureMax: c.Instrument.ExposureMaxMs,
		ZMax:        c.Instrument.ZMaxUm,
		XYMax:       c.Instrument.XYMaxUm,
	}
}

// Objective converts the instrument section into an objective description.
func (c *Config) Objective() instrument.Objective {
	return instrument.Objective{
		Magnification:     c.Instrument.Magnification,
		NumericalAperture: c.Instrument.NumericalAperture,
		IsAir:             true,
	}
}

// ActionTimeout parses the loop action timeout, falling back to 30s.
func (c *Config) ActionTimeout() time.Duration {
	return parseDuration(c.Loop.ActionTimeout, 30*time.Second)
}

// IdlePoll parses the loop idle poll interval, falling back to 100ms.
func (c *Config) IdlePoll() time.Duration {
	return parseDuration(c.Loop.IdlePoll, 100*time.Millisecond)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
