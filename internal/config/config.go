// Package config loads the meshsim configuration from YAML files and
// MESHSIM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/mesh-simulator/core"
	"github.com/signalsfoundry/mesh-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-simulator/internal/node"
	"github.com/signalsfoundry/mesh-simulator/internal/observability"
	"github.com/signalsfoundry/mesh-simulator/internal/sim"
	"github.com/signalsfoundry/mesh-simulator/internal/visualize"
	"github.com/signalsfoundry/mesh-simulator/model"
	"github.com/signalsfoundry/mesh-simulator/timectrl"
)

// Config contains all meshsim settings.
type Config struct {
	Log           LogConfig                   `yaml:"log"`
	Simulation    SimulationConfig            `yaml:"simulation"`
	Radio         RadioConfig                 `yaml:"radio"`
	Mesh          node.Params                 `yaml:"mesh"`
	Visualization visualize.Options           `yaml:"visualization"`
	Control       ControlConfig               `yaml:"control"`
	Capture       CaptureConfig               `yaml:"capture"`
	Tracing       observability.TracingConfig `yaml:"tracing"`

	// Scenario is an optional node layout file loaded at startup.
	Scenario string `yaml:"scenario,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is one of json, text, console, zap.
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// SimulationConfig configures the engine clock and randomness.
type SimulationConfig struct {
	Speed     float64   `yaml:"speed"`
	Seed      uint64    `yaml:"seed"`
	StartTime time.Time `yaml:"start_time"`
	CellSize  int       `yaml:"cell_size"`
	// AutoGo keeps simulated time running without explicit go commands.
	AutoGo     bool          `yaml:"autogo"`
	AutoGoStep time.Duration `yaml:"autogo_step"`
}

// RadioConfig configures the radio model.
type RadioConfig struct {
	DefaultRange    int     `yaml:"default_range"`
	PacketLossRatio float64 `yaml:"packet_loss_ratio"`
}

// ControlConfig configures the control surfaces. Empty addresses disable
// the corresponding server.
type ControlConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	WebAddr  string `yaml:"web_addr"`
	// CLI reads text commands from stdin.
	CLI    bool   `yaml:"cli"`
	Prompt string `yaml:"prompt"`
}

// CaptureConfig configures the run recordings. Empty paths disable them.
type CaptureConfig struct {
	PCAP        string `yaml:"pcap"`
	ReplayDB    string `yaml:"replay_db"`
	ReplayLabel string `yaml:"replay_label"`
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Simulation: SimulationConfig{
			Speed:      1,
			Seed:       1,
			StartTime:  sim.DefaultStartTime,
			CellSize:   core.DefaultCellSize,
			AutoGoStep: time.Second,
		},
		Radio:         RadioConfig{DefaultRange: model.DefaultRadioRange},
		Mesh:          node.DefaultParams(),
		Visualization: visualize.DefaultOptions(),
		Control: ControlConfig{
			GRPCAddr: "127.0.0.1:50051",
			WebAddr:  "127.0.0.1:8997",
			CLI:      true,
			Prompt:   "> ",
		},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load returns the defaults overlaid with the file at path, if path is
// not empty, and then with environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv applies MESHSIM_* overrides looked up through getenv.
// Malformed values are reported rather than ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []string
	parse := func(key string, apply func(string) error) {
		if v := getenv(key); v != "" {
			if err := apply(v); err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q: %v", key, v, err))
			}
		}
	}

	str("MESHSIM_LOG_LEVEL", &c.Log.Level)
	str("MESHSIM_LOG_FORMAT", &c.Log.Format)
	parse("MESHSIM_SPEED", func(v string) (err error) {
		c.Simulation.Speed, err = ParseSpeed(v)
		return err
	})
	parse("MESHSIM_SEED", func(v string) (err error) {
		c.Simulation.Seed, err = strconv.ParseUint(v, 10, 64)
		return err
	})
	parse("MESHSIM_AUTOGO", func(v string) (err error) {
		c.Simulation.AutoGo, err = strconv.ParseBool(v)
		return err
	})
	parse("MESHSIM_RADIO_RANGE", func(v string) (err error) {
		c.Radio.DefaultRange, err = strconv.Atoi(v)
		return err
	})
	parse("MESHSIM_PACKET_LOSS_RATIO", func(v string) (err error) {
		c.Radio.PacketLossRatio, err = strconv.ParseFloat(v, 64)
		return err
	})
	str("MESHSIM_GRPC_ADDR", &c.Control.GRPCAddr)
	str("MESHSIM_WEB_ADDR", &c.Control.WebAddr)
	str("MESHSIM_PCAP", &c.Capture.PCAP)
	str("MESHSIM_REPLAY_DB", &c.Capture.ReplayDB)
	str("MESHSIM_SCENARIO", &c.Scenario)
	c.Tracing = c.Tracing.WithEnv(getenv)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseSpeed parses a speed factor; "max" selects the fastest speed.
func ParseSpeed(s string) (float64, error) {
	if strings.EqualFold(s, "max") {
		return timectrl.MaxSpeed, nil
	}
	return strconv.ParseFloat(s, 64)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Log.Level)
	}
	validFormats := map[string]bool{"": true, "json": true, "text": true, "console": true, "zap": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, console, zap)", c.Log.Format)
	}
	if c.Simulation.AutoGo && c.Simulation.AutoGoStep <= 0 {
		return fmt.Errorf("autogo_step must be positive, got %s", c.Simulation.AutoGoStep)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample_ratio must be between 0 and 1, got %v", c.Tracing.SampleRatio)
	}
	return c.SimConfig().Validate()
}

// SimConfig returns the engine configuration.
func (c *Config) SimConfig() sim.Config {
	return sim.Config{
		StartTime:         c.Simulation.StartTime,
		Speed:             c.Simulation.Speed,
		Seed:              c.Simulation.Seed,
		CellSize:          c.Simulation.CellSize,
		DefaultRadioRange: c.Radio.DefaultRange,
		PacketLossRatio:   c.Radio.PacketLossRatio,
		Mesh:              c.Mesh,
		Visualization:     c.Visualization,
	}
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, AddSource: c.Log.AddSource}
}
