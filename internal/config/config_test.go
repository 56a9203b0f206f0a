package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/mesh-simulator/internal/sim"
	"github.com/signalsfoundry/mesh-simulator/timectrl"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultMatchesEngineDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	if diff := cmp.Diff(sim.DefaultConfig(), cfg.SimConfig()); diff != "" {
		t.Fatalf("SimConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromFileOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
  format: json
simulation:
  speed: 4
  seed: 99
  start_time: 2024-06-01T12:00:00Z
  autogo: true
  autogo_step: 250ms
radio:
  default_range: 200
  packet_loss_ratio: 0.1
mesh:
  max_routers: 8
  advertise_interval: 5s
visualization:
  broadcast_message: false
control:
  grpc_addr: ""
  web_addr: 0.0.0.0:9000
capture:
  pcap: current.pcap
  replay_db: run.db
tracing:
  enabled: true
  exporter: otlp
scenario: layout.yaml
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4.0, cfg.Simulation.Speed)
	assert.Equal(t, uint64(99), cfg.Simulation.Seed)
	assert.True(t, cfg.Simulation.StartTime.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))
	assert.True(t, cfg.Simulation.AutoGo)
	assert.Equal(t, 250*time.Millisecond, cfg.Simulation.AutoGoStep)
	assert.Equal(t, 200, cfg.Radio.DefaultRange)
	assert.Equal(t, 0.1, cfg.Radio.PacketLossRatio)
	assert.Equal(t, 8, cfg.Mesh.MaxRouters)
	assert.Equal(t, 5*time.Second, cfg.Mesh.AdvertiseInterval)
	assert.False(t, cfg.Visualization.BroadcastMessage)
	assert.Empty(t, cfg.Control.GRPCAddr)
	assert.Equal(t, "0.0.0.0:9000", cfg.Control.WebAddr)
	assert.Equal(t, "current.pcap", cfg.Capture.PCAP)
	assert.Equal(t, "run.db", cfg.Capture.ReplayDB)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, "layout.yaml", cfg.Scenario)

	// Untouched sections keep their defaults.
	def := Default()
	assert.Equal(t, def.Simulation.CellSize, cfg.Simulation.CellSize)
	assert.Equal(t, def.Mesh.MaxChildren, cfg.Mesh.MaxChildren)
	assert.Equal(t, def.Control.Prompt, cfg.Control.Prompt)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "simulation: [not, a, map]\n"))
	assert.Error(t, err)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"MESHSIM_LOG_LEVEL":         "warn",
		"MESHSIM_SPEED":             "max",
		"MESHSIM_SEED":              "7",
		"MESHSIM_AUTOGO":            "true",
		"MESHSIM_RADIO_RANGE":       "300",
		"MESHSIM_PACKET_LOSS_RATIO": "0.25",
		"MESHSIM_GRPC_ADDR":         ":6000",
		"MESHSIM_WEB_ADDR":          ":6001",
		"MESHSIM_PCAP":              "x.pcap",
		"MESHSIM_REPLAY_DB":         "x.db",
		"MESHSIM_SCENARIO":          "grid.yaml",
		"MESHSIM_TRACING_ENABLED":   "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, timectrl.MaxSpeed, cfg.Simulation.Speed)
	assert.Equal(t, uint64(7), cfg.Simulation.Seed)
	assert.True(t, cfg.Simulation.AutoGo)
	assert.Equal(t, 300, cfg.Radio.DefaultRange)
	assert.Equal(t, 0.25, cfg.Radio.PacketLossRatio)
	assert.Equal(t, ":6000", cfg.Control.GRPCAddr)
	assert.Equal(t, ":6001", cfg.Control.WebAddr)
	assert.Equal(t, "x.pcap", cfg.Capture.PCAP)
	assert.Equal(t, "x.db", cfg.Capture.ReplayDB)
	assert.Equal(t, "grid.yaml", cfg.Scenario)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestApplyEnvEmptyKeepsValues(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(noEnv))
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnvReportsMalformedValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"MESHSIM_SEED":   "-1",
		"MESHSIM_AUTOGO": "sometimes",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MESHSIM_SEED")
	assert.Contains(t, err.Error(), "MESHSIM_AUTOGO")
}

func TestParseSpeed(t *testing.T) {
	v, err := ParseSpeed("MAX")
	require.NoError(t, err)
	assert.Equal(t, timectrl.MaxSpeed, v)

	v, err = ParseSpeed("2.5")
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	_, err = ParseSpeed("fast")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"autogo step", func(c *Config) { c.Simulation.AutoGo = true; c.Simulation.AutoGoStep = 0 }},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }},
		{"speed", func(c *Config) { c.Simulation.Speed = -1 }},
		{"cell size", func(c *Config) { c.Simulation.CellSize = 0 }},
		{"packet loss", func(c *Config) { c.Radio.PacketLossRatio = 1.5 }},
		{"mesh", func(c *Config) { c.Mesh.MaxRouters = 0 }},
		{"router thresholds", func(c *Config) { c.Mesh.RouterDowngradeThreshold = c.Mesh.RouterUpgradeThreshold - 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	cfg.Log.AddSource = true
	lc := cfg.LoggingConfig()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "text", lc.Format)
	assert.True(t, lc.AddSource)
}
