package scenario

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/mesh-simulator/internal/sim"
	"github.com/signalsfoundry/mesh-simulator/model"
	"github.com/signalsfoundry/mesh-simulator/timectrl"
)

const layoutYAML = `
grids:
  - type: router
    rows: 2
    cols: 2
    spacing: 100
    x: 0
    y: 0
nodes:
  - id: 1
    type: med
    x: 50
    y: 50
  - type: sed
    x: 5000
    y: 5000
    radio_range: 50
    failed: true
  - id: 9
    x: 100
    y: 50
    fail_time:
      interval_seconds: 60
      duration_seconds: 10
warmup_seconds: 30
`

func TestParseYAMLAndExpand(t *testing.T) {
	sc, err := Parse(strings.NewReader(layoutYAML), FormatYAML)
	require.NoError(t, err)

	got := sc.Expand()
	require.Len(t, got, 7)
	want := []Node{
		{Type: "router", X: 0, Y: 0},
		{Type: "router", X: 100, Y: 0},
		{Type: "router", X: 0, Y: 100},
		{Type: "router", X: 100, Y: 100},
	}
	if diff := cmp.Diff(want, got[:4]); diff != "" {
		t.Fatalf("grid expansion mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, got[4].ID)
	assert.True(t, got[5].Failed)
	require.NotNil(t, got[6].FailTime)
	assert.Equal(t, 60.0, got[6].FailTime.IntervalSeconds)
}

func TestParseJSON(t *testing.T) {
	sc, err := Parse(strings.NewReader(`{"nodes":[{"id":3,"type":"fed","x":1,"y":2}]}`), FormatJSON)
	require.NoError(t, err)
	require.Len(t, sc.Nodes, 1)
	assert.Equal(t, Node{ID: 3, Type: "fed", X: 1, Y: 2}, sc.Nodes[0])
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		format Format
	}{
		{"unknown yaml field", "nodes:\n  - color: red\n", FormatYAML},
		{"unknown json field", `{"links":[]}`, FormatJSON},
		{"bad type", "nodes:\n  - type: toaster\n", FormatYAML},
		{"duplicate id", "nodes:\n  - id: 2\n  - id: 2\n", FormatYAML},
		{"negative range", "nodes:\n  - radio_range: -1\n", FormatYAML},
		{"empty grid", "grids:\n  - rows: 0\n    cols: 3\n", FormatYAML},
		{"fail time longer than interval", "nodes:\n  - fail_time: {interval_seconds: 1, duration_seconds: 2}\n", FormatYAML},
		{"negative warmup", "warmup_seconds: -1\n", FormatYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), tt.format)
			assert.Error(t, err)
		})
	}
}

func TestParseEmptyYAML(t *testing.T) {
	sc, err := Parse(strings.NewReader(""), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, sc.Expand())
}

func TestLoadFilePicksFormat(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "layout.JSON")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"nodes":[{"x":10}]}`), 0o644))
	yamlPath := filepath.Join(dir, "layout.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(layoutYAML), 0o644))

	assert.Equal(t, FormatJSON, FormatFromPath(jsonPath))
	assert.Equal(t, FormatYAML, FormatFromPath(yamlPath))

	sc, err := LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Len(t, sc.Nodes, 1)

	sc, err = LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Len(t, sc.Expand(), 7)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyToEngine(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.Speed = timectrl.MaxSpeed
	e, err := sim.New(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Stop)

	sc, err := Parse(strings.NewReader(layoutYAML), FormatYAML)
	require.NoError(t, err)

	ctx := context.Background()
	res, err := sc.Apply(ctx, e, nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, res.Warmup)
	assert.Equal(t, 30*time.Second, e.Elapsed())

	// Explicit ids are reserved before grid nodes take the lowest free ids.
	assert.Equal(t, []model.NodeID{2, 3, 4, 5, 1, 6, 9}, res.NodeIDs)

	nodes, err := e.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 7)
	byID := make(map[model.NodeID]model.NodeInfo)
	for _, n := range nodes {
		byID[n.ID] = n
	}
	assert.Equal(t, model.NodeTypeMED, byID[1].Type)
	assert.True(t, byID[6].Failed)
	assert.Equal(t, 50, byID[6].RadioRange)
	assert.Equal(t, model.DefaultRadioRange, byID[2].RadioRange)
	assert.Equal(t, model.FailTime{FailInterval: time.Minute, FailDuration: 10 * time.Second}, e.FailTime(9))
}

type failingTarget struct {
	added int
	err   error
}

func (f *failingTarget) AddNode(_ context.Context, cfg model.NodeConfig) (model.NodeInfo, error) {
	if f.added == 1 {
		return model.NodeInfo{}, f.err
	}
	f.added++
	return model.NodeInfo{ID: f.added}, nil
}

func (f *failingTarget) SetNodeFailed(context.Context, model.NodeID, bool) error { return nil }

func (f *failingTarget) SetFailTime(context.Context, model.NodeID, model.FailTime) error {
	return nil
}

func (f *failingTarget) Go(context.Context, time.Duration) error { return nil }

func TestApplyStopsOnError(t *testing.T) {
	sc := &Scenario{Nodes: []Node{{X: 1}, {X: 2}, {X: 3}}}
	boom := errors.New("boom")
	target := &failingTarget{err: boom}

	_, err := sc.Apply(context.Background(), target, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, target.added)
}
