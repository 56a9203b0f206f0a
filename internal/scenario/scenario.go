// Package scenario loads an initial node layout from YAML or JSON and
// applies it to a running simulation.
package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/mesh-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-simulator/model"
)

// Format selects the scenario file syntax.
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
)

// Scenario is a decoded layout file.
type Scenario struct {
	// Grids are expanded before Nodes, row by row.
	Grids []Grid `yaml:"grids" json:"grids"`
	Nodes []Node `yaml:"nodes" json:"nodes"`
	// WarmupSeconds is simulated time to run once every node is placed.
	WarmupSeconds float64 `yaml:"warmup_seconds" json:"warmup_seconds"`
}

// Node places a single node. Zero ID and RadioRange pick the simulation
// defaults.
type Node struct {
	ID         int       `yaml:"id" json:"id"`
	Type       string    `yaml:"type" json:"type"`
	X          int       `yaml:"x" json:"x"`
	Y          int       `yaml:"y" json:"y"`
	RadioRange int       `yaml:"radio_range" json:"radio_range"`
	Failed     bool      `yaml:"failed" json:"failed"`
	FailTime   *FailTime `yaml:"fail_time" json:"fail_time"`
}

// FailTime mirrors model.FailTime in seconds.
type FailTime struct {
	IntervalSeconds float64 `yaml:"interval_seconds" json:"interval_seconds"`
	DurationSeconds float64 `yaml:"duration_seconds" json:"duration_seconds"`
}

// Grid places Rows*Cols nodes of one type, Spacing apart, starting at
// (X, Y).
type Grid struct {
	Type       string `yaml:"type" json:"type"`
	Rows       int    `yaml:"rows" json:"rows"`
	Cols       int    `yaml:"cols" json:"cols"`
	Spacing    int    `yaml:"spacing" json:"spacing"`
	X          int    `yaml:"x" json:"x"`
	Y          int    `yaml:"y" json:"y"`
	RadioRange int    `yaml:"radio_range" json:"radio_range"`
}

// Target is the simulation surface a scenario is applied to.
type Target interface {
	AddNode(ctx context.Context, cfg model.NodeConfig) (model.NodeInfo, error)
	SetNodeFailed(ctx context.Context, id model.NodeID, failed bool) error
	SetFailTime(ctx context.Context, id model.NodeID, ft model.FailTime) error
	Go(ctx context.Context, d time.Duration) error
}

// Result summarizes what Apply created.
type Result struct {
	NodeIDs []model.NodeID
	Warmup  time.Duration
}

// FormatFromPath picks JSON for .json files and YAML otherwise.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// LoadFile reads and validates the scenario at path.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	sc, err := Parse(bytes.NewReader(data), FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes a scenario from r. Unknown fields are rejected.
func Parse(r io.Reader, format Format) (*Scenario, error) {
	var sc Scenario
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&sc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&sc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the layout without touching a simulation.
func (s *Scenario) Validate() error {
	for i, g := range s.Grids {
		if g.Rows <= 0 || g.Cols <= 0 {
			return fmt.Errorf("grid %d: rows and cols must be positive", i)
		}
		if g.Spacing < 0 || g.RadioRange < 0 {
			return fmt.Errorf("grid %d: spacing and radio_range must not be negative", i)
		}
		if err := validType(g.Type); err != nil {
			return fmt.Errorf("grid %d: %w", i, err)
		}
	}
	seen := make(map[int]int)
	for i, n := range s.Nodes {
		if n.ID < 0 || n.RadioRange < 0 {
			return fmt.Errorf("node %d: id and radio_range must not be negative", i)
		}
		if n.ID != 0 {
			if j, dup := seen[n.ID]; dup {
				return fmt.Errorf("node %d: id %d already used by node %d", i, n.ID, j)
			}
			seen[n.ID] = i
		}
		if err := validType(n.Type); err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
		if n.FailTime != nil {
			ft := n.FailTime.toModel()
			if ft != model.NonFailTime && !ft.Enabled() {
				return fmt.Errorf("node %d: fail_time duration must be in (0, interval]", i)
			}
		}
	}
	if s.WarmupSeconds < 0 {
		return fmt.Errorf("warmup_seconds must not be negative")
	}
	return nil
}

func validType(s string) error {
	if s == "" {
		return nil
	}
	_, err := model.ParseNodeType(s)
	return err
}

func (ft FailTime) toModel() model.FailTime {
	return model.FailTime{
		FailInterval: seconds(ft.IntervalSeconds),
		FailDuration: seconds(ft.DurationSeconds),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Expand returns every node the scenario places, grids first.
func (s *Scenario) Expand() []Node {
	var out []Node
	for _, g := range s.Grids {
		for r := 0; r < g.Rows; r++ {
			for c := 0; c < g.Cols; c++ {
				out = append(out, Node{
					Type:       g.Type,
					X:          g.X + c*g.Spacing,
					Y:          g.Y + r*g.Spacing,
					RadioRange: g.RadioRange,
				})
			}
		}
	}
	return append(out, s.Nodes...)
}

// Apply adds every node to t, then applies failures and runs the warmup.
// Nodes with explicit ids are added first so grid nodes never take them.
func (s *Scenario) Apply(ctx context.Context, t Target, log logging.Logger) (*Result, error) {
	if log == nil {
		log = logging.Noop()
	}
	nodes := s.Expand()
	ids := make([]model.NodeID, len(nodes))

	add := func(i int) error {
		n := nodes[i]
		info, err := t.AddNode(ctx, model.NodeConfig{
			ID:         n.ID,
			Type:       model.NodeType(n.Type),
			Position:   model.Position{X: n.X, Y: n.Y},
			RadioRange: n.RadioRange,
		})
		if err != nil {
			return fmt.Errorf("add node %d of scenario: %w", i, err)
		}
		ids[i] = info.ID
		return nil
	}
	for i, n := range nodes {
		if n.ID != 0 {
			if err := add(i); err != nil {
				return nil, err
			}
		}
	}
	for i, n := range nodes {
		if n.ID == 0 {
			if err := add(i); err != nil {
				return nil, err
			}
		}
	}

	for i, n := range nodes {
		if n.FailTime != nil {
			if err := t.SetFailTime(ctx, ids[i], n.FailTime.toModel()); err != nil {
				return nil, fmt.Errorf("fail_time of node %d: %w", ids[i], err)
			}
		}
		if n.Failed {
			if err := t.SetNodeFailed(ctx, ids[i], true); err != nil {
				return nil, fmt.Errorf("fail node %d: %w", ids[i], err)
			}
		}
	}

	res := &Result{NodeIDs: ids, Warmup: seconds(s.WarmupSeconds)}
	log.Info(ctx, "scenario applied",
		logging.Int("nodes", len(ids)),
		logging.Int("grids", len(s.Grids)),
		logging.Duration("warmup", res.Warmup))
	if res.Warmup > 0 {
		if err := t.Go(ctx, res.Warmup); err != nil {
			return nil, fmt.Errorf("scenario warmup: %w", err)
		}
	}
	return res, nil
}
