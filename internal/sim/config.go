package sim

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/mesh-simulator/core"
	"github.com/signalsfoundry/mesh-simulator/internal/node"
	"github.com/signalsfoundry/mesh-simulator/internal/visualize"
	"github.com/signalsfoundry/mesh-simulator/model"
	"github.com/signalsfoundry/mesh-simulator/timectrl"
)

// DefaultStartTime is the simulated wall time at which runs begin.
var DefaultStartTime = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// Config holds the engine settings.
type Config struct {
	StartTime time.Time
	// Speed is the initial ratio of simulated to real time.
	Speed float64
	// Seed drives every random choice of the run.
	Seed              uint64
	CellSize          int
	DefaultRadioRange int
	PacketLossRatio   float64
	Mesh              node.Params
	Visualization     visualize.Options
}

// DefaultConfig returns a real-time configuration with seed 1.
func DefaultConfig() Config {
	return Config{
		StartTime:         DefaultStartTime,
		Speed:             1,
		Seed:              1,
		CellSize:          core.DefaultCellSize,
		DefaultRadioRange: model.DefaultRadioRange,
		Mesh:              node.DefaultParams(),
		Visualization:     visualize.DefaultOptions(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Speed < 0 || c.Speed > timectrl.MaxSpeed:
		return fmt.Errorf("%w: speed %v outside [0,%v]", ErrInvalidArgument, c.Speed, timectrl.MaxSpeed)
	case c.CellSize <= 0:
		return fmt.Errorf("%w: cell size must be positive, got %d", ErrInvalidArgument, c.CellSize)
	case c.DefaultRadioRange < 0:
		return fmt.Errorf("%w: default radio range must not be negative", ErrInvalidArgument)
	case c.PacketLossRatio < 0 || c.PacketLossRatio > 1:
		return fmt.Errorf("%w: packet loss ratio %v outside [0,1]", ErrInvalidArgument, c.PacketLossRatio)
	}
	if err := c.Mesh.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}
