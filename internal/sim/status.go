package sim

import (
	"context"
	"time"

	"github.com/signalsfoundry/mesh-simulator/model"
)

// Partitions groups node ids by mesh partition id; nodes that are not
// attached are listed under 0. Ids are ascending within a partition.
func (e *Engine) Partitions(ctx context.Context) (map[uint32][]model.NodeID, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.rt.Partitions(), nil
}

// Components returns the connected components of the radio graph,
// each sorted, ordered by smallest member.
func (e *Engine) Components(ctx context.Context) ([][]model.NodeID, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.conn.Components(), nil
}

// Counters returns a copy of the run statistics.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// Status summarizes the simulation.
type Status struct {
	Now             time.Time
	Elapsed         time.Duration
	Speed           float64
	PacketLossRatio float64
	Nodes           int
	Partitions      int
	Components      int
	PendingEvents   int
	Counters        Counters
}

// Status returns a snapshot of the simulation state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	if err := e.lock(ctx); err != nil {
		return Status{}, err
	}
	defer e.mu.Unlock()
	return Status{
		Now:             e.clock.Now(),
		Elapsed:         e.clock.Elapsed(),
		Speed:           e.clock.Speed(),
		PacketLossRatio: e.plr,
		Nodes:           e.kb.Len(),
		Partitions:      e.partitionCountLocked(),
		Components:      e.conn.NumComponents(),
		PendingEvents:   e.sched.Len(),
		Counters:        e.counters,
	}, nil
}
