package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/mesh-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-simulator/model"
)

// AddNode creates a node and starts its mesh stack. A zero cfg.ID picks
// the lowest free id, a zero radio range the configured default.
func (e *Engine) AddNode(ctx context.Context, cfg model.NodeConfig) (model.NodeInfo, error) {
	typ := model.NodeTypeRouter
	if cfg.Type != "" {
		t, err := model.ParseNodeType(string(cfg.Type))
		if err != nil {
			return model.NodeInfo{}, fmt.Errorf("%w: %q", ErrInvalidNodeType, cfg.Type)
		}
		typ = t
	}
	if cfg.ID < 0 {
		return model.NodeInfo{}, fmt.Errorf("%w: node id %d", ErrInvalidArgument, cfg.ID)
	}
	if cfg.RadioRange < 0 {
		return model.NodeInfo{}, fmt.Errorf("%w: radio range %d", ErrInvalidArgument, cfg.RadioRange)
	}

	if err := e.lock(ctx); err != nil {
		return model.NodeInfo{}, err
	}
	defer e.mu.Unlock()

	id := cfg.ID
	if id == model.InvalidNodeID {
		id = e.kb.NextFreeID()
	} else if e.kb.GetNode(id) != nil {
		return model.NodeInfo{}, fmt.Errorf("%w: %d", ErrNodeExists, id)
	}
	radioRange := cfg.RadioRange
	if radioRange == 0 {
		radioRange = e.cfg.DefaultRadioRange
	}

	rec := &model.NodeRecord{ID: id, Type: typ, Position: cfg.Position, RadioRange: radioRange}
	if err := e.kb.AddNode(rec); err != nil {
		return model.NodeInfo{}, translate(err)
	}
	if _, err := e.rt.AddNode(id, typ); err != nil {
		_ = e.kb.DeleteNode(id)
		return model.NodeInfo{}, translate(err)
	}
	e.reportMetricsLocked()
	e.log.Debug(ctx, "node added",
		logging.Int("node_id", id),
		logging.String("type", string(typ)),
		logging.Int("x", cfg.Position.X),
		logging.Int("y", cfg.Position.Y),
		logging.Int("radio_range", radioRange))
	return e.nodeInfoLocked(id)
}

// DeleteNode removes nodes. Unknown ids are reported but do not stop the
// remaining deletions.
func (e *Engine) DeleteNode(ctx context.Context, ids ...model.NodeID) error {
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if e.kb.GetNode(id) == nil {
			errs = append(errs, fmt.Errorf("%w: %d", ErrNodeNotFound, id))
			continue
		}
		e.clearFailTimeLocked(id)
		if err := e.rt.RemoveNode(id); err != nil {
			errs = append(errs, translate(err))
		}
		if err := e.kb.DeleteNode(id); err != nil {
			errs = append(errs, translate(err))
		}
		delete(e.pings, id)
		e.log.Debug(ctx, "node deleted", logging.Int("node_id", id))
	}
	e.reportMetricsLocked()
	return errors.Join(errs...)
}

// MoveNodeTo places a node at (x, y); only its own links are
// re-evaluated.
func (e *Engine) MoveNodeTo(ctx context.Context, id model.NodeID, x, y int) error {
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := e.kb.UpdateNodePosition(id, model.Position{X: x, Y: y}); err != nil {
		return translate(err)
	}
	e.reportMetricsLocked()
	return nil
}

// SetRadioRange changes the radio range of a node.
func (e *Engine) SetRadioRange(ctx context.Context, id model.NodeID, radioRange int) error {
	if radioRange < 0 {
		return fmt.Errorf("%w: radio range %d", ErrInvalidArgument, radioRange)
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := e.kb.SetRadioRange(id, radioRange); err != nil {
		return translate(err)
	}
	e.reportMetricsLocked()
	return nil
}

// SetNodeFailed turns a node's radio off or on and cancels any periodic
// fail time.
func (e *Engine) SetNodeFailed(ctx context.Context, id model.NodeID, failed bool) error {
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if e.kb.GetNode(id) == nil {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	e.clearFailTimeLocked(id)
	return e.setFailedLocked(id, failed)
}

func (e *Engine) setFailedLocked(id model.NodeID, failed bool) error {
	if err := e.kb.SetFailed(id, failed); err != nil {
		return translate(err)
	}
	if err := e.rt.SetFailed(id, failed); err != nil {
		return translate(err)
	}
	e.reportMetricsLocked()
	return nil
}

// NodeCommand runs a node-level command such as "state" or
// "ipaddr rloc" and returns its output.
func (e *Engine) NodeCommand(ctx context.Context, id model.NodeID, cmd string) ([]string, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if e.kb.GetNode(id) == nil {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	out, err := e.rt.Command(id, cmd)
	return out, translate(err)
}

// Node returns a snapshot of one node.
func (e *Engine) Node(ctx context.Context, id model.NodeID) (model.NodeInfo, error) {
	if err := e.lock(ctx); err != nil {
		return model.NodeInfo{}, err
	}
	defer e.mu.Unlock()
	return e.nodeInfoLocked(id)
}

// Nodes returns snapshots of every node ordered by id.
func (e *Engine) Nodes(ctx context.Context) ([]model.NodeInfo, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	recs := e.kb.ListNodes()
	res := make([]model.NodeInfo, 0, len(recs))
	for _, rec := range recs {
		res = append(res, e.infoFromRecordLocked(rec))
	}
	return res, nil
}

func (e *Engine) nodeInfoLocked(id model.NodeID) (model.NodeInfo, error) {
	rec := e.kb.GetNode(id)
	if rec == nil {
		return model.NodeInfo{}, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return e.infoFromRecordLocked(*rec), nil
}

func (e *Engine) infoFromRecordLocked(rec model.NodeRecord) model.NodeInfo {
	info := model.NodeInfo{
		ID:         rec.ID,
		Type:       rec.Type,
		Rloc16:     model.InvalidRloc16,
		Role:       model.RoleDisabled,
		Position:   rec.Position,
		RadioRange: rec.RadioRange,
		Failed:     rec.Failed,
	}
	if n := e.rt.Node(rec.ID); n != nil {
		info = n.Info()
		info.Position = rec.Position
		info.RadioRange = rec.RadioRange
		info.Failed = rec.Failed
	}
	return info
}
