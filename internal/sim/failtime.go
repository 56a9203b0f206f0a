package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/mesh-simulator/model"
)

// failTimer drives the periodic radio failures of one node.
type failTimer struct {
	ft    model.FailTime
	event string
}

// SetFailTime makes a node fail for ft.FailDuration at a random offset
// within every ft.FailInterval. A disabled ft stops periodic failures
// and brings the radio back up.
func (e *Engine) SetFailTime(ctx context.Context, id model.NodeID, ft model.FailTime) error {
	if ft.FailInterval < 0 || ft.FailDuration < 0 {
		return fmt.Errorf("%w: negative fail time", ErrInvalidArgument)
	}
	if ft.FailDuration > ft.FailInterval {
		return fmt.Errorf("%w: fail duration %s exceeds interval %s", ErrInvalidArgument, ft.FailDuration, ft.FailInterval)
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if e.kb.GetNode(id) == nil {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	e.clearFailTimeLocked(id)
	if !ft.Enabled() {
		return e.setFailedLocked(id, false)
	}
	t := &failTimer{ft: ft}
	e.failTimes[id] = t
	e.scheduleFailCycleLocked(id, t, e.clock.Now())
	return nil
}

// FailTime returns the periodic failure setting of a node.
func (e *Engine) FailTime(id model.NodeID) model.FailTime {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.failTimes[id]; ok {
		return t.ft
	}
	return model.NonFailTime
}

func (e *Engine) clearFailTimeLocked(id model.NodeID) {
	t, ok := e.failTimes[id]
	if !ok {
		return
	}
	e.sched.Cancel(t.event)
	delete(e.failTimes, id)
}

// scheduleFailCycleLocked plans one interval starting at start.
func (e *Engine) scheduleFailCycleLocked(id model.NodeID, t *failTimer, start time.Time) {
	offset := time.Duration(0)
	if span := t.ft.FailInterval - t.ft.FailDuration; span > 0 {
		offset = time.Duration(e.radio.Int64N(int64(span)))
	}
	failAt := start.Add(offset)
	t.event = e.sched.Schedule(failAt, func() {
		if e.failTimes[id] != t {
			return
		}
		_ = e.setFailedLocked(id, true)
		t.event = e.sched.Schedule(failAt.Add(t.ft.FailDuration), func() {
			if e.failTimes[id] != t {
				return
			}
			_ = e.setFailedLocked(id, false)
			e.scheduleFailCycleLocked(id, t, start.Add(t.ft.FailInterval))
		})
	})
}
