package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/mesh-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-simulator/internal/visualize"
)

// Go advances simulated time by d, running every event due up to then
// in order. The clock ends exactly d later unless ctx is cancelled
// first. Concurrent calls run one after the other; other operations
// interleave between events.
func (e *Engine) Go(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative duration %s", ErrInvalidArgument, d)
	}
	e.goMu.Lock()
	defer e.goMu.Unlock()

	// Stop cancels the pacing wait along with ctx.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(e.life, cancel)()
	stopped := func(err error) error {
		if e.life.Err() != nil {
			return ErrStopped
		}
		return err
	}

	if err := e.lock(ctx); err != nil {
		return stopped(err)
	}
	startSim := e.clock.Now()
	target := startSim.Add(d)
	e.clock.ResetPacing()
	e.mu.Unlock()

	startWall := time.Now()
	for {
		if err := e.lock(ctx); err != nil {
			return stopped(err)
		}
		t := e.nextStopLocked(target)
		e.mu.Unlock()

		if err := e.clock.Pace(ctx, t); err != nil {
			return stopped(err)
		}

		if err := e.lock(ctx); err != nil {
			return stopped(err)
		}
		// Another command may have scheduled something earlier while
		// this call was pacing.
		if next := e.nextStopLocked(t); next.Before(t) {
			t = next
		}
		e.clock.SetTime(t)
		e.vis.AdvanceTime(e.clock.Elapsed(), e.clock.Speed())
		e.counters.EventsDispatched += uint64(e.sched.RunDue())
		done := !t.Before(target)
		if done {
			e.reportMetricsLocked()
			if e.metrics != nil {
				e.metrics.ObserveGo(t.Sub(startSim), time.Since(startWall))
			}
		}
		e.mu.Unlock()
		if done {
			return nil
		}
	}
}

// nextStopLocked returns the time of the next event if it is before
// limit, limit otherwise, never earlier than now.
func (e *Engine) nextStopLocked(limit time.Time) time.Time {
	now := e.clock.Now()
	t := limit
	if next, ok := e.sched.NextTime(); ok && next.Before(t) {
		t = next
	}
	if t.Before(now) {
		t = now
	}
	return t
}

// AutoGo keeps simulated time running in steps of step until ctx is
// done or the engine stops.
func (e *Engine) AutoGo(ctx context.Context, step time.Duration) error {
	if step <= 0 {
		return fmt.Errorf("%w: autogo step must be positive", ErrInvalidArgument)
	}
	e.log.Info(ctx, "autogo started", logging.Duration("step", step))
	for {
		err := e.Go(ctx, step)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrStopped):
			return nil
		default:
			return err
		}
	}
}

// Now returns the current simulated time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Elapsed returns simulated time since the start of the run.
func (e *Engine) Elapsed() time.Duration { return e.clock.Elapsed() }

// Speed returns the current speed factor.
func (e *Engine) Speed() float64 { return e.clock.Speed() }

// SetSpeed changes the speed factor, clamped to [0, timectrl.MaxSpeed],
// and returns the value applied.
func (e *Engine) SetSpeed(ctx context.Context, speed float64) (float64, error) {
	if err := e.lock(ctx); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	applied := e.clock.SetSpeed(speed)
	e.vis.SetSpeed(applied)
	return applied, nil
}

// PacketLossRatio returns the global per-frame loss ratio.
func (e *Engine) PacketLossRatio() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plr
}

// SetPacketLossRatio sets the global loss ratio, clamped to [0,1], and
// returns the value applied.
func (e *Engine) SetPacketLossRatio(ctx context.Context, plr float64) (float64, error) {
	if err := e.lock(ctx); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	switch {
	case math.IsNaN(plr) || plr < 0:
		plr = 0
	case plr > 1:
		plr = 1
	}
	e.plr = plr
	return plr, nil
}

// CountDown shows a countdown of d on the visualizer. text may contain
// a %v verb for the remaining seconds.
func (e *Engine) CountDown(ctx context.Context, d time.Duration, text string) error {
	if d < 0 {
		return fmt.Errorf("%w: negative countdown %s", ErrInvalidArgument, d)
	}
	if text == "" {
		text = "%v"
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()
	e.vis.CountDown(d, text)
	return nil
}

// ShowDemoLegend shows a titled legend at (x, y).
func (e *Engine) ShowDemoLegend(ctx context.Context, x, y int, title string) error {
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()
	e.vis.ShowDemoLegend(x, y, title)
	return nil
}

// VisualizationOptions returns the current frame filter.
func (e *Engine) VisualizationOptions() visualize.Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visOpts
}

// SetVisualizationOptions replaces the frame filter.
func (e *Engine) SetVisualizationOptions(ctx context.Context, opts visualize.Options) error {
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()
	e.visOpts = opts
	e.log.Debug(ctx, "visualization options changed",
		logging.Bool("broadcast", opts.BroadcastMessage),
		logging.Bool("unicast", opts.UnicastMessage),
		logging.Bool("ack", opts.AckMessage),
		logging.Bool("router_table", opts.RouterTable),
		logging.Bool("child_table", opts.ChildTable))
	return nil
}
