package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. Components
// such as the scheduler and the node runtime depend on this rather than
// on a concrete controller.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController paces simulation time.
type Mode int

const (
	// RealTime advances simulated time at wall-clock speed.
	RealTime Mode = iota
	// Accelerated advances as quickly as events can be processed.
	Accelerated
)

const (
	// MaxSpeed means "as fast as possible": pacing never sleeps.
	MaxSpeed = 1000000.0

	// maxSleep caps a single pacing sleep so speed changes and
	// cancellation take effect promptly.
	maxSleep = 10 * time.Millisecond
)

// Option configures a TimeController.
type Option func(*TimeController)

// WithWallClock replaces the wall clock used for pacing.
func WithWallClock(now func() time.Time) Option {
	return func(tc *TimeController) { tc.wall = now }
}

// WithSleeper replaces the function used to wait between pacing checks.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(tc *TimeController) { tc.sleep = sleep }
}

// TimeController owns simulated time, paces its advancement against the
// wall clock and notifies registered listeners. It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time

	currentTime time.Time
	speed       float64

	// Pacing anchors: simulated time may not run ahead of
	// anchorSim + (wall - anchorReal) * speed.
	anchorReal time.Time
	anchorSim  time.Time

	wall  func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	listeners []func(time.Time)
}

// NewTimeController constructs a controller starting at start. RealTime
// mode starts at speed 1, Accelerated at MaxSpeed.
func NewTimeController(start time.Time, mode Mode, opts ...Option) *TimeController {
	tc := &TimeController{
		StartTime:   start,
		currentTime: start,
		speed:       1,
		wall:        time.Now,
		sleep:       sleepContext,
	}
	if mode == Accelerated {
		tc.speed = MaxSpeed
	}
	for _, opt := range opts {
		opt(tc)
	}
	tc.anchorReal = tc.wall()
	tc.anchorSim = start
	return tc
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Elapsed returns the simulated time since StartTime.
func (tc *TimeController) Elapsed() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime.Sub(tc.StartTime)
}

// SetTime moves simulated time to t and notifies listeners. Moving
// backwards is ignored.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	if t.Before(tc.currentTime) {
		tc.mu.Unlock()
		return
	}
	tc.currentTime = t
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
}

// AddListener registers a callback invoked every time SetTime advances
// the clock.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Speed returns the current speed factor.
func (tc *TimeController) Speed() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.speed
}

// SetSpeed changes the speed factor, clamped to [0, MaxSpeed], and
// re-anchors pacing at the current instant. It returns the applied value.
func (tc *TimeController) SetSpeed(speed float64) float64 {
	switch {
	case speed < 0 || speed != speed:
		speed = 0
	case speed > MaxSpeed:
		speed = MaxSpeed
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.speed = speed
	tc.resetPacingLocked()
	return speed
}

// ResetPacing re-anchors pacing so time spent idle is not caught up.
func (tc *TimeController) ResetPacing() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.resetPacingLocked()
}

func (tc *TimeController) resetPacingLocked() {
	tc.anchorReal = tc.wall()
	tc.anchorSim = tc.currentTime
}

// Pace blocks until the wall clock allows simulated time to reach
// target at the current speed. A speed of 0 pauses until the speed is
// raised or ctx ends. It returns ctx.Err() when cancelled.
func (tc *TimeController) Pace(ctx context.Context, target time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := tc.pacingWait(target)
		if wait <= 0 {
			return nil
		}
		if wait > maxSleep {
			wait = maxSleep
		}
		if err := tc.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// pacingWait returns how much wall time must pass before target is
// allowed, or a full slice while paused.
func (tc *TimeController) pacingWait(target time.Time) time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	if tc.speed >= MaxSpeed {
		return 0
	}
	if tc.speed <= 0 {
		return maxSleep
	}
	ahead := target.Sub(tc.anchorSim)
	realElapsed := tc.wall().Sub(tc.anchorReal)
	allowed := time.Duration(float64(realElapsed) * tc.speed)
	if ahead <= allowed {
		return 0
	}
	return time.Duration(float64(ahead-allowed) / tc.speed)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
