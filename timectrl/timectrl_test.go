package timectrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

var start = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// fakeWall is a manually advanced wall clock whose sleeper advances it.
type fakeWall struct {
	now    time.Time
	slept  time.Duration
	onWait func()
}

func (f *fakeWall) Now() time.Time { return f.now }

func (f *fakeWall) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.now = f.now.Add(d)
	f.slept += d
	if f.onWait != nil {
		f.onWait()
	}
	return nil
}

func newFake(mode Mode) (*TimeController, *fakeWall) {
	fw := &fakeWall{now: time.Unix(1000, 0)}
	tc := NewTimeController(start, mode, WithWallClock(fw.Now), WithSleeper(fw.Sleep))
	return tc, fw
}

func TestTimeControllerSetTime(t *testing.T) {
	tc, _ := newFake(RealTime)

	var seen []time.Time
	tc.AddListener(func(t time.Time) { seen = append(seen, t) })

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)
	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
	if got := tc.Elapsed(); got != 42*time.Second {
		t.Fatalf("Elapsed() = %v, want 42s", got)
	}

	// Backwards moves are ignored and not broadcast.
	tc.SetTime(start)
	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() after backwards SetTime = %v", got)
	}
	if len(seen) != 1 || !seen[0].Equal(newNow) {
		t.Fatalf("listener saw %v, want [%v]", seen, newNow)
	}
}

func TestModeSelectsInitialSpeed(t *testing.T) {
	rt, _ := newFake(RealTime)
	if rt.Speed() != 1 {
		t.Fatalf("RealTime speed = %v, want 1", rt.Speed())
	}
	acc, _ := newFake(Accelerated)
	if acc.Speed() != MaxSpeed {
		t.Fatalf("Accelerated speed = %v, want MaxSpeed", acc.Speed())
	}
}

func TestSetSpeedClamps(t *testing.T) {
	tc, _ := newFake(RealTime)
	cases := []struct {
		in, want float64
	}{
		{-3, 0},
		{2.5, 2.5},
		{5e7, MaxSpeed},
	}
	for _, c := range cases {
		if got := tc.SetSpeed(c.in); got != c.want {
			t.Errorf("SetSpeed(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestPaceAtMaxSpeedNeverSleeps(t *testing.T) {
	tc, fw := newFake(Accelerated)
	if err := tc.Pace(context.Background(), start.Add(time.Hour)); err != nil {
		t.Fatalf("Pace error: %v", err)
	}
	if fw.slept != 0 {
		t.Fatalf("slept %v at max speed", fw.slept)
	}
}

func TestPaceRealTimeWaitsForWallClock(t *testing.T) {
	tc, fw := newFake(RealTime)
	tc.SetSpeed(2)

	if err := tc.Pace(context.Background(), start.Add(time.Second)); err != nil {
		t.Fatalf("Pace error: %v", err)
	}
	// One simulated second at speed 2 needs half a wall second.
	if fw.slept != 500*time.Millisecond {
		t.Fatalf("slept %v, want 500ms", fw.slept)
	}
}

func TestPacePausedHonorsContext(t *testing.T) {
	tc, fw := newFake(RealTime)
	tc.SetSpeed(0)

	ctx, cancel := context.WithCancel(context.Background())
	waits := 0
	fw.onWait = func() {
		waits++
		if waits == 3 {
			cancel()
		}
	}
	err := tc.Pace(ctx, start.Add(time.Millisecond))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Pace err = %v, want context.Canceled", err)
	}
	if fw.slept != 3*maxSleep {
		t.Fatalf("slept %v, want %v", fw.slept, 3*maxSleep)
	}
}

func TestResetPacingDropsIdleTime(t *testing.T) {
	tc, fw := newFake(RealTime)
	// An hour of idle wall time must not allow an hour of instant sim time.
	fw.now = fw.now.Add(time.Hour)
	tc.ResetPacing()

	if err := tc.Pace(context.Background(), start.Add(100*time.Millisecond)); err != nil {
		t.Fatalf("Pace error: %v", err)
	}
	if fw.slept != 100*time.Millisecond {
		t.Fatalf("slept %v, want 100ms", fw.slept)
	}
}
