package scheduler

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

// fakeClock is a minimal test-only implementation of SimClock for scheduler tests.
type fakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *fakeClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestEventScheduler_SingleEvent(t *testing.T) {
	clock := newFakeClock(start)
	sched := NewEventScheduler(clock)

	var counter int
	t1 := start.Add(10 * time.Second)
	id := sched.Schedule(t1, func() { counter++ })
	if id == "" {
		t.Fatalf("Schedule returned empty ID")
	}

	if ran := sched.RunDue(); ran != 0 || counter != 0 {
		t.Fatalf("expected nothing to run before time advance, ran=%d counter=%d", ran, counter)
	}

	clock.AdvanceTo(t1)
	if ran := sched.RunDue(); ran != 1 || counter != 1 {
		t.Fatalf("expected one event after time advance, ran=%d counter=%d", ran, counter)
	}

	// RunDue again - event should not run twice
	sched.RunDue()
	if counter != 1 {
		t.Fatalf("expected counter=1 after second RunDue, got %d", counter)
	}
}

func TestEventScheduler_MultipleEventsInOrder(t *testing.T) {
	clock := newFakeClock(start)
	sched := NewEventScheduler(clock)

	var order []string
	t1 := start.Add(10 * time.Second)
	t2 := start.Add(20 * time.Second)
	t3 := start.Add(30 * time.Second)

	// Schedule events in reverse order to test ordering
	sched.Schedule(t3, func() { order = append(order, "e3") })
	sched.Schedule(t1, func() { order = append(order, "e1") })
	sched.Schedule(t2, func() { order = append(order, "e2") })

	if next, ok := sched.NextTime(); !ok || !next.Equal(t1) {
		t.Fatalf("NextTime = %v,%v, want %v", next, ok, t1)
	}

	clock.AdvanceTo(t2)
	sched.RunDue()
	if !reflect.DeepEqual(order, []string{"e1", "e2"}) {
		t.Fatalf("expected execution order [e1 e2], got %v", order)
	}

	clock.AdvanceTo(t3)
	sched.RunDue()
	if !reflect.DeepEqual(order, []string{"e1", "e2", "e3"}) {
		t.Fatalf("expected execution order [e1 e2 e3], got %v", order)
	}
}

func TestEventScheduler_EqualTimesRunFIFO(t *testing.T) {
	clock := newFakeClock(start)
	sched := NewEventScheduler(clock)

	var order []int
	at := start.Add(time.Second)
	for i := 0; i < 5; i++ {
		i := i
		sched.Schedule(at, func() { order = append(order, i) })
	}
	sched.Schedule(start, func() { order = append(order, -1) })

	clock.AdvanceTo(at)
	sched.RunDue()
	if want := []int{-1, 0, 1, 2, 3, 4}; !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestEventScheduler_PastDueEvent(t *testing.T) {
	clock := newFakeClock(start)
	sched := NewEventScheduler(clock)

	var counter int
	sched.Schedule(start.Add(-5*time.Second), func() { counter++ })

	sched.RunDue()
	if counter != 1 {
		t.Fatalf("expected past-due event to run immediately, counter=%d", counter)
	}
}

func TestEventScheduler_Cancellation(t *testing.T) {
	clock := newFakeClock(start)
	sched := NewEventScheduler(clock)

	var counter int
	t1 := start.Add(10 * time.Second)
	id := sched.Schedule(t1, func() { counter++ })
	later := start.Add(20 * time.Second)
	sched.Schedule(later, func() {})

	sched.Cancel(id)
	if n := sched.Len(); n != 1 {
		t.Fatalf("Len after cancel = %d, want 1", n)
	}
	if next, ok := sched.NextTime(); !ok || !next.Equal(later) {
		t.Fatalf("NextTime after cancel = %v,%v, want %v", next, ok, later)
	}

	clock.AdvanceTo(t1)
	sched.RunDue()
	if counter != 0 {
		t.Fatalf("expected cancelled event to not run, counter=%d", counter)
	}

	// Cancel an unknown ID - should be a no-op
	sched.Cancel("unknown-id")
}

func TestEventScheduler_Reentrancy(t *testing.T) {
	clock := newFakeClock(start)
	sched := NewEventScheduler(clock)

	var counter int
	t1 := start.Add(10 * time.Second)
	t2 := start.Add(20 * time.Second)

	sched.Schedule(t1, func() {
		counter++
		// Schedule another event from within the callback
		sched.Schedule(t2, func() { counter++ })
		// and one that is already due
		sched.Schedule(t1, func() { counter += 10 })
	})

	clock.AdvanceTo(t1)
	if ran := sched.RunDue(); ran != 2 {
		t.Fatalf("RunDue ran %d events, want 2", ran)
	}
	if counter != 11 {
		t.Fatalf("expected counter=11 after first pass, got %d", counter)
	}

	clock.AdvanceTo(t2)
	sched.RunDue()
	if counter != 12 {
		t.Fatalf("expected counter=12 after nested event, got %d", counter)
	}
	if _, ok := sched.NextTime(); ok {
		t.Fatalf("expected empty queue")
	}
}

type recordingMetrics struct {
	dispatched int
	pending    int
}

func (r *recordingMetrics) ObserveEventDispatch(time.Duration) { r.dispatched++ }
func (r *recordingMetrics) SetEventsPending(n int)             { r.pending = n }

func TestEventScheduler_MetricsRecorder(t *testing.T) {
	clock := newFakeClock(start)
	rec := &recordingMetrics{}
	sched := NewEventScheduler(clock, WithMetricsRecorder(rec))

	sched.Schedule(start, func() {})
	sched.Schedule(start.Add(time.Minute), func() {})
	if rec.pending != 2 {
		t.Fatalf("pending = %d, want 2", rec.pending)
	}
	sched.RunDue()
	if rec.dispatched != 1 || rec.pending != 1 {
		t.Fatalf("dispatched=%d pending=%d, want 1/1", rec.dispatched, rec.pending)
	}
}

func TestFakeEventScheduler_AdvanceToRunsAtEventTime(t *testing.T) {
	sched := NewFakeEventScheduler(start)

	var seen []time.Duration
	record := func() { seen = append(seen, sched.Now().Sub(start)) }
	sched.Schedule(start.Add(3*time.Second), record)
	sched.Schedule(start.Add(1*time.Second), func() {
		record()
		sched.Schedule(sched.Now().Add(time.Second), record)
	})

	sched.AdvanceTo(start.Add(5 * time.Second))

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("event times = %v, want %v", seen, want)
	}
	if got := sched.Now(); !got.Equal(start.Add(5 * time.Second)) {
		t.Fatalf("Now = %v", got)
	}

	// Time never goes backwards.
	sched.AdvanceTo(start)
	if got := sched.Now(); !got.Equal(start.Add(5 * time.Second)) {
		t.Fatalf("Now after backwards AdvanceTo = %v", got)
	}
}

func TestFakeEventScheduler_Cancel(t *testing.T) {
	sched := NewFakeEventScheduler(start)
	ran := false
	id := sched.Schedule(start.Add(time.Second), func() { ran = true })
	sched.Cancel(id)
	sched.Advance(time.Minute)
	if ran {
		t.Fatalf("cancelled event ran")
	}
	if sched.Len() != 0 {
		t.Fatalf("Len = %d, want 0", sched.Len())
	}
}
