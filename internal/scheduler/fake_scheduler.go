package scheduler

import (
	"sync"
	"time"
)

// FakeEventScheduler is a test-only implementation of EventScheduler that maintains
// its own internal notion of simulation time and allows tests to advance time explicitly.
//
// It is intended for unit tests of the node runtime and other components
// that rely on EventScheduler but should not depend on the real time
// controller.
type FakeEventScheduler struct {
	mu    sync.Mutex
	now   time.Time
	queue eventQueue
}

// NewFakeEventScheduler creates a new fake event scheduler starting at the given time.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	return &FakeEventScheduler{
		now:   start,
		queue: newEventQueue("fake-ev"),
	}
}

// Now returns the current fake simulation time.
func (s *FakeEventScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule registers a callback to run at the specified simulation time.
func (s *FakeEventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.add(at, f)
}

// Cancel attempts to cancel a previously scheduled event.
func (s *FakeEventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.cancel(id)
}

// NextTime returns the time of the earliest pending event.
func (s *FakeEventScheduler) NextTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.next()
}

// Len returns the number of pending events.
func (s *FakeEventScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue.index)
}

// RunDue executes all events whose scheduled time is <= now.
func (s *FakeEventScheduler) RunDue() int {
	ran := 0
	for {
		s.mu.Lock()
		ev := s.queue.pop(s.now)
		s.mu.Unlock()
		if ev == nil {
			return ran
		}
		// Execute callback outside the lock.
		if ev.f != nil {
			ev.f()
		}
		ran++
	}
}

// AdvanceTo moves fake time forward event by event up to t, running every
// event on the way at its own timestamp. Time is kept monotonic.
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	for {
		s.mu.Lock()
		next, ok := s.queue.next()
		if !ok || next.After(t) {
			if t.After(s.now) {
				s.now = t
			}
			s.mu.Unlock()
			s.RunDue()
			return
		}
		if next.After(s.now) {
			s.now = next
		}
		s.mu.Unlock()
		s.RunDue()
	}
}

// Advance moves fake time forward by d.
func (s *FakeEventScheduler) Advance(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}

var _ EventScheduler = (*FakeEventScheduler)(nil)
