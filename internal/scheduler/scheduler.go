// Package scheduler orders and dispatches timed simulation events.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/mesh-simulator/timectrl"
)

// EventScheduler schedules callbacks to run at specific simulation times
// based on a SimClock implementation. The simulation loop advances the
// clock and calls RunDue; node timers, pings and fail-time use Schedule
// and Cancel.
type EventScheduler interface {
	// Schedule registers a callback f to run at simulation time 'at'.
	// It returns an opaque event ID that can be used to cancel the event.
	Schedule(at time.Time, f func()) (id string)

	// Cancel attempts to cancel a previously scheduled event.
	// It is a no-op if the ID is unknown or the event already ran.
	Cancel(id string)

	// Now returns the current simulation time, usually delegated to the underlying SimClock.
	Now() time.Time

	// RunDue executes all events whose scheduled time is <= Now(),
	// including events scheduled by callbacks that are already due. It
	// returns the number of callbacks run.
	RunDue() int

	// NextTime returns the time of the earliest pending event.
	NextTime() (time.Time, bool)

	// Len returns the number of pending events.
	Len() int
}

// MetricsRecorder receives dispatch measurements.
type MetricsRecorder interface {
	ObserveEventDispatch(d time.Duration)
	SetEventsPending(n int)
}

// Option configures an event scheduler.
type Option func(*eventScheduler)

// WithMetricsRecorder attaches a recorder for dispatch metrics.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(s *eventScheduler) { s.metrics = r }
}

// scheduledEvent represents a single scheduled callback.
type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// eventQueue keeps events ordered by time, FIFO among equal times.
type eventQueue struct {
	counter uint64
	prefix  string
	events  []*scheduledEvent // ordered by 'when' (earliest first)
	index   map[string]*scheduledEvent
}

func newEventQueue(prefix string) eventQueue {
	return eventQueue{prefix: prefix, index: make(map[string]*scheduledEvent)}
}

func (q *eventQueue) add(at time.Time, f func()) string {
	q.counter++
	ev := &scheduledEvent{
		id:   fmt.Sprintf("%s-%d", q.prefix, q.counter),
		when: at,
		f:    f,
	}
	// Insert after every event at the same time.
	idx := sort.Search(len(q.events), func(i int) bool {
		return q.events[i].when.After(at)
	})
	q.events = append(q.events, nil)
	copy(q.events[idx+1:], q.events[idx:])
	q.events[idx] = ev
	q.index[ev.id] = ev
	return ev.id
}

func (q *eventQueue) cancel(id string) {
	ev, ok := q.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(q.index, id)
	// Actual removal from q.events is lazy; pop skips cancelled events.
}

// pop removes and returns the earliest live event due at or before now.
func (q *eventQueue) pop(now time.Time) *scheduledEvent {
	for len(q.events) > 0 {
		ev := q.events[0]
		if ev.cancelled {
			q.events[0] = nil
			q.events = q.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		q.events[0] = nil
		q.events = q.events[1:]
		delete(q.index, ev.id)
		return ev
	}
	return nil
}

func (q *eventQueue) next() (time.Time, bool) {
	for len(q.events) > 0 && q.events[0].cancelled {
		q.events[0] = nil
		q.events = q.events[1:]
	}
	if len(q.events) == 0 {
		return time.Time{}, false
	}
	return q.events[0].when, true
}

// eventScheduler is a concrete implementation of EventScheduler that uses SimClock
// to determine current simulation time.
type eventScheduler struct {
	clock   timectrl.SimClock
	metrics MetricsRecorder

	mu    sync.Mutex
	queue eventQueue
}

// NewEventScheduler creates a new event scheduler backed by the given SimClock.
func NewEventScheduler(clock timectrl.SimClock, opts ...Option) EventScheduler {
	s := &eventScheduler{
		clock: clock,
		queue: newEventQueue("ev"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule registers a callback to run at the specified simulation time.
func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = s.queue.add(at, f)
	s.reportPendingLocked()
	return id
}

// Cancel attempts to cancel a previously scheduled event.
func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.cancel(id)
	s.reportPendingLocked()
}

// Now returns the current simulation time from the underlying clock.
func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

// NextTime returns the time of the earliest pending event.
func (s *eventScheduler) NextTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.next()
}

// Len returns the number of pending events.
func (s *eventScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue.index)
}

// RunDue executes all events whose scheduled time is <= Now().
// It is safe to call multiple times; already-run events will not run again.
func (s *eventScheduler) RunDue() int {
	ran := 0
	for {
		s.mu.Lock()
		ev := s.queue.pop(s.clock.Now())
		if ev == nil {
			s.reportPendingLocked()
			s.mu.Unlock()
			return ran
		}
		s.mu.Unlock()

		// Execute callback OUTSIDE the lock to allow re-entrancy.
		start := time.Now()
		if ev.f != nil {
			ev.f()
		}
		ran++
		if s.metrics != nil {
			s.metrics.ObserveEventDispatch(time.Since(start))
		}
	}
}

func (s *eventScheduler) reportPendingLocked() {
	if s.metrics != nil {
		s.metrics.SetEventsPending(len(s.queue.index))
	}
}
