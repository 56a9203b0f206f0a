package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes event scheduler metrics. It satisfies
// scheduler.MetricsRecorder.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	DispatchDuration prometheus.Histogram
	EventsDispatched prometheus.Counter
	EventsPending    prometheus.Gauge
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	dispatch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_event_dispatch_duration_seconds",
		Help:    "Wall clock duration of scheduled event callbacks.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})
	dispatch, err := registerHistogram(reg, dispatch, "scheduler_event_dispatch_duration_seconds")
	if err != nil {
		return nil, err
	}

	dispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_events_dispatched_total",
		Help: "Cumulative number of scheduled events run.",
	})
	dispatched, err = registerCounter(reg, dispatched, "scheduler_events_dispatched_total")
	if err != nil {
		return nil, err
	}

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_events_pending",
		Help: "Number of events waiting for their simulated time.",
	})
	pending, err = registerGauge(reg, pending, "scheduler_events_pending")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:         gatherer,
		DispatchDuration: dispatch,
		EventsDispatched: dispatched,
		EventsPending:    pending,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveEventDispatch records one event callback.
func (c *SchedulerCollector) ObserveEventDispatch(d time.Duration) {
	if c == nil {
		return
	}
	if c.DispatchDuration != nil {
		c.DispatchDuration.Observe(d.Seconds())
	}
	if c.EventsDispatched != nil {
		c.EventsDispatched.Inc()
	}
}

// SetEventsPending updates the queue depth gauge.
func (c *SchedulerCollector) SetEventsPending(n int) {
	if c == nil || c.EventsPending == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	c.EventsPending.Set(float64(n))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
