package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ControlCollector bundles Prometheus metrics for the control surfaces
// (gRPC and text commands) and the simulation gauges, and provides
// helpers to wire them into gRPC servers and HTTP handlers.
type ControlCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	Commands         *prometheus.CounterVec
	CommandDurations *prometheus.HistogramVec

	SimulationNodes      prometheus.Gauge
	SimulationPartitions prometheus.Gauge
	SimulationComponents prometheus.Gauge

	SimulatedSeconds prometheus.Counter
	GoWallDurations  prometheus.Histogram
}

// NewControlCollector registers control and simulation metrics against
// the provided registerer, defaulting to the global Prometheus registry
// when nil.
func NewControlCollector(reg prometheus.Registerer) (*ControlCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "control_requests_total",
		Help: "Total number of handled control RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "control_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "control_request_duration_seconds",
		Help:    "Control RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "control_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cli_commands_total",
		Help: "Total number of text protocol commands, labeled by command and result.",
	}, []string{"command", "result"}), "cli_commands_total")
	if err != nil {
		return nil, err
	}
	commandDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cli_command_duration_seconds",
		Help:    "Text protocol command latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"command"}), "cli_command_duration_seconds")
	if err != nil {
		return nil, err
	}

	nodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulation_nodes",
		Help: "Current number of simulated nodes.",
	}), "simulation_nodes")
	if err != nil {
		return nil, err
	}
	partitions, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulation_partitions",
		Help: "Current number of distinct mesh partition ids, detached nodes included as one.",
	}), "simulation_partitions")
	if err != nil {
		return nil, err
	}
	components, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulation_components",
		Help: "Current number of radio connectivity components.",
	}), "simulation_components")
	if err != nil {
		return nil, err
	}

	simulated, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulation_simulated_seconds_total",
		Help: "Simulated time advanced by go operations.",
	}), "simulation_simulated_seconds_total")
	if err != nil {
		return nil, err
	}
	goWall, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simulation_go_wall_duration_seconds",
		Help:    "Wall clock duration of go operations.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}), "simulation_go_wall_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &ControlCollector{
		gatherer:             gatherer,
		RPCRequests:          requests,
		RPCDurations:         durations,
		Commands:             commands,
		CommandDurations:     commandDurations,
		SimulationNodes:      nodes,
		SimulationPartitions: partitions,
		SimulationComponents: components,
		SimulatedSeconds:     simulated,
		GoWallDurations:      goWall,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *ControlCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ControlCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetSimulationCounts lets the engine drive the gauges directly after
// every mutation.
func (c *ControlCollector) SetSimulationCounts(nodes, partitions, components int) {
	if c == nil {
		return
	}
	if c.SimulationNodes != nil {
		c.SimulationNodes.Set(float64(nodes))
	}
	if c.SimulationPartitions != nil {
		c.SimulationPartitions.Set(float64(partitions))
	}
	if c.SimulationComponents != nil {
		c.SimulationComponents.Set(float64(components))
	}
}

// ObserveGo records one completed go operation.
func (c *ControlCollector) ObserveGo(simulated, wall time.Duration) {
	if c == nil {
		return
	}
	if c.SimulatedSeconds != nil && simulated > 0 {
		c.SimulatedSeconds.Add(simulated.Seconds())
	}
	if c.GoWallDurations != nil {
		c.GoWallDurations.Observe(wall.Seconds())
	}
}

// ObserveCommand records one text protocol command. Unknown command
// names are folded into "unknown" to bound label cardinality.
func (c *ControlCollector) ObserveCommand(name string, d time.Duration, err error) {
	if c == nil {
		return
	}
	if !knownCommands[name] {
		name = "unknown"
	}
	result := "done"
	if err != nil {
		result = "error"
	}
	if c.Commands != nil {
		c.Commands.WithLabelValues(name, result).Inc()
	}
	if c.CommandDurations != nil {
		c.CommandDurations.WithLabelValues(name).Observe(d.Seconds())
	}
}

var knownCommands = map[string]bool{
	"add": true, "del": true, "move": true, "go": true, "speed": true,
	"plr": true, "ping": true, "partitions": true, "pts": true,
	"components": true, "nodes": true, "node": true, "radio": true,
	"pings": true, "joins": true, "counters": true, "countdown": true,
	"demo_legend": true, "web": true, "visualization": true, "debug": true,
	"exit": true, "help": true,
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
