package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("NewControlCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/meshsim.control.v1.ControlService/AddNode"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("ControlService", "AddNode", "OK")); got != 1 {
		t.Fatalf("control_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "control_request_duration_seconds", map[string]string{
		"service": "ControlService",
		"method":  "AddNode",
	}); count != 1 {
		t.Fatalf("control_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("NewControlCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/meshsim.control.v1.ControlService/MoveNode"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("ControlService", "MoveNode", "NotFound")); got != 1 {
		t.Fatalf("control_requests_total error label = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesSimulationGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("NewControlCollector: %v", err)
	}
	collector.SetSimulationCounts(7, 2, 3)
	collector.ObserveGo(90*time.Second, 20*time.Millisecond)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"control_requests_total",
		"simulation_nodes 7",
		"simulation_partitions 2",
		"simulation_components 3",
		"simulation_simulated_seconds_total 90",
		"simulation_go_wall_duration_seconds_count 1",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestObserveCommand(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("NewControlCollector: %v", err)
	}

	collector.ObserveCommand("add", time.Millisecond, nil)
	collector.ObserveCommand("add", time.Millisecond, errors.New("bad type"))
	collector.ObserveCommand("frobnicate", time.Millisecond, errors.New("unknown command"))

	tests := []struct {
		command, result string
		want            float64
	}{
		{"add", "done", 1},
		{"add", "error", 1},
		{"unknown", "error", 1},
		{"frobnicate", "error", 0},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(collector.Commands.WithLabelValues(tt.command, tt.result)); got != tt.want {
			t.Errorf("cli_commands_total{%s,%s} = %v, want %v", tt.command, tt.result, got, tt.want)
		}
	}
	if count := histogramSampleCount(t, reg, "cli_command_duration_seconds", map[string]string{"command": "add"}); count != 2 {
		t.Fatalf("cli_command_duration_seconds{add} sample_count = %d, want 2", count)
	}
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("first NewControlCollector: %v", err)
	}
	second, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("second NewControlCollector: %v", err)
	}
	second.SetSimulationCounts(4, 1, 1)
	if got := testutil.ToFloat64(first.SimulationNodes); got != 4 {
		t.Fatalf("shared simulation_nodes = %v, want 4", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *ControlCollector
	c.SetSimulationCounts(1, 1, 1)
	c.ObserveGo(time.Second, time.Second)
	c.ObserveCommand("go", time.Second, nil)

	var s *SchedulerCollector
	s.ObserveEventDispatch(time.Millisecond)
	s.SetEventsPending(3)
}

func TestSchedulerCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSchedulerCollector(reg)
	if err != nil {
		t.Fatalf("NewSchedulerCollector: %v", err)
	}
	c.ObserveEventDispatch(50 * time.Microsecond)
	c.ObserveEventDispatch(2 * time.Millisecond)
	c.SetEventsPending(12)

	if got := testutil.ToFloat64(c.EventsDispatched); got != 2 {
		t.Fatalf("scheduler_events_dispatched_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.EventsPending); got != 12 {
		t.Fatalf("scheduler_events_pending = %v, want 12", got)
	}
	c.SetEventsPending(-1)
	if got := testutil.ToFloat64(c.EventsPending); got != 0 {
		t.Fatalf("scheduler_events_pending after negative = %v, want 0", got)
	}
	if count := histogramSampleCount(t, c.Gatherer(), "scheduler_event_dispatch_duration_seconds", nil); count != 2 {
		t.Fatalf("dispatch sample_count = %d, want 2", count)
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in, service, method string
	}{
		{"/meshsim.control.v1.ControlService/Go", "ControlService", "Go"},
		{"ControlService/Ping", "ControlService", "Ping"},
		{"", "unknown", "unknown"},
		{"/onlyone", "unknown", "unknown"},
	}
	for _, tt := range tests {
		s, m := SplitMethod(tt.in)
		if s != tt.service || m != tt.method {
			t.Errorf("SplitMethod(%q) = %q, %q; want %q, %q", tt.in, s, m, tt.service, tt.method)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
