package controlapi

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/mesh-simulator/internal/logging"
)

// ServerMetrics supplies the RPC metrics interceptor.
type ServerMetrics interface {
	UnaryServerInterceptor() grpc.UnaryServerInterceptor
}

// NewServer builds a gRPC server with the control service registered and
// the request id, metrics and tracing interceptors chained in that order.
// metrics may be nil.
func NewServer(svc ControlServer, log logging.Logger, metrics ServerMetrics, opts ...grpc.ServerOption) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{RequestIDUnaryServerInterceptor(log)}
	if metrics != nil {
		interceptors = append(interceptors, metrics.UnaryServerInterceptor())
	}
	interceptors = append(interceptors, TracingUnaryServerInterceptor())

	all := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	}, opts...)
	server := grpc.NewServer(all...)
	RegisterControlServer(server, svc)
	return server
}
