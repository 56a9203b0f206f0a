package controlapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/mesh-simulator/internal/visualize"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "meshsim.control.v1.ControlService"

// ControlServer is the server API of the control service.
type ControlServer interface {
	AddNode(context.Context, *AddNodeRequest) (*Node, error)
	DeleteNodes(context.Context, *DeleteNodesRequest) (*emptypb.Empty, error)
	MoveNode(context.Context, *MoveNodeRequest) (*emptypb.Empty, error)
	ListNodes(context.Context, *emptypb.Empty) (*ListNodesResponse, error)
	ListPartitions(context.Context, *emptypb.Empty) (*ListPartitionsResponse, error)
	ListComponents(context.Context, *emptypb.Empty) (*ListComponentsResponse, error)
	Go(context.Context, *durationpb.Duration) (*durationpb.Duration, error)
	SetSpeed(context.Context, *wrapperspb.DoubleValue) (*wrapperspb.DoubleValue, error)
	SetPacketLossRatio(context.Context, *wrapperspb.DoubleValue) (*wrapperspb.DoubleValue, error)
	Ping(context.Context, *PingRequest) (*emptypb.Empty, error)
	CollectPings(context.Context, *emptypb.Empty) (*CollectPingsResponse, error)
	CollectJoins(context.Context, *emptypb.Empty) (*CollectJoinsResponse, error)
	NodeCommand(context.Context, *NodeCommandRequest) (*NodeCommandResponse, error)
	SetNodeFailed(context.Context, *SetNodeFailedRequest) (*emptypb.Empty, error)
	SetFailTime(context.Context, *SetFailTimeRequest) (*emptypb.Empty, error)
	CountDown(context.Context, *CountDownRequest) (*emptypb.Empty, error)
	ShowDemoLegend(context.Context, *DemoLegendRequest) (*emptypb.Empty, error)
	Web(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	GetVisualization(context.Context, *emptypb.Empty) (*visualize.Options, error)
	SetVisualization(context.Context, *visualize.Options) (*emptypb.Empty, error)
	GetStatus(context.Context, *emptypb.Empty) (*Status, error)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// unary builds the method descriptor of one unary RPC.
func unary[Req, Resp any](name string, call func(ControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("AddNode", ControlServer.AddNode),
		unary("DeleteNodes", ControlServer.DeleteNodes),
		unary("MoveNode", ControlServer.MoveNode),
		unary("ListNodes", ControlServer.ListNodes),
		unary("ListPartitions", ControlServer.ListPartitions),
		unary("ListComponents", ControlServer.ListComponents),
		unary("Go", ControlServer.Go),
		unary("SetSpeed", ControlServer.SetSpeed),
		unary("SetPacketLossRatio", ControlServer.SetPacketLossRatio),
		unary("Ping", ControlServer.Ping),
		unary("CollectPings", ControlServer.CollectPings),
		unary("CollectJoins", ControlServer.CollectJoins),
		unary("NodeCommand", ControlServer.NodeCommand),
		unary("SetNodeFailed", ControlServer.SetNodeFailed),
		unary("SetFailTime", ControlServer.SetFailTime),
		unary("CountDown", ControlServer.CountDown),
		unary("ShowDemoLegend", ControlServer.ShowDemoLegend),
		unary("Web", ControlServer.Web),
		unary("GetVisualization", ControlServer.GetVisualization),
		unary("SetVisualization", ControlServer.SetVisualization),
		unary("GetStatus", ControlServer.GetStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meshsim/control/v1/control.proto",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
