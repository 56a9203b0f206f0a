package controlapi

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/mesh-simulator/internal/visualize"
)

// Client is a typed client of the control service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// DialOptions returns the options a connection to the control service
// needs: the JSON codec, request id propagation and tracing.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithChainUnaryInterceptor(RequestIDUnaryClientInterceptor()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// Dial connects to a control server at target over plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	all := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, DialOptions()...)
	conn, err := grpc.NewClient(target, append(all, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return NewClient(conn), conn, nil
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, fullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddNode(ctx context.Context, req *AddNodeRequest, opts ...grpc.CallOption) (*Node, error) {
	return invoke[Node](ctx, c, "AddNode", req, opts)
}

func (c *Client) DeleteNodes(ctx context.Context, ids []int, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c, "DeleteNodes", &DeleteNodesRequest{IDs: ids}, opts)
	return err
}

func (c *Client) MoveNode(ctx context.Context, id, x, y int, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c, "MoveNode", &MoveNodeRequest{ID: id, X: x, Y: y}, opts)
	return err
}

func (c *Client) ListNodes(ctx context.Context, opts ...grpc.CallOption) ([]*Node, error) {
	resp, err := invoke[ListNodesResponse](ctx, c, "ListNodes", &emptypb.Empty{}, opts)
	if err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *Client) ListPartitions(ctx context.Context, opts ...grpc.CallOption) ([]Partition, error) {
	resp, err := invoke[ListPartitionsResponse](ctx, c, "ListPartitions", &emptypb.Empty{}, opts)
	if err != nil {
		return nil, err
	}
	return resp.Partitions, nil
}

func (c *Client) ListComponents(ctx context.Context, opts ...grpc.CallOption) ([][]int, error) {
	resp, err := invoke[ListComponentsResponse](ctx, c, "ListComponents", &emptypb.Empty{}, opts)
	if err != nil {
		return nil, err
	}
	return resp.Components, nil
}

// Go advances simulated time by d and returns the total elapsed
// simulated time.
func (c *Client) Go(ctx context.Context, d time.Duration, opts ...grpc.CallOption) (time.Duration, error) {
	resp, err := invoke[durationpb.Duration](ctx, c, "Go", durationpb.New(d), opts)
	if err != nil {
		return 0, err
	}
	return resp.AsDuration(), nil
}

func (c *Client) SetSpeed(ctx context.Context, speed float64, opts ...grpc.CallOption) (float64, error) {
	resp, err := invoke[wrapperspb.DoubleValue](ctx, c, "SetSpeed", wrapperspb.Double(speed), opts)
	if err != nil {
		return 0, err
	}
	return resp.GetValue(), nil
}

func (c *Client) SetPacketLossRatio(ctx context.Context, plr float64, opts ...grpc.CallOption) (float64, error) {
	resp, err := invoke[wrapperspb.DoubleValue](ctx, c, "SetPacketLossRatio", wrapperspb.Double(plr), opts)
	if err != nil {
		return 0, err
	}
	return resp.GetValue(), nil
}

func (c *Client) Ping(ctx context.Context, req *PingRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c, "Ping", req, opts)
	return err
}

func (c *Client) CollectPings(ctx context.Context, opts ...grpc.CallOption) ([]Ping, error) {
	resp, err := invoke[CollectPingsResponse](ctx, c, "CollectPings", &emptypb.Empty{}, opts)
	if err != nil {
		return nil, err
	}
	return resp.Pings, nil
}

func (c *Client) CollectJoins(ctx context.Context, opts ...grpc.CallOption) ([]Join, error) {
	resp, err := invoke[CollectJoinsResponse](ctx, c, "CollectJoins", &emptypb.Empty{}, opts)
	if err != nil {
		return nil, err
	}
	return resp.Joins, nil
}

func (c *Client) NodeCommand(ctx context.Context, id int, command string, opts ...grpc.CallOption) ([]string, error) {
	resp, err := invoke[NodeCommandResponse](ctx, c, "NodeCommand", &NodeCommandRequest{ID: id, Command: command}, opts)
	if err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

func (c *Client) SetNodeFailed(ctx context.Context, id int, failed bool, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c, "SetNodeFailed", &SetNodeFailedRequest{ID: id, Failed: failed}, opts)
	return err
}

func (c *Client) SetFailTime(ctx context.Context, req *SetFailTimeRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c, "SetFailTime", req, opts)
	return err
}

func (c *Client) CountDown(ctx context.Context, seconds int, text string, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c, "CountDown", &CountDownRequest{Seconds: seconds, Text: text}, opts)
	return err
}

func (c *Client) ShowDemoLegend(ctx context.Context, title string, x, y int, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c, "ShowDemoLegend", &DemoLegendRequest{Title: title, X: x, Y: y}, opts)
	return err
}

func (c *Client) Web(ctx context.Context, opts ...grpc.CallOption) (string, error) {
	resp, err := invoke[wrapperspb.StringValue](ctx, c, "Web", &emptypb.Empty{}, opts)
	if err != nil {
		return "", err
	}
	return resp.GetValue(), nil
}

func (c *Client) GetVisualization(ctx context.Context, opts ...grpc.CallOption) (visualize.Options, error) {
	resp, err := invoke[visualize.Options](ctx, c, "GetVisualization", &emptypb.Empty{}, opts)
	if err != nil {
		return visualize.Options{}, err
	}
	return *resp, nil
}

func (c *Client) SetVisualization(ctx context.Context, o visualize.Options, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c, "SetVisualization", &o, opts)
	return err
}

func (c *Client) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*Status, error) {
	return invoke[Status](ctx, c, "GetStatus", &emptypb.Empty{}, opts)
}
