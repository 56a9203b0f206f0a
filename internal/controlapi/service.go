// Package controlapi exposes the simulation control operations as a gRPC
// service and provides a typed client for it.
package controlapi

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/mesh-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-simulator/internal/node"
	"github.com/signalsfoundry/mesh-simulator/internal/sim"
	"github.com/signalsfoundry/mesh-simulator/internal/visualize"
	"github.com/signalsfoundry/mesh-simulator/model"
)

// Simulation is the engine surface the service drives.
type Simulation interface {
	AddNode(ctx context.Context, cfg model.NodeConfig) (model.NodeInfo, error)
	DeleteNode(ctx context.Context, ids ...model.NodeID) error
	MoveNodeTo(ctx context.Context, id model.NodeID, x, y int) error
	Nodes(ctx context.Context) ([]model.NodeInfo, error)
	Partitions(ctx context.Context) (map[uint32][]model.NodeID, error)
	Components(ctx context.Context) ([][]model.NodeID, error)
	Go(ctx context.Context, d time.Duration) error
	Elapsed() time.Duration
	SetSpeed(ctx context.Context, speed float64) (float64, error)
	SetPacketLossRatio(ctx context.Context, plr float64) (float64, error)
	Ping(ctx context.Context, req sim.PingRequest) error
	CollectPings(ctx context.Context) (map[model.NodeID][]model.PingResult, error)
	CollectJoins(ctx context.Context) (map[model.NodeID]model.JoinResult, error)
	NodeCommand(ctx context.Context, id model.NodeID, cmd string) ([]string, error)
	SetNodeFailed(ctx context.Context, id model.NodeID, failed bool) error
	SetFailTime(ctx context.Context, id model.NodeID, ft model.FailTime) error
	CountDown(ctx context.Context, d time.Duration, text string) error
	ShowDemoLegend(ctx context.Context, x, y int, title string) error
	VisualizationOptions() visualize.Options
	SetVisualizationOptions(ctx context.Context, opts visualize.Options) error
	Status(ctx context.Context) (sim.Status, error)
}

// Service implements ControlServer on top of a Simulation.
type Service struct {
	sim    Simulation
	log    logging.Logger
	webURL func() (string, error)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithWebURL sets the function the Web RPC reports the status server
// address with.
func WithWebURL(fn func() (string, error)) ServiceOption {
	return func(s *Service) { s.webURL = fn }
}

// NewService constructs a Service bound to s.
func NewService(s Simulation, log logging.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = logging.Noop()
	}
	svc := &Service{sim: s, log: log}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

var _ ControlServer = (*Service)(nil)

// logger returns the per-request logger installed by the request id
// interceptor, or the service logger.
func (s *Service) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

func (s *Service) ensureReady() error {
	if s == nil || s.sim == nil {
		return status.Error(codes.FailedPrecondition, "simulation is not initialised")
	}
	return nil
}

// AddNode creates a node and returns its snapshot.
func (s *Service) AddNode(ctx context.Context, req *AddNodeRequest) (*Node, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	cfg := model.NodeConfig{ID: req.ID, Position: model.Position{X: req.X, Y: req.Y}, RadioRange: req.RadioRange}
	if req.Type != "" {
		typ, err := model.ParseNodeType(req.Type)
		if err != nil {
			return nil, ToStatusError(fmt.Errorf("%w: %v", sim.ErrInvalidNodeType, err))
		}
		cfg.Type = typ
	}
	if req.RadioRange < 0 || req.ID < 0 {
		return nil, status.Error(codes.InvalidArgument, "id and radio_range must not be negative")
	}
	info, err := s.sim.AddNode(ctx, cfg)
	if err != nil {
		return nil, ToStatusError(err)
	}
	s.logger(ctx).Debug(ctx, "node added", logging.Int("node_id", info.ID))
	return NodeFromInfo(info), nil
}

// DeleteNodes removes nodes, continuing past unknown ids.
func (s *Service) DeleteNodes(ctx context.Context, req *DeleteNodesRequest) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if len(req.IDs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "ids are required")
	}
	if err := s.sim.DeleteNode(ctx, req.IDs...); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// MoveNode moves a node to a new position.
func (s *Service) MoveNode(ctx context.Context, req *MoveNodeRequest) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if err := s.sim.MoveNodeTo(ctx, req.ID, req.X, req.Y); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// ListNodes returns all nodes in ascending id order.
func (s *Service) ListNodes(ctx context.Context, _ *emptypb.Empty) (*ListNodesResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	infos, err := s.sim.Nodes(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	resp := &ListNodesResponse{Nodes: make([]*Node, 0, len(infos))}
	for _, info := range infos {
		resp.Nodes = append(resp.Nodes, NodeFromInfo(info))
	}
	return resp, nil
}

// ListPartitions groups nodes by partition id, ascending.
func (s *Service) ListPartitions(ctx context.Context, _ *emptypb.Empty) (*ListPartitionsResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	parts, err := s.sim.Partitions(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	resp := &ListPartitionsResponse{Partitions: make([]Partition, 0, len(parts))}
	for pid, ids := range parts {
		resp.Partitions = append(resp.Partitions, Partition{ID: pid, Nodes: ids})
	}
	sort.Slice(resp.Partitions, func(i, j int) bool { return resp.Partitions[i].ID < resp.Partitions[j].ID })
	return resp, nil
}

// ListComponents returns the radio connectivity components.
func (s *Service) ListComponents(ctx context.Context, _ *emptypb.Empty) (*ListComponentsResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	comps, err := s.sim.Components(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return &ListComponentsResponse{Components: comps}, nil
}

// Go advances simulated time and returns the total elapsed simulated time.
func (s *Service) Go(ctx context.Context, d *durationpb.Duration) (*durationpb.Duration, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if err := d.CheckValid(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	dur := d.AsDuration()
	ctx, span := startChildSpan(ctx, "sim.Go", attribute.String("duration", dur.String()))
	defer span.End()
	if err := s.sim.Go(ctx, dur); err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	return durationpb.New(s.sim.Elapsed()), nil
}

// SetSpeed sets the speed factor and returns the clamped value applied.
func (s *Service) SetSpeed(ctx context.Context, v *wrapperspb.DoubleValue) (*wrapperspb.DoubleValue, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	applied, err := s.sim.SetSpeed(ctx, v.GetValue())
	if err != nil {
		return nil, ToStatusError(err)
	}
	return wrapperspb.Double(applied), nil
}

// SetPacketLossRatio sets the loss ratio and returns the clamped value applied.
func (s *Service) SetPacketLossRatio(ctx context.Context, v *wrapperspb.DoubleValue) (*wrapperspb.DoubleValue, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	applied, err := s.sim.SetPacketLossRatio(ctx, v.GetValue())
	if err != nil {
		return nil, ToStatusError(err)
	}
	return wrapperspb.Double(applied), nil
}

// Ping schedules an echo request train.
func (s *Service) Ping(ctx context.Context, req *PingRequest) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	preq := sim.PingRequest{
		Src:      req.Src,
		Dst:      req.Dst,
		DataSize: req.DataSize,
		Count:    req.Count,
		Interval: time.Duration(req.IntervalSeconds * float64(time.Second)),
		HopLimit: req.HopLimit,
	}
	if req.Addr != "" {
		addr, err := netip.ParseAddr(req.Addr)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid addr %q", req.Addr)
		}
		preq.DstAddr = addr
	}
	if req.AddrType != "" {
		t, err := node.ParseAddrType(req.AddrType)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		preq.AddrType = t
	}
	ctx, span := startChildSpan(ctx, "sim.Ping",
		attribute.Int("src", req.Src), attribute.Int("dst", req.Dst), attribute.String("addr", req.Addr))
	defer span.End()
	if err := s.sim.Ping(ctx, preq); err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// CollectPings drains the finished pings, ordered by source node.
func (s *Service) CollectPings(ctx context.Context, _ *emptypb.Empty) (*CollectPingsResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	pings, err := s.sim.CollectPings(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	resp := &CollectPingsResponse{}
	for _, id := range sortedKeys(pings) {
		for _, p := range pings[id] {
			resp.Pings = append(resp.Pings, Ping{
				Node:     id,
				Dst:      p.Dst,
				DataSize: p.DataSize,
				DelayMs:  float64(p.Delay) / float64(time.Millisecond),
				Hops:     p.Hops,
			})
		}
	}
	return resp, nil
}

// CollectJoins drains the join results, ordered by node.
func (s *Service) CollectJoins(ctx context.Context, _ *emptypb.Empty) (*CollectJoinsResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	joins, err := s.sim.CollectJoins(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	resp := &CollectJoinsResponse{}
	for _, id := range sortedKeys(joins) {
		j := joins[id]
		resp.Joins = append(resp.Joins, Join{
			Node:           id,
			JoinSeconds:    j.JoinDuration.Seconds(),
			SessionSeconds: j.SessionDuration.Seconds(),
		})
	}
	return resp, nil
}

// NodeCommand runs a node CLI command.
func (s *Service) NodeCommand(ctx context.Context, req *NodeCommandRequest) (*NodeCommandResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if req.Command == "" {
		return nil, status.Error(codes.InvalidArgument, "command is required")
	}
	lines, err := s.sim.NodeCommand(ctx, req.ID, req.Command)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return &NodeCommandResponse{Lines: lines}, nil
}

// SetNodeFailed turns a node radio off or on.
func (s *Service) SetNodeFailed(ctx context.Context, req *SetNodeFailedRequest) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if err := s.sim.SetNodeFailed(ctx, req.ID, req.Failed); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// SetFailTime configures periodic radio failures of a node.
func (s *Service) SetFailTime(ctx context.Context, req *SetFailTimeRequest) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ft := model.NonFailTime
	if req.IntervalSeconds > 0 && req.DurationSeconds > 0 {
		ft = model.FailTime{
			FailInterval: time.Duration(req.IntervalSeconds * float64(time.Second)),
			FailDuration: time.Duration(req.DurationSeconds * float64(time.Second)),
		}
	}
	if err := s.sim.SetFailTime(ctx, req.ID, ft); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// CountDown shows a countdown on the visualizers.
func (s *Service) CountDown(ctx context.Context, req *CountDownRequest) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if err := s.sim.CountDown(ctx, time.Duration(req.Seconds)*time.Second, req.Text); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// ShowDemoLegend shows a titled legend on the visualizers.
func (s *Service) ShowDemoLegend(ctx context.Context, req *DemoLegendRequest) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if err := s.sim.ShowDemoLegend(ctx, req.X, req.Y, req.Title); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// Web returns the address of the web status server.
func (s *Service) Web(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if s.webURL == nil {
		return nil, status.Error(codes.Unavailable, "web server is not enabled")
	}
	url, err := s.webURL()
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return wrapperspb.String(url), nil
}

// GetVisualization returns the current visualization options.
func (s *Service) GetVisualization(ctx context.Context, _ *emptypb.Empty) (*visualize.Options, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	opts := s.sim.VisualizationOptions()
	return &opts, nil
}

// SetVisualization replaces the visualization options.
func (s *Service) SetVisualization(ctx context.Context, opts *visualize.Options) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if err := s.sim.SetVisualizationOptions(ctx, *opts); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// GetStatus returns a snapshot of the simulation.
func (s *Service) GetStatus(ctx context.Context, _ *emptypb.Empty) (*Status, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	st, err := s.sim.Status(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return StatusFromSim(st), nil
}

func sortedKeys[V any](m map[model.NodeID]V) []model.NodeID {
	ids := make([]model.NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
