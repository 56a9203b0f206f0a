// Package sim is the simulation engine: it owns the node registry, the
// connectivity graph, the event scheduler and the mesh runtime, and
// implements every control operation on top of them.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/signalsfoundry/mesh-simulator/core"
	"github.com/signalsfoundry/mesh-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-simulator/internal/node"
	"github.com/signalsfoundry/mesh-simulator/internal/pcap"
	"github.com/signalsfoundry/mesh-simulator/internal/scheduler"
	"github.com/signalsfoundry/mesh-simulator/internal/visualize"
	"github.com/signalsfoundry/mesh-simulator/kb"
	"github.com/signalsfoundry/mesh-simulator/model"
	"github.com/signalsfoundry/mesh-simulator/timectrl"
)

// MetricsRecorder receives simulation gauges after every mutation.
type MetricsRecorder interface {
	SetSimulationCounts(nodes, partitions, components int)
	ObserveGo(simulated, wall time.Duration)
}

// FrameCapture receives every simulated echo frame.
type FrameCapture interface {
	WriteEcho(ts time.Time, e pcap.Echo) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithVisualizer sets the sink for visualization events.
func WithVisualizer(v visualize.Visualizer) Option {
	return func(e *Engine) { e.vis = v }
}

// WithMetricsRecorder attaches a recorder for simulation gauges.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSchedulerMetrics attaches a recorder for event dispatch metrics.
func WithSchedulerMetrics(m scheduler.MetricsRecorder) Option {
	return func(e *Engine) { e.schedMetrics = m }
}

// WithFrameCapture writes ping frames to c.
func WithFrameCapture(c FrameCapture) Option {
	return func(e *Engine) { e.capture = c }
}

// WithTimeOptions passes options to the time controller, e.g. a fake
// wall clock in tests.
func WithTimeOptions(opts ...timectrl.Option) Option {
	return func(e *Engine) { e.timeOpts = append(e.timeOpts, opts...) }
}

// Engine is a running simulation. All methods are safe for concurrent
// use; state changes are serialized by a single lock which Go releases
// while it waits for real time to catch up.
type Engine struct {
	mu   sync.Mutex
	goMu sync.Mutex

	cfg          Config
	log          logging.Logger
	vis          visualize.Visualizer
	visOpts      visualize.Options
	metrics      MetricsRecorder
	schedMetrics scheduler.MetricsRecorder
	capture      FrameCapture
	timeOpts     []timectrl.Option

	kb    *kb.KnowledgeBase
	conn  *core.ConnectivityService
	clock *timectrl.TimeController
	sched scheduler.EventScheduler
	rt    *node.Runtime
	radio *rand.Rand
	unsub func()

	plr       float64
	counters  Counters
	pings     map[model.NodeID][]model.PingResult
	failTimes map[model.NodeID]*failTimer
	pingID    uint16
	stopped   bool

	// life is cancelled by Stop.
	life context.Context
	kill context.CancelFunc
}

// New builds an engine from cfg.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		log:       logging.Noop(),
		vis:       visualize.Nop{},
		visOpts:   cfg.Visualization,
		kb:        kb.NewKnowledgeBase(),
		conn:      core.NewConnectivityService(cfg.CellSize),
		radio:     rand.New(rand.NewPCG(cfg.Seed, 0x7261646f)),
		plr:       cfg.PacketLossRatio,
		pings:     make(map[model.NodeID][]model.PingResult),
		failTimes: make(map[model.NodeID]*failTimer),
	}
	e.life, e.kill = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(e)
	}

	e.clock = timectrl.NewTimeController(cfg.StartTime, timectrl.RealTime, e.timeOpts...)
	e.clock.SetSpeed(cfg.Speed)

	var schedOpts []scheduler.Option
	if e.schedMetrics != nil {
		schedOpts = append(schedOpts, scheduler.WithMetricsRecorder(e.schedMetrics))
	}
	e.sched = scheduler.NewEventScheduler(e.clock, schedOpts...)

	rt, err := node.NewRuntime(e.conn, e.sched, rand.New(rand.NewPCG(cfg.Seed, 0x6d657368)), cfg.Mesh,
		node.WithObserver(runtimeObserver{e}),
		node.WithLogger(e.log))
	if err != nil {
		e.kill()
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	e.rt = rt
	e.unsub = e.kb.Subscribe(e.onRegistryEvent)
	e.vis.SetSpeed(e.clock.Speed())
	return e, nil
}

// onRegistryEvent keeps the connectivity graph and the visualizer in
// step with the registry. It runs synchronously inside registry calls
// made with e.mu held.
func (e *Engine) onRegistryEvent(ev kb.Event) {
	n := ev.Node
	var err error
	switch ev.Type {
	case kb.EventNodeAdded:
		err = e.conn.AddNode(n.ID, n.Position, n.RadioRange, n.Failed)
		e.vis.AddNode(n.ID, n.Position.X, n.Position.Y, n.RadioRange, n.Type)
	case kb.EventNodeMoved:
		err = e.conn.MoveNode(n.ID, n.Position)
		e.vis.SetNodePos(n.ID, n.Position.X, n.Position.Y)
	case kb.EventNodeDeleted:
		err = e.conn.RemoveNode(n.ID)
		e.vis.DeleteNode(n.ID)
	case kb.EventNodeRangeChanged:
		err = e.conn.SetRadioRange(n.ID, n.RadioRange)
	case kb.EventNodeFailed:
		err = e.conn.SetFailed(n.ID, true)
		e.vis.OnNodeFail(n.ID)
	case kb.EventNodeRecovered:
		err = e.conn.SetFailed(n.ID, false)
		e.vis.OnNodeRecover(n.ID)
	}
	if err != nil {
		e.log.Error(context.Background(), "connectivity update failed",
			logging.Int("node_id", n.ID), logging.Err(err))
	}
}

// Stop ends the simulation and releases a Go call waiting on the wall
// clock; later operations return ErrStopped.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	e.kill()
	e.unsub()
	e.log.Info(context.Background(), "simulation stopped",
		logging.Duration("elapsed", e.clock.Elapsed()))
}

// Stopped reports whether Stop was called.
func (e *Engine) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// lock acquires the engine lock unless the engine is stopped or ctx is
// done.
func (e *Engine) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	return nil
}

func (e *Engine) reportMetricsLocked() {
	if e.metrics == nil {
		return
	}
	e.metrics.SetSimulationCounts(e.kb.Len(), e.partitionCountLocked(), e.conn.NumComponents())
}

func (e *Engine) partitionCountLocked() int {
	n := 0
	for pid := range e.rt.Partitions() {
		if pid != 0 {
			n++
		}
	}
	return n
}

// visSendLocked reports a frame if the visualization options allow it.
func (e *Engine) visSendLocked(src, dst model.NodeID, info *visualize.MsgInfo) {
	e.counters.FramesDispatched++
	if info.Lost {
		e.counters.FramesLost++
	}
	if e.visOpts.Allows(dst, info) {
		e.vis.Send(src, dst, info)
	}
}

// runtimeObserver forwards mesh state changes to the visualizer and
// the counters. It is only called from the runtime, under e.mu.
type runtimeObserver struct{ e *Engine }

func (o runtimeObserver) RoleChanged(id model.NodeID, _, role model.Role) {
	o.e.vis.SetNodeRole(id, role)
}

func (o runtimeObserver) PartitionChanged(id model.NodeID, pid uint32) {
	o.e.vis.SetNodePartitionID(id, pid)
}

func (o runtimeObserver) Rloc16Changed(id model.NodeID, rloc16 uint16) {
	o.e.vis.SetNodeRloc16(id, rloc16)
}

func (o runtimeObserver) ParentChanged(id, parent model.NodeID) {
	if o.e.visOpts.ChildTable {
		o.e.vis.SetParent(id, parent)
	}
}

func (o runtimeObserver) Advertised(id model.NodeID) {
	o.e.counters.Advertisements++
	o.e.visSendLocked(id, model.BroadcastNodeID, &visualize.MsgInfo{Kind: visualize.MsgAdvertisement})
}

func (o runtimeObserver) AttachAttempted(model.NodeID) {
	o.e.counters.AttachAttempts++
}

func (o runtimeObserver) PartitionCreated(id model.NodeID, pid uint32) {
	o.e.counters.PartitionsCreated++
	o.e.log.Debug(context.Background(), "partition created",
		logging.Int("node_id", id), logging.String("partition", fmt.Sprintf("%08x", pid)))
}

func (o runtimeObserver) PartitionMerged(id model.NodeID, from, to uint32) {
	o.e.counters.PartitionMerges++
	o.e.log.Debug(context.Background(), "partition merged",
		logging.Int("node_id", id),
		logging.String("from", fmt.Sprintf("%08x", from)),
		logging.String("to", fmt.Sprintf("%08x", to)))
}

func (o runtimeObserver) Joined(id model.NodeID, after time.Duration) {
	o.e.log.Debug(context.Background(), "node joined",
		logging.Int("node_id", id), logging.Duration("after", after))
}
