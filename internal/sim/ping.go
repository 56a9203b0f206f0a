package sim

import (
	"context"
	"fmt"
	"math"
	"net/netip"
	"time"

	"github.com/signalsfoundry/mesh-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-simulator/internal/node"
	"github.com/signalsfoundry/mesh-simulator/internal/pcap"
	"github.com/signalsfoundry/mesh-simulator/internal/visualize"
	"github.com/signalsfoundry/mesh-simulator/model"
)

const (
	defaultPingDataSize = 4
	defaultPingCount    = 1
	defaultPingInterval = time.Second
	defaultHopLimit     = 64

	// processingDelay is added per hop on top of the air time.
	processingDelay = time.Millisecond
	// byteAirTime is the transmit time of one byte at 250 kbit/s.
	byteAirTime = 32 * time.Microsecond
	// phyOverhead covers preamble, SFD, PHR, MAC header and FCS.
	phyOverhead = 6 + 11 + 2
)

// PingRequest describes an echo request train. Either Dst or DstAddr
// selects the destination.
type PingRequest struct {
	Src      model.NodeID
	Dst      model.NodeID
	DstAddr  netip.Addr
	AddrType node.AddrType
	DataSize int
	Count    int
	Interval time.Duration
	HopLimit int
}

func (r *PingRequest) applyDefaults() error {
	if r.DataSize == 0 {
		r.DataSize = defaultPingDataSize
	}
	if r.Count == 0 {
		r.Count = defaultPingCount
	}
	if r.Interval == 0 {
		r.Interval = defaultPingInterval
	}
	if r.HopLimit == 0 {
		r.HopLimit = defaultHopLimit
	}
	switch {
	case r.DataSize < 0 || r.DataSize > 1232:
		return fmt.Errorf("%w: datasize %d", ErrInvalidArgument, r.DataSize)
	case r.Count < 0:
		return fmt.Errorf("%w: count %d", ErrInvalidArgument, r.Count)
	case r.Interval < 0:
		return fmt.Errorf("%w: interval %s", ErrInvalidArgument, r.Interval)
	case r.HopLimit < 0 || r.HopLimit > 255:
		return fmt.Errorf("%w: hop limit %d", ErrInvalidArgument, r.HopLimit)
	}
	return nil
}

// Ping schedules req.Count echo requests from req.Src, the first one
// now. The destination address is resolved immediately; results are
// collected with CollectPings once the replies arrive.
func (e *Engine) Ping(ctx context.Context, req PingRequest) error {
	if err := req.applyDefaults(); err != nil {
		return err
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	src := e.rt.Node(req.Src)
	if src == nil {
		return fmt.Errorf("%w: src %d", ErrNodeNotFound, req.Src)
	}
	dstAddr := req.DstAddr
	if req.Dst != model.InvalidNodeID {
		dst := e.rt.Node(req.Dst)
		if dst == nil {
			return fmt.Errorf("%w: dst %d", ErrNodeNotFound, req.Dst)
		}
		a, ok := dst.Addr(req.AddrType)
		if !ok {
			return fmt.Errorf("%w: node %d has no %s address", ErrAddrNotFound, req.Dst, req.AddrType)
		}
		dstAddr = a
	}
	if !dstAddr.IsValid() || !dstAddr.Is6() {
		return fmt.Errorf("%w: no IPv6 destination", ErrAddrNotFound)
	}

	e.pingID++
	ident := e.pingID
	now := e.clock.Now()
	for i := 0; i < req.Count; i++ {
		seq := uint16(i + 1)
		e.sched.Schedule(now.Add(time.Duration(i)*req.Interval), func() {
			e.sendPingLocked(req.Src, dstAddr, req.DataSize, req.HopLimit, ident, seq)
		})
	}
	e.log.Debug(ctx, "ping scheduled",
		logging.Int("src", req.Src),
		logging.String("dst", dstAddr.String()),
		logging.Int("count", req.Count))
	return nil
}

// sendPingLocked delivers one echo request and its reply through the
// mesh as it is right now.
func (e *Engine) sendPingLocked(srcID model.NodeID, dstAddr netip.Addr, dataSize, hopLimit int, ident, seq uint16) {
	e.counters.PingRequests++
	now := e.clock.Now()

	src := e.rt.Node(srcID)
	if src == nil || src.Failed() || src.Role() == model.RoleDisabled {
		e.counters.PingsLost++
		return
	}
	srcAddr, _ := src.Addr(node.AddrAny)
	if node.AddrTypeOf(dstAddr) == node.AddrLinkLocal {
		srcAddr, _ = src.Addr(node.AddrLinkLocal)
	}
	e.captureLocked(now, pcap.Echo{Src: srcAddr, Dst: dstAddr, Identifier: ident, Seq: seq, HopLimit: hopLimit, DataSize: dataSize})

	dstID, addrType, ok := e.rt.ResolveAddr(dstAddr)
	if !ok {
		e.counters.PingsLost++
		return
	}
	dst := e.rt.Node(dstID)
	path := e.routeLocked(src, dst, addrType)
	if path == nil || len(path)-1 > hopLimit {
		e.counters.PingsLost++
		return
	}

	frameLen := pcap.FrameLen(dataSize)
	reqDelay, ok := e.transmitLocked(path, frameLen, visualize.MsgPingRequest, seq)
	if !ok {
		e.counters.PingsLost++
		return
	}
	if dst.Type.RxOffWhenIdle() {
		reqDelay += e.pollWaitLocked()
	}

	reverse := make([]model.NodeID, len(path))
	for i, id := range path {
		reverse[len(path)-1-i] = id
	}
	replyDelay, ok := e.transmitLocked(reverse, frameLen, visualize.MsgPingReply, seq)
	if !ok {
		e.counters.PingsLost++
		return
	}
	if src.Type.RxOffWhenIdle() {
		replyDelay += e.pollWaitLocked()
	}
	e.captureLocked(now.Add(reqDelay), pcap.Echo{Src: dstAddr, Dst: srcAddr, Reply: true, Identifier: ident, Seq: seq, HopLimit: hopLimit, DataSize: dataSize})

	rtt := reqDelay + replyDelay
	result := model.PingResult{Dst: dstAddr.String(), DataSize: dataSize, Delay: rtt, Hops: len(path) - 1}
	e.sched.Schedule(now.Add(rtt), func() {
		if e.rt.Node(srcID) != src {
			return
		}
		e.counters.PingReplies++
		e.pings[srcID] = append(e.pings[srcID], result)
	})
}

// routeLocked returns the hop-by-hop path from src to dst or nil when
// dst is unreachable. Link-local destinations must be direct neighbors;
// everything else is forwarded by routers of the source partition.
func (e *Engine) routeLocked(src, dst *node.Node, addrType node.AddrType) []model.NodeID {
	if dst.Failed() || dst.Role() == model.RoleDisabled {
		return nil
	}
	if src.ID == dst.ID {
		return []model.NodeID{src.ID}
	}
	if addrType == node.AddrLinkLocal {
		if !e.conn.Connected(src.ID, dst.ID) {
			return nil
		}
		return []model.NodeID{src.ID, dst.ID}
	}
	if !src.Role().IsAttached() || !dst.Role().IsAttached() || src.PartitionID() != dst.PartitionID() {
		return nil
	}
	pid := src.PartitionID()
	return e.conn.ShortestPath(src.ID, dst.ID, func(id model.NodeID) bool {
		n := e.rt.Node(id)
		return n != nil && !n.Failed() && n.Role().IsRouter() && n.PartitionID() == pid
	})
}

// transmitLocked sends one frame along path, drawing per-hop loss. It
// returns the one-way delay and whether the frame arrived.
func (e *Engine) transmitLocked(path []model.NodeID, frameLen int, kind visualize.MsgKind, seq uint16) (time.Duration, bool) {
	success := math.Pow(1-e.plr, float64(frameLen)/128)
	var d time.Duration
	for i := 0; i+1 < len(path); i++ {
		lost := e.plr > 0 && e.radio.Float64() >= success
		e.visSendLocked(path[i], path[i+1], &visualize.MsgInfo{Kind: kind, Seq: seq, Length: frameLen, Lost: lost})
		if lost {
			return 0, false
		}
		d += airTime(frameLen) + processingDelay
	}
	return d, true
}

// pollWaitLocked is the time a frame for a sleepy node waits for the
// node's next data poll.
func (e *Engine) pollWaitLocked() time.Duration {
	p := e.rt.Params().PollPeriod
	if p <= 0 {
		return 0
	}
	return time.Duration(e.radio.Int64N(int64(p)))
}

func (e *Engine) captureLocked(ts time.Time, echo pcap.Echo) {
	if e.capture == nil || !echo.Src.IsValid() {
		return
	}
	if err := e.capture.WriteEcho(ts, echo); err != nil {
		e.log.Warn(context.Background(), "pcap write failed", logging.Err(err))
	}
}

func airTime(frameLen int) time.Duration {
	return time.Duration(frameLen+phyOverhead) * byteAirTime
}

// CollectPings returns and forgets the ping results gathered so far,
// keyed by source node.
func (e *Engine) CollectPings(ctx context.Context) (map[model.NodeID][]model.PingResult, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	res := e.pings
	e.pings = make(map[model.NodeID][]model.PingResult)
	return res, nil
}

// CollectJoins returns and forgets the join results of nodes that
// attached since the last call.
func (e *Engine) CollectJoins(ctx context.Context) (map[model.NodeID]model.JoinResult, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.rt.CollectJoins(), nil
}
