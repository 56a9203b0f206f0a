// Package node runs the simplified mesh protocol of every simulated
// device: attaching as router or child, forming and merging partitions,
// and recovering from lost parents and leaders.
package node

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"sort"
	"time"

	"github.com/signalsfoundry/mesh-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-simulator/internal/scheduler"
	"github.com/signalsfoundry/mesh-simulator/model"
)

var (
	// ErrNodeExists is returned when adding an id that is already running.
	ErrNodeExists = errors.New("node already exists")
	// ErrNodeNotFound is returned for unknown node ids.
	ErrNodeNotFound = errors.New("node not found")
)

// Topology answers radio connectivity questions for the runtime.
type Topology interface {
	Neighbors(id model.NodeID) []model.NodeID
	Connected(a, b model.NodeID) bool
	SameComponent(a, b model.NodeID) bool
	NearestNeighbor(id model.NodeID, accept func(model.NodeID) bool) (model.NodeID, bool)
}

type partition struct {
	id      uint32
	leader  model.NodeID
	routers map[int]model.NodeID
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithObserver registers the observer notified of state changes.
func WithObserver(o Observer) Option {
	return func(r *Runtime) { r.obs = o }
}

// WithLogger sets the logger used for protocol transitions.
func WithLogger(l logging.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// Runtime owns the protocol state of all nodes. It is driven by events
// on the scheduler and is not safe for concurrent use; the simulation
// engine serializes access.
type Runtime struct {
	topo   Topology
	sched  scheduler.EventScheduler
	rng    *rand.Rand
	params Params
	obs    Observer
	log    logging.Logger

	nodes      map[model.NodeID]*Node
	partitions map[uint32]*partition
	extAddrs   map[uint64]model.NodeID
}

// NewRuntime creates a runtime. rng drives every random choice so a
// fixed seed reproduces a run.
func NewRuntime(topo Topology, sched scheduler.EventScheduler, rng *rand.Rand, params Params, opts ...Option) (*Runtime, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("mesh params: %w", err)
	}
	r := &Runtime{
		topo:       topo,
		sched:      sched,
		rng:        rng,
		params:     params,
		obs:        NopObserver{},
		log:        logging.Noop(),
		nodes:      make(map[model.NodeID]*Node),
		partitions: make(map[uint32]*partition),
		extAddrs:   make(map[uint64]model.NodeID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Params returns the protocol parameters.
func (r *Runtime) Params() Params { return r.params }

// AddNode starts a detached node; its first attach attempt happens
// after AttachDelay plus jitter.
func (r *Runtime) AddNode(id model.NodeID, typ model.NodeType) (*Node, error) {
	if _, ok := r.nodes[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeExists, id)
	}
	n := &Node{
		ID:       id,
		Type:     typ,
		ExtAddr:  r.newExtAddr(),
		mleidIID: r.rng.Uint64(),
		role:     model.RoleDisabled,
		rloc16:   model.InvalidRloc16,
		routerID: -1,
		children: make(map[int]model.NodeID),
	}
	r.nodes[id] = n
	r.extAddrs[n.ExtAddr] = id
	r.start(n)
	return n, nil
}

// RemoveNode stops a node and releases its router id or child slot.
// Its children notice on their next supervision check.
func (r *Runtime) RemoveNode(id model.NodeID) error {
	n, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	r.cancelTimer(n)
	r.releaseRole(n)
	delete(r.extAddrs, n.ExtAddr)
	delete(r.nodes, id)
	return nil
}

// Node returns the node with the given id, or nil.
func (r *Runtime) Node(id model.NodeID) *Node { return r.nodes[id] }

// Nodes returns all nodes ordered by id.
func (r *Runtime) Nodes() []*Node {
	res := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// SetFailed marks a node's radio down or up. A failed node keeps its
// state and timers but cannot attach or advertise.
func (r *Runtime) SetFailed(id model.NodeID, failed bool) error {
	n, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	n.failed = failed
	return nil
}

// Partitions groups every node by partition id; unattached nodes are
// listed under 0.
func (r *Runtime) Partitions() map[uint32][]model.NodeID {
	res := make(map[uint32][]model.NodeID)
	for _, n := range r.Nodes() {
		res[n.partitionID] = append(res[n.partitionID], n.ID)
	}
	return res
}

// Leader returns the leader of a partition.
func (r *Runtime) Leader(partitionID uint32) (model.NodeID, bool) {
	p, ok := r.partitions[partitionID]
	if !ok || p.leader == model.InvalidNodeID {
		return model.InvalidNodeID, false
	}
	return p.leader, true
}

// CollectJoins returns the join results of nodes that attached since
// the last call.
func (r *Runtime) CollectJoins() map[model.NodeID]model.JoinResult {
	now := r.sched.Now()
	res := make(map[model.NodeID]model.JoinResult)
	for id, n := range r.nodes {
		if !n.joined || n.joinReported {
			continue
		}
		n.joinReported = true
		res[id] = model.JoinResult{
			JoinDuration:    n.joinedAt.Sub(n.startedAt),
			SessionDuration: n.sessionDuration(now),
		}
	}
	return res
}

// ResolveAddr finds the node owning addr.
func (r *Runtime) ResolveAddr(addr netip.Addr) (model.NodeID, AddrType, bool) {
	for _, n := range r.Nodes() {
		for _, t := range []AddrType{AddrMLEID, AddrRLOC, AddrLinkLocal} {
			if a, ok := n.Addr(t); ok && a == addr {
				return n.ID, t, true
			}
		}
	}
	return model.InvalidNodeID, AddrAny, false
}

// start brings a disabled node up as detached and schedules its first
// attach attempt.
func (r *Runtime) start(n *Node) {
	now := r.sched.Now()
	n.startedAt = now
	r.setRole(n, model.RoleDetached)
	delay := r.params.AttachDelay
	if r.params.AttachJitter > 0 {
		delay += time.Duration(r.rng.Int64N(int64(r.params.AttachJitter)))
	}
	r.setTimer(n, now.Add(delay), func() { r.tryAttach(n) })
}

// stop disables a node.
func (r *Runtime) stop(n *Node) {
	r.cancelTimer(n)
	r.releaseRole(n)
	r.detachChildren(n)
	r.clearAttachment(n)
	r.setRole(n, model.RoleDisabled)
}

func (r *Runtime) tryAttach(n *Node) {
	if n.role.IsAttached() || n.role == model.RoleDisabled {
		return
	}
	if n.failed {
		r.retryAttach(n)
		return
	}
	r.obs.AttachAttempted(n.ID)

	pids := r.heardPartitions(n, 0)
	if len(pids) == 0 {
		if n.Type.RouterEligible() {
			r.formPartition(n)
			return
		}
		r.retryAttach(n)
		return
	}
	for _, pid := range pids {
		p := r.partitions[pid]
		if a, ok := r.planAttach(n, p); ok {
			r.attach(n, p, a)
			return
		}
	}
	r.retryAttach(n)
}

func (r *Runtime) retryAttach(n *Node) {
	r.setTimer(n, r.sched.Now().Add(r.params.AttachRetry), func() { r.tryAttach(n) })
}

// attachment is a planned way for a node to enter a partition. With
// parent unset the node itself takes routerID. Otherwise it becomes a
// child of parent, which first upgrades to routerID when promote is
// set. A non-nil demote gives up its router id to demoteTo's child
// table before anything else happens.
type attachment struct {
	routerID int
	parent   *Node
	promote  bool
	demote   *Node
	demoteTo *Node
}

// planAttach decides how n can enter p without changing any state.
// Preference order: router while the partition is below the upgrade
// threshold or no router is in range, child of the nearest router with
// a free slot, router on a free id, router on an id freed by demoting a
// childless router. End devices without a router parent ask the
// nearest router-eligible child to upgrade.
func (r *Runtime) planAttach(n *Node, p *partition) (attachment, bool) {
	if p == nil {
		return attachment{}, false
	}
	eligible := n.Type.RouterEligible()
	if eligible && (len(p.routers) < r.upgradeThreshold() || !r.hasRouterNeighbor(n, p.id)) {
		if rid, ok := r.allocRouterID(p); ok {
			return attachment{routerID: rid}, true
		}
	}
	if parent := r.freeParent(n, p.id); parent != nil {
		return attachment{parent: parent}, true
	}
	if eligible {
		if rid, ok := r.allocRouterID(p); ok {
			return attachment{routerID: rid}, true
		}
		if d, to := r.demotable(p, n); d != nil {
			return attachment{routerID: d.routerID, demote: d, demoteTo: to}, true
		}
		return attachment{}, false
	}

	id, ok := r.topo.NearestNeighbor(n.ID, func(c model.NodeID) bool {
		cn := r.nodes[c]
		return cn != nil && !cn.failed && cn.role == model.RoleChild &&
			cn.Type.RouterEligible() && cn.partitionID == p.id
	})
	if !ok {
		return attachment{}, false
	}
	reed := r.nodes[id]
	if rid, ok := r.allocRouterID(p); ok {
		return attachment{routerID: rid, parent: reed, promote: true}, true
	}
	if d, to := r.demotable(p, reed); d != nil {
		return attachment{routerID: d.routerID, parent: reed, promote: true, demote: d, demoteTo: to}, true
	}
	return attachment{}, false
}

// attach carries out a plan made by planAttach.
func (r *Runtime) attach(n *Node, p *partition, a attachment) {
	if a.demote != nil {
		r.downgrade(a.demote, a.demoteTo)
	}
	if a.parent == nil {
		r.becomeRouter(n, p, a.routerID, model.RoleRouter)
		return
	}
	if a.promote {
		r.upgrade(a.parent, p, a.routerID)
	}
	r.becomeChild(n, a.parent)
}

// upgrade turns the child n into a router of p.
func (r *Runtime) upgrade(n *Node, p *partition, rid int) {
	r.releaseRole(n)
	r.becomeRouter(n, p, rid, model.RoleRouter)
	r.log.Debug(context.Background(), "router upgrade",
		logging.Int("node_id", n.ID), logging.Int("router_id", rid))
}

// downgrade turns the router n into a child of parent.
func (r *Runtime) downgrade(n, parent *Node) {
	rid := n.routerID
	r.releaseRole(n)
	r.becomeChild(n, parent)
	r.log.Debug(context.Background(), "router downgrade",
		logging.Int("node_id", n.ID), logging.Int("router_id", rid))
}

// freeParent returns the nearest router of partition pid in range of n
// with a free child slot.
func (r *Runtime) freeParent(n *Node, pid uint32) *Node {
	id, ok := r.topo.NearestNeighbor(n.ID, func(c model.NodeID) bool {
		cn := r.nodes[c]
		return cn != nil && !cn.failed && cn.role.IsRouter() &&
			cn.partitionID == pid && len(cn.children) < r.params.MaxChildren
	})
	if !ok {
		return nil
	}
	return r.nodes[id]
}

func (r *Runtime) hasRouterNeighbor(n *Node, pid uint32) bool {
	for _, id := range r.topo.Neighbors(n.ID) {
		if c := r.nodes[id]; c != nil && !c.failed && c.role.IsRouter() && c.partitionID == pid {
			return true
		}
	}
	return false
}

// demotable finds the lowest router id of p held by a childless,
// non-leader router other than keep that can attach as a child
// elsewhere in p.
func (r *Runtime) demotable(p *partition, keep *Node) (*Node, *Node) {
	rids := make([]int, 0, len(p.routers))
	for rid := range p.routers {
		rids = append(rids, rid)
	}
	sort.Ints(rids)
	for _, rid := range rids {
		c := r.nodes[p.routers[rid]]
		if c == nil || c == keep || c.failed || c.role != model.RoleRouter || len(c.children) > 0 {
			continue
		}
		if parent := r.freeParent(c, p.id); parent != nil {
			return c, parent
		}
	}
	return nil, nil
}

func (r *Runtime) formPartition(n *Node) {
	p := &partition{id: r.newPartitionID(), routers: make(map[int]model.NodeID)}
	r.partitions[p.id] = p
	r.becomeRouter(n, p, r.rng.IntN(maxRouterID+1), model.RoleLeader)
	r.obs.PartitionCreated(n.ID, p.id)
	r.log.Debug(context.Background(), "partition created",
		logging.Int("node_id", n.ID), logging.Any("partition_id", p.id))
}

func (r *Runtime) becomeRouter(n *Node, p *partition, rid int, role model.Role) {
	n.routerID = rid
	p.routers[rid] = n.ID
	if role == model.RoleLeader {
		p.leader = n.ID
	}
	n.leaderSeenAt = r.sched.Now()
	r.setAttached(n, role, p.id, uint16(rid)<<10)
	r.moveChildren(n)
	r.scheduleTick(n)
}

func (r *Runtime) becomeChild(n *Node, parent *Node) {
	r.detachChildren(n)
	cid := 1
	for ; cid <= maxChildID; cid++ {
		if _, used := parent.children[cid]; !used {
			break
		}
	}
	parent.children[cid] = n.ID
	n.parent = parent.ID
	n.childID = cid
	r.obs.ParentChanged(n.ID, parent.ID)
	r.setAttached(n, model.RoleChild, parent.partitionID, parent.rloc16|uint16(cid))
	r.scheduleTick(n)
}

// detach drops n out of its partition and schedules an immediate
// re-attach.
func (r *Runtime) detach(n *Node) {
	r.releaseRole(n)
	r.detachChildren(n)
	r.clearAttachment(n)
	r.setRole(n, model.RoleDetached)
	r.setTimer(n, r.sched.Now(), func() { r.tryAttach(n) })
}

func (r *Runtime) detachChildren(n *Node) {
	for _, cid := range n.Children() {
		if c := r.nodes[cid]; c != nil && c.parent == n.ID {
			r.detach(c)
		}
	}
	clear(n.children)
}

// moveChildren keeps a router's children in step with its partition
// and RLOC16.
func (r *Runtime) moveChildren(n *Node) {
	for cid, id := range n.children {
		c := r.nodes[id]
		if c == nil || c.parent != n.ID {
			delete(n.children, cid)
			continue
		}
		r.setAttached(c, model.RoleChild, n.partitionID, n.rloc16|uint16(cid))
	}
}

// releaseRole frees the router id or child slot held by n.
func (r *Runtime) releaseRole(n *Node) {
	if n.routerID >= 0 {
		if p := r.partitions[n.partitionID]; p != nil {
			if p.routers[n.routerID] == n.ID {
				delete(p.routers, n.routerID)
			}
			if p.leader == n.ID {
				p.leader = model.InvalidNodeID
			}
			if len(p.routers) == 0 {
				delete(r.partitions, p.id)
			}
		}
		n.routerID = -1
	}
	if n.parent != model.InvalidNodeID {
		if parent := r.nodes[n.parent]; parent != nil && parent.children[n.childID] == n.ID {
			delete(parent.children, n.childID)
		}
		n.parent = model.InvalidNodeID
		n.childID = 0
		r.obs.ParentChanged(n.ID, model.InvalidNodeID)
	}
}

func (r *Runtime) clearAttachment(n *Node) {
	if n.role.IsAttached() {
		n.attachedAcc += r.sched.Now().Sub(n.attachedAt)
	}
	if n.partitionID != 0 {
		n.partitionID = 0
		r.obs.PartitionChanged(n.ID, 0)
	}
	if n.rloc16 != model.InvalidRloc16 {
		n.rloc16 = model.InvalidRloc16
		r.obs.Rloc16Changed(n.ID, n.rloc16)
	}
}

func (r *Runtime) setAttached(n *Node, role model.Role, pid uint32, rloc16 uint16) {
	now := r.sched.Now()
	if !n.role.IsAttached() {
		n.attachedAt = now
		if !n.joined {
			n.joined = true
			n.joinedAt = now
			r.obs.Joined(n.ID, now.Sub(n.startedAt))
		}
	}
	r.setRole(n, role)
	if n.partitionID != pid {
		n.partitionID = pid
		r.obs.PartitionChanged(n.ID, pid)
	}
	if n.rloc16 != rloc16 {
		n.rloc16 = rloc16
		r.obs.Rloc16Changed(n.ID, rloc16)
	}
}

func (r *Runtime) setRole(n *Node, role model.Role) {
	if n.role == role {
		return
	}
	old := n.role
	n.role = role
	r.obs.RoleChanged(n.ID, old, role)
	r.log.Debug(context.Background(), "role changed",
		logging.Int("node_id", n.ID),
		logging.String("from", old.String()),
		logging.String("to", role.String()))
}

func (r *Runtime) scheduleTick(n *Node) {
	d := r.params.AdvertiseInterval
	// Spread ticks over +-10% of the interval.
	base := d - d/10
	if span := int64(d / 5); span > 0 {
		base += time.Duration(r.rng.Int64N(span))
	}
	r.setTimer(n, r.sched.Now().Add(base), func() { r.tick(n) })
}

// tick is the periodic work of an attached node: routers advertise,
// look for higher partitions and watch their leader; children check
// their parent and look for higher partitions too.
func (r *Runtime) tick(n *Node) {
	if n.failed {
		r.scheduleTick(n)
		return
	}
	switch {
	case n.role == model.RoleChild:
		parent := r.nodes[n.parent]
		if parent == nil || parent.failed || !parent.role.IsRouter() ||
			parent.partitionID != n.partitionID || parent.children[n.childID] != n.ID ||
			!r.topo.Connected(n.ID, parent.ID) {
			r.detach(n)
			return
		}
		if r.mergeIfHigher(n) {
			return
		}
		if n.Type.RouterEligible() {
			if p := r.partitions[n.partitionID]; p != nil && len(p.routers) < r.upgradeThreshold() {
				if rid, ok := r.allocRouterID(p); ok {
					r.upgrade(n, p, rid)
					return
				}
			}
		}
		r.scheduleTick(n)
	case n.role.IsRouter():
		r.obs.Advertised(n.ID)
		if r.mergeIfHigher(n) || r.checkLeader(n) || r.downgradeIfRedundant(n) {
			return
		}
		r.scheduleTick(n)
	}
}

// mergeIfHigher moves n into the highest-id partition heard from its
// attached neighbors that exceeds its own and can take it. It reports
// whether n moved.
func (r *Runtime) mergeIfHigher(n *Node) bool {
	for _, pid := range r.heardPartitions(n, n.partitionID) {
		p := r.partitions[pid]
		a, ok := r.planAttach(n, p)
		if !ok {
			continue
		}
		from := n.partitionID
		r.releaseRole(n)
		r.attach(n, p, a)
		r.obs.PartitionMerged(n.ID, from, pid)
		return true
	}
	return false
}

// downgradeIfRedundant hands the router id of a childless router back
// while its partition is above the downgrade threshold and another
// router in range can take it as a child.
func (r *Runtime) downgradeIfRedundant(n *Node) bool {
	if n.role != model.RoleRouter || len(n.children) > 0 {
		return false
	}
	p := r.partitions[n.partitionID]
	if p == nil || len(p.routers) <= r.downgradeThreshold() {
		return false
	}
	parent := r.freeParent(n, p.id)
	if parent == nil {
		return false
	}
	r.downgrade(n, parent)
	return true
}

// checkLeader tracks whether a router can still reach its leader and
// starts a new partition after LeaderTimeout without it. It reports
// whether n formed a new partition.
func (r *Runtime) checkLeader(n *Node) bool {
	now := r.sched.Now()
	if n.role == model.RoleLeader {
		n.leaderSeenAt = now
		return false
	}
	if lid, ok := r.Leader(n.partitionID); ok {
		if l := r.nodes[lid]; l != nil && !l.failed && r.topo.SameComponent(n.ID, lid) {
			n.leaderSeenAt = now
			return false
		}
	}
	if now.Sub(n.leaderSeenAt) < r.params.LeaderTimeout {
		return false
	}
	r.log.Debug(context.Background(), "leader lost",
		logging.Int("node_id", n.ID), logging.Any("partition_id", n.partitionID))
	r.releaseRole(n)
	r.formPartition(n)
	return true
}

// heardPartitions returns the partition ids above floor announced by
// attached neighbors of n, highest first.
func (r *Runtime) heardPartitions(n *Node, floor uint32) []uint32 {
	seen := make(map[uint32]struct{})
	var res []uint32
	for _, id := range r.topo.Neighbors(n.ID) {
		c := r.nodes[id]
		if c == nil || c.failed || !c.role.IsAttached() || c.partitionID <= floor {
			continue
		}
		if _, dup := seen[c.partitionID]; dup || r.partitions[c.partitionID] == nil {
			continue
		}
		seen[c.partitionID] = struct{}{}
		res = append(res, c.partitionID)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] > res[j] })
	return res
}

func (r *Runtime) upgradeThreshold() int {
	return min(r.params.RouterUpgradeThreshold, r.params.MaxRouters)
}

func (r *Runtime) downgradeThreshold() int {
	return min(r.params.RouterDowngradeThreshold, r.params.MaxRouters)
}

func (r *Runtime) allocRouterID(p *partition) (int, bool) {
	if len(p.routers) >= r.params.MaxRouters {
		return 0, false
	}
	for rid := 0; rid <= maxRouterID; rid++ {
		if _, used := p.routers[rid]; !used {
			return rid, true
		}
	}
	return 0, false
}

func (r *Runtime) newPartitionID() uint32 {
	for {
		pid := r.rng.Uint32()
		if _, used := r.partitions[pid]; pid != 0 && !used {
			return pid
		}
	}
}

func (r *Runtime) newExtAddr() uint64 {
	for {
		ext := r.rng.Uint64()
		if _, used := r.extAddrs[ext]; ext != model.InvalidExtAddr && !used {
			return ext
		}
	}
}

func (r *Runtime) setTimer(n *Node, at time.Time, fn func()) {
	r.cancelTimer(n)
	id := n.ID
	n.timer = r.sched.Schedule(at, func() {
		if r.nodes[id] != n {
			return
		}
		n.timer = ""
		fn()
	})
}

func (r *Runtime) cancelTimer(n *Node) {
	if n.timer != "" {
		r.sched.Cancel(n.timer)
		n.timer = ""
	}
}
