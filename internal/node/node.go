package node

import (
	"net/netip"
	"sort"
	"time"

	"github.com/signalsfoundry/mesh-simulator/model"
)

// Node is the mesh protocol state of one simulated device. Nodes are
// owned by a Runtime; callers read them under the same lock that
// serializes the Runtime.
type Node struct {
	ID      model.NodeID
	Type    model.NodeType
	ExtAddr uint64

	mleidIID uint64

	role        model.Role
	partitionID uint32
	rloc16      uint16
	routerID    int
	parent      model.NodeID
	childID     int
	children    map[int]model.NodeID
	failed      bool

	startedAt    time.Time
	joined       bool
	joinedAt     time.Time
	joinReported bool
	attachedAt   time.Time
	attachedAcc  time.Duration
	leaderSeenAt time.Time

	timer string
}

// Role returns the node's current role.
func (n *Node) Role() model.Role { return n.role }

// PartitionID returns the partition the node belongs to, 0 if none.
func (n *Node) PartitionID() uint32 { return n.partitionID }

// Rloc16 returns the routing locator, model.InvalidRloc16 if detached.
func (n *Node) Rloc16() uint16 { return n.rloc16 }

// RouterID returns the allocated router id of a router or leader.
func (n *Node) RouterID() (int, bool) {
	if !n.role.IsRouter() {
		return 0, false
	}
	return n.routerID, true
}

// Parent returns the parent of a child, model.InvalidNodeID otherwise.
func (n *Node) Parent() model.NodeID { return n.parent }

// Children returns the ids of attached children, ascending.
func (n *Node) Children() []model.NodeID {
	res := make([]model.NodeID, 0, len(n.children))
	for _, id := range n.children {
		res = append(res, id)
	}
	sort.Ints(res)
	return res
}

// Failed reports whether the node's radio is down.
func (n *Node) Failed() bool { return n.failed }

// Addr returns the node's address of type t.
func (n *Node) Addr(t AddrType) (netip.Addr, bool) {
	switch t {
	case AddrMLEID:
		if n.role == model.RoleDisabled {
			return netip.Addr{}, false
		}
		return MLEIDAddr(n.mleidIID), true
	case AddrRLOC:
		if !n.role.IsAttached() {
			return netip.Addr{}, false
		}
		return RlocAddr(n.rloc16), true
	case AddrLinkLocal:
		return LinkLocalAddr(n.ExtAddr), true
	default:
		for _, pref := range []AddrType{AddrMLEID, AddrRLOC, AddrLinkLocal} {
			if a, ok := n.Addr(pref); ok {
				return a, true
			}
		}
		return netip.Addr{}, false
	}
}

// Addresses lists the node's unicast addresses: RLOC when attached,
// then ML-EID, then link-local.
func (n *Node) Addresses() []netip.Addr {
	var res []netip.Addr
	for _, t := range []AddrType{AddrRLOC, AddrMLEID, AddrLinkLocal} {
		if a, ok := n.Addr(t); ok {
			res = append(res, a)
		}
	}
	return res
}

// Info builds a read-only snapshot.
func (n *Node) Info() model.NodeInfo {
	return model.NodeInfo{
		ID:          n.ID,
		Type:        n.Type,
		ExtAddr:     n.ExtAddr,
		Rloc16:      n.rloc16,
		Role:        n.role,
		PartitionID: n.partitionID,
		Failed:      n.failed,
	}
}

func (n *Node) sessionDuration(now time.Time) time.Duration {
	d := n.attachedAcc
	if n.role.IsAttached() {
		d += now.Sub(n.attachedAt)
	}
	return d
}
