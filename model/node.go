package model

import (
	"fmt"
	"strings"
	"time"
)

// NodeID identifies a simulated node. Valid ids start at 1.
type NodeID = int

const (
	// InvalidNodeID marks "no node", e.g. a detached child's parent.
	InvalidNodeID NodeID = 0
	// BroadcastNodeID is used as the destination of broadcast frames.
	BroadcastNodeID NodeID = -1
)

const (
	// DefaultRadioRange is the radio range given to nodes added without one.
	DefaultRadioRange = 160

	// InvalidRloc16 is the RLOC16 of a node that is not attached.
	InvalidRloc16 uint16 = 0xfffe

	// InvalidExtAddr is the extended address of a node that has none yet.
	InvalidExtAddr uint64 = 0
)

// NodeType is the device class a node is created as.
type NodeType string

const (
	NodeTypeRouter NodeType = "router"
	NodeTypeFED    NodeType = "fed"
	NodeTypeMED    NodeType = "med"
	NodeTypeSED    NodeType = "sed"
)

// ParseNodeType maps a user supplied type name onto a NodeType.
func ParseNodeType(s string) (NodeType, error) {
	switch t := NodeType(strings.ToLower(strings.TrimSpace(s))); t {
	case NodeTypeRouter, NodeTypeFED, NodeTypeMED, NodeTypeSED:
		return t, nil
	default:
		return "", fmt.Errorf("unknown node type %q", s)
	}
}

// IsFTD reports whether the device is a full thread device.
func (t NodeType) IsFTD() bool {
	return t == NodeTypeRouter || t == NodeTypeFED
}

// RouterEligible reports whether the device may take the router or leader role.
func (t NodeType) RouterEligible() bool {
	return t == NodeTypeRouter
}

// RxOffWhenIdle reports whether the device sleeps between parent polls.
func (t NodeType) RxOffWhenIdle() bool {
	return t == NodeTypeSED
}

// Mode returns the thread mode string of the device ("rdn", "rn", "-").
func (t NodeType) Mode() string {
	var sb strings.Builder
	if !t.RxOffWhenIdle() {
		sb.WriteByte('r')
	}
	if t.IsFTD() {
		sb.WriteByte('d')
	}
	sb.WriteByte('n')
	return sb.String()
}

// Role is the mesh role a node currently plays.
type Role int

const (
	RoleDisabled Role = iota
	RoleDetached
	RoleChild
	RoleRouter
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleDisabled:
		return "disabled"
	case RoleDetached:
		return "detached"
	case RoleChild:
		return "child"
	case RoleRouter:
		return "router"
	case RoleLeader:
		return "leader"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// IsAttached reports whether the role belongs to a partition.
func (r Role) IsAttached() bool {
	return r == RoleChild || r == RoleRouter || r == RoleLeader
}

// IsRouter reports whether the role forwards frames for others.
func (r Role) IsRouter() bool {
	return r == RoleRouter || r == RoleLeader
}

// Position is a location on the simulation plane.
type Position struct {
	X int
	Y int
}

// NodeConfig describes a node to be added to the simulation.
type NodeConfig struct {
	// ID requests a specific id; InvalidNodeID lets the engine choose.
	ID         NodeID
	Type       NodeType
	Position   Position
	RadioRange int
}

// DefaultNodeConfig returns a router at the origin with the default radio range.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Type:       NodeTypeRouter,
		RadioRange: DefaultRadioRange,
	}
}

// FailTime configures periodic radio failures: in every FailInterval the
// node's radio is down for FailDuration.
type FailTime struct {
	FailInterval time.Duration
	FailDuration time.Duration
}

// NonFailTime disables periodic failures.
var NonFailTime = FailTime{}

// Enabled reports whether periodic failures are configured.
func (ft FailTime) Enabled() bool {
	return ft.FailInterval > 0 && ft.FailDuration > 0 && ft.FailDuration <= ft.FailInterval
}

// NodeRecord holds the physical attributes of a node: what the radio
// layer needs to know about it.
type NodeRecord struct {
	ID         NodeID
	Type       NodeType
	Position   Position
	RadioRange int
	Failed     bool
}
