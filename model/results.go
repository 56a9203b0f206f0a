package model

import "time"

// PingResult records one echo request that was answered.
type PingResult struct {
	Dst      string
	DataSize int
	// Delay is the round trip time.
	Delay time.Duration
	// Hops is the number of radio hops of the request path.
	Hops int
}

// JoinResult records the first attach of a node.
type JoinResult struct {
	// JoinDuration is the time from node start until it attached.
	JoinDuration time.Duration
	// SessionDuration is the time the node has stayed attached since.
	SessionDuration time.Duration
}

// NodeInfo is a read-only snapshot of a node as reported to callers.
type NodeInfo struct {
	ID          NodeID
	Type        NodeType
	Position    Position
	RadioRange  int
	ExtAddr     uint64
	Rloc16      uint16
	Role        Role
	PartitionID uint32
	Failed      bool
}
