// Package visualize defines the sink interface the simulation reports
// node and message events to, plus a few stock sinks.
package visualize

import (
	"time"

	"github.com/signalsfoundry/mesh-simulator/model"
)

// MsgKind classifies a simulated frame.
type MsgKind int

const (
	MsgAdvertisement MsgKind = iota
	MsgPingRequest
	MsgPingReply
	MsgAck
)

func (k MsgKind) String() string {
	switch k {
	case MsgAdvertisement:
		return "advertisement"
	case MsgPingRequest:
		return "ping_request"
	case MsgPingReply:
		return "ping_reply"
	case MsgAck:
		return "ack"
	default:
		return "unknown"
	}
}

// MsgInfo describes a frame passed to Visualizer.Send.
type MsgInfo struct {
	Kind   MsgKind
	Seq    uint16
	Length int
	// Lost is set when the frame was dropped on the air.
	Lost bool
}

// Visualizer receives every observable simulation event. Calls are made
// with the engine lock held and must not block.
type Visualizer interface {
	AddNode(id model.NodeID, x, y, radioRange int, typ model.NodeType)
	DeleteNode(id model.NodeID)
	SetNodePos(id model.NodeID, x, y int)
	SetNodeRole(id model.NodeID, role model.Role)
	SetNodePartitionID(id model.NodeID, partitionID uint32)
	SetNodeRloc16(id model.NodeID, rloc16 uint16)
	SetParent(id, parent model.NodeID)
	OnNodeFail(id model.NodeID)
	OnNodeRecover(id model.NodeID)
	// Send reports a frame; dst is model.BroadcastNodeID for broadcasts.
	Send(src, dst model.NodeID, info *MsgInfo)
	CountDown(d time.Duration, text string)
	ShowDemoLegend(x, y int, title string)
	SetSpeed(speed float64)
	AdvanceTime(ts time.Duration, speed float64)
}

// Options toggles which frames reach the visualizer.
type Options struct {
	BroadcastMessage bool `json:"broadcast_message" yaml:"broadcast_message"`
	UnicastMessage   bool `json:"unicast_message" yaml:"unicast_message"`
	AckMessage       bool `json:"ack_message" yaml:"ack_message"`
	RouterTable      bool `json:"router_table" yaml:"router_table"`
	ChildTable       bool `json:"child_table" yaml:"child_table"`
}

// DefaultOptions shows every frame except acks.
func DefaultOptions() Options {
	return Options{
		BroadcastMessage: true,
		UnicastMessage:   true,
		RouterTable:      true,
		ChildTable:       true,
	}
}

// Allows reports whether a frame from src to dst passes the options.
func (o Options) Allows(dst model.NodeID, info *MsgInfo) bool {
	if info != nil && info.Kind == MsgAck {
		return o.AckMessage
	}
	if dst == model.BroadcastNodeID {
		return o.BroadcastMessage
	}
	return o.UnicastMessage
}
