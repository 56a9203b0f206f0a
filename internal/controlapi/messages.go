package controlapi

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/mesh-simulator/internal/sim"
	"github.com/signalsfoundry/mesh-simulator/model"
)

// AddNodeRequest describes a node to add. Zero ID lets the simulation
// choose one; zero RadioRange uses the default.
type AddNodeRequest struct {
	Type       string `json:"type"`
	ID         int    `json:"id,omitempty"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	RadioRange int    `json:"radio_range,omitempty"`
}

// Node is the wire form of model.NodeInfo.
type Node struct {
	ID          int    `json:"id"`
	Type        string `json:"type"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	RadioRange  int    `json:"radio_range"`
	ExtAddr     string `json:"ext_addr"`
	Rloc16      string `json:"rloc16"`
	Role        string `json:"role"`
	PartitionID uint32 `json:"partition_id"`
	Failed      bool   `json:"failed"`
}

// NodeFromInfo converts a node snapshot to its wire form.
func NodeFromInfo(info model.NodeInfo) *Node {
	return &Node{
		ID:          info.ID,
		Type:        string(info.Type),
		X:           info.Position.X,
		Y:           info.Position.Y,
		RadioRange:  info.RadioRange,
		ExtAddr:     fmt.Sprintf("%016x", info.ExtAddr),
		Rloc16:      fmt.Sprintf("%04x", info.Rloc16),
		Role:        info.Role.String(),
		PartitionID: info.PartitionID,
		Failed:      info.Failed,
	}
}

type DeleteNodesRequest struct {
	IDs []int `json:"ids"`
}

type MoveNodeRequest struct {
	ID int `json:"id"`
	X  int `json:"x"`
	Y  int `json:"y"`
}

type ListNodesResponse struct {
	Nodes []*Node `json:"nodes"`
}

type Partition struct {
	ID    uint32 `json:"id"`
	Nodes []int  `json:"nodes"`
}

type ListPartitionsResponse struct {
	Partitions []Partition `json:"partitions"`
}

type ListComponentsResponse struct {
	Components [][]int `json:"components"`
}

// PingRequest starts an echo request train. Either Dst or Addr selects
// the destination; AddrType is one of any, mleid, rloc, linklocal.
type PingRequest struct {
	Src             int     `json:"src"`
	Dst             int     `json:"dst,omitempty"`
	Addr            string  `json:"addr,omitempty"`
	AddrType        string  `json:"addr_type,omitempty"`
	DataSize        int     `json:"data_size,omitempty"`
	Count           int     `json:"count,omitempty"`
	IntervalSeconds float64 `json:"interval_seconds,omitempty"`
	HopLimit        int     `json:"hop_limit,omitempty"`
}

type Ping struct {
	Node     int     `json:"node"`
	Dst      string  `json:"dst"`
	DataSize int     `json:"data_size"`
	DelayMs  float64 `json:"delay_ms"`
	Hops     int     `json:"hops"`
}

type CollectPingsResponse struct {
	Pings []Ping `json:"pings"`
}

type Join struct {
	Node           int     `json:"node"`
	JoinSeconds    float64 `json:"join_seconds"`
	SessionSeconds float64 `json:"session_seconds"`
}

type CollectJoinsResponse struct {
	Joins []Join `json:"joins"`
}

type NodeCommandRequest struct {
	ID      int    `json:"id"`
	Command string `json:"command"`
}

type NodeCommandResponse struct {
	Lines []string `json:"lines"`
}

type SetNodeFailedRequest struct {
	ID     int  `json:"id"`
	Failed bool `json:"failed"`
}

// SetFailTimeRequest configures periodic radio failures; zero values
// disable them.
type SetFailTimeRequest struct {
	ID              int     `json:"id"`
	IntervalSeconds float64 `json:"interval_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type CountDownRequest struct {
	Seconds int    `json:"seconds"`
	Text    string `json:"text,omitempty"`
}

type DemoLegendRequest struct {
	Title string `json:"title"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
}

type Counter struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

// Status is the wire form of sim.Status.
type Status struct {
	Now             time.Time `json:"now"`
	ElapsedSeconds  float64   `json:"elapsed_seconds"`
	Speed           float64   `json:"speed"`
	PacketLossRatio float64   `json:"packet_loss_ratio"`
	Nodes           int       `json:"nodes"`
	Partitions      int       `json:"partitions"`
	Components      int       `json:"components"`
	PendingEvents   int       `json:"pending_events"`
	Counters        []Counter `json:"counters"`
}

// StatusFromSim converts an engine status to its wire form.
func StatusFromSim(st sim.Status) *Status {
	out := &Status{
		Now:             st.Now,
		ElapsedSeconds:  st.Elapsed.Seconds(),
		Speed:           st.Speed,
		PacketLossRatio: st.PacketLossRatio,
		Nodes:           st.Nodes,
		Partitions:      st.Partitions,
		Components:      st.Components,
		PendingEvents:   st.PendingEvents,
	}
	for _, f := range st.Counters.Fields() {
		out.Counters = append(out.Counters, Counter{Name: f.Name, Value: f.Value})
	}
	return out
}
