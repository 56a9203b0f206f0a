package visualize

import (
	"time"

	"github.com/signalsfoundry/mesh-simulator/model"
)

// Nop discards every event. Embed it to implement part of Visualizer.
type Nop struct{}

var _ Visualizer = Nop{}

func (Nop) AddNode(model.NodeID, int, int, int, model.NodeType) {}
func (Nop) DeleteNode(model.NodeID)                             {}
func (Nop) SetNodePos(model.NodeID, int, int)                   {}
func (Nop) SetNodeRole(model.NodeID, model.Role)                {}
func (Nop) SetNodePartitionID(model.NodeID, uint32)             {}
func (Nop) SetNodeRloc16(model.NodeID, uint16)                  {}
func (Nop) SetParent(model.NodeID, model.NodeID)                {}
func (Nop) OnNodeFail(model.NodeID)                             {}
func (Nop) OnNodeRecover(model.NodeID)                          {}
func (Nop) Send(model.NodeID, model.NodeID, *MsgInfo)           {}
func (Nop) CountDown(time.Duration, string)                     {}
func (Nop) ShowDemoLegend(int, int, string)                     {}
func (Nop) SetSpeed(float64)                                    {}
func (Nop) AdvanceTime(time.Duration, float64)                  {}
