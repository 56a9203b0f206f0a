package visualize

import (
	"time"

	"github.com/signalsfoundry/mesh-simulator/model"
)

// Multi fans every event out to several visualizers in order.
type Multi []Visualizer

var _ Visualizer = Multi(nil)

// NewMulti drops nil entries and flattens nested Multis.
func NewMulti(vs ...Visualizer) Multi {
	var m Multi
	for _, v := range vs {
		switch t := v.(type) {
		case nil:
		case Multi:
			m = append(m, t...)
		default:
			m = append(m, v)
		}
	}
	return m
}

func (m Multi) AddNode(id model.NodeID, x, y, radioRange int, typ model.NodeType) {
	for _, v := range m {
		v.AddNode(id, x, y, radioRange, typ)
	}
}

func (m Multi) DeleteNode(id model.NodeID) {
	for _, v := range m {
		v.DeleteNode(id)
	}
}

func (m Multi) SetNodePos(id model.NodeID, x, y int) {
	for _, v := range m {
		v.SetNodePos(id, x, y)
	}
}

func (m Multi) SetNodeRole(id model.NodeID, role model.Role) {
	for _, v := range m {
		v.SetNodeRole(id, role)
	}
}

func (m Multi) SetNodePartitionID(id model.NodeID, partitionID uint32) {
	for _, v := range m {
		v.SetNodePartitionID(id, partitionID)
	}
}

func (m Multi) SetNodeRloc16(id model.NodeID, rloc16 uint16) {
	for _, v := range m {
		v.SetNodeRloc16(id, rloc16)
	}
}

func (m Multi) SetParent(id, parent model.NodeID) {
	for _, v := range m {
		v.SetParent(id, parent)
	}
}

func (m Multi) OnNodeFail(id model.NodeID) {
	for _, v := range m {
		v.OnNodeFail(id)
	}
}

func (m Multi) OnNodeRecover(id model.NodeID) {
	for _, v := range m {
		v.OnNodeRecover(id)
	}
}

func (m Multi) Send(src, dst model.NodeID, info *MsgInfo) {
	for _, v := range m {
		v.Send(src, dst, info)
	}
}

func (m Multi) CountDown(d time.Duration, text string) {
	for _, v := range m {
		v.CountDown(d, text)
	}
}

func (m Multi) ShowDemoLegend(x, y int, title string) {
	for _, v := range m {
		v.ShowDemoLegend(x, y, title)
	}
}

func (m Multi) SetSpeed(speed float64) {
	for _, v := range m {
		v.SetSpeed(speed)
	}
}

func (m Multi) AdvanceTime(ts time.Duration, speed float64) {
	for _, v := range m {
		v.AdvanceTime(ts, speed)
	}
}
