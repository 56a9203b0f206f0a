package node

import (
	"time"

	"github.com/signalsfoundry/mesh-simulator/model"
)

// Observer is notified of protocol state changes. Callbacks run on the
// goroutine driving the Runtime and must not call back into it.
type Observer interface {
	RoleChanged(id model.NodeID, old, new model.Role)
	PartitionChanged(id model.NodeID, partitionID uint32)
	Rloc16Changed(id model.NodeID, rloc16 uint16)
	ParentChanged(id, parent model.NodeID)
	Advertised(id model.NodeID)
	AttachAttempted(id model.NodeID)
	PartitionCreated(id model.NodeID, partitionID uint32)
	PartitionMerged(id model.NodeID, from, to uint32)
	Joined(id model.NodeID, after time.Duration)
}

// NopObserver ignores every notification. Embed it to implement only
// some of Observer.
type NopObserver struct{}

func (NopObserver) RoleChanged(model.NodeID, model.Role, model.Role) {}
func (NopObserver) PartitionChanged(model.NodeID, uint32)            {}
func (NopObserver) Rloc16Changed(model.NodeID, uint16)               {}
func (NopObserver) ParentChanged(model.NodeID, model.NodeID)         {}
func (NopObserver) Advertised(model.NodeID)                          {}
func (NopObserver) AttachAttempted(model.NodeID)                     {}
func (NopObserver) PartitionCreated(model.NodeID, uint32)            {}
func (NopObserver) PartitionMerged(model.NodeID, uint32, uint32)     {}
func (NopObserver) Joined(model.NodeID, time.Duration)               {}
