package visualize

import (
	"context"
	"time"

	"github.com/signalsfoundry/mesh-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-simulator/model"
)

// LogVisualizer writes node events to a logger at debug level. Frames
// and time advances are not logged.
type LogVisualizer struct {
	Nop
	log logging.Logger
}

// NewLogVisualizer wraps log; a nil logger discards everything.
func NewLogVisualizer(log logging.Logger) *LogVisualizer {
	if log == nil {
		log = logging.Noop()
	}
	return &LogVisualizer{log: log}
}

func (v *LogVisualizer) AddNode(id model.NodeID, x, y, radioRange int, typ model.NodeType) {
	v.log.Debug(context.Background(), "vis: node added",
		logging.Int("node_id", id), logging.Int("x", x), logging.Int("y", y),
		logging.Int("radio_range", radioRange), logging.String("type", string(typ)))
}

func (v *LogVisualizer) DeleteNode(id model.NodeID) {
	v.log.Debug(context.Background(), "vis: node deleted", logging.Int("node_id", id))
}

func (v *LogVisualizer) SetNodePos(id model.NodeID, x, y int) {
	v.log.Debug(context.Background(), "vis: node moved",
		logging.Int("node_id", id), logging.Int("x", x), logging.Int("y", y))
}

func (v *LogVisualizer) SetNodeRole(id model.NodeID, role model.Role) {
	v.log.Debug(context.Background(), "vis: role",
		logging.Int("node_id", id), logging.String("role", role.String()))
}

func (v *LogVisualizer) SetNodePartitionID(id model.NodeID, partitionID uint32) {
	v.log.Debug(context.Background(), "vis: partition",
		logging.Int("node_id", id), logging.Any("partition_id", partitionID))
}

func (v *LogVisualizer) OnNodeFail(id model.NodeID) {
	v.log.Debug(context.Background(), "vis: radio off", logging.Int("node_id", id))
}

func (v *LogVisualizer) OnNodeRecover(id model.NodeID) {
	v.log.Debug(context.Background(), "vis: radio on", logging.Int("node_id", id))
}

func (v *LogVisualizer) CountDown(d time.Duration, text string) {
	v.log.Info(context.Background(), "countdown",
		logging.Duration("duration", d), logging.String("text", text))
}

func (v *LogVisualizer) ShowDemoLegend(x, y int, title string) {
	v.log.Info(context.Background(), "demo legend",
		logging.String("title", title), logging.Int("x", x), logging.Int("y", y))
}

func (v *LogVisualizer) SetSpeed(speed float64) {
	v.log.Debug(context.Background(), "vis: speed", logging.Any("speed", speed))
}
