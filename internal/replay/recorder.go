package replay

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/signalsfoundry/mesh-simulator/internal/visualize"
	"github.com/signalsfoundry/mesh-simulator/model"
)

const defaultFlushAt = 512

// Recorder is a visualize.Visualizer that buffers events of one session
// and writes them to the Store in batches.
type Recorder struct {
	store     *Store
	sessionID string
	flushAt   int

	mu   sync.Mutex
	now  time.Duration
	buf  []Event
	err  error
	rows int
}

var _ visualize.Visualizer = (*Recorder)(nil)

// NewRecorder starts a session in store.
func NewRecorder(ctx context.Context, store *Store, startedAt time.Time, seed uint64, label string) (*Recorder, error) {
	id, err := store.CreateSession(ctx, startedAt, seed, label)
	if err != nil {
		return nil, err
	}
	return &Recorder{store: store, sessionID: id, flushAt: defaultFlushAt}, nil
}

// SessionID returns the id of the recorded session.
func (r *Recorder) SessionID() string { return r.sessionID }

// Flush writes buffered events.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	buf := r.buf
	r.buf = nil
	r.mu.Unlock()

	err := r.store.Append(ctx, r.sessionID, buf)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.rows += len(buf)
	} else if r.err == nil {
		r.err = err
	}
	return r.err
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Written returns the number of events stored so far.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows
}

func (r *Recorder) record(ev Event) {
	r.mu.Lock()
	ev.Time = r.now
	r.buf = append(r.buf, ev)
	full := len(r.buf) >= r.flushAt
	r.mu.Unlock()
	if full {
		_ = r.Flush(context.Background())
	}
}

func (r *Recorder) AddNode(id model.NodeID, x, y, radioRange int, typ model.NodeType) {
	r.record(Event{Kind: KindAdd, Node: id, X: x, Y: y,
		Value: fmt.Sprintf("%s range=%d", typ, radioRange)})
}

func (r *Recorder) DeleteNode(id model.NodeID) {
	r.record(Event{Kind: KindDelete, Node: id})
}

func (r *Recorder) SetNodePos(id model.NodeID, x, y int) {
	r.record(Event{Kind: KindMove, Node: id, X: x, Y: y})
}

func (r *Recorder) SetNodeRole(id model.NodeID, role model.Role) {
	r.record(Event{Kind: KindRole, Node: id, Value: role.String()})
}

func (r *Recorder) SetNodePartitionID(id model.NodeID, partitionID uint32) {
	r.record(Event{Kind: KindPartition, Node: id, Value: fmt.Sprintf("%08x", partitionID)})
}

func (r *Recorder) SetNodeRloc16(id model.NodeID, rloc16 uint16) {
	r.record(Event{Kind: KindRloc16, Node: id, Value: fmt.Sprintf("%04x", rloc16)})
}

func (r *Recorder) SetParent(id, parent model.NodeID) {
	r.record(Event{Kind: KindParent, Node: id, Peer: parent})
}

func (r *Recorder) OnNodeFail(id model.NodeID) {
	r.record(Event{Kind: KindFail, Node: id})
}

func (r *Recorder) OnNodeRecover(id model.NodeID) {
	r.record(Event{Kind: KindRecover, Node: id})
}

func (r *Recorder) Send(src, dst model.NodeID, info *visualize.MsgInfo) {
	ev := Event{Kind: KindSend, Node: src, Peer: dst}
	if info != nil {
		ev.Value = info.Kind.String()
		if info.Lost {
			ev.Value += " lost"
		}
	}
	r.record(ev)
}

func (r *Recorder) CountDown(d time.Duration, text string) {
	r.record(Event{Kind: KindCountDown, Value: d.String() + " " + text})
}

func (r *Recorder) ShowDemoLegend(x, y int, title string) {
	r.record(Event{Kind: KindLegend, X: x, Y: y, Value: title})
}

func (r *Recorder) SetSpeed(speed float64) {
	r.record(Event{Kind: KindSpeed, Value: strconv.FormatFloat(speed, 'g', -1, 64)})
}

// AdvanceTime stamps subsequent events with ts.
func (r *Recorder) AdvanceTime(ts time.Duration, _ float64) {
	r.mu.Lock()
	if ts > r.now {
		r.now = ts
	}
	r.mu.Unlock()
}
