package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/mesh-simulator/model"
)

var (
	// ErrNodeExists is returned when adding a node whose id is taken.
	ErrNodeExists = errors.New("node already exists")
	// ErrNodeNotFound is returned when a node id is unknown.
	ErrNodeNotFound = errors.New("node not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventNodeMoved
	EventNodeDeleted
	EventNodeRangeChanged
	EventNodeFailed
	EventNodeRecovered
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	Node model.NodeRecord
}

// KnowledgeBase is an in-memory, thread-safe store for the physical
// attributes of simulated nodes.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes map[model.NodeID]*model.NodeRecord

	subs    map[int]func(Event)
	nextSub int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes: make(map[model.NodeID]*model.NodeRecord),
		subs:  make(map[int]func(Event)),
	}
}

// AddNode adds a new node. It returns an error if the ID already exists.
func (kb *KnowledgeBase) AddNode(n *model.NodeRecord) error {
	if n == nil || n.ID <= 0 {
		return fmt.Errorf("invalid node id")
	}

	kb.mu.Lock()
	if _, exists := kb.nodes[n.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNodeExists, n.ID)
	}
	kb.nodes[n.ID] = n
	kb.publishLocked(Event{Type: EventNodeAdded, Node: *n})
	return nil
}

// GetNode returns the node with the given ID, or nil if not found.
// The returned record is a copy.
func (kb *KnowledgeBase) GetNode(id model.NodeID) *model.NodeRecord {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	n, ok := kb.nodes[id]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}

// ListNodes returns a snapshot of all nodes ordered by id.
func (kb *KnowledgeBase) ListNodes() []model.NodeRecord {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.NodeRecord, 0, len(kb.nodes))
	for _, n := range kb.nodes {
		res = append(res, *n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of nodes.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.nodes)
}

// NextFreeID returns the lowest id that no node uses.
func (kb *KnowledgeBase) NextFreeID() model.NodeID {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	id := model.NodeID(1)
	for {
		if _, used := kb.nodes[id]; !used {
			return id
		}
		id++
	}
}

// UpdateNodePosition moves a node and notifies subscribers.
func (kb *KnowledgeBase) UpdateNodePosition(id model.NodeID, pos model.Position) error {
	return kb.update(id, EventNodeMoved, func(n *model.NodeRecord) {
		n.Position = pos
	})
}

// SetRadioRange changes a node's radio range and notifies subscribers.
func (kb *KnowledgeBase) SetRadioRange(id model.NodeID, radioRange int) error {
	if radioRange < 0 {
		return fmt.Errorf("negative radio range %d", radioRange)
	}
	return kb.update(id, EventNodeRangeChanged, func(n *model.NodeRecord) {
		n.RadioRange = radioRange
	})
}

// SetFailed marks a node's radio as failed or recovered. Setting the
// current state again is a no-op and publishes nothing.
func (kb *KnowledgeBase) SetFailed(id model.NodeID, failed bool) error {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	if n.Failed == failed {
		kb.mu.Unlock()
		return nil
	}
	n.Failed = failed
	typ := EventNodeRecovered
	if failed {
		typ = EventNodeFailed
	}
	kb.publishLocked(Event{Type: typ, Node: *n})
	return nil
}

// DeleteNode removes a node and notifies subscribers.
func (kb *KnowledgeBase) DeleteNode(id model.NodeID) error {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	delete(kb.nodes, id)
	kb.publishLocked(Event{Type: EventNodeDeleted, Node: *n})
	return nil
}

func (kb *KnowledgeBase) update(id model.NodeID, typ EventType, fn func(n *model.NodeRecord)) error {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	fn(n)
	kb.publishLocked(Event{Type: typ, Node: *n})
	return nil
}

// publishLocked releases kb.mu and then delivers ev to all subscribers.
// Subscribers are notified outside the lock so they may read the KB.
func (kb *KnowledgeBase) publishLocked(ev Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	kb.mu.Unlock()

	for _, sub := range subs {
		sub(ev)
	}
}

// Subscribe registers a callback for KB events. Callbacks run in
// subscription order. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}
