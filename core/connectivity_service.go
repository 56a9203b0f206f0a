package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/mesh-simulator/model"
)

// ConnectivityService maintains the radio connectivity graph of the
// simulation and its connected components.
//
// An undirected edge a-b exists when each node is in range of the
// other and neither radio has failed. Component labels are kept up to
// date incrementally: adding an edge merges two labels, relabelling
// the smaller side; removing an edge only marks the label dirty, and
// dirty components are split by BFS on the next query.
type ConnectivityService struct {
	mu sync.Mutex

	index  *SpatialIndex
	failed map[model.NodeID]bool
	adj    map[model.NodeID]map[model.NodeID]struct{}

	label     map[model.NodeID]int
	members   map[int]map[model.NodeID]struct{}
	dirty     map[int]bool
	nextLabel int
}

// NewConnectivityService creates an empty graph backed by a spatial
// index with the given cell size.
func NewConnectivityService(cellSize int) *ConnectivityService {
	cs := &ConnectivityService{}
	cs.resetLocked(cellSize)
	return cs
}

// Reset clears all nodes and edges so a fresh scenario can be loaded.
func (cs *ConnectivityService) Reset() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.resetLocked(cs.index.CellSize())
}

func (cs *ConnectivityService) resetLocked(cellSize int) {
	cs.index = NewSpatialIndex(cellSize)
	cs.failed = make(map[model.NodeID]bool)
	cs.adj = make(map[model.NodeID]map[model.NodeID]struct{})
	cs.label = make(map[model.NodeID]int)
	cs.members = make(map[int]map[model.NodeID]struct{})
	cs.dirty = make(map[int]bool)
	cs.nextLabel = 0
}

// AddNode inserts a node and links it to every mutually in-range peer.
func (cs *ConnectivityService) AddNode(id model.NodeID, pos model.Position, radioRange int, failed bool) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.index.Insert(id, pos, radioRange); err != nil {
		return err
	}
	cs.adj[id] = make(map[model.NodeID]struct{})
	cs.failed[id] = failed
	l := cs.newLabel()
	cs.label[id] = l
	cs.members[l] = map[model.NodeID]struct{}{id: {}}
	cs.refreshEdgesLocked(id)
	return nil
}

// RemoveNode deletes a node and all of its edges.
func (cs *ConnectivityService) RemoveNode(id model.NodeID) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.adj[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNodeUnknown, id)
	}
	for nb := range cs.adj[id] {
		cs.removeEdgeLocked(id, nb)
	}
	l := cs.label[id]
	delete(cs.members[l], id)
	if len(cs.members[l]) == 0 {
		delete(cs.members, l)
		delete(cs.dirty, l)
	}
	delete(cs.label, id)
	delete(cs.adj, id)
	delete(cs.failed, id)
	return cs.index.Remove(id)
}

// MoveNode relocates a node and re-evaluates its own edges.
func (cs *ConnectivityService) MoveNode(id model.NodeID, pos model.Position) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.index.Move(id, pos); err != nil {
		return err
	}
	cs.refreshEdgesLocked(id)
	return nil
}

// SetRadioRange changes a node's radio range and re-evaluates its edges.
func (cs *ConnectivityService) SetRadioRange(id model.NodeID, radioRange int) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.index.SetRange(id, radioRange); err != nil {
		return err
	}
	cs.refreshEdgesLocked(id)
	return nil
}

// SetFailed marks a node's radio as failed, which isolates it, or
// restores it.
func (cs *ConnectivityService) SetFailed(id model.NodeID, failed bool) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.adj[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNodeUnknown, id)
	}
	cs.failed[id] = failed
	cs.refreshEdgesLocked(id)
	return nil
}

// HasNode reports whether the graph holds the node.
func (cs *ConnectivityService) HasNode(id model.NodeID) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, ok := cs.adj[id]
	return ok
}

// Position returns a node's position.
func (cs *ConnectivityService) Position(id model.NodeID) (model.Position, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.index.Position(id)
}

// Distance returns the distance between two nodes.
func (cs *ConnectivityService) Distance(a, b model.NodeID) (float64, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	pa, okA := cs.index.Position(a)
	pb, okB := cs.index.Position(b)
	if !okA || !okB {
		return 0, false
	}
	return Distance(pa, pb), true
}

// InRange reports whether b is within a's radio range, regardless of
// b's range and of failures.
func (cs *ConnectivityService) InRange(a, b model.NodeID) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.index.InRange(a, b)
}

// Neighbors returns the ids linked to id, ascending.
func (cs *ConnectivityService) Neighbors(id model.NodeID) []model.NodeID {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return sortedKeys(cs.adj[id])
}

// Connected reports whether a direct edge a-b exists.
func (cs *ConnectivityService) Connected(a, b model.NodeID) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, ok := cs.adj[a][b]
	return ok
}

// NearestNeighbor returns the closest linked neighbor of id for which
// accept returns true. Ties resolve to the lower id. accept may be nil.
func (cs *ConnectivityService) NearestNeighbor(id model.NodeID, accept func(model.NodeID) bool) (model.NodeID, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	pos, ok := cs.index.Position(id)
	if !ok {
		return model.InvalidNodeID, false
	}
	best := model.InvalidNodeID
	var bestD int64 = -1
	for other := range cs.adj[id] {
		if accept != nil && !accept(other) {
			continue
		}
		op, _ := cs.index.Position(other)
		d := distanceSq(pos, op)
		if bestD < 0 || d < bestD || (d == bestD && other < best) {
			best, bestD = other, d
		}
	}
	return best, bestD >= 0
}

// SameComponent reports whether a and b are connected through the graph.
func (cs *ConnectivityService) SameComponent(a, b model.NodeID) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.cleanLocked()
	la, okA := cs.label[a]
	lb, okB := cs.label[b]
	return okA && okB && la == lb
}

// ComponentOf returns the members of id's component, ascending.
func (cs *ConnectivityService) ComponentOf(id model.NodeID) []model.NodeID {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.cleanLocked()
	l, ok := cs.label[id]
	if !ok {
		return nil
	}
	return sortedKeys(cs.members[l])
}

// Components returns every connected component, each sorted, and the
// list sorted by smallest member.
func (cs *ConnectivityService) Components() [][]model.NodeID {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.cleanLocked()

	res := make([][]model.NodeID, 0, len(cs.members))
	for _, m := range cs.members {
		res = append(res, sortedKeys(m))
	}
	sort.Slice(res, func(i, j int) bool { return res[i][0] < res[j][0] })
	return res
}

// NumComponents returns the number of connected components.
func (cs *ConnectivityService) NumComponents() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.cleanLocked()
	return len(cs.members)
}

// ShortestPath returns a minimum-hop path from src to dst, both
// included. Intermediate hops must satisfy via (nil allows any node).
// Among equal-length paths the one through lower ids is preferred. It
// returns nil if dst is unreachable.
func (cs *ConnectivityService) ShortestPath(src, dst model.NodeID, via func(model.NodeID) bool) []model.NodeID {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.adj[src]; !ok {
		return nil
	}
	if _, ok := cs.adj[dst]; !ok {
		return nil
	}
	if src == dst {
		return []model.NodeID{src}
	}

	prev := map[model.NodeID]model.NodeID{src: src}
	queue := []model.NodeID{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range sortedKeys(cs.adj[cur]) {
			if _, seen := prev[nb]; seen {
				continue
			}
			if nb == dst {
				prev[nb] = cur
				return buildPath(prev, src, dst)
			}
			if via != nil && !via(nb) {
				continue
			}
			prev[nb] = cur
			queue = append(queue, nb)
		}
	}
	return nil
}

func buildPath(prev map[model.NodeID]model.NodeID, src, dst model.NodeID) []model.NodeID {
	var path []model.NodeID
	for cur := dst; cur != src; cur = prev[cur] {
		path = append(path, cur)
	}
	path = append(path, src)
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// refreshEdgesLocked recomputes the edge set of id from the index.
func (cs *ConnectivityService) refreshEdgesLocked(id model.NodeID) {
	want := make(map[model.NodeID]struct{})
	if !cs.failed[id] {
		for _, nb := range cs.index.Overlapping(id) {
			if !cs.failed[nb] {
				want[nb] = struct{}{}
			}
		}
	}
	for nb := range cs.adj[id] {
		if _, keep := want[nb]; !keep {
			cs.removeEdgeLocked(id, nb)
		}
	}
	for nb := range want {
		if _, have := cs.adj[id][nb]; !have {
			cs.addEdgeLocked(id, nb)
		}
	}
}

func (cs *ConnectivityService) addEdgeLocked(a, b model.NodeID) {
	cs.adj[a][b] = struct{}{}
	cs.adj[b][a] = struct{}{}

	la, lb := cs.label[a], cs.label[b]
	if la == lb {
		return
	}
	// Relabel the smaller component into the larger one.
	if len(cs.members[la]) < len(cs.members[lb]) {
		la, lb = lb, la
	}
	for id := range cs.members[lb] {
		cs.label[id] = la
		cs.members[la][id] = struct{}{}
	}
	if cs.dirty[lb] {
		cs.dirty[la] = true
	}
	delete(cs.members, lb)
	delete(cs.dirty, lb)
}

func (cs *ConnectivityService) removeEdgeLocked(a, b model.NodeID) {
	delete(cs.adj[a], b)
	delete(cs.adj[b], a)
	cs.dirty[cs.label[a]] = true
}

// cleanLocked splits every dirty component along its current edges.
func (cs *ConnectivityService) cleanLocked() {
	for l := range cs.dirty {
		old := cs.members[l]
		delete(cs.members, l)
		visited := make(map[model.NodeID]bool, len(old))
		first := true
		for _, start := range sortedKeys(old) {
			if visited[start] {
				continue
			}
			nl := l
			if !first {
				nl = cs.newLabel()
			}
			first = false
			comp := make(map[model.NodeID]struct{})
			queue := []model.NodeID{start}
			visited[start] = true
			for len(queue) > 0 {
				cur := queue[0]
				queue = queue[1:]
				comp[cur] = struct{}{}
				cs.label[cur] = nl
				for nb := range cs.adj[cur] {
					if !visited[nb] {
						visited[nb] = true
						queue = append(queue, nb)
					}
				}
			}
			cs.members[nl] = comp
		}
	}
	clear(cs.dirty)
}

func (cs *ConnectivityService) newLabel() int {
	cs.nextLabel++
	return cs.nextLabel
}

func sortedKeys(m map[model.NodeID]struct{}) []model.NodeID {
	res := make([]model.NodeID, 0, len(m))
	for id := range m {
		res = append(res, id)
	}
	sort.Ints(res)
	return res
}
