package core

import (
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/mesh-simulator/model"
)

var (
	// ErrNodeUnknown is returned when an operation names a node the
	// index does not hold.
	ErrNodeUnknown = errors.New("unknown node")
	// ErrNodeDuplicate is returned when inserting an id twice.
	ErrNodeDuplicate = errors.New("duplicate node")
)

// DefaultCellSize is the grid cell edge length used when none is given.
const DefaultCellSize = 100

type cellKey struct {
	cx, cy int
}

type spatialEntry struct {
	pos  model.Position
	rng  int
	cell cellKey
}

// SpatialIndex is a uniform grid hash over node positions. Each node
// carries its own radio range, so range checks are directional: a
// node b is in range of a when dist(a, b) <= range(a).
//
// SpatialIndex is not safe for concurrent use.
type SpatialIndex struct {
	cellSize int
	cells    map[cellKey]map[model.NodeID]struct{}
	entries  map[model.NodeID]*spatialEntry
}

// NewSpatialIndex creates an empty index. A non-positive cellSize
// selects DefaultCellSize.
func NewSpatialIndex(cellSize int) *SpatialIndex {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &SpatialIndex{
		cellSize: cellSize,
		cells:    make(map[cellKey]map[model.NodeID]struct{}),
		entries:  make(map[model.NodeID]*spatialEntry),
	}
}

// CellSize returns the grid cell edge length.
func (s *SpatialIndex) CellSize() int { return s.cellSize }

// Len returns the number of indexed nodes.
func (s *SpatialIndex) Len() int { return len(s.entries) }

func (s *SpatialIndex) cellOf(p model.Position) cellKey {
	return cellKey{cx: floorDiv(p.X, s.cellSize), cy: floorDiv(p.Y, s.cellSize)}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Insert adds a node at pos with radio range rng.
func (s *SpatialIndex) Insert(id model.NodeID, pos model.Position, rng int) error {
	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("%w: %d", ErrNodeDuplicate, id)
	}
	if rng < 0 {
		return fmt.Errorf("negative radio range %d for node %d", rng, id)
	}
	e := &spatialEntry{pos: pos, rng: rng, cell: s.cellOf(pos)}
	s.entries[id] = e
	s.addToCell(e.cell, id)
	return nil
}

// Move relocates a node.
func (s *SpatialIndex) Move(id model.NodeID, pos model.Position) error {
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeUnknown, id)
	}
	e.pos = pos
	if c := s.cellOf(pos); c != e.cell {
		s.removeFromCell(e.cell, id)
		e.cell = c
		s.addToCell(c, id)
	}
	return nil
}

// SetRange changes a node's radio range.
func (s *SpatialIndex) SetRange(id model.NodeID, rng int) error {
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeUnknown, id)
	}
	if rng < 0 {
		return fmt.Errorf("negative radio range %d for node %d", rng, id)
	}
	e.rng = rng
	return nil
}

// Remove deletes a node from the index.
func (s *SpatialIndex) Remove(id model.NodeID) error {
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeUnknown, id)
	}
	s.removeFromCell(e.cell, id)
	delete(s.entries, id)
	return nil
}

// Position returns the indexed position of a node.
func (s *SpatialIndex) Position(id model.NodeID) (model.Position, bool) {
	e, ok := s.entries[id]
	if !ok {
		return model.Position{}, false
	}
	return e.pos, true
}

// Range returns the radio range of a node.
func (s *SpatialIndex) Range(id model.NodeID) (int, bool) {
	e, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	return e.rng, true
}

// InRange reports whether b can hear a, i.e. dist(a, b) <= range(a).
// Unknown nodes are never in range.
func (s *SpatialIndex) InRange(a, b model.NodeID) bool {
	ea, ok := s.entries[a]
	if !ok {
		return false
	}
	eb, ok := s.entries[b]
	if !ok {
		return false
	}
	return withinRange(ea.pos, eb.pos, ea.rng)
}

// QueryRadius returns the ids of all nodes within r of pos, in
// ascending order.
func (s *SpatialIndex) QueryRadius(pos model.Position, r int) []model.NodeID {
	if r < 0 {
		return nil
	}
	var res []model.NodeID
	s.visitRadius(pos, r, func(id model.NodeID, e *spatialEntry) {
		if withinRange(pos, e.pos, r) {
			res = append(res, id)
		}
	})
	sort.Ints(res)
	return res
}

// Overlapping returns the nodes b != id where id and b are each in
// range of the other, in ascending order.
func (s *SpatialIndex) Overlapping(id model.NodeID) []model.NodeID {
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	var res []model.NodeID
	s.visitRadius(e.pos, e.rng, func(other model.NodeID, oe *spatialEntry) {
		if other == id {
			return
		}
		if withinRange(e.pos, oe.pos, e.rng) && withinRange(oe.pos, e.pos, oe.rng) {
			res = append(res, other)
		}
	})
	sort.Ints(res)
	return res
}

// Nearest returns the node closest to pos for which skip returns
// false. Ties resolve to the lower id. skip may be nil.
//
// Rings of cells are searched outwards from pos until the best match
// is provably closest or the rings cover every occupied cell. Once the
// rings have visited more cells than are occupied, the remaining nodes
// are scanned directly.
func (s *SpatialIndex) Nearest(pos model.Position, skip func(model.NodeID) bool) (model.NodeID, bool) {
	if len(s.entries) == 0 {
		return model.InvalidNodeID, false
	}
	center := s.cellOf(pos)
	lo, hi := s.occupiedBounds()
	maxRing := max(center.cx-lo.cx, hi.cx-center.cx, center.cy-lo.cy, hi.cy-center.cy)

	best := model.InvalidNodeID
	var bestD int64 = -1
	consider := func(id model.NodeID, e *spatialEntry) {
		if skip != nil && skip(id) {
			return
		}
		d := distanceSq(pos, e.pos)
		if bestD < 0 || d < bestD || (d == bestD && id < best) {
			best, bestD = id, d
		}
	}
	considerCell := func(c cellKey) {
		for id := range s.cells[c] {
			consider(id, s.entries[id])
		}
	}

	visited := 0
	for k := 0; k <= maxRing; k++ {
		if visited > len(s.cells) {
			// Sparse plane: a full scan is cheaper than more rings.
			best, bestD = model.InvalidNodeID, -1
			for id, e := range s.entries {
				consider(id, e)
			}
			break
		}
		if k == 0 {
			considerCell(center)
			visited++
		} else {
			for dx := -k; dx <= k; dx++ {
				considerCell(cellKey{center.cx + dx, center.cy - k})
				considerCell(cellKey{center.cx + dx, center.cy + k})
			}
			for dy := -k + 1; dy <= k-1; dy++ {
				considerCell(cellKey{center.cx - k, center.cy + dy})
				considerCell(cellKey{center.cx + k, center.cy + dy})
			}
			visited += 8 * k
		}
		// Cells in ring k+1 are at least k*cellSize away.
		bound := int64(k) * int64(s.cellSize)
		if bestD >= 0 && bestD < bound*bound {
			break
		}
	}
	return best, bestD >= 0
}

// occupiedBounds returns the corners of the bounding box of all
// occupied cells.
func (s *SpatialIndex) occupiedBounds() (lo, hi cellKey) {
	first := true
	for c := range s.cells {
		if first {
			lo, hi, first = c, c, false
			continue
		}
		lo.cx, lo.cy = min(lo.cx, c.cx), min(lo.cy, c.cy)
		hi.cx, hi.cy = max(hi.cx, c.cx), max(hi.cy, c.cy)
	}
	return lo, hi
}

// visitRadius calls fn for every node in a cell that may intersect
// the disc (pos, r). It walks whichever is smaller: the bounding
// cells of the disc or the set of occupied cells.
func (s *SpatialIndex) visitRadius(pos model.Position, r int, fn func(model.NodeID, *spatialEntry)) {
	lo := s.cellOf(model.Position{X: pos.X - r, Y: pos.Y - r})
	hi := s.cellOf(model.Position{X: pos.X + r, Y: pos.Y + r})
	span := int64(hi.cx-lo.cx+1) * int64(hi.cy-lo.cy+1)

	if span > int64(len(s.cells)) {
		for c, ids := range s.cells {
			if c.cx < lo.cx || c.cx > hi.cx || c.cy < lo.cy || c.cy > hi.cy {
				continue
			}
			for id := range ids {
				fn(id, s.entries[id])
			}
		}
		return
	}
	for cx := lo.cx; cx <= hi.cx; cx++ {
		for cy := lo.cy; cy <= hi.cy; cy++ {
			for id := range s.cells[cellKey{cx, cy}] {
				fn(id, s.entries[id])
			}
		}
	}
}

func (s *SpatialIndex) addToCell(c cellKey, id model.NodeID) {
	ids := s.cells[c]
	if ids == nil {
		ids = make(map[model.NodeID]struct{})
		s.cells[c] = ids
	}
	ids[id] = struct{}{}
}

func (s *SpatialIndex) removeFromCell(c cellKey, id model.NodeID) {
	ids := s.cells[c]
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.cells, c)
	}
}
