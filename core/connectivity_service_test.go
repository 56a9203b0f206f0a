package core

import (
	"math/rand/v2"
	"reflect"
	"testing"
	"time"

	"github.com/signalsfoundry/mesh-simulator/model"
)

func addNodes(t *testing.T, cs *ConnectivityService, positions ...model.Position) {
	t.Helper()
	for i, p := range positions {
		if err := cs.AddNode(i+1, p, 100, false); err != nil {
			t.Fatalf("AddNode(%d) error: %v", i+1, err)
		}
	}
}

// line builds 1-2-3-...-n spaced 80 apart with range 100.
func line(n int) []model.Position {
	res := make([]model.Position, n)
	for i := range res {
		res[i] = model.Position{X: i * 80}
	}
	return res
}

func TestConnectivityLineIsOneComponent(t *testing.T) {
	cs := NewConnectivityService(50)
	addNodes(t, cs, line(4)...)

	if got := cs.Neighbors(2); !reflect.DeepEqual(got, []model.NodeID{1, 3}) {
		t.Fatalf("Neighbors(2) = %v, want [1 3]", got)
	}
	if !cs.Connected(1, 2) || cs.Connected(1, 3) {
		t.Fatalf("unexpected direct edges")
	}
	if !cs.SameComponent(1, 4) {
		t.Fatalf("expected 1 and 4 in the same component")
	}
	if n := cs.NumComponents(); n != 1 {
		t.Fatalf("NumComponents = %d, want 1", n)
	}
}

func TestConnectivityMoveSplitsAndMerges(t *testing.T) {
	cs := NewConnectivityService(50)
	addNodes(t, cs, line(4)...)

	if err := cs.MoveNode(2, model.Position{X: 80, Y: 1000}); err != nil {
		t.Fatalf("MoveNode error: %v", err)
	}
	want := [][]model.NodeID{{1}, {2}, {3, 4}}
	if got := cs.Components(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Components after split = %v, want %v", got, want)
	}
	if cs.SameComponent(1, 3) {
		t.Fatalf("expected 1 and 3 to be split")
	}

	if err := cs.MoveNode(2, model.Position{X: 80}); err != nil {
		t.Fatalf("MoveNode error: %v", err)
	}
	if got := cs.Components(); !reflect.DeepEqual(got, [][]model.NodeID{{1, 2, 3, 4}}) {
		t.Fatalf("Components after merge = %v", got)
	}
}

func TestConnectivityRequiresMutualRange(t *testing.T) {
	cs := NewConnectivityService(0)
	if err := cs.AddNode(1, model.Position{}, 300, false); err != nil {
		t.Fatal(err)
	}
	if err := cs.AddNode(2, model.Position{X: 200}, 100, false); err != nil {
		t.Fatal(err)
	}
	if cs.Connected(1, 2) {
		t.Fatalf("one-way range must not create an edge")
	}
	if !cs.InRange(1, 2) || cs.InRange(2, 1) {
		t.Fatalf("InRange should be directional")
	}
	if err := cs.SetRadioRange(2, 200); err != nil {
		t.Fatal(err)
	}
	if !cs.Connected(1, 2) {
		t.Fatalf("expected edge after raising range")
	}
}

func TestConnectivityFailedNodeIsIsolated(t *testing.T) {
	cs := NewConnectivityService(50)
	addNodes(t, cs, line(3)...)

	if err := cs.SetFailed(2, true); err != nil {
		t.Fatal(err)
	}
	if got := cs.Neighbors(2); len(got) != 0 {
		t.Fatalf("failed node has neighbors %v", got)
	}
	if cs.SameComponent(1, 3) {
		t.Fatalf("failed relay must split the line")
	}
	if got := cs.ComponentOf(2); !reflect.DeepEqual(got, []model.NodeID{2}) {
		t.Fatalf("ComponentOf(2) = %v, want [2]", got)
	}

	if err := cs.SetFailed(2, false); err != nil {
		t.Fatal(err)
	}
	if !cs.SameComponent(1, 3) {
		t.Fatalf("recovered relay must rejoin the line")
	}
}

func TestConnectivityRemoveNode(t *testing.T) {
	cs := NewConnectivityService(50)
	addNodes(t, cs, line(3)...)
	if err := cs.RemoveNode(2); err != nil {
		t.Fatal(err)
	}
	if cs.HasNode(2) {
		t.Fatalf("node 2 still present")
	}
	if got := cs.Components(); !reflect.DeepEqual(got, [][]model.NodeID{{1}, {3}}) {
		t.Fatalf("Components = %v", got)
	}
	if err := cs.RemoveNode(2); err == nil {
		t.Fatalf("expected error removing unknown node")
	}
}

func TestShortestPathWithFilter(t *testing.T) {
	cs := NewConnectivityService(50)
	// 1 - 2 - 4
	//  \- 3 -/
	addNodes(t, cs,
		model.Position{X: 0, Y: 0},
		model.Position{X: 70, Y: 50},
		model.Position{X: 70, Y: -50},
		model.Position{X: 140, Y: 0},
	)

	if got := cs.ShortestPath(1, 4, nil); !reflect.DeepEqual(got, []model.NodeID{1, 2, 4}) {
		t.Fatalf("ShortestPath = %v, want [1 2 4]", got)
	}
	noTwo := func(id model.NodeID) bool { return id != 2 }
	if got := cs.ShortestPath(1, 4, noTwo); !reflect.DeepEqual(got, []model.NodeID{1, 3, 4}) {
		t.Fatalf("ShortestPath avoiding 2 = %v, want [1 3 4]", got)
	}
	none := func(model.NodeID) bool { return false }
	if got := cs.ShortestPath(1, 4, none); got != nil {
		t.Fatalf("ShortestPath with no relays = %v, want nil", got)
	}
	if got := cs.ShortestPath(1, 2, none); !reflect.DeepEqual(got, []model.NodeID{1, 2}) {
		t.Fatalf("direct neighbor path = %v", got)
	}
	if got := cs.ShortestPath(3, 3, nil); !reflect.DeepEqual(got, []model.NodeID{3}) {
		t.Fatalf("self path = %v", got)
	}
}

func TestNearestNeighbor(t *testing.T) {
	cs := NewConnectivityService(50)
	addNodes(t, cs,
		model.Position{X: 0, Y: 0},
		model.Position{X: 90, Y: 0},
		model.Position{X: 30, Y: 0},
		model.Position{X: 20, Y: 0},
	)
	id, ok := cs.NearestNeighbor(1, nil)
	if !ok || id != 4 {
		t.Fatalf("NearestNeighbor = %d,%v, want 4", id, ok)
	}
	id, ok = cs.NearestNeighbor(1, func(id model.NodeID) bool { return id == 2 })
	if !ok || id != 2 {
		t.Fatalf("NearestNeighbor filtered = %d,%v, want 2", id, ok)
	}
}

func TestNearestNeighborIgnoresDistantNodes(t *testing.T) {
	cs := NewConnectivityService(10)
	addNodes(t, cs,
		model.Position{X: 0, Y: 0},
		model.Position{X: 50, Y: 0},
		model.Position{X: 2_000_000, Y: 0},
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if id, ok := cs.NearestNeighbor(2, func(model.NodeID) bool { return false }); ok {
			t.Errorf("NearestNeighbor rejecting all = %d, want none", id)
		}
		if id, ok := cs.NearestNeighbor(2, nil); !ok || id != 1 {
			t.Errorf("NearestNeighbor = %d,%v, want 1", id, ok)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("NearestNeighbor did not return")
	}
}

// Incremental labels must match a from-scratch BFS after random churn.
func TestComponentsMatchRecomputation(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	cs := NewConnectivityService(64)
	alive := map[model.NodeID]bool{}
	for id := 1; id <= 60; id++ {
		p := model.Position{X: rng.IntN(800), Y: rng.IntN(800)}
		if err := cs.AddNode(id, p, 120, false); err != nil {
			t.Fatal(err)
		}
		alive[id] = true
	}

	for step := 0; step < 300; step++ {
		id := 1 + rng.IntN(60)
		switch op := rng.IntN(10); {
		case op < 6:
			if alive[id] {
				_ = cs.MoveNode(id, model.Position{X: rng.IntN(800), Y: rng.IntN(800)})
			}
		case op < 8:
			if alive[id] {
				_ = cs.SetFailed(id, rng.IntN(2) == 0)
			}
		case op < 9:
			if alive[id] {
				_ = cs.RemoveNode(id)
				alive[id] = false
			}
		default:
			if !alive[id] {
				_ = cs.AddNode(id, model.Position{X: rng.IntN(800), Y: rng.IntN(800)}, 120, false)
				alive[id] = true
			}
		}

		if step%25 != 0 {
			continue
		}
		got := cs.Components()
		want := bruteComponents(cs, alive)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("step %d: Components = %v, want %v", step, got, want)
		}
	}
}

func bruteComponents(cs *ConnectivityService, alive map[model.NodeID]bool) [][]model.NodeID {
	seen := map[model.NodeID]bool{}
	var res [][]model.NodeID
	for id := 1; id <= 60; id++ {
		if !alive[id] || seen[id] {
			continue
		}
		comp := map[model.NodeID]struct{}{}
		queue := []model.NodeID{id}
		seen[id] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			comp[cur] = struct{}{}
			for _, nb := range cs.Neighbors(cur) {
				if !seen[nb] {
					seen[nb] = true
					queue = append(queue, nb)
				}
			}
		}
		res = append(res, sortedKeys(comp))
	}
	return res
}
