package kb

import (
	"errors"
	"sync"
	"testing"

	"github.com/signalsfoundry/mesh-simulator/model"
)

func TestAddAndGetNode(t *testing.T) {
	store := NewKnowledgeBase()
	n := &model.NodeRecord{
		ID:         1,
		Type:       model.NodeTypeRouter,
		Position:   model.Position{X: 10, Y: 20},
		RadioRange: 100,
	}
	if err := store.AddNode(n); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}
	got := store.GetNode(1)
	if got == nil || got.Position != n.Position {
		t.Fatalf("GetNode returned %#v, want position %v", got, n.Position)
	}

	// The returned record is a copy.
	got.Position.X = 99
	if again := store.GetNode(1); again.Position.X != 10 {
		t.Fatalf("GetNode leaked internal state: X=%d", again.Position.X)
	}
}

func TestAddNodeDuplicate(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(&model.NodeRecord{ID: 1}); err != nil {
		t.Fatalf("first AddNode error: %v", err)
	}
	err := store.AddNode(&model.NodeRecord{ID: 1})
	if !errors.Is(err, ErrNodeExists) {
		t.Fatalf("duplicate AddNode err = %v, want ErrNodeExists", err)
	}
}

func TestAddNodeRejectsInvalidID(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(&model.NodeRecord{ID: 0}); err == nil {
		t.Fatalf("expected AddNode with id 0 to fail")
	}
	if err := store.AddNode(nil); err == nil {
		t.Fatalf("expected AddNode(nil) to fail")
	}
}

func TestListNodesSortedAndNextFreeID(t *testing.T) {
	store := NewKnowledgeBase()
	for _, id := range []model.NodeID{3, 1, 4} {
		if err := store.AddNode(&model.NodeRecord{ID: id}); err != nil {
			t.Fatalf("AddNode(%d) error: %v", id, err)
		}
	}

	nodes := store.ListNodes()
	if len(nodes) != 3 {
		t.Fatalf("ListNodes len=%d, want 3", len(nodes))
	}
	for i, want := range []model.NodeID{1, 3, 4} {
		if nodes[i].ID != want {
			t.Fatalf("ListNodes[%d].ID = %d, want %d", i, nodes[i].ID, want)
		}
	}
	if got := store.NextFreeID(); got != 2 {
		t.Fatalf("NextFreeID = %d, want 2", got)
	}
}

func TestUpdateNodePositionAndSubscribe(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(&model.NodeRecord{ID: 1}); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}

	var got []Event
	unsubscribe := store.Subscribe(func(e Event) {
		got = append(got, e)
	})

	pos := model.Position{X: 1, Y: 2}
	if err := store.UpdateNodePosition(1, pos); err != nil {
		t.Fatalf("UpdateNodePosition error: %v", err)
	}
	if len(got) != 1 || got[0].Type != EventNodeMoved {
		t.Fatalf("events = %#v, want one EventNodeMoved", got)
	}
	if got[0].Node.Position != pos {
		t.Fatalf("event node position = %#v, want %#v", got[0].Node.Position, pos)
	}

	unsubscribe()
	if err := store.UpdateNodePosition(1, model.Position{}); err != nil {
		t.Fatalf("UpdateNodePosition error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("received %d events after unsubscribe, want 1", len(got))
	}
}

func TestSetFailedPublishesOnlyOnChange(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(&model.NodeRecord{ID: 7}); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}
	var types []EventType
	store.Subscribe(func(e Event) { types = append(types, e.Type) })

	for _, failed := range []bool{true, true, false} {
		if err := store.SetFailed(7, failed); err != nil {
			t.Fatalf("SetFailed(%v) error: %v", failed, err)
		}
	}
	if len(types) != 2 || types[0] != EventNodeFailed || types[1] != EventNodeRecovered {
		t.Fatalf("event types = %v, want [failed recovered]", types)
	}
}

func TestDeleteNode(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(&model.NodeRecord{ID: 2}); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}
	var deleted model.NodeID
	store.Subscribe(func(e Event) {
		if e.Type == EventNodeDeleted {
			deleted = e.Node.ID
		}
	})
	if err := store.DeleteNode(2); err != nil {
		t.Fatalf("DeleteNode error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted event for node %d, want 2", deleted)
	}
	if err := store.DeleteNode(2); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("second DeleteNode err = %v, want ErrNodeNotFound", err)
	}
	if err := store.SetRadioRange(2, 10); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("SetRadioRange on deleted node err = %v, want ErrNodeNotFound", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(&model.NodeRecord{ID: 1}); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}

	var wg sync.WaitGroup
	// Concurrent readers/writers
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.GetNode(1)
			_ = store.ListNodes()
		}()
		go func() {
			defer wg.Done()
			_ = store.UpdateNodePosition(1, model.Position{X: i})
		}()
	}
	wg.Wait()
}
