package replay

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/mesh-simulator/internal/visualize"
	"github.com/signalsfoundry/mesh-simulator/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecorderStoresEventsWithSimTime(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec, err := NewRecorder(ctx, s, start, 42, "unit")
	require.NoError(t, err)

	rec.AddNode(1, 10, 20, 160, model.NodeTypeRouter)
	rec.AdvanceTime(2*time.Second, 1)
	rec.SetNodeRole(1, model.RoleLeader)
	rec.SetNodePartitionID(1, 0xabcd)
	rec.AdvanceTime(time.Second, 1) // never goes backwards
	rec.Send(1, model.BroadcastNodeID, &visualize.MsgInfo{Kind: visualize.MsgAdvertisement})
	rec.AdvanceTime(5*time.Second, 1)
	rec.Send(1, 2, &visualize.MsgInfo{Kind: visualize.MsgPingRequest, Lost: true})
	require.NoError(t, rec.Flush(ctx))
	assert.Equal(t, 5, rec.Written())

	got, err := s.Events(ctx, rec.SessionID(), Filter{})
	require.NoError(t, err)
	want := []Event{
		{Time: 0, Kind: KindAdd, Node: 1, X: 10, Y: 20, Value: "router range=160"},
		{Time: 2 * time.Second, Kind: KindRole, Node: 1, Value: "leader"},
		{Time: 2 * time.Second, Kind: KindPartition, Node: 1, Value: "0000abcd"},
		{Time: 2 * time.Second, Kind: KindSend, Node: 1, Peer: model.BroadcastNodeID, Value: "advertisement"},
		{Time: 5 * time.Second, Kind: KindSend, Node: 1, Peer: 2, Value: "ping_request lost"},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Event{}, "Seq")); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, rec.SessionID(), sessions[0].ID)
	assert.Equal(t, uint64(42), sessions[0].Seed)
	assert.True(t, sessions[0].StartedAt.Equal(start))
}

func TestEventsFilter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.CreateSession(ctx, time.Now(), 1, "")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, id, []Event{
		{Time: 0, Kind: KindAdd, Node: 1},
		{Time: time.Second, Kind: KindAdd, Node: 2},
		{Time: 2 * time.Second, Kind: KindMove, Node: 2, X: 5},
		{Time: 3 * time.Second, Kind: KindSend, Node: 1, Peer: 2},
		{Time: 4 * time.Second, Kind: KindDelete, Node: 1},
	}))

	tests := []struct {
		name  string
		f     Filter
		kinds []string
	}{
		{"all", Filter{}, []string{KindAdd, KindAdd, KindMove, KindSend, KindDelete}},
		{"kinds", Filter{Kinds: []string{KindAdd, KindDelete}}, []string{KindAdd, KindAdd, KindDelete}},
		{"node as peer", Filter{Node: 2}, []string{KindAdd, KindMove, KindSend}},
		{"window", Filter{From: time.Second, To: 3 * time.Second}, []string{KindAdd, KindMove}},
		{"limit", Filter{Limit: 2}, []string{KindAdd, KindAdd}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evs, err := s.Events(ctx, id, tt.f)
			require.NoError(t, err)
			var kinds []string
			for _, ev := range evs {
				kinds = append(kinds, ev.Kind)
			}
			assert.Equal(t, tt.kinds, kinds)
		})
	}
}

func TestEventsUnknownSession(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Events(context.Background(), "nope", Filter{})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "replay.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	id, err := s.CreateSession(ctx, time.Now(), 9, "first")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, id, []Event{{Kind: KindAdd, Node: 3}}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	evs, err := s.Events(ctx, id, Filter{})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, 3, evs[0].Node)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()
	rec, err := NewRecorder(ctx, s, time.Now(), 0, "")
	require.NoError(t, err)
	rec.flushAt = 2
	rec.DeleteNode(1)
	rec.DeleteNode(2)
	assert.Equal(t, 2, rec.Written())
	require.NoError(t, rec.Err())
}
