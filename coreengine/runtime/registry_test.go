package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pescn/psy-data-gen/commbus"
	"github.com/pescn/psy-data-gen/coreengine/affect"
	"github.com/pescn/psy-data-gen/coreengine/phase"
	"github.com/pescn/psy-data-gen/coreengine/session"
)

// memoryStore is a map-backed commbus.SnapshotStore.
type memoryStore struct {
	snaps map[string]*session.Snapshot
	err   error
}

func (m *memoryStore) SaveSnapshot(_ context.Context, snap *session.Snapshot) error {
	m.snaps[snap.ID] = snap
	return nil
}

func (m *memoryStore) LoadSnapshot(_ context.Context, id string) (*session.Snapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	snap, ok := m.snaps[id]
	if !ok {
		return nil, commbus.NewSessionNotFoundError(id)
	}
	return snap, nil
}

func (m *memoryStore) ListSnapshots(_ context.Context, filter commbus.SnapshotFilter) ([]commbus.SnapshotSummary, error) {
	var out []commbus.SnapshotSummary
	for _, s := range m.snaps {
		if filter.Reason != "" && s.TerminationReason != filter.Reason {
			continue
		}
		out = append(out, commbus.SnapshotSummary{ID: s.ID, TerminationReason: s.TerminationReason, Rounds: s.CurrentRound})
	}
	return out, nil
}

func newSnapshot(id string) *session.Snapshot {
	st := session.NewState(id, phase.Introduction, affect.State{Emotion: affect.Calm}, time.Now())
	return st.Snapshot()
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry(nil)
	r.update(newSnapshot("a"))

	got, ok := r.Get("a")
	require.True(t, ok)
	got.CurrentRound = 99

	again, _ := r.Get("a")
	assert.Equal(t, 1, again.CurrentRound)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryRunning(t *testing.T) {
	r := NewRegistry(nil)
	r.update(newSnapshot("b"))
	r.update(newSnapshot("a"))
	assert.Equal(t, []string{"a", "b"}, r.Running())

	r.remove("a")
	assert.Equal(t, []string{"b"}, r.Running())
}

func TestRegistrySnapshotQuery(t *testing.T) {
	stored := newSnapshot("done")
	stored.Terminal = true
	stored.TerminationReason = session.ReasonMaxRounds
	store := &memoryStore{snaps: map[string]*session.Snapshot{"done": stored}}

	r := NewRegistry(store)
	r.update(newSnapshot("live"))
	bus := commbus.NewInMemoryCommBus(time.Second, nil)
	require.NoError(t, r.Register(bus))

	tests := []struct {
		name    string
		id      string
		found   bool
		running bool
	}{
		{"running session", "live", true, true},
		{"stored session", "done", true, false},
		{"unknown session", "nope", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := bus.QuerySync(context.Background(), &commbus.GetSessionSnapshot{SessionID: tt.id})
			require.NoError(t, err)
			got := resp.(*commbus.SessionSnapshotResponse)
			assert.Equal(t, tt.found, got.Found)
			assert.Equal(t, tt.running, got.Running)
			if tt.found {
				assert.Equal(t, tt.id, got.Snapshot.ID)
			}
		})
	}
}

func TestRegistrySnapshotQueryStoreError(t *testing.T) {
	r := NewRegistry(&memoryStore{err: errors.New("disk full")})

	_, err := r.HandleSnapshotQuery(context.Background(), &commbus.GetSessionSnapshot{SessionID: "x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRegistryListQuery(t *testing.T) {
	done := newSnapshot("done")
	done.TerminationReason = session.ReasonRiskEmergency
	r := NewRegistry(&memoryStore{snaps: map[string]*session.Snapshot{"done": done}})

	resp, err := r.HandleListQuery(context.Background(), &commbus.ListSessions{
		Filter: commbus.SnapshotFilter{Reason: session.ReasonRiskEmergency},
	})
	require.NoError(t, err)
	assert.Len(t, resp.([]commbus.SnapshotSummary), 1)

	empty, err := NewRegistry(nil).HandleListQuery(context.Background(), &commbus.ListSessions{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRegistryRejectsWrongMessage(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.HandleSnapshotQuery(context.Background(), &commbus.ListSessions{})
	assert.Error(t, err)
}
