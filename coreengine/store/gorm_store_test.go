package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pescn/psy-data-gen/commbus"
	"github.com/pescn/psy-data-gen/coreengine/affect"
	"github.com/pescn/psy-data-gen/coreengine/phase"
	"github.com/pescn/psy-data-gen/coreengine/risk"
	"github.com/pescn/psy-data-gen/coreengine/session"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(DriverSQLite, filepath.Join(t.TempDir(), "nested", "psygen.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func finishedSnapshot(id string, reason session.TerminationReason, start time.Time) *session.Snapshot {
	st := session.NewState(id, phase.Introduction, affect.State{Trust: 0.3, Emotion: affect.Anxious}, start)
	st.Metadata["student"] = "小林"
	st.Metadata["counselor"] = "王老师"

	p := phase.Introduction
	_ = st.AppendTurn(session.Turn{Speaker: session.RoleStudent, Content: "我最近学习压力很大", RoundNumber: 1, Phase: &p, Emotion: affect.Anxious.Ptr(), CreatedAt: start})
	_ = st.AppendTurn(session.Turn{Speaker: session.RoleCounselor, Content: "能具体说说吗？", RoundNumber: 1, Phase: &p, CreatedAt: start})
	st.CumulativeRisk = risk.NewVector(2, 0, 0, []string{"消失"}, false, "keyword scan matched 1 indicator(s)")
	st.TransitionLog = append(st.TransitionLog, session.TransitionRecord{
		Round: 1, From: phase.Introduction, Requested: phase.Exploration.Ptr(), To: phase.Exploration, Accepted: true, At: start,
	})
	st.CurrentPhase = phase.Exploration
	st.End(reason, nil, start.Add(time.Minute))
	return st.Snapshot()
}

// =============================================================================
// OPEN
// =============================================================================

func TestOpenGormRejectsUnknownDriver(t *testing.T) {
	_, err := OpenGorm("mysql", "dsn")
	assert.Error(t, err)

	_, err = OpenGorm(DriverPostgres, "")
	assert.Error(t, err)
}

func TestSQLiteFilePath(t *testing.T) {
	tests := []struct {
		dsn  string
		path string
		ok   bool
	}{
		{"data/psygen.db", "data/psygen.db", true},
		{"data/psygen.db?_pragma=busy_timeout(5000)", "data/psygen.db", true},
		{":memory:", "", false},
		{"file::memory:?cache=shared", "", false},
		{"file:/tmp/x.db?mode=memory", "", false},
		{"file:/tmp/x.db", "/tmp/x.db", true},
		{"file:rel/x.db?cache=shared", "rel/x.db", true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			path, ok := sqliteFilePath(tt.dsn)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.path, path)
		})
	}
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := finishedSnapshot("s-1", session.ReasonMaxRounds, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	require.NoError(t, s.SaveSnapshot(ctx, want))
	got, err := s.LoadSnapshot(ctx, "s-1")
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveSnapshot(ctx, finishedSnapshot("s-1", session.ReasonError, start)))
	require.NoError(t, s.SaveSnapshot(ctx, finishedSnapshot("s-1", session.ReasonFlowControlEnd, start)))

	got, err := s.LoadSnapshot(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, session.ReasonFlowControlEnd, got.TerminationReason)

	all, err := s.ListSnapshots(ctx, commbus.SnapshotFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSaveRejectsMissingID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SaveSnapshot(context.Background(), nil))
	assert.Error(t, s.SaveSnapshot(context.Background(), &session.Snapshot{}))
}

func TestLoadMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadSnapshot(context.Background(), "nope")

	var notFound *commbus.SessionNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "nope", notFound.SessionID)
}

func TestListSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	reasons := []session.TerminationReason{
		session.ReasonMaxRounds,
		session.ReasonRiskEmergency,
		session.ReasonMaxRounds,
		session.ReasonError,
	}
	for i, r := range reasons {
		snap := finishedSnapshot(fmt.Sprintf("s-%d", i), r, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, s.SaveSnapshot(ctx, snap))
	}

	tests := []struct {
		name   string
		filter commbus.SnapshotFilter
		ids    []string
	}{
		{"all", commbus.SnapshotFilter{}, []string{"s-0", "s-1", "s-2", "s-3"}},
		{"by reason", commbus.SnapshotFilter{Reason: session.ReasonMaxRounds}, []string{"s-0", "s-2"}},
		{"limit", commbus.SnapshotFilter{Limit: 2}, []string{"s-0", "s-1"}},
		{"no match", commbus.SnapshotFilter{Reason: session.ReasonPhaseExhaustion}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListSnapshots(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, sum := range got {
				ids = append(ids, sum.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}

	got, err := s.ListSnapshots(ctx, commbus.SnapshotFilter{Reason: session.ReasonRiskEmergency})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, commbus.SnapshotSummary{
		ID:                "s-1",
		TerminationReason: session.ReasonRiskEmergency,
		Rounds:            1,
		FinalPhase:        "exploration",
		MaxRisk:           2,
	}, got[0])
}

// =============================================================================
// BUS
// =============================================================================

func TestStorePersistsFromBus(t *testing.T) {
	s := newTestStore(t)
	bus := commbus.NewInMemoryCommBus(time.Second, nil)
	require.NoError(t, s.Register(bus))
	assert.True(t, bus.HasHandler("PersistSnapshot"))

	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	snap := finishedSnapshot("from-command", session.ReasonFlowControlEnd, start)
	require.NoError(t, bus.Send(ctx, &commbus.PersistSnapshot{Snapshot: snap}))

	_, err := s.LoadSnapshot(ctx, "from-command")
	assert.NoError(t, err)

	// a second store cannot claim the same command
	assert.Error(t, newTestStore(t).Register(bus))
}

func TestHandlePersistRejectsBadMessages(t *testing.T) {
	s := newTestStore(t)

	_, err := s.HandlePersist(context.Background(), &commbus.PersistSnapshot{})
	assert.Error(t, err)

	_, err = s.HandlePersist(context.Background(), &commbus.SessionEnded{SessionID: "x"})
	assert.Error(t, err)
}
