package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pescn/psy-data-gen/commbus"
	"github.com/pescn/psy-data-gen/coreengine/session"
)

// Registry tracks the latest snapshot of every in-flight session so other
// goroutines can observe a run without touching its State. Finished sessions
// are looked up in the optional SnapshotStore.
type Registry struct {
	mu    sync.RWMutex
	live  map[string]*session.Snapshot
	store commbus.SnapshotStore
}

// NewRegistry creates a Registry. store may be nil.
func NewRegistry(store commbus.SnapshotStore) *Registry {
	return &Registry{
		live:  make(map[string]*session.Snapshot),
		store: store,
	}
}

func (r *Registry) update(snap *session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[snap.ID] = snap
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, id)
}

// Get returns a copy of the latest snapshot of a running session.
func (r *Registry) Get(id string) (*session.Snapshot, bool) {
	r.mu.RLock()
	snap, ok := r.live[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

// Running returns the IDs of in-flight sessions, sorted.
func (r *Registry) Running() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HandleSnapshotQuery answers commbus.GetSessionSnapshot.
func (r *Registry) HandleSnapshotQuery(ctx context.Context, msg commbus.Message) (any, error) {
	q, ok := msg.(*commbus.GetSessionSnapshot)
	if !ok {
		return nil, fmt.Errorf("unexpected message %s", commbus.GetMessageType(msg))
	}

	if snap, running := r.Get(q.SessionID); running {
		return &commbus.SessionSnapshotResponse{Found: true, Running: true, Snapshot: snap}, nil
	}
	if r.store == nil {
		return &commbus.SessionSnapshotResponse{Found: false}, nil
	}

	snap, err := r.store.LoadSnapshot(ctx, q.SessionID)
	if err != nil {
		var notFound *commbus.SessionNotFoundError
		if errors.As(err, &notFound) {
			return &commbus.SessionSnapshotResponse{Found: false}, nil
		}
		return nil, fmt.Errorf("load snapshot %s: %w", q.SessionID, err)
	}
	return &commbus.SessionSnapshotResponse{Found: true, Snapshot: snap}, nil
}

// HandleListQuery answers commbus.ListSessions from the store.
func (r *Registry) HandleListQuery(ctx context.Context, msg commbus.Message) (any, error) {
	q, ok := msg.(*commbus.ListSessions)
	if !ok {
		return nil, fmt.Errorf("unexpected message %s", commbus.GetMessageType(msg))
	}
	if r.store == nil {
		return []commbus.SnapshotSummary{}, nil
	}
	return r.store.ListSnapshots(ctx, q.Filter)
}

// Register installs the registry's query handlers on bus.
func (r *Registry) Register(bus commbus.CommBus) error {
	if err := bus.RegisterHandler("GetSessionSnapshot", r.HandleSnapshotQuery); err != nil {
		return err
	}
	return bus.RegisterHandler("ListSessions", r.HandleListQuery)
}
