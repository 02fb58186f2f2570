package session

import (
	"encoding/json"
	"fmt"

	"github.com/pescn/psy-data-gen/coreengine/phase"
)

// Snapshot is a point-in-time copy of a session State. Nothing in the engine
// mutates a Snapshot after it is handed out.
type Snapshot State

// Rounds returns the number of rounds the session reached.
func (s *Snapshot) Rounds() int {
	return s.CurrentRound
}

// PhaseSequence returns the phases the session has been in, in order.
func (s *Snapshot) PhaseSequence() []phase.Phase {
	st := State(*s)
	return st.PhaseSequence()
}

// Export renders the snapshot as an indented JSON document.
func (s *Snapshot) Export() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export session %s: %w", s.ID, err)
	}
	return data, nil
}

// Import decodes a document produced by Export.
func Import(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("import session: %w", err)
	}
	if snap.ID == "" {
		return nil, fmt.Errorf("import session: missing id")
	}
	return &snap, nil
}

// Restore rebuilds a mutable State from a snapshot. The snapshot is not shared
// with the returned state.
func Restore(s *Snapshot) *State {
	st := State(*s)
	c := st.clone()
	if c.History == nil {
		c.History = []Turn{}
	}
	return c
}

// Clone returns an independent deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	return Restore(s).Snapshot()
}
