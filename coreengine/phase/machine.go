package phase

import "fmt"

// Decision is the outcome of a transition request.
type Decision struct {
	From      Phase  `json:"from"`
	Requested *Phase `json:"requested,omitempty"`
	// Phase is the phase the session is in after the decision.
	Phase    Phase  `json:"phase"`
	Accepted bool   `json:"accepted"`
	Terminal bool   `json:"terminal"`
	Reason   string `json:"reason,omitempty"`
}

// StateMachine validates and applies phase transitions against a Graph.
// It holds no session state and is safe for concurrent use.
type StateMachine struct {
	graph Graph
}

// NewStateMachine creates a StateMachine over g.
func NewStateMachine(g Graph) (*StateMachine, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid phase graph: %w", err)
	}
	return &StateMachine{graph: g.Clone()}, nil
}

// NewDefaultStateMachine creates a StateMachine over DefaultGraph.
func NewDefaultStateMachine() *StateMachine {
	return &StateMachine{graph: DefaultGraph()}
}

// Initial returns the entry phase of the graph.
func (m *StateMachine) Initial() Phase {
	if roots := m.graph.roots(); len(roots) > 0 {
		return roots[0]
	}
	return Introduction
}

// ValidTransitions returns the phases reachable in one step from p.
func (m *StateMachine) ValidTransitions(p Phase) []Phase {
	return append([]Phase(nil), m.graph[p]...)
}

// IsTerminal reports whether p has no successors.
func (m *StateMachine) IsTerminal(p Phase) bool {
	return len(m.graph[p]) == 0
}

// CanTransition reports whether from → to is an edge of the graph.
func (m *StateMachine) CanTransition(from, to Phase) bool {
	for _, t := range m.graph[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Apply resolves a transition request. A nil request is an end signal and is
// always accepted as terminal. An illegal request leaves the phase unchanged.
func (m *StateMachine) Apply(current Phase, requested *Phase) Decision {
	d := Decision{From: current, Phase: current}
	if requested == nil {
		d.Accepted = true
		d.Terminal = true
		return d
	}

	req := *requested
	d.Requested = &req
	if m.CanTransition(current, req) {
		d.Phase = req
		d.Accepted = true
		return d
	}

	d.Reason = fmt.Sprintf("illegal transition: %s cannot reach %s", current, req)
	return d
}
