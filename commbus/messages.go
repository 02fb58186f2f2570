// Package commbus provides CommBus Message Definitions.
//
// Categories:
//   - EVENT: Fire-and-forget, fan-out to subscribers
//   - QUERY: Request-response, single handler
//   - COMMAND: Fire-and-forget, single handler
package commbus

import (
	"github.com/pescn/psy-data-gen/coreengine/session"
)

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents fire-and-forget, single handler.
	MessageCategoryCommand MessageCategory = "command"
)

// =============================================================================
// SESSION LIFECYCLE EVENTS
// =============================================================================

// SessionStarted is emitted when a session begins.
type SessionStarted struct {
	SessionID string `json:"session_id"`
	Student   string `json:"student"`
	Counselor string `json:"counselor"`
	Seed      int64  `json:"seed"`
}

// Category implements the Message interface.
func (m *SessionStarted) Category() string { return string(MessageCategoryEvent) }

// SessionEnded is emitted once when a session becomes terminal.
// Subscribers: storage, metrics, CLI progress.
type SessionEnded struct {
	SessionID  string                    `json:"session_id"`
	Reason     session.TerminationReason `json:"reason"`
	Rounds     int                       `json:"rounds"`
	FinalPhase string                    `json:"final_phase"`
	DurationMS int                       `json:"duration_ms"`
	Error      *string                   `json:"error,omitempty"`
	Snapshot   *session.Snapshot         `json:"-"`
}

// Category implements the Message interface.
func (m *SessionEnded) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// ROUND EVENTS
// =============================================================================

// TurnAppended is emitted for every utterance added to the history.
type TurnAppended struct {
	SessionID string       `json:"session_id"`
	Turn      session.Turn `json:"turn"`
}

// Category implements the Message interface.
func (m *TurnAppended) Category() string { return string(MessageCategoryEvent) }

// RoundEvaluated is emitted after the evaluator reported on a round.
type RoundEvaluated struct {
	SessionID  string                   `json:"session_id"`
	Evaluation session.EvaluationRecord `json:"evaluation"`
	MergedRisk int                      `json:"merged_risk"`
}

// Category implements the Message interface.
func (m *RoundEvaluated) Category() string { return string(MessageCategoryEvent) }

// PhaseTransitionApplied is emitted when a requested transition was accepted.
type PhaseTransitionApplied struct {
	SessionID string                   `json:"session_id"`
	Record    session.TransitionRecord `json:"record"`
}

// Category implements the Message interface.
func (m *PhaseTransitionApplied) Category() string { return string(MessageCategoryEvent) }

// PhaseTransitionRejected is emitted when a requested transition was illegal.
type PhaseTransitionRejected struct {
	SessionID string                   `json:"session_id"`
	Record    session.TransitionRecord `json:"record"`
}

// Category implements the Message interface.
func (m *PhaseTransitionRejected) Category() string { return string(MessageCategoryEvent) }

// RiskEmergencyRaised is emitted when merged risk crosses the threshold.
type RiskEmergencyRaised struct {
	SessionID string             `json:"session_id"`
	Round     int                `json:"round"`
	Threshold int                `json:"threshold"`
	Record    session.RiskRecord `json:"record"`
}

// Category implements the Message interface.
func (m *RiskEmergencyRaised) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// QUERIES
// =============================================================================

// GetSessionSnapshot asks for the current snapshot of an in-flight or stored
// session.
type GetSessionSnapshot struct {
	SessionID string `json:"session_id"`
}

// Category implements the Message interface.
func (m *GetSessionSnapshot) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetSessionSnapshot) IsQuery() {}

// SessionSnapshotResponse answers GetSessionSnapshot.
type SessionSnapshotResponse struct {
	Found    bool              `json:"found"`
	Running  bool              `json:"running"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
}

// ListSessions asks for stored session summaries.
type ListSessions struct {
	Filter SnapshotFilter `json:"filter"`
}

// Category implements the Message interface.
func (m *ListSessions) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *ListSessions) IsQuery() {}

// =============================================================================
// COMMANDS
// =============================================================================

// PersistSnapshot asks the storage handler to save a snapshot.
type PersistSnapshot struct {
	Snapshot *session.Snapshot `json:"-"`
}

// Category implements the Message interface.
func (m *PersistSnapshot) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// MESSAGE TYPE RESOLUTION
// =============================================================================

// TypedMessage is an optional interface for messages that can provide their own type name.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	// First check if the message can provide its own type
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	switch msg.(type) {
	case *SessionStarted:
		return "SessionStarted"
	case *SessionEnded:
		return "SessionEnded"
	case *TurnAppended:
		return "TurnAppended"
	case *RoundEvaluated:
		return "RoundEvaluated"
	case *PhaseTransitionApplied:
		return "PhaseTransitionApplied"
	case *PhaseTransitionRejected:
		return "PhaseTransitionRejected"
	case *RiskEmergencyRaised:
		return "RiskEmergencyRaised"
	case *GetSessionSnapshot:
		return "GetSessionSnapshot"
	case *ListSessions:
		return "ListSessions"
	case *PersistSnapshot:
		return "PersistSnapshot"
	default:
		return "Unknown"
	}
}
