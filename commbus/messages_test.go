package commbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pescn/psy-data-gen/coreengine/affect"
)

func defaultAffect() affect.State {
	return affect.State{Trust: 0.1, Openness: 0.2, Emotion: affect.Anxious}
}

// =============================================================================
// CATEGORY TESTS
// =============================================================================

func TestMessageCategories(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		category string
	}{
		{"session started", &SessionStarted{}, "event"},
		{"session ended", &SessionEnded{}, "event"},
		{"turn appended", &TurnAppended{}, "event"},
		{"round evaluated", &RoundEvaluated{}, "event"},
		{"transition applied", &PhaseTransitionApplied{}, "event"},
		{"transition rejected", &PhaseTransitionRejected{}, "event"},
		{"risk emergency", &RiskEmergencyRaised{}, "event"},
		{"snapshot query", &GetSessionSnapshot{}, "query"},
		{"list query", &ListSessions{}, "query"},
		{"persist command", &PersistSnapshot{}, "command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.msg.Category())
		})
	}
}

// =============================================================================
// TYPE RESOLUTION TESTS
// =============================================================================

type customMessage struct{}

func (customMessage) Category() string    { return "event" }
func (customMessage) MessageType() string { return "Custom" }

type untypedMessage struct{}

func (untypedMessage) Category() string { return "event" }

func TestGetMessageType(t *testing.T) {
	assert.Equal(t, "SessionEnded", GetMessageType(&SessionEnded{}))
	assert.Equal(t, "PhaseTransitionRejected", GetMessageType(&PhaseTransitionRejected{}))
	assert.Equal(t, "GetSessionSnapshot", GetMessageType(&GetSessionSnapshot{}))
	assert.Equal(t, "Custom", GetMessageType(customMessage{}))
	assert.Equal(t, "Unknown", GetMessageType(untypedMessage{}))
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestErrors(t *testing.T) {
	assert.Equal(t, "no handler registered for ListSessions", NewNoHandlerError("ListSessions").Error())
	assert.Equal(t, "handler already registered for ListSessions", NewHandlerAlreadyRegisteredError("ListSessions").Error())
	assert.Contains(t, NewQueryTimeoutError("GetSessionSnapshot", 30*time.Second).Error(), "30s")
	assert.Equal(t, "session abc not found", NewSessionNotFoundError("abc").Error())
}
