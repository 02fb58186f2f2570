// Package session provides the session data model: turns, the mutable
// session state owned by one orchestrator run, and immutable snapshots of it.
package session

import (
	"fmt"
	"strings"
)

// Role identifies a dialogue party.
type Role string

const (
	// RoleStudent is the reactive party whose affect evolves.
	RoleStudent Role = "student"
	// RoleCounselor drives the phase progression.
	RoleCounselor Role = "counselor"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleStudent || r == RoleCounselor
}

// Peer returns the other party.
func (r Role) Peer() Role {
	if r == RoleStudent {
		return RoleCounselor
	}
	return RoleStudent
}

// ParseRole converts a string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r.IsValid() {
		return r, nil
	}
	return "", fmt.Errorf("invalid role: '%s'. Must be one of: student, counselor", s)
}

// TerminationReason is why a session ended.
type TerminationReason string

const (
	// ReasonPhaseExhaustion means the terminal phase was reached and nothing further could follow.
	ReasonPhaseExhaustion TerminationReason = "normal_phase_exhaustion"
	// ReasonFlowControlEnd means the evaluator explicitly signaled the end of the session.
	ReasonFlowControlEnd TerminationReason = "flow_control_end"
	// ReasonMaxRounds means the round limit was reached.
	ReasonMaxRounds TerminationReason = "max_rounds"
	// ReasonRiskEmergency means merged risk crossed the emergency threshold.
	ReasonRiskEmergency TerminationReason = "risk_emergency"
	// ReasonError means an unrecoverable failure; the whole session should be retried.
	ReasonError TerminationReason = "error"
)

// IsFailure reports whether the session should be retried by the caller.
func (r TerminationReason) IsFailure() bool {
	return r == ReasonError
}
