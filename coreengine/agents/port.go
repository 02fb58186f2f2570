// Package agents defines the boundary to the external dialogue agents and the
// generic persona-driven implementation of it.
package agents

import (
	"context"
	"fmt"

	"github.com/pescn/psy-data-gen/coreengine/affect"
	"github.com/pescn/psy-data-gen/coreengine/phase"
	"github.com/pescn/psy-data-gen/coreengine/risk"
	"github.com/pescn/psy-data-gen/coreengine/session"
)

// Operation names, used in errors, metrics and spans.
const (
	OpProduceUtterance   = "produce_utterance"
	OpEvaluateRound      = "evaluate_round"
	OpGenerateBackground = "generate_background"
)

// UtteranceContext is everything a party needs to produce its next turn.
type UtteranceContext struct {
	SessionID string
	Round     int
	Phase     phase.Phase
	History   []session.Turn
	Affect    affect.State
	Speaker   Persona
	Listener  Persona
}

// EvaluationContext is everything the round evaluator sees.
type EvaluationContext struct {
	SessionID  string
	Round      int
	PhaseRound int
	Phase      phase.Phase
	// Next lists the phases reachable from Phase; empty in the terminal phase.
	Next              []phase.Phase
	History           []session.Turn
	Affect            affect.State
	Student           Persona
	Counselor         Persona
	MinRoundsPerPhase int
	MaxRoundsPerPhase int
}

// TransitionKind is the shape of a phase recommendation.
type TransitionKind string

const (
	// TransitionNone keeps the current phase.
	TransitionNone TransitionKind = "none"
	// TransitionAdvance requests a move to Target.
	TransitionAdvance TransitionKind = "advance"
	// TransitionEnd requests the end of the session.
	TransitionEnd TransitionKind = "end"
)

// TransitionRecommendation is the evaluator's phase advice.
type TransitionRecommendation struct {
	Kind   TransitionKind `json:"kind" validate:"oneof=none advance end"`
	Target phase.Phase    `json:"target,omitempty"`
}

// NoChange returns the recommendation to stay put.
func NoChange() TransitionRecommendation {
	return TransitionRecommendation{Kind: TransitionNone}
}

// AdvanceTo returns a recommendation to move to p.
func AdvanceTo(p phase.Phase) TransitionRecommendation {
	return TransitionRecommendation{Kind: TransitionAdvance, Target: p}
}

// EndSession returns the end-of-session recommendation.
func EndSession() TransitionRecommendation {
	return TransitionRecommendation{Kind: TransitionEnd}
}

// Request converts the recommendation into the argument for
// phase.StateMachine.Apply. ok is false when no transition is requested.
func (r TransitionRecommendation) Request() (requested *phase.Phase, ok bool) {
	switch r.Kind {
	case TransitionAdvance:
		return r.Target.Ptr(), true
	case TransitionEnd:
		return nil, true
	default:
		return nil, false
	}
}

func (r TransitionRecommendation) String() string {
	if r.Kind == TransitionAdvance {
		return fmt.Sprintf("advance:%s", r.Target)
	}
	return string(r.Kind)
}

// Evaluation is the evaluator's report on one round.
type Evaluation struct {
	Transition TransitionRecommendation `json:"transition"`
	Risk       risk.Vector              `json:"risk"`
	// ReportedOverall is the overall level the evaluator stated. It can sit
	// above every category level and is checked against the risk threshold
	// on its own.
	ReportedOverall int    `json:"reported_overall,omitempty" validate:"gte=0,lte=5"`
	Notes           string `json:"notes,omitempty"`
	// Observed is the evaluator's view of the student's affect. It is recorded,
	// never adopted.
	Observed    *affect.State `json:"observed,omitempty"`
	Confidence  float64       `json:"confidence" validate:"gte=0,lte=1"`
	Reason      string        `json:"reason,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// AgentPort is the boundary to the external agents that speak and evaluate.
// Implementations must be safe to call from one goroutine per session.
type AgentPort interface {
	// ProduceUtterance returns the next utterance for role.
	ProduceUtterance(ctx context.Context, role session.Role, uc UtteranceContext) (string, error)
	// EvaluateRound assesses the round that just completed.
	EvaluateRound(ctx context.Context, ec EvaluationContext) (*Evaluation, error)
}
