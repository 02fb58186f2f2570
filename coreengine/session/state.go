package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pescn/psy-data-gen/coreengine/affect"
	"github.com/pescn/psy-data-gen/coreengine/phase"
	"github.com/pescn/psy-data-gen/coreengine/risk"
)

// Turn is one party's utterance.
type Turn struct {
	Speaker     Role            `json:"speaker"`
	Content     string          `json:"content"`
	RoundNumber int             `json:"round_number"`
	Phase       *phase.Phase    `json:"phase,omitempty"`
	Emotion     *affect.Emotion `json:"emotion,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TransitionRecord logs one phase transition attempt.
type TransitionRecord struct {
	Round     int          `json:"round"`
	From      phase.Phase  `json:"from"`
	Requested *phase.Phase `json:"requested,omitempty"`
	To        phase.Phase  `json:"to"`
	Accepted  bool         `json:"accepted"`
	Terminal  bool         `json:"terminal"`
	Reason    string       `json:"reason,omitempty"`
	At        time.Time    `json:"at"`
}

// RiskRecord keeps the per-round risk inputs and their merge.
type RiskRecord struct {
	Round    int         `json:"round"`
	Assessed risk.Vector `json:"assessed"`
	External risk.Vector `json:"external"`
	Merged   risk.Vector `json:"merged"`
	// ReportedOverall is the evaluator's stated overall level.
	ReportedOverall int `json:"reported_overall"`
}

// Level is the highest of the merged overall and the reported overall.
func (r RiskRecord) Level() int {
	return max(r.Merged.Overall, r.ReportedOverall)
}

// Exceeds reports whether the round calls for emergency handling under threshold.
func (r RiskRecord) Exceeds(threshold int) bool {
	return r.Merged.EmergencyRequired || r.Level() >= threshold
}

// EmotionRecord logs an affect update that changed the emotion.
type EmotionRecord struct {
	Round int            `json:"round"`
	From  affect.Emotion `json:"from"`
	To    affect.Emotion `json:"to"`
	After affect.State   `json:"after"`
}

// EvaluationRecord keeps what the round evaluator reported.
type EvaluationRecord struct {
	Round       int           `json:"round"`
	Phase       phase.Phase   `json:"phase"`
	Transition  string        `json:"transition"`
	Target      *phase.Phase  `json:"target,omitempty"`
	Confidence  float64       `json:"confidence"`
	Reason      string        `json:"reason,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	Observed    *affect.State `json:"observed,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// State is the mutable record of one session. It is owned by a single
// orchestrator run and is not safe for concurrent use; hand out Snapshots.
type State struct {
	ID                string             `json:"id"`
	CurrentPhase      phase.Phase        `json:"current_phase"`
	CurrentRound      int                `json:"current_round"`
	PhaseRound        int                `json:"phase_round"`
	History           []Turn             `json:"history"`
	Affect            affect.State       `json:"affect"`
	CumulativeRisk    risk.Vector        `json:"cumulative_risk"`
	Terminal          bool               `json:"terminal"`
	TerminationReason TerminationReason  `json:"termination_reason,omitempty"`
	Error             string             `json:"error,omitempty"`
	TransitionLog     []TransitionRecord `json:"transition_log"`
	RiskHistory       []RiskRecord       `json:"risk_history"`
	EmotionLog        []EmotionRecord    `json:"emotion_log"`
	Evaluations       []EvaluationRecord `json:"evaluations"`
	Metadata          map[string]string  `json:"metadata,omitempty"`
	StartedAt         time.Time          `json:"started_at"`
	EndedAt           *time.Time         `json:"ended_at,omitempty"`
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// NewState creates a running session in start at round 1.
func NewState(id string, start phase.Phase, initial affect.State, now time.Time) *State {
	if id == "" {
		id = NewID()
	}
	return &State{
		ID:             id,
		CurrentPhase:   start,
		CurrentRound:   1,
		PhaseRound:     1,
		History:        []Turn{},
		Affect:         initial.Clamped(),
		CumulativeRisk: risk.MergeAll(),
		TransitionLog:  []TransitionRecord{},
		RiskHistory:    []RiskRecord{},
		EmotionLog:     []EmotionRecord{},
		Evaluations:    []EvaluationRecord{},
		Metadata:       map[string]string{},
		StartedAt:      now,
	}
}

// AppendTurn adds a turn to the history. Round numbers may not go backwards.
func (s *State) AppendTurn(t Turn) error {
	if !t.Speaker.IsValid() {
		return fmt.Errorf("turn has invalid speaker %q", t.Speaker)
	}
	if n := len(s.History); n > 0 && t.RoundNumber < s.History[n-1].RoundNumber {
		return fmt.Errorf("turn round %d precedes last round %d", t.RoundNumber, s.History[n-1].RoundNumber)
	}
	s.History = append(s.History, t)
	return nil
}

// End marks the session terminal. The first reason recorded wins.
func (s *State) End(reason TerminationReason, err error, now time.Time) {
	if s.Terminal {
		return
	}
	s.Terminal = true
	s.TerminationReason = reason
	if err != nil {
		s.Error = err.Error()
	}
	s.EndedAt = &now
}

// LastUtterance returns the latest content spoken by role, or "".
func (s *State) LastUtterance(role Role) string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Speaker == role {
			return s.History[i].Content
		}
	}
	return ""
}

// RecentStudentTexts returns student utterances among the last window turns.
// A window <= 0 covers the whole history.
func (s *State) RecentStudentTexts(window int) []string {
	start := 0
	if window > 0 && len(s.History) > window {
		start = len(s.History) - window
	}
	var out []string
	for _, t := range s.History[start:] {
		if t.Speaker == RoleStudent {
			out = append(out, t.Content)
		}
	}
	return out
}

// PhaseSequence returns the phases the session has been in, in order.
func (s *State) PhaseSequence() []phase.Phase {
	var seq []phase.Phase
	if len(s.TransitionLog) > 0 {
		seq = append(seq, s.TransitionLog[0].From)
	} else {
		seq = append(seq, s.CurrentPhase)
	}
	for _, rec := range s.TransitionLog {
		if rec.Accepted && !rec.Terminal && rec.To != seq[len(seq)-1] {
			seq = append(seq, rec.To)
		}
	}
	return seq
}

// Snapshot returns an immutable deep copy of the state.
func (s *State) Snapshot() *Snapshot {
	c := s.clone()
	snap := Snapshot(*c)
	return &snap
}

func (s *State) clone() *State {
	c := *s

	c.History = make([]Turn, len(s.History))
	for i, t := range s.History {
		if t.Phase != nil {
			p := *t.Phase
			t.Phase = &p
		}
		if t.Emotion != nil {
			e := *t.Emotion
			t.Emotion = &e
		}
		c.History[i] = t
	}

	c.CumulativeRisk = s.CumulativeRisk.Clone()

	c.TransitionLog = make([]TransitionRecord, len(s.TransitionLog))
	for i, r := range s.TransitionLog {
		if r.Requested != nil {
			p := *r.Requested
			r.Requested = &p
		}
		c.TransitionLog[i] = r
	}

	c.RiskHistory = make([]RiskRecord, len(s.RiskHistory))
	for i, r := range s.RiskHistory {
		c.RiskHistory[i] = RiskRecord{
			Round:    r.Round,
			Assessed: r.Assessed.Clone(),
			External: r.External.Clone(),
			Merged:   r.Merged.Clone(),

			ReportedOverall: r.ReportedOverall,
		}
	}

	c.EmotionLog = append([]EmotionRecord{}, s.EmotionLog...)

	c.Evaluations = make([]EvaluationRecord, len(s.Evaluations))
	for i, e := range s.Evaluations {
		if e.Target != nil {
			p := *e.Target
			e.Target = &p
		}
		if e.Observed != nil {
			o := *e.Observed
			e.Observed = &o
		}
		e.Suggestions = append([]string(nil), e.Suggestions...)
		c.Evaluations[i] = e
	}

	c.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		c.Metadata[k] = v
	}

	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
