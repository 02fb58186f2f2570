// Package affect models the reactive party's behavioral state: continuous
// trust/openness style levels plus a discrete emotion that moves along a
// transition table.
package affect

import (
	"fmt"
	"strings"
)

// Emotion is the discrete emotional state of the student.
type Emotion string

const (
	Anxious   Emotion = "anxious"
	Depressed Emotion = "depressed"
	Confused  Emotion = "confused"
	Angry     Emotion = "angry"
	Calm      Emotion = "calm"
	Hopeful   Emotion = "hopeful"
	Resistant Emotion = "resistant"
	Trusting  Emotion = "trusting"
	Avoidant  Emotion = "avoidant"
	Open      Emotion = "open"
	Other     Emotion = "other"
)

// Emotions returns every known emotion.
func Emotions() []Emotion {
	return []Emotion{Anxious, Depressed, Confused, Angry, Calm, Hopeful, Resistant, Trusting, Avoidant, Open, Other}
}

// IsValid reports whether e is a known emotion.
func (e Emotion) IsValid() bool {
	for _, v := range Emotions() {
		if v == e {
			return true
		}
	}
	return false
}

// Ptr returns a pointer to a copy of e.
func (e Emotion) Ptr() *Emotion {
	return &e
}

// ParseEmotion converts a string to an Emotion.
func ParseEmotion(s string) (Emotion, error) {
	e := Emotion(strings.ToLower(strings.TrimSpace(s)))
	if e.IsValid() {
		return e, nil
	}
	valid := make([]string, 0, len(Emotions()))
	for _, v := range Emotions() {
		valid = append(valid, string(v))
	}
	return "", fmt.Errorf("invalid emotion: '%s'. Must be one of: %s", s, strings.Join(valid, ", "))
}

// =============================================================================
// TRANSITION TABLE
// =============================================================================

// TransitionTable maps an emotion to the emotions reachable from it in one
// update. Unlike the phase graph it may contain cycles.
type TransitionTable map[Emotion][]Emotion

// DefaultTransitionTable returns the built-in emotion dynamics.
func DefaultTransitionTable() TransitionTable {
	return TransitionTable{
		Anxious:   {Calm, Confused, Avoidant, Resistant, Trusting, Depressed},
		Depressed: {Hopeful, Calm, Anxious, Avoidant, Trusting},
		Confused:  {Calm, Open, Anxious, Avoidant, Trusting},
		Angry:     {Calm, Resistant, Avoidant, Anxious},
		Calm:      {Open, Trusting, Hopeful, Anxious, Confused},
		Hopeful:   {Calm, Open, Trusting, Anxious},
		Resistant: {Trusting, Calm, Avoidant, Angry, Open},
		Trusting:  {Open, Hopeful, Calm, Anxious},
		Avoidant:  {Calm, Trusting, Resistant, Anxious, Open},
		Open:      {Trusting, Hopeful, Calm, Confused},
		Other:     {Calm, Anxious, Confused, Open},
	}
}

// Validate checks that every emotion has a non-empty entry of known emotions.
func (t TransitionTable) Validate() error {
	for _, e := range Emotions() {
		targets, ok := t[e]
		if !ok || len(targets) == 0 {
			return fmt.Errorf("emotion %s has no reachable emotions", e)
		}
		for _, to := range targets {
			if !to.IsValid() {
				return fmt.Errorf("emotion %s targets unknown emotion %q", e, to)
			}
		}
	}
	return nil
}

// Reachable returns a copy of the emotions reachable from e.
func (t TransitionTable) Reachable(e Emotion) []Emotion {
	return append([]Emotion(nil), t[e]...)
}

// CanReach reports whether from → to is in the table.
func (t TransitionTable) CanReach(from, to Emotion) bool {
	for _, e := range t[from] {
		if e == to {
			return true
		}
	}
	return false
}

func (t TransitionTable) clone() TransitionTable {
	out := make(TransitionTable, len(t))
	for k, v := range t {
		out[k] = append([]Emotion(nil), v...)
	}
	return out
}

// filter returns the reachable emotions of from that are in allowed, keeping
// table order so RNG picks are reproducible.
func (t TransitionTable) filter(from Emotion, allowed ...Emotion) []Emotion {
	var out []Emotion
	for _, e := range t[from] {
		for _, a := range allowed {
			if e == a {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// =============================================================================
// ISSUES
// =============================================================================

// InitialEmotionForIssue maps a presenting psychological issue to the emotion
// the student starts the session in. Unknown issues start anxious.
func InitialEmotionForIssue(issue string) Emotion {
	switch strings.ToLower(strings.TrimSpace(issue)) {
	case "academic_anxiety", "social_phobia", "ocd_symptoms", "sleep_problems":
		return Anxious
	case "depression", "relationship_issues":
		return Depressed
	case "procrastination", "adaptation_issues", "identity_confusion":
		return Confused
	case "family_conflicts":
		return Angry
	default:
		return Anxious
	}
}
