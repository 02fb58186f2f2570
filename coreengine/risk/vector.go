// Package risk provides the risk vector, the keyword-driven risk assessor and
// the merge operation that combines assessments from different sources.
package risk

import (
	"sort"
	"strings"
)

const (
	// MinLevel is the lowest risk level.
	MinLevel = 0
	// MaxLevel is the highest risk level.
	MaxLevel = 5
	// DefaultThreshold is the overall level at which an emergency is raised.
	DefaultThreshold = 3

	descriptionSeparator = " | "
)

// Vector is a bounded risk score over three categories plus derived flags.
// Use NewVector or Normalize to keep the level invariants.
type Vector struct {
	Suicide           int      `json:"suicide"`
	SelfHarm          int      `json:"self_harm"`
	HarmOthers        int      `json:"harm_others"`
	Overall           int      `json:"overall"`
	Indicators        []string `json:"indicators"`
	EmergencyRequired bool     `json:"emergency_required"`
	Description       string   `json:"description,omitempty"`
}

// NewVector builds a normalized Vector. Overall is derived from the category levels.
func NewVector(suicide, selfHarm, harmOthers int, indicators []string, emergency bool, description string) Vector {
	return Vector{
		Suicide:           suicide,
		SelfHarm:          selfHarm,
		HarmOthers:        harmOthers,
		Indicators:        indicators,
		EmergencyRequired: emergency,
		Description:       description,
	}.Normalize()
}

// Normalize clamps every level, recomputes Overall and turns Indicators into a
// sorted set. The receiver is not modified.
func (v Vector) Normalize() Vector {
	v.Suicide = ClampLevel(v.Suicide)
	v.SelfHarm = ClampLevel(v.SelfHarm)
	v.HarmOthers = ClampLevel(v.HarmOthers)
	v.Overall = max(v.Suicide, v.SelfHarm, v.HarmOthers)
	v.Indicators = indicatorSet(v.Indicators)
	v.Description = strings.TrimSpace(v.Description)
	return v
}

// Clone returns a deep copy.
func (v Vector) Clone() Vector {
	v.Indicators = append([]string{}, v.Indicators...)
	return v
}

// IsZero reports whether the vector carries no risk signal at all.
func (v Vector) IsZero() bool {
	return v.Overall == 0 && len(v.Indicators) == 0 && !v.EmergencyRequired && v.Description == ""
}

// Exceeds reports whether the vector calls for emergency handling under threshold.
func (v Vector) Exceeds(threshold int) bool {
	return v.EmergencyRequired || v.Overall >= threshold
}

// ClampLevel bounds n to [MinLevel, MaxLevel].
func ClampLevel(n int) int {
	if n < MinLevel {
		return MinLevel
	}
	if n > MaxLevel {
		return MaxLevel
	}
	return n
}

func indicatorSet(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
