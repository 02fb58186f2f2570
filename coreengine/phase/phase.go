// Package phase provides the counseling phase enum and the transition graph
// that governs how a session moves through it.
package phase

import (
	"fmt"
	"sort"
	"strings"
)

// Phase is a stage of the counseling progression.
type Phase string

const (
	// Introduction builds rapport and collects surface information.
	Introduction Phase = "introduction"
	// Exploration digs into background, emotions and triggers.
	Exploration Phase = "exploration"
	// Assessment integrates findings into a working judgement.
	Assessment Phase = "assessment"
	// ScaleRecommendation recommends measurement scales and closes the session.
	ScaleRecommendation Phase = "scale_recommendation"
)

var order = map[Phase]int{
	Introduction:        0,
	Exploration:         1,
	Assessment:          2,
	ScaleRecommendation: 3,
}

// All returns every phase in progression order.
func All() []Phase {
	return []Phase{Introduction, Exploration, Assessment, ScaleRecommendation}
}

// IsValid reports whether p is a known phase.
func (p Phase) IsValid() bool {
	_, ok := order[p]
	return ok
}

// Order returns the position of p in the total order, or -1 for unknown phases.
func (p Phase) Order() int {
	if n, ok := order[p]; ok {
		return n
	}
	return -1
}

// Ptr returns a pointer to a copy of p.
func (p Phase) Ptr() *Phase {
	return &p
}

// Parse converts a string to a Phase.
func Parse(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if p.IsValid() {
		return p, nil
	}
	valid := make([]string, 0, len(order))
	for _, v := range All() {
		valid = append(valid, string(v))
	}
	return "", fmt.Errorf("invalid phase: '%s'. Must be one of: %s", s, strings.Join(valid, ", "))
}

// =============================================================================
// GRAPH
// =============================================================================

// Graph maps each phase to the phases it may move to next.
type Graph map[Phase][]Phase

// DefaultGraph returns the linear introduction→scale_recommendation progression.
func DefaultGraph() Graph {
	return Graph{
		Introduction:        {Exploration},
		Exploration:         {Assessment},
		Assessment:          {ScaleRecommendation},
		ScaleRecommendation: {},
	}
}

// Validate checks that every phase has an entry, that no phase has more than
// one successor and that every edge moves strictly forward in the order.
func (g Graph) Validate() error {
	for _, p := range All() {
		if _, ok := g[p]; !ok {
			return fmt.Errorf("graph has no entry for phase %s", p)
		}
	}
	for from, targets := range g {
		if !from.IsValid() {
			return fmt.Errorf("graph references unknown phase %q", from)
		}
		if len(targets) > 1 {
			return fmt.Errorf("phase %s has %d successors, at most 1 allowed", from, len(targets))
		}
		for _, to := range targets {
			if !to.IsValid() {
				return fmt.Errorf("phase %s targets unknown phase %q", from, to)
			}
			if to.Order() <= from.Order() {
				return fmt.Errorf("edge %s -> %s does not move forward", from, to)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the graph.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for k, v := range g {
		out[k] = append([]Phase(nil), v...)
	}
	return out
}

// roots returns phases that no edge points to, sorted by order.
func (g Graph) roots() []Phase {
	targeted := make(map[Phase]bool)
	for _, targets := range g {
		for _, t := range targets {
			targeted[t] = true
		}
	}
	var out []Phase
	for p := range g {
		if !targeted[p] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order() < out[j].Order() })
	return out
}
