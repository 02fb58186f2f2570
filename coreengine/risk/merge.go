package risk

import (
	"sort"
	"strings"
)

// Merge combines two risk vectors field by field: levels take the max,
// indicators are unioned, emergency flags are OR-ed and descriptions are
// collected as a sorted set of parts. Merge is commutative, associative and
// idempotent.
func Merge(a, b Vector) Vector {
	a = a.Normalize()
	b = b.Normalize()

	indicators := make([]string, 0, len(a.Indicators)+len(b.Indicators))
	indicators = append(indicators, a.Indicators...)
	indicators = append(indicators, b.Indicators...)

	return NewVector(
		max(a.Suicide, b.Suicide),
		max(a.SelfHarm, b.SelfHarm),
		max(a.HarmOthers, b.HarmOthers),
		indicators,
		a.EmergencyRequired || b.EmergencyRequired,
		joinDescriptions(a.Description, b.Description),
	)
}

// MergeAll folds Merge over vs starting from the zero vector.
func MergeAll(vs ...Vector) Vector {
	out := Vector{}.Normalize()
	for _, v := range vs {
		out = Merge(out, v)
	}
	return out
}

func joinDescriptions(descriptions ...string) string {
	seen := make(map[string]struct{})
	var parts []string
	for _, d := range descriptions {
		for _, part := range strings.Split(d, descriptionSeparator) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			parts = append(parts, part)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, descriptionSeparator)
}
