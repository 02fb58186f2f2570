package risk

import (
	"errors"
	"fmt"
	"strings"
)

// Category names a risk dimension.
type Category string

const (
	CategorySuicide    Category = "suicide"
	CategorySelfHarm   Category = "self_harm"
	CategoryHarmOthers Category = "harm_others"
)

// Lexicon holds the keyword lists the Assessor matches against.
type Lexicon struct {
	Suicide      []string `json:"suicide" yaml:"suicide" validate:"required,min=1,dive,required"`
	SelfHarm     []string `json:"self_harm" yaml:"self_harm" validate:"required,min=1,dive,required"`
	HarmOthers   []string `json:"harm_others" yaml:"harm_others" validate:"required,min=1,dive,required"`
	HighPriority []string `json:"high_priority" yaml:"high_priority" validate:"dive,required"`
}

// DefaultLexicon returns the built-in Chinese keyword lists.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Suicide: []string{
			"自杀", "结束生命", "不想活", "死了算了", "想死",
			"自我了断", "活着没意思", "消失", "离开这个世界", "解脱",
		},
		SelfHarm: []string{
			"自残", "割腕", "伤害自己", "自我伤害", "切割",
			"撞墙", "拿刀", "疼痛", "流血", "划伤",
		},
		HarmOthers: []string{
			"伤害别人", "报复", "杀死", "打击", "攻击",
			"暴力", "恨死", "弄死", "教训",
		},
		HighPriority: []string{"自杀", "想死", "结束生命", "割腕", "杀死"},
	}
}

// Clone returns a deep copy.
func (l Lexicon) Clone() Lexicon {
	return Lexicon{
		Suicide:      append([]string(nil), l.Suicide...),
		SelfHarm:     append([]string(nil), l.SelfHarm...),
		HarmOthers:   append([]string(nil), l.HarmOthers...),
		HighPriority: append([]string(nil), l.HighPriority...),
	}
}

// LevelForScore maps a keyword score to a level using the step bands
// 0→0, ≥1→2, ≥2→3, ≥3→4, ≥5→5.
func LevelForScore(score int) int {
	switch {
	case score >= 5:
		return 5
	case score >= 3:
		return 4
	case score >= 2:
		return 3
	case score >= 1:
		return 2
	default:
		return 0
	}
}

// Assessor scores text against a keyword lexicon. It is deterministic and
// safe for concurrent use.
type Assessor struct {
	lexicon      Lexicon
	highPriority map[string]struct{}
	threshold    int
}

// NewAssessor creates an Assessor. threshold must be within [1, MaxLevel].
func NewAssessor(lexicon Lexicon, threshold int) (*Assessor, error) {
	if threshold < 1 || threshold > MaxLevel {
		return nil, fmt.Errorf("risk threshold %d out of range [1,%d]", threshold, MaxLevel)
	}
	if len(lexicon.Suicide) == 0 && len(lexicon.SelfHarm) == 0 && len(lexicon.HarmOthers) == 0 {
		return nil, errors.New("risk lexicon has no keywords")
	}

	hp := make(map[string]struct{}, len(lexicon.HighPriority))
	for _, kw := range lexicon.HighPriority {
		hp[kw] = struct{}{}
	}
	return &Assessor{lexicon: lexicon.Clone(), highPriority: hp, threshold: threshold}, nil
}

// NewDefaultAssessor creates an Assessor with DefaultLexicon and DefaultThreshold.
func NewDefaultAssessor() *Assessor {
	a, _ := NewAssessor(DefaultLexicon(), DefaultThreshold)
	return a
}

// Threshold returns the emergency threshold.
func (a *Assessor) Threshold() int {
	return a.threshold
}

// Assess scores text. Empty or keyword-free text yields the zero vector.
func (a *Assessor) Assess(text string) Vector {
	suicide, m1 := a.score(text, a.lexicon.Suicide)
	selfHarm, m2 := a.score(text, a.lexicon.SelfHarm)
	harmOthers, m3 := a.score(text, a.lexicon.HarmOthers)

	indicators := make([]string, 0, len(m1)+len(m2)+len(m3))
	indicators = append(indicators, m1...)
	indicators = append(indicators, m2...)
	indicators = append(indicators, m3...)

	v := NewVector(LevelForScore(suicide), LevelForScore(selfHarm), LevelForScore(harmOthers), indicators, false, "")
	v.EmergencyRequired = v.Overall >= a.threshold
	if len(v.Indicators) > 0 {
		v.Description = fmt.Sprintf("keyword scan matched %d indicator(s)", len(v.Indicators))
	}
	return v
}

// AssessTexts scores several utterances as one body of text.
func (a *Assessor) AssessTexts(texts []string) Vector {
	return a.Assess(strings.Join(texts, "\n"))
}

func (a *Assessor) score(text string, keywords []string) (int, []string) {
	if text == "" {
		return 0, nil
	}
	var matched []string
	score := 0
	for _, kw := range keywords {
		if kw == "" || !strings.Contains(text, kw) {
			continue
		}
		matched = append(matched, kw)
		score++
		if _, ok := a.highPriority[kw]; ok {
			score += 2
		}
	}
	return score, matched
}
