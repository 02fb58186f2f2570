package affect

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
)

const (
	initialTrust       = 0.1
	initialOpenness    = 0.2
	initialInformation = 0.1

	trustPerEmpathy      = 0.05
	trustPerDirective    = 0.02
	opennessPerElaborate = 0.03
)

// State is the student's behavioral state. All levels are in [0, 1].
type State struct {
	Trust               float64 `json:"trust"`
	Openness            float64 `json:"openness"`
	InformationRevealed float64 `json:"information_revealed"`
	Resistance          float64 `json:"resistance"`
	Avoidance           float64 `json:"avoidance"`
	Chattiness          float64 `json:"chattiness"`
	Emotion             Emotion `json:"emotion"`
}

// Clamped returns s with every level bounded to [0, 1].
func (s State) Clamped() State {
	s.Trust = clamp01(s.Trust)
	s.Openness = clamp01(s.Openness)
	s.InformationRevealed = clamp01(s.InformationRevealed)
	s.Resistance = clamp01(s.Resistance)
	s.Avoidance = clamp01(s.Avoidance)
	s.Chattiness = clamp01(s.Chattiness)
	return s
}

// Seed describes the student the state is initialized for.
type Seed struct {
	// Issue is the presenting problem, e.g. "academic_anxiety".
	Issue  string
	Traits []string
	// Emotion overrides the issue-derived initial emotion when set.
	Emotion Emotion
}

// Lexicon holds the keyword lists that classify counselor utterances.
type Lexicon struct {
	Empathy     []string `json:"empathy" yaml:"empathy"`
	Directive   []string `json:"directive" yaml:"directive"`
	Elaboration []string `json:"elaboration" yaml:"elaboration"`
	Positive    []string `json:"positive" yaml:"positive"`
	Neutral     []string `json:"neutral" yaml:"neutral"`
	Resistance  []string `json:"resistance" yaml:"resistance"`
}

// DefaultLexicon returns the built-in Chinese stimulus keywords.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Empathy:     []string{"理解", "感受", "不容易", "我能感受到", "听起来", "对你来说", "你的感受", "这很困难"},
		Directive:   []string{"应该", "必须", "你需要", "建议你", "你要", "最好"},
		Elaboration: []string{"具体", "详细", "能说说", "比如"},
		Positive:    []string{"理解", "正常的", "可以理解", "不用担心", "我们一起"},
		Neutral:     []string{"能说说", "具体", "什么时候", "怎么样"},
		Resistance:  []string{"为什么", "原因", "你觉得", "有没有想过"},
	}
}

// Model initializes and evolves affect states. It draws all randomness from
// the injected source, so one Model must not be shared across goroutines.
type Model struct {
	table   TransitionTable
	lexicon Lexicon
	rng     *rand.Rand
}

// NewModel creates a Model.
func NewModel(table TransitionTable, lexicon Lexicon, rng *rand.Rand) (*Model, error) {
	if rng == nil {
		return nil, errors.New("affect model requires a random source")
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid emotion table: %w", err)
	}
	return &Model{table: table.clone(), lexicon: lexicon, rng: rng}, nil
}

// Table returns the transition table the model uses.
func (m *Model) Table() TransitionTable {
	return m.table.clone()
}

// Initialize builds the opening state for a student.
func (m *Model) Initialize(seed Seed) State {
	s := State{
		Trust:               initialTrust,
		Openness:            initialOpenness,
		InformationRevealed: initialInformation,
		Resistance:          m.uniform(0.2, 0.6),
		Avoidance:           m.uniform(0.3, 0.7),
		Chattiness:          m.uniform(0.4, 0.8),
		Emotion:             InitialEmotionForIssue(seed.Issue),
	}
	if seed.Emotion.IsValid() {
		s.Emotion = seed.Emotion
	}

	for _, trait := range seed.Traits {
		switch {
		case strings.Contains(trait, "内向"):
			s.Openness = clamp01(s.Openness * 0.8)
		case strings.Contains(trait, "外向"):
			s.Chattiness = clamp01(s.Chattiness * 1.2)
		case strings.Contains(trait, "敏感"):
			s.Resistance = clamp01(s.Resistance * 1.3)
		case strings.Contains(trait, "完美主义"):
			s.Avoidance = clamp01(s.Avoidance * 1.2)
		}
	}
	return s
}

// Update applies one counselor utterance to the state and returns the result.
func (m *Model) Update(s State, stimulus string) State {
	s = s.Clamped()

	empathy := countMatches(stimulus, m.lexicon.Empathy)
	directive := countMatches(stimulus, m.lexicon.Directive)
	elaboration := countMatches(stimulus, m.lexicon.Elaboration)

	s.Trust = clamp01(s.Trust + trustPerEmpathy*float64(empathy) - trustPerDirective*float64(directive))
	s.Openness = clamp01(s.Openness + opennessPerElaborate*float64(elaboration))

	switch {
	case s.Trust > 0.6:
		s.InformationRevealed = clamp01(s.InformationRevealed + 0.10)
	case s.Trust > 0.3:
		s.InformationRevealed = clamp01(s.InformationRevealed + 0.05)
	}

	s.Emotion = m.nextEmotion(s, stimulus)
	return s
}

func (m *Model) nextEmotion(s State, stimulus string) Emotion {
	var candidates []Emotion
	switch {
	case countMatches(stimulus, m.lexicon.Positive) > 0:
		candidates = m.table.filter(s.Emotion, Calm, Trusting, Hopeful)
	case countMatches(stimulus, m.lexicon.Resistance) > 0 && m.rng.Float64() < s.Resistance:
		candidates = m.table.filter(s.Emotion, Resistant, Avoidant)
	case countMatches(stimulus, m.lexicon.Neutral) > 0 && m.rng.Float64() < s.Openness:
		candidates = m.table.filter(s.Emotion, Open, Calm)
	}
	if len(candidates) == 0 {
		return s.Emotion
	}
	return candidates[m.rng.Intn(len(candidates))]
}

func (m *Model) uniform(lo, hi float64) float64 {
	return lo + m.rng.Float64()*(hi-lo)
}

func countMatches(text string, keywords []string) int {
	if text == "" {
		return 0
	}
	n := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
