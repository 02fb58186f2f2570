package agents

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/pescn/psy-data-gen/coreengine/affect"
	"github.com/pescn/psy-data-gen/coreengine/phase"
	"github.com/pescn/psy-data-gen/coreengine/risk"
	"github.com/pescn/psy-data-gen/coreengine/typeutil"
)

// =============================================================================
// WIRE SCHEMA
// =============================================================================

// The structs below only describe the response schema sent to the model.
// Decoding goes through the lenient repair path in ParseEvaluation.

type studentStatePayload struct {
	Trust               float64 `json:"trust_level" description:"信任度 (0-1)"`
	Openness            float64 `json:"openness_level" description:"开放度 (0-1)"`
	InformationRevealed float64 `json:"information_revealed" description:"信息透露度 (0-1)"`
	Resistance          float64 `json:"resistance_level" description:"抗拒程度 (0-1)"`
	Avoidance           float64 `json:"avoidance_tendency" description:"回避倾向 (0-1)"`
	Emotion             string  `json:"current_emotion" enum:"anxious,depressed,confused,angry,calm,hopeful,resistant,trusting,avoidant,open,other"`
	Analysis            string  `json:"analysis" description:"学生状态分析，60字以内"`
}

type transitionPayload struct {
	NeedTransition   bool    `json:"need_transition"`
	RecommendedPhase string  `json:"recommended_phase" enum:"none,introduction,exploration,assessment,scale_recommendation,end"`
	Reason           string  `json:"transition_reason"`
	Confidence       string  `json:"confidence_level" enum:"low,medium,high"`
	StageCompletion  float64 `json:"stage_completion" description:"当前阶段完成度 (0-1)"`
}

type riskPayload struct {
	Overall           int      `json:"overall_risk_level" description:"总体风险等级 (0-5)"`
	Suicide           int      `json:"suicide_risk" description:"自杀风险等级 (0-5)"`
	SelfHarm          int      `json:"self_harm_risk" description:"自伤风险等级 (0-5)"`
	HarmOthers        int      `json:"harm_others_risk" description:"伤害他人风险等级 (0-5)"`
	Indicators        []string `json:"risk_indicators" description:"检测到的风险表达"`
	EmergencyRequired bool     `json:"emergency_required"`
	Description       string   `json:"risk_description"`
}

type evaluationPayload struct {
	StudentState studentStatePayload `json:"student_state"`
	Transition   transitionPayload   `json:"state_transition"`
	Risk         riskPayload         `json:"risk_assessment"`
	Suggestions  []string            `json:"improvement_suggestions" description:"对咨询师的改进建议，不超过4条"`
	NextFocus    string              `json:"next_focus" description:"下一轮的关注重点，80字以内"`
}

const evaluationSchemaName = "round_evaluation"

var (
	schemaOnce sync.Once
	schemaDef  *jsonschema.Definition
	schemaErr  error
)

// EvaluationSchema returns the strict response schema for EvaluateRound.
func EvaluationSchema() *ResponseSchema {
	schemaOnce.Do(func() {
		schemaDef, schemaErr = jsonschema.GenerateSchemaForType(evaluationPayload{})
	})
	if schemaErr != nil {
		// The payload types are static; a failure here is a programming error.
		panic(fmt.Sprintf("evaluation schema: %v", schemaErr))
	}
	return &ResponseSchema{Name: evaluationSchemaName, Schema: schemaDef}
}

// =============================================================================
// PARSE AND REPAIR
// =============================================================================

var confidenceLevels = map[string]float64{
	"low":    0.3,
	"medium": 0.6,
	"high":   0.9,

	"低": 0.3,
	"中": 0.6,
	"高": 0.9,
}

var evaluationValidator = validator.New()

// ParseEvaluation decodes an evaluator response. The response must be a JSON
// object; anything else is a SchemaError. Missing or mistyped optional fields
// are defaulted from ec, and levels are clamped to their ranges.
func ParseEvaluation(raw string, ec EvaluationContext) (*Evaluation, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &data); err != nil {
		return nil, NewSchemaError(OpEvaluateRound, raw, err)
	}
	if data == nil {
		return nil, NewSchemaError(OpEvaluateRound, raw, fmt.Errorf("response is not a JSON object"))
	}

	transition := typeutil.SafeMapStringAnyDefault(data["state_transition"], map[string]any{})
	riskData := typeutil.SafeMapStringAnyDefault(data["risk_assessment"], map[string]any{})
	studentData, hasStudent := typeutil.SafeMapStringAny(data["student_state"])

	ev := &Evaluation{
		Transition:      repairTransition(transition, ec),
		Risk:            repairRisk(riskData),
		ReportedOverall: risk.ClampLevel(typeutil.SafeIntDefault(riskData["overall_risk_level"], 0)),
		Notes:       typeutil.SafeStringDefault(data["next_focus"], ""),
		Reason:      typeutil.SafeStringDefault(transition["transition_reason"], ""),
		Confidence:  repairConfidence(transition["confidence_level"]),
		Suggestions: typeutil.SafeStringSliceDefault(data["improvement_suggestions"], nil),
	}
	if hasStudent {
		observed := repairObserved(studentData, ec.Affect)
		ev.Observed = &observed
	}

	if err := ValidateEvaluation(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ValidateEvaluation checks the invariants every Evaluation must hold,
// whichever port produced it.
func ValidateEvaluation(ev *Evaluation) error {
	if ev == nil {
		return NewValidationError("evaluation", "missing")
	}
	if err := evaluationValidator.Struct(ev); err != nil {
		return NewValidationError("evaluation", err.Error())
	}
	if ev.Transition.Kind == TransitionAdvance && !ev.Transition.Target.IsValid() {
		return NewValidationError("transition.target", fmt.Sprintf("unknown phase %q", ev.Transition.Target))
	}
	return nil
}

// NormalizeEvaluation returns a copy of ev with defaults applied: a nil
// evaluation means no change and no risk, an unknown kind means no change and
// the risk vector is normalized.
func NormalizeEvaluation(ev *Evaluation) Evaluation {
	if ev == nil {
		return Evaluation{Transition: NoChange(), Risk: risk.MergeAll()}
	}
	out := *ev
	switch out.Transition.Kind {
	case TransitionAdvance:
		if !out.Transition.Target.IsValid() {
			out.Transition = NoChange()
		}
	case TransitionEnd:
		out.Transition.Target = ""
	default:
		out.Transition = NoChange()
	}
	out.Risk = out.Risk.Normalize()
	out.ReportedOverall = risk.ClampLevel(out.ReportedOverall)
	out.Confidence = typeutil.ClampFloat(out.Confidence, 0, 1)
	if out.Observed != nil {
		o := out.Observed.Clamped()
		out.Observed = &o
	}
	out.Suggestions = append([]string(nil), ev.Suggestions...)
	return out
}

func repairTransition(data map[string]any, ec EvaluationContext) TransitionRecommendation {
	need := typeutil.SafeBoolDefault(data["need_transition"], false)
	rec := strings.ToLower(typeutil.SafeStringDefault(data["recommended_phase"], "none"))

	if !need || rec == string(TransitionNone) {
		return NoChange()
	}
	if rec == string(TransitionEnd) {
		return EndSession()
	}

	target, err := phase.Parse(rec)
	if err != nil || target == ec.Phase {
		return NoChange()
	}
	return AdvanceTo(target)
}

func repairRisk(data map[string]any) risk.Vector {
	level := func(key string) int {
		return typeutil.ClampInt(typeutil.SafeIntDefault(data[key], 0), risk.MinLevel, risk.MaxLevel)
	}
	return risk.NewVector(
		level("suicide_risk"),
		level("self_harm_risk"),
		level("harm_others_risk"),
		typeutil.SafeStringSliceDefault(data["risk_indicators"], nil),
		typeutil.SafeBoolDefault(data["emergency_required"], false),
		typeutil.SafeStringDefault(data["risk_description"], ""),
	)
}

func repairConfidence(value any) float64 {
	if s, ok := typeutil.SafeString(value); ok {
		if c, known := confidenceLevels[strings.ToLower(strings.TrimSpace(s))]; known {
			return c
		}
	}
	return typeutil.ClampFloat(typeutil.SafeFloat64Default(value, 0.5), 0, 1)
}

func repairObserved(data map[string]any, current affect.State) affect.State {
	level := func(key string, fallback float64) float64 {
		return typeutil.SafeFloat64Default(data[key], fallback)
	}
	observed := affect.State{
		Trust:               level("trust_level", current.Trust),
		Openness:            level("openness_level", current.Openness),
		InformationRevealed: level("information_revealed", current.InformationRevealed),
		Resistance:          level("resistance_level", current.Resistance),
		Avoidance:           level("avoidance_tendency", current.Avoidance),
		Chattiness:          current.Chattiness,
		Emotion:             current.Emotion,
	}
	if e, err := affect.ParseEmotion(typeutil.SafeStringDefault(data["current_emotion"], "")); err == nil {
		observed.Emotion = e
	}
	return observed.Clamped()
}
