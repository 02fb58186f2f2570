package agents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pescn/psy-data-gen/coreengine/affect"
	"github.com/pescn/psy-data-gen/coreengine/phase"
	"github.com/pescn/psy-data-gen/coreengine/session"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fakeLLM struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []ChatRequest
}

func (f *fakeLLM) Chat(_ context.Context, req ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (l nopLogger) Bind(...any) Logger { return l }

func testStudent() Persona {
	return Persona{
		Role:    session.RoleStudent,
		Name:    "李明",
		Gender:  "男",
		Age:     20,
		Grade:   "大二",
		Major:   "计算机科学",
		Issue:   "academic_anxiety",
		Traits:  []string{"内向", "完美主义"},
		Opening: "我最近学习压力很大",
	}
}

func testCounselor() Persona {
	return Persona{Role: session.RoleCounselor, Name: "王老师", Approach: "认知行为疗法"}
}

func newTestAgent(t *testing.T, llm LLMProvider) *DialogueAgent {
	t.Helper()
	a, err := NewDialogueAgent(llm, nopLogger{}, DefaultOptions())
	require.NoError(t, err)
	return a
}

func sampleHistory() []session.Turn {
	return []session.Turn{
		{Speaker: session.RoleStudent, Content: "我最近学习压力很大", RoundNumber: 1},
		{Speaker: session.RoleCounselor, Content: "听起来你很辛苦", RoundNumber: 1},
		{Speaker: session.RoleStudent, Content: "嗯，考试快到了", RoundNumber: 2},
	}
}

// =============================================================================
// PERSONA TESTS
// =============================================================================

func TestPersonaValidate(t *testing.T) {
	require.NoError(t, testStudent().Validate())
	require.NoError(t, testCounselor().Validate())

	missingName := testStudent()
	missingName.Name = ""
	assert.Error(t, missingName.Validate())

	badRole := testStudent()
	badRole.Role = "narrator"
	assert.Error(t, badRole.Validate())

	badEmotion := testStudent()
	badEmotion.InitialEmotion = "elated"
	assert.Error(t, badEmotion.Validate())
}

func TestPersonaAffectSeed(t *testing.T) {
	p := testStudent()
	p.InitialEmotion = affect.Calm

	seed := p.AffectSeed()
	assert.Equal(t, "academic_anxiety", seed.Issue)
	assert.Equal(t, affect.Calm, seed.Emotion)
	assert.Equal(t, []string{"内向", "完美主义"}, seed.Traits)
	assert.Equal(t, "性别：男，年龄：20，年级：大二，专业：计算机科学", p.Summary())
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestConvertHistoryPerspective(t *testing.T) {
	forCounselor := ConvertHistory(sampleHistory(), session.RoleCounselor)
	assert.Equal(t, []Message{
		{Role: MessageRoleUser, Content: "我最近学习压力很大"},
		{Role: MessageRoleAssistant, Content: "听起来你很辛苦"},
		{Role: MessageRoleUser, Content: "嗯，考试快到了"},
	}, forCounselor)

	forStudent := ConvertHistory(sampleHistory(), session.RoleStudent)
	require.Len(t, forStudent, 4)
	assert.Equal(t, MessageRoleAssistant, forStudent[0].Role)
	assert.Equal(t, MessageRoleUser, forStudent[1].Role)
	assert.Equal(t, MessageRoleUser, forStudent[3].Role)
}

func TestConvertHistoryEmpty(t *testing.T) {
	msgs := ConvertHistory(nil, session.RoleCounselor)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageRoleUser, msgs[0].Role)
}

// =============================================================================
// DIALOGUE AGENT TESTS
// =============================================================================

func TestNewDialogueAgentRequiresDependencies(t *testing.T) {
	_, err := NewDialogueAgent(nil, nopLogger{}, DefaultOptions())
	assert.Error(t, err)
	_, err = NewDialogueAgent(&fakeLLM{}, nil, DefaultOptions())
	assert.Error(t, err)
}

func TestProduceUtteranceCounselor(t *testing.T) {
	llm := &fakeLLM{replies: []string{"  能具体说说吗？  "}}
	a := newTestAgent(t, llm)

	text, err := a.ProduceUtterance(context.Background(), session.RoleCounselor, UtteranceContext{
		Round:    2,
		Phase:    phase.Exploration,
		History:  sampleHistory(),
		Speaker:  testCounselor(),
		Listener: testStudent(),
	})

	require.NoError(t, err)
	assert.Equal(t, "能具体说说吗？", text)
	require.Len(t, llm.requests, 1)
	req := llm.requests[0]
	assert.Nil(t, req.Schema)
	assert.Equal(t, MessageRoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "深入探索阶段")
	assert.Contains(t, req.Messages[0].Content, "认知行为疗法")
	assert.Len(t, req.Messages, 4)
}

func TestProduceUtteranceStudentPromptCarriesAffect(t *testing.T) {
	llm := &fakeLLM{replies: []string{"还好吧"}}
	a := newTestAgent(t, llm)

	_, err := a.ProduceUtterance(context.Background(), session.RoleStudent, UtteranceContext{
		History: sampleHistory()[:2],
		Affect:  affect.State{Trust: 0.1, Openness: 0.2, Avoidance: 0.9, Emotion: affect.Avoidant},
		Speaker: testStudent(),
	})

	require.NoError(t, err)
	system := llm.requests[0].Messages[0].Content
	assert.Contains(t, system, "李明")
	assert.Contains(t, system, affect.EmotionGuide(affect.Avoidant))
	assert.Contains(t, system, "信任度较低")
}

func TestProduceUtteranceEmptyIsValidationError(t *testing.T) {
	a := newTestAgent(t, &fakeLLM{replies: []string{"   "}})

	_, err := a.ProduceUtterance(context.Background(), session.RoleStudent, UtteranceContext{Speaker: testStudent()})

	require.Error(t, err)
	assert.True(t, IsValidationFailure(err))
	assert.False(t, IsTransportFailure(err))
}

func TestProduceUtteranceInvalidRole(t *testing.T) {
	llm := &fakeLLM{}
	a := newTestAgent(t, llm)

	_, err := a.ProduceUtterance(context.Background(), "narrator", UtteranceContext{})

	assert.True(t, IsValidationFailure(err))
	assert.Empty(t, llm.requests)
}

func TestProduceUtteranceTransportFailure(t *testing.T) {
	a := newTestAgent(t, &fakeLLM{err: errors.New("connection reset")})

	_, err := a.ProduceUtterance(context.Background(), session.RoleCounselor, UtteranceContext{Speaker: testCounselor()})

	require.Error(t, err)
	assert.True(t, IsTransportFailure(err))
	assert.Equal(t, CallOutcomeTransport, ClassifyError(err))
}

func TestEvaluateRoundSendsSchema(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{
		"student_state": {"trust_level": 0.35, "openness_level": 0.3, "current_emotion": "calm"},
		"state_transition": {"need_transition": true, "recommended_phase": "exploration", "transition_reason": "关系已建立", "confidence_level": "high"},
		"risk_assessment": {"overall_risk_level": 0, "suicide_risk": 0, "self_harm_risk": 0, "harm_others_risk": 0, "risk_indicators": [], "emergency_required": false, "risk_description": ""},
		"improvement_suggestions": ["多用开放式问题"],
		"next_focus": "了解压力来源"
	}`}}
	a := newTestAgent(t, llm)

	ev, err := a.EvaluateRound(context.Background(), EvaluationContext{
		Round:   3,
		Phase:   phase.Introduction,
		Next:    []phase.Phase{phase.Exploration},
		History: sampleHistory(),
		Student: testStudent(),
	})

	require.NoError(t, err)
	assert.Equal(t, AdvanceTo(phase.Exploration), ev.Transition)
	assert.Equal(t, 0.9, ev.Confidence)
	assert.Equal(t, "了解压力来源", ev.Notes)
	assert.Equal(t, []string{"多用开放式问题"}, ev.Suggestions)
	require.NotNil(t, ev.Observed)
	assert.Equal(t, affect.Calm, ev.Observed.Emotion)

	req := llm.requests[0]
	require.NotNil(t, req.Schema)
	assert.Equal(t, "round_evaluation", req.Schema.Name)
	assert.Contains(t, req.Messages[1].Content, "引入与建立关系阶段")
}

func TestEvaluateRoundMalformedIsSchemaError(t *testing.T) {
	a := newTestAgent(t, &fakeLLM{replies: []string{"当然！以下是评估结果：..."}})

	_, err := a.EvaluateRound(context.Background(), EvaluationContext{Phase: phase.Introduction})

	require.Error(t, err)
	assert.True(t, IsTransportFailure(err))
	assert.Equal(t, CallOutcomeSchema, ClassifyError(err))
}

// =============================================================================
// SCHEMA AND PARSE TESTS
// =============================================================================

func TestEvaluationSchemaIsStrictObject(t *testing.T) {
	data, err := json.Marshal(EvaluationSchema().Schema)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, false, doc["additionalProperties"])
	assert.ElementsMatch(t,
		[]any{"student_state", "state_transition", "risk_assessment", "improvement_suggestions", "next_focus"},
		doc["required"],
	)
}

func TestParseEvaluationRepairsLooseFields(t *testing.T) {
	raw := `{
		"state_transition": {"need_transition": "true", "recommended_phase": "Assessment", "confidence_level": "0.7"},
		"risk_assessment": {"suicide_risk": "7", "self_harm_risk": 2.0, "risk_indicators": "不想活了", "emergency_required": "yes"}
	}`

	ev, err := ParseEvaluation(raw, EvaluationContext{Phase: phase.Exploration, Affect: affect.State{Emotion: affect.Anxious}})

	require.NoError(t, err)
	assert.Equal(t, AdvanceTo(phase.Assessment), ev.Transition)
	assert.Equal(t, 0.7, ev.Confidence)
	assert.Equal(t, 5, ev.Risk.Suicide)
	assert.Equal(t, 2, ev.Risk.SelfHarm)
	assert.Equal(t, 5, ev.Risk.Overall)
	assert.Equal(t, []string{"不想活了"}, ev.Risk.Indicators)
	assert.False(t, ev.Risk.EmergencyRequired)
	assert.Nil(t, ev.Observed)
	assert.Empty(t, ev.Notes)
}

func TestParseEvaluationTransitions(t *testing.T) {
	ec := EvaluationContext{Phase: phase.Exploration}
	tests := []struct {
		name string
		body string
		want TransitionRecommendation
	}{
		{"no transition", `{"need_transition": false, "recommended_phase": "assessment"}`, NoChange()},
		{"none", `{"need_transition": true, "recommended_phase": "none"}`, NoChange()},
		{"same phase", `{"need_transition": true, "recommended_phase": "exploration"}`, NoChange()},
		{"unknown phase", `{"need_transition": true, "recommended_phase": "therapy"}`, NoChange()},
		{"end", `{"need_transition": true, "recommended_phase": "end"}`, EndSession()},
		{"illegal skip is passed through", `{"need_transition": true, "recommended_phase": "scale_recommendation"}`, AdvanceTo(phase.ScaleRecommendation)},
		{"missing", `null`, NoChange()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvaluation(`{"state_transition": `+tt.body+`}`, ec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Transition)
		})
	}
}

func TestParseEvaluationKeepsReportedOverall(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"above categories", `{"overall_risk_level": 4}`, 4},
		{"clamped", `{"overall_risk_level": 9}`, 5},
		{"negative", `{"overall_risk_level": -1}`, 0},
		{"missing", `{}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvaluation(`{"risk_assessment": `+tt.body+`}`, EvaluationContext{})

			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.ReportedOverall)
			assert.Equal(t, 0, ev.Risk.Overall)
			// the reported level alone never sets the flag
			assert.False(t, ev.Risk.EmergencyRequired)
		})
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	s := strings.Repeat("我", 300)

	out := truncate(s, 200)

	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("我", 200)+"...", out)
	assert.Equal(t, "短句", truncate("短句", 200))
}

func TestParseEvaluationRejectsNonObjects(t *testing.T) {
	for _, raw := range []string{"", "null", "[1,2]", "```json\n{}\n```", `"text"`} {
		_, err := ParseEvaluation(raw, EvaluationContext{})
		require.Error(t, err, raw)
		var se *SchemaError
		assert.ErrorAs(t, err, &se, raw)
	}
}

func TestRequestMapsToStateMachineInput(t *testing.T) {
	req, ok := AdvanceTo(phase.Assessment).Request()
	assert.True(t, ok)
	assert.Equal(t, phase.Assessment, *req)

	req, ok = EndSession().Request()
	assert.True(t, ok)
	assert.Nil(t, req)

	_, ok = NoChange().Request()
	assert.False(t, ok)
}

func TestValidateAndNormalizeEvaluation(t *testing.T) {
	assert.Error(t, ValidateEvaluation(nil))
	assert.Error(t, ValidateEvaluation(&Evaluation{Transition: TransitionRecommendation{Kind: "jump"}}))
	assert.Error(t, ValidateEvaluation(&Evaluation{Transition: AdvanceTo("therapy")}))
	assert.Error(t, ValidateEvaluation(&Evaluation{Transition: NoChange(), Confidence: 2}))
	assert.NoError(t, ValidateEvaluation(&Evaluation{Transition: EndSession()}))

	n := NormalizeEvaluation(nil)
	assert.Equal(t, NoChange(), n.Transition)
	assert.True(t, n.Risk.IsZero())

	n = NormalizeEvaluation(&Evaluation{
		Transition: TransitionRecommendation{Kind: "jump", Target: phase.Assessment},
		Confidence: 3,
		Observed:   &affect.State{Trust: 9},
	})
	assert.Equal(t, NoChange(), n.Transition)
	assert.Equal(t, 1.0, n.Confidence)
	assert.Equal(t, 1.0, n.Observed.Trust)
}

// =============================================================================
// RATE LIMIT TESTS
// =============================================================================

func TestRateLimitedPortDelegates(t *testing.T) {
	llm := &fakeLLM{replies: []string{"你好", `{}`}}
	port := NewRateLimitedPort(newTestAgent(t, llm), 0, 0)

	text, err := port.ProduceUtterance(context.Background(), session.RoleCounselor, UtteranceContext{Speaker: testCounselor()})
	require.NoError(t, err)
	assert.Equal(t, "你好", text)

	ev, err := port.EvaluateRound(context.Background(), EvaluationContext{Phase: phase.Introduction})
	require.NoError(t, err)
	assert.Equal(t, NoChange(), ev.Transition)
}

func TestRateLimitedPortHonorsCancellation(t *testing.T) {
	llm := &fakeLLM{replies: []string{"a", "b"}}
	port := NewRateLimitedPort(newTestAgent(t, llm), 0.001, 1)

	_, err := port.ProduceUtterance(context.Background(), session.RoleCounselor, UtteranceContext{Speaker: testCounselor()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = port.ProduceUtterance(ctx, session.RoleCounselor, UtteranceContext{Speaker: testCounselor()})
	require.Error(t, err)
	assert.True(t, IsTransportFailure(err))
	assert.Len(t, llm.requests, 1)
}

func TestRateLimitedLLMSharesLimiter(t *testing.T) {
	llm := &fakeLLM{replies: []string{"a", `{}`}}
	port := NewRateLimitedPort(newTestAgent(t, llm), 0.001, 1)
	direct := NewRateLimitedLLM(llm, port.Limiter())

	_, err := port.ProduceUtterance(context.Background(), session.RoleCounselor, UtteranceContext{Speaker: testCounselor()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = direct.Chat(ctx, ChatRequest{})
	require.Error(t, err)
	assert.Len(t, llm.requests, 1)
}
