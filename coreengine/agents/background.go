package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pescn/psy-data-gen/coreengine/session"
)

// Background generation modes.
const (
	BackgroundModeRandom = "random"
	BackgroundModeGuided = "guided"
)

// defaultOpening is used when neither the model nor the issue catalog offers one.
const defaultOpening = "老师，我需要您的帮助。"

// =============================================================================
// WIRE SCHEMA
// =============================================================================

type studentBackgroundPayload struct {
	Name             string   `json:"name"`
	Age              int      `json:"age" description:"年龄 (18-25)"`
	Gender           string   `json:"gender" enum:"男,女"`
	Grade            string   `json:"grade"`
	Major            string   `json:"major"`
	FamilyBackground string   `json:"family_background" description:"家庭背景，100-200字"`
	Traits           []string `json:"personality_traits" description:"三个性格特征"`
	Profile          string   `json:"psychological_profile" description:"心理侧写，150-250字"`
	Hidden           string   `json:"hidden_personal_info" description:"深层个人经历，只在建立信任后透露，200-300字"`
	Issue            string   `json:"current_psychological_issue" enum:"academic_anxiety,social_phobia,depression,procrastination,ocd_symptoms,adaptation_issues,relationship_issues,family_conflicts,identity_confusion,sleep_problems"`
	Symptoms         string   `json:"symptom_description" description:"以学生主观体验描述的症状，不含首句问题，200-300字"`
}

type counselorBackgroundPayload struct {
	Name           string   `json:"name"`
	Approach       string   `json:"therapy_approach" enum:"cognitive_behavioral_therapy,humanistic_therapy,psychoanalytic,solution_focused,mindfulness_therapy"`
	Style          string   `json:"communication_style" description:"沟通风格，100-150字"`
	Years          int      `json:"experience_years" description:"从业年限 (3-15)"`
	Specialization []string `json:"specialization" description:"两个专业领域"`
}

type backgroundPayload struct {
	Student         studentBackgroundPayload   `json:"student_info"`
	Counselor       counselorBackgroundPayload `json:"counselor_info"`
	InitialQuestion string                     `json:"initial_question" description:"学生的首句问题，谨慎试探，只谈表面困扰，30-80字"`
}

const backgroundSchemaName = "session_background"

var (
	backgroundSchemaOnce sync.Once
	backgroundSchemaDef  *jsonschema.Definition
	backgroundSchemaErr  error
)

// BackgroundSchema returns the strict response schema for background generation.
func BackgroundSchema() *ResponseSchema {
	backgroundSchemaOnce.Do(func() {
		backgroundSchemaDef, backgroundSchemaErr = jsonschema.GenerateSchemaForType(backgroundPayload{})
	})
	if backgroundSchemaErr != nil {
		panic(fmt.Sprintf("background schema: %v", backgroundSchemaErr))
	}
	return &ResponseSchema{Name: backgroundSchemaName, Schema: backgroundSchemaDef}
}

// =============================================================================
// BACKGROUND
// =============================================================================

// BackgroundRequest selects what to generate. An empty Issue lets the model
// pick one from the catalog.
type BackgroundRequest struct {
	Issue       string
	Description string
}

// Mode returns the generation mode for the request.
func (r BackgroundRequest) Mode() string {
	if r.Issue != "" {
		return BackgroundModeGuided
	}
	return BackgroundModeRandom
}

// BackgroundReport grades a generated background. Problems make it unusable;
// warnings do not.
type BackgroundReport struct {
	Valid        bool     `json:"valid"`
	Problems     []string `json:"problems,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	Completeness float64  `json:"completeness"`
	Consistency  float64  `json:"consistency"`
}

// Background is a generated persona pair plus the student's opening question.
type Background struct {
	Mode      string           `json:"mode"`
	Student   Persona          `json:"student"`
	Counselor Persona          `json:"counselor"`
	Opening   string           `json:"opening"`
	Report    BackgroundReport `json:"report"`
}

// BackgroundGenerator asks a model for session backgrounds.
type BackgroundGenerator struct {
	LLM     LLMProvider
	Logger  Logger
	Options Options
}

// NewBackgroundGenerator creates a new BackgroundGenerator.
func NewBackgroundGenerator(llm LLMProvider, logger Logger, opts Options) (*BackgroundGenerator, error) {
	if llm == nil {
		return nil, errors.New("background generator requires an llm provider")
	}
	if logger == nil {
		return nil, errors.New("background generator requires a logger")
	}
	return &BackgroundGenerator{
		LLM:     llm,
		Logger:  logger.Bind("component", "background_generator"),
		Options: opts,
	}, nil
}

// Generate produces one background. A guided request for an issue outside
// the catalog is a ValidationError, as is a background whose report has
// problems.
func (g *BackgroundGenerator) Generate(ctx context.Context, req BackgroundRequest) (*Background, error) {
	if req.Issue != "" {
		if _, ok := LookupIssue(req.Issue); !ok {
			return nil, NewValidationError("issue", fmt.Sprintf("unknown issue %q", req.Issue))
		}
	}

	ctx, span := tracer.Start(ctx, "agent.generate_background")
	defer span.End()
	span.SetAttributes(
		attribute.String("psygen.background.mode", req.Mode()),
		attribute.String("psygen.background.issue", req.Issue),
	)

	start := time.Now()
	raw, err := g.LLM.Chat(ctx, ChatRequest{
		Messages: []Message{
			{Role: MessageRoleSystem, Content: BackgroundSystemPrompt()},
			{Role: MessageRoleUser, Content: BackgroundPrompt(req)},
		},
		Temperature: g.Options.BackgroundTemperature,
		MaxTokens:   g.Options.BackgroundMaxTokens,
		Schema:      BackgroundSchema(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.Logger.Error("background_failed", "mode", req.Mode(), "error", err.Error())
		return nil, asTransportError(OpGenerateBackground, err)
	}

	bg, err := ParseBackground(raw, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.Logger.Warn("background_rejected", "mode", req.Mode(), "error", err.Error(), "response_preview", truncate(raw, 200))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("psygen.background.issue", bg.Student.Issue),
		attribute.Float64("psygen.background.completeness", bg.Report.Completeness),
	)
	span.SetStatus(codes.Ok, "success")
	g.Logger.Info("background_generated",
		"mode", bg.Mode,
		"issue", bg.Student.Issue,
		"approach", bg.Counselor.Approach,
		"completeness", bg.Report.Completeness,
		"consistency", bg.Report.Consistency,
		"warnings", len(bg.Report.Warnings),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return bg, nil
}

// ParseBackground decodes a background response and turns it into personas.
// A missing opening falls back to the issue's catalog expression, an unknown
// issue to the requested one (or the first in the catalog), and an unknown
// approach to the first one that suits the issue.
func ParseBackground(raw string, req BackgroundRequest) (*Background, error) {
	var p backgroundPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil {
		return nil, NewSchemaError(OpGenerateBackground, raw, err)
	}

	issue, ok := LookupIssue(p.Student.Issue)
	if req.Issue != "" {
		issue, ok = LookupIssue(req.Issue)
	}
	if !ok {
		issue = issues[0]
	}
	approach, ok := LookupApproach(p.Counselor.Approach)
	if !ok {
		approach, _ = LookupApproach(issue.Approaches[0])
	}

	opening := strings.TrimSpace(p.InitialQuestion)
	if opening == "" {
		opening = issue.Expression
	}
	if opening == "" {
		opening = defaultOpening
	}

	report := assessBackground(p, issue, approach, opening)
	if !report.Valid {
		return nil, NewValidationError("background", strings.Join(report.Problems, "; "))
	}

	bg := &Background{
		Mode:      req.Mode(),
		Student:   studentPersona(p.Student, issue, opening),
		Counselor: counselorPersona(p.Counselor, approach),
		Opening:   opening,
		Report:    report,
	}
	if err := bg.Student.Validate(); err != nil {
		return nil, NewValidationError("background.student", err.Error())
	}
	if err := bg.Counselor.Validate(); err != nil {
		return nil, NewValidationError("background.counselor", err.Error())
	}
	return bg, nil
}

// assessBackground checks a decoded background for completeness and internal
// consistency. Lengths are counted in runes.
func assessBackground(p backgroundPayload, issue Issue, approach Approach, opening string) BackgroundReport {
	var r BackgroundReport
	s, c := p.Student, p.Counselor
	length := utf8.RuneCountInString

	if length(strings.TrimSpace(s.Name)) < 2 {
		r.Problems = append(r.Problems, "学生姓名过短")
	}
	if length(strings.TrimSpace(c.Name)) < 2 {
		r.Problems = append(r.Problems, "咨询师姓名过短")
	}
	if s.Age < 18 || s.Age > 25 {
		r.Warnings = append(r.Warnings, "学生年龄不在典型范围内")
	}
	if length(s.FamilyBackground) < 50 {
		r.Warnings = append(r.Warnings, "家庭背景描述过短")
	}
	if length(s.Symptoms) < 100 {
		r.Warnings = append(r.Warnings, "症状描述过短")
	}
	if c.Years < 3 || c.Years > 15 {
		r.Warnings = append(r.Warnings, "咨询师经验年限不在典型范围内")
	}
	if length(c.Style) < 50 {
		r.Warnings = append(r.Warnings, "沟通风格描述过短")
	}
	r.Valid = len(r.Problems) == 0

	checks := []bool{
		length(s.FamilyBackground) >= 100,
		length(s.Profile) >= 150,
		length(s.Hidden) >= 200,
		length(s.Symptoms) >= 200,
		len(s.Traits) >= 3,
		length(c.Style) >= 100,
		len(c.Specialization) >= 2,
		c.Years >= 3 && c.Years <= 15,
		slices.Contains(commonMajors, s.Major),
		slices.Contains(commonGrades, s.Grade),
	}
	r.Completeness = score(checks)

	consistency := []bool{
		issue.Key == p.Student.Issue,
		issue.Suits(approach.Key),
		opening != "" && !strings.Contains(s.Symptoms, opening),
		s.Age >= 18 && s.Age <= 25,
	}
	r.Consistency = score(consistency)
	return r
}

func score(checks []bool) float64 {
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return float64(passed) / float64(len(checks))
}

func studentPersona(s studentBackgroundPayload, issue Issue, opening string) Persona {
	var b strings.Builder
	if s.FamilyBackground != "" {
		fmt.Fprintf(&b, "家庭背景：%s\n", s.FamilyBackground)
	}
	if s.Profile != "" {
		fmt.Fprintf(&b, "心理状态：%s\n", s.Profile)
	}
	if s.Symptoms != "" {
		fmt.Fprintf(&b, "目前的困扰：%s\n", s.Symptoms)
	}

	p := Persona{
		Role:       session.RoleStudent,
		Name:       strings.TrimSpace(s.Name),
		Gender:     s.Gender,
		Age:        s.Age,
		Grade:      s.Grade,
		Major:      s.Major,
		Issue:      issue.Key,
		Traits:     s.Traits,
		Opening:    opening,
		Background: strings.TrimSpace(b.String()),
	}
	if hidden := strings.TrimSpace(s.Hidden); hidden != "" {
		p.Instructions = "以下经历只有在你足够信任咨询师时才会慢慢透露：" + hidden
	}
	return p
}

func counselorPersona(c counselorBackgroundPayload, approach Approach) Persona {
	var b strings.Builder
	if c.Years > 0 {
		fmt.Fprintf(&b, "从业%d年", c.Years)
	}
	if len(c.Specialization) > 0 {
		if b.Len() > 0 {
			b.WriteString("，")
		}
		fmt.Fprintf(&b, "擅长%s", strings.Join(c.Specialization, "、"))
	}

	p := Persona{
		Role:       session.RoleCounselor,
		Name:       strings.TrimSpace(c.Name),
		Approach:   approach.Name,
		Techniques: slices.Clone(approach.Style),
		Background: b.String(),
	}
	if style := strings.TrimSpace(c.Style); style != "" {
		p.Instructions = "沟通风格：" + style
	}
	return p
}
