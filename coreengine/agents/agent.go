package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pescn/psy-data-gen/coreengine/session"
)

// Chat message roles.
const (
	MessageRoleSystem    = "system"
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// Message is one chat message sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseSchema asks the provider for strict structured output.
type ResponseSchema struct {
	Name   string
	Schema json.Marshaler
}

// ChatRequest is a single chat completion request.
type ChatRequest struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
	// Schema, when set, requires the reply to be a JSON object conforming to it.
	Schema *ResponseSchema
}

// LLMProvider is the interface for LLM providers.
type LLMProvider interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// Logger is the interface for logging.
type Logger interface {
	Info(msg string, fields ...any)
	Debug(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Bind(fields ...any) Logger
}

var tracer = otel.Tracer("psygen/agents")

// Options tunes the model calls a DialogueAgent or BackgroundGenerator makes.
type Options struct {
	Temperature           float32
	MaxTokens             int
	EvaluatorTemperature  float32
	EvaluatorMaxTokens    int
	BackgroundTemperature float32
	BackgroundMaxTokens   int
}

// DefaultOptions returns the generation defaults.
func DefaultOptions() Options {
	return Options{
		Temperature:           0.8,
		MaxTokens:             1000,
		EvaluatorTemperature:  0.2,
		EvaluatorMaxTokens:    1500,
		BackgroundTemperature: 0.9,
		BackgroundMaxTokens:   3000,
	}
}

// DialogueAgent is the single AgentPort implementation backed by an LLM.
// Behavior is selected by the Persona in each request.
type DialogueAgent struct {
	LLM     LLMProvider
	Logger  Logger
	Options Options
}

// NewDialogueAgent creates a new DialogueAgent.
func NewDialogueAgent(llm LLMProvider, logger Logger, opts Options) (*DialogueAgent, error) {
	if llm == nil {
		return nil, errors.New("dialogue agent requires an llm provider")
	}
	if logger == nil {
		return nil, errors.New("dialogue agent requires a logger")
	}
	return &DialogueAgent{
		LLM:     llm,
		Logger:  logger.Bind("component", "dialogue_agent"),
		Options: opts,
	}, nil
}

// ProduceUtterance asks the model to speak as uc.Speaker.
func (a *DialogueAgent) ProduceUtterance(ctx context.Context, role session.Role, uc UtteranceContext) (string, error) {
	if !role.IsValid() {
		return "", NewValidationError("role", fmt.Sprintf("unknown role %q", role))
	}
	ctx, span := tracer.Start(ctx, "agent.produce_utterance")
	defer span.End()
	span.SetAttributes(
		attribute.String("psygen.session.id", uc.SessionID),
		attribute.String("psygen.role", string(role)),
		attribute.String("psygen.phase", string(uc.Phase)),
		attribute.Int("psygen.round", uc.Round),
	)

	var system string
	if role == session.RoleCounselor {
		system = CounselorSystemPrompt(uc.Speaker, uc.Listener, uc.Phase)
	} else {
		system = StudentSystemPrompt(uc.Speaker, uc.Affect)
	}
	messages := append([]Message{{Role: MessageRoleSystem, Content: system}}, ConvertHistory(uc.History, role)...)

	start := time.Now()
	text, err := a.LLM.Chat(ctx, ChatRequest{
		Messages:    messages,
		Temperature: a.Options.Temperature,
		MaxTokens:   a.Options.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.Logger.Error("utterance_failed", "role", role, "round", uc.Round, "error", err.Error())
		return "", asTransportError(OpProduceUtterance, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		err := NewValidationError("utterance", fmt.Sprintf("%s produced an empty utterance", role))
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetStatus(codes.Ok, "success")
	a.Logger.Debug("utterance_produced",
		"role", role,
		"round", uc.Round,
		"length", len([]rune(text)),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

// EvaluateRound asks the model for a structured round evaluation.
func (a *DialogueAgent) EvaluateRound(ctx context.Context, ec EvaluationContext) (*Evaluation, error) {
	ctx, span := tracer.Start(ctx, "agent.evaluate_round")
	defer span.End()
	span.SetAttributes(
		attribute.String("psygen.session.id", ec.SessionID),
		attribute.String("psygen.phase", string(ec.Phase)),
		attribute.Int("psygen.round", ec.Round),
	)

	raw, err := a.LLM.Chat(ctx, ChatRequest{
		Messages: []Message{
			{Role: MessageRoleSystem, Content: EvaluatorSystemPrompt()},
			{Role: MessageRoleUser, Content: EvaluationPrompt(ec)},
		},
		Temperature: a.Options.EvaluatorTemperature,
		MaxTokens:   a.Options.EvaluatorMaxTokens,
		Schema:      EvaluationSchema(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.Logger.Error("evaluation_failed", "round", ec.Round, "error", err.Error())
		return nil, asTransportError(OpEvaluateRound, err)
	}

	ev, err := ParseEvaluation(raw, ec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.Logger.Warn("evaluation_rejected", "round", ec.Round, "error", err.Error(), "response_preview", truncate(raw, 200))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("psygen.transition", ev.Transition.String()),
		attribute.Int("psygen.risk.overall", ev.Risk.Overall),
	)
	span.SetStatus(codes.Ok, "success")
	return ev, nil
}

// ConvertHistory renders the dialogue from speaker's perspective: its own
// turns are "assistant" and the other party's are "user". The result always
// ends with a user message so the model has something to answer.
func ConvertHistory(history []session.Turn, speaker session.Role) []Message {
	out := make([]Message, 0, len(history)+1)
	for _, t := range history {
		role := MessageRoleUser
		if t.Speaker == speaker {
			role = MessageRoleAssistant
		}
		out = append(out, Message{Role: role, Content: t.Content})
	}
	if len(out) == 0 || out[len(out)-1].Role != MessageRoleUser {
		out = append(out, Message{Role: MessageRoleUser, Content: "（请继续）"})
	}
	return out
}

func asTransportError(op string, err error) error {
	if IsTransportFailure(err) || IsValidationFailure(err) {
		return err
	}
	return NewTransportError(op, err)
}

// truncate cuts s to at most maxRunes runes.
func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes]) + "..."
}
