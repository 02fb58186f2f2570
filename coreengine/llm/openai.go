// Package llm adapts OpenAI-compatible chat completion endpoints to
// agents.LLMProvider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pescn/psy-data-gen/coreengine/agents"
	"github.com/pescn/psy-data-gen/coreengine/observability"
)

var tracer = otel.Tracer("psygen/llm")

// Config configures an OpenAIProvider.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// MaxRetries bounds retries of transient failures (429, 5xx, network).
	MaxRetries     int
	InitialBackoff time.Duration

	HTTPClient *http.Client
}

// OpenAIProvider implements agents.LLMProvider over the chat completions API.
type OpenAIProvider struct {
	client         *openai.Client
	model          string
	maxRetries     int
	initialBackoff time.Duration
	logger         agents.Logger
}

// NewOpenAIProvider creates an OpenAIProvider.
func NewOpenAIProvider(cfg Config, logger agents.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: model is required")
	}
	if logger == nil {
		return nil, errors.New("llm: logger is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		maxRetries:     retries,
		initialBackoff: initial,
		logger:         logger.Bind("model", cfg.Model),
	}, nil
}

// Model returns the configured model name.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Chat sends one completion request and returns the first choice's content.
// A request carrying a Schema asks for strict JSON schema output.
func (p *OpenAIProvider) Chat(ctx context.Context, req agents.ChatRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", p.model),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Bool("llm.structured", req.Schema != nil),
	)

	creq := p.buildRequest(req)

	start := time.Now()
	attempt := 0
	content, err := backoff.RetryNotifyWithData(func() (string, error) {
		attempt++
		return p.complete(ctx, creq)
	}, p.policy(ctx), func(err error, wait time.Duration) {
		p.logger.Warn("llm_call_retry", "attempt", attempt, "wait_ms", wait.Milliseconds(), "error", err.Error())
	})
	durationMS := int(time.Since(start).Milliseconds())

	if err != nil {
		observability.RecordLLMCall(p.model, "error", durationMS)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("chat completion after %d attempt(s): %w", attempt, err)
	}

	observability.RecordLLMCall(p.model, "success", durationMS)
	span.SetAttributes(attribute.Int("llm.attempts", attempt))
	span.SetStatus(codes.Ok, "success")
	p.logger.Debug("llm_call_completed", "attempts", attempt, "duration_ms", durationMS)
	return content, nil
}

func (p *OpenAIProvider) buildRequest(req agents.ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	creq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.Schema != nil {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: req.Schema.Schema,
				Strict: true,
			},
		}
	}
	return creq
}

func (p *OpenAIProvider) complete(ctx context.Context, creq openai.ChatCompletionRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		if !retryable(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", backoff.Permanent(errors.New("completion returned no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialBackoff
	b.MaxInterval = 20 * p.initialBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.maxRetries)), ctx)
}

// retryable reports whether err is worth another attempt: rate limiting,
// server errors and network failures are; other API errors and context
// errors are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

var _ agents.LLMProvider = (*OpenAIProvider)(nil)
