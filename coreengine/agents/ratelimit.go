package agents

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/pescn/psy-data-gen/coreengine/session"
)

// RateLimitedPort wraps an AgentPort and spaces calls through a token bucket.
// One RateLimitedPort may be shared by every session of a batch.
type RateLimitedPort struct {
	next    AgentPort
	limiter *rate.Limiter
}

// NewRateLimitedPort limits next to rps calls per second with the given burst.
// A non-positive rps disables limiting.
func NewRateLimitedPort(next AgentPort, rps float64, burst int) *RateLimitedPort {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedPort{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// ProduceUtterance waits for a token, then delegates.
func (p *RateLimitedPort) ProduceUtterance(ctx context.Context, role session.Role, uc UtteranceContext) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", NewTransportError(OpProduceUtterance, fmt.Errorf("rate limit wait: %w", err))
	}
	return p.next.ProduceUtterance(ctx, role, uc)
}

// EvaluateRound waits for a token, then delegates.
func (p *RateLimitedPort) EvaluateRound(ctx context.Context, ec EvaluationContext) (*Evaluation, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, NewTransportError(OpEvaluateRound, fmt.Errorf("rate limit wait: %w", err))
	}
	return p.next.EvaluateRound(ctx, ec)
}

// Limiter returns the token bucket, for sharing with a RateLimitedLLM.
func (p *RateLimitedPort) Limiter() *rate.Limiter {
	return p.limiter
}

// RateLimitedLLM spaces direct provider calls, such as background
// generation, through a limiter shared with the dialogue port.
type RateLimitedLLM struct {
	next    LLMProvider
	limiter *rate.Limiter
}

// NewRateLimitedLLM wraps next with limiter. A nil limiter disables limiting.
func NewRateLimitedLLM(next LLMProvider, limiter *rate.Limiter) *RateLimitedLLM {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &RateLimitedLLM{next: next, limiter: limiter}
}

// Chat waits for a token, then delegates.
func (l *RateLimitedLLM) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return l.next.Chat(ctx, req)
}
