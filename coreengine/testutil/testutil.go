// Package testutil provides shared test utilities and mocks for integration tests.
//
// All mocks in this package are designed for testing the coreengine components
// in isolation without requiring a model endpoint.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pescn/psy-data-gen/coreengine/agents"
	"github.com/pescn/psy-data-gen/coreengine/config"
	"github.com/pescn/psy-data-gen/coreengine/phase"
	"github.com/pescn/psy-data-gen/coreengine/risk"
	"github.com/pescn/psy-data-gen/coreengine/session"
)

// =============================================================================
// MOCK LLM PROVIDER
// =============================================================================

// MockLLMProvider implements agents.LLMProvider for testing.
// Configure responses by system prompt substring or use DefaultResponse.
type MockLLMProvider struct {
	// Responses maps substrings of the first message to responses.
	Responses map[string]string

	// DefaultResponse is returned when nothing matches.
	DefaultResponse string

	// Delay simulates LLM latency.
	Delay time.Duration

	// Error causes Chat to return this error.
	Error error

	// CallCount tracks the number of Chat calls.
	CallCount int

	// Calls records all requests for assertion.
	Calls []agents.ChatRequest

	// ChatFunc allows custom logic. If set, it is called instead of Responses.
	ChatFunc func(context.Context, agents.ChatRequest) (string, error)

	mu sync.Mutex
}

// NewMockLLMProvider creates a MockLLMProvider with sensible defaults.
func NewMockLLMProvider() *MockLLMProvider {
	return &MockLLMProvider{
		Responses:       make(map[string]string),
		DefaultResponse: "嗯，我明白了。",
	}
}

// Chat implements agents.LLMProvider.
func (m *MockLLMProvider) Chat(ctx context.Context, req agents.ChatRequest) (string, error) {
	m.mu.Lock()
	m.CallCount++
	m.Calls = append(m.Calls, req)
	customFunc := m.ChatFunc
	m.mu.Unlock()

	if customFunc != nil {
		return customFunc(ctx, req)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if m.Error != nil {
		return "", m.Error
	}

	if len(req.Messages) > 0 {
		for key, response := range m.Responses {
			if strings.Contains(req.Messages[0].Content, key) {
				return response, nil
			}
		}
	}

	return m.DefaultResponse, nil
}

// WithResponse adds a substring-matched response.
func (m *MockLLMProvider) WithResponse(key, response string) *MockLLMProvider {
	m.Responses[key] = response
	return m
}

// WithError configures the mock to return an error.
func (m *MockLLMProvider) WithError(err error) *MockLLMProvider {
	m.Error = err
	return m
}

// WithDelay adds latency simulation.
func (m *MockLLMProvider) WithDelay(d time.Duration) *MockLLMProvider {
	m.Delay = d
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockLLMProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Reset clears call history.
func (m *MockLLMProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount = 0
	m.Calls = nil
}

// =============================================================================
// MOCK AGENT PORT
// =============================================================================

// MockPort implements agents.AgentPort for testing.
//
// Utterances come from UtteranceFunc when set, otherwise from the scripted
// per-role lines (the last line repeats), otherwise a generic line.
// Evaluations come from EvaluateFunc when set, otherwise from the scripted
// sequence (the last entry repeats), otherwise a no-change evaluation.
type MockPort struct {
	StudentLines   []string
	CounselorLines []string
	Evaluations    []agents.Evaluation

	UtteranceFunc func(context.Context, session.Role, agents.UtteranceContext) (string, error)
	EvaluateFunc  func(context.Context, agents.EvaluationContext) (*agents.Evaluation, error)

	// UtteranceError and EvaluateError fail every call of that kind.
	UtteranceError error
	EvaluateError  error

	// Delay simulates latency on every call and honors cancellation.
	Delay time.Duration

	utteranceCalls map[session.Role]int
	evaluateCalls  int
	utterances     []agents.UtteranceContext
	evaluations    []agents.EvaluationContext

	mu sync.Mutex
}

// NewMockPort creates a MockPort that never requests a transition.
func NewMockPort() *MockPort {
	return &MockPort{
		utteranceCalls: make(map[session.Role]int),
	}
}

// ProduceUtterance implements agents.AgentPort.
func (m *MockPort) ProduceUtterance(ctx context.Context, role session.Role, uc agents.UtteranceContext) (string, error) {
	m.mu.Lock()
	if m.utteranceCalls == nil {
		m.utteranceCalls = make(map[session.Role]int)
	}
	n := m.utteranceCalls[role]
	m.utteranceCalls[role] = n + 1
	m.utterances = append(m.utterances, uc)
	customFunc := m.UtteranceFunc
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if customFunc != nil {
		return customFunc(ctx, role, uc)
	}
	if m.UtteranceError != nil {
		return "", m.UtteranceError
	}

	lines := m.StudentLines
	if role == session.RoleCounselor {
		lines = m.CounselorLines
	}
	if len(lines) == 0 {
		return fmt.Sprintf("%s line %d", role, n+1), nil
	}
	if n >= len(lines) {
		n = len(lines) - 1
	}
	return lines[n], nil
}

// EvaluateRound implements agents.AgentPort.
func (m *MockPort) EvaluateRound(ctx context.Context, ec agents.EvaluationContext) (*agents.Evaluation, error) {
	m.mu.Lock()
	n := m.evaluateCalls
	m.evaluateCalls++
	m.evaluations = append(m.evaluations, ec)
	customFunc := m.EvaluateFunc
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if customFunc != nil {
		return customFunc(ctx, ec)
	}
	if m.EvaluateError != nil {
		return nil, m.EvaluateError
	}

	if len(m.Evaluations) == 0 {
		return &agents.Evaluation{Transition: agents.NoChange(), Confidence: 0.5}, nil
	}
	if n >= len(m.Evaluations) {
		n = len(m.Evaluations) - 1
	}
	ev := m.Evaluations[n]
	return &ev, nil
}

func (m *MockPort) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(m.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UtteranceCalls returns how often role was asked to speak (thread-safe).
func (m *MockPort) UtteranceCalls(role session.Role) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.utteranceCalls[role]
}

// EvaluateCalls returns the number of evaluations requested (thread-safe).
func (m *MockPort) EvaluateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluateCalls
}

// UtteranceContexts returns copies of every utterance context received.
func (m *MockPort) UtteranceContexts() []agents.UtteranceContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]agents.UtteranceContext, len(m.utterances))
	copy(copied, m.utterances)
	return copied
}

// EvaluationContexts returns copies of every evaluation context received.
func (m *MockPort) EvaluationContexts() []agents.EvaluationContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]agents.EvaluationContext, len(m.evaluations))
	copy(copied, m.evaluations)
	return copied
}

// =============================================================================
// EVALUATION HELPERS
// =============================================================================

// Stay returns an evaluation that keeps the current phase.
func Stay() agents.Evaluation {
	return agents.Evaluation{Transition: agents.NoChange(), Confidence: 0.6}
}

// Advance returns an evaluation requesting a move to p.
func Advance(p phase.Phase) agents.Evaluation {
	return agents.Evaluation{Transition: agents.AdvanceTo(p), Confidence: 0.8, Reason: "ready"}
}

// End returns an evaluation signaling the end of the session.
func End() agents.Evaluation {
	return agents.Evaluation{Transition: agents.EndSession(), Confidence: 0.9, Reason: "done"}
}

// WithRisk returns ev carrying an external risk vector.
func WithRisk(ev agents.Evaluation, suicide, selfHarm, harmOthers int, emergency bool) agents.Evaluation {
	ev.Risk = risk.NewVector(suicide, selfHarm, harmOthers, nil, emergency, "")
	return ev
}

// =============================================================================
// MOCK LOGGER
// =============================================================================

// MockLogger implements agents.Logger for testing.
type MockLogger struct {
	// Logs captures all log entries.
	Logs []LogEntry

	bound map[string]any
	root  *MockLogger
	mu    sync.Mutex
}

// LogEntry represents a captured log entry.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// NewMockLogger creates a MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{
		Logs: make([]LogEntry, 0),
	}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.log("debug", msg, keysAndValues...)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.log("info", msg, keysAndValues...)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.log("warn", msg, keysAndValues...)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.log("error", msg, keysAndValues...)
}

// Bind returns a logger that records into the same buffer with extra fields.
func (m *MockLogger) Bind(fields ...any) agents.Logger {
	bound := make(map[string]any, len(m.bound)+len(fields)/2)
	for k, v := range m.bound {
		bound[k] = v
	}
	addFields(bound, fields)
	return &MockLogger{bound: bound, root: m.sink()}
}

func (m *MockLogger) sink() *MockLogger {
	if m.root != nil {
		return m.root
	}
	return m
}

func (m *MockLogger) log(level, msg string, keysAndValues ...any) {
	fields := make(map[string]any, len(m.bound)+len(keysAndValues)/2)
	for k, v := range m.bound {
		fields[k] = v
	}
	addFields(fields, keysAndValues)

	sink := m.sink()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.Logs = append(sink.Logs, LogEntry{
		Level:   level,
		Message: msg,
		Fields:  fields,
	})
}

func addFields(dst map[string]any, keysAndValues []any) {
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			dst[key] = keysAndValues[i+1]
		}
	}
}

// GetLogs returns captured logs (thread-safe).
func (m *MockLogger) GetLogs() []LogEntry {
	sink := m.sink()
	sink.mu.Lock()
	defer sink.mu.Unlock()

	copied := make([]LogEntry, len(sink.Logs))
	copy(copied, sink.Logs)
	return copied
}

// HasLog checks if a log message exists at the given level.
func (m *MockLogger) HasLog(level, message string) bool {
	for _, log := range m.GetLogs() {
		if log.Level == level && log.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured logs.
func (m *MockLogger) Clear() {
	sink := m.sink()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.Logs = nil
}

// =============================================================================
// FIXTURES
// =============================================================================

// NewTestConfig returns a validated CoreConfig with a fixed seed and short
// limits suitable for tests.
func NewTestConfig(maxRounds int) *config.CoreConfig {
	seed := int64(42)
	cfg := config.DefaultCoreConfig()
	cfg.MaxRounds = maxRounds
	cfg.MinRoundsPerPhase = 1
	cfg.MaxRoundsPerPhase = maxRounds
	cfg.CallTimeoutSeconds = 5
	cfg.Seed = &seed
	return cfg
}

// NewTestStudent returns a minimal valid student persona.
func NewTestStudent() agents.Persona {
	return agents.Persona{
		Role:   session.RoleStudent,
		Name:   "小林",
		Gender: "男",
		Age:    20,
		Grade:  "大二",
		Major:  "计算机科学",
		Issue:  "academic_anxiety",
		Traits: []string{"内向"},
	}
}

// NewTestCounselor returns a minimal valid counselor persona.
func NewTestCounselor() agents.Persona {
	return agents.Persona{
		Role:     session.RoleCounselor,
		Name:     "王老师",
		Approach: "以人为中心",
	}
}

// =============================================================================
// ASSERTION HELPERS
// =============================================================================

// AssertEnded returns an error unless snap ended for reason.
func AssertEnded(snap *session.Snapshot, reason session.TerminationReason) error {
	if snap == nil {
		return fmt.Errorf("expected snapshot, got nil")
	}
	if !snap.Terminal {
		return fmt.Errorf("expected terminal session, still running at round %d", snap.CurrentRound)
	}
	if snap.TerminationReason != reason {
		return fmt.Errorf("expected termination reason %s, got %s", reason, snap.TerminationReason)
	}
	return nil
}

// AssertRoundsMonotonic returns an error if any turn's round precedes the
// previous one.
func AssertRoundsMonotonic(snap *session.Snapshot) error {
	for i := 1; i < len(snap.History); i++ {
		if snap.History[i].RoundNumber < snap.History[i-1].RoundNumber {
			return fmt.Errorf("turn %d round %d precedes turn %d round %d",
				i, snap.History[i].RoundNumber, i-1, snap.History[i-1].RoundNumber)
		}
	}
	return nil
}

// AssertPhasesOrdered returns an error if a counselor turn's phase regresses.
func AssertPhasesOrdered(snap *session.Snapshot) error {
	last := -1
	for i, t := range snap.History {
		if t.Speaker != session.RoleCounselor || t.Phase == nil {
			continue
		}
		o := t.Phase.Order()
		if o < last {
			return fmt.Errorf("turn %d phase %s regresses", i, *t.Phase)
		}
		last = o
	}
	return nil
}
