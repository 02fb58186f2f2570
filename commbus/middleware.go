package commbus

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// LOGGING
// =============================================================================

// LoggingMiddleware logs traffic at debug level and failures at warn level.
type LoggingMiddleware struct {
	logger Logger
}

func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	if logger == nil {
		logger = nopLogger{}
	}
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Before(_ context.Context, message Message) (Message, error) {
	m.logger.Debug("commbus_message", "category", message.Category(), "type", GetMessageType(message))
	return message, nil
}

func (m *LoggingMiddleware) After(_ context.Context, message Message, result any, err error) (any, error) {
	if err != nil {
		m.logger.Warn("commbus_message_failed", "type", GetMessageType(message), "error", err.Error())
		return result, nil
	}
	m.logger.Debug("commbus_message_completed", "type", GetMessageType(message))
	return result, nil
}

// =============================================================================
// CIRCUIT BREAKER
// =============================================================================

// CircuitState is the state of one message type's circuit.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

type circuit struct {
	state       CircuitState
	failures    int
	lastFailure time.Time
}

// CircuitBreakerMiddleware stops delivering a message type after repeated
// failures. Used for PersistSnapshot so a dead database does not add a
// failed write to every finished session: once failureThreshold consecutive
// failures are seen the type is dropped until resetTimeout has passed, then
// one message is let through half-open. A threshold of 0 never opens.
type CircuitBreakerMiddleware struct {
	failureThreshold int
	resetTimeout     time.Duration
	excluded         map[string]struct{}
	circuits         map[string]*circuit
	logger           Logger
	now              func() time.Time
	mu               sync.Mutex
}

// NewCircuitBreakerMiddleware creates a breaker. excludedTypes are never
// tracked.
func NewCircuitBreakerMiddleware(failureThreshold int, resetTimeout time.Duration, excludedTypes []string, logger Logger) *CircuitBreakerMiddleware {
	if logger == nil {
		logger = nopLogger{}
	}
	excluded := make(map[string]struct{}, len(excludedTypes))
	for _, t := range excludedTypes {
		excluded[t] = struct{}{}
	}
	return &CircuitBreakerMiddleware{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		excluded:         excluded,
		circuits:         make(map[string]*circuit),
		logger:           logger,
		now:              time.Now,
	}
}

// circuitFor returns the circuit for msgType, or nil when it is excluded.
// Callers hold m.mu.
func (m *CircuitBreakerMiddleware) circuitFor(msgType string) *circuit {
	if _, ok := m.excluded[msgType]; ok {
		return nil
	}
	c, ok := m.circuits[msgType]
	if !ok {
		c = &circuit{state: CircuitClosed}
		m.circuits[msgType] = c
	}
	return c
}

// Before drops the message while its circuit is open.
func (m *CircuitBreakerMiddleware) Before(_ context.Context, message Message) (Message, error) {
	msgType := GetMessageType(message)

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.circuitFor(msgType)
	if c == nil || c.state != CircuitOpen {
		return message, nil
	}
	if m.now().Sub(c.lastFailure) < m.resetTimeout {
		m.logger.Debug("circuit_open_dropped", "type", msgType)
		return nil, nil
	}
	c.state = CircuitHalfOpen
	m.logger.Info("circuit_half_open", "type", msgType)
	return message, nil
}

// After records the outcome.
func (m *CircuitBreakerMiddleware) After(_ context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.circuitFor(msgType)
	if c == nil {
		return result, nil
	}

	if err == nil {
		if c.state == CircuitHalfOpen {
			m.logger.Info("circuit_closed", "type", msgType)
		}
		c.state = CircuitClosed
		c.failures = 0
		return result, nil
	}

	c.failures++
	c.lastFailure = m.now()
	switch {
	case c.state == CircuitHalfOpen:
		c.state = CircuitOpen
		m.logger.Warn("circuit_reopened", "type", msgType)
	case c.state == CircuitClosed && m.failureThreshold > 0 && c.failures >= m.failureThreshold:
		c.state = CircuitOpen
		m.logger.Warn("circuit_opened", "type", msgType, "failures", c.failures)
	}
	return result, nil
}

// States returns the state of every tracked message type.
func (m *CircuitBreakerMiddleware) States() map[string]CircuitState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]CircuitState, len(m.circuits))
	for t, c := range m.circuits {
		out[t] = c.state
	}
	return out
}

// Reset forgets msgType's circuit, or every circuit when msgType is empty.
func (m *CircuitBreakerMiddleware) Reset(msgType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msgType == "" {
		m.circuits = make(map[string]*circuit)
		return
	}
	delete(m.circuits, msgType)
}

var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = (*CircuitBreakerMiddleware)(nil)
)
