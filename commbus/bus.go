package commbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("psygen/commbus")

// InMemoryCommBus is the single-process CommBus.
//
// Events fan out to every subscriber concurrently and Publish waits for all
// of them, so a SessionEnded subscriber has finished writing by the time the
// orchestrator returns. Commands and queries go to exactly one handler.
//
//	bus := NewInMemoryCommBus(30*time.Second, logger)
//	bus.RegisterHandler("GetSessionSnapshot", registry.HandleSnapshotQuery)
//	bus.Subscribe("SessionEnded", exporter.onSessionEnded)
type InMemoryCommBus struct {
	handlers     map[string]HandlerFunc
	subscribers  map[string][]subscription
	middleware   []Middleware
	queryTimeout time.Duration
	logger       Logger
	nextSubID    uint64
	mu           sync.RWMutex
}

type subscription struct {
	id      uint64
	handler HandlerFunc
}

// NewInMemoryCommBus creates a bus. A nil logger discards diagnostics.
func NewInMemoryCommBus(queryTimeout time.Duration, logger Logger) *InMemoryCommBus {
	if logger == nil {
		logger = nopLogger{}
	}
	return &InMemoryCommBus{
		handlers:     make(map[string]HandlerFunc),
		subscribers:  make(map[string][]subscription),
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// =============================================================================
// MESSAGING
// =============================================================================

// Publish delivers event to every subscriber of its type and waits for them.
// Subscriber failures and panics are logged and handed to the middleware
// after-chain; they are never returned to the publisher.
func (b *InMemoryCommBus) Publish(ctx context.Context, event Message) error {
	msgType := GetMessageType(event)
	ctx, span := startSpan(ctx, "commbus.publish", msgType)
	defer span.End()

	chain := b.chain()
	processed, err := chain.before(ctx, event)
	if err != nil || processed == nil {
		return b.aborted(span, msgType, err)
	}

	subs := b.snapshotSubscribers(msgType)
	span.SetAttributes(attribute.Int("commbus.subscribers", len(subs)))

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, h := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = b.deliver(ctx, msgType, i, h, processed)
		}()
	}
	wg.Wait()

	joined := errors.Join(errs...)
	if joined != nil {
		span.SetStatus(codes.Error, "subscriber failed")
	}
	_, _ = chain.after(ctx, event, nil, joined)
	return nil
}

func (b *InMemoryCommBus) deliver(ctx context.Context, msgType string, idx int, h HandlerFunc, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
			b.logger.Error("commbus_subscriber_panicked", "type", msgType, "subscriber", idx, "panic", fmt.Sprint(r))
		}
	}()
	if _, err = h(ctx, msg); err != nil {
		b.logger.Warn("commbus_subscriber_failed", "type", msgType, "subscriber", idx, "error", err.Error())
	}
	return err
}

// Send delivers command to its handler and returns the handler's error. A
// command without a handler is dropped.
func (b *InMemoryCommBus) Send(ctx context.Context, command Message) error {
	msgType := GetMessageType(command)
	ctx, span := startSpan(ctx, "commbus.send", msgType)
	defer span.End()

	chain := b.chain()
	processed, err := chain.before(ctx, command)
	if err != nil || processed == nil {
		return b.aborted(span, msgType, err)
	}

	handler, ok := b.handler(msgType)
	if !ok {
		b.logger.Debug("commbus_no_handler", "type", msgType)
		return nil
	}

	_, herr := handler(ctx, processed)
	if herr != nil {
		b.logger.Warn("commbus_command_failed", "type", msgType, "error", herr.Error())
		span.RecordError(herr)
		span.SetStatus(codes.Error, herr.Error())
	}
	_, _ = chain.after(ctx, command, nil, herr)
	return herr
}

// QuerySync runs query's handler and waits at most the bus query timeout
// for its answer.
func (b *InMemoryCommBus) QuerySync(ctx context.Context, query Query) (any, error) {
	msgType := GetMessageType(query)
	ctx, span := startSpan(ctx, "commbus.query", msgType)
	defer span.End()

	chain := b.chain()
	processed, err := chain.before(ctx, query)
	if err != nil {
		return nil, b.aborted(span, msgType, err)
	}
	if processed == nil {
		return nil, NewNoHandlerError(msgType)
	}

	handler, ok := b.handler(msgType)
	if !ok {
		return nil, NewNoHandlerError(msgType)
	}

	queryCtx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	type answer struct {
		value any
		err   error
	}
	done := make(chan answer, 1)
	go func() {
		v, e := handler(queryCtx, processed)
		done <- answer{v, e}
	}()

	var res answer
	select {
	case <-queryCtx.Done():
		res.err = NewQueryTimeoutError(msgType, b.queryTimeout)
	case res = <-done:
	}
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}

	value, merr := chain.after(ctx, query, res.value, res.err)
	if merr != nil {
		return value, merr
	}
	return value, res.err
}

func (b *InMemoryCommBus) aborted(span trace.Span, msgType string, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Bool("commbus.aborted", true))
	b.logger.Debug("commbus_message_aborted", "type", msgType)
	return nil
}

func startSpan(ctx context.Context, name, msgType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("commbus.type", msgType)))
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Subscribe adds handler for eventType. The returned func removes it and is
// safe to call more than once.
func (b *InMemoryCommBus) Subscribe(eventType string, handler HandlerFunc) func() {
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	b.logger.Debug("commbus_subscribed", "type", eventType)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, id) })
	}
}

func (b *InMemoryCommBus) unsubscribe(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(b.subscribers, eventType)
		} else {
			b.subscribers[eventType] = subs
		}
		return
	}
}

// RegisterHandler installs the single handler for messageType.
func (b *InMemoryCommBus) RegisterHandler(messageType string, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[messageType]; exists {
		return NewHandlerAlreadyRegisteredError(messageType)
	}
	b.handlers[messageType] = handler
	b.logger.Debug("commbus_handler_registered", "type", messageType)
	return nil
}

// UnregisterHandler removes the handler for messageType, if any.
func (b *InMemoryCommBus) UnregisterHandler(messageType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, messageType)
}

// AddMiddleware appends middleware. Before hooks run in registration order,
// After hooks in reverse.
func (b *InMemoryCommBus) AddMiddleware(middleware Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware)
}

// HasHandler reports whether messageType has a handler.
func (b *InMemoryCommBus) HasHandler(messageType string) bool {
	_, ok := b.handler(messageType)
	return ok
}

// SubscriberCount returns the number of subscribers of eventType.
func (b *InMemoryCommBus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}

func (b *InMemoryCommBus) handler(msgType string) (HandlerFunc, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[msgType]
	return h, ok
}

func (b *InMemoryCommBus) snapshotSubscribers(eventType string) []HandlerFunc {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subscribers[eventType]
	out := make([]HandlerFunc, len(subs))
	for i, s := range subs {
		out[i] = s.handler
	}
	return out
}

// =============================================================================
// MIDDLEWARE CHAIN
// =============================================================================

// middlewareChain is a copy of the bus middleware taken when a message
// enters, so AddMiddleware during delivery does not affect it.
type middlewareChain []Middleware

func (b *InMemoryCommBus) chain() middlewareChain {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append(middlewareChain(nil), b.middleware...)
}

// before returns nil, nil when a middleware aborts the message.
func (c middlewareChain) before(ctx context.Context, msg Message) (Message, error) {
	for _, mw := range c {
		next, err := mw.Before(ctx, msg)
		if err != nil || next == nil {
			return nil, err
		}
		msg = next
	}
	return msg, nil
}

func (c middlewareChain) after(ctx context.Context, msg Message, result any, err error) (any, error) {
	for i := len(c) - 1; i >= 0; i-- {
		r, merr := c[i].After(ctx, msg, result, err)
		if merr != nil {
			err = merr
		}
		if r != nil {
			result = r
		}
	}
	return result, err
}

var _ CommBus = (*InMemoryCommBus)(nil)
