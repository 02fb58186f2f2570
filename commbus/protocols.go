// Package commbus is the in-process bus that session events, snapshot
// queries and persistence commands travel over. The orchestrator publishes;
// the registry answers queries; the exporter and the store subscribe.
package commbus

import (
	"context"

	"github.com/pescn/psy-data-gen/coreengine/session"
)

// =============================================================================
// COMMBUS PROTOCOLS
// =============================================================================

// Message is the protocol for all commbus messages.
// All messages (events, queries, commands) must have a category.
type Message interface {
	// Category returns the message category: "event", "query", or "command".
	Category() string
}

// Query is the protocol for query messages that expect a response.
type Query interface {
	Message
	// IsQuery is a marker method to distinguish queries from other messages.
	IsQuery()
}

// HandlerFunc handles one message. Event subscribers and command handlers
// return a nil result.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// Middleware wraps delivery. Before may replace the message or return nil
// to drop it; After sees the handler outcome and may replace the result.
type Middleware interface {
	Before(ctx context.Context, message Message) (Message, error)
	After(ctx context.Context, message Message, result any, err error) (any, error)
}

// CommBus carries session traffic in three patterns:
//   - Publish(event): fan-out to every subscriber
//   - Send(command): one handler, error returned
//   - QuerySync(query): one handler, answer returned
type CommBus interface {
	Publish(ctx context.Context, event Message) error
	Send(ctx context.Context, command Message) error
	QuerySync(ctx context.Context, query Query) (any, error)

	// Subscribe returns a func that removes the subscription.
	Subscribe(eventType string, handler HandlerFunc) func()
	// RegisterHandler fails if messageType already has a handler.
	RegisterHandler(messageType string, handler HandlerFunc) error
	AddMiddleware(middleware Middleware)

	HasHandler(messageType string) bool
	SubscriberCount(eventType string) int
}

// =============================================================================
// INFRASTRUCTURE PROTOCOLS
// =============================================================================

// Logger is the structured logging protocol the bus writes to.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// SnapshotStore persists finished session snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *session.Snapshot) error
	LoadSnapshot(ctx context.Context, id string) (*session.Snapshot, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]SnapshotSummary, error)
}

// SnapshotFilter narrows ListSnapshots.
type SnapshotFilter struct {
	// Reason, when set, matches the termination reason.
	Reason session.TerminationReason
	Limit  int
}

// SnapshotSummary is a listing row for a stored session.
type SnapshotSummary struct {
	ID                string                    `json:"id"`
	TerminationReason session.TerminationReason `json:"termination_reason"`
	Rounds            int                       `json:"rounds"`
	FinalPhase        string                    `json:"final_phase"`
	MaxRisk           int                       `json:"max_risk"`
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
