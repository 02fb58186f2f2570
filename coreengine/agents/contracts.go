package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// CALL OUTCOMES
// =============================================================================

// CallOutcome classifies the result of one port call.
type CallOutcome string

const (
	// CallOutcomeSuccess means the call returned a usable result.
	CallOutcomeSuccess CallOutcome = "success"
	// CallOutcomeTimeout means the per-call deadline elapsed.
	CallOutcomeTimeout CallOutcome = "timeout"
	// CallOutcomeTransport means the call failed in transit.
	CallOutcomeTransport CallOutcome = "transport_error"
	// CallOutcomeSchema means the response was not the structured output asked for.
	CallOutcomeSchema CallOutcome = "schema_error"
	// CallOutcomeValidation means the response decoded but broke a constraint.
	CallOutcomeValidation CallOutcome = "validation_error"
	// CallOutcomePanic means the port panicked.
	CallOutcomePanic CallOutcome = "panic"
)

// CallOutcomeFromString parses an outcome string.
func CallOutcomeFromString(value string) (CallOutcome, error) {
	normalized := CallOutcome(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case CallOutcomeSuccess, CallOutcomeTimeout, CallOutcomeTransport,
		CallOutcomeSchema, CallOutcomeValidation, CallOutcomePanic:
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid call outcome '%s'. Must be one of: success, timeout, transport_error, schema_error, validation_error, panic", value)
	}
}

// IsSuccess checks if this outcome indicates successful completion.
func (o CallOutcome) IsSuccess() bool {
	return o == CallOutcomeSuccess
}

// IsFatal checks if this outcome ends the session.
func (o CallOutcome) IsFatal() bool {
	return o != CallOutcomeSuccess
}

// PanicError is a recovered panic from a port implementation.
type PanicError struct {
	Operation string
	Value     any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Operation, e.Value)
}

// NewPanicError creates a new PanicError.
func NewPanicError(operation string, value any) *PanicError {
	return &PanicError{Operation: operation, Value: value}
}

// ClassifyError maps a port error to its CallOutcome. Timeouts are reported
// separately from other transport failures.
func ClassifyError(err error) CallOutcome {
	var (
		pe *PanicError
		se *SchemaError
		ve *ValidationError
	)
	switch {
	case err == nil:
		return CallOutcomeSuccess
	case errors.As(err, &pe):
		return CallOutcomePanic
	case errors.Is(err, context.DeadlineExceeded):
		return CallOutcomeTimeout
	case errors.As(err, &se):
		return CallOutcomeSchema
	case errors.As(err, &ve):
		return CallOutcomeValidation
	default:
		return CallOutcomeTransport
	}
}
