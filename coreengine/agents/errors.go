package agents

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

// TransportError is a failed or timed-out call to an external agent.
type TransportError struct {
	Operation string
	Cause     error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s transport failure: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("%s transport failure", e.Operation)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a new TransportError.
func NewTransportError(operation string, cause error) *TransportError {
	return &TransportError{Operation: operation, Cause: cause}
}

// SchemaError is a response that could not be decoded as a JSON object.
type SchemaError struct {
	Operation string
	Raw       string
	Cause     error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s returned malformed structured output (%d bytes): %v", e.Operation, len(e.Raw), e.Cause)
}

func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// NewSchemaError creates a new SchemaError.
func NewSchemaError(operation, raw string, cause error) *SchemaError {
	return &SchemaError{Operation: operation, Raw: raw, Cause: cause}
}

// ValidationError is a response that decoded but violates a required
// constraint, such as an empty utterance.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsTransportFailure reports whether err should be handled as a transport
// failure. Malformed structured output counts as one.
func IsTransportFailure(err error) bool {
	var te *TransportError
	var se *SchemaError
	return errors.As(err, &te) || errors.As(err, &se)
}

// IsValidationFailure reports whether err carries a ValidationError.
func IsValidationFailure(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
