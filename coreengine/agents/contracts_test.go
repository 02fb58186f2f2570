package agents

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CALL OUTCOME TESTS
// =============================================================================

func TestCallOutcomeFromString(t *testing.T) {
	outcome, err := CallOutcomeFromString("  Schema_Error ")
	require.NoError(t, err)
	assert.Equal(t, CallOutcomeSchema, outcome)

	_, err = CallOutcomeFromString("ok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid call outcome 'ok'")
}

func TestCallOutcomeFlags(t *testing.T) {
	assert.True(t, CallOutcomeSuccess.IsSuccess())
	assert.False(t, CallOutcomeSuccess.IsFatal())

	for _, o := range []CallOutcome{CallOutcomeTimeout, CallOutcomeTransport, CallOutcomeSchema, CallOutcomeValidation, CallOutcomePanic} {
		assert.False(t, o.IsSuccess(), o)
		assert.True(t, o.IsFatal(), o)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want CallOutcome
	}{
		{"nil", nil, CallOutcomeSuccess},
		{"timeout", NewTransportError(OpEvaluateRound, context.DeadlineExceeded), CallOutcomeTimeout},
		{"wrapped timeout", fmt.Errorf("round 3: %w", NewTransportError(OpProduceUtterance, context.DeadlineExceeded)), CallOutcomeTimeout},
		{"transport", NewTransportError(OpProduceUtterance, errors.New("connection refused")), CallOutcomeTransport},
		{"plain error", errors.New("boom"), CallOutcomeTransport},
		{"schema", NewSchemaError(OpEvaluateRound, "nope", errors.New("bad json")), CallOutcomeSchema},
		{"validation", NewValidationError("utterance", "empty"), CallOutcomeValidation},
		{"panic", NewPanicError(OpEvaluateRound, "nil map"), CallOutcomePanic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestIsTransportFailure(t *testing.T) {
	cause := errors.New("503")

	te := NewTransportError(OpProduceUtterance, cause)
	assert.True(t, IsTransportFailure(te))
	assert.ErrorIs(t, te, cause)
	assert.Contains(t, te.Error(), "produce_utterance transport failure")

	se := NewSchemaError(OpEvaluateRound, "<html>", cause)
	assert.True(t, IsTransportFailure(fmt.Errorf("wrapped: %w", se)))
	assert.ErrorIs(t, se, cause)

	ve := NewValidationError("utterance", "empty")
	assert.False(t, IsTransportFailure(ve))
	assert.True(t, IsValidationFailure(ve))
	assert.Equal(t, "validation failed for utterance: empty", ve.Error())

	assert.False(t, IsTransportFailure(nil))
}
