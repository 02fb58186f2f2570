package typeutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// MAP AND STRING TESTS
// =============================================================================

func TestSafeMapStringAny(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		wantMap  map[string]any
		wantBool bool
	}{
		{name: "valid map", input: map[string]any{"key": "value"}, wantMap: map[string]any{"key": "value"}, wantBool: true},
		{name: "nil value", input: nil, wantMap: nil, wantBool: false},
		{name: "wrong type", input: "not a map", wantMap: nil, wantBool: false},
		{name: "empty map", input: map[string]any{}, wantMap: map[string]any{}, wantBool: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeMapStringAny(tt.input)
			assert.Equal(t, tt.wantBool, ok)
			assert.Equal(t, tt.wantMap, got)
		})
	}

	fallback := map[string]any{"x": 1}
	assert.Equal(t, fallback, SafeMapStringAnyDefault(42, fallback))
}

func TestSafeStringDefault(t *testing.T) {
	assert.Equal(t, "hello", SafeStringDefault("  hello ", "x"))
	assert.Equal(t, "x", SafeStringDefault("   ", "x"))
	assert.Equal(t, "x", SafeStringDefault(3, "x"))
	assert.Equal(t, "x", SafeStringDefault(nil, "x"))
}

// =============================================================================
// NUMERIC TESTS
// =============================================================================

func TestSafeInt(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   int
		wantOK bool
	}{
		{"int", 4, 4, true},
		{"int64", int64(5), 5, true},
		{"json number", 3.9, 3, true},
		{"numeric string", " 2 ", 2, true},
		{"float string", "4.0", 4, true},
		{"nan", math.NaN(), 0, false},
		{"word", "high", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeInt(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, 7, SafeIntDefault("seven", 7))
}

func TestSafeFloat64(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   float64
		wantOK bool
	}{
		{"float", 0.25, 0.25, true},
		{"int", 1, 1, true},
		{"string", "0.5", 0.5, true},
		{"inf", math.Inf(1), 0, false},
		{"inf string", "Inf", 0, false},
		{"garbage", "abc", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeFloat64(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, 0.1, SafeFloat64Default(nil, 0.1))
}

func TestSafeBool(t *testing.T) {
	b, ok := SafeBool("true")
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = SafeBool("maybe")
	assert.False(t, ok)

	assert.True(t, SafeBoolDefault(nil, true))
	assert.False(t, SafeBoolDefault(false, true))
}

// =============================================================================
// SLICE AND PATH TESTS
// =============================================================================

func TestSafeStringSlice(t *testing.T) {
	got, ok := SafeStringSlice([]any{"a", 1, "b"})
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)

	got, ok = SafeStringSlice("alone")
	assert.True(t, ok)
	assert.Equal(t, []string{"alone"}, got)

	got, ok = SafeStringSlice(" ")
	assert.True(t, ok)
	assert.Empty(t, got)

	_, ok = SafeStringSlice(12)
	assert.False(t, ok)
	assert.Equal(t, []string{"d"}, SafeStringSliceDefault(nil, []string{"d"}))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, ClampInt(-2, 0, 5))
	assert.Equal(t, 5, ClampInt(9, 0, 5))
	assert.Equal(t, 3, ClampInt(3, 0, 5))

	assert.Equal(t, 0.0, ClampFloat(math.NaN(), 0, 1))
	assert.Equal(t, 1.0, ClampFloat(1.5, 0, 1))
	assert.Equal(t, 0.4, ClampFloat(0.4, 0, 1))
}
