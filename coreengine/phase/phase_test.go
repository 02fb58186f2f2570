package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ENUM TESTS
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Phase
		wantErr  bool
	}{
		{"introduction", Introduction, false},
		{"  EXPLORATION ", Exploration, false},
		{"Assessment", Assessment, false},
		{"scale_recommendation", ScaleRecommendation, false},
		{"closing", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "Must be one of")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func TestOrder(t *testing.T) {
	for i, p := range All() {
		assert.Equal(t, i, p.Order())
	}
	assert.Equal(t, -1, Phase("unknown").Order())
}

// =============================================================================
// GRAPH TESTS
// =============================================================================

func TestDefaultGraphIsValid(t *testing.T) {
	require.NoError(t, DefaultGraph().Validate())
}

func TestGraphValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		graph Graph
		want  string
	}{
		{
			name: "back edge",
			graph: Graph{
				Introduction:        {Exploration},
				Exploration:         {Introduction},
				Assessment:          {},
				ScaleRecommendation: {},
			},
			want: "does not move forward",
		},
		{
			name: "self loop",
			graph: Graph{
				Introduction:        {Introduction},
				Exploration:         {},
				Assessment:          {},
				ScaleRecommendation: {},
			},
			want: "does not move forward",
		},
		{
			name: "fan out",
			graph: Graph{
				Introduction:        {Exploration, Assessment},
				Exploration:         {},
				Assessment:          {},
				ScaleRecommendation: {},
			},
			want: "at most 1 allowed",
		},
		{
			name: "missing entry",
			graph: Graph{
				Introduction: {Exploration},
			},
			want: "no entry",
		},
		{
			name: "unknown target",
			graph: Graph{
				Introduction:        {"closing"},
				Exploration:         {},
				Assessment:          {},
				ScaleRecommendation: {},
			},
			want: "unknown phase",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.graph.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			_, err = NewStateMachine(tt.graph)
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// STATE MACHINE TESTS
// =============================================================================

func TestValidTransitionsAndTerminal(t *testing.T) {
	m := NewDefaultStateMachine()

	assert.Equal(t, []Phase{Exploration}, m.ValidTransitions(Introduction))
	assert.Equal(t, []Phase{Assessment}, m.ValidTransitions(Exploration))
	assert.Equal(t, []Phase{ScaleRecommendation}, m.ValidTransitions(Assessment))
	assert.Empty(t, m.ValidTransitions(ScaleRecommendation))

	assert.False(t, m.IsTerminal(Introduction))
	assert.True(t, m.IsTerminal(ScaleRecommendation))
	assert.Equal(t, Introduction, m.Initial())
}

func TestValidTransitionsReturnsCopy(t *testing.T) {
	m := NewDefaultStateMachine()
	got := m.ValidTransitions(Introduction)
	got[0] = ScaleRecommendation

	assert.Equal(t, []Phase{Exploration}, m.ValidTransitions(Introduction))
}

func TestApplyAccepted(t *testing.T) {
	m := NewDefaultStateMachine()

	d := m.Apply(Introduction, Exploration.Ptr())

	assert.True(t, d.Accepted)
	assert.False(t, d.Terminal)
	assert.Equal(t, Exploration, d.Phase)
	assert.Empty(t, d.Reason)
}

func TestApplyEndSignal(t *testing.T) {
	m := NewDefaultStateMachine()

	for _, p := range All() {
		d := m.Apply(p, nil)
		assert.True(t, d.Accepted)
		assert.True(t, d.Terminal)
		assert.Equal(t, p, d.Phase)
	}
}

func TestApplyRejectsEveryNonEdge(t *testing.T) {
	m := NewDefaultStateMachine()
	graph := DefaultGraph()

	for _, from := range All() {
		for _, to := range All() {
			isEdge := false
			for _, e := range graph[from] {
				if e == to {
					isEdge = true
				}
			}
			if isEdge {
				continue
			}

			d := m.Apply(from, to.Ptr())
			assert.False(t, d.Accepted, "%s -> %s", from, to)
			assert.False(t, d.Terminal)
			assert.Equal(t, from, d.Phase)
			assert.Equal(t, "illegal transition: "+string(from)+" cannot reach "+string(to), d.Reason)
		}
	}
}

func TestApplyUnknownRequest(t *testing.T) {
	m := NewDefaultStateMachine()

	d := m.Apply(Exploration, Phase("closing").Ptr())

	assert.False(t, d.Accepted)
	assert.Equal(t, Exploration, d.Phase)
}
