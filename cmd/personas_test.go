package main

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pescn/psy-data-gen/coreengine/agents"
	"github.com/pescn/psy-data-gen/coreengine/bootstrap"
	"github.com/pescn/psy-data-gen/coreengine/runtime"
	"github.com/pescn/psy-data-gen/coreengine/session"
	"github.com/pescn/psy-data-gen/coreengine/testutil"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []agents.BackgroundRequest
	report   agents.BackgroundReport
	err      error
}

func (f *fakeGenerator) Generate(_ context.Context, req agents.BackgroundRequest) (*agents.Background, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	student := testutil.NewTestStudent()
	student.Name = "生成的学生"
	student.Issue = req.Issue
	return &agents.Background{
		Mode:      req.Mode(),
		Student:   student,
		Counselor: testutil.NewTestCounselor(),
		Opening:   "老师，我想聊聊最近的状态。",
		Report:    f.report,
	}, nil
}

func generatedInput(seed int64) runtime.SessionInput {
	return runtime.SessionInput{
		Student:   testutil.NewTestStudent(),
		Counselor: testutil.NewTestCounselor(),
		Seed:      &seed,
		Metadata:  map[string]string{"model": "m"},
	}
}

func TestPersonaSourceGenerate(t *testing.T) {
	gen := &fakeGenerator{report: agents.BackgroundReport{Valid: true, Completeness: 0.8, Consistency: 0.75}}
	source := &personaSource{
		settings: bootstrap.BackgroundSettings{
			Source:          bootstrap.PersonaSourceGenerate,
			Issues:          []string{"depression", "sleep_problems"},
			Description:     "大一新生",
			MinCompleteness: 0.5,
		},
		generator: gen,
		logger:    testutil.NewMockLogger(),
	}
	in := generatedInput(11)

	out, err := source.prepare(context.Background(), 0, in)

	require.NoError(t, err)
	assert.Equal(t, "生成的学生", out.Student.Name)
	assert.Equal(t, session.RoleCounselor, out.Counselor.Role)
	assert.Equal(t, "老师，我想聊聊最近的状态。", out.Opening)
	assert.Equal(t, agents.BackgroundModeGuided, out.Metadata["background_mode"])
	assert.Contains(t, source.settings.Issues, out.Metadata["issue"])
	assert.Equal(t, "0.80", out.Metadata["background_completeness"])
	assert.Equal(t, "0.75", out.Metadata["background_consistency"])
	assert.Equal(t, "m", out.Metadata["model"])
	// the caller's map is untouched
	assert.Len(t, in.Metadata, 1)

	require.Len(t, gen.requests, 1)
	assert.Equal(t, source.settings.Request(11), gen.requests[0])
}

func TestPersonaSourceGenerateRejects(t *testing.T) {
	t.Run("below min completeness", func(t *testing.T) {
		source := &personaSource{
			settings:  bootstrap.BackgroundSettings{Source: bootstrap.PersonaSourceGenerate, MinCompleteness: 0.9},
			generator: &fakeGenerator{report: agents.BackgroundReport{Valid: true, Completeness: 0.4}},
			logger:    testutil.NewMockLogger(),
		}

		_, err := source.prepare(context.Background(), 0, generatedInput(1))

		assert.True(t, agents.IsValidationFailure(err))
	})

	t.Run("generator error", func(t *testing.T) {
		source := &personaSource{
			settings:  bootstrap.BackgroundSettings{Source: bootstrap.PersonaSourceGenerate},
			generator: &fakeGenerator{err: agents.NewTransportError(agents.OpGenerateBackground, assert.AnError)},
			logger:    testutil.NewMockLogger(),
		}

		_, err := source.prepare(context.Background(), 0, generatedInput(1))

		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestPersonaSourceInBatch(t *testing.T) {
	gen := &fakeGenerator{report: agents.BackgroundReport{Valid: true, Completeness: 1}}
	source := &personaSource{
		settings:  bootstrap.BackgroundSettings{Source: bootstrap.PersonaSourceGenerate},
		generator: gen,
		logger:    testutil.NewMockLogger(),
	}
	o, err := runtime.New(testutil.NewTestConfig(2), testutil.NewMockPort(), testutil.NewMockLogger(),
		runtime.WithPrepare(source.prepare))
	require.NoError(t, err)

	inputs := []runtime.SessionInput{
		{Student: testutil.NewTestStudent(), Counselor: testutil.NewTestCounselor()},
		{Student: testutil.NewTestStudent(), Counselor: testutil.NewTestCounselor()},
	}
	results, summary, err := o.RunBatch(context.Background(), inputs, 2)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Failed)
	for _, r := range results {
		require.NotNil(t, r.Snapshot)
		assert.Equal(t, "生成的学生", r.Snapshot.Metadata["student"])
		require.NotEmpty(t, r.Snapshot.History)
		assert.Equal(t, "老师，我想聊聊最近的状态。", r.Snapshot.History[0].Content)
	}
	assert.Len(t, gen.requests, 2)
}
