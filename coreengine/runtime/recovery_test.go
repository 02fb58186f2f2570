package runtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pescn/psy-data-gen/coreengine/agents"
	"github.com/pescn/psy-data-gen/coreengine/testutil"
)

// =============================================================================
// SAFE EXECUTE
// =============================================================================

func TestSafeExecuteWithResult_Panic(t *testing.T) {
	logger := testutil.NewMockLogger()

	_, err := SafeExecuteWithResult(logger, "test_operation", func() (string, error) {
		panic("test panic")
	})

	require.Error(t, err)
	var pe *agents.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "test_operation", pe.Operation)
	assert.Equal(t, "test panic", pe.Value)
	assert.True(t, logger.HasLog("error", "panic_recovered"))
}

func TestSafeExecuteWithResult(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		result, err := SafeExecuteWithResult(nil, "op", func() (int, error) {
			return 42, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 42, result)
	})

	t.Run("error keeps result", func(t *testing.T) {
		result, err := SafeExecuteWithResult(nil, "op", func() (string, error) {
			return "partial", errors.New("failed")
		})
		assert.EqualError(t, err, "failed")
		assert.Equal(t, "partial", result)
	})

	t.Run("panic zeroes result", func(t *testing.T) {
		result, err := SafeExecuteWithResult(nil, "op", func() (*agents.Evaluation, error) {
			panic(errors.New("nil map write"))
		})
		assert.Nil(t, result)
		assert.Equal(t, agents.CallOutcomePanic, agents.ClassifyError(err))
	})
}

// =============================================================================
// SAFE GO
// =============================================================================

func TestSafeGo_Success(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	ran := false

	SafeGo(nil, "worker", func() {
		defer wg.Done()
		ran = true
	}, nil)

	wg.Wait()
	assert.True(t, ran)
}

func TestSafeGo_Panic(t *testing.T) {
	logger := testutil.NewMockLogger()
	recovered := make(chan any, 1)

	SafeGo(logger, "worker", func() {
		panic("boom")
	}, func(r any) {
		recovered <- r
	})

	select {
	case r := <-recovered:
		assert.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("onPanic was not called")
	}
	assert.True(t, logger.HasLog("error", "goroutine_panic_recovered"))
}
