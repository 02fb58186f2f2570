package runtime

import (
	"runtime/debug"

	"github.com/pescn/psy-data-gen/coreengine/agents"
)

// SafeExecuteWithResult executes a function with panic recovery and returns both result and error.
// If the function panics, the panic is logged and an *agents.PanicError is
// returned with the zero result.
func SafeExecuteWithResult[T any](logger agents.Logger, operation string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("panic_recovered",
					"operation", operation,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
			var zero T
			result = zero
			err = agents.NewPanicError(operation, r)
		}
	}()
	return fn()
}

// SafeGo runs a goroutine with panic recovery.
// If the goroutine panics, the panic is logged and the onPanic callback is called.
func SafeGo(logger agents.Logger, operation string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("goroutine_panic_recovered",
						"operation", operation,
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
