package kernel

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// panicError is returned by runSafely for a recovered panic. It keeps the goroutine stack so
// the async error sink can log where a module or driver blew up.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.value)
}

// runSafely executes fn and converts panics into returned errors tagged with scope.
// It is used at goroutine and lifecycle boundaries to prevent process-wide crashes.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}

		err = fmt.Errorf("%s: %w", scope, &panicError{value: recovered, stack: debug.Stack()})
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}

// panicStack returns the stack captured for a recovered panic anywhere in err's chain.
func panicStack(err error) ([]byte, bool) {
	var recovered *panicError
	if !errors.As(err, &recovered) {
		return nil, false
	}

	return recovered.stack, true
}
