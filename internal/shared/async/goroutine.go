// Package async runs background work that must not take the process down.
package async

import (
	"runtime/debug"
)

// PanicLogger is the subset of logging.Logger used to report recovered panics.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn in a new goroutine and logs, instead of propagating, any panic.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover must be deferred. It swallows a panic and logs it with the stack.
func Recover(logger PanicLogger, name string) {
	r := recover()
	if r == nil {
		return
	}
	if logger == nil {
		return
	}
	logger.Error("goroutine panic [%s]: %v\n%s", name, r, debug.Stack())
}
