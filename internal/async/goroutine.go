// Package async launches cooperative-dispatch units (scheduler task
// actions, state machine ticks) as panic-recovered goroutines so a
// single misbehaving callback never brings down the runtime.
package async

import (
	"fmt"
	"runtime/debug"
)

// PanicLogger captures panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs panic details without crashing the process.
func Recover(logger PanicLogger, name string) {
	if r := recover(); r != nil {
		if logger == nil {
			return
		}
		if name == "" {
			logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
			return
		}
		logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
	}
}

// GoCatch runs fn in a panic-recovered goroutine and reports the
// outcome (nil on clean return, the panic value wrapped as an error
// otherwise) to onDone. Used by the Scheduler to turn a dispatched
// task's panic into a DispatchFailure history entry instead of a
// process crash.
func GoCatch(logger PanicLogger, name string, fn func() error, onDone func(error)) {
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					if name == "" {
						logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
					} else {
						logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
					}
				}
				err = fmt.Errorf("panic: %v", r)
			}
			if onDone != nil {
				onDone(err)
			}
		}()
		err = fn()
	}()
}
