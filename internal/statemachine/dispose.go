package statemachine

import "github.com/iKryptonic/RBXStateMachine/internal/logging"

// Destroyer is satisfied by managed values that expose a Destroy
// method, the common shape for connection-like handles.
type Destroyer interface{ Destroy() }

// Closer is satisfied by managed values using the stdlib io.Closer
// convention instead.
type Closer interface{ Close() error }

// disposeOne releases a single managed value. Unrecognized value
// shapes are logged and skipped rather than treated as an error, so
// one odd managed value never blocks destruction of the rest.
func disposeOne(v any, logger logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("managed object disposal panicked: %v", r)
		}
	}()
	switch t := v.(type) {
	case func():
		t()
	case Destroyer:
		t.Destroy()
	case Closer:
		_ = t.Close()
	default:
		logger.Warn("managed object of type %T has no recognized disposal method", v)
	}
}
