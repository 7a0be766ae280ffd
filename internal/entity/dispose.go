package entity

import "github.com/iKryptonic/RBXStateMachine/internal/logging"

// Destroyer is satisfied by managed values exposing a Destroy method.
type Destroyer interface{ Destroy() }

// Closer is satisfied by managed values using the stdlib io.Closer
// convention instead.
type Closer interface{ Close() error }

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
