// Package signal implements the local multicast event primitive used
// throughout the entity-behavior runtime: Connect/Once/Fire/Wait, with
// handlers dispatched asynchronously so a slow or panicking listener
// never blocks or crashes the firing goroutine.
package signal

import (
	"context"
	"sync"

	"github.com/iKryptonic/RBXStateMachine/internal/async"
	"github.com/iKryptonic/RBXStateMachine/internal/logging"
)

// Handler receives the arguments passed to Fire.
type Handler func(args ...any)

// connection is an internal registration; Disconnect removes it by id.
type connection struct {
	id   uint64
	fn   Handler
	once bool
}

// Signal is a multiple-producer, multiple-consumer local event
// broadcaster. The zero value is not usable; construct with New.
type Signal struct {
	name   string
	logger logging.Logger

	mu      sync.Mutex
	nextID  uint64
	conns   []*connection
	waiters []chan []any
}

// New creates a Signal tagged with name for log lines ("StateUpdated",
// "Completed", "Destroyed", ...).
func New(name string) *Signal {
	return &Signal{
		name:   name,
		logger: logging.NewComponentLogger("signal." + name),
	}
}

// Connection is a handle returned by Connect/Once that can be used to
// Disconnect the handler.
type Connection struct {
	sig *Signal
	id  uint64
}

// Disconnect removes the handler associated with this connection. Safe
// to call more than once.
func (c Connection) Disconnect() {
	if c.sig == nil {
		return
	}
	c.sig.disconnect(c.id)
}

// Connect registers fn to run every time the signal fires, until
// disconnected.
func (s *Signal) Connect(fn Handler) Connection {
	return s.connect(fn, false)
}

// Once registers fn to run on the next fire only, then auto-disconnects.
func (s *Signal) Once(fn Handler) Connection {
	return s.connect(fn, true)
}

func (s *Signal) connect(fn Handler, once bool) Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.conns = append(s.conns, &connection{id: id, fn: fn, once: once})
	return Connection{sig: s, id: id}
}

func (s *Signal) disconnect(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conns {
		if c.id == id {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

// Fire dispatches args to every connected handler asynchronously and
// wakes any goroutine blocked in Wait. Fire never blocks on slow
// handlers and never panics the caller.
func (s *Signal) Fire(args ...any) {
	s.mu.Lock()
	conns := make([]*connection, len(s.conns))
	copy(conns, s.conns)
	kept := make([]*connection, 0, len(conns))
	for _, c := range conns {
		if !c.once {
			kept = append(kept, c)
		}
	}
	s.conns = kept

	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, c := range conns {
		handler := c.fn
		async.Go(s.logger, s.name, func() {
			handler(args...)
		})
	}
	for _, w := range waiters {
		w := w
		go func() { w <- args }()
	}
}

// Wait blocks until the next Fire (or ctx is done) and returns the
// fired arguments. It is sugar for scheduling a one-shot resumption on
// the next fire, matching the source semantics.
func (s *Signal) Wait(ctx context.Context) ([]any, error) {
	ch := make(chan []any, 1)
	s.mu.Lock()
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case args := <-ch:
		return args, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListenerCount reports the number of currently connected handlers,
// useful for tests and diagnostics.
func (s *Signal) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
