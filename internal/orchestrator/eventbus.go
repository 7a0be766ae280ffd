package orchestrator

import (
	"context"
	"time"

	"github.com/iKryptonic/RBXStateMachine/internal/signal"
)

// RegisterEventBus returns the named Signal, creating it on first use.
// Distinct from the replication/command channels: event buses are a
// purely local multicast point any in-process component can fire or
// await, with no transport involvement.
func (o *Orchestrator) RegisterEventBus(name string) *signal.Signal {
	o.busMu.Lock()
	defer o.busMu.Unlock()
	if s, ok := o.buses[name]; ok {
		return s
	}
	s := signal.New(name)
	o.buses[name] = s
	return s
}

// GetEventBus returns the named Signal, or nil if never registered.
func (o *Orchestrator) GetEventBus(name string) *signal.Signal {
	o.busMu.Lock()
	defer o.busMu.Unlock()
	return o.buses[name]
}

// FireEventBus fires the named bus, registering it first if absent.
func (o *Orchestrator) FireEventBus(name string, args ...any) {
	o.RegisterEventBus(name).Fire(args...)
}

// AwaitEventBus blocks the calling goroutine until the named bus fires
// once or timeout elapses, whichever comes first. A non-positive
// timeout waits indefinitely. Returns (args, true) on fire, (nil,
// false) on timeout, matching the documented "absent" result.
func (o *Orchestrator) AwaitEventBus(ctx context.Context, name string, timeout time.Duration) ([]any, bool) {
	s := o.RegisterEventBus(name)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args, err := s.Wait(ctx)
	if err != nil {
		return nil, false
	}
	return args, true
}
