// Package behaviortree implements the runtime's brief §4.5 appendix:
// a pure-functional compositor of stateless leaf nodes over
// Success/Failure/Running, with one helper (SetState) bridging into
// the state machine engine. No ecosystem library models a DSL this
// narrow (two combinators, two decorators, two leaves) more
// idiomatically than plain closures over a small result enum — see
// DESIGN.md for that justification.
package behaviortree

import "github.com/iKryptonic/RBXStateMachine/internal/statemachine"

// Status is the outcome of evaluating a Node for one tick.
type Status int

const (
	Failure Status = iota
	Success
	Running
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Running:
		return "running"
	default:
		return "failure"
	}
}

// Node is a stateless, re-evaluable behavior tree leaf or composite.
// Every Node must be safe to call every tick with no memory of prior
// calls; any state needed across ticks belongs in the owning
// Machine's Context, not in the Node closure.
type Node func() Status

// Selector runs children in order, returning the first non-Failure
// result (or Failure if all children fail).
func Selector(children ...Node) Node {
	return func() Status {
		for _, child := range children {
			if status := child(); status != Failure {
				return status
			}
		}
		return Failure
	}
}

// Sequence runs children in order, returning the first non-Success
// result (or Success if all children succeed).
func Sequence(children ...Node) Node {
	return func() Status {
		for _, child := range children {
			if status := child(); status != Success {
				return status
			}
		}
		return Success
	}
}

// Inverter swaps Success and Failure, passing Running through
// unchanged.
func Inverter(child Node) Node {
	return func() Status {
		switch child() {
		case Success:
			return Failure
		case Failure:
			return Success
		default:
			return Running
		}
	}
}

// Succeeder always returns Success unless the child is still Running.
func Succeeder(child Node) Node {
	return func() Status {
		if child() == Running {
			return Running
		}
		return Success
	}
}

// Condition wraps a predicate as a leaf: Success iff predicate
// returns true, Failure otherwise. Conditions never return Running.
func Condition(predicate func() bool) Node {
	return func() Status {
		if predicate() {
			return Success
		}
		return Failure
	}
}

// SetState sets the given machine's current state and returns
// Success, the one point where a behavior tree leaf is allowed to
// reach into the state machine engine it's typically composed
// alongside (e.g. as a Machine's on_heartbeat body).
func SetState(m *statemachine.Machine, name string, args ...any) Node {
	return func() Status {
		m.ChangeState(name, args...)
		return Success
	}
}
