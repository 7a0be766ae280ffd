// Package statemachine implements the runtime's hierarchical finite
// state machine: named function/object states, validated transitions
// with deferred (wait_span) delivery, sub-machine composition, and
// terminal-state lifecycle signals. Each Machine runs as a recurring
// scheduler task at a priority expressed in host frames.
package statemachine

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iKryptonic/RBXStateMachine/internal/logging"
	"github.com/iKryptonic/RBXStateMachine/internal/scheduler"
	"github.com/iKryptonic/RBXStateMachine/internal/signal"
)

func newTaggedSignal(kind, id string) *signal.Signal {
	return signal.New(kind + "." + id)
}

// Machine is a single running instance of a Class.
type Machine struct {
	class    *Class
	id       string
	priority Priority
	logger   logging.Logger

	StateChanged *signal.Signal
	Completed    *signal.Signal
	Failed       *signal.Signal
	Cancelled    *signal.Signal

	mu       sync.Mutex
	context  *Context
	current  string
	previous string

	waitSpan      time.Duration
	deferredToken uint64
	tokenCtr      uint64

	managed  []any
	terminal bool
	destroyed bool

	sched    *scheduler.Scheduler
	taskName string

	subMachines map[string]*Machine

	history []Transition
}

// historyMax bounds the Transition ring each Machine keeps; purely
// observational, never influences behavior.
const historyMax = 32

// Transition records one completed state change for debugging via
// Snapshot.
type Transition struct {
	From string
	To   string
	At   time.Time
}

// Snapshot returns a point-in-time view of the machine's id, current
// state, and transition history (oldest first, capped at historyMax).
type Snapshot struct {
	ID      string
	Current string
	History []Transition
}

// Snapshot returns a copy of the machine's current state and recent
// transition history, safe to retain after the call.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := make([]Transition, len(m.history))
	copy(hist, m.history)
	return Snapshot{ID: m.id, Current: m.current, History: hist}
}

// ID returns the machine's instance identifier.
func (m *Machine) ID() string { return m.id }

// Class returns the Class this machine was created from.
func (m *Machine) Class() *Class { return m.class }

// Context returns the machine's shared context table.
func (m *Machine) Context() *Context { return m.context }

// Priority returns the machine's scheduling priority.
func (m *Machine) Priority() Priority { return m.priority }

// Current returns the current state name.
func (m *Machine) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Previous returns the state name the machine transitioned from most
// recently.
func (m *Machine) Previous() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// IsTerminal reports whether the machine has entered a terminal state.
func (m *Machine) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminal
}

// SetWaitSpan arms a one-shot deferred-transition delay: the next
// ChangeState call will not apply until span has elapsed, and is
// invalidated by any ChangeState call made before then (including a
// second deferred one, which replaces it).
func (m *Machine) SetWaitSpan(span time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitSpan = span
}

// Manage registers a disposable released on Destroy, in LIFO order
// relative to other managed values.
func (m *Machine) Manage(obj any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.managed = append(m.managed, obj)
}

// Start registers the machine as a recurring task on sched at a delay
// corresponding to its priority, staggered by a random per-instance
// offset, then performs the initial transition into state.
func (m *Machine) Start(sched *scheduler.Scheduler, state string, args ...any) {
	m.mu.Lock()
	m.sched = sched
	m.taskName = fmt.Sprintf("machine.%s.%s.tick", m.class.name, m.id)
	m.mu.Unlock()

	frameDelay := time.Duration(m.priority) * DefaultFrameDuration
	offset := time.Duration(rand.Int63n(int64(DefaultFrameDuration) + 1))

	var last atomic.Int64
	last.Store(time.Now().UnixNano())

	sched.Schedule(scheduler.Params{
		Name:      m.taskName,
		Delay:     frameDelay + offset,
		Recurring: true,
		Action: func() {
			now := time.Now()
			prev := last.Swap(now.UnixNano())
			m.tick(now.Sub(time.Unix(0, prev)))
		},
	})

	m.ChangeState(state, args...)
}

// ChangeState requests a transition to name. If a wait_span is armed,
// the transition is deferred; any transition requested in the
// meantime invalidates it.
func (m *Machine) ChangeState(name string, args ...any) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	if m.waitSpan > 0 {
		span := m.waitSpan
		m.waitSpan = 0
		m.tokenCtr++
		token := m.tokenCtr
		m.deferredToken = token
		sched := m.sched
		m.mu.Unlock()

		if sched == nil {
			// No scheduler yet (machine not started): apply inline,
			// there is nothing to defer against.
			m.applyTransition(name, args)
			return
		}
		sched.Schedule(scheduler.Params{
			Name:  m.taskName + ".deferred." + strconv.FormatUint(token, 10),
			Delay: span,
			Action: func() { m.applyDeferred(token, name, args) },
		})
		return
	}
	// An immediate transition supersedes any deferred one still pending.
	m.tokenCtr++
	m.deferredToken = m.tokenCtr
	m.mu.Unlock()
	m.applyTransition(name, args)
}

func (m *Machine) applyDeferred(token uint64, name string, args []any) {
	m.mu.Lock()
	current := m.deferredToken
	m.mu.Unlock()
	if token != current {
		return // superseded by a later transition
	}
	m.applyTransition(name, args)
}

func (m *Machine) applyTransition(target string, args []any) {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	span := startTransitionSpan(m.id, current, target)

	m.mu.Lock()
	if m.terminal || m.destroyed {
		m.mu.Unlock()
		endTransitionSpan(span, true)
		return
	}
	if m.class.restricted(target) {
		m.logger.Error("machine %q: rejected transition to state %q outside RestrictStates", m.id, target)
		m.mu.Unlock()
		endTransitionSpan(span, true)
		return
	}
	currentDef, hasCurrentDef := m.class.lookup(current)
	if hasCurrentDef && currentDef.validOutcomes != nil && !currentDef.validOutcomes[target] {
		m.logger.Error("machine %q: %q is not a valid outcome of %q", m.id, target, current)
		m.mu.Unlock()
		endTransitionSpan(span, true)
		return
	}
	m.mu.Unlock()
	endTransitionSpan(span, false)

	if hasCurrentDef && currentDef.obj != nil && currentDef.obj.OnLeave != nil {
		m.guardedCall(func() { currentDef.obj.OnLeave(m) }, false)
	}

	m.mu.Lock()
	m.previous = current
	m.current = target
	m.history = append(m.history, Transition{From: current, To: target, At: time.Now()})
	if len(m.history) > historyMax {
		m.history = m.history[len(m.history)-historyMax:]
	}
	m.mu.Unlock()

	m.logger.Info("machine %q: %s -> %s", m.id, current, target)
	m.StateChanged.Fire(target, current)

	if m.class.isTerminal(target) {
		switch target {
		case "Failed":
			var reason any
			if len(args) > 0 {
				reason = args[0]
			}
			m.settleTerminal(m.Failed, reason)
		case "Cancelled":
			m.settleTerminal(m.Cancelled)
		default:
			m.settleTerminal(m.Completed)
		}
		return
	}

	targetDef, ok := m.class.lookup(target)
	if !ok {
		return
	}
	if targetDef.fn != nil {
		// Function-state cleanup runs immediately after the function
		// returns, not on the next leave (legacy semantics; use an
		// object state's on_leave for per-transition cleanup instead).
		var cleanupFn func()
		m.guardedCall(func() { cleanupFn = targetDef.fn(m, args...) }, true)
		if cleanupFn != nil {
			m.guardedCall(cleanupFn, false)
		}
	} else if targetDef.obj != nil && targetDef.obj.OnEnter != nil {
		m.guardedCall(func() { targetDef.obj.OnEnter(m, args...) }, true)
	}
}

// guardedCall recovers panics from a state callback. When failOnPanic
// is set (entering a new state), a panic surfaces as Fail; otherwise
// (leaving a state, or running stored cleanup) it is logged and
// suppressed, per the documented failure semantics.
func (m *Machine) guardedCall(fn func(), failOnPanic bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("machine %q state callback panic: %v", m.id, r)
			if failOnPanic {
				m.settleTerminal(m.Failed, fmt.Errorf("panic: %v", r))
			}
		}
	}()
	fn()
}

func (m *Machine) settleTerminal(sig *signal.Signal, args ...any) {
	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		return
	}
	m.terminal = true
	m.mu.Unlock()

	sig.Fire(args...)
	m.disposeManaged()
}

// Finish transitions the machine into its Completed terminal state.
func (m *Machine) Finish() { m.ChangeState("Completed") }

// Fail transitions the machine into its Failed terminal state with reason.
func (m *Machine) Fail(reason any) { m.ChangeState("Failed", reason) }

// Cancel transitions the machine into its Cancelled terminal state.
func (m *Machine) Cancel() { m.ChangeState("Cancelled") }

// Destroy stops the machine's scheduler task (if started) and
// releases every managed disposable in LIFO order. Safe to call more
// than once.
func (m *Machine) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	sched, taskName := m.sched, m.taskName
	m.mu.Unlock()

	if sched != nil && taskName != "" {
		sched.Deschedule(taskName)
	}
	m.disposeManaged()
}

func (m *Machine) disposeManaged() {
	m.mu.Lock()
	items := m.managed
	m.managed = nil
	m.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		disposeOne(items[i], m.logger)
	}
}

func (m *Machine) tick(dt time.Duration) {
	m.mu.Lock()
	if m.terminal || m.destroyed {
		m.mu.Unlock()
		return
	}
	current := m.current
	m.mu.Unlock()

	def, ok := m.class.lookup(current)
	if !ok || def.obj == nil {
		return
	}
	if def.obj.OnHeartbeat != nil {
		m.guardedCall(func() { def.obj.OnHeartbeat(m, dt) }, true)
	}
	for _, at := range def.obj.Transitions {
		if at.Condition == nil {
			continue
		}
		if at.Condition(m, dt) {
			m.ChangeState(at.Target)
			break
		}
	}
}

func (m *Machine) enterSubMachine(state string, config SubMachineConfig) {
	child := config.ChildClass.New(Params{
		ID:       m.id + "." + state,
		Context:  m.context,
		Priority: config.ChildPriority,
		Logger:   m.logger,
	})

	m.mu.Lock()
	if m.subMachines == nil {
		m.subMachines = make(map[string]*Machine)
	}
	m.subMachines[state] = child
	sched := m.sched
	m.mu.Unlock()

	if config.OnCompleted != "" {
		child.Completed.Connect(func(...any) { m.ChangeState(config.OnCompleted) })
	}
	if config.OnFailed != "" {
		child.Failed.Connect(func(args ...any) { m.ChangeState(config.OnFailed, args...) })
	}
	if config.OnCancelled != "" {
		child.Cancelled.Connect(func(...any) { m.ChangeState(config.OnCancelled) })
	}
	if config.StoreKey != "" {
		m.context.Set(config.StoreKey, child)
	}

	child.Start(sched, config.InitialState, config.InitialArgs...)
}

func (m *Machine) leaveSubMachine(state string, config SubMachineConfig) {
	m.mu.Lock()
	child := m.subMachines[state]
	delete(m.subMachines, state)
	m.mu.Unlock()

	if config.StoreKey != "" {
		m.context.Delete(config.StoreKey)
	}
	if child == nil {
		return
	}
	child.Cancel()
	child.Destroy()
}
