package statemachine

import (
	"sync"
	"time"

	"github.com/iKryptonic/RBXStateMachine/internal/logging"
)

// terminalStates are reserved names that always end a Machine's life
// when entered, whether or not they were registered with AddState.
var terminalStates = map[string]bool{
	"Completed": true,
	"Failed":    true,
	"Cancelled": true,
}

func isTerminal(name string) bool { return terminalStates[name] }

// FuncState is a function state: invoked with the machine and the
// transition's args, optionally returning a cleanup callable that
// runs immediately after the function returns (not on leave, for
// compatibility with callers that never migrated to object states).
type FuncState func(m *Machine, args ...any) func()

// AutoTransition is a condition evaluated every tick while its
// owning state is current; the first one to return true wins.
type AutoTransition struct {
	Target    string
	Condition func(m *Machine, dt time.Duration) bool
}

// ObjectState is a state with enter/heartbeat/leave lifecycle hooks
// and optional automatic transitions.
type ObjectState struct {
	OnEnter     func(m *Machine, args ...any)
	OnHeartbeat func(m *Machine, dt time.Duration)
	OnLeave     func(m *Machine)
	Transitions []AutoTransition
}

type stateDef struct {
	fn            FuncState
	obj           *ObjectState
	validOutcomes map[string]bool
}

// SubMachineConfig binds a state name to a child class whose
// lifecycle signals drive the parent's transitions.
type SubMachineConfig struct {
	ChildClass    *Class
	InitialState  string
	InitialArgs   []any
	ChildPriority Priority
	OnCompleted   string
	OnFailed      string
	OnCancelled   string
	StoreKey      string
}

// Class is a reusable state machine definition: a named collection
// of states and sub-machine bindings that Machine instances are
// created from. Registering states on a Class after instances exist
// is not supported; build the Class fully before calling New.
type Class struct {
	name string

	mu             sync.RWMutex
	states         map[string]*stateDef
	validStates    map[string]bool // nil means "unrestricted"
	customTerminal map[string]bool
}

// NewClass creates an empty Class.
func NewClass(name string) *Class {
	return &Class{
		name:   name,
		states: make(map[string]*stateDef),
	}
}

// Name returns the class's registered name.
func (c *Class) Name() string { return c.name }

// RestrictStates limits change_state targets to the given names (plus
// the always-legal terminal names). Unset by default, meaning any
// target is accepted subject to the current state's valid outcomes.
func (c *Class) RestrictStates(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validStates = make(map[string]bool, len(names))
	for _, n := range names {
		c.validStates[n] = true
	}
}

// SetTerminalStates adds names to this class's terminal_states set:
// entering any of them ends the machine's life exactly like entering
// "Completed" does (destroy-on-finish, via the Completed signal),
// whether or not the name was registered with AddState. "Completed",
// "Failed", and "Cancelled" are always terminal and need not be listed.
func (c *Class) SetTerminalStates(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.customTerminal == nil {
		c.customTerminal = make(map[string]bool, len(names))
	}
	for _, n := range names {
		c.customTerminal[n] = true
	}
}

func (c *Class) isTerminal(name string) bool {
	if isTerminal(name) {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.customTerminal[name]
}

// AddState registers a state under name. def must be a FuncState or
// *ObjectState; validOutcomes, if non-empty, restricts which targets
// a transition out of this state may name.
func (c *Class) AddState(name string, def any, validOutcomes ...string) {
	sd := &stateDef{}
	switch t := def.(type) {
	case FuncState:
		sd.fn = t
	case func(m *Machine, args ...any) func():
		sd.fn = FuncState(t)
	case *ObjectState:
		sd.obj = t
	default:
		panic("statemachine: AddState def must be a FuncState or *ObjectState")
	}
	if len(validOutcomes) > 0 {
		sd.validOutcomes = make(map[string]bool, len(validOutcomes))
		for _, o := range validOutcomes {
			sd.validOutcomes[o] = true
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[name] = sd
}

// AddSubMachine registers name as an object state whose on_enter
// constructs a child of config.ChildClass, sharing the parent's
// Context, and whose on_leave cancels and destroys that child.
func (c *Class) AddSubMachine(name string, config SubMachineConfig) {
	if config.ChildPriority == 0 {
		config.ChildPriority = PriorityMedium
	}
	c.AddState(name, &ObjectState{
		OnEnter: func(m *Machine, args ...any) { m.enterSubMachine(name, config) },
		OnLeave: func(m *Machine) { m.leaveSubMachine(name, config) },
	})
}

func (c *Class) lookup(name string) (*stateDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sd, ok := c.states[name]
	return sd, ok
}

func (c *Class) restricted(name string) bool {
	c.mu.RLock()
	unrestricted := c.validStates == nil
	allowed := c.validStates[name]
	c.mu.RUnlock()
	if unrestricted {
		return false
	}
	return !allowed && !c.isTerminal(name)
}

// Params configures a new Machine instance.
type Params struct {
	ID       string
	Context  *Context
	Priority Priority
	Logger   logging.Logger
}

// New constructs a Machine bound to this class. The machine is
// inert until Start is called.
func (c *Class) New(params Params) *Machine {
	if params.Context == nil {
		params.Context = NewContext()
	}
	if params.Priority == 0 {
		params.Priority = PriorityMedium
	}
	logger := logging.OrNop(params.Logger)
	if logging.IsNil(params.Logger) {
		logger = logging.NewComponentLogger("statemachine." + c.name)
	}

	return &Machine{
		class:       c,
		id:          params.ID,
		context:     params.Context,
		priority:    params.Priority,
		logger:      logger,
		StateChanged: newTaggedSignal("StateChanged", params.ID),
		Completed:    newTaggedSignal("Completed", params.ID),
		Failed:       newTaggedSignal("Failed", params.ID),
		Cancelled:    newTaggedSignal("Cancelled", params.ID),
	}
}
