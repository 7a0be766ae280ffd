// Package orchestrator implements the runtime's kernel (§4.4): a
// single registry that creates, tracks, links, and tears down
// entities and state machines by stable id, brokers server→client
// replication and client→server commands over the transport package,
// and exposes the admin-gated ServiceManager request/response API.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/iKryptonic/RBXStateMachine/internal/entity"
	"github.com/iKryptonic/RBXStateMachine/internal/factory"
	"github.com/iKryptonic/RBXStateMachine/internal/logging"
	"github.com/iKryptonic/RBXStateMachine/internal/persistence"
	"github.com/iKryptonic/RBXStateMachine/internal/scheduler"
	"github.com/iKryptonic/RBXStateMachine/internal/signal"
	"github.com/iKryptonic/RBXStateMachine/internal/statemachine"
	"github.com/iKryptonic/RBXStateMachine/internal/transport"
)

// Role distinguishes server (authoritative) from client (replicated)
// orchestrator instances; it governs which side of the replication
// bridge and command channel is active.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Dependencies wires an Orchestrator to its collaborators. Scheduler
// and Factory are required; transport and persistence are optional —
// an Orchestrator with neither still functions as a pure in-process
// registry, which is how most unit tests use it.
type Dependencies struct {
	Role         Role
	Scheduler    *scheduler.Scheduler
	Factory      *factory.Factory
	Logger       logging.Logger
	Broadcaster  transport.Broadcaster
	CommandRecv  transport.CommandReceiver
	CommandSend  transport.CommandSender
	Requests     transport.RequestResponder
	Persistence  *persistence.Controller
}

// Orchestrator is the runtime kernel described in §4.4.
type Orchestrator struct {
	role        Role
	sched       *scheduler.Scheduler
	factory     *factory.Factory
	logger      logging.Logger
	broadcaster transport.Broadcaster
	commandRecv transport.CommandReceiver
	commandSend transport.CommandSender
	requests    transport.RequestResponder
	persist     *persistence.Controller

	mu       sync.RWMutex
	entities map[string]*entity.Entity
	machines map[string]*statemachine.Machine
	pools    map[string][]*entity.Entity

	busMu sync.Mutex
	buses map[string]*signal.Signal
}

// New constructs an Orchestrator and performs the one-time setup
// described as register_components(): compiling class tables is the
// caller's responsibility (via deps.Factory, built beforehand), this
// step wires transport listeners for the configured Role.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("orchestrator: Scheduler dependency is required")
	}
	if deps.Factory == nil {
		return nil, fmt.Errorf("orchestrator: Factory dependency is required")
	}
	if deps.Role == "" {
		deps.Role = RoleServer
	}

	o := &Orchestrator{
		role:        deps.Role,
		sched:       deps.Scheduler,
		factory:     deps.Factory,
		logger:      logging.OrNop(deps.Logger),
		broadcaster: deps.Broadcaster,
		commandRecv: deps.CommandRecv,
		commandSend: deps.CommandSend,
		requests:    deps.Requests,
		persist:     deps.Persistence,
		entities:    make(map[string]*entity.Entity),
		machines:    make(map[string]*statemachine.Machine),
		pools:       make(map[string][]*entity.Entity),
		buses:       make(map[string]*signal.Signal),
	}

	if o.role == RoleClient && o.requests != nil {
		if snap, err := o.requests.Request(context.Background(), "request_entity_snapshot"); err == nil {
			o.seedFromSnapshot(snap)
		} else {
			o.logger.Warn("orchestrator: initial entity snapshot request failed: %v", err)
		}
	}

	return o, nil
}

// CreateEntityParams configures CreateEntity.
type CreateEntityParams struct {
	ID       string
	Class    string
	Instance any
	OwnerID  string
	Context  map[string]any
}

// CreateEntity constructs (or returns the existing) Entity for
// params.ID under params.Class. Idempotent by id: a second call with
// the same id returns the instance already registered. Requires
// params.Instance (the bound object handle).
func (o *Orchestrator) CreateEntity(params CreateEntityParams) (*entity.Entity, error) {
	if params.Instance == nil {
		return nil, fmt.Errorf("orchestrator: CreateEntity requires a bound instance")
	}
	if params.ID == "" {
		params.ID = "entity-" + uuid.NewString()
	}

	o.mu.Lock()
	if existing, ok := o.entities[params.ID]; ok {
		o.mu.Unlock()
		return existing, nil
	}
	o.mu.Unlock()

	class, err := o.factory.GetEntityClass(params.Class)
	if err != nil {
		return nil, err
	}

	e := entity.New(params.Class, params.Instance, params.OwnerID, class.Schema, logging.NewComponentLogger("entity."+params.ID))
	if class.ApplyChanges != nil {
		e.SetApplyFunc(class.ApplyChanges)
	}
	for k, v := range params.Context {
		e.SetContext(k, v)
	}

	o.mu.Lock()
	o.entities[params.ID] = e
	o.mu.Unlock()

	e.Destroyed.Connect(func(...any) { o.removeEntity(params.ID) })
	if o.role == RoleServer {
		o.wireReplication(params.ID, e, class)
	}

	return e, nil
}

func (o *Orchestrator) removeEntity(id string) {
	o.mu.Lock()
	delete(o.entities, id)
	o.mu.Unlock()
}

// GetEntity returns the entity registered under id, or nil.
func (o *Orchestrator) GetEntity(id string) *entity.Entity {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.entities[id]
}

// GetEntities returns a snapshot slice of every registered entity.
func (o *Orchestrator) GetEntities() []*entity.Entity {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*entity.Entity, 0, len(o.entities))
	for _, e := range o.entities {
		out = append(out, e)
	}
	return out
}

// DeleteEntity destroys and unregisters the entity at id.
func (o *Orchestrator) DeleteEntity(id string) {
	o.mu.RLock()
	e, ok := o.entities[id]
	o.mu.RUnlock()
	if !ok {
		return
	}
	e.Destroy()
}

// DeleteAllEntities destroys every registered entity.
func (o *Orchestrator) DeleteAllEntities() {
	for _, e := range o.GetEntities() {
		e.Destroy()
	}
}

// CreateStateMachineParams configures CreateStateMachine.
type CreateStateMachineParams struct {
	ID           string
	Class        string
	Context      *statemachine.Context
	Priority     statemachine.Priority
	InitialState string
	InitialArgs  []any
}

// CreateStateMachine constructs (or returns the existing) Machine for
// params.ID under params.Class, starts it at params.InitialState, and
// bridges its terminal signals back into the registry so completion
// destroys and removes it automatically.
func (o *Orchestrator) CreateStateMachine(params CreateStateMachineParams) (*statemachine.Machine, error) {
	if params.ID == "" {
		params.ID = "machine-" + uuid.NewString()
	}

	o.mu.Lock()
	if existing, ok := o.machines[params.ID]; ok {
		o.mu.Unlock()
		return existing, nil
	}
	o.mu.Unlock()

	class, err := o.factory.GetMachineClass(params.Class)
	if err != nil {
		return nil, err
	}

	m := class.Compiled().New(statemachine.Params{
		ID:       params.ID,
		Context:  params.Context,
		Priority: params.Priority,
		Logger:   logging.NewComponentLogger("machine." + params.ID),
	})

	o.mu.Lock()
	o.machines[params.ID] = m
	o.mu.Unlock()

	m.Completed.Connect(func(...any) { o.teardownMachine(params.ID, m) })
	m.Failed.Connect(func(...any) { o.teardownMachine(params.ID, m) })
	m.Cancelled.Connect(func(...any) { o.teardownMachine(params.ID, m) })

	m.Start(o.sched, params.InitialState, params.InitialArgs...)
	return m, nil
}

func (o *Orchestrator) teardownMachine(id string, m *statemachine.Machine) {
	o.mu.Lock()
	delete(o.machines, id)
	o.mu.Unlock()
	m.Destroy()
}

// GetStateMachine returns the machine registered under id, or nil.
func (o *Orchestrator) GetStateMachine(id string) *statemachine.Machine {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.machines[id]
}

// GetStateMachines returns a snapshot slice of every registered machine.
func (o *Orchestrator) GetStateMachines() []*statemachine.Machine {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*statemachine.Machine, 0, len(o.machines))
	for _, m := range o.machines {
		out = append(out, m)
	}
	return out
}

// CancelStateMachine cancels the machine at id, if registered.
func (o *Orchestrator) CancelStateMachine(id string) {
	if m := o.GetStateMachine(id); m != nil {
		m.Cancel()
	}
}

// CancelAll cancels every registered state machine.
func (o *Orchestrator) CancelAll() {
	for _, m := range o.GetStateMachines() {
		m.Cancel()
	}
}

// RetryStateMachine destroys and recreates the machine at id,
// preserving its Context and starting it fresh at initialState.
func (o *Orchestrator) RetryStateMachine(id, initialState string, initialArgs ...any) (*statemachine.Machine, error) {
	o.mu.RLock()
	m, ok := o.machines[id]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("orchestrator: no state machine registered for %q", id)
	}

	class := m.Class().Name()
	ctx := m.Context()
	priority := m.Priority()
	o.teardownMachine(id, m)

	return o.CreateStateMachine(CreateStateMachineParams{
		ID:           id,
		Class:        class,
		Context:      ctx,
		Priority:     priority,
		InitialState: initialState,
		InitialArgs:  initialArgs,
	})
}
