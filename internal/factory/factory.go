// Package factory compiles the two class registries the runtime is
// built from — entity definitions and state-machine definitions —
// into lookup tables keyed by class name, the Go analogue of the
// source's `Extend(def)` inheritance hooks. There is no runtime
// inheritance here: a class is a plain descriptor plus function
// pointers (ApplyChanges, RegisterStates) attached by an
// implementation module at registration time.
package factory

import (
	"fmt"
	"sync"

	"github.com/iKryptonic/RBXStateMachine/internal/entity"
	"github.com/iKryptonic/RBXStateMachine/internal/logging"
	"github.com/iKryptonic/RBXStateMachine/internal/statemachine"
)

// ClassKind distinguishes the two registries a Factory compiles.
type ClassKind string

const (
	KindEntity        ClassKind = "entity"
	KindStateMachine  ClassKind = "state_machine"
)

// EntityClass describes a compiled Entity class: the schema new
// instances are validated against and the ApplyChanges function
// Commit invokes. An ImplementationModule's RegisterStates is ignored
// for entity classes; a single ImplementationModule type serves both
// registries.
type EntityClass struct {
	Name          string
	Schema        *entity.Schema
	ApplyChanges  entity.ApplyFunc
}

// MachineClass describes a compiled state-machine class: the states,
// sub-machines, and optional state restrictions a RegisterStates hook
// installs on a freshly built *statemachine.Class.
type MachineClass struct {
	Name           string
	RegisterStates func(*statemachine.Class)
	class          *statemachine.Class
	once           sync.Once
}

// Compiled returns the underlying *statemachine.Class, building and
// caching it (via RegisterStates) on first use.
func (m *MachineClass) Compiled() *statemachine.Class {
	m.once.Do(func() {
		m.class = statemachine.NewClass(m.Name)
		if m.RegisterStates != nil {
			m.RegisterStates(m.class)
		}
	})
	return m.class
}

// ImplementationModule attaches behavior to a compiled class by name;
// a registry entry without a matching module compiles with zero
// states and a nil ApplyChanges, so Commit on its entities always
// fails.
type ImplementationModule struct {
	Name           string
	ApplyChanges   entity.ApplyFunc
	RegisterStates func(*statemachine.Class)
}

// EntityDef is the externally supplied descriptor a Factory compiles
// into an EntityClass: name plus schema, mirroring the source's
// `Extend({name, schema})` entity class construction.
type EntityDef struct {
	Name   string
	Schema *entity.Schema
}

// MachineDef is the externally supplied descriptor for a state
// machine class: just a name, since states are attached by an
// ImplementationModule.
type MachineDef struct {
	Name string
}

// Factory compiles externally-provided entity and state-machine
// registries, plus implementation modules, into class tables exposed
// by name.
type Factory struct {
	logger logging.Logger

	mu       sync.RWMutex
	entities map[string]*EntityClass
	machines map[string]*MachineClass
}

// New constructs an empty Factory.
func New(logger logging.Logger) *Factory {
	return &Factory{
		logger:   logging.OrNop(logger),
		entities: make(map[string]*EntityClass),
		machines: make(map[string]*MachineClass),
	}
}

// Compile builds the class tables from entityDefs/machineDefs,
// applying any matching ImplementationModule. Calling Compile again
// adds to (or replaces by name) the existing tables; it does not
// clear classes already compiled under other names.
func (f *Factory) Compile(entityDefs []EntityDef, machineDefs []MachineDef, modules []ImplementationModule) {
	byName := make(map[string]ImplementationModule, len(modules))
	for _, m := range modules {
		byName[m.Name] = m
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, def := range entityDefs {
		ec := &EntityClass{Name: def.Name, Schema: def.Schema}
		if mod, ok := byName[def.Name]; ok && mod.ApplyChanges != nil {
			ec.ApplyChanges = mod.ApplyChanges
		}
		f.entities[def.Name] = ec
		f.logger.Debug("compiled entity class %q (%d properties)", def.Name, len(def.Schema.Properties()))
	}

	for _, def := range machineDefs {
		mc := &MachineClass{Name: def.Name}
		if mod, ok := byName[def.Name]; ok {
			mc.RegisterStates = mod.RegisterStates
		}
		f.machines[def.Name] = mc
		f.logger.Debug("compiled state machine class %q", def.Name)
	}
}

// Get returns the compiled class for (kind, name), or an error if
// unregistered. The returned value is *EntityClass or *MachineClass
// depending on kind.
func (f *Factory) Get(kind ClassKind, name string) (any, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	switch kind {
	case KindEntity:
		c, ok := f.entities[name]
		if !ok {
			return nil, fmt.Errorf("factory: no entity class registered for %q", name)
		}
		return c, nil
	case KindStateMachine:
		c, ok := f.machines[name]
		if !ok {
			return nil, fmt.Errorf("factory: no state machine class registered for %q", name)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("factory: unknown class kind %q", kind)
	}
}

// GetEntityClass is a typed convenience wrapper over Get(KindEntity, name).
func (f *Factory) GetEntityClass(name string) (*EntityClass, error) {
	v, err := f.Get(KindEntity, name)
	if err != nil {
		return nil, err
	}
	return v.(*EntityClass), nil
}

// GetMachineClass is a typed convenience wrapper over Get(KindStateMachine, name).
func (f *Factory) GetMachineClass(name string) (*MachineClass, error) {
	v, err := f.Get(KindStateMachine, name)
	if err != nil {
		return nil, err
	}
	return v.(*MachineClass), nil
}

// GetAll returns every compiled class of kind, keyed by name.
func (f *Factory) GetAll(kind ClassKind) map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]any)
	switch kind {
	case KindEntity:
		for k, v := range f.entities {
			out[k] = v
		}
	case KindStateMachine:
		for k, v := range f.machines {
			out[k] = v
		}
	}
	return out
}
