// Package entity implements the runtime's data authority: a
// schema-validated, transactional wrapper around an external bound
// object, with opt-in replication/persistence markers per field and
// managed-resource cleanup on destruction.
package entity

import (
	"fmt"
	"sync"
	"time"

	"github.com/iKryptonic/RBXStateMachine/internal/logging"
	"github.com/iKryptonic/RBXStateMachine/internal/signal"
)

// ApplyFunc commits a batch of staged changes to the bound object.
// Commit fails (without losing Pending) whenever this returns an
// error, and fails outright when it was never set.
type ApplyFunc func(changes map[string]any) error

// FieldGetter lets a bound object participate in read resolution as
// the last-resort source after Pending/Data/Context.
type FieldGetter interface {
	Field(name string) (any, bool)
}

// RemovalNotifier is implemented by bound objects that can tell the
// Entity when they've been removed from their owning hierarchy, so
// the Entity can destroy itself in response.
type RemovalNotifier interface {
	ConnectAncestryRemoved(fn func()) signal.Connection
}

// LockInfo records the current exclusive lock holder, if any.
type LockInfo struct {
	OwnerID string
}

// Entity is a single schema-validated data record bound to an
// external instance.
type Entity struct {
	name     string
	instance any
	ownerID  string
	logger   logging.Logger

	StateUpdated *signal.Signal
	Destroyed    *signal.Signal

	mu        sync.RWMutex
	schema    *Schema
	pending   map[string]any
	data      map[string]any
	context   map[string]any
	lock      *LockInfo
	apply     ApplyFunc
	managed   []any
	destroyed bool
	active    bool
	createdAt time.Time
	updatedAt time.Time

	removalConn signal.Connection
}

// New constructs an Entity bound to instance, initially using schema
// (which may be replaced later via DefineSchema).
func New(name string, instance any, ownerID string, schema *Schema, logger logging.Logger) *Entity {
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("entity." + name)
	}
	e := &Entity{
		name:         name,
		instance:     instance,
		ownerID:      ownerID,
		logger:       logger,
		schema:       schema,
		pending:      make(map[string]any),
		data:         make(map[string]any),
		context:      make(map[string]any),
		StateUpdated: signal.New("StateUpdated." + name),
		Destroyed:    signal.New("Destroyed." + name),
		active:       true,
		createdAt:    time.Now(),
		updatedAt:    time.Now(),
	}
	if notifier, ok := instance.(RemovalNotifier); ok {
		e.removalConn = notifier.ConnectAncestryRemoved(func() { e.Destroy() })
	}
	return e
}

// Name returns the entity's name.
func (e *Entity) Name() string { return e.name }

// Instance returns the bound external object.
func (e *Entity) Instance() any { return e.instance }

// CreatedAt returns the entity's construction time.
func (e *Entity) CreatedAt() time.Time { return e.createdAt }

// UpdatedAt returns the time of the most recent successful Commit.
func (e *Entity) UpdatedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.updatedAt
}

// DefineSchema replaces the entity's schema wholesale.
func (e *Entity) DefineSchema(schema *Schema) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.schema = schema
}

// ValidProperties returns the current schema's declared properties.
func (e *Entity) ValidProperties() []PropertyDef {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schema.Properties()
}

// SetApplyFunc installs the function Commit calls to apply staged
// changes to the bound object. Commit always fails until this is set.
func (e *Entity) SetApplyFunc(fn ApplyFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apply = fn
}

// SetContext stores a context value, the third read-priority tier
// after Pending and Data.
func (e *Entity) SetContext(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.context[key] = value
}

// SetActive flips the pooling-active flag. Pooled (inactive) entities
// remain valid Go values — Destroy is never called on them — but are
// excluded from normal traffic until reactivated.
func (e *Entity) SetActive(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = active
}

// IsActive reports the pooling-active flag, true by default.
func (e *Entity) IsActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Rebind replaces ownerID and merges newContext on reuse from a pool,
// leaving Data and the schema untouched.
func (e *Entity) Rebind(ownerID string, newContext map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ownerID = ownerID
	for k, v := range newContext {
		e.context[k] = v
	}
}

// Manage registers a disposable released on Destroy, LIFO.
func (e *Entity) Manage(obj any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.managed = append(e.managed, obj)
}

// Get resolves a read in priority order: Pending, then Data, then
// Context, then (if the schema declares the field) the bound
// object's own field. After destruction every read returns "absent".
func (e *Entity) Get(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.destroyed {
		return nil, false
	}
	if v, ok := e.pending[key]; ok {
		return v, true
	}
	if v, ok := e.data[key]; ok {
		return v, true
	}
	if v, ok := e.context[key]; ok {
		return v, true
	}
	if e.schema.Has(key) {
		if getter, ok := e.instance.(FieldGetter); ok {
			return getter.Field(key)
		}
	}
	return nil, false
}

// Set validates value against the schema and stages it into Pending.
// Writes to undeclared names are rejected, as are all writes after
// destruction.
func (e *Entity) Set(key string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		err := fmt.Errorf("entity %q: write to %q rejected: entity destroyed", e.name, key)
		e.logger.Warn("%v", err)
		return err
	}
	if err := e.schema.Validate(key, value); err != nil {
		e.logger.Error("%v", err)
		return err
	}
	e.pending[key] = value
	return nil
}

// AcquireLock claims exclusive ownership for callerID. Returns false
// if already locked by someone else.
func (e *Entity) AcquireLock(callerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lock != nil && e.lock.OwnerID != callerID {
		return false
	}
	e.lock = &LockInfo{OwnerID: callerID}
	return true
}

// ReleaseLock releases callerID's lock. Returns false if callerID
// does not currently hold it.
func (e *Entity) ReleaseLock(callerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lock == nil || e.lock.OwnerID != callerID {
		return false
	}
	e.lock = nil
	return true
}

// Commit applies staged Pending changes via the installed ApplyFunc,
// merges them into Data on success, and fires StateUpdated. It fails
// (returns false) without discarding Pending when: the entity is
// destroyed, Pending is empty, no ApplyFunc is installed, the entity
// is locked by someone else, or ApplyFunc itself errors.
func (e *Entity) Commit(callerID string) bool {
	span := startCommitSpan(e.name)
	ok := e.commit(callerID)
	endCommitSpan(span, ok)
	return ok
}

func (e *Entity) commit(callerID string) bool {
	e.mu.Lock()
	if e.destroyed {
		e.logger.Error("commit rejected: entity %q destroyed", e.name)
		e.mu.Unlock()
		return false
	}
	if len(e.pending) == 0 {
		e.logger.Error("commit rejected: entity %q has no pending changes", e.name)
		e.mu.Unlock()
		return false
	}
	if e.apply == nil {
		e.logger.Error("commit rejected: entity %q has no apply function", e.name)
		e.mu.Unlock()
		return false
	}
	if e.lock != nil && e.lock.OwnerID != callerID {
		e.logger.Error("commit rejected: entity %q locked by %q", e.name, e.lock.OwnerID)
		e.mu.Unlock()
		return false
	}

	changes := make(map[string]any, len(e.pending))
	for k, v := range e.pending {
		changes[k] = v
	}
	apply := e.apply
	e.mu.Unlock()

	if err := apply(changes); err != nil {
		e.logger.Error("commit failed for entity %q: %v", e.name, err)
		return false
	}

	e.mu.Lock()
	for k, v := range changes {
		e.data[k] = v
		delete(e.pending, k)
	}
	e.updatedAt = time.Now()
	e.mu.Unlock()

	e.StateUpdated.Fire(changes)
	return true
}

// SnapshotData returns a copy of the entity's committed Data, the full
// reconstruction view a newly-seeded client needs — unlike Serialize,
// it is not filtered to persist=true fields.
func (e *Entity) SnapshotData() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.data))
	for k, v := range e.data {
		out[k] = v
	}
	return out
}

// Serialize returns only fields flagged persist=true whose values are
// currently present in Data.
func (e *Entity) Serialize() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any)
	for _, def := range e.schema.Properties() {
		if !def.Persist {
			continue
		}
		if v, ok := e.data[def.Name]; ok {
			out[def.Name] = v
		}
	}
	return out
}

// ApplyReplicated merges a server-originated replication packet
// directly into Data, bypassing schema validation (the server is
// authoritative; see Open Question 4 about the hardening tradeoff
// this implies), then invokes the installed ApplyFunc with the same
// packet so any side effects on the bound object still run.
func (e *Entity) ApplyReplicated(packet map[string]any) {
	e.mu.Lock()
	for k, v := range packet {
		e.data[k] = v
	}
	e.updatedAt = time.Now()
	apply := e.apply
	e.mu.Unlock()

	if apply != nil {
		if err := apply(packet); err != nil {
			e.logger.Warn("entity %q: apply_changes failed while applying replicated packet: %v", e.name, err)
		}
	}
}

// Deserialize merges data directly into Data, bypassing ApplyFunc.
func (e *Entity) Deserialize(data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range data {
		e.data[k] = v
	}
	e.updatedAt = time.Now()
}

// Destroy fires Destroyed, releases managed disposables in LIFO
// order, and marks the entity invalid. Safe to call more than once.
func (e *Entity) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	items := e.managed
	e.managed = nil
	e.mu.Unlock()

	e.Destroyed.Fire()
	for i := len(items) - 1; i >= 0; i-- {
		disposeOne(items[i], e.logger)
	}
	e.removalConn.Disconnect()
}

// IsDestroyed reports whether Destroy has run.
func (e *Entity) IsDestroyed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.destroyed
}
