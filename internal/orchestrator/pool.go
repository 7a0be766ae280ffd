package orchestrator

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/iKryptonic/RBXStateMachine/internal/entity"
)

// PoolEntity deactivates the entity at id and returns it to the
// per-class reuse stack instead of destroying it: its apply function
// is cleared (so a stale class's side effects never fire against a
// pooled instance) and it is removed from the live registry so
// get_entity/get_entities no longer surface it. A no-op if id is not
// registered.
func (o *Orchestrator) PoolEntity(id string) {
	o.mu.Lock()
	e, ok := o.entities[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.entities, id)
	className := e.Name()
	o.pools[className] = append(o.pools[className], e)
	o.mu.Unlock()

	e.SetActive(false)
	e.SetApplyFunc(nil)
}

// GetPooledEntityParams configures GetPooledEntity.
type GetPooledEntityParams struct {
	ID       string
	Class    string
	Instance any
	OwnerID  string
	Context  map[string]any
}

// GetPooledEntity pops a deactivated instance of params.Class off its
// reuse stack, re-binds it to params.Instance/OwnerID/Context,
// reactivates it, and re-registers it under params.ID. If the stack is
// empty it falls back to CreateEntity, so callers never need to branch
// on pool occupancy.
func (o *Orchestrator) GetPooledEntity(params GetPooledEntityParams) (*entity.Entity, error) {
	if params.Instance == nil {
		return nil, fmt.Errorf("orchestrator: GetPooledEntity requires a bound instance")
	}

	o.mu.Lock()
	stack := o.pools[params.Class]
	if len(stack) == 0 {
		o.mu.Unlock()
		return o.CreateEntity(CreateEntityParams{
			ID:       params.ID,
			Class:    params.Class,
			Instance: params.Instance,
			OwnerID:  params.OwnerID,
			Context:  params.Context,
		})
	}
	e := stack[len(stack)-1]
	o.pools[params.Class] = stack[:len(stack)-1]

	if params.ID == "" {
		params.ID = "entity-" + uuid.NewString()
	}
	o.entities[params.ID] = e
	o.mu.Unlock()

	class, err := o.factory.GetEntityClass(params.Class)
	if err == nil && class.ApplyChanges != nil {
		e.SetApplyFunc(class.ApplyChanges)
	}
	e.Rebind(params.OwnerID, params.Context)
	e.SetActive(true)

	return e, nil
}
