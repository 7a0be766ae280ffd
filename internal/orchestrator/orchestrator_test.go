package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iKryptonic/RBXStateMachine/internal/entity"
	"github.com/iKryptonic/RBXStateMachine/internal/factory"
	"github.com/iKryptonic/RBXStateMachine/internal/scheduler"
	"github.com/iKryptonic/RBXStateMachine/internal/statemachine"
)

type fakeInstance struct {
	fields map[string]any
}

func (f *fakeInstance) Field(name string) (any, bool) {
	v, ok := f.fields[name]
	return v, ok
}

func goblinSchema() *entity.Schema {
	return entity.NewSchema(
		entity.PropertyDef{Name: "hp", TypeTag: "number", Persist: true, Replicate: true},
		entity.PropertyDef{Name: "internal_cooldown", TypeTag: "number"},
	)
}

func newTestFactory() *factory.Factory {
	f := factory.New(nil)
	f.Compile(
		[]factory.EntityDef{{Name: "Goblin", Schema: goblinSchema()}},
		[]factory.MachineDef{{Name: "Patrol"}},
		[]factory.ImplementationModule{
			{
				Name: "Goblin",
				ApplyChanges: func(changes map[string]any) error {
					return nil
				},
			},
			{
				Name: "Patrol",
				RegisterStates: func(c *statemachine.Class) {
					c.AddState("Walking", statemachine.FuncState(func(m *statemachine.Machine, args ...any) func() {
						return nil
					}))
				},
			},
		},
	)
	return f
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	sched := scheduler.New(scheduler.Config{Name: t.Name()})
	sched.Start()
	orch, err := New(Dependencies{
		Scheduler: sched,
		Factory:   newTestFactory(),
	})
	require.NoError(t, err)
	return orch
}

func TestCreateEntityIsIdempotentByID(t *testing.T) {
	orch := newTestOrchestrator(t)
	inst := &fakeInstance{fields: map[string]any{}}

	e1, err := orch.CreateEntity(CreateEntityParams{ID: "goblin-1", Class: "Goblin", Instance: inst})
	require.NoError(t, err)
	e2, err := orch.CreateEntity(CreateEntityParams{ID: "goblin-1", Class: "Goblin", Instance: &fakeInstance{}})
	require.NoError(t, err)

	assert.Same(t, e1, e2)
	assert.Len(t, orch.GetEntities(), 1)
}

func TestCreateEntityGeneratesIDWhenOmitted(t *testing.T) {
	orch := newTestOrchestrator(t)
	e, err := orch.CreateEntity(CreateEntityParams{Class: "Goblin", Instance: &fakeInstance{}})
	require.NoError(t, err)
	assert.NotEmpty(t, orch.GetEntities())
	assert.NotNil(t, e)
}

func TestCreateEntityRequiresInstance(t *testing.T) {
	orch := newTestOrchestrator(t)
	_, err := orch.CreateEntity(CreateEntityParams{Class: "Goblin"})
	assert.Error(t, err)
}

func TestCreateEntityUnknownClassErrors(t *testing.T) {
	orch := newTestOrchestrator(t)
	_, err := orch.CreateEntity(CreateEntityParams{Class: "Dragon", Instance: &fakeInstance{}})
	assert.Error(t, err)
}

func TestEntityDestroyRemovesFromRegistry(t *testing.T) {
	orch := newTestOrchestrator(t)
	e, err := orch.CreateEntity(CreateEntityParams{ID: "goblin-1", Class: "Goblin", Instance: &fakeInstance{}})
	require.NoError(t, err)

	e.Destroy()
	assert.Nil(t, orch.GetEntity("goblin-1"))
}

// recordingBroadcaster captures every channel/payload pair so tests
// can assert replication only ever carries replicate=true fields.
type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (b *recordingBroadcaster) Broadcast(channel string, msg any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	packet, _ := msg.(map[string]any)
	b.calls = append(b.calls, packet)
	return nil
}

func (b *recordingBroadcaster) last() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.calls) == 0 {
		return nil
	}
	return b.calls[len(b.calls)-1]
}

func TestReplicationOnlyBroadcastsReplicateFlaggedFields(t *testing.T) {
	sched := scheduler.New(scheduler.Config{Name: t.Name()})
	sched.Start()
	broadcaster := &recordingBroadcaster{}
	orch, err := New(Dependencies{
		Scheduler:   sched,
		Factory:     newTestFactory(),
		Broadcaster: broadcaster,
	})
	require.NoError(t, err)

	e, err := orch.CreateEntity(CreateEntityParams{ID: "goblin-1", Class: "Goblin", Instance: &fakeInstance{}})
	require.NoError(t, err)

	require.NoError(t, e.Set("hp", 7.0))
	require.NoError(t, e.Set("internal_cooldown", 3.0))
	require.True(t, e.Commit(""))

	require.Eventually(t, func() bool { return broadcaster.last() != nil }, time.Second, time.Millisecond)
	packet, ok := broadcaster.last()["packet"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"hp": 7.0}, packet)
}

func TestApplyReplicatedPacketSeedsKnownEntity(t *testing.T) {
	orch := newTestOrchestrator(t)
	e, err := orch.CreateEntity(CreateEntityParams{ID: "goblin-1", Class: "Goblin", Instance: &fakeInstance{}})
	require.NoError(t, err)

	orch.ApplyReplicatedPacket("goblin-1", map[string]any{"hp": 3.0})
	v, ok := e.Get("hp")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
}

func TestCreateStateMachineIsIdempotentAndTeardownOnCompletion(t *testing.T) {
	orch := newTestOrchestrator(t)

	m, err := orch.CreateStateMachine(CreateStateMachineParams{ID: "patrol-1", Class: "Patrol", InitialState: "Walking"})
	require.NoError(t, err)

	m2, err := orch.CreateStateMachine(CreateStateMachineParams{ID: "patrol-1", Class: "Patrol", InitialState: "Walking"})
	require.NoError(t, err)
	assert.Same(t, m, m2)

	m.Finish()
	require.Eventually(t, func() bool { return orch.GetStateMachine("patrol-1") == nil }, time.Second, time.Millisecond)
}

func TestCancelAllCancelsEveryMachine(t *testing.T) {
	orch := newTestOrchestrator(t)
	_, err := orch.CreateStateMachine(CreateStateMachineParams{ID: "patrol-1", Class: "Patrol", InitialState: "Walking"})
	require.NoError(t, err)
	_, err = orch.CreateStateMachine(CreateStateMachineParams{ID: "patrol-2", Class: "Patrol", InitialState: "Walking"})
	require.NoError(t, err)

	orch.CancelAll()
	require.Eventually(t, func() bool { return len(orch.GetStateMachines()) == 0 }, time.Second, time.Millisecond)
}

func TestPoolEntityThenGetPooledEntityReusesInstance(t *testing.T) {
	orch := newTestOrchestrator(t)
	e, err := orch.CreateEntity(CreateEntityParams{ID: "goblin-1", Class: "Goblin", Instance: &fakeInstance{}})
	require.NoError(t, err)
	require.NoError(t, e.Set("hp", 5.0))
	require.True(t, e.Commit(""))

	orch.PoolEntity("goblin-1")
	assert.Nil(t, orch.GetEntity("goblin-1"))
	assert.False(t, e.IsActive())

	reused, err := orch.GetPooledEntity(GetPooledEntityParams{ID: "goblin-2", Class: "Goblin", Instance: &fakeInstance{}})
	require.NoError(t, err)
	assert.Same(t, e, reused)
	assert.True(t, reused.IsActive())
	v, ok := reused.Get("hp")
	require.True(t, ok)
	assert.Equal(t, 5.0, v, "pooled reuse preserves committed Data")
}

func TestGetPooledEntityFallsBackToCreateWhenStackEmpty(t *testing.T) {
	orch := newTestOrchestrator(t)
	e, err := orch.GetPooledEntity(GetPooledEntityParams{ID: "goblin-1", Class: "Goblin", Instance: &fakeInstance{}})
	require.NoError(t, err)
	assert.NotNil(t, e)
	assert.Same(t, e, orch.GetEntity("goblin-1"))
}

func TestEventBusFireThenAwaitDeliversArgs(t *testing.T) {
	orch := newTestOrchestrator(t)
	done := make(chan []any, 1)
	go func() {
		args, ok := orch.AwaitEventBus(context.Background(), "wave-cleared", time.Second)
		require.True(t, ok)
		done <- args
	}()

	require.Eventually(t, func() bool { return orch.GetEventBus("wave-cleared") != nil }, time.Second, time.Millisecond)
	orch.FireEventBus("wave-cleared", "wave-3")

	select {
	case args := <-done:
		assert.Equal(t, []any{"wave-3"}, args)
	case <-time.After(time.Second):
		t.Fatal("AwaitEventBus did not observe the fire")
	}
}

func TestAwaitEventBusTimesOut(t *testing.T) {
	orch := newTestOrchestrator(t)
	args, ok := orch.AwaitEventBus(context.Background(), "never-fires", 20*time.Millisecond)
	assert.False(t, ok)
	assert.Nil(t, args)
}
