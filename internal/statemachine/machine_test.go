package statemachine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iKryptonic/RBXStateMachine/internal/scheduler"
)

func newTestSched() *scheduler.Scheduler {
	return scheduler.New(scheduler.Config{Name: "sm-test"})
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestFunctionStateCleanupRunsImmediatelyAfterEnterNotOnLeave(t *testing.T) {
	class := NewClass("worker")
	cleaned := make(chan struct{})
	cleanups := 0

	class.AddState("A", FuncState(func(m *Machine, args ...any) func() {
		return func() {
			cleanups++
			if cleanups == 1 {
				close(cleaned)
			}
		}
	}))
	class.AddState("B", FuncState(func(m *Machine, args ...any) func() { return nil }))

	m := class.New(Params{ID: "w1"})
	m.Start(newTestSched(), "A")
	waitFor(t, cleaned, "A cleanup running immediately after on-enter returns")

	m.ChangeState("B")
	assert.Eventually(t, func() bool { return m.Current() == "B" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, cleanups, "cleanup must not run again on leave")
}

func TestObjectStateLifecycleHooks(t *testing.T) {
	class := NewClass("worker")
	var entered, left bool
	class.AddState("A", &ObjectState{
		OnEnter: func(m *Machine, args ...any) { entered = true },
		OnLeave: func(m *Machine) { left = true },
	})
	class.AddState("B", &ObjectState{})

	m := class.New(Params{ID: "w2"})
	m.Start(newTestSched(), "A")
	require.Eventually(t, func() bool { return entered }, time.Second, 5*time.Millisecond)

	m.ChangeState("B")
	require.Eventually(t, func() bool { return left }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "B", m.Current())
	assert.Equal(t, "A", m.Previous())
}

func TestStateChangedFiresWithTargetAndPrevious(t *testing.T) {
	class := NewClass("worker")
	class.AddState("A", &ObjectState{})
	class.AddState("B", &ObjectState{})

	m := class.New(Params{ID: "w3"})
	got := make(chan []any, 4)
	m.StateChanged.Connect(func(args ...any) { got <- args })

	m.Start(newTestSched(), "A")
	m.ChangeState("B")

	var last []any
	for i := 0; i < 2; i++ {
		select {
		case last = <-got:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for StateChanged")
		}
	}
	assert.Equal(t, "B", last[0])
	assert.Equal(t, "A", last[1])
}

func TestWaitSpanDeferralInvalidatedBySubsequentTransition(t *testing.T) {
	class := NewClass("worker")
	class.AddState("A", &ObjectState{})
	class.AddState("B", &ObjectState{})
	class.AddState("C", &ObjectState{})

	m := class.New(Params{ID: "w4"})
	changes := make(chan []any, 8)
	m.StateChanged.Connect(func(args ...any) { changes <- args })

	m.Start(newTestSched(), "A")
	require.Eventually(t, func() bool { return m.Current() == "A" }, time.Second, 5*time.Millisecond)

	m.SetWaitSpan(30 * time.Millisecond)
	m.ChangeState("B") // deferred
	m.ChangeState("C") // immediate, invalidates the deferred B transition

	require.Eventually(t, func() bool { return m.Current() == "C" }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond) // outlive the original wait_span window

	assert.Equal(t, "C", m.Current(), "deferred transition to B must not have applied")
}

func TestInvalidOutcomeRejected(t *testing.T) {
	class := NewClass("worker")
	class.AddState("A", &ObjectState{}, "B")
	class.AddState("B", &ObjectState{})
	class.AddState("C", &ObjectState{})

	m := class.New(Params{ID: "w5"})
	m.Start(newTestSched(), "A")
	require.Eventually(t, func() bool { return m.Current() == "A" }, time.Second, 5*time.Millisecond)

	m.ChangeState("C")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "A", m.Current(), "C is not a valid outcome of A")
}

func TestEnteringFailedFiresFailedSignalWithReason(t *testing.T) {
	class := NewClass("worker")
	class.AddState("A", &ObjectState{})

	m := class.New(Params{ID: "w6"})
	reason := make(chan any, 1)
	m.Failed.Connect(func(args ...any) {
		if len(args) > 0 {
			reason <- args[0]
		} else {
			reason <- nil
		}
	})

	m.Start(newTestSched(), "A")
	require.Eventually(t, func() bool { return m.Current() == "A" }, time.Second, 5*time.Millisecond)

	m.ChangeState("Failed", "disk full")

	select {
	case r := <-reason:
		assert.Equal(t, "disk full", r)
	case <-time.After(time.Second):
		t.Fatal("Failed never fired")
	}
	assert.True(t, m.IsTerminal())
}

func TestTerminalStateBlocksFurtherTransitions(t *testing.T) {
	class := NewClass("worker")
	class.AddState("A", &ObjectState{})
	class.AddState("B", &ObjectState{})

	m := class.New(Params{ID: "w7"})
	m.Start(newTestSched(), "A")
	m.Finish()
	require.Eventually(t, func() bool { return m.IsTerminal() }, time.Second, 5*time.Millisecond)

	m.ChangeState("B")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "Completed", m.Current())
}

func TestPanicInOnEnterSurfacesAsFailed(t *testing.T) {
	class := NewClass("worker")
	class.AddState("A", &ObjectState{})
	class.AddState("Boom", &ObjectState{
		OnEnter: func(m *Machine, args ...any) { panic("kaboom") },
	})

	m := class.New(Params{ID: "w8"})
	failed := make(chan struct{})
	m.Failed.Connect(func(args ...any) { close(failed) })

	m.Start(newTestSched(), "A")
	require.Eventually(t, func() bool { return m.Current() == "A" }, time.Second, 5*time.Millisecond)
	m.ChangeState("Boom")

	waitFor(t, failed, "Failed signal after panic")
}

func TestAutomaticTransitionFiresOnCondition(t *testing.T) {
	class := NewClass("worker")
	ready := make(chan struct{})
	var fired bool
	class.AddState("Waiting", &ObjectState{
		Transitions: []AutoTransition{
			{Target: "Done", Condition: func(m *Machine, dt time.Duration) bool { return fired }},
		},
	})
	class.AddState("Done", &ObjectState{
		OnEnter: func(m *Machine, args ...any) { close(ready) },
	})

	m := class.New(Params{ID: "w9"})
	sched := newTestSched()
	m.Start(sched, "Waiting")
	fired = true

	// The scheduler dispatches only from Step, so drive it until the
	// machine's recurring tick has evaluated the condition.
	require.Eventually(t, func() bool {
		_, _ = sched.Step(context.Background(), scheduler.DefaultEvent)
		select {
		case <-ready:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "automatic transition to Done")
}

func TestManagedDisposablesRunInLIFOOrder(t *testing.T) {
	class := NewClass("worker")
	class.AddState("A", &ObjectState{})

	m := class.New(Params{ID: "w10"})
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		m.Manage(func() { order = append(order, i) })
	}

	m.Start(newTestSched(), "A")
	m.Destroy()

	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestSubMachineCompletionRoutesParentTransition(t *testing.T) {
	child := NewClass("child")
	child.AddState("Working", &ObjectState{
		OnEnter: func(m *Machine, args ...any) { m.Finish() },
	})

	parent := NewClass("parent")
	parent.AddSubMachine("Work", SubMachineConfig{
		ChildClass:   child,
		InitialState: "Working",
		OnCompleted:  "Next",
	})
	parent.AddState("Next", &ObjectState{})

	m := parent.New(Params{ID: "p1"})
	m.Start(newTestSched(), "Work")

	require.Eventually(t, func() bool { return m.Current() == "Next" }, time.Second, 5*time.Millisecond)
}

func TestSubMachineSharesParentContext(t *testing.T) {
	child := NewClass("child")
	var sawValue any
	child.AddState("Working", &ObjectState{
		OnEnter: func(m *Machine, args ...any) {
			sawValue, _ = m.Context().Get("shared")
			m.Finish()
		},
	})

	parent := NewClass("parent")
	parent.AddSubMachine("Work", SubMachineConfig{
		ChildClass:   child,
		InitialState: "Working",
		OnCompleted:  "Done",
	})
	parent.AddState("Done", &ObjectState{})

	m := parent.New(Params{ID: "p2"})
	m.Context().Set("shared", "hello")
	m.Start(newTestSched(), "Work")

	require.Eventually(t, func() bool { return m.Current() == "Done" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello", sawValue)
}

func TestLeavingSubMachineStateCancelsChild(t *testing.T) {
	child := NewClass("child")
	cancelled := make(chan struct{})
	child.AddState("Working", &ObjectState{})

	parent := NewClass("parent")
	parent.AddSubMachine("Work", SubMachineConfig{
		ChildClass:   child,
		InitialState: "Working",
	})
	parent.AddState("Elsewhere", &ObjectState{})

	m := parent.New(Params{ID: "p3"})
	m.Start(newTestSched(), "Work")

	var childRef *Machine
	require.Eventually(t, func() bool {
		m.mu.Lock()
		childRef = m.subMachines["Work"]
		m.mu.Unlock()
		return childRef != nil
	}, time.Second, 5*time.Millisecond)

	childRef.Cancelled.Connect(func(args ...any) { close(cancelled) })
	m.ChangeState("Elsewhere")

	waitFor(t, cancelled, "child Cancelled after parent leaves sub-machine state")
}

func TestRestrictStatesRejectsUnlistedTarget(t *testing.T) {
	class := NewClass("strict")
	class.RestrictStates("A", "B")
	class.AddState("A", &ObjectState{})
	class.AddState("B", &ObjectState{})

	m := class.New(Params{ID: "s1"})
	m.Start(newTestSched(), "A")
	require.Eventually(t, func() bool { return m.Current() == "A" }, time.Second, 5*time.Millisecond)

	m.ChangeState("Rogue")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "A", m.Current())
}

func TestCustomTerminalStateFiresCompletedAndDestroysMachine(t *testing.T) {
	class := NewClass("worker")
	class.SetTerminalStates("Done")
	class.AddState("A", &ObjectState{})
	class.AddState("Done", &ObjectState{})

	m := class.New(Params{ID: "w12"})
	completed := make(chan struct{})
	m.Completed.Connect(func(args ...any) { close(completed) })

	m.Start(newTestSched(), "A")
	require.Eventually(t, func() bool { return m.Current() == "A" }, time.Second, 5*time.Millisecond)

	m.ChangeState("Done")

	waitFor(t, completed, "Completed signal for custom terminal state \"Done\"")
	assert.True(t, m.IsTerminal())

	m.ChangeState("A")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "Done", m.Current(), "machine must not leave a terminal state")
}

func TestImplicitTerminalStateNeverRegistered(t *testing.T) {
	class := NewClass("worker")
	class.AddState("A", &ObjectState{})

	m := class.New(Params{ID: "w11"})
	completed := make(chan struct{})
	m.Completed.Connect(func(args ...any) { close(completed) })

	m.Start(newTestSched(), "A")
	require.Eventually(t, func() bool { return m.Current() == "A" }, time.Second, 5*time.Millisecond)
	m.ChangeState("Completed")

	waitFor(t, completed, "Completed signal for unregistered terminal state")
}
