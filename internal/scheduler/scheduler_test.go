package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time deterministically instead of
// sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestScheduler(clock *fakeClock) *Scheduler {
	return New(Config{
		Name:  "test",
		Clock: clock.Now,
	})
}

func TestScheduleRunsDueTask(t *testing.T) {
	clock := newFakeClock()
	s := newTestScheduler(clock)

	var ran atomic.Bool
	done := make(chan struct{})
	s.Schedule(Params{
		Name: "ping",
		Action: func() {
			ran.Store(true)
			close(done)
		},
	})

	n, err := s.Step(context.Background(), DefaultEvent)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never dispatched")
	}
	assert.True(t, ran.Load())
}

func TestScheduleDelayedTaskNotDueYet(t *testing.T) {
	clock := newFakeClock()
	s := newTestScheduler(clock)

	s.Schedule(Params{
		Name:   "later",
		Action: func() {},
		Delay:  time.Hour,
	})

	n, err := s.Step(context.Background(), DefaultEvent)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, s.Count())
}

func TestRescheduleInvalidatesPriorTask(t *testing.T) {
	clock := newFakeClock()
	s := newTestScheduler(clock)

	var firstRan, secondRan atomic.Bool
	s.Schedule(Params{Name: "job", Action: func() { firstRan.Store(true) }})
	s.Schedule(Params{Name: "job", Action: func() { secondRan.Store(true) }})

	n, err := s.Step(context.Background(), DefaultEvent)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, firstRan.Load())
	assert.True(t, secondRan.Load())
}

func TestDescheduleRemovesTask(t *testing.T) {
	clock := newFakeClock()
	s := newTestScheduler(clock)

	s.Schedule(Params{Name: "job", Action: func() {}})
	assert.True(t, s.Deschedule("job"))
	assert.Nil(t, s.Get("job"))

	n, err := s.Step(context.Background(), DefaultEvent)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecurringTaskReschedulesItself(t *testing.T) {
	clock := newFakeClock()
	s := newTestScheduler(clock)

	var runs atomic.Int32
	s.Schedule(Params{
		Name:      "tick",
		Action:    func() { runs.Add(1) },
		Delay:     time.Millisecond,
		Recurring: true,
	})

	clock.Advance(time.Millisecond) // first run is due one Delay after scheduling
	_, err := s.Step(context.Background(), DefaultEvent)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, runs.Load())
	assert.NotNil(t, s.Get("tick"))

	clock.Advance(time.Hour)
	_, err = s.Step(context.Background(), DefaultEvent)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 2, runs.Load())
}

// TestBudgetExhaustionAgesSkippedTasks exercises the scheduler's
// starvation guard: a task still due but skipped for lack of frame
// budget should have its effective priority raised so it eventually
// wins against tasks that keep arriving at the same priority.
func TestBudgetExhaustionAgesSkippedTasks(t *testing.T) {
	clock := newFakeClock()
	// Every clock read advances time by 3ms, so the second due task is
	// inspected after the frame budget has run out.
	s := New(Config{
		Name: "budget",
		Clock: func() time.Time {
			now := clock.Now()
			clock.Advance(3 * time.Millisecond)
			return now
		},
		FrameBudget: -1, // New replaces a non-positive budget with DefaultFrameBudget (5ms)
	})

	blocked := make(chan struct{})
	release := make(chan struct{})
	s.Schedule(Params{
		Name:     "blocker",
		Priority: 0,
		Action: func() {
			close(blocked)
			<-release
		},
	})
	s.Schedule(Params{Name: "victim", Priority: 0, Action: func() {}})

	n, err := s.Step(context.Background(), DefaultEvent)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "budget should admit exactly one dispatch before exhaustion")

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("blocker never started")
	}
	close(release)

	victim := s.Get("victim")
	require.NotNil(t, victim)
	assert.Equal(t, 1, victim.ConsecutiveDelays(), "skipped task should have aged by one step")
}

func TestGetReturnsNilForUnknownTask(t *testing.T) {
	s := New(Config{})
	assert.Nil(t, s.Get("nope"))
}

func TestResetClearsStatsWithoutDescheduling(t *testing.T) {
	clock := newFakeClock()
	s := newTestScheduler(clock)

	done := make(chan struct{})
	s.Schedule(Params{Name: "job", Action: func() { close(done) }})
	_, err := s.Step(context.Background(), DefaultEvent)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	time.Sleep(20 * time.Millisecond)

	s.Schedule(Params{Name: "job", Action: func() {}})
	require.True(t, s.Reset("job"))
	task := s.Get("job")
	require.NotNil(t, task)
	assert.Equal(t, 0, task.Stats.TotalRuns)
}

func TestExecuteBypassesSchedule(t *testing.T) {
	s := New(Config{})
	done := make(chan struct{})
	task := s.Schedule(Params{Name: "job", Action: func() { close(done) }, Delay: time.Hour})

	require.NoError(t, s.Execute(task))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("execute did not run task immediately")
	}
}

func TestExecuteUnknownTaskErrors(t *testing.T) {
	s := New(Config{})
	assert.Error(t, s.Execute("missing"))
}

func TestClearRemovesAllTasks(t *testing.T) {
	s := New(Config{})
	s.Schedule(Params{Name: "a", Action: func() {}})
	s.Schedule(Params{Name: "b", Action: func() {}})
	require.Equal(t, 2, s.Count())
	s.Clear()
	assert.Equal(t, 0, s.Count())
}

func TestGenerateKeyIsUnique(t *testing.T) {
	s := New(Config{})
	a, b := s.GenerateKey(), s.GenerateKey()
	assert.NotEqual(t, a, b)
}

func TestSnapshotReportsQueueDepth(t *testing.T) {
	s := New(Config{})
	s.Schedule(Params{Name: "a", Action: func() {}, Delay: time.Hour})
	s.Schedule(Params{Name: "b", Action: func() {}, Delay: time.Hour})

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.QueueDepth[DefaultEvent])
}

func TestStartMarksRunning(t *testing.T) {
	s := New(Config{})
	assert.False(t, s.Running())
	s.Start()
	assert.True(t, s.Running())
}

func TestPanickingActionRecordsFailureHistory(t *testing.T) {
	clock := newFakeClock()
	s := newTestScheduler(clock)

	done := make(chan struct{})
	var history []HistoryEntry
	s.Schedule(Params{
		Name: "boom",
		Action: func() {
			panic("kaboom")
		},
	})

	_, err := s.Step(context.Background(), DefaultEvent)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		history = s.History()
		return len(history) == 1
	}, time.Second, 5*time.Millisecond)

	close(done)
	require.Len(t, history, 1)
	assert.Error(t, history[0].Err)
	assert.Contains(t, history[0].Err.Error(), "kaboom")
}

func TestStepOnUnknownEventIsNoOp(t *testing.T) {
	s := New(Config{})
	n, err := s.Step(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
