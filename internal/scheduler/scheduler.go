// Package scheduler implements the runtime's priority-queue task
// runner: per-event min-heaps ordered by (next_run, -effective
// priority, sequence), a per-tick time budget, priority aging for
// tasks that keep missing their slot, and lazy cancellation of
// rescheduled or descheduled tasks.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iKryptonic/RBXStateMachine/internal/async"
	"github.com/iKryptonic/RBXStateMachine/internal/logging"
)

// Defaults per the runtime's documented (if surprising) fallbacks:
// frame_budget defaults to 5ms at construction, but step() itself
// falls back to 2ms when the configured budget is unset by the time
// step is called. Both are reproduced rather than unified.
const (
	DefaultFrameBudget  = 5 * time.Millisecond
	stepBudgetFallback  = 2 * time.Millisecond
	DefaultAgingFactor  = 0.5
	DefaultEvent        = "heartbeat"
)

// Config tunes a Scheduler instance.
type Config struct {
	Name         string
	FrameBudget  time.Duration
	AgingFactor  float64
	HistorySize  int
	Metrics      prometheus.Registerer // nil disables metrics registration
	Clock        func() time.Time      // overridable for tests; defaults to time.Now
}

// Params describes a task to schedule, mirroring the source's
// `schedule(params)` call.
type Params struct {
	Name      string
	Action    func()
	Delay     time.Duration
	Recurring bool
	Priority  int
	Event     string
	FetchData func() any
}

// HistoryEntry records a dispatch outcome for snapshot()/diagnostics.
type HistoryEntry struct {
	TaskName string
	Event    string
	At       time.Time
	Err      error
}

// Scheduler is the frame-budgeted task runner described in §4.1.
type Scheduler struct {
	name        string
	frameBudget time.Duration
	agingFactor float64
	clock       func() time.Time
	logger      logging.Logger
	metrics     *schedulerMetrics

	mu     sync.Mutex
	heaps  map[string]*taskHeap
	tasks  map[string]*Task
	seqCtr int64

	histMu  sync.Mutex
	history []HistoryEntry
	histCap int

	started atomic.Bool
}

// New constructs a Scheduler. A zero Config is valid and uses the
// documented defaults.
func New(config Config) *Scheduler {
	if config.Name == "" {
		config.Name = "default"
	}
	if config.FrameBudget <= 0 {
		config.FrameBudget = DefaultFrameBudget
	}
	if config.AgingFactor <= 0 {
		config.AgingFactor = DefaultAgingFactor
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 256
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Scheduler{
		name:        config.Name,
		frameBudget: config.FrameBudget,
		agingFactor: config.AgingFactor,
		clock:       config.Clock,
		logger:      logging.NewComponentLogger("scheduler." + config.Name),
		metrics:     newSchedulerMetrics(config.Name, config.Metrics),
		heaps:       make(map[string]*taskHeap),
		tasks:       make(map[string]*Task),
		histCap:     config.HistorySize,
	}
}

// GenerateKey returns a unique task name, for callers that don't care
// about a stable name.
func (s *Scheduler) GenerateKey() string {
	return "task-" + uuid.NewString()
}

// Schedule registers (or replaces) a task. Returns nil if params are
// invalid (missing name or action).
func (s *Scheduler) Schedule(params Params) *Task {
	if params.Name == "" || params.Action == nil {
		return nil
	}
	if params.Event == "" {
		params.Event = DefaultEvent
	}

	now := s.clock()
	nextRun := now
	if params.Delay > 0 {
		nextRun = now.Add(params.Delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Rescheduling an existing name invalidates the prior task; it is
	// lazily discarded on pop rather than searched out of the heap.
	if prior, ok := s.tasks[params.Name]; ok {
		prior.valid = false
	}

	s.seqCtr++
	t := &Task{
		Name:         params.Name,
		Event:        params.Event,
		Action:       params.Action,
		Delay:        params.Delay,
		Recurring:    params.Recurring,
		BasePriority: params.Priority,
		FetchData:    params.FetchData,
		nextRun:      nextRun,
		sequence:     s.seqCtr,
		valid:        true,
	}

	h, ok := s.heaps[params.Event]
	if !ok {
		h = &taskHeap{aging: s.agingFactor}
		s.heaps[params.Event] = h
	}
	h.push(t)
	s.tasks[params.Name] = t
	return t
}

// Deschedule invalidates a task by name; it is discarded lazily on
// the next pop rather than searched out of its heap immediately.
func (s *Scheduler) Deschedule(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	t.valid = false
	delete(s.tasks, name)
	return true
}

// Get returns the named task, or nil.
func (s *Scheduler) Get(name string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok || !t.valid {
		return nil
	}
	return t
}

// Count returns the number of live (non-invalidated) tasks.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Reset zeros a task's stats without affecting its schedule.
func (s *Scheduler) Reset(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	t.Stats = Stats{}
	t.consecutiveDelays = 0
	return true
}

// Clear removes every task from every heap.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heaps = make(map[string]*taskHeap)
	s.tasks = make(map[string]*Task)
}

// Execute runs a task immediately, bypassing budget and due-time
// checks. It does not dequeue the task if it is also scheduled.
func (s *Scheduler) Execute(nameOrTask any) error {
	var t *Task
	switch v := nameOrTask.(type) {
	case *Task:
		t = v
	case string:
		t = s.Get(v)
	}
	if t == nil {
		return fmt.Errorf("scheduler: task not found")
	}
	s.dispatch(t)
	return nil
}

// Start marks the scheduler as active. step() remains safe and
// idempotent to call directly (e.g. from tests) whether or not Start
// was called; Start exists to mirror the source's lifecycle contract
// for embedders that bind step to host frame events only once active.
func (s *Scheduler) Start() {
	s.started.Store(true)
}

// Running reports whether Start has been called.
func (s *Scheduler) Running() bool {
	return s.started.Load()
}

// Step drains the named event's heap within the frame budget,
// dispatching due tasks and re-enqueuing recurring ones. It is safe
// to call concurrently with Schedule/Deschedule and is idempotent in
// the sense that calling it with nothing due is a no-op.
func (s *Scheduler) Step(ctx context.Context, event string) (dispatched int, err error) {
	budget := s.frameBudget
	if budget <= 0 {
		budget = stepBudgetFallback
	}

	ctx, span := startStepSpan(ctx, event)
	defer func() { endStepSpan(span, dispatched, err) }()

	frameStart := s.clock()
	var toDispatch []*Task

	s.mu.Lock()
	h, ok := s.heaps[event]
	if !ok {
		s.mu.Unlock()
		return 0, nil
	}
	for {
		top := h.peek()
		if top == nil {
			break
		}
		now := s.clock()
		if top.nextRun.After(now) {
			break
		}
		if now.Sub(frameStart) > budget {
			s.metrics.budgetExceeded.Inc()
			// Any task still due but skipped for budget ages by one
			// step so its effective priority rises next time.
			for _, rem := range h.tasks {
				if !rem.nextRun.After(now) {
					rem.consecutiveDelays++
				}
			}
			h.fix()
			break
		}

		t := h.pop()
		if !t.valid {
			continue
		}
		t.consecutiveDelays = 0
		toDispatch = append(toDispatch, t)

		if t.Recurring {
			t.nextRun = now.Add(t.Delay)
			s.seqCtr++
			t.sequence = s.seqCtr
			t.valid = true
			h.push(t)
		} else {
			delete(s.tasks, t.Name)
		}
	}
	depth := float64(h.Len())
	s.mu.Unlock()
	s.metrics.queueDepth.WithLabelValues(event).Set(depth)

	for _, t := range toDispatch {
		s.dispatch(t)
		dispatched++
	}
	_ = ctx
	return dispatched, nil
}

// dispatch runs a task's action in a panic-recovered goroutine,
// recording the outcome in history and metrics instead of letting a
// misbehaving action affect the scheduler or any other task.
func (s *Scheduler) dispatch(t *Task) {
	start := s.clock()
	s.metrics.dispatchTotal.WithLabelValues(t.Event).Inc()

	async.GoCatch(panicLoggerAdapter{s.logger}, t.Name, func() error {
		t.Action()
		return nil
	}, func(err error) {
		duration := s.clock().Sub(start)

		s.mu.Lock()
		t.Stats.TotalRuns++
		t.Stats.LastDuration = duration
		t.Stats.LastRunAt = s.clock()
		if err != nil {
			t.Stats.TotalFailures++
		}
		s.mu.Unlock()

		if err != nil {
			s.metrics.dispatchFailure.WithLabelValues(t.Event).Inc()
			s.logger.Warn("task %q dispatch failed: %v", t.Name, err)
		}

		s.histMu.Lock()
		s.history = append(s.history, HistoryEntry{TaskName: t.Name, Event: t.Event, At: s.clock(), Err: err})
		if len(s.history) > s.histCap {
			s.history = s.history[len(s.history)-s.histCap:]
		}
		s.histMu.Unlock()
	})
}

// panicLoggerAdapter adapts logging.Logger to async.PanicLogger.
type panicLoggerAdapter struct{ l logging.Logger }

func (p panicLoggerAdapter) Error(format string, args ...any) { p.l.Error(format, args...) }

// History returns a copy of the most recent dispatch outcomes.
func (s *Scheduler) History() []HistoryEntry {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot is a sanitized, serializable view of the scheduler's
// current heaps and settings, suitable for the ServiceManager's
// `snapshot` endpoint.
type Snapshot struct {
	Name        string                   `json:"name"`
	FrameBudget time.Duration            `json:"frame_budget"`
	AgingFactor float64                  `json:"aging_factor"`
	QueueDepth  map[string]int           `json:"queue_depth"`
	History     []HistoryEntry           `json:"history"`
}

// Snapshot builds a Snapshot of current scheduler state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	depth := make(map[string]int, len(s.heaps))
	for event, h := range s.heaps {
		depth[event] = h.Len()
	}
	s.mu.Unlock()

	return Snapshot{
		Name:        s.name,
		FrameBudget: s.frameBudget,
		AgingFactor: s.agingFactor,
		QueueDepth:  depth,
		History:     s.History(),
	}
}
