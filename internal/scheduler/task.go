package scheduler

import "time"

// Stats tracks per-task dispatch history, readable from the Task that
// Schedule and Get return. It is not part of Snapshot, and the
// Prometheus counters in metrics.go are updated separately by dispatch.
type Stats struct {
	TotalRuns     int
	TotalFailures int
	LastDuration  time.Duration
	LastRunAt     time.Time
}

// Task is a single scheduler unit: a named, possibly-recurring action
// bound to a frame-phase event.
type Task struct {
	Name     string
	Event    string
	Action   func()
	Delay    time.Duration
	Recurring bool

	BasePriority int
	FetchData    func() any

	nextRun           time.Time
	consecutiveDelays int
	sequence          int64
	valid             bool

	Stats Stats
}

// EffectivePriority is BasePriority boosted by aging to prevent
// starvation of long-delayed tasks.
func (t *Task) EffectivePriority(agingFactor float64) float64 {
	return float64(t.BasePriority) + float64(t.consecutiveDelays)*agingFactor
}

// NextRun reports the task's next scheduled dispatch time.
func (t *Task) NextRun() time.Time { return t.nextRun }

// ConsecutiveDelays reports how many steps this task has been due but
// skipped for lack of budget.
func (t *Task) ConsecutiveDelays() int { return t.consecutiveDelays }
