package scheduler

import "container/heap"

// taskHeap orders tasks by (next_run, -effective_priority, sequence),
// implementing container/heap.Interface. aging is injected so Less
// can compute each task's effective priority at comparison time.
type taskHeap struct {
	tasks []*Task
	aging float64
}

func (h taskHeap) Len() int { return len(h.tasks) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h.tasks[i], h.tasks[j]
	if !a.nextRun.Equal(b.nextRun) {
		return a.nextRun.Before(b.nextRun)
	}
	pa, pb := a.EffectivePriority(h.aging), b.EffectivePriority(h.aging)
	if pa != pb {
		return pa > pb // higher effective priority sorts first
	}
	return a.sequence < b.sequence
}

func (h taskHeap) Swap(i, j int) { h.tasks[i], h.tasks[j] = h.tasks[j], h.tasks[i] }

func (h *taskHeap) Push(x any) {
	h.tasks = append(h.tasks, x.(*Task))
}

func (h *taskHeap) Pop() any {
	old := h.tasks
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	h.tasks = old[:n-1]
	return t
}

func (h *taskHeap) peek() *Task {
	if len(h.tasks) == 0 {
		return nil
	}
	return h.tasks[0]
}

func (h *taskHeap) push(t *Task) {
	heap.Push(h, t)
}

func (h *taskHeap) pop() *Task {
	return heap.Pop(h).(*Task)
}

// fix re-establishes heap order after a task's effective priority
// changes out from under it (aging bump on skip).
func (h *taskHeap) fix() {
	heap.Init(h)
}
