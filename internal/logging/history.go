package logging

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one structured log record kept in a Ring.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Level       Level     `json:"level"`
	Component   string    `json:"component"`
	OperationID string    `json:"operation_id,omitempty"`
	Message     string    `json:"message"`
}

// Query filters a Ring snapshot.
type Query struct {
	MinLevel    Level
	OperationID string
	Component   string
	Limit       int
}

// Ring is an append-only, fixed-capacity in-memory buffer of log
// entries keyed by level and optional operation id. Oldest entries
// are evicted first once capacity is reached. Grounded on the
// bounded-capacity Emit/Query shape used by the teacher's in-memory
// signal collector, adapted from telemetry signals to log entries.
type Ring struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
	start    int // index of oldest entry within entries once full
}

// NewRing creates a Ring holding at most capacity entries. capacity<=0
// defaults to 1000.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ring{capacity: capacity}
}

// Append records e, auto-filling ID/Timestamp when absent.
func (r *Ring) Append(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, e)
		return e
	}
	r.entries[r.start] = e
	r.start = (r.start + 1) % r.capacity
	return e
}

// Query returns entries matching q, oldest first.
func (r *Ring) Query(q Query) []Entry {
	r.mu.Lock()
	ordered := make([]Entry, len(r.entries))
	if len(r.entries) < r.capacity {
		copy(ordered, r.entries)
	} else {
		n := copy(ordered, r.entries[r.start:])
		copy(ordered[n:], r.entries[:r.start])
	}
	r.mu.Unlock()

	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		if e.Level < q.MinLevel {
			continue
		}
		if q.OperationID != "" && e.OperationID != q.OperationID {
			continue
		}
		if q.Component != "" && e.Component != q.Component {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// Len returns the number of entries currently retained.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
