package supervisor

import (
	"sync"
	"time"
)

// logEntry is one line captured from a service's stdout/stderr (spec §4.F
// log stream).
type logEntry struct {
	Timestamp time.Time
	Level     string
	Source    string
	Message   string
}

// logRing is a fixed-capacity circular buffer: once full, the oldest entry
// is dropped on every add (spec §4.F: "a ring buffer capped at
// MAX_LOG_BUFFER lines").
type logRing struct {
	mu       sync.Mutex
	capacity int
	entries  []logEntry
	start    int
}

func newLogRing(capacity int) *logRing {
	return &logRing{capacity: capacity, entries: make([]logEntry, 0, capacity)}
}

func (r *logRing) add(e logEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, e)
		return
	}
	r.entries[r.start] = e
	r.start = (r.start + 1) % r.capacity
}

// snapshot returns the buffered entries oldest-first.
func (r *logRing) snapshot() []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]logEntry, 0, len(r.entries))
	if len(r.entries) < r.capacity {
		out = append(out, r.entries...)
		return out
	}
	out = append(out, r.entries[r.start:]...)
	out = append(out, r.entries[:r.start]...)
	return out
}
