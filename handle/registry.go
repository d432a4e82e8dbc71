package handle

import (
	"sort"
	"sync"
	"time"
)

// SQLNotification observes statement text as it's executed.
type SQLNotification func(sql string)

// PerformanceNotification observes statement execution latency.
type PerformanceNotification func(sql string, elapsed time.Duration)

// CommittedNotification observes a committed transaction and the number of
// WAL frames it appended to the database at path.
type CommittedNotification func(path string, frames int)

// WillCheckpointNotification votes on an imminent checkpoint of the database
// at path. A checkpoint proceeds only if every registered observer returns
// true; any veto cancels the attempt without error.
type WillCheckpointNotification func(path string) bool

// CheckpointedNotification observes a completed checkpoint of the database
// at path.
type CheckpointedNotification func(path string)

// slot is one named, ordered observer registration.
type slot struct {
	name  string
	order int
	seq   int
	fn    interface{}
}

// slots is an observer list ordered by (order, registration sequence).
type slots []slot

func (s *slots) set(order int, name string, fn interface{}, seq int) {
	s.unset(name)
	*s = append(*s, slot{name: name, order: order, seq: seq, fn: fn})
	sort.SliceStable(*s, func(i, j int) bool {
		if (*s)[i].order != (*s)[j].order {
			return (*s)[i].order < (*s)[j].order
		}
		return (*s)[i].seq < (*s)[j].seq
	})
}

func (s *slots) unset(name string) bool {
	for i := range *s {
		if (*s)[i].name == name {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return true
		}
	}
	return false
}

// registry multiplexes named observers onto the engine's native hook points.
// It's guarded by a mutex: committed observers fire on the committing caller's
// goroutine, while will-checkpoint and checkpointed observers may fire on the
// checkpoint worker.
type registry struct {
	mu  sync.Mutex
	seq int

	sqlTraced      slots
	perfTraced     slots
	committed      slots
	willCheckpoint slots
	checkpointed   slots
}

func (r *registry) nextSeq() int {
	r.seq++
	return r.seq
}

func (r *registry) setSQLTraced(name string, fn SQLNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		r.sqlTraced.unset(name)
		return
	}
	r.sqlTraced.set(0, name, fn, r.nextSeq())
}

func (r *registry) setPerformanceTraced(name string, fn PerformanceNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		r.perfTraced.unset(name)
		return
	}
	r.perfTraced.set(0, name, fn, r.nextSeq())
}

func (r *registry) setCommitted(order int, name string, fn CommittedNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed.set(order, name, fn, r.nextSeq())
}

func (r *registry) unsetCommitted(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed.unset(name)
}

func (r *registry) setWillCheckpoint(order int, name string, fn WillCheckpointNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.willCheckpoint.set(order, name, fn, r.nextSeq())
}

func (r *registry) unsetWillCheckpoint(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.willCheckpoint.unset(name)
}

func (r *registry) setCheckpointed(name string, fn CheckpointedNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		r.checkpointed.unset(name)
		return
	}
	r.checkpointed.set(0, name, fn, r.nextSeq())
}

func (r *registry) purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sqlTraced, r.perfTraced, r.committed, r.willCheckpoint, r.checkpointed =
		nil, nil, nil, nil, nil
}

// snapshot copies an observer list so dispatch runs outside the lock, and
// observers may themselves (un)register without deadlocking.
func (r *registry) snapshot(s *slots) slots {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out = make(slots, len(*s))
	copy(out, *s)
	return out
}

func (r *registry) dispatchSQLTrace(sql string) {
	for _, s := range r.snapshot(&r.sqlTraced) {
		s.fn.(SQLNotification)(sql)
	}
}

func (r *registry) dispatchPerformance(sql string, elapsed time.Duration) {
	for _, s := range r.snapshot(&r.perfTraced) {
		s.fn.(PerformanceNotification)(sql, elapsed)
	}
}

func (r *registry) dispatchCommitted(path string, frames int) {
	for _, s := range r.snapshot(&r.committed) {
		s.fn.(CommittedNotification)(path, frames)
	}
}

func (r *registry) dispatchWillCheckpoint(path string) bool {
	for _, s := range r.snapshot(&r.willCheckpoint) {
		if !s.fn.(WillCheckpointNotification)(path) {
			return false
		}
	}
	return true
}

func (r *registry) dispatchCheckpointed(path string) {
	for _, s := range r.snapshot(&r.checkpointed) {
		s.fn.(CheckpointedNotification)(path)
	}
}
