// Package checkpoint decouples "a write committed WAL frames" from "a
// checkpoint runs". Checkpointing inline with commit would serialize writers
// behind disk I/O, while never checkpointing grows the WAL without bound.
// The Scheduler observes per-commit WAL growth across all open database
// paths, debounces it into delayed, priority-ranked checkpoint tasks, and
// executes them on background workers via Handles borrowed from the external
// connection pool.
package checkpoint

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"go.litewal.dev/core/handle"
	"go.litewal.dev/core/metrics"
)

// Checkpoint scheduling policy defaults.
const (
	// FramesThresholdForCritical is the accumulated WAL frame count at
	// which a path's pending checkpoint escalates to critical.
	FramesThresholdForCritical = 100
	// DelayForCritical is the scheduling delay of a critical checkpoint.
	DelayForCritical = time.Second
	// DelayForNonCritical is the scheduling delay of a non-critical
	// checkpoint.
	DelayForNonCritical = 10 * time.Second
)

// A Checkpointer runs WAL checkpoints against one database connection.
// *handle.Handle implements Checkpointer.
type Checkpointer interface {
	Checkpoint(mode handle.CheckpointMode) (bool, error)
}

// A Pool loans Checkpointers for database paths. It's implemented by the
// external connection pool which owns process Handles.
type Pool interface {
	Borrow(path string) (Checkpointer, error)
	Return(c Checkpointer)
}

var timeNow = time.Now

// Scheduler is the process-wide, path-keyed checkpoint state machine.
// At most one checkpoint task per path is scheduled or in flight at any
// instant; distinct paths never contend on the same scheduling slot.
type Scheduler struct {
	// FramesThreshold at which a path escalates to critical.
	// NewScheduler defaults it to FramesThresholdForCritical.
	FramesThreshold int
	// CriticalDelay between a critical commit report and its checkpoint.
	// NewScheduler defaults it to DelayForCritical.
	CriticalDelay time.Duration
	// NonCriticalDelay between a commit report and its checkpoint.
	// NewScheduler defaults it to DelayForNonCritical.
	NonCriticalDelay time.Duration

	pool   Pool
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	paths   map[string]*pathState
	stopped bool
}

type pathState struct {
	frames    int
	critical  bool
	scheduled bool
	fireAt    time.Time
	timer     *time.Timer
}

// NewScheduler returns a Scheduler drawing Handles from the Pool, running at
// most maxConcurrent checkpoints at a time (one if <= 1; raising it lets
// distinct paths checkpoint concurrently). Policy fields may be adjusted
// before the first commit notification.
func NewScheduler(pool Pool, maxConcurrent int64) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	var ctx, cancel = context.WithCancel(context.Background())
	return &Scheduler{
		FramesThreshold:  FramesThresholdForCritical,
		CriticalDelay:    DelayForCritical,
		NonCriticalDelay: DelayForNonCritical,

		pool:   pool,
		sem:    semaphore.NewWeighted(maxConcurrent),
		ctx:    ctx,
		cancel: cancel,
		paths:  make(map[string]*pathState),
	}
}

// OnCommitted reports a committed transaction which appended |frames| WAL
// frames to the database at path. It accumulates the path's frame count and
// (re)arms its delayed checkpoint task: a short delay once accumulation
// crosses the critical threshold, a longer one otherwise. An armed task is
// only ever re-armed earlier, never later.
func (s *Scheduler) OnCommitted(path string, frames int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	var ps = s.paths[path]
	if ps == nil {
		ps = &pathState{}
		s.paths[path] = ps
	}
	ps.frames += frames
	if ps.frames <= 0 {
		// Nothing in the WAL to fold back.
		return
	}

	var critical = ps.frames >= s.FramesThreshold
	var now = timeNow()

	if !ps.scheduled {
		var delay = s.NonCriticalDelay
		if critical {
			delay = s.CriticalDelay
		}
		ps.scheduled = true
		ps.critical = critical
		ps.fireAt = now.Add(delay)

		s.wg.Add(1)
		ps.timer = time.AfterFunc(delay, func() { s.fire(path) })
		metrics.CheckpointScheduledPaths.Inc()
		return
	}

	if critical && !ps.critical {
		ps.critical = true
		if fireAt := now.Add(s.CriticalDelay); fireAt.Before(ps.fireAt) && ps.timer.Stop() {
			ps.fireAt = fireAt
			ps.timer.Reset(s.CriticalDelay)
		}
	}
}

// fire executes one scheduled checkpoint task. The path's accumulated frame
// count and scheduled flag are cleared whether or not the checkpoint
// succeeds: a failed checkpoint doesn't spin-retry, but is re-armed by the
// path's next commit.
func (s *Scheduler) fire(path string) {
	defer s.wg.Done()
	defer s.clear(path)

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return // Stopping.
	}
	defer s.sem.Release(1)

	var c, err = s.pool.Borrow(path)
	if err != nil {
		log.WithFields(log.Fields{"path": path, "err": err}).
			Warn("failed to borrow a handle for checkpoint")
		metrics.CheckpointsTotal.WithLabelValues(metrics.Skipped).Inc()
		return
	}
	defer s.pool.Return(c)

	if ran, err := c.Checkpoint(handle.CheckpointPassive); err != nil {
		log.WithFields(log.Fields{"path": path, "err": err}).
			Warn("scheduled checkpoint failed")
	} else if !ran {
		log.WithField("path", path).Debug("scheduled checkpoint was vetoed")
	}
}

func (s *Scheduler) clear(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ps := s.paths[path]; ps != nil && ps.scheduled {
		ps.frames, ps.critical, ps.scheduled = 0, false, false
		ps.timer = nil
		metrics.CheckpointScheduledPaths.Dec()
	}
}

// Remove drops all scheduling state of the path. Call it when the owning
// database is fully closed or dropped. A task already firing is not
// interrupted; it will fail to borrow a handle and perform no I/O.
func (s *Scheduler) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ps = s.paths[path]
	delete(s.paths, path)

	if ps != nil && ps.scheduled {
		metrics.CheckpointScheduledPaths.Dec()
		if ps.timer != nil && ps.timer.Stop() {
			s.wg.Done()
		}
	}
}

// Stop cancels pending tasks and blocks until in-flight checkpoints drain.
// The Scheduler ignores commit notifications thereafter.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, ps := range s.paths {
		if ps.scheduled && ps.timer != nil && ps.timer.Stop() {
			ps.scheduled = false
			metrics.CheckpointScheduledPaths.Dec()
			s.wg.Done()
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// pathFrames returns the accumulated frame count of the path.
func (s *Scheduler) pathFrames(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps := s.paths[path]; ps != nil {
		return ps.frames
	}
	return 0
}

// isScheduled returns whether the path has a scheduled or in-flight task.
func (s *Scheduler) isScheduled(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps := s.paths[path]; ps != nil {
		return ps.scheduled
	}
	return false
}
