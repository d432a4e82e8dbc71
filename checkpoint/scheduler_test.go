package checkpoint

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.litewal.dev/core/handle"
)

type checkpointerFunc func(mode handle.CheckpointMode) (bool, error)

func (f checkpointerFunc) Checkpoint(mode handle.CheckpointMode) (bool, error) { return f(mode) }

// poolFixture is a Pool which hands out counting Checkpointers.
type poolFixture struct {
	mu        sync.Mutex
	borrowErr error
	borrowed  []string
	returned  int
	ran       []string
	modes     []handle.CheckpointMode
}

func (p *poolFixture) Borrow(path string) (Checkpointer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.borrowErr != nil {
		return nil, p.borrowErr
	}
	p.borrowed = append(p.borrowed, path)

	return checkpointerFunc(func(mode handle.CheckpointMode) (bool, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.modes = append(p.modes, mode)
		p.ran = append(p.ran, path)
		return true, nil
	}), nil
}

func (p *poolFixture) Return(Checkpointer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.returned++
}

func (p *poolFixture) runs(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for _, r := range p.ran {
		if r == path {
			n++
		}
	}
	return n
}

// newTestScheduler returns a Scheduler with test-friendly delays: critical
// checkpoints fire promptly, non-critical ones effectively never.
func newTestScheduler(t *testing.T, pool Pool) *Scheduler {
	var s = NewScheduler(pool, 2)
	s.CriticalDelay = 20 * time.Millisecond
	s.NonCriticalDelay = time.Hour
	t.Cleanup(s.Stop)
	return s
}

func TestSchedulerDebouncesCommitStorm(t *testing.T) {
	var pool = new(poolFixture)
	var s = newTestScheduler(t, pool)

	// A storm of small commits accumulates past the critical threshold, but
	// collapses into a single scheduled task.
	for i := 0; i != 150; i++ {
		s.OnCommitted("/db", 1)
	}
	assert.Equal(t, 150, s.pathFrames("/db"))
	assert.True(t, s.isScheduled("/db"))

	require.Eventually(t, func() bool { return pool.runs("/db") == 1 },
		time.Second, time.Millisecond)

	// The task cleared the path's state, and no further task fires without
	// a new commit.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, pool.runs("/db"))
	assert.Equal(t, 0, s.pathFrames("/db"))
	assert.False(t, s.isScheduled("/db"))

	pool.mu.Lock()
	defer pool.mu.Unlock()
	assert.Equal(t, pool.returned, len(pool.borrowed))
	assert.Equal(t, []handle.CheckpointMode{handle.CheckpointPassive}, pool.modes)
}

func TestSchedulerEscalatesToCriticalDelay(t *testing.T) {
	var pool = new(poolFixture)
	var s = newTestScheduler(t, pool)

	// A sub-threshold commit arms the long, non-critical delay.
	s.OnCommitted("/db", 10)
	require.True(t, s.isScheduled("/db"))
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, pool.runs("/db"))

	// Crossing the threshold re-arms the pending task to the shorter delay.
	s.OnCommitted("/db", s.FramesThreshold)
	require.Eventually(t, func() bool { return pool.runs("/db") == 1 },
		time.Second, time.Millisecond)
}

func TestSchedulerIsolatesPaths(t *testing.T) {
	var pool = new(poolFixture)
	var s = newTestScheduler(t, pool)

	s.OnCommitted("/a", s.FramesThreshold)
	s.OnCommitted("/b", 1) // Stays non-critical.

	require.Eventually(t, func() bool { return pool.runs("/a") == 1 },
		time.Second, time.Millisecond)
	assert.Zero(t, pool.runs("/b"))

	assert.Equal(t, 0, s.pathFrames("/a"))
	assert.Equal(t, 1, s.pathFrames("/b"))
	assert.True(t, s.isScheduled("/b"))
}

func TestSchedulerIgnoresEmptyCommits(t *testing.T) {
	var pool = new(poolFixture)
	var s = newTestScheduler(t, pool)

	s.OnCommitted("/db", 0)
	assert.False(t, s.isScheduled("/db"))
	assert.Equal(t, 0, s.pathFrames("/db"))
}

func TestSchedulerRearmsAfterBorrowFailure(t *testing.T) {
	var pool = new(poolFixture)
	pool.borrowErr = errors.New("no handle for path")
	var s = newTestScheduler(t, pool)

	s.OnCommitted("/db", s.FramesThreshold)
	require.Eventually(t, func() bool { return !s.isScheduled("/db") },
		time.Second, time.Millisecond)
	assert.Zero(t, pool.runs("/db"))

	// The next commit schedules anew, and succeeds once the pool recovers.
	pool.mu.Lock()
	pool.borrowErr = nil
	pool.mu.Unlock()

	s.OnCommitted("/db", s.FramesThreshold)
	require.Eventually(t, func() bool { return pool.runs("/db") == 1 },
		time.Second, time.Millisecond)
}

func TestSchedulerRemoveDropsPendingTask(t *testing.T) {
	var pool = new(poolFixture)
	var s = newTestScheduler(t, pool)

	s.OnCommitted("/db", s.FramesThreshold)
	require.True(t, s.isScheduled("/db"))
	s.Remove("/db")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, pool.runs("/db"))
	assert.False(t, s.isScheduled("/db"))
}

func TestSchedulerStopDrainsAndIgnores(t *testing.T) {
	var pool = new(poolFixture)

	var s = NewScheduler(pool, 1)
	s.CriticalDelay = time.Hour
	s.NonCriticalDelay = time.Hour

	s.OnCommitted("/a", s.FramesThreshold)
	s.OnCommitted("/b", 1)

	// Stop doesn't wait out pending delays, and cancels them.
	var done = make(chan struct{})
	go func() { s.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not drain")
	}
	assert.Zero(t, pool.runs("/a"))

	// Commits after Stop are ignored.
	s.OnCommitted("/a", s.FramesThreshold)
	assert.False(t, s.isScheduled("/a"))
}
