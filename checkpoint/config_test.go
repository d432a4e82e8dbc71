package checkpoint

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.litewal.dev/core/handle"
)

// handlePool loans a single fixed Handle regardless of path.
type handlePool struct{ h *handle.Handle }

func (p handlePool) Borrow(string) (Checkpointer, error) { return p.h, nil }
func (p handlePool) Return(Checkpointer)                 {}

func TestConfigDrivesCheckpointsOfLiveHandle(t *testing.T) {
	var h = handle.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, h.Open())
	defer func() { require.NoError(t, h.Close()) }()

	var s = NewScheduler(handlePool{h: h}, 1)
	s.FramesThreshold = 1
	s.CriticalDelay = 10 * time.Millisecond
	defer s.Stop()

	var cfg = NewConfig(s)

	// A closed Handle cannot be invoked.
	require.Error(t, cfg.Invoke(handle.New("/closed.db")))
	require.NoError(t, cfg.Invoke(h))

	var checkpointed = make(chan string, 8)
	h.SetNotificationWhenCheckpointed("capture", func(path string) {
		checkpointed <- path
	})

	require.NoError(t, h.Execute(`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);`))
	for i := 0; i != 5; i++ {
		require.NoError(t, h.Execute(
			fmt.Sprintf(`INSERT INTO t (v) VALUES ('row-%d');`, i)))
	}

	// Commits flowed through the observer into the Scheduler, which ran a
	// checkpoint against the borrowed Handle.
	select {
	case path := <-checkpointed:
		assert.Equal(t, h.Path(), path)
	case <-time.After(time.Second):
		t.Fatal("no checkpoint was driven")
	}

	// Uninvoked, further commits no longer reach the Scheduler.
	require.NoError(t, cfg.Uninvoke(h))
	s.Remove(h.Path())

	require.NoError(t, h.Execute(`INSERT INTO t (v) VALUES ('after');`))
	assert.Equal(t, 0, s.pathFrames(h.Path()))
	assert.False(t, s.isScheduled(h.Path()))
}
