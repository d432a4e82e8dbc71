package handle

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Config is process-wide engine configuration, applied to each connection as
// it opens. It stands in for the engine's global one-time configuration
// calls: set it explicitly through Init rather than relying on ambient
// defaults scattered across call sites.
type Config struct {
	// BusyTimeout is how long a connection blocks on a locked database
	// before failing with a busy error.
	BusyTimeout time.Duration
	// MMapSize is the per-connection memory-map size limit, in bytes.
	// Zero leaves the engine default.
	MMapSize int64
	// JournalModeWAL places each opened database in write-ahead-log mode.
	// The checkpoint scheduler presumes WAL databases.
	JournalModeWAL bool
}

// DefaultConfig returns the configuration applied when Init is never called.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:    5 * time.Second,
		JournalModeWAL: true,
	}
}

var global = struct {
	mu     sync.Mutex
	cfg    Config
	set    bool
	opened atomic.Bool
}{cfg: DefaultConfig()}

// Init sets the process-wide configuration. It may be called at most once,
// and only before any Handle opens.
func Init(cfg Config) error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.set {
		return errors.New("handle.Init called twice")
	}
	if global.opened.Load() {
		return errors.New("handle.Init called after a Handle was opened")
	}
	global.cfg = cfg
	global.set = true
	return nil
}

func currentConfig() Config {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.cfg
}

func markOpened() { global.opened.Store(true) }

func (c Config) pragmas() []string {
	var out []string
	if c.BusyTimeout > 0 {
		out = append(out, fmt.Sprintf("PRAGMA busy_timeout = %d;", c.BusyTimeout.Milliseconds()))
	}
	if c.MMapSize > 0 {
		out = append(out, fmt.Sprintf("PRAGMA mmap_size = %d;", c.MMapSize))
	}
	if c.JournalModeWAL {
		out = append(out, "PRAGMA journal_mode = WAL;")
	}
	return out
}
