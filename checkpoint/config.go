package checkpoint

import (
	"fmt"

	"github.com/pkg/errors"

	"go.litewal.dev/core/handle"
)

// CommitObserverOrder is the fixed ordering key of the Scheduler's commit
// observer. Caller-registered observers choose orders relative to it, so the
// Scheduler's bookkeeping runs deterministically among them.
const CommitObserverOrder = 0

// Config attaches a Scheduler's commit observer to Handles. One Config is
// typically created per process and invoked on each Handle the connection
// pool opens, and uninvoked as Handles are retired.
type Config struct {
	scheduler  *Scheduler
	identifier string
}

// NewConfig returns a Config feeding the Scheduler.
func NewConfig(s *Scheduler) *Config {
	var c = &Config{scheduler: s}
	c.identifier = fmt.Sprintf("checkpoint-%p", c)
	return c
}

// Invoke registers the Scheduler's commit observer on the Handle.
func (c *Config) Invoke(h *handle.Handle) error {
	if !h.IsOpened() {
		return errors.Errorf("handle of %q is not open", h.Path())
	}
	h.SetNotificationWhenCommitted(CommitObserverOrder, c.identifier, c.onCommitted)
	return nil
}

// Uninvoke removes the Scheduler's commit observer from the Handle.
func (c *Config) Uninvoke(h *handle.Handle) error {
	h.UnsetNotificationWhenCommitted(c.identifier)
	return nil
}

func (c *Config) onCommitted(path string, frames int) {
	c.scheduler.OnCommitted(path, frames)
}
