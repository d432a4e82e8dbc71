package handle

import (
	"strconv"

	"github.com/pkg/errors"

	"go.litewal.dev/core/metrics"
)

const savepointPrefix = "litewal_savepoint_"

// Savepoint names reuse a monotonically incremented and decremented depth
// counter. They're unique within one Handle's nesting, not globally:
// a Handle serves one logical caller at a time.
func savepointName(depth int) string {
	return savepointPrefix + strconv.Itoa(depth)
}

// NestedLevel returns the current savepoint nesting depth. Zero means either
// no transaction, or a flat (outermost) transaction.
func (h *Handle) NestedLevel() int { return h.nestedLevel }

// BeginTransaction starts a flat, immediate-mode transaction. It fails if
// the connection is already in a transaction: nest with
// BeginNestedTransaction instead.
func (h *Handle) BeginTransaction() error {
	if h.IsInTransaction() {
		return errors.Errorf("handle of %q is already in a transaction", h.path)
	}
	return h.Execute("BEGIN IMMEDIATE;")
}

// BeginNestedTransaction starts a transaction if none is active, and
// otherwise pushes a uniquely-named savepoint.
func (h *Handle) BeginNestedTransaction() error {
	if !h.IsInTransaction() {
		return h.BeginTransaction()
	}
	h.nestedLevel++
	return h.Execute("SAVEPOINT " + savepointName(h.nestedLevel) + ";")
}

// CommitOrRollbackTransaction commits the outer transaction. On commit
// failure a compensating rollback is issued under ignore-all mode, so the
// rollback cannot mask the commit failure's report, and the commit failure
// is returned.
func (h *Handle) CommitOrRollbackTransaction() error {
	h.nestedLevel = 0
	if err := h.Execute("COMMIT;"); err != nil {
		h.MarkErrorAsIgnorable(ignoreAnyError)
		_ = h.Execute("ROLLBACK;")
		h.MarkErrorAsUnignorable()
		metrics.TransactionsTotal.WithLabelValues(metrics.Fail).Inc()
		return err
	}
	metrics.TransactionsTotal.WithLabelValues(metrics.Ok).Inc()
	return nil
}

// CommitOrRollbackNestedTransaction releases the current savepoint, or at
// depth zero commits the outer transaction. On release failure it rolls back
// to the savepoint instead; depth is decremented regardless of outcome, and
// the connection is left in whatever state the rollback produced.
func (h *Handle) CommitOrRollbackNestedTransaction() error {
	if h.nestedLevel == 0 {
		return h.CommitOrRollbackTransaction()
	}
	var name = savepointName(h.nestedLevel)
	h.nestedLevel--

	if err := h.Execute("RELEASE " + name + ";"); err != nil {
		h.MarkErrorAsIgnorable(ignoreAnyError)
		_ = h.Execute("ROLLBACK TO " + name + ";")
		h.MarkErrorAsUnignorable()
		return err
	}
	return nil
}

// RollbackTransaction rolls back the outer transaction and resets nesting.
// Rollback of a connection not in a transaction is tolerated.
func (h *Handle) RollbackTransaction() error {
	h.nestedLevel = 0
	h.MarkErrorAsIgnorable(ignoreAnyError)
	var err = h.Execute("ROLLBACK;")
	h.MarkErrorAsUnignorable()
	metrics.TransactionsTotal.WithLabelValues(metrics.Rollback).Inc()
	return err
}

// RollbackNestedTransaction rolls back to the current savepoint, or at depth
// zero rolls back the whole transaction.
func (h *Handle) RollbackNestedTransaction() error {
	if h.nestedLevel == 0 {
		return h.RollbackTransaction()
	}
	var name = savepointName(h.nestedLevel)
	h.nestedLevel--

	h.MarkErrorAsIgnorable(ignoreAnyError)
	var err = h.Execute("ROLLBACK TO " + name + ";")
	h.MarkErrorAsUnignorable()
	return err
}
