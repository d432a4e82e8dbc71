package handle

import (
	stderrors "errors"

	"github.com/mattn/go-sqlite3"
	"go.litewal.dev/core/notifier"
)

// ignoreNothing is the sentinel "no code to ignore" value: every failure is
// fatal to its operation. Any negative code ignores everything, which is used
// internally while issuing compensating rollbacks so that a failing rollback
// cannot mask the report of the failure which triggered it.
const (
	ignoreNothing   sqlite3.ErrNo = 0
	ignoreAnyError  sqlite3.ErrNo = -1
	noExtendedCode                = 0
)

// MarkErrorAsIgnorable arranges for engine failures with the given primary
// result code to be treated as non-fatal: the operation which hits one
// returns a nil error, while the detailed record is still forwarded to the
// process-wide notifier with level Ignore. A negative code ignores every
// failure.
func (h *Handle) MarkErrorAsIgnorable(code sqlite3.ErrNo) {
	h.codeToIgnore = code
}

// MarkErrorAsUnignorable restores the default: every failure is fatal.
func (h *Handle) MarkErrorAsUnignorable() {
	h.codeToIgnore = ignoreNothing
}

// LastError returns a snapshot of the most recent non-ignored error record
// produced by this Handle, or nil.
func (h *Handle) LastError() *notifier.Error {
	return h.lastError
}

// ignorable returns whether the code is currently masked.
func (h *Handle) ignorable(code sqlite3.ErrNo) bool {
	return h.codeToIgnore < 0 || (h.codeToIgnore != ignoreNothing && code == h.codeToIgnore)
}

// error classifies an engine failure, forwards its detailed record to the
// process-wide notifier, and returns nil iff the failure is ignorable.
func (h *Handle) error(err error, sql string) error {
	var code, extended = resultCodes(err)

	var rec = notifier.NewError(int(code), int(extended), err.Error()).
		WithInfo("path", h.path)
	if sql != "" {
		rec.WithInfo("sql", sql)
	}

	if h.ignorable(code) {
		rec.Level = notifier.LevelIgnore
		notifier.Notify(rec)
		return nil
	}
	rec.Level = notifier.LevelError
	h.lastError = rec
	notifier.Notify(rec)
	return err
}

// resultCodes extracts the engine's primary and extended result codes.
// The extended code isn't trusted for misuse-class failures, where the
// engine does not guarantee one is set.
func resultCodes(err error) (sqlite3.ErrNo, int) {
	var serr sqlite3.Error
	if !stderrors.As(err, &serr) {
		// Not an engine failure (eg, a filesystem error).
		return -1, noExtendedCode
	}
	if serr.Code == sqlite3.ErrMisuse {
		return serr.Code, noExtendedCode
	}
	return serr.Code, int(serr.ExtendedCode)
}
