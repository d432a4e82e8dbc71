package handle

import (
	"database/sql/driver"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"go.litewal.dev/core/metrics"
	"go.litewal.dev/core/notifier"
)

// Suffixes of engine-managed side files, appended to the database path.
const (
	SHMSuffix     = "-shm"
	WALSuffix     = "-wal"
	JournalSuffix = "-journal"
)

// WAL file layout constants: a 32-byte file header, and a 24-byte header
// preceding each page-sized frame.
const (
	walHeaderSize      = 32
	walFrameHeaderSize = 24
)

var sqliteDriver = &sqlite3.SQLiteDriver{}

var timeNow = time.Now

// Handle owns a single engine connection to the database at a fixed path,
// along with its outstanding Statements, transaction/savepoint nesting, and
// notification registrations. A Handle serves one logical caller at a time:
// its statement pool and transaction state must not be accessed from more
// than one goroutine concurrently. This is a caller contract, and is not
// enforced by locking.
type Handle struct {
	path string
	conn *sqlite3.SQLiteConn

	nestedLevel  int
	codeToIgnore sqlite3.ErrNo

	statements []*Statement
	cache      *stmtCache
	reg        registry

	lastError    *notifier.Error
	lastInsertID int64
	changes      int64

	pageSize  int64
	walFrames int64
}

// New returns a closed Handle for the database at path. The path cannot be
// changed after construction.
func New(path string) *Handle {
	return &Handle{path: path}
}

// Path returns the database path.
func (h *Handle) Path() string { return h.path }

// WALPath returns the path of the database's write-ahead log.
func (h *Handle) WALPath() string { return h.path + WALSuffix }

// SHMPath returns the path of the database's shared-memory file.
func (h *Handle) SHMPath() string { return h.path + SHMSuffix }

// JournalPath returns the path of the database's rollback journal.
func (h *Handle) JournalPath() string { return h.path + JournalSuffix }

// IsOpened returns whether the Handle holds a live engine connection.
func (h *Handle) IsOpened() bool { return h.conn != nil }

// Open establishes the engine connection. It's idempotent: opening an
// already-open Handle is a no-op. Process-wide configuration (see Init) is
// applied to the new connection, and the engine commit hook is attached to
// drive commit notifications.
func (h *Handle) Open() error {
	if h.conn != nil {
		return nil
	}
	markOpened()

	var dc, err = sqliteDriver.Open(h.path)
	if err != nil {
		return h.error(err, "")
	}
	h.conn = dc.(*sqlite3.SQLiteConn)

	var cfg = currentConfig()
	for _, pragma := range cfg.pragmas() {
		if err = h.Execute(pragma); err != nil {
			_ = h.conn.Close()
			h.conn = nil
			return errors.WithMessagef(err, "applying %q", pragma)
		}
	}

	if h.pageSize, err = h.queryInt64("PRAGMA page_size;"); err != nil {
		_ = h.conn.Close()
		h.conn = nil
		return errors.WithMessage(err, "reading page size")
	}
	h.walFrames = h.currentWALFrames()
	h.conn.RegisterCommitHook(h.onCommit)

	metrics.HandlesOpenedTotal.Inc()
	return nil
}

// Close tears the Handle down: outstanding Statements are force-finalized,
// any unterminated transaction is rolled back, checkpoint dispatch against
// this connection is disabled, and the engine connection is released.
// Close is idempotent, and always leaves the Handle closed.
func (h *Handle) Close() error {
	if h.conn == nil {
		return nil
	}

	if h.cache != nil {
		h.cache.purge()
		h.cache = nil
	}
	h.finalizeStatements()

	if h.nestedLevel != 0 || h.IsInTransaction() {
		log.WithFields(log.Fields{
			"path":        h.path,
			"nestedLevel": h.nestedLevel,
		}).Warn("unpaired transaction at handle close; rolling back")
		h.nestedLevel = 0
		_ = h.RollbackTransaction()
	}

	h.reg.purge()
	// No checkpoint may run against a connection which is mid-teardown.
	// The lowest-priority slot vetoes ahead of every other observer.
	h.reg.setWillCheckpoint(math.MinInt32, "close",
		func(string) bool { return false })

	var err = h.conn.Close()
	h.conn = nil
	h.reg.purge()

	metrics.HandlesClosedTotal.Inc()
	if err != nil {
		return h.error(err, "")
	}
	return nil
}

// Execute runs raw statement text, which may contain multiple statements.
func (h *Handle) Execute(sql string) error {
	if h.conn == nil {
		return errors.Errorf("handle of %q is not open", h.path)
	}
	h.reg.dispatchSQLTrace(sql)

	var started = timeNow()
	var res, err = h.conn.Exec(sql, nil)
	h.reg.dispatchPerformance(sql, timeNow().Sub(started))

	if err != nil {
		return h.error(err, sql)
	}
	if res != nil {
		h.lastInsertID, _ = res.LastInsertId()
		h.changes, _ = res.RowsAffected()
	}
	return nil
}

// LastInsertRowID returns the row ID of the most recent successful insert.
func (h *Handle) LastInsertRowID() int64 { return h.lastInsertID }

// Changes returns the number of rows modified by the most recent statement.
func (h *Handle) Changes() int64 { return h.changes }

// IsInTransaction returns whether the connection is inside an explicit
// transaction.
func (h *Handle) IsInTransaction() bool {
	return h.conn != nil && !h.conn.AutoCommit()
}

// GetStatement allocates a Statement owned by this Handle. The Statement
// must be finalized, and returned via ReturnStatement, before the Handle
// closes.
func (h *Handle) GetStatement() *Statement {
	var s = &Statement{h: h}
	h.statements = append(h.statements, s)
	return s
}

// ReturnStatement erases the Statement from the Handle's pool.
func (h *Handle) ReturnStatement(s *Statement) {
	if s == nil {
		return
	}
	for i := range h.statements {
		if h.statements[i] == s {
			h.statements = append(h.statements[:i], h.statements[i+1:]...)
			return
		}
	}
}

// finalizeStatements force-finalizes any Statement still holding a plan.
// An unfinalized Statement at close is an unpaired resource in caller code:
// it's logged and corrected, never propagated, since closing must succeed.
func (h *Handle) finalizeStatements() {
	for _, s := range h.statements {
		if s.IsPrepared() {
			log.WithFields(log.Fields{
				"path": h.path,
				"sql":  s.sql,
			}).Warn("statement is not finalized at handle close; force-finalizing")
			metrics.StatementsForceFinalizedTotal.Inc()
			_ = s.Finalize()
		}
	}
	h.statements = nil
}

// SetCipherKey applies the opaque key buffer to the connection's cipher,
// using the hex-blob PRAGMA form understood by ciphered engine builds.
func (h *Handle) SetCipherKey(key []byte) error {
	if h.conn == nil {
		return errors.Errorf("handle of %q is not open", h.path)
	}
	return h.Execute(fmt.Sprintf(`PRAGMA key = "x'%X'";`, key))
}

// TableExists queries for existence of the named table. A missing table is
// (false, nil), not an error.
func (h *Handle) TableExists(table string) (bool, error) {
	var s = h.GetStatement()
	defer h.ReturnStatement(s)

	h.MarkErrorAsIgnorable(sqlite3.ErrError)
	var err = s.Prepare("SELECT 1 FROM " + quoteIdentifier(table) + " LIMIT 0;")
	h.MarkErrorAsUnignorable()

	if err != nil {
		return false, err
	}
	if !s.IsPrepared() {
		// The engine rejected the reference: no such table.
		return false, nil
	}
	defer s.Finalize()

	if _, err = s.Step(); err != nil {
		return false, err
	}
	return true, nil
}

// GetColumns returns the column names of the named table, in schema order.
func (h *Handle) GetColumns(table string) ([]string, error) {
	return h.GetValues("PRAGMA table_info("+quoteIdentifier(table)+");", 2)
}

// GetValues runs the query and returns the text of its 1-based column index
// across all result rows.
func (h *Handle) GetValues(sql string, index int) ([]string, error) {
	var s = h.GetStatement()
	defer h.ReturnStatement(s)

	if err := s.Prepare(sql); err != nil {
		return nil, err
	}
	defer s.Finalize()

	var values []string
	for {
		var more, err = s.Step()
		if err != nil {
			return nil, err
		} else if !more {
			return values, nil
		}
		values = append(values, s.GetText(index))
	}
}

// CheckpointMode selects the engine checkpoint mode.
type CheckpointMode string

const (
	// CheckpointPassive transfers WAL frames without blocking concurrent
	// readers or writers.
	CheckpointPassive CheckpointMode = "PASSIVE"
	CheckpointFull    CheckpointMode = "FULL"
	CheckpointRestart CheckpointMode = "RESTART"
	// CheckpointTruncate additionally truncates the log after transfer.
	CheckpointTruncate CheckpointMode = "TRUNCATE"
)

// Checkpoint runs a WAL checkpoint in the given mode. The will-checkpoint
// observer chain votes first: if any observer vetoes, Checkpoint returns
// (false, nil) and performs no checkpoint I/O. Otherwise a checkpoint is
// attempted and (true, err) reports its outcome, with checkpointed observers
// notified on success.
func (h *Handle) Checkpoint(mode CheckpointMode) (bool, error) {
	if h.conn == nil {
		return false, errors.Errorf("handle of %q is not open", h.path)
	}
	if !h.reg.dispatchWillCheckpoint(h.path) {
		metrics.CheckpointsTotal.WithLabelValues(metrics.Vetoed).Inc()
		log.WithField("path", h.path).Debug("checkpoint vetoed")
		return false, nil
	}

	var busy, logFrames, moved int64
	var err = h.queryRow("PRAGMA wal_checkpoint("+string(mode)+");", func(row []driver.Value) {
		busy = valueOf(row[0]).Int64()
		logFrames = valueOf(row[1]).Int64()
		moved = valueOf(row[2]).Int64()
	})
	if err != nil {
		metrics.CheckpointsTotal.WithLabelValues(metrics.Fail).Inc()
		return true, err
	}

	metrics.CheckpointsTotal.WithLabelValues(metrics.Ok).Inc()
	log.WithFields(log.Fields{
		"path":      h.path,
		"mode":      mode,
		"busy":      busy != 0,
		"logFrames": logFrames,
		"moved":     moved,
		"walSize":   humanize.IBytes(uint64(h.currentWALSize())),
	}).Debug("checkpointed")

	h.reg.dispatchCheckpointed(h.path)
	return true, nil
}

// onCommit is the engine commit hook. It measures WAL frame growth since
// the last observation and dispatches committed observers, in order, on the
// committing goroutine. The returned zero keeps the commit.
func (h *Handle) onCommit() int {
	var frames = h.currentWALFrames()
	var growth = frames - h.walFrames
	if growth < 0 {
		// The WAL was checkpointed or restarted since last observed.
		growth = frames
	}
	h.walFrames = frames

	metrics.CommitsObservedTotal.Inc()
	metrics.WALFramesObservedTotal.Add(float64(growth))

	h.reg.dispatchCommitted(h.path, int(growth))
	return 0
}

func (h *Handle) currentWALSize() int64 {
	var fi, err = os.Stat(h.WALPath())
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (h *Handle) currentWALFrames() int64 {
	var size = h.currentWALSize()
	if size <= walHeaderSize || h.pageSize <= 0 {
		return 0
	}
	return (size - walHeaderSize) / (walFrameHeaderSize + h.pageSize)
}

// queryRow runs the query and invokes fn with its first result row, if any.
func (h *Handle) queryRow(sql string, fn func(row []driver.Value)) error {
	var rows, err = h.conn.Query(sql, nil)
	if err != nil {
		return h.error(err, sql)
	}
	defer rows.Close()

	var row = make([]driver.Value, len(rows.Columns()))
	if err = rows.Next(row); err == io.EOF {
		return nil
	} else if err != nil {
		return h.error(err, sql)
	}
	fn(row)
	return nil
}

func (h *Handle) queryInt64(sql string) (int64, error) {
	var value int64
	var err = h.queryRow(sql, func(row []driver.Value) {
		value = valueOf(row[0]).Int64()
	})
	return value, err
}

// SetNotificationWhenSQLTraced registers (or, with a nil notification,
// removes) a named observer of executed statement text.
func (h *Handle) SetNotificationWhenSQLTraced(name string, fn SQLNotification) {
	h.reg.setSQLTraced(name, fn)
}

// SetNotificationWhenPerformanceTraced registers (or, with a nil
// notification, removes) a named observer of statement execution latency.
func (h *Handle) SetNotificationWhenPerformanceTraced(name string, fn PerformanceNotification) {
	h.reg.setPerformanceTraced(name, fn)
}

// SetNotificationWhenCommitted registers a named, ordered observer of
// committed transactions and their WAL frame growth. Observers run
// synchronously in (order, registration) order on the committing goroutine,
// before the commit is considered complete.
func (h *Handle) SetNotificationWhenCommitted(order int, name string, fn CommittedNotification) {
	h.reg.setCommitted(order, name, fn)
}

// UnsetNotificationWhenCommitted removes the named committed observer.
func (h *Handle) UnsetNotificationWhenCommitted(name string) {
	h.reg.unsetCommitted(name)
}

// SetNotificationWhenWillCheckpoint registers a named, ordered observer
// which votes on imminent checkpoints. A checkpoint proceeds only if all
// registered observers approve.
func (h *Handle) SetNotificationWhenWillCheckpoint(order int, name string, fn WillCheckpointNotification) error {
	if fn == nil {
		return errors.New("nil will-checkpoint notification")
	}
	h.reg.setWillCheckpoint(order, name, fn)
	return nil
}

// UnsetNotificationWhenWillCheckpoint removes the named will-checkpoint
// observer.
func (h *Handle) UnsetNotificationWhenWillCheckpoint(name string) error {
	if !h.reg.unsetWillCheckpoint(name) {
		return errors.Errorf("no will-checkpoint notification named %q", name)
	}
	return nil
}

// SetNotificationWhenCheckpointed registers (or, with a nil notification,
// removes) a named observer of completed checkpoints.
func (h *Handle) SetNotificationWhenCheckpointed(name string, fn CheckpointedNotification) {
	h.reg.setCheckpointed(name, fn)
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
