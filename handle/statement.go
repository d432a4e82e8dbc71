package handle

import (
	"database/sql/driver"
	"fmt"
	"io"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Statement owns one compiled-statement resource of its Handle. Statements
// are allocated from a Handle via GetStatement, and must be finalized before
// the Handle closes. The state machine is:
//
//	Unprepared -> Prepared -> (stepping)* -> Finalized
//
// Reset rewinds a stepped Statement for re-execution with new bindings;
// re-preparing different text requires an explicit Finalize first.
type Statement struct {
	h    *Handle
	sql  string
	stmt *sqlite3.SQLiteStmt

	binds   []driver.Value
	rows    driver.Rows
	row     []driver.Value
	hasRow  bool
	done    bool
	elapsed time.Duration
}

// Prepare compiles the statement text. It fails if the owning Handle is not
// open, if this Statement already holds a compiled plan, or if the engine
// rejects the text. An engine rejection whose code is currently marked
// ignorable returns nil while leaving the Statement unprepared; check
// IsPrepared to distinguish.
func (s *Statement) Prepare(sql string) error {
	if s.h == nil || !s.h.IsOpened() {
		return errors.Errorf("cannot prepare %q: handle is not open", sql)
	}
	if s.stmt != nil {
		return errors.Errorf("cannot prepare %q: statement already holds a plan (finalize first)", sql)
	}
	s.h.reg.dispatchSQLTrace(sql)

	var ds, err = s.h.conn.Prepare(sql)
	if err != nil {
		return errors.WithMessagef(s.h.error(err, sql), "preparing statement")
	}
	s.sql = sql
	s.stmt = ds.(*sqlite3.SQLiteStmt)
	s.binds = make([]driver.Value, s.stmt.NumInput())
	s.done, s.hasRow, s.elapsed = false, false, 0
	return nil
}

// IsPrepared returns whether the Statement holds a compiled plan.
func (s *Statement) IsPrepared() bool { return s.stmt != nil }

// Step advances the statement cursor. It returns true when a result row is
// available for reading, and (false, nil) when the result set is exhausted
// (or, for statements returning no rows, when execution has completed).
func (s *Statement) Step() (bool, error) {
	if s.stmt == nil {
		return false, errors.New("statement is not prepared")
	}
	if s.done {
		return false, nil
	}

	var started = timeNow()
	defer func() { s.elapsed += timeNow().Sub(started) }()

	if s.rows == nil {
		var rows, err = s.stmt.Query(s.binds)
		if err != nil {
			s.done = true
			return false, s.h.error(err, s.sql)
		}
		s.rows = rows
		s.row = make([]driver.Value, len(rows.Columns()))
	}

	var err = s.rows.Next(s.row)
	if err == io.EOF {
		s.done, s.hasRow = true, false
		s.h.reg.dispatchPerformance(s.sql, s.elapsed)
		return false, nil
	} else if err != nil {
		s.done, s.hasRow = true, false
		return false, s.h.error(err, s.sql)
	}
	s.hasRow = true
	return true, nil
}

// Reset rewinds the Statement to allow re-execution with new bindings,
// without re-preparing. Bound parameters are retained.
func (s *Statement) Reset() error {
	if s.rows != nil {
		// Closing driver rows resets the underlying plan without
		// releasing it.
		var err = s.rows.Close()
		s.rows, s.row = nil, nil
		if err != nil {
			s.done, s.hasRow = false, false
			return s.h.error(err, s.sql)
		}
	}
	s.done, s.hasRow, s.elapsed = false, false, 0
	return nil
}

// Finalize releases the compiled-statement resource. It's idempotent.
func (s *Statement) Finalize() error {
	if s.stmt == nil {
		return nil
	}
	if s.rows != nil {
		_ = s.rows.Close()
		s.rows, s.row = nil, nil
	}
	var err = s.stmt.Close()
	s.stmt, s.binds = nil, nil
	s.done, s.hasRow = false, false

	if err != nil {
		return s.h.error(err, s.sql)
	}
	return nil
}

// SQL returns the statement text of the current plan.
func (s *Statement) SQL() string { return s.sql }

func (s *Statement) bind(index int, value driver.Value) {
	if s.stmt == nil {
		panic("bind of an unprepared statement")
	}
	if index < 1 || index > len(s.binds) {
		panic(fmt.Sprintf("bind index %d out of range [1, %d]", index, len(s.binds)))
	}
	s.binds[index-1] = value
}

// BindInteger32 binds value at the 1-based parameter index.
func (s *Statement) BindInteger32(value int32, index int) { s.bind(index, int64(value)) }

// BindInteger64 binds value at the 1-based parameter index.
func (s *Statement) BindInteger64(value int64, index int) { s.bind(index, value) }

// BindDouble binds value at the 1-based parameter index.
func (s *Statement) BindDouble(value float64, index int) { s.bind(index, value) }

// BindText binds value at the 1-based parameter index.
func (s *Statement) BindText(value string, index int) { s.bind(index, value) }

// BindBLOB binds value at the 1-based parameter index.
func (s *Statement) BindBLOB(value []byte, index int) { s.bind(index, value) }

// BindNull binds NULL at the 1-based parameter index.
func (s *Statement) BindNull(index int) { s.bind(index, nil) }

// GetValue reads the 1-based column index of the current row as a tagged
// Value. Reads without a current row, or out of range, yield NULL.
func (s *Statement) GetValue(index int) Value {
	if !s.hasRow || index < 1 || index > len(s.row) {
		return NullValue()
	}
	return valueOf(s.row[index-1])
}

// GetInteger32 reads the 1-based column index, coercing as needed.
func (s *Statement) GetInteger32(index int) int32 { return s.GetValue(index).Int32() }

// GetInteger64 reads the 1-based column index, coercing as needed.
func (s *Statement) GetInteger64(index int) int64 { return s.GetValue(index).Int64() }

// GetDouble reads the 1-based column index, coercing as needed.
func (s *Statement) GetDouble(index int) float64 { return s.GetValue(index).Float() }

// GetText reads the 1-based column index, coercing as needed.
func (s *Statement) GetText(index int) string { return s.GetValue(index).Text() }

// GetBLOB reads the 1-based column index, coercing as needed.
func (s *Statement) GetBLOB(index int) []byte { return s.GetValue(index).Blob() }

// GetType returns the dynamic type of the 1-based column index of the
// current row.
func (s *Statement) GetType(index int) ColumnType { return s.GetValue(index).Type() }

// ColumnCount returns the number of result columns, or zero before the
// first Step.
func (s *Statement) ColumnCount() int {
	if s.rows == nil {
		return 0
	}
	return len(s.rows.Columns())
}

// ColumnName returns the name of the 1-based column index, or "" before the
// first Step or out of range.
func (s *Statement) ColumnName(index int) string {
	if s.rows == nil {
		return ""
	}
	var cols = s.rows.Columns()
	if index < 1 || index > len(cols) {
		return ""
	}
	return cols[index-1]
}
