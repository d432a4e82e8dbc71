package handle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNestedTransactionDepthRoundTrip(t *testing.T) {
	var h = newTestHandle(t)
	require.NoError(t, h.Execute(`CREATE TABLE t (v TEXT);`))

	const n = 4
	for i := 0; i != n; i++ {
		require.NoError(t, h.BeginNestedTransaction())
		require.NoError(t, h.Execute(
			fmt.Sprintf(`INSERT INTO t (v) VALUES ('depth-%d');`, i)))
	}
	// The first begin opened the outer transaction; each further begin
	// pushed a savepoint.
	assert.Equal(t, n-1, h.NestedLevel())

	for i := 0; i != n; i++ {
		require.NoError(t, h.CommitOrRollbackNestedTransaction())
	}
	assert.Equal(t, 0, h.NestedLevel())
	assert.False(t, h.IsInTransaction())

	var values, err = h.GetValues(`SELECT v FROM t;`, 1)
	require.NoError(t, err)
	assert.Len(t, values, n)
}

func TestNestedPartialRollback(t *testing.T) {
	var h = newTestHandle(t)
	require.NoError(t, h.Execute(`CREATE TABLE t (v TEXT);`))

	require.NoError(t, h.BeginNestedTransaction())
	require.NoError(t, h.Execute(`INSERT INTO t (v) VALUES ('outer');`))

	require.NoError(t, h.BeginNestedTransaction())
	require.NoError(t, h.Execute(`INSERT INTO t (v) VALUES ('inner');`))
	assert.Equal(t, 1, h.NestedLevel())

	// Roll back only the inner savepoint, then commit the outer
	// transaction.
	require.NoError(t, h.RollbackNestedTransaction())
	assert.Equal(t, 0, h.NestedLevel())
	require.NoError(t, h.CommitOrRollbackNestedTransaction())
	assert.False(t, h.IsInTransaction())

	var values, err = h.GetValues(`SELECT v FROM t;`, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer"}, values)
}

func TestBeginOfActiveTransactionFails(t *testing.T) {
	var h = newTestHandle(t)

	require.NoError(t, h.BeginTransaction())
	assert.Error(t, h.BeginTransaction())
	require.NoError(t, h.CommitOrRollbackTransaction())
}

func TestCommitFailureRollsBack(t *testing.T) {
	var h = newTestHandle(t)
	var errs = captureErrors(t)

	require.NoError(t, h.Execute(`
		PRAGMA foreign_keys = ON;
		CREATE TABLE parent (id INTEGER PRIMARY KEY);
		CREATE TABLE child (
			id  INTEGER PRIMARY KEY,
			pid INTEGER REFERENCES parent(id) DEFERRABLE INITIALLY DEFERRED
		);
	`))

	require.NoError(t, h.BeginTransaction())
	require.NoError(t, h.Execute(`INSERT INTO child (id, pid) VALUES (1, 42);`))

	// The deferred constraint fails the COMMIT itself. A compensating
	// rollback is issued automatically, and the commit failure (not the
	// rollback) is what's returned and reported.
	require.Error(t, h.CommitOrRollbackTransaction())
	assert.False(t, h.IsInTransaction())
	assert.Equal(t, 0, h.NestedLevel())

	var values, err = h.GetValues(`SELECT id FROM child;`, 1)
	require.NoError(t, err)
	assert.Empty(t, values)

	// The commit failure surfaced at level Error; the compensating
	// rollback's outcome was masked, never reported as Error.
	require.NotEmpty(t, *errs)
	for _, e := range *errs {
		if e.Infos["sql"] == "ROLLBACK;" {
			assert.Equal(t, "ignore", e.Level.String())
		}
	}
}

func TestRollbackOutsideTransactionIsTolerated(t *testing.T) {
	var h = newTestHandle(t)

	// Rollback with no transaction active: the failure is masked.
	require.NoError(t, h.RollbackTransaction())
	require.NoError(t, h.RollbackNestedTransaction())
	assert.False(t, h.IsInTransaction())
}

func TestSavepointReleaseFailureDecrementsDepth(t *testing.T) {
	var h = newTestHandle(t)
	require.NoError(t, h.Execute(`CREATE TABLE t (v TEXT);`))

	require.NoError(t, h.BeginNestedTransaction())
	require.NoError(t, h.BeginNestedTransaction())
	assert.Equal(t, 1, h.NestedLevel())

	// Releasing a savepoint the engine no longer knows (it was consumed
	// by a full rollback) fails; depth is decremented regardless.
	require.NoError(t, h.Execute(`ROLLBACK;`))
	assert.Error(t, h.CommitOrRollbackNestedTransaction())
	assert.Equal(t, 0, h.NestedLevel())
}
