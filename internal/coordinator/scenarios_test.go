package coordinator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The scenarios below run against the reference configuration (10 sites,
// 20 variables) so the placement arithmetic in each scenario (e.g. "x3 is
// non-replicated") holds exactly as written.

// wait-die aborts the younger of two conflicting waiters; the older
// waiter and the transaction it was waiting behind both commit.
func TestWaitDieAbortsYounger(t *testing.T) {
	c, _ := newTestCoordinator(t, 10, 20)
	runScript(t, c, `
begin(T1); begin(T2); begin(T3); begin(T4)
W(T2,x1,15)
R(T1,x1)
R(T2,x6)
W(T3,x6,22)
W(T4,x8,12)
R(T2,x8)
R(T4,x1)
end(T2); end(T1)
`)

	for tx, want := range map[int]Outcome{1: Committed, 2: Committed, 3: Aborted, 4: Aborted} {
		got, ok := c.Outcome(tx)
		require.Truef(t, ok, "T%d never reached a terminal state", tx)
		assert.Equalf(t, want, got, "T%d", tx)
	}
}

// a read-write transaction aborts if any site it touched goes down
// before it ends, regardless of which variable that site hosts; a
// read-only transaction commits unconditionally.
func TestSiteDownAbortsReadWrite(t *testing.T) {
	c, out := newTestCoordinator(t, 10, 20)
	runScript(t, c, `
begin(T1)
beginRO(T2)
R(T2,x1)
W(T1,x1,81)
begin(T3)
R(T3,x3)
begin(T4)
R(T4,x5)
W(T4,x5,9)
fail(2)
end(T1)
fail(4)
end(T3)
fail(6)
end(T4)
end(T2)
`)

	for tx, want := range map[int]Outcome{1: Aborted, 2: Committed, 3: Aborted, 4: Aborted} {
		got, ok := c.Outcome(tx)
		require.Truef(t, ok, "T%d never reached a terminal state", tx)
		assert.Equalf(t, want, got, "T%d", tx)
	}
	// T2's read-only snapshot predates T1's buffered (never committed) write.
	assert.Contains(t, out.String(), "x1: 10")
}

// before any writes, dump() shows x_i = 10*i on every hosting site.
func TestInitialValues(t *testing.T) {
	c, out := newTestCoordinator(t, 10, 20)
	runScript(t, c, `dump()`)

	for i := 1; i <= 20; i++ {
		assert.Containsf(t, out.String(), fmt.Sprintf("x%d: %d", i, 10*i), "x%d initial value", i)
	}
}

// a replica that just recovered is skipped for reads until a committed
// write overwrites its stale copy.
func TestPostRecoveryStalenessIsClearedByWrite(t *testing.T) {
	c, dir, _ := newTestCoordinatorWithDir(t, 10, 20)
	runScript(t, c, `
fail(3)
recover(3)
`)
	require.True(t, dir.Site(3).IsStale(4), "x4 should be stale at site 3 after recovery")

	runScript(t, c, `
begin(T1)
R(T1,x4)
`)
	_, ok := c.Outcome(1)
	assert.False(t, ok, "T1 should still be active after a single read")

	runScript(t, c, `
W(T1,x4,99)
end(T1)
`)
	outcome, ok := c.Outcome(1)
	require.True(t, ok)
	assert.Equal(t, Committed, outcome)
	assert.False(t, dir.Site(3).IsStale(4), "a committed write should clear staleness at site 3")
}

// within one read-write transaction, a write followed by a read of the
// same variable observes the transaction's own buffered value.
func TestReadYourWrites(t *testing.T) {
	c, out := newTestCoordinator(t, 10, 20)
	runScript(t, c, `
begin(T1)
W(T1,x2,555)
R(T1,x2)
end(T1)
`)
	outcome, ok := c.Outcome(1)
	require.True(t, ok)
	assert.Equal(t, Committed, outcome)
	assert.Contains(t, out.String(), "x2: 555")
}

// a read-only transaction's snapshot is fixed at its start time; a
// write that commits afterward is invisible to it.
func TestSnapshotIsolationBoundary(t *testing.T) {
	c, out := newTestCoordinator(t, 10, 20)
	runScript(t, c, `
beginRO(T1)
begin(T2)
W(T2,x2,777)
end(T2)
R(T1,x2)
end(T1)
`)
	assert.Contains(t, out.String(), "x2: 20")
	assert.NotContains(t, out.String(), "x2: 777")
	outcome, ok := c.Outcome(1)
	require.True(t, ok)
	assert.Equal(t, Committed, outcome)
}

