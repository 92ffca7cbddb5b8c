package txn

import "testing"

func TestPendingWriteValue(t *testing.T) {
	tr := New(1, ReadWrite, 0)
	tr.WritesPending[WriteKey{Site: 1, Var: 2}] = 42
	tr.WritesPending[WriteKey{Site: 3, Var: 2}] = 42

	val, ok := tr.PendingWriteValue(2)
	if !ok || val != 42 {
		t.Fatalf("got (%d, %v), want (42, true)", val, ok)
	}

	if _, ok := tr.PendingWriteValue(9); ok {
		t.Error("expected no pending write for an untouched variable")
	}
}

func TestMarkSiteFailedOnlyAppliesToAccessedSites(t *testing.T) {
	tr := New(1, ReadWrite, 0)
	tr.MarkSiteFailed(1) // not yet accessed, should be a no-op
	if !tr.CanCommit() {
		t.Fatal("CanCommit should still be true")
	}

	tr.MarkAccessed(1)
	tr.MarkSiteFailed(1)
	if tr.CanCommit() {
		t.Fatal("CanCommit should be false once an accessed site fails")
	}
}

func TestMarkSiteFailedIsPermanent(t *testing.T) {
	tr := New(1, ReadWrite, 0)
	tr.MarkAccessed(1)
	tr.MarkSiteFailed(1)
	// A later "recovery" elsewhere in the system does not touch Transaction
	// state directly; FailedSites must stay set regardless.
	if !tr.FailedSites[1] {
		t.Fatal("expected site 1 to remain recorded as failed")
	}
}
