package site

import "testing"

func TestReadWriteLockLifecycle(t *testing.T) {
	s := New(1, nil)
	if err := s.Seed(2, 20, true); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if res := s.ReadLock(1, 2); res.Outcome != Granted {
		t.Fatalf("expected Granted, got %v", res.Outcome)
	}
	val, err := s.ReadCommitted(2)
	if err != nil || val != 20 {
		t.Fatalf("got (%d, %v), want (20, nil)", val, err)
	}

	// A second reader is compatible with the first.
	if res := s.ReadLock(2, 2); res.Outcome != Granted {
		t.Fatalf("expected second reader Granted, got %v", res.Outcome)
	}

	// A writer must wait behind both readers.
	res := s.WriteLock(3, 2)
	if res.Outcome != Wait {
		t.Fatalf("expected Wait, got %v", res.Outcome)
	}
	if len(res.Holders) != 2 {
		t.Errorf("expected 2 blocking holders, got %v", res.Holders)
	}
}

func TestWriteLockGrantedAfterReadersRelease(t *testing.T) {
	s := New(1, nil)
	s.Seed(2, 20, true)
	s.ReadLock(1, 2)
	s.WriteLock(2, 2) // parks behind tx 1

	woken := s.Abort(1)
	found := false
	for _, tx := range woken {
		if tx == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tx 2 to be woken, got %v", woken)
	}

	res := s.WriteLock(2, 2)
	if res.Outcome != Granted {
		t.Fatalf("expected tx 2's write lock granted after release, got %v", res.Outcome)
	}
}

func TestCommitInstallsBufferedWrites(t *testing.T) {
	s := New(1, nil)
	s.Seed(2, 20, true)
	s.WriteLock(1, 2)
	s.BufferWrite(1, 2, 99)

	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	val, err := s.ReadCommitted(2)
	if err != nil || val != 99 {
		t.Fatalf("got (%d, %v), want (99, nil)", val, err)
	}
}

func TestFailRejectsAccessAndClearsLocks(t *testing.T) {
	s := New(1, nil)
	s.Seed(2, 20, true)
	s.ReadLock(1, 2)

	affected := s.Fail(10)
	if len(affected) != 1 || affected[0] != 1 {
		t.Errorf("expected tx 1 reported affected, got %v", affected)
	}
	if s.Status() != Down {
		t.Error("site should be down after Fail")
	}
	if res := s.ReadLock(2, 2); res.Outcome != RejectedDown {
		t.Errorf("expected RejectedDown, got %v", res.Outcome)
	}
}

func TestRecoverMarksReplicatedVariablesStale(t *testing.T) {
	s := New(1, nil)
	s.Seed(2, 20, true)
	s.Seed(3, 30, false)
	s.Fail(1)
	s.Recover(2)

	if !s.IsStale(2) {
		t.Error("replicated x2 should be stale after recovery")
	}
	if s.IsStale(3) {
		t.Error("non-replicated x3 should never be marked stale")
	}
	if res := s.ReadLock(1, 2); res.Outcome != RejectedStale {
		t.Errorf("expected RejectedStale for stale replicated read, got %v", res.Outcome)
	}
	if res := s.ReadLock(1, 3); res.Outcome != Granted {
		t.Errorf("expected non-replicated read to succeed, got %v", res.Outcome)
	}
}

func TestContinuouslyUpBetween(t *testing.T) {
	s := New(1, nil)
	if !s.ContinuouslyUpBetween(0, 100) {
		t.Error("a never-failed site should be up across any interval")
	}
	s.Fail(50)
	if s.ContinuouslyUpBetween(0, 100) {
		t.Error("should not be continuously up across a failure at tick 50")
	}
	if !s.ContinuouslyUpBetween(0, 50) {
		t.Error("should be continuously up up to the failure tick")
	}
	s.Recover(60)
	if !s.ContinuouslyUpBetween(60, 200) {
		t.Error("should be continuously up in the new interval")
	}
}
