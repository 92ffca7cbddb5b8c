package mvstore

import "testing"

func TestAtReturnsLatestSnapshotNotAfterT(t *testing.T) {
	s := New(map[int]int{2: 20, 4: 40})

	s.Append(5, map[int]int{2: 99})
	s.Append(10, map[int]int{4: 400})

	snap := s.At(7)
	if snap.CommitTime != 5 {
		t.Fatalf("expected commit time 5, got %d", snap.CommitTime)
	}
	if snap.Values[2] != 99 || snap.Values[4] != 40 {
		t.Errorf("unexpected snapshot values: %+v", snap.Values)
	}

	snap = s.At(10)
	if snap.Values[4] != 400 {
		t.Errorf("expected x4=400 at t=10, got %+v", snap.Values)
	}

	snap = s.At(0)
	if snap.Values[2] != 20 {
		t.Errorf("expected genesis value at t=0, got %+v", snap.Values)
	}
}

func TestAppendDoesNotMutatePreviousSnapshot(t *testing.T) {
	s := New(map[int]int{2: 20})
	first := s.At(0)
	s.Append(1, map[int]int{2: 21})
	if first.Values[2] != 20 {
		t.Errorf("earlier snapshot was mutated: %+v", first.Values)
	}
}
