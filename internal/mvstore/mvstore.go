// Package mvstore implements the MultiversionStore: an append-only log of
// committed snapshots consulted by read-only transactions.
//
// Each append holds the full committed state as of its commit time, so a
// read-only transaction can bind to the latest snapshot at or before its
// start time and read every variable from that single point-in-time view.
package mvstore

// Snapshot is the full committed state of every variable as of CommitTime.
type Snapshot struct {
	CommitTime uint64
	Values     map[int]int
}

// Store is the ordered, append-only snapshot log.
type Store struct {
	snapshots []Snapshot
}

// New returns a store seeded with the genesis snapshot (commit time 0,
// the initial default values installed before any transaction runs).
func New(initial map[int]int) *Store {
	values := make(map[int]int, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &Store{snapshots: []Snapshot{{CommitTime: 0, Values: values}}}
}

// Append publishes a new snapshot at commitTime: the union of the
// previously committed snapshot and the given writes.
func (s *Store) Append(commitTime uint64, writes map[int]int) {
	prev := s.snapshots[len(s.snapshots)-1].Values
	merged := make(map[int]int, len(prev)+len(writes))
	for k, v := range prev {
		merged[k] = v
	}
	for k, v := range writes {
		merged[k] = v
	}
	s.snapshots = append(s.snapshots, Snapshot{CommitTime: commitTime, Values: merged})
}

// At returns the snapshot with the greatest CommitTime <= t.
func (s *Store) At(t uint64) Snapshot {
	best := s.snapshots[0]
	for _, snap := range s.snapshots {
		if snap.CommitTime <= t && snap.CommitTime >= best.CommitTime {
			best = snap
		}
	}
	return best
}
