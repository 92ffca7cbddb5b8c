// Package site implements the per-site storage replica: a durable map from
// variable id to integer, a per-variable lock table, a recovery/up-down
// state machine, and an undo-capable write buffer per active transaction.
//
// Committed state lives behind an in-memory map with durable, crash-atomic
// persistence; staged writes are buffered separately until commit installs
// them. The lock table implements textbook strict two-phase locking: shared
// and exclusive modes, a FIFO wait queue per variable, and coalesced grants
// for contiguous readers at the head of the queue.
package site

import (
	"fmt"
	"sort"

	"github.com/blr246/adbs-repcrec/internal/journal"
)

// Status is a site's up/down state.
type Status int

const (
	Up Status = iota
	Down
)

func (s Status) String() string {
	if s == Up {
		return "Up"
	}
	return "Down"
}

// LockMode is the mode of a held or requested lock.
type LockMode int

const (
	Shared LockMode = iota
	Exclusive
)

func (m LockMode) String() string {
	if m == Shared {
		return "Shared"
	}
	return "Exclusive"
}

// Outcome is the result of a lock request.
type Outcome int

const (
	Granted Outcome = iota
	Wait
	RejectedStale
	RejectedDown
)

// LockResult is returned by ReadLock and WriteLock.
type LockResult struct {
	Outcome Outcome
	// Holders lists the transactions currently blocking the request, valid
	// when Outcome == Wait.
	Holders []int
}

// Interval is a half-open [Start, End) window during which a site was
// continuously up. End == nil means the site has not failed since Start.
type Interval struct {
	Start uint64
	End   *uint64
}

type lockState struct {
	holders map[int]LockMode
	queue   []waiter
}

type waiter struct {
	tx   int
	mode LockMode
}

func newLockState() *lockState {
	return &lockState{holders: make(map[int]LockMode)}
}

// Site is a single storage replica.
type Site struct {
	ID int

	store      map[int]int
	locks      map[int]*lockState
	status     Status
	stale      map[int]bool          // post_recovery_unavailable: replicated var ids
	touchedBy  map[int]map[int]bool  // tx -> set of var ids touched since last failure
	pending    map[int]map[int]int   // tx -> var -> staged value
	replicated map[int]bool          // which hosted vars are replicated
	upHistory  []Interval
	journal    *journal.Journal
}

// New creates an Up site with no hosted variables; the caller —
// SiteDirectory — decides which variables are hosted here and installs
// each one's default value with Seed.
func New(id int, j *journal.Journal) *Site {
	return &Site{
		ID:         id,
		store:      make(map[int]int),
		locks:      make(map[int]*lockState),
		status:     Up,
		stale:      make(map[int]bool),
		touchedBy:  make(map[int]map[int]bool),
		pending:    make(map[int]map[int]int),
		replicated: make(map[int]bool),
		upHistory:  []Interval{{Start: 0, End: nil}},
		journal:    j,
	}
}

// Seed installs a hosted variable's default value directly into the
// committed store and its journal, bypassing transactions. Used only at
// startup to establish x_i = 10*i.
func (s *Site) Seed(varID, value int, replicated bool) error {
	s.store[varID] = value
	s.replicated[varID] = replicated
	if s.locks[varID] == nil {
		s.locks[varID] = newLockState()
	}
	if s.journal != nil {
		if err := s.journal.Write(varID, value); err != nil {
			return fmt.Errorf("site %d: seed x%d: %w", s.ID, varID, err)
		}
	}
	return nil
}

// Status reports whether the site is currently Up or Down.
func (s *Site) Status() Status { return s.status }

// Hosts reports whether this replica holds a copy of varID.
func (s *Site) Hosts(varID int) bool {
	_, ok := s.store[varID]
	return ok
}

// IsStale reports whether varID is stale here (unreadable since the last
// recovery, pending a committed write).
func (s *Site) IsStale(varID int) bool { return s.stale[varID] }

// CommittedValue returns the last committed value of varID regardless of
// the site's current up/down status, for dump/debug reporting.
func (s *Site) CommittedValue(varID int) (int, bool) {
	v, ok := s.store[varID]
	return v, ok
}

// ContinuouslyUpBetween reports whether the site was up for the entire
// half-open interval [from, to), used to decide whether a read-only
// transaction's snapshot read of a replicated variable is valid.
func (s *Site) ContinuouslyUpBetween(from, to uint64) bool {
	for _, iv := range s.upHistory {
		if iv.Start > from {
			continue
		}
		if iv.End == nil || *iv.End >= to {
			return true
		}
	}
	return false
}

func (s *Site) touch(tx, varID int) {
	if s.touchedBy[tx] == nil {
		s.touchedBy[tx] = make(map[int]bool)
	}
	s.touchedBy[tx][varID] = true
}

// ReadLock requests a shared lock on varID for tx.
func (s *Site) ReadLock(tx, varID int) LockResult {
	if s.status == Down {
		return LockResult{Outcome: RejectedDown}
	}
	if s.replicated[varID] && s.stale[varID] {
		return LockResult{Outcome: RejectedStale}
	}

	ls := s.lockState(varID)
	if mode, already := ls.holders[tx]; already && mode == Exclusive {
		// A transaction holding the exclusive lock can always also read.
		return LockResult{Outcome: Granted}
	}
	if holders, ok := compatibleHolders(ls, tx, Shared); ok {
		ls.holders[tx] = Shared
		s.touch(tx, varID)
		return LockResult{Outcome: Granted, Holders: holders}
	}

	s.enqueue(ls, tx, Shared)
	return LockResult{Outcome: Wait, Holders: blockingHolders(ls, tx)}
}

// WriteLock requests an exclusive lock on varID for tx. Idempotent: if tx
// already holds the exclusive lock here, it is reported Granted without
// touching the queue.
func (s *Site) WriteLock(tx, varID int) LockResult {
	if s.status == Down {
		return LockResult{Outcome: RejectedDown}
	}

	ls := s.lockState(varID)
	if mode, already := ls.holders[tx]; already {
		if mode == Exclusive {
			return LockResult{Outcome: Granted}
		}
		// Upgrade: tx holds Shared here and wants Exclusive.
		if len(ls.holders) == 1 {
			ls.holders[tx] = Exclusive
			s.touch(tx, varID)
			return LockResult{Outcome: Granted}
		}
		s.enqueue(ls, tx, Exclusive)
		return LockResult{Outcome: Wait, Holders: blockingHolders(ls, tx)}
	}

	if len(ls.holders) == 0 && !queuedAhead(ls) {
		ls.holders[tx] = Exclusive
		s.touch(tx, varID)
		return LockResult{Outcome: Granted}
	}

	s.enqueue(ls, tx, Exclusive)
	return LockResult{Outcome: Wait, Holders: blockingHolders(ls, tx)}
}

// ReadCommitted returns the currently committed value of varID. Call only
// after a successful ReadLock.
func (s *Site) ReadCommitted(varID int) (int, error) {
	if s.status == Down {
		return 0, fmt.Errorf("site %d is down", s.ID)
	}
	v, ok := s.store[varID]
	if !ok {
		return 0, fmt.Errorf("site %d does not host x%d", s.ID, varID)
	}
	return v, nil
}

// BufferWrite stages value for varID under tx. Call only after a
// successful WriteLock on this site.
func (s *Site) BufferWrite(tx, varID, value int) {
	if s.pending[tx] == nil {
		s.pending[tx] = make(map[int]int)
	}
	s.pending[tx][varID] = value
	s.touch(tx, varID)
}

// Commit installs tx's staged writes into the committed store, clears
// staleness for any variable written, releases all of tx's locks, and
// returns the set of transactions woken by the resulting grants.
func (s *Site) Commit(tx int) ([]int, error) {
	for varID, value := range s.pending[tx] {
		s.store[varID] = value
		delete(s.stale, varID)
		if s.journal != nil {
			if err := s.journal.Write(varID, value); err != nil {
				return nil, fmt.Errorf("site %d: commit x%d: %w", s.ID, varID, err)
			}
		}
	}
	delete(s.pending, tx)
	delete(s.touchedBy, tx)
	return s.releaseAll(tx), nil
}

// Abort discards tx's staged writes and releases all of tx's locks,
// returning the set of transactions woken by the resulting grants.
func (s *Site) Abort(tx int) []int {
	delete(s.pending, tx)
	delete(s.touchedBy, tx)
	return s.releaseAll(tx)
}

func (s *Site) releaseAll(tx int) []int {
	woken := map[int]bool{}
	for varID, ls := range s.locks {
		_, held := ls.holders[tx]
		delete(ls.holders, tx)
		removed := false
		newQueue := ls.queue[:0:0]
		for _, w := range ls.queue {
			if w.tx == tx {
				removed = true
				continue
			}
			newQueue = append(newQueue, w)
		}
		ls.queue = newQueue
		if held || removed {
			for _, w := range s.grantPending(varID) {
				woken[w] = true
			}
		}
	}
	result := make([]int, 0, len(woken))
	for tx := range woken {
		result = append(result, tx)
	}
	sort.Ints(result)
	return result
}

// Fail transitions the site Up -> Down: locks and touched-by state vanish,
// the committed store is untouched. Returns the transactions that had
// touched this site since its last failure, which must now abort at end()
// if they try to commit.
func (s *Site) Fail(tick uint64) []int {
	affected := make([]int, 0, len(s.touchedBy))
	for tx := range s.touchedBy {
		affected = append(affected, tx)
	}
	sort.Ints(affected)

	s.closeUpInterval(tick)
	s.status = Down
	s.locks = make(map[int]*lockState)
	s.touchedBy = make(map[int]map[int]bool)
	s.pending = make(map[int]map[int]int)
	return affected
}

func (s *Site) closeUpInterval(tick uint64) {
	if n := len(s.upHistory); n > 0 && s.upHistory[n-1].End == nil {
		s.upHistory[n-1].End = &tick
	}
}

// Recover transitions the site Down -> Up: every replicated variable
// hosted here becomes stale until the next committed write to it here.
func (s *Site) Recover(tick uint64) {
	s.status = Up
	for varID, replicated := range s.replicated {
		if replicated {
			s.stale[varID] = true
		}
	}
	s.upHistory = append(s.upHistory, Interval{Start: tick, End: nil})
}

func (s *Site) lockState(varID int) *lockState {
	ls, ok := s.locks[varID]
	if !ok {
		ls = newLockState()
		s.locks[varID] = ls
	}
	return ls
}

// compatibleHolders reports whether a Shared lock can be granted to tx
// immediately (no queue jumping past a waiting writer). Its first result
// is always nil.
func compatibleHolders(ls *lockState, tx int, mode LockMode) ([]int, bool) {
	if len(ls.queue) > 0 {
		return nil, false
	}
	for holder, m := range ls.holders {
		if holder == tx {
			continue
		}
		if m == Exclusive || mode == Exclusive {
			return nil, false
		}
	}
	return nil, true
}

func queuedAhead(ls *lockState) bool {
	return len(ls.queue) > 0
}

func blockingHolders(ls *lockState, tx int) []int {
	set := map[int]bool{}
	for holder := range ls.holders {
		if holder != tx {
			set[holder] = true
		}
	}
	for _, w := range ls.queue {
		if w.tx != tx {
			set[w.tx] = true
		}
	}
	result := make([]int, 0, len(set))
	for t := range set {
		result = append(result, t)
	}
	sort.Ints(result)
	return result
}

func (s *Site) enqueue(ls *lockState, tx int, mode LockMode) {
	for _, w := range ls.queue {
		if w.tx == tx {
			return
		}
	}
	ls.queue = append(ls.queue, waiter{tx: tx, mode: mode})
}

// grantPending scans the queue at varID from the head, granting a write
// request iff no lock is held, or granting a contiguous run of read
// requests together, per the wake-up discipline in the specification.
// Returns the transactions granted.
func (s *Site) grantPending(varID int) []int {
	ls := s.locks[varID]
	if ls == nil {
		return nil
	}

	var granted []int
	for len(ls.queue) > 0 {
		head := ls.queue[0]
		if head.mode == Exclusive {
			if len(ls.holders) == 0 {
				ls.holders[head.tx] = Exclusive
				ls.queue = ls.queue[1:]
				granted = append(granted, head.tx)
			}
			break
		}

		// Shared request: grantable iff no exclusive holder.
		hasExclusive := false
		for _, m := range ls.holders {
			if m == Exclusive {
				hasExclusive = true
				break
			}
		}
		if hasExclusive {
			break
		}
		ls.holders[head.tx] = Shared
		ls.queue = ls.queue[1:]
		granted = append(granted, head.tx)
	}
	return granted
}
