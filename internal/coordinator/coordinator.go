// Package coordinator implements the TransactionManager: the single-threaded
// cooperative scheduler that dispatches begin/beginRO/R/W/end/fail/recover/
// dump commands against a SiteDirectory, applying strict two-phase locking
// with wait-die deadlock avoidance for read-write transactions and
// multiversion snapshot reads for read-only transactions.
//
// The coordinator is a single driving loop that owns all mutable state and
// reacts to one event at a time, with no internal goroutines. An operation
// that cannot make progress is parked and re-attempted in full whenever a
// relevant event occurs (a lock release, a site recovering, or a commit),
// rather than being modeled as blocked on a specific condition set.
package coordinator

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/blr246/adbs-repcrec/internal/command"
	"github.com/blr246/adbs-repcrec/internal/directory"
	"github.com/blr246/adbs-repcrec/internal/mvstore"
	"github.com/blr246/adbs-repcrec/internal/rcerr"
	"github.com/blr246/adbs-repcrec/internal/site"
	"github.com/blr246/adbs-repcrec/internal/txn"
	"github.com/blr246/adbs-repcrec/internal/waitgraph"
)

// Outcome is a transaction's terminal disposition.
type Outcome int

const (
	Pending Outcome = iota
	Committed
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "pending"
	}
}

// parkedOp is an operation that could not make progress when first
// attempted, queued for retry on the next relevant event.
type parkedOp struct {
	op command.Operation
}

// CommitRecord is one committed read-write transaction, kept for the
// testable-property checker (internal/invariants).
type CommitRecord struct {
	Tx         int
	CommitTime uint64
	Writes     map[int]int
}

// Coordinator is the TransactionManager.
type Coordinator struct {
	dir *directory.Directory
	mv  *mvstore.Store
	wfg *waitgraph.Graph
	log zerolog.Logger
	out io.Writer

	clock     uint64
	txns      map[int]*txn.Transaction
	parked    []parkedOp
	outcomes  map[int]Outcome
	commitLog []CommitRecord
}

// New builds a Coordinator over dir, seeding its multiversion store from
// dir's current committed state. out receives dump output.
func New(dir *directory.Directory, log zerolog.Logger, out io.Writer) *Coordinator {
	initial := make(map[int]int)
	for _, v := range dir.AllVars() {
		hosts := dir.SitesFor(v)
		val, _ := dir.Site(hosts[0]).CommittedValue(v)
		initial[v] = val
	}
	return &Coordinator{
		dir:      dir,
		mv:       mvstore.New(initial),
		wfg:      waitgraph.New(),
		log:      log,
		out:      out,
		txns:     make(map[int]*txn.Transaction),
		outcomes: make(map[int]Outcome),
	}
}

// Outcome reports the terminal disposition recorded for tx, if it has one.
func (c *Coordinator) Outcome(tx int) (Outcome, bool) {
	o, ok := c.outcomes[tx]
	return o, ok
}

// CommitLog returns every committed read-write transaction that wrote at
// least one variable, in commit order. Commits with no writes are not
// recorded.
func (c *Coordinator) CommitLog() []CommitRecord {
	out := make([]CommitRecord, len(c.commitLog))
	copy(out, c.commitLog)
	return out
}

// WaitGraph exposes the live wait-for graph for the testable-property
// checker. The coordinator is single-threaded, so no synchronization is
// needed beyond the caller running after Run returns (or between commands).
func (c *Coordinator) WaitGraph() *waitgraph.Graph { return c.wfg }

// LiveTransactions returns the ids of every transaction still in the
// Active state.
func (c *Coordinator) LiveTransactions() []int {
	var out []int
	for id, t := range c.txns {
		if t.State == txn.Active {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// Run drains every Operation from src, processing each in turn.
func (c *Coordinator) Run(src *command.Source) error {
	for {
		op, ok, err := src.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		c.Process(op)
	}
}

// Process dispatches a single Operation.
func (c *Coordinator) Process(op command.Operation) {
	switch op.Kind {
	case command.Begin:
		c.begin(op.Tx)
	case command.BeginRO:
		c.beginRO(op.Tx)
	case command.Read, command.Write, command.End:
		c.attemptOrPark(op)
	case command.Fail:
		c.fail(op.Site)
	case command.Recover:
		c.recover(op.Site)
	case command.DumpAll:
		c.dumpAll()
	case command.DumpVar:
		c.dumpVar(op.Var)
	case command.DumpSite:
		c.dumpSite(op.Site)
	}
}

func (c *Coordinator) tick() uint64 {
	c.clock++
	return c.clock
}

func (c *Coordinator) begin(tx int) {
	t := txn.New(tx, txn.ReadWrite, c.tick())
	c.txns[tx] = t
	c.log.Debug().Int("tx", tx).Uint64("start", t.StartTime).Msg("begin")
}

func (c *Coordinator) beginRO(tx int) {
	t := txn.New(tx, txn.ReadOnly, c.tick())
	c.txns[tx] = t
	c.log.Debug().Int("tx", tx).Uint64("start", t.StartTime).Msg("beginRO")
}

func (c *Coordinator) attemptOrPark(op command.Operation) {
	if !c.attempt(op) {
		c.parked = append(c.parked, parkedOp{op: op})
		c.log.Debug().Int("tx", op.Tx).Msg("parked")
	}
}

// attempt runs one Read, Write or End operation to completion. It returns false
// iff the operation must be parked for a later retry; true covers both
// success and an abort discovered along the way.
func (c *Coordinator) attempt(op command.Operation) bool {
	t := c.txns[op.Tx]
	if t == nil || t.State != txn.Active {
		return true
	}
	switch op.Kind {
	case command.Read:
		if t.Kind == txn.ReadOnly {
			c.readOnly(t, op.Var)
			return true
		}
		return c.readWrite(t, op.Var)
	case command.Write:
		return c.write(t, op.Var, op.Value)
	case command.End:
		// end() must not race ahead of an operation of this same
		// transaction that is still parked: a transaction's commands are
		// processed in the order they were issued.
		if c.hasParkedFor(op.Tx) {
			return false
		}
		c.doEnd(t)
		return true
	}
	return true
}

func (c *Coordinator) hasParkedFor(tx int) bool {
	for _, p := range c.parked {
		if p.op.Tx == tx {
			return true
		}
	}
	return false
}

func (c *Coordinator) readOnly(t *txn.Transaction, varID int) {
	snap := c.mv.At(t.StartTime)
	val, ok := snap.Values[varID]
	if !ok {
		c.abort(t, rcerr.ReasonReadOnlyUnavailableHistory)
		return
	}

	if c.dir.IsReplicated(varID) {
		available := false
		for _, sid := range c.dir.SitesFor(varID) {
			if c.dir.Site(sid).ContinuouslyUpBetween(snap.CommitTime, t.StartTime) {
				available = true
				break
			}
		}
		if !available {
			c.abort(t, rcerr.ReasonReadOnlyUnavailableHistory)
			return
		}
	}

	c.log.Info().Int("tx", t.ID).Int("var", varID).Int("value", val).Msg("read (snapshot)")
	fmt.Fprintf(c.out, "x%d: %d\n", varID, val)
}

func (c *Coordinator) readWrite(t *txn.Transaction, varID int) bool {
	if val, ok := t.PendingWriteValue(varID); ok {
		c.log.Info().Int("tx", t.ID).Int("var", varID).Int("value", val).Msg("read (own write)")
		fmt.Fprintf(c.out, "x%d: %d\n", varID, val)
		return true
	}

	replicated := c.dir.IsReplicated(varID)
	for _, sid := range c.dir.SitesFor(varID) {
		s := c.dir.Site(sid)
		if s.Status() == site.Down {
			continue
		}
		if replicated && s.IsStale(varID) {
			continue
		}

		res := s.ReadLock(t.ID, varID)
		switch res.Outcome {
		case site.Granted:
			t.MarkAccessed(sid)
			val, err := s.ReadCommitted(varID)
			if err != nil {
				c.log.Error().Err(err).Int("tx", t.ID).Int("var", varID).Msg("read failed")
				return false
			}
			c.log.Info().Int("tx", t.ID).Int("site", sid).Int("var", varID).Int("value", val).Msg("read")
			fmt.Fprintf(c.out, "x%d: %d\n", varID, val)
			return true
		case site.Wait:
			return c.waitOrDie(t, res.Holders)
		}
	}

	// Every hosting site is down or (for a replicated variable) stale.
	return false
}

func (c *Coordinator) write(t *txn.Transaction, varID, value int) bool {
	var up []int
	for _, sid := range c.dir.SitesFor(varID) {
		if c.dir.Site(sid).Status() == site.Up {
			up = append(up, sid)
		}
	}
	if len(up) == 0 {
		return false
	}

	var granted []int
	var waiting []int
	for _, sid := range up {
		res := c.dir.Site(sid).WriteLock(t.ID, varID)
		switch res.Outcome {
		case site.Granted:
			granted = append(granted, sid)
		case site.Wait:
			waiting = append(waiting, res.Holders...)
		}
	}

	if len(waiting) > 0 {
		return c.waitOrDie(t, dedupInts(waiting))
	}

	for _, sid := range granted {
		c.dir.Site(sid).BufferWrite(t.ID, varID, value)
		t.MarkAccessed(sid)
		t.WritesPending[txn.WriteKey{Site: sid, Var: varID}] = value
	}
	c.log.Info().Int("tx", t.ID).Int("var", varID).Int("value", value).Ints("sites", granted).Msg("write buffered")
	return true
}

// waitOrDie applies wait-die: t waits iff it is older than every blocking
// holder; otherwise it dies (aborts) immediately. Returns false (parked) on
// wait, true (handled) on die.
func (c *Coordinator) waitOrDie(t *txn.Transaction, holders []int) bool {
	if len(holders) == 0 {
		return false
	}

	olderThanAll := true
	for _, h := range holders {
		other := c.txns[h]
		if other == nil {
			continue
		}
		if t.StartTime > other.StartTime {
			olderThanAll = false
		}
	}
	if !olderThanAll {
		c.abort(t, rcerr.ReasonWaitDie)
		return true
	}

	for _, h := range holders {
		c.wfg.AddEdge(t.ID, h)
	}
	return false
}

func (c *Coordinator) doEnd(t *txn.Transaction) {
	txID := t.ID

	if t.Kind == txn.ReadOnly {
		t.State = txn.Committed
		c.outcomes[txID] = Committed
		c.log.Info().Int("tx", txID).Msg("commit (read-only)")
		return
	}

	if !t.CanCommit() {
		c.abort(t, rcerr.ReasonSiteDownDuringAccess)
		return
	}

	writes := make(map[int]int, len(t.WritesPending))
	for key, val := range t.WritesPending {
		writes[key.Var] = val
	}

	for sid := range t.SitesAccessed {
		if _, err := c.dir.Site(sid).Commit(txID); err != nil {
			c.log.Error().Err(err).Int("tx", txID).Int("site", sid).Msg("commit failed")
		}
	}
	if len(writes) > 0 {
		commitTime := c.tick()
		c.mv.Append(commitTime, writes)
		c.commitLog = append(c.commitLog, CommitRecord{Tx: txID, CommitTime: commitTime, Writes: writes})
	}

	t.State = txn.Committed
	c.outcomes[txID] = Committed
	c.wfg.RemoveNode(txID)
	c.log.Info().Int("tx", txID).Msg("commit")
	c.retryParked()
}

func (c *Coordinator) abort(t *txn.Transaction, reason rcerr.AbortReason) {
	t.State = txn.Aborted
	c.outcomes[t.ID] = Aborted
	for _, s := range c.dir.AllSites() {
		s.Abort(t.ID)
	}
	c.wfg.RemoveNode(t.ID)
	c.log.Warn().Int("tx", t.ID).Str("reason", reason.String()).Msg("abort")
	c.retryParked()
}

// retryParked re-attempts every currently parked operation once. An
// operation that still cannot proceed is re-parked for the next event.
func (c *Coordinator) retryParked() {
	pending := c.parked
	c.parked = nil
	for _, p := range pending {
		if !c.attempt(p.op) {
			c.parked = append(c.parked, p)
		}
	}
}

func (c *Coordinator) fail(siteID int) {
	s := c.dir.Site(siteID)
	if s == nil || s.Status() == site.Down {
		return
	}
	tick := c.tick()
	affected := s.Fail(tick)
	for _, txID := range affected {
		if t := c.txns[txID]; t != nil {
			t.MarkSiteFailed(siteID)
		}
	}
	c.log.Warn().Int("site", siteID).Uint64("tick", tick).Ints("affected", affected).Msg("fail")
	c.retryParked()
}

func (c *Coordinator) recover(siteID int) {
	s := c.dir.Site(siteID)
	if s == nil {
		return
	}
	tick := c.tick()
	s.Recover(tick)
	c.log.Info().Int("site", siteID).Uint64("tick", tick).Msg("recover")
	c.retryParked()
}

// dumpAll emits the full committed state of every site.
func (c *Coordinator) dumpAll() {
	for sid := 1; sid <= c.dir.NumSites(); sid++ {
		c.dumpSite(sid)
	}
}

// dumpVar emits the committed value of varID on every site that hosts it.
func (c *Coordinator) dumpVar(varID int) {
	for _, sid := range c.dir.SitesFor(varID) {
		val, _ := c.dir.Site(sid).CommittedValue(varID)
		fmt.Fprintf(c.out, "site %d - x%d: %d\n", sid, varID, val)
	}
}

func (c *Coordinator) dumpSite(siteID int) {
	s := c.dir.Site(siteID)
	if s == nil {
		return
	}
	var parts []string
	for _, v := range c.dir.AllVars() {
		if !s.Hosts(v) {
			continue
		}
		val, _ := s.CommittedValue(v)
		parts = append(parts, fmt.Sprintf("x%d: %d", v, val))
	}
	fmt.Fprintf(c.out, "site %d - %s\n", siteID, strings.Join(parts, ", "))
}

func dedupInts(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
