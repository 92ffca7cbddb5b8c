// Package invariants checks the testable safety properties a correct
// RepCRec run must satisfy, given a completed coordinator's commit log and
// live wait-for graph.
//
// Violations are accumulated rather than reported fail-fast, so a single
// run surfaces every property it broke in one batch.
package invariants

import (
	"fmt"
	"sort"

	"github.com/blr246/adbs-repcrec/internal/coordinator"
	"github.com/blr246/adbs-repcrec/internal/waitgraph"
)

// Violation describes one property the checked run failed to satisfy.
type Violation struct {
	Type        string
	Description string
}

// Checker accumulates violations across the checks it runs.
type Checker struct {
	violations []Violation
}

// NewChecker returns an empty Checker.
func NewChecker() *Checker {
	return &Checker{}
}

// CheckAll runs every property check against a finished (or paused)
// coordinator and returns whether the run is clean, plus every violation
// found.
func (c *Checker) CheckAll(commits []coordinator.CommitRecord, wfg *waitgraph.Graph, live []int) (bool, []Violation) {
	c.violations = nil

	c.checkMonotonicCommitTimes(commits)
	c.checkNoDuplicateCommitTime(commits)
	c.checkNoConflictingWritesAtSameTime(commits)
	c.checkWaitGraphAcyclic(wfg, live)

	return len(c.violations) == 0, c.violations
}

// checkMonotonicCommitTimes verifies the commit log is already in
// increasing commit-time order, as it must be since the coordinator
// assigns commit times from a single monotonic clock.
func (c *Checker) checkMonotonicCommitTimes(commits []coordinator.CommitRecord) {
	var last uint64
	for i, rec := range commits {
		if i > 0 && rec.CommitTime <= last {
			c.violations = append(c.violations, Violation{
				Type: "NON_MONOTONIC_COMMIT",
				Description: fmt.Sprintf("T%d committed at time %d, which does not exceed the previous commit time %d",
					rec.Tx, rec.CommitTime, last),
			})
		}
		last = rec.CommitTime
	}
}

// checkNoDuplicateCommitTime verifies no two transactions were assigned the
// same commit timestamp (the clock must be injective across commits).
func (c *Checker) checkNoDuplicateCommitTime(commits []coordinator.CommitRecord) {
	seen := make(map[uint64]int)
	for _, rec := range commits {
		if other, ok := seen[rec.CommitTime]; ok {
			c.violations = append(c.violations, Violation{
				Type: "DUPLICATE_COMMIT_TIME",
				Description: fmt.Sprintf("T%d and T%d both recorded commit time %d",
					other, rec.Tx, rec.CommitTime),
			})
			continue
		}
		seen[rec.CommitTime] = rec.Tx
	}
}

// checkNoConflictingWritesAtSameTime verifies the serializability property:
// since strict 2PL holds exclusive locks through commit, no variable should
// ever appear in two different commit records with the same commit time.
func (c *Checker) checkNoConflictingWritesAtSameTime(commits []coordinator.CommitRecord) {
	lastWriterAt := make(map[int]uint64)
	for _, rec := range commits {
		for varID := range rec.Writes {
			if prev, ok := lastWriterAt[varID]; ok && prev == rec.CommitTime {
				c.violations = append(c.violations, Violation{
					Type:        "CONCURRENT_COMMIT_CONFLICT",
					Description: fmt.Sprintf("x%d was written by two transactions at commit time %d", varID, rec.CommitTime),
				})
			}
			lastWriterAt[varID] = rec.CommitTime
		}
	}
}

// checkWaitGraphAcyclic verifies wait-die's invariant: no live transaction's
// wait-for edges form a cycle. A cycle here would mean two transactions are
// deadlocked, which wait-die is designed to make impossible.
func (c *Checker) checkWaitGraphAcyclic(wfg *waitgraph.Graph, live []int) {
	if wfg == nil {
		return
	}
	sorted := append([]int(nil), live...)
	sort.Ints(sorted)
	for _, tx := range sorted {
		if cyc := wfg.Cycle(tx); len(cyc) > 0 {
			c.violations = append(c.violations, Violation{
				Type:        "WAIT_GRAPH_CYCLE",
				Description: fmt.Sprintf("wait-for graph has a cycle reachable from T%d: %v", tx, cyc),
			})
		}
	}
}
