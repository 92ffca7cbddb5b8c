// Package assertlog compares a script's assertCommitted/assertAborted
// expectations against the coordinator's recorded transaction outcomes.
// Mismatches accumulate into a single aggregate failure rather than
// failing fast on the first one.
package assertlog

import (
	"fmt"

	"github.com/blr246/adbs-repcrec/internal/command"
	"github.com/blr246/adbs-repcrec/internal/coordinator"
	"github.com/blr246/adbs-repcrec/internal/rcerr"
)

// OutcomeSource is the subset of coordinator.Coordinator this package
// depends on, so tests can supply a fake.
type OutcomeSource interface {
	Outcome(tx int) (coordinator.Outcome, bool)
}

// Check compares every assertion against src and returns an
// *rcerr.AssertionFailure describing every mismatch, or nil if all
// assertions held.
func Check(assertions []command.Assertion, src OutcomeSource) error {
	var failures []string
	for _, a := range assertions {
		want := coordinator.Aborted
		if a.Kind == command.AssertCommitted {
			want = coordinator.Committed
		}

		got, ok := src.Outcome(a.Tx)
		switch {
		case !ok:
			failures = append(failures, fmt.Sprintf("T%d: expected %s, never reached a terminal state", a.Tx, want))
		case got != want:
			failures = append(failures, fmt.Sprintf("T%d: expected %s, got %s", a.Tx, want, got))
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &rcerr.AssertionFailure{Failures: failures}
}
