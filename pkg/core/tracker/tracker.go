// Package tracker implements the distraction hysteresis state machine.
package tracker

import (
	"github.com/sherpa-ai/sherpa/pkg/core/types"
)

// Decision is the outcome of consuming one verdict.
type Decision int

const (
	// Continue means keep sampling.
	Continue Decision = iota
	// Escalate means an intervention conversation is warranted.
	Escalate
)

// String returns a human-readable decision name.
func (d Decision) String() string {
	switch d {
	case Continue:
		return "CONTINUE"
	case Escalate:
		return "ESCALATE"
	default:
		return "UNKNOWN"
	}
}

// Tracker accumulates distraction evidence across observation cycles.
// Off-task verdicts increment the count, on-task verdicts decrement it
// toward zero, so a single glance at another window does not flip state.
//
// Tracker has exactly one writer (the supervisor's sampling path) and is
// deliberately unsynchronized.
type Tracker struct {
	threshold int
	count     int
	last      *types.Verdict
}

// New creates a tracker that escalates at the given count threshold.
// A threshold below 1 is treated as 1.
func New(threshold int) *Tracker {
	if threshold < 1 {
		threshold = 1
	}
	return &Tracker{threshold: threshold}
}

// Observe consumes one verdict and decides whether to escalate.
// Escalation does not reset the count; the supervisor resets it once the
// resulting session completes, so a session that never starts still leaves
// the accumulated distraction in place for the next cycle.
func (t *Tracker) Observe(v types.Verdict) Decision {
	if v.OnTask {
		if t.count > 0 {
			t.count--
		}
	} else {
		t.count++
	}
	t.last = &v

	if v.NeedsIntervention || t.count >= t.threshold {
		return Escalate
	}
	return Continue
}

// Count returns the current distraction count.
func (t *Tracker) Count() int {
	return t.count
}

// LastVerdict returns the most recently observed verdict, or nil before the
// first observation.
func (t *Tracker) LastVerdict() *types.Verdict {
	return t.last
}

// Reset clears the distraction count. Called by the supervisor after a
// session completes, success or failure.
func (t *Tracker) Reset() {
	t.count = 0
}
