package sim

import "github.com/tilesim/tilesim/internal/interfaces"

// DeadlockDetector mirrors §5's "simulation top-level periodically asks
// every component isIdle" design: it tracks how many consecutive cycles
// have passed with no Ticker reporting progress, and every CheckInterval
// cycles decides whether that silence means the chip is legitimately
// quiescent (every component reports idle) or stuck.
type DeadlockDetector struct {
	checkInterval uint64
	warnInterval  uint64
	idleStreak    uint64
}

// NewDeadlockDetector builds a detector with the given check and warn
// intervals (cycles), normally constants.DeadlockCheckInterval and
// constants.StallWarnInterval.
func NewDeadlockDetector(checkInterval, warnInterval uint64) *DeadlockDetector {
	return &DeadlockDetector{checkInterval: checkInterval, warnInterval: warnInterval}
}

// Observe records whether the most recently stepped cycle made progress,
// resetting the idle streak on any progress.
func (d *DeadlockDetector) Observe(progressed bool) {
	if progressed {
		d.idleStreak = 0
		return
	}
	d.idleStreak++
}

// ShouldWarn reports whether the idle streak has crossed the warn
// threshold, and should be logged once rather than every cycle — callers
// are expected to only act on the rising edge.
func (d *DeadlockDetector) ShouldWarn() bool {
	return d.warnInterval > 0 && d.idleStreak == d.warnInterval
}

// Check collects ReportStalls from every reporter that isn't idle. A
// non-empty result after the idle streak has reached checkInterval means
// the chip has outstanding, non-progressing work — a deadlock (§5, §7). An
// empty result just means every component has drained: the chip has
// legitimately finished.
func (d *DeadlockDetector) Check(reporters []interfaces.StallReporter) (deadlocked bool, reports []interfaces.StallReport) {
	if d.checkInterval == 0 || d.idleStreak < d.checkInterval {
		return false, nil
	}
	for _, r := range reporters {
		if !r.IsIdle() {
			reports = append(reports, r.ReportStalls()...)
		}
	}
	return len(reports) > 0, reports
}
