package interfaces

// Ticker is implemented by every stateful component driven by the
// simulation kernel (arbiters, buffers, banks, routers, MHL, ICU). Tick
// executes one delta-phase: it consumes inputs that became visible in the
// previous phase, mutates internal state, and produces outputs visible to
// the next phase. It returns true if it did work, which the kernel uses to
// decide whether another delta-phase is needed before the cycle can
// advance (§5).
type Ticker interface {
	Tick() bool
}

// StallReporter is implemented by Tickers that hold buffered or pending
// work, so the deadlock detector can tell idle components from stuck ones
// and produce a diagnostic dump when forward progress stops.
type StallReporter interface {
	IsIdle() bool
	ReportStalls() []StallReport
}

// StallReport describes one piece of non-idle, non-progressing state at
// the moment a deadlock is suspected.
type StallReport struct {
	Component string
	Detail    string
}
