// Package sim implements the delta-phase scheduling substrate described in
// §5: a Kernel drives every component through repeated delta-phases within
// one cycle until none reports progress, then advances the cycle counter,
// and a DeadlockDetector watches for cycles on cycles of non-progress
// while work remains outstanding.
package sim

import "github.com/tilesim/tilesim/internal/interfaces"

// maxDeltaPhasesPerCycle bounds the delta-phase loop so a wiring bug that
// makes two components perpetually hand work back and forth (rather than
// reaching quiescence) fails fast instead of spinning forever.
const maxDeltaPhasesPerCycle = 1000

// Kernel drives a fixed list of Tickers through delta-phases per cycle,
// modelling §5's "delta-phases before clock edges are observed" with no
// goroutines inside one chip's simulation loop — concurrency is reserved
// for running independent Chip instances, never two components of the
// same cycle.
type Kernel struct {
	tickers []interfaces.Ticker
	cycle   uint64
}

// New builds an empty Kernel. Components are registered with Add after
// construction, in whatever order wiring produces them — delta-phase
// semantics make registration order immaterial to the result, only to how
// many phases it takes to reach quiescence.
func New() *Kernel {
	return &Kernel{}
}

// Add registers a Ticker to be driven every cycle.
func (k *Kernel) Add(t interfaces.Ticker) {
	k.tickers = append(k.tickers, t)
}

// Cycle returns the number of cycles fully stepped so far.
func (k *Kernel) Cycle() uint64 { return k.cycle }

// Step runs one cycle: repeated delta-phases across every registered
// Ticker until a full pass produces no progress, then advances the cycle
// counter. It returns whether any ticker did work this cycle (false means
// the whole chip is quiescent, not necessarily deadlocked — see
// DeadlockDetector for that distinction) and the number of delta-phases
// the cycle took.
func (k *Kernel) Step() (progressed bool, phases int) {
	for phases < maxDeltaPhasesPerCycle {
		any := false
		for _, t := range k.tickers {
			if t.Tick() {
				any = true
			}
		}
		phases++
		if !any {
			break
		}
		progressed = true
	}
	k.cycle++
	return progressed, phases
}
