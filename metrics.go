package tilesim

import (
	"sync/atomic"

	"github.com/tilesim/tilesim/internal/interfaces"
)

// Metrics accumulates simulation-wide counters. One Metrics is constructed
// per Chip and threaded through explicitly via chip.Options — never a
// package global, so independent Chip instances (e.g. run concurrently in
// tests) never share counters.
type Metrics struct {
	Loads    atomic.Uint64
	LoadHits atomic.Uint64

	Stores    atomic.Uint64
	StoreHits atomic.Uint64

	Flushes atomic.Uint64
	Refills atomic.Uint64

	Forwards atomic.Uint64
	Stalls   atomic.Uint64
}

// NewMetrics creates a zeroed Metrics.
func NewMetrics() *Metrics { return &Metrics{} }

// ObserveLoad records one load, hit or miss.
func (m *Metrics) ObserveLoad(bank int, hit bool) {
	m.Loads.Add(1)
	if hit {
		m.LoadHits.Add(1)
	}
}

// ObserveStore records one store, hit or miss.
func (m *Metrics) ObserveStore(bank int, hit bool) {
	m.Stores.Add(1)
	if hit {
		m.StoreHits.Add(1)
	}
}

// ObserveFlush records one dirty-line writeback.
func (m *Metrics) ObserveFlush(bank int) { m.Flushes.Add(1) }

// ObserveRefill records one line fetched in from another bank or main
// memory.
func (m *Metrics) ObserveRefill(bank int) { m.Refills.Add(1) }

// ObserveForward records one request forwarded to another tile.
func (m *Metrics) ObserveForward(tile [2]int) { m.Forwards.Add(1) }

// ObserveStall records one component reporting non-idle, non-progressing
// state to the deadlock detector.
func (m *Metrics) ObserveStall(component string) { m.Stalls.Add(1) }

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read without
// further synchronization.
type MetricsSnapshot struct {
	Loads, LoadHits   uint64
	Stores, StoreHits uint64
	Flushes, Refills  uint64
	Forwards, Stalls  uint64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Loads:     m.Loads.Load(),
		LoadHits:  m.LoadHits.Load(),
		Stores:    m.Stores.Load(),
		StoreHits: m.StoreHits.Load(),
		Flushes:   m.Flushes.Load(),
		Refills:   m.Refills.Load(),
		Forwards:  m.Forwards.Load(),
		Stalls:    m.Stalls.Load(),
	}
}

// LoadHitRate returns the fraction of loads that hit, or 0 if there were
// no loads.
func (s MetricsSnapshot) LoadHitRate() float64 {
	if s.Loads == 0 {
		return 0
	}
	return float64(s.LoadHits) / float64(s.Loads)
}

// StoreHitRate returns the fraction of stores that hit, or 0 if there were
// no stores.
func (s MetricsSnapshot) StoreHitRate() float64 {
	if s.Stores == 0 {
		return 0
	}
	return float64(s.StoreHits) / float64(s.Stores)
}

// NoOpObserver discards every event; the default when a Chip is built
// without an explicit Metrics.
type NoOpObserver struct{}

func (NoOpObserver) ObserveLoad(int, bool)  {}
func (NoOpObserver) ObserveStore(int, bool) {}
func (NoOpObserver) ObserveFlush(int)       {}
func (NoOpObserver) ObserveRefill(int)      {}
func (NoOpObserver) ObserveForward([2]int)  {}
func (NoOpObserver) ObserveStall(string)    {}

var (
	_ interfaces.Observer = (*Metrics)(nil)
	_ interfaces.Observer = NoOpObserver{}
)
