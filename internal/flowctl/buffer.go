// Package flowctl implements the flow-controlled bounded FIFO buffer used
// throughout the network fabric (§4.2).
package flowctl

import (
	"fmt"

	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/wire"
)

// Buffer is a bounded FIFO of flits. Each occupied slot carries a
// freshness bit: Write sets it, Read clears it and fires OnDataConsumed if
// it was set (§4.2). Reads/writes become visible to other components only
// at the next Tick of the owning component (§5) — Buffer itself performs no
// implicit delta-cycle deferral; callers arrange that by reading inputs
// captured at the start of their own Tick.
type Buffer struct {
	slots []wire.Flit
	fresh []bool
	head  int // next slot to read
	count int

	// OnDataConsumed is invoked synchronously from Read when a fresh slot
	// is consumed. Credit generators (ICU, §4.9) register this to drive
	// their credit counters.
	OnDataConsumed func()
}

// NewBuffer creates a buffer with the given capacity (>= 1).
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		slots: make([]wire.Flit, capacity),
		fresh: make([]bool, capacity),
	}
}

// Capacity returns the buffer's fixed capacity.
func (b *Buffer) Capacity() int { return len(b.slots) }

// Len returns the number of occupied slots.
func (b *Buffer) Len() int { return b.count }

// CanWrite reports whether a slot is free.
func (b *Buffer) CanWrite() bool { return b.count < len(b.slots) }

// Write enqueues f. Returns false (does not panic) if the buffer is full —
// callers gate writes behind an arbiter grant that was itself conditioned
// on CanWrite, so this should never be reached in a protocol-correct
// simulation; see §4.3's "lossless given ready/credit-correct producers".
func (b *Buffer) Write(f wire.Flit) bool {
	if !b.CanWrite() {
		return false
	}
	tail := (b.head + b.count) % len(b.slots)
	b.slots[tail] = f
	b.fresh[tail] = true
	b.count++
	return true
}

// CanRead reports whether a slot is occupied.
func (b *Buffer) CanRead() bool { return b.count > 0 }

// Peek returns the head flit without consuming it.
func (b *Buffer) Peek() (wire.Flit, bool) {
	if !b.CanRead() {
		return wire.Flit{}, false
	}
	return b.slots[b.head], true
}

// Read dequeues and returns the head flit, clearing its freshness bit and
// firing OnDataConsumed if it was set.
func (b *Buffer) Read() (wire.Flit, bool) {
	if !b.CanRead() {
		return wire.Flit{}, false
	}
	f := b.slots[b.head]
	wasFresh := b.fresh[b.head]
	b.fresh[b.head] = false
	b.head = (b.head + 1) % len(b.slots)
	b.count--
	if wasFresh && b.OnDataConsumed != nil {
		b.OnDataConsumed()
	}
	return f, true
}

// FreeSlots returns the number of unoccupied slots — the "free_slots_at_sink"
// term of the credit-conservation invariant (§8 property 4).
func (b *Buffer) FreeSlots() int { return len(b.slots) - b.count }

// IsIdle reports whether the buffer currently holds anything — used by the
// deadlock detector's IsIdle/ReportStalls contract (§5, §7).
func (b *Buffer) IsIdle() bool { return b.count == 0 }

// ReportStalls returns a single report describing the head-of-line flit
// when the buffer is non-empty, letting the deadlock detector name exactly
// what is stuck (§7, flow-control stalls).
func (b *Buffer) ReportStalls() []interfaces.StallReport {
	if b.IsIdle() {
		return nil
	}
	head := b.slots[b.head]
	return []interfaces.StallReport{{
		Component: "flowctl.Buffer",
		Detail:    fmt.Sprintf("%d/%d occupied, head op=%s dest=%s", b.count, len(b.slots), head.Op, head.Dest),
	}}
}
