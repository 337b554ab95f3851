package arbiter

// Wormhole wraps an Arbiter with the reservation discipline that gives the
// network its wormhole-routing invariant (§4.1, §8 property 2): once an
// input wins an output, that input keeps the output exclusively — with no
// other packet interleaved on it — until the flit it sends is marked
// endOfPacket. Resolves the Open Question on single-flit packets: Grant and
// Complete(true) are expected to be called back to back within the same
// cycle, so the reservation is claimed and released without surviving into
// the next cycle (SPEC_FULL.md §9, Open Question 4).
type Wormhole struct {
	base       Arbiter
	reserved   bool
	reservedAt int
}

// NewWormhole wraps base with reservation tracking.
func NewWormhole(base Arbiter) *Wormhole {
	return &Wormhole{base: base}
}

// GetGrant returns the reserved input if one is held and it is currently
// requesting; otherwise it falls through to the wrapped arbiter. A held
// reservation whose input is not requesting this cycle yields no grant at
// all — the output stays idle rather than being handed to anyone else,
// preserving the wormhole invariant.
func (w *Wormhole) GetGrant(requests uint32, alreadyGranted uint32) (int, bool) {
	if w.reserved {
		bit := uint32(1) << uint(w.reservedAt)
		if requests&bit != 0 {
			return w.reservedAt, true
		}
		return NoGrant, false
	}
	idx, ok := w.base.GetGrant(requests, alreadyGranted)
	if ok {
		w.reserved = true
		w.reservedAt = idx
	}
	return idx, ok
}

// Complete reports whether the flit just sent on behalf of idx (the value
// last returned by GetGrant) was endOfPacket, releasing the reservation if
// so. Callers must invoke this every cycle a grant was used.
func (w *Wormhole) Complete(idx int, endOfPacket bool) {
	if w.reserved && idx == w.reservedAt && endOfPacket {
		w.reserved = false
	}
}

// Reserved reports whether an input currently holds the output.
func (w *Wormhole) Reserved() bool { return w.reserved }

func (w *Wormhole) Reset() { w.base.Reset() }
