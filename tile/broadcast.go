package tile

import (
	"github.com/tilesim/tilesim/internal/bank"
	"github.com/tilesim/tilesim/internal/flowctl"
	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/l2filter"
	"github.com/tilesim/tilesim/internal/mhl"
	"github.com/tilesim/tilesim/internal/wire"
)

// mustAccessTarget reports whether a request head may only ever be served
// by its pre-selected target bank — scratchpad mode, PUSH_LINE, or a
// request that already skipped L2 once (§4.7). Directory updates are
// handled separately: they are never broadcast to a bank at all, since
// they are consumed at the MHL (§4.5, §4.6 opcode table).
func mustAccessTarget(f wire.Flit) bool {
	return f.Scratchpad || f.Op == wire.OpPushLine || f.SkipL2
}

// l2Broadcast implements the per-tile L2 request filter of §4.7: every
// tile-level request is seen by all of this tile's banks at once (modelled
// here as one combinational Contains scan, since the check is purely
// combinational and a line hashes to at most one bank's slot), and at most
// one claims it — the bank that already holds the line, or the LFSR/
// scratchpad/PUSH_LINE-selected fallback target on an all-miss. A
// mustAccessTarget request still goes through this same broadcast — only
// its target-bank selection differs (address bits instead of the LFSR) —
// so it lands in the resolved target bank's own InputQueue exactly like an
// ordinary request; whether that bank then executes it locally or forwards
// it on to the MHL is the bank's own decision, based on whether this tile
// is the request's directory-resolved home (internal/bank.isForwarded).
type l2Broadcast struct {
	banks []*bank.Bank
	assoc *l2filter.Association
	lfsr  *mhl.LFSR

	in    *flowctl.Buffer // merged core-originated request stream
	toMHL *flowctl.Buffer // directory-update packets, consumed at the MHL untouched by this filter

	headSeen   bool
	forwarding bool
	dest       int
	haveTarget bool
	target     int
}

func newL2Broadcast(banks []*bank.Bank, in, toMHL *flowctl.Buffer) *l2Broadcast {
	return &l2Broadcast{
		banks: banks,
		assoc: l2filter.NewAssociation(len(banks)),
		lfsr:  mhl.NewLFSR(len(banks)),
		in:    in,
		toMHL: toMHL,
	}
}

func (l *l2Broadcast) Tick() bool {
	f, ok := l.in.Peek()
	if !ok {
		return false
	}

	if l.headSeen {
		out := l.toMHL
		if !l.forwarding {
			out = l.banks[l.dest].InputQueue
		}
		if !out.CanWrite() {
			return false
		}
		l.in.Read()
		out.Write(f)
		l.headSeen = !f.EndOfPacket
		return true
	}

	if f.Op.IsDirectoryUpdate() {
		if !l.toMHL.CanWrite() {
			return false
		}
		l.in.Read()
		l.toMHL.Write(f)
		l.forwarding = true
		l.headSeen = !f.EndOfPacket
		return true
	}

	must := mustAccessTarget(f)
	if !l.haveTarget {
		l.target = l.targetFor(f)
		l.haveTarget = true
	}

	addr := wire.MemoryAddr(f.Payload)
	l.assoc.Reset()
	decided := -1
	for i, b := range l.banks {
		hit := b.Contains(addr)
		d := l2filter.Decide(l2filter.Inputs{CacheHit: hit, TargetingThisBank: i == l.target, MustAccessTarget: must})
		l.assoc.Report(i, hit)
		if d == l2filter.ClaimNow {
			decided = i
		}
	}
	if decided == -1 {
		decided = l.target
	}

	dest := l.banks[decided].InputQueue
	if !dest.CanWrite() {
		return false
	}
	l.assoc.Claim(decided)
	l.in.Read()
	dest.Write(f)
	l.dest = decided
	l.forwarding = false
	l.haveTarget = false
	l.headSeen = !f.EndOfPacket
	return true
}

// targetFor selects the pre-chosen target bank for a new request header
// (§4.7/§4.8): scratchpad address bits, PUSH_LINE's low payload bits, or
// the LFSR for an ordinary cache-miss fallback (and for skipL2, which
// reuses whichever bank the LFSR would have picked for this packet).
func (l *l2Broadcast) targetFor(f wire.Flit) int {
	mask := uint32(len(l.banks) - 1)
	switch {
	case f.Scratchpad:
		return int((f.Payload >> 5) & mask)
	case f.Op == wire.OpPushLine:
		return int(f.Payload & mask)
	default:
		return l.lfsr.Next()
	}
}

func (l *l2Broadcast) IsIdle() bool { return l.in.IsIdle() && !l.headSeen }

func (l *l2Broadcast) ReportStalls() []interfaces.StallReport {
	if l.IsIdle() {
		return nil
	}
	return []interfaces.StallReport{{Component: "l2filter", Detail: "broadcast request awaiting bank or MHL buffer space"}}
}
