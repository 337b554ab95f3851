package bank

import (
	"github.com/tilesim/tilesim/internal/directory"
	"github.com/tilesim/tilesim/internal/wire"
)

// operation is the per-request object a bank creates when it claims a
// request and destroys once complete() holds (§3 "Lifecycle"). It is
// mutated by its owning bank alone — no locking is needed under the
// single-threaded cooperative scheduler of §5.
type operation struct {
	op         wire.Opcode
	addr       wire.MemoryAddr
	requester  Requester

	scratchpad bool
	skipL1     bool
	skipL2     bool

	payloadWordsNeeded int
	payloadWords       []uint32

	cursor int
	line   [8]uint32

	forwarded     bool
	expectsResult bool

	flushForEviction bool
	flushAddr        wire.MemoryAddr
	flushTag         wire.MemoryTag
}

// payloadWordsFor returns how many trailing payload flits a request of this
// opcode carries before it can execute (§4.6 opcode table).
func payloadWordsFor(op wire.Opcode) int {
	switch op {
	case wire.OpStoreW, wire.OpStoreHW, wire.OpStoreB, wire.OpStoreConditional,
		wire.OpLoadAndAdd, wire.OpLoadAndOr, wire.OpLoadAndAnd, wire.OpLoadAndXor, wire.OpExchange,
		wire.OpMemsetLine, wire.OpUpdateDirectoryEntry, wire.OpUpdateDirectoryMask:
		return 1
	case wire.OpStoreLine, wire.OpPushLine:
		return 8
	default:
		return 0
	}
}

// isForwarded reports whether a request of this shape must leave the tile
// via the bank's outputRequest rather than being served from local SRAM.
// A request only ever needs the bank's outputRequest link for two reasons:
// a directory update (always consumed at the MHL, never at a bank, §4.5),
// or a mustAccessTarget request (scratchpad, PUSH_LINE, skipL2, §4.7) whose
// directory-resolved home is some OTHER tile. Once such a request has
// actually reached the bank its own address bits (or the LFSR) designated
// as the target — whether via this tile's own broadcast or the MHL
// delivering it in from elsewhere — and that bank's tile is the resolved
// home, there is nowhere left to forward it: it executes here.
func isForwarded(head wire.Flit, dir *directory.Directory, tile wire.TileID) bool {
	must := head.Scratchpad || head.Op == wire.OpPushLine || head.SkipL2 || head.Op.IsDirectoryUpdate()
	if !must {
		return false
	}
	if dir == nil {
		return true
	}
	return dir.GetNextTile(wire.MemoryAddr(head.Payload)) != tile
}

// decode builds the operation object for a newly claimed head flit (§4.6
// "decode request, claim it").
func decode(head wire.Flit, dir *directory.Directory, tile wire.TileID) *operation {
	return &operation{
		op:                 head.Op,
		addr:               wire.MemoryAddr(head.Payload),
		requester:          RequesterOf(head),
		scratchpad:         head.Scratchpad,
		skipL1:             head.SkipL1,
		skipL2:             head.SkipL2,
		payloadWordsNeeded: payloadWordsFor(head.Op),
		forwarded:          isForwarded(head, dir, tile),
		expectsResult:      head.Op.ExpectsResult(),
	}
}

// requiresCacheLine reports whether op must find its address present
// before executing — the opcodes that touch the cache array directly
// rather than streaming past it or being forwarded off-tile.
func requiresCacheLine(op wire.Opcode) bool {
	switch op {
	case wire.OpLoadW, wire.OpLoadHW, wire.OpLoadB, wire.OpLoadLinked, wire.OpStoreConditional,
		wire.OpStoreW, wire.OpStoreHW, wire.OpStoreB,
		wire.OpLoadAndAdd, wire.OpLoadAndOr, wire.OpLoadAndAnd, wire.OpLoadAndXor, wire.OpExchange,
		wire.OpFetchLine, wire.OpStoreLine, wire.OpMemsetLine, wire.OpIPKRead,
		wire.OpFlushLine, wire.OpInvalidateLine:
		return true
	default:
		return false
	}
}
