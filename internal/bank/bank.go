package bank

import (
	"fmt"

	"github.com/tilesim/tilesim/internal/directory"
	"github.com/tilesim/tilesim/internal/flowctl"
	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/wire"
)

// Config configures a Bank (grounded on the teacher's per-queue Config
// shape, internal/queue/runner.go's Config).
type Config struct {
	BankID     int
	Tile       wire.TileID
	IndexBits  uint
	BufferSize int
	Logger     interfaces.Logger
	Observer   interfaces.Observer

	// Directory resolves whether this tile is actually home for a
	// mustAccessTarget request's address (§4.7); nil in harnesses that
	// never exercise scratchpad/PUSH_LINE/skipL2 traffic, in which case
	// such requests are always treated as forwarded.
	Directory *directory.Directory
}

// Bank is the per-bank memory-operation engine of §4.6: SRAM arrays, the
// IDLE/REQUEST/ALLOCATE/FLUSH/REFILL/FORWARD state machine, the miss
// buffer, and the five flow-controlled FIFOs connecting it to the rest of
// the tile.
type Bank struct {
	id   int
	tile wire.TileID
	dir  *directory.Directory

	lines *lineStore
	log   interfaces.Logger
	obs   interfaces.Observer

	// InputQueue carries requests broadcast to the tile and claimed by this
	// bank (§4.7); ResponseIn carries refill/forward-result data demuxed to
	// this bank by the MHL (§4.8); OutputData/OutputInstruction carry
	// responses to the requester; OutputRequest carries anything this bank
	// must forward off-bank (misses, forwards, flush writebacks).
	InputQueue        *flowctl.Buffer
	ResponseIn        *flowctl.Buffer
	OutputData        *flowctl.Buffer
	OutputInstruction *flowctl.Buffer
	OutputRequest     *flowctl.Buffer

	pendingFlushes map[wire.MemoryTag]struct{}
	missBuffer     []wire.Flit

	state          State
	activeRequest  *operation
	missingRequest *operation
}

// New builds a Bank from cfg.
func New(cfg Config) *Bank {
	size := cfg.BufferSize
	if size < 1 {
		size = 1
	}
	return &Bank{
		id:                cfg.BankID,
		tile:              cfg.Tile,
		dir:               cfg.Directory,
		lines:             newLineStore(cfg.IndexBits),
		log:               cfg.Logger,
		obs:               cfg.Observer,
		InputQueue:        flowctl.NewBuffer(size),
		ResponseIn:        flowctl.NewBuffer(size),
		OutputData:        flowctl.NewBuffer(size),
		OutputInstruction: flowctl.NewBuffer(size),
		OutputRequest:     flowctl.NewBuffer(size),
		pendingFlushes:    make(map[wire.MemoryTag]struct{}),
	}
}

// ID returns the bank's index within its tile.
func (b *Bank) ID() int { return b.id }

// Contains reports whether addr's line is currently valid in this bank,
// the per-bank input to the tile's l2filter claim decision (§4.7).
func (b *Bank) Contains(addr wire.MemoryAddr) bool { return b.lines.Contains(addr) }

// State returns the bank's current state machine state, for tests and
// instrumentation.
func (b *Bank) State() State { return b.state }

// Flushing reports whether tag is currently being written back, the flush
// interlock of §4.7 ("before claiming a miss, a bank checks flushing(addr)").
func (b *Bank) Flushing(tag wire.MemoryTag) bool {
	_, ok := b.pendingFlushes[tag]
	return ok
}

// HitUnderMissEligible reports whether head may be claimed by this bank
// while a miss is already outstanding (§4.6): it would hit, it targets a
// different destination than the outstanding miss, its line differs, and
// it is not itself a forwarded request expecting a response.
func (b *Bank) HitUnderMissEligible(head wire.Flit) bool {
	if b.missingRequest == nil {
		return true
	}
	addr := wire.MemoryAddr(head.Payload)
	if !b.lines.Contains(addr) {
		return false
	}
	if RequesterOf(head) == b.missingRequest.requester {
		return false
	}
	if addr.Tag() == b.missingRequest.addr.Tag() {
		return false
	}
	if isForwarded(head, b.dir, b.tile) && head.Op.ExpectsResult() {
		return false
	}
	return true
}

// Tick runs one delta-phase of the state machine (§4.6, §5).
func (b *Bank) Tick() bool {
	switch b.state {
	case StateIdle:
		return b.tickIdle()
	case StateRequest:
		return b.tickRequest()
	case StateAllocate:
		return b.tickAllocate()
	case StateFlush:
		return b.tickFlush()
	case StateRefill:
		return b.tickRefill()
	case StateForward:
		return b.tickForward()
	default:
		return false
	}
}

func (b *Bank) tickIdle() bool {
	if b.ResponseIn.CanRead() {
		b.state = StateRefill
		if b.missingRequest != nil {
			b.missingRequest.cursor = 0
		}
		return true
	}
	head, ok := b.InputQueue.Peek()
	if !ok {
		return false
	}
	if !b.HitUnderMissEligible(head) {
		return false
	}
	b.InputQueue.Read()
	b.activeRequest = decode(head, b.dir, b.tile)
	b.state = StateRequest
	return true
}

func (b *Bank) tickRequest() bool {
	op := b.activeRequest

	if len(op.payloadWords) < op.payloadWordsNeeded {
		f, ok := b.InputQueue.Read()
		if !ok {
			return false
		}
		op.payloadWords = append(op.payloadWords, f.Payload)
		return true
	}

	if op.forwarded {
		if !b.OutputRequest.CanWrite() {
			return false
		}
		eop := len(op.payloadWords) == 0
		head := wire.NewRequestFlit(uint32(op.addr), wire.ChannelID{}, op.op, eop)
		head.Scratchpad = op.scratchpad
		head.SkipL1 = op.skipL1
		head.SkipL2 = op.skipL2
		head.ReturnTile = op.requester.ReturnTile
		head.ReturnChannel = op.requester.ReturnChannel
		b.OutputRequest.Write(head)
		op.cursor = 0
		b.state = StateForward
		if b.obs != nil {
			b.obs.ObserveForward([2]int{b.tile.X, b.tile.Y})
		}
		return true
	}

	if requiresCacheLine(op.op) && !b.lines.Contains(op.addr) {
		b.state = StateAllocate
		return true
	}

	return b.execute(op)
}

func (b *Bank) tickAllocate() bool {
	op := b.activeRequest

	if b.lines.Contains(op.addr) {
		// Became valid while we waited (e.g. another claim refilled it).
		b.activeRequest = nil
		b.state = StateIdle
		return true
	}

	victimTag := b.lines.tags[b.lines.slot(op.addr)]
	if b.lines.valid[b.lines.slot(op.addr)] && b.lines.dirty[b.lines.slot(op.addr)] {
		b.pendingFlushes[victimTag] = struct{}{}
		op.flushForEviction = true
		op.flushAddr = op.addr
		op.flushTag = victimTag
		op.cursor = 0
		b.lines.ReadLine(op.addr, &op.line)
		b.state = StateFlush
		return true
	}

	if !b.OutputRequest.CanWrite() {
		return false
	}
	b.lines.Allocate(op.addr, op.skipL2)
	b.lines.valid[b.lines.slot(op.addr)] = false // tag claimed, not yet refilled
	b.OutputRequest.Write(b.fetchLineFlit(op.addr))
	if b.obs != nil {
		b.obs.ObserveStall("bank.miss")
	}
	b.missingRequest = op
	b.activeRequest = nil
	b.state = StateIdle
	return true
}

func (b *Bank) tickFlush() bool {
	op := b.activeRequest

	if op.cursor < 8 {
		if !b.OutputRequest.CanWrite() {
			return false
		}
		eop := op.cursor == 7
		b.OutputRequest.Write(wire.NewPayloadFlit(op.line[op.cursor], wire.ChannelID{}, eop))
		op.cursor++
		return true
	}

	if b.lines.Dirty(op.flushAddr) {
		b.lines.MarkFlushed(op.flushAddr)
		delete(b.pendingFlushes, op.flushTag)
		if b.obs != nil {
			b.obs.ObserveFlush(b.id)
		}
	}

	if op.flushForEviction {
		if !b.OutputRequest.CanWrite() {
			return false
		}
		b.lines.Allocate(op.addr, op.skipL2)
		b.lines.valid[b.lines.slot(op.addr)] = false
		b.OutputRequest.Write(b.fetchLineFlit(op.addr))
		b.missingRequest = op
		b.activeRequest = nil
		b.state = StateIdle
		return true
	}

	b.activeRequest = nil
	b.state = StateIdle
	return true
}

func (b *Bank) tickRefill() bool {
	op := b.missingRequest
	if op == nil {
		// No parked request — drain and drop (shouldn't happen under a
		// protocol-correct MHL).
		b.ResponseIn.Read()
		b.state = StateIdle
		return true
	}

	f, ok := b.ResponseIn.Read()
	if !ok {
		return false
	}
	op.line[op.cursor] = f.Payload
	op.cursor++
	if f.EndOfPacket || op.cursor == 8 {
		b.lines.WriteLine(op.addr, op.line)
		b.lines.Validate(op.addr)
		if b.obs != nil {
			b.obs.ObserveRefill(b.id)
		}
		b.missingRequest = nil
		op.cursor = 0
		op.payloadWords = nil
		b.activeRequest = op
		b.state = StateRequest
	}
	return true
}

func (b *Bank) tickForward() bool {
	op := b.activeRequest
	if op.cursor < len(op.payloadWords) {
		if !b.OutputRequest.CanWrite() {
			return false
		}
		eop := op.cursor == len(op.payloadWords)-1
		b.OutputRequest.Write(wire.NewPayloadFlit(op.payloadWords[op.cursor], wire.ChannelID{}, eop))
		op.cursor++
		return true
	}

	if op.expectsResult {
		b.missingRequest = op
	}
	b.activeRequest = nil
	b.state = StateIdle
	return true
}

// execute performs a non-forwarded, cache-line-present (or line-independent)
// operation. It returns true once it made progress this cycle, and leaves
// b.state at StateRequest with an advanced op.cursor for multi-flit
// responses (FETCH_LINE, IPK_READ) that span more than one Tick.
func (b *Bank) execute(op *operation) bool {
	switch op.op {
	case wire.OpLoadW, wire.OpLoadHW, wire.OpLoadB:
		val := narrowLoad(op.op, op.addr, b.lines.ReadWord(op.addr))
		if !b.emitResult(op, val, false) {
			return false
		}
		if b.obs != nil {
			b.obs.ObserveLoad(b.id, true)
		}
		return b.complete()

	case wire.OpLoadLinked:
		val := b.lines.ReadWord(op.addr)
		b.lines.MakeReservation(op.requester, op.addr)
		if !b.emitResult(op, val, false) {
			return false
		}
		return b.complete()

	case wire.OpStoreConditional:
		ok := b.lines.CheckReservation(op.requester, op.addr)
		if ok {
			b.lines.WriteWord(op.addr, op.payloadWords[0])
		}
		var result uint32
		if ok {
			result = 1
		}
		if !b.emitResult(op, result, false) {
			return false
		}
		return b.complete()

	case wire.OpStoreW, wire.OpStoreHW, wire.OpStoreB:
		old := b.lines.ReadWord(op.addr)
		b.lines.WriteWord(op.addr, mergeStore(op.op, op.addr, old, op.payloadWords[0]))
		if b.obs != nil {
			b.obs.ObserveStore(b.id, true)
		}
		return b.complete()

	case wire.OpLoadAndAdd, wire.OpLoadAndOr, wire.OpLoadAndAnd, wire.OpLoadAndXor, wire.OpExchange:
		old := b.lines.ReadWord(op.addr)
		b.lines.WriteWord(op.addr, atomicApply(op.op, old, op.payloadWords[0]))
		if !b.emitResult(op, old, false) {
			return false
		}
		return b.complete()

	case wire.OpFetchLine:
		if op.cursor == 0 {
			b.lines.ReadLine(op.addr, &op.line)
		}
		if !b.OutputData.CanWrite() {
			return false
		}
		eop := op.cursor == 7
		out := wire.NewPayloadFlit(op.line[op.cursor], wire.ChannelID{}, eop)
		out.ReturnTile, out.ReturnChannel = op.requester.ReturnTile, op.requester.ReturnChannel
		b.OutputData.Write(out)
		op.cursor++
		if eop {
			return b.complete()
		}
		return true

	case wire.OpIPKRead:
		word := b.lines.ReadWord(op.addr + wire.MemoryAddr(op.cursor*4))
		if !b.OutputInstruction.CanWrite() {
			return false
		}
		// Bit 31 embeds the end-of-packet marker for instruction streaming.
		eop := word&(1<<31) != 0 || op.cursor == 7
		b.OutputInstruction.Write(wire.Flit{
			Payload: word, EndOfPacket: eop, IsInstruction: true,
			ReturnTile: op.requester.ReturnTile, ReturnChannel: op.requester.ReturnChannel,
		})
		op.cursor++
		if eop {
			return b.complete()
		}
		return true

	case wire.OpStoreLine:
		copy(op.line[:], op.payloadWords)
		b.lines.WriteLine(op.addr, op.line)
		b.lines.dirty[b.lines.slot(op.addr)] = true
		return b.complete()

	case wire.OpPushLine:
		// Unlike STORE_LINE, a pushed line installs itself at its target
		// bank's slot unconditionally — there is no prior ALLOCATE, since
		// the whole point of PUSH_LINE is to plant a line at a bank chosen
		// by address bits rather than by cache association (§4.7).
		copy(op.line[:], op.payloadWords)
		b.lines.Allocate(op.addr, op.skipL2)
		b.lines.WriteLine(op.addr, op.line)
		b.lines.dirty[b.lines.slot(op.addr)] = true
		return b.complete()

	case wire.OpMemsetLine:
		v := op.payloadWords[0]
		var line [8]uint32
		for i := range line {
			line[i] = v
		}
		b.lines.WriteLine(op.addr, line)
		b.lines.dirty[b.lines.slot(op.addr)] = true
		return b.complete()

	case wire.OpValidateLine, wire.OpPrefetchLine:
		b.lines.Allocate(op.addr, op.skipL2)
		return b.complete()

	case wire.OpFlushLine:
		op.flushForEviction = false
		op.flushAddr = op.addr
		op.flushTag = op.addr.Tag()
		op.cursor = 0
		b.lines.ReadLine(op.addr, &op.line)
		b.pendingFlushes[op.flushTag] = struct{}{}
		b.state = StateFlush
		return true

	case wire.OpInvalidateLine:
		b.lines.Invalidate(op.addr)
		return b.complete()

	case wire.OpFlushAllLines:
		n := 1 << b.lines.indexBits
		for i := 0; i < n; i++ {
			b.lines.dirty[i] = false
		}
		return b.complete()

	case wire.OpInvalidateAllLines:
		n := 1 << b.lines.indexBits
		for i := 0; i < n; i++ {
			b.lines.valid[i] = false
			b.lines.dirty[i] = false
		}
		b.lines.reservations = make(map[reservationKey]struct{})
		return b.complete()

	default:
		if b.log != nil {
			b.log.Warnf("bank %d: no local handling for opcode %s", b.id, op.op)
		}
		return b.complete()
	}
}

// fetchLineFlit builds a FETCH_LINE request stamped with this bank's own
// routing identity, so the MHL can demux the REFILL response back here
// once it returns from the home tile (§4.7, §4.8).
func (b *Bank) fetchLineFlit(addr wire.MemoryAddr) wire.Flit {
	f := wire.NewRequestFlit(uint32(addr), wire.ChannelID{}, wire.OpFetchLine, true)
	f.ReturnTile = wire.EncodeReturnTile(b.tile)
	f.ReturnChannel = uint8(b.id)
	return f
}

// complete releases the active request back to IDLE.
func (b *Bank) complete() bool {
	b.activeRequest = nil
	b.state = StateIdle
	return true
}

// emitResult writes a one-flit response to OutputData (or
// OutputInstruction if isInstruction), stamped with op's requester so
// downstream routing (the local crossbar, or the MHL for a forwarded-in
// request) can deliver it, returning false (making no state change) if the
// output has no room this cycle.
func (b *Bank) emitResult(op *operation, value uint32, isInstruction bool) bool {
	out := b.OutputData
	if isInstruction {
		out = b.OutputInstruction
	}
	if !out.CanWrite() {
		return false
	}
	out.Write(wire.Flit{
		Payload:       value,
		EndOfPacket:   true,
		IsInstruction: isInstruction,
		ReturnTile:    op.requester.ReturnTile,
		ReturnChannel: op.requester.ReturnChannel,
	})
	return true
}

// IsIdle reports whether the bank has no in-flight or parked work.
func (b *Bank) IsIdle() bool {
	return b.state == StateIdle && b.activeRequest == nil && b.missingRequest == nil &&
		b.InputQueue.IsIdle() && b.ResponseIn.IsIdle()
}

// ReportStalls describes the bank's current non-idle state for the
// deadlock detector (§5, §7).
func (b *Bank) ReportStalls() []interfaces.StallReport {
	if b.IsIdle() {
		return nil
	}
	detail := fmt.Sprintf("state=%s", b.state)
	if b.activeRequest != nil {
		detail += fmt.Sprintf(" active op=%s addr=%#x", b.activeRequest.op, b.activeRequest.addr)
	}
	if b.missingRequest != nil {
		detail += fmt.Sprintf(" missing addr=%#x", b.missingRequest.addr)
	}
	return []interfaces.StallReport{{Component: fmt.Sprintf("bank[%d]", b.id), Detail: detail}}
}
