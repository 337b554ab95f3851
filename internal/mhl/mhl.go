// Package mhl implements the per-tile miss-handling logic of §4.5/§4.7/§4.8:
// the single point through which every request that must leave a tile, or
// arrive at one, passes. It consults the directory to rewrite addresses and
// pick a destination tile, chooses a miss-fallback target bank (scratchpad
// address bits, PUSH_LINE low bits, or the LFSR), and demultiplexes
// responses from the network back to the bank that is waiting on them.
package mhl

import (
	"github.com/tilesim/tilesim/internal/arbiter"
	"github.com/tilesim/tilesim/internal/directory"
	"github.com/tilesim/tilesim/internal/flowctl"
	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/wire"
)

// Config configures an MHL instance.
type Config struct {
	Tile       wire.TileID
	NumBanks   int
	Directory  *directory.Directory
	BufferSize int
	Logger     interfaces.Logger

	// Backend is the chip-wide backing store consulted when this tile is
	// itself the directory-resolved home for a FETCH_LINE miss that none of
	// its own banks can serve — the bottom of the memory hierarchy (§6
	// Main-memory model). Nil disables the short-circuit: a self-addressed
	// miss is instead sent out and immediately routed back in, which is
	// only safe for callers that never actually reach that condition (unit
	// tests wiring an MHL without a directory pointing home).
	Backend interfaces.MainMemory
}

// MHL is the per-tile miss-handling logic unit.
type MHL struct {
	tile     wire.TileID
	numBanks int
	dir      *directory.Directory
	lfsr     *LFSR
	log      interfaces.Logger

	// bankOut[i] is bank i's OutputRequest — requests this tile's banks
	// need to send elsewhere (a miss, a forward, a directory update).
	bankOut []*flowctl.Buffer
	outArb  *arbiter.Wormhole

	// RequestOut carries rewritten requests onto the inter-tile request
	// network.
	RequestOut *flowctl.Buffer

	// RequestIn carries requests arriving from other tiles that must be
	// served on this tile; bankIn[i] is bank i's InputQueue, the delivery
	// target once a target bank is chosen.
	RequestIn        *flowctl.Buffer
	bankIn           []*flowctl.Buffer
	remoteHeaderSeen bool
	remoteTarget     int

	// ResponseIn carries responses returning from the network to banks on
	// this tile that issued a request elsewhere; bankResponse[i] is bank
	// i's ResponseIn.
	ResponseIn   *flowctl.Buffer
	bankResponse []*flowctl.Buffer

	// Directory-update bookkeeping: the head (address) flit of an
	// UPDATE_DIRECTORY_ENTRY/MASK packet is held until its payload flit
	// arrives, since both are needed to apply the update (§4.5).
	dirUpdatePending bool
	dirUpdateOp      wire.Opcode
	dirUpdateAddr    wire.MemoryAddr

	// outboundDestTile is the next-tile address resolved from the packet's
	// header flit, reused by the header's own trailing payload flits (which
	// carry no address of their own) so every flit of a forwarded packet is
	// stamped with the same mesh destination.
	outboundDestTile wire.TileID

	// Local-refill bookkeeping: a FETCH_LINE whose home is this very tile,
	// with no bank able to serve it, is satisfied directly from backend
	// rather than forwarded out and back in (which would never terminate).
	backend            interfaces.MainMemory
	localRefillPending bool
	localRefillBank    int
	localRefillLine    [8]uint32
	localRefillCursor  int
}

// New builds an MHL wired to the given per-bank buffers. bankOut are the
// banks' OutputRequest queues (source of outbound traffic); bankIn are
// their InputQueue queues (sink for requests forwarded in from other
// tiles); bankResponse are their ResponseIn queues (sink for responses
// returning from other tiles).
func New(cfg Config, bankOut, bankIn, bankResponse []*flowctl.Buffer) *MHL {
	size := cfg.BufferSize
	if size < 1 {
		size = 1
	}
	return &MHL{
		tile:         cfg.Tile,
		numBanks:     cfg.NumBanks,
		dir:          cfg.Directory,
		lfsr:         NewLFSR(cfg.NumBanks),
		log:          cfg.Logger,
		backend:      cfg.Backend,
		bankOut:      bankOut,
		outArb:       arbiter.NewWormhole(arbiter.NewRoundRobin(len(bankOut))),
		RequestOut:   flowctl.NewBuffer(size),
		RequestIn:    flowctl.NewBuffer(size),
		bankIn:       bankIn,
		ResponseIn:   flowctl.NewBuffer(size),
		bankResponse: bankResponse,
	}
}

// Tick runs one delta-phase across all three traffic directions.
func (m *MHL) Tick() bool {
	progressed := false
	if m.tickOutboundRequest() {
		progressed = true
	}
	if m.tickInboundRequest() {
		progressed = true
	}
	if m.tickInboundResponse() {
		progressed = true
	}
	return progressed
}

// tickOutboundRequest arbitrates among the tile's banks for the single
// outbound request link, holding the winner for the duration of its packet
// (the wormhole invariant, §4.3), and either applies a directory update
// locally or rewrites and forwards the request onto the network.
func (m *MHL) tickOutboundRequest() bool {
	if m.localRefillPending {
		return m.continueLocalRefill()
	}

	var requests uint32
	for i, b := range m.bankOut {
		if b.CanRead() {
			requests |= 1 << uint(i)
		}
	}
	grant, ok := m.outArb.GetGrant(requests, 0)
	if !ok {
		return false
	}
	src := m.bankOut[grant]
	head, _ := src.Peek()

	if m.dirUpdatePending {
		if _, ok := src.Read(); !ok {
			return false
		}
		if m.dirUpdateOp == wire.OpUpdateDirectoryEntry {
			m.dir.UpdateEntry(m.dirUpdateAddr, head.Payload)
		} else {
			m.dir.UpdateMask(m.dirUpdateAddr, head.Payload)
		}
		m.dirUpdatePending = false
		m.outArb.Complete(grant, true)
		return true
	}

	if head.Op.IsDirectoryUpdate() {
		if _, ok := src.Read(); !ok {
			return false
		}
		m.dirUpdatePending = true
		m.dirUpdateOp = head.Op
		m.dirUpdateAddr = wire.MemoryAddr(head.Payload)
		m.outArb.Complete(grant, false)
		return true
	}

	if m.backend != nil && head.Op == wire.OpFetchLine && m.dir.GetNextTile(wire.MemoryAddr(head.Payload)) == m.tile {
		if _, ok := src.Read(); !ok {
			return false
		}
		m.outArb.Complete(grant, true)
		m.beginLocalRefill(grant, wire.MemoryAddr(head.Payload))
		return true
	}

	if !m.RequestOut.CanWrite() {
		return false
	}
	if _, ok := src.Read(); !ok {
		return false
	}
	out := head
	if head.Op != wire.OpPayload && head.Op != wire.OpPayloadEOP {
		newAddr := m.dir.UpdateAddress(wire.MemoryAddr(head.Payload))
		out.Payload = uint32(newAddr)
		m.outboundDestTile = m.dir.GetNextTile(wire.MemoryAddr(head.Payload))
	}
	out.Dest.Tile = m.outboundDestTile
	m.RequestOut.Write(out)
	m.outArb.Complete(grant, head.EndOfPacket)
	return true
}

// beginLocalRefill snapshots the cache line backing addr and arms the
// drain that feeds it, word by word, into bank bankIdx's own ResponseIn —
// exactly as if it had returned from the network (§6, §9 "bottom of the
// memory hierarchy").
func (m *MHL) beginLocalRefill(bankIdx int, addr wire.MemoryAddr) {
	lineBase := uint32(addr) &^ 0x1f
	for i := 0; i < 8; i++ {
		w, err := m.backend.ReadWord(lineBase + uint32(i*4))
		if err != nil && m.log != nil {
			m.log.Warnf("mhl %s: local refill read at %#x: %v", m.tile, lineBase+uint32(i*4), err)
		}
		m.localRefillLine[i] = w
	}
	m.localRefillPending = true
	m.localRefillBank = bankIdx
	m.localRefillCursor = 0
}

func (m *MHL) continueLocalRefill() bool {
	sink := m.bankResponse[m.localRefillBank]
	if !sink.CanWrite() {
		return false
	}
	i := m.localRefillCursor
	eop := i == 7
	sink.Write(wire.NewPayloadFlit(m.localRefillLine[i], wire.ChannelID{}, eop))
	m.localRefillCursor++
	if eop {
		m.localRefillPending = false
	}
	return true
}

// tickInboundRequest delivers a request arriving from another tile to the
// local bank chosen to service it (§4.7): the scratchpad address bits, the
// PUSH_LINE low bits, or — for an ordinary cache-fill miss — the LFSR,
// sampled once per packet and held for its remaining flits.
func (m *MHL) tickInboundRequest() bool {
	if !m.RequestIn.CanRead() {
		return false
	}
	head, _ := m.RequestIn.Peek()

	target := m.remoteTarget
	if !m.remoteHeaderSeen {
		switch {
		case head.Scratchpad:
			target = int((head.Payload>>5)&uint32(m.numBanks-1))
		case head.Op == wire.OpPushLine:
			target = int(head.Payload & uint32(m.numBanks-1))
		default:
			target = m.lfsr.Next()
		}
	}

	sink := m.bankIn[target]
	if !sink.CanWrite() {
		return false
	}
	f, ok := m.RequestIn.Read()
	if !ok {
		return false
	}
	sink.Write(f)
	m.remoteTarget = target
	m.remoteHeaderSeen = !f.EndOfPacket
	return true
}

// tickInboundResponse demultiplexes a response arriving from the network
// back to the bank that is waiting on it, identified by the ReturnChannel
// field the bank itself stamped onto its outbound request (§4.8).
func (m *MHL) tickInboundResponse() bool {
	if !m.ResponseIn.CanRead() {
		return false
	}
	head, _ := m.ResponseIn.Peek()
	bankIdx := int(head.ReturnChannel)
	if bankIdx < 0 || bankIdx >= len(m.bankResponse) {
		if m.log != nil {
			m.log.Warnf("mhl %s: response addressed to out-of-range bank %d", m.tile, bankIdx)
		}
		m.ResponseIn.Read()
		return true
	}
	sink := m.bankResponse[bankIdx]
	if !sink.CanWrite() {
		return false
	}
	f, ok := m.ResponseIn.Read()
	if !ok {
		return false
	}
	sink.Write(f)
	return true
}

// IsIdle reports whether the MHL has no buffered or in-flight traffic.
func (m *MHL) IsIdle() bool {
	return !m.dirUpdatePending && !m.remoteHeaderSeen && !m.localRefillPending &&
		m.RequestOut.IsIdle() && m.RequestIn.IsIdle() && m.ResponseIn.IsIdle()
}

// ReportStalls describes the MHL's outstanding work for the deadlock
// detector (§5, §7).
func (m *MHL) ReportStalls() []interfaces.StallReport {
	if m.IsIdle() {
		return nil
	}
	return []interfaces.StallReport{{
		Component: "mhl[" + m.tile.String() + "]",
		Detail:    "request/response traffic outstanding",
	}}
}
