// Package icu implements the per-tile inter-tile communication unit of
// §4.9: the connection claim/nack/disconnect protocol for cross-tile core
// channels, and the credit generator that turns local buffer drains into
// credit flits sent back to the channel's claimed source.
package icu

import (
	"fmt"

	"github.com/tilesim/tilesim/internal/arbiter"
	"github.com/tilesim/tilesim/internal/flowctl"
	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/wire"
)

// channel tracks one locally-monitored sink buffer's connection state and
// pending credit count.
type channel struct {
	claimed           bool
	source            wire.ComponentID
	sourceChannel     int
	disconnectPending bool
	pending           uint32
}

// ICU is the per-tile inter-tile communication unit.
type ICU struct {
	tile   wire.TileID
	log    interfaces.Logger
	chans  []channel
	inputs []*flowctl.Buffer // the monitored data-input buffers, one per channel
	arb    *arbiter.RoundRobin

	// CreditOut carries both ordinary credit flits and nacks (distinguished
	// by Acquired=true, a bit otherwise meaningless on the credit network —
	// §6 gives the credit flit a bare unsigned-count payload and no spare
	// field, so the claim protocol's own disconnect flag is reused here
	// rather than widening the wire format for a second purpose).
	CreditOut *flowctl.Buffer

	// At most one nack may be outstanding at a time (§4.9, asserted); it
	// takes priority over ordinary credit emission once raised.
	nackPending bool
	nackDest    wire.ChannelID
}

// Config configures an ICU instance.
type Config struct {
	Tile       wire.TileID
	BufferSize int
	Logger     interfaces.Logger
}

// New builds an ICU monitoring the given per-channel data-input buffers.
// Each buffer's OnDataConsumed hook is installed here, so callers must not
// overwrite it afterward.
func New(cfg Config, inputs []*flowctl.Buffer) *ICU {
	size := cfg.BufferSize
	if size < 1 {
		size = 1
	}
	u := &ICU{
		tile:      cfg.Tile,
		log:       cfg.Logger,
		chans:     make([]channel, len(inputs)),
		inputs:    inputs,
		arb:       arbiter.NewRoundRobin(len(inputs)),
		CreditOut: flowctl.NewBuffer(size),
	}
	for i, buf := range inputs {
		idx := i
		buf.OnDataConsumed = func() {
			u.chans[idx].pending++
		}
	}
	return u
}

// Tick runs one delta-phase: intercepting claim/disconnect control flits
// out of the data-input streams, then emitting at most one credit or nack
// flit via round-robin arbitration over channels with something to report.
func (u *ICU) Tick() bool {
	progressed := false
	for i := range u.inputs {
		if u.tickControl(i) {
			progressed = true
		}
	}
	if u.tickCreditOut() {
		progressed = true
	}
	return progressed
}

// tickControl intercepts an Allocate-flagged flit on channel i's data
// input: a claim (Acquired=false) or a disconnect (Acquired=true). Ordinary
// data flits are left untouched for their real consumer to read.
func (u *ICU) tickControl(i int) bool {
	in := u.inputs[i]
	if !in.CanRead() {
		return false
	}
	head, _ := in.Peek()
	if !head.Allocate {
		return false
	}
	f, ok := in.Read()
	if !ok {
		return false
	}
	src, srcChan := wire.DecodeClaimPayload(f.Payload)
	ch := &u.chans[i]

	if f.Acquired {
		if !ch.claimed {
			panic(fmt.Sprintf("icu %s: disconnect on unclaimed channel %d", u.tile, i))
		}
		ch.disconnectPending = true
		ch.pending++ // the final credit §4.9 guarantees on disconnect
		return true
	}

	if !ch.claimed {
		ch.claimed = true
		ch.source = src
		ch.sourceChannel = srcChan
		ch.pending++
		return true
	}
	if ch.source != src || ch.sourceChannel != srcChan {
		if u.nackPending {
			panic(fmt.Sprintf("icu %s: second nack raised while channel %d's nack is still outstanding", u.tile, i))
		}
		u.nackPending = true
		u.nackDest = wire.ChannelID{Tile: src.Tile, Position: src.Position, Channel: srcChan}
		if u.log != nil {
			u.log.Warnf("icu %s: channel %d already claimed by %s#%d, nacking %s#%d", u.tile, i, ch.source, ch.sourceChannel, src, srcChan)
		}
		return true
	}
	return true
}

// tickCreditOut emits at most one credit (or, on a disconnect, the final
// credit followed by clearing the channel) per cycle, round-robining among
// channels that have something pending.
func (u *ICU) tickCreditOut() bool {
	if !u.CreditOut.CanWrite() {
		return false
	}
	if u.nackPending {
		f := wire.NewCreditFlit(u.nackDest, 0)
		f.Acquired = true
		u.CreditOut.Write(f)
		u.nackPending = false
		return true
	}
	var requests uint32
	for i := range u.chans {
		if u.chans[i].pending > 0 {
			requests |= 1 << uint(i)
		}
	}
	idx, ok := u.arb.GetGrant(requests, 0)
	if !ok {
		return false
	}
	ch := &u.chans[idx]
	count := ch.pending
	ch.pending = 0

	dest := wire.ChannelID{Tile: ch.source.Tile, Position: ch.source.Position, Channel: ch.sourceChannel}
	f := wire.NewCreditFlit(dest, count)
	u.CreditOut.Write(f)

	if ch.disconnectPending {
		*ch = channel{}
	}
	return true
}

// IsIdle reports whether the ICU has no outstanding control state or
// queued credit output.
func (u *ICU) IsIdle() bool {
	if u.nackPending || u.CreditOut.Len() > 0 {
		return false
	}
	for i := range u.chans {
		if u.chans[i].pending > 0 || u.chans[i].disconnectPending {
			return false
		}
	}
	return true
}

// ReportStalls describes the ICU's outstanding work for the deadlock
// detector.
func (u *ICU) ReportStalls() []interfaces.StallReport {
	if u.IsIdle() {
		return nil
	}
	return []interfaces.StallReport{{
		Component: "icu[" + u.tile.String() + "]",
		Detail:    "connection/credit state outstanding",
	}}
}
