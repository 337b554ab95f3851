package wire

import "sync/atomic"

// Flit is the smallest unit transferred over a network link: one 32-bit
// payload word plus routing metadata (§3).
type Flit struct {
	Payload uint32
	Dest    ChannelID
	Op      Opcode

	EndOfPacket bool
	Allocate    bool // connection claim (ICU)
	Acquired    bool // disconnect (ICU)
	Scratchpad  bool
	SkipL1      bool
	SkipL2      bool

	ReturnChannel uint8 // 4 bits
	ReturnTile    uint8 // 6 bits

	// IsInstruction marks a response flit as carrying an instruction word
	// rather than data (wire format for response flits, §6).
	IsInstruction bool

	// MessageID is a monotonically assigned identifier used only for
	// instrumentation and for matching credits to connections (§3) — never
	// consulted by any protocol decision.
	MessageID uint64
}

var messageIDCounter uint64

// NextMessageID returns the next monotonically increasing message ID.
func NextMessageID() uint64 {
	return atomic.AddUint64(&messageIDCounter, 1)
}

// NewRequestFlit builds a request flit, stamping a fresh MessageID.
func NewRequestFlit(payload uint32, dest ChannelID, op Opcode, eop bool) Flit {
	return Flit{
		Payload:     payload,
		Dest:        dest,
		Op:          op,
		EndOfPacket: eop,
		MessageID:   NextMessageID(),
	}
}

// NewPayloadFlit builds a mid-packet (or terminal) payload flit inheriting
// the bank/destination chosen by the head flit of the same packet.
func NewPayloadFlit(payload uint32, dest ChannelID, eop bool) Flit {
	op := OpPayload
	if eop {
		op = OpPayloadEOP
	}
	return Flit{
		Payload:     payload,
		Dest:        dest,
		Op:          op,
		EndOfPacket: eop,
		MessageID:   NextMessageID(),
	}
}

// NewCreditFlit builds a credit flit whose payload is the accumulated
// credit count (§6).
func NewCreditFlit(dest ChannelID, count uint32) Flit {
	return Flit{
		Payload:     count,
		Dest:        dest,
		EndOfPacket: true,
		MessageID:   NextMessageID(),
	}
}

// EncodeMetadata packs the request-flit metadata word: opcode(5) |
// endOfPacket(1) | scratchpad(1) | skipL1(1) | skipL2(1) | returnChannel(4) |
// returnTile(6), remainder reserved (§6).
func (f Flit) EncodeMetadata() uint32 {
	var v uint32
	v |= uint32(f.Op) & 0x1f
	v |= boolBit(f.EndOfPacket) << 5
	v |= boolBit(f.Scratchpad) << 6
	v |= boolBit(f.SkipL1) << 7
	v |= boolBit(f.SkipL2) << 8
	v |= (uint32(f.ReturnChannel) & 0xf) << 9
	v |= (uint32(f.ReturnTile) & 0x3f) << 13
	v |= boolBit(f.Allocate) << 19
	v |= boolBit(f.Acquired) << 20
	return v
}

// DecodeMetadata unpacks a request-flit metadata word into f, leaving
// Payload/Dest/MessageID untouched.
func DecodeMetadata(v uint32) Flit {
	return Flit{
		Op:            Opcode(v & 0x1f),
		EndOfPacket:   v&(1<<5) != 0,
		Scratchpad:    v&(1<<6) != 0,
		SkipL1:        v&(1<<7) != 0,
		SkipL2:        v&(1<<8) != 0,
		ReturnChannel: uint8((v >> 9) & 0xf),
		ReturnTile:    uint8((v >> 13) & 0x3f),
		Allocate:      v&(1<<19) != 0,
		Acquired:      v&(1<<20) != 0,
	}
}

// EncodeResponseMetadata packs a response-flit metadata word:
// endOfPacket(1) | isInstruction(1) (§6).
func (f Flit) EncodeResponseMetadata() uint32 {
	var v uint32
	v |= boolBit(f.EndOfPacket)
	v |= boolBit(f.IsInstruction) << 1
	return v
}

// DecodeResponseMetadata unpacks a response-flit metadata word.
func DecodeResponseMetadata(v uint32) Flit {
	return Flit{
		EndOfPacket:   v&1 != 0,
		IsInstruction: v&2 != 0,
	}
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
