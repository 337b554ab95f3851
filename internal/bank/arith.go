package bank

import "github.com/tilesim/tilesim/internal/wire"

// narrowLoad extracts the sub-word slice a LOAD_HW/LOAD_B addresses out of
// the full word read from SRAM (little-endian packing within the word).
func narrowLoad(op wire.Opcode, addr wire.MemoryAddr, word uint32) uint32 {
	switch op {
	case wire.OpLoadHW:
		shift := (uint32(addr) & 2) * 8
		return (word >> shift) & 0xffff
	case wire.OpLoadB:
		shift := (uint32(addr) & 3) * 8
		return (word >> shift) & 0xff
	default:
		return word
	}
}

// mergeStore folds a sub-word store value into the existing word at addr,
// leaving the untouched bytes in place.
func mergeStore(op wire.Opcode, addr wire.MemoryAddr, old, value uint32) uint32 {
	switch op {
	case wire.OpStoreHW:
		shift := (uint32(addr) & 2) * 8
		mask := uint32(0xffff) << shift
		return (old &^ mask) | ((value << shift) & mask)
	case wire.OpStoreB:
		shift := (uint32(addr) & 3) * 8
		mask := uint32(0xff) << shift
		return (old &^ mask) | ((value << shift) & mask)
	default:
		return value
	}
}

// atomicApply implements the LOAD_AND_{ADD,OR,AND,XOR}/EXCHANGE read-modify-
// write (§4.6); it returns the new value to store. The old value is
// returned to the requester by the caller.
func atomicApply(op wire.Opcode, old, operand uint32) uint32 {
	switch op {
	case wire.OpLoadAndAdd:
		return old + operand
	case wire.OpLoadAndOr:
		return old | operand
	case wire.OpLoadAndAnd:
		return old & operand
	case wire.OpLoadAndXor:
		return old ^ operand
	case wire.OpExchange:
		return operand
	default:
		return old
	}
}
