package network

import "github.com/tilesim/tilesim/internal/wire"

// BankSelector chooses which bank of a memory group of 2^groupBits banks
// receives a request. Only the head flit of a multi-flit request computes
// the selection; every following payload flit inherits it (§4.4,
// "previousOffset").
type BankSelector struct {
	groupBits    uint
	previousBank int
}

// NewBankSelector builds a selector over 2^groupBits banks.
func NewBankSelector(groupBits uint) *BankSelector {
	return &BankSelector{groupBits: groupBits}
}

// Select returns the target bank for addr. isHead must be true only for the
// first flit of a request; later payload flits pass isHead=false to reuse
// the bank chosen by the head.
func (s *BankSelector) Select(addr wire.MemoryAddr, isHead bool) int {
	if isHead {
		groups := uint32(1) << s.groupBits
		s.previousBank = int((uint32(addr) / 32) % groups)
	}
	return s.previousBank
}
