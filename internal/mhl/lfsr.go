package mhl

import "github.com/tilesim/tilesim/internal/constants"

// LFSR picks the miss-fallback target bank for a request arriving from
// another tile (§4.7 "Target bank selection for misses"): a 6-bit register
// with generator polynomial x^6 + x^5 + 1, period 63, whose raw state feeds
// a rotate-based bank index so the choice stays close to uniform even when
// the bank count doesn't divide the period evenly.
type LFSR struct {
	state      uint8
	numBanks   int
	randomBank int
}

// NewLFSR builds an LFSR targeting one of numBanks banks, seeded the same
// way as the hardware it models.
func NewLFSR(numBanks int) *LFSR {
	return &LFSR{state: constants.LFSRInitState, numBanks: numBanks}
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Next advances the generator and returns the next target bank index.
func (l *LFSR) Next() int {
	l.randomBank = mod(l.randomBank-1, l.numBanks)
	if l.state&0x1 != 0 {
		l.randomBank = mod(l.randomBank-1, l.numBanks)
	}
	if l.state&0x4 != 0 {
		l.randomBank = mod(l.randomBank-4, l.numBanks)
	}

	var feedback uint8
	if l.state&0x1 != 0 {
		feedback = 0x30
	}
	l.state = (l.state >> 1) ^ feedback

	return l.randomBank
}
