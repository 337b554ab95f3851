package network

import "github.com/tilesim/tilesim/internal/wire"

// CMTEntry is one channel map table row: the destination a logical channel
// resolves to, the memory-group stride used to spread a wide access across
// banks, the channel a response should be returned on, and that channel's
// credit counter (§3, §4.4).
type CMTEntry struct {
	Dest          wire.ChannelID
	LogGroupSize  int
	ReturnChannel uint8
	credits       int
}

// ChannelMapTable is the per-core table mapping logical channel indices to
// network destinations (§4.4).
type ChannelMapTable struct {
	entries []CMTEntry
}

// NewChannelMapTable builds a table with n logical channels.
func NewChannelMapTable(n int) *ChannelMapTable {
	return &ChannelMapTable{entries: make([]CMTEntry, n)}
}

// Read returns the entry for a logical channel index.
func (t *ChannelMapTable) Read(index int) CMTEntry { return t.entries[index] }

// Write replaces the entry at index, resetting its credit counter to zero
// (§4.4: "write(index, encoded) replaces an entry and resets its credit
// counter").
func (t *ChannelMapTable) Write(index int, e CMTEntry) {
	e.credits = 0
	t.entries[index] = e
}

// CreditsAvailable is monotone non-negative (§4.4).
func (t *ChannelMapTable) CreditsAvailable(index int) int {
	return t.entries[index].credits
}

// AddCredit increments the credit counter for index by n (n >= 0).
func (t *ChannelMapTable) AddCredit(index int, n int) {
	t.entries[index].credits += n
}

// WaitForCredit consumes one credit if available, returning whether it
// succeeded. addCredit/waitForCredit are paired per §4.4.
func (t *ChannelMapTable) WaitForCredit(index int) bool {
	if t.entries[index].credits <= 0 {
		return false
	}
	t.entries[index].credits--
	return true
}
