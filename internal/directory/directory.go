// Package directory implements the per-tile directory of §4.5: a small
// table mapping a bit-slice of a memory address to its home tile,
// scratchpad-mode flag, and address-translation bits.
package directory

import "github.com/tilesim/tilesim/internal/wire"

// Entry is one directory row (§3 "Directory entry").
type Entry struct {
	NextTileX, NextTileY int
	Scratchpad           bool
	MaskLSB              uint32
	TranslationBits      uint32
}

// Directory resolves addresses via getEntry/updateAddress/getNextTile/
// inScratchpad (§4.5). indexShift/indexBits select the address bit-slice
// used as the table index; translationShift/translationWidth select the
// top-of-address field updateAddress splices translation bits into.
type Directory struct {
	entries []Entry

	indexBits   uint
	indexShift  uint

	translationShift uint
	translationWidth uint
}

// New builds a directory with 2^indexBits entries.
func New(indexBits, indexShift, translationShift, translationWidth uint) *Directory {
	return &Directory{
		entries:          make([]Entry, 1<<indexBits),
		indexBits:        indexBits,
		indexShift:       indexShift,
		translationShift: translationShift,
		translationWidth: translationWidth,
	}
}

func (d *Directory) index(addr wire.MemoryAddr) int {
	mask := uint32(1)<<d.indexBits - 1
	return int((uint32(addr) >> d.indexShift) & mask)
}

// GetEntry returns the entry addr resolves to.
func (d *Directory) GetEntry(addr wire.MemoryAddr) Entry {
	return d.entries[d.index(addr)]
}

// GetNextTile returns the home tile for addr.
func (d *Directory) GetNextTile(addr wire.MemoryAddr) wire.TileID {
	e := d.GetEntry(addr)
	return wire.TileID{X: e.NextTileX, Y: e.NextTileY}
}

// InScratchpad reports whether addr's entry marks scratchpad mode.
func (d *Directory) InScratchpad(addr wire.MemoryAddr) bool {
	return d.GetEntry(addr).Scratchpad
}

// UpdateAddress splices addr's entry's translation bits into the
// configured top-of-address field, returning the translated address
// (§4.5).
func (d *Directory) UpdateAddress(addr wire.MemoryAddr) wire.MemoryAddr {
	e := d.GetEntry(addr)
	fieldMask := (uint32(1)<<d.translationWidth - 1) << d.translationShift
	v := uint32(addr) &^ fieldMask
	v |= (e.TranslationBits << d.translationShift) & fieldMask
	return wire.MemoryAddr(v)
}

// UpdateEntry installs a full entry at the index addr resolves to, decoded
// from the 32-bit payload carried by an UPDATE_DIRECTORY_ENTRY packet's
// second flit (§4.5). Consumed at the MHL; never forwarded further.
func (d *Directory) UpdateEntry(addr wire.MemoryAddr, raw uint32) {
	d.entries[d.index(addr)] = decodeEntry(raw)
}

// UpdateMask replaces only the maskLSB field of the entry addr resolves
// to, from an UPDATE_DIRECTORY_MASK packet's payload flit (§4.5).
func (d *Directory) UpdateMask(addr wire.MemoryAddr, maskLSB uint32) {
	d.entries[d.index(addr)].MaskLSB = maskLSB
}

// encodeEntry/decodeEntry define this kernel's 32-bit directory-entry wire
// encoding: nextTileX(8) | nextTileY(8) | scratchpad(1) | translationBits(8),
// remainder reserved. maskLSB is carried by the separate
// UPDATE_DIRECTORY_MASK opcode rather than the full-entry encoding.
func encodeEntry(e Entry) uint32 {
	var v uint32
	v |= uint32(uint8(e.NextTileX))
	v |= uint32(uint8(e.NextTileY)) << 8
	if e.Scratchpad {
		v |= 1 << 16
	}
	v |= (e.TranslationBits & 0xff) << 17
	return v
}

func decodeEntry(v uint32) Entry {
	return Entry{
		NextTileX:       int(uint8(v)),
		NextTileY:       int(uint8(v >> 8)),
		Scratchpad:      v&(1<<16) != 0,
		TranslationBits: (v >> 17) & 0xff,
	}
}

// EncodeEntry exposes the wire encoding for callers (e.g. test harnesses,
// the MHL's own directory-update path) building an UPDATE_DIRECTORY_ENTRY
// payload flit.
func EncodeEntry(e Entry) uint32 { return encodeEntry(e) }
