package wire

import "fmt"

// MemoryAddr is a 32-bit byte address.
type MemoryAddr uint32

// SRAMAddress is the physical offset within a bank.
type SRAMAddress uint32

// MemoryTag is the upper portion of a MemoryAddr (above the line offset).
type MemoryTag uint32

// Tag returns the line tag for addr, i.e. addr with the offset bits masked
// off (the bank-selection bits remain part of the tag, matching §4.6's hash
// which folds them into the SRAM index rather than the tag).
func (a MemoryAddr) Tag() MemoryTag {
	return MemoryTag(uint32(a) &^ 0x1f)
}

// TileID identifies a tile's position on the 2-D grid.
type TileID struct {
	X, Y int
}

func (t TileID) String() string { return fmt.Sprintf("(%d,%d)", t.X, t.Y) }

// ComponentPosition orders the components hosted on one tile: cores first,
// then memories, then accelerator DMAs (§3).
type ComponentPosition int

// ComponentID identifies one addressable component on one tile.
type ComponentID struct {
	Tile     TileID
	Position ComponentPosition
}

func (c ComponentID) String() string { return fmt.Sprintf("%s#%d", c.Tile, c.Position) }

// ChannelID identifies a logical channel of a component, or — when
// Multicast is true — a fan-out to a set of cores on one tile selected by
// CoreMask (§3).
type ChannelID struct {
	Tile      TileID
	Multicast bool
	Position  ComponentPosition // meaningful when !Multicast
	CoreMask  uint8             // meaningful when Multicast; bit i = core i
	Channel   int
}

func (c ChannelID) String() string {
	if c.Multicast {
		return fmt.Sprintf("%s*mask(%08b)#%d", c.Tile, c.CoreMask, c.Channel)
	}
	return fmt.Sprintf("%s#%d.%d", c.Tile, c.Position, c.Channel)
}

// Encode packs a ChannelID into the 32-bit wire representation described
// in §6 ("multicast bit + (tile x, tile y, position or coremask, channel)"):
// bit 31 multicast, bits 16-30 position or core mask, bits 12-15 tile X,
// bits 8-11 tile Y, bits 0-3 channel.
func (c ChannelID) Encode() uint32 {
	var v uint32
	if c.Multicast {
		v |= 1 << 31
		v |= uint32(c.CoreMask) << 16
	} else {
		v |= uint32(uint16(c.Position)) << 16
	}
	v |= uint32(uint8(c.Tile.X)&0xf) << 12
	v |= uint32(uint8(c.Tile.Y)&0xf) << 8
	v |= uint32(c.Channel) & 0xf
	return v
}

// DecodeChannelID unpacks a ChannelID from its wire representation.
func DecodeChannelID(v uint32) ChannelID {
	multicast := v&(1<<31) != 0
	c := ChannelID{
		Tile:      TileID{X: int((v >> 12) & 0xf), Y: int((v >> 8) & 0xf)},
		Multicast: multicast,
		Channel:   int(v & 0xf),
	}
	if multicast {
		c.CoreMask = uint8(v >> 16)
	} else {
		c.Position = ComponentPosition(uint16(v >> 16))
	}
	return c
}

// EncodeReturnTile packs a TileID into the 6-bit returnTile field carried
// on a memory request/response flit (§6): 3 bits of X, 3 bits of Y, which
// bounds the addressable grid to 8x8 tiles.
func EncodeReturnTile(t TileID) uint8 {
	return (uint8(t.X)&0x7)<<3 | uint8(t.Y)&0x7
}

// DecodeReturnTile unpacks a 6-bit returnTile field into a TileID.
func DecodeReturnTile(v uint8) TileID {
	return TileID{X: int((v >> 3) & 0x7), Y: int(v & 0x7)}
}

// EncodeComponentID packs a ComponentID into 16 bits: 4-bit tile X, 4-bit
// tile Y, 8-bit position.
func EncodeComponentID(c ComponentID) uint16 {
	return uint16(uint8(c.Tile.X)&0xf)<<12 | uint16(uint8(c.Tile.Y)&0xf)<<8 | uint16(uint8(c.Position))
}

// DecodeComponentID unpacks a ComponentID from its 16-bit wire form.
func DecodeComponentID(v uint16) ComponentID {
	return ComponentID{
		Tile:     TileID{X: int((v >> 12) & 0xf), Y: int((v >> 8) & 0xf)},
		Position: ComponentPosition(uint8(v)),
	}
}

// EncodeClaimPayload builds the payload of a connection claim/disconnect
// flit (§4.9): componentID in the low 16 bits, logical channel index in the
// high 16 bits.
func EncodeClaimPayload(c ComponentID, channel int) uint32 {
	return uint32(EncodeComponentID(c)) | uint32(uint16(channel))<<16
}

// DecodeClaimPayload reverses EncodeClaimPayload.
func DecodeClaimPayload(v uint32) (ComponentID, int) {
	return DecodeComponentID(uint16(v)), int(uint16(v >> 16))
}

// CoreIndices returns the set of core positions selected by a multicast
// CoreMask, in ascending order.
func (c ChannelID) CoreIndices() []int {
	if !c.Multicast {
		return []int{int(c.Position)}
	}
	var out []int
	for i := 0; i < 8; i++ {
		if c.CoreMask&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}
