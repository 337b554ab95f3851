package chip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilesim/tilesim/internal/wire"
)

func TestChipIsIdleBeforeAnyTraffic(t *testing.T) {
	c := New(Options{Width: 2, Height: 2, BufferSize: 4})
	assert.True(t, c.IsIdle())
}

func TestChipMagicMemoryAccessBypassesBanks(t *testing.T) {
	c := New(Options{Width: 2, Height: 2, BufferSize: 4})
	_, err := c.MagicMemoryAccess(0x100, true, 0x11223344)
	require.NoError(t, err)
	got, err := c.MagicMemoryAccess(0x100, false, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), got)
}

// A load issued at tile (0,0) for an address whose directory-seeded home is
// tile (1,1) (under the default interleaved seeding — indexShift=5, a 2x2
// grid — directory index 3 resolves to (3%2, (3/2)%2) == (1,1)) must leave
// its tile via the request mesh, miss again at the home tile's claimed
// bank, refill from the chip's shared backend there, and return across the
// response mesh to the original requester's core channel — exercising the
// full cross-tile path end to end, not just the single-tile paths tile_test
// already covers.
func TestChipRoutesCrossTileLoadMissThroughHomeTileAndBack(t *testing.T) {
	c := New(Options{Width: 2, Height: 2, BufferSize: 4})

	const addr = uint32(0x60)
	_, err := c.MagicMemoryAccess(addr, true, 0xCAFEBABE)
	require.NoError(t, err)

	requester := wire.TileID{X: 0, Y: 0}
	ct := c.Tile(requester)
	require.NotNil(t, ct)

	f := wire.NewRequestFlit(addr, wire.ChannelID{}, wire.OpLoadW, true)
	f.ReturnTile = wire.EncodeReturnTile(requester)
	f.ReturnChannel = 0
	require.True(t, ct.CoreRequestIn[0].Write(f))

	for i := 0; i < 2000 && !ct.CoreResponseOut[0].CanRead(); i++ {
		require.NoError(t, c.Run(1))
	}

	resp, ok := ct.CoreResponseOut[0].Read()
	require.True(t, ok, "no response observed within the cycle budget")
	assert.Equal(t, uint32(0xCAFEBABE), resp.Payload)
	assert.True(t, c.IsIdle(), "chip must return to quiescence once the response is drained")
}

// A load to an address homed on the requester's own tile never needs to
// leave it — the directory-seeded home tile resolves locally, so ordinary
// same-tile miss/claim/refill logic should serve it without ever touching
// the inter-tile meshes.
func TestChipServesSameTileRequestWithoutCrossingMesh(t *testing.T) {
	c := New(Options{Width: 2, Height: 2, BufferSize: 4})

	// Directory index 0 -> tile (0,0) under the default interleaved seeding.
	const addr = uint32(0x20)
	requester := wire.TileID{X: 0, Y: 0}
	ct := c.Tile(requester)
	require.NotNil(t, ct)

	_, err := c.MagicMemoryAccess(addr, true, 0x99887766)
	require.NoError(t, err)

	f := wire.NewRequestFlit(addr, wire.ChannelID{}, wire.OpLoadW, true)
	f.ReturnTile = wire.EncodeReturnTile(requester)
	f.ReturnChannel = 0
	require.True(t, ct.CoreRequestIn[0].Write(f))

	for i := 0; i < 2000 && !ct.CoreResponseOut[0].CanRead(); i++ {
		require.NoError(t, c.Run(1))
	}

	resp, ok := ct.CoreResponseOut[0].Read()
	require.True(t, ok, "no response observed within the cycle budget")
	assert.Equal(t, uint32(0x99887766), resp.Payload)
	assert.True(t, c.IsIdle())
}

// storeThenLoad issues a scratchpad store of value at addr from requester,
// then a scratchpad load of the same addr, and returns the loaded value —
// exercising the full broadcast -> bank -> (local execute | MHL forward ->
// remote tile's bank) round trip for both the store and the load.
func storeThenLoad(t *testing.T, c *Chip, requester wire.TileID, addr, value uint32) uint32 {
	t.Helper()
	ct := c.Tile(requester)
	require.NotNil(t, ct)

	store := wire.NewRequestFlit(addr, wire.ChannelID{}, wire.OpStoreW, false)
	store.Scratchpad = true
	payload := wire.NewPayloadFlit(value, wire.ChannelID{}, true)
	require.True(t, ct.CoreRequestIn[0].Write(store))
	require.True(t, ct.CoreRequestIn[0].Write(payload))

	for i := 0; i < 2000 && !c.IsIdle(); i++ {
		require.NoError(t, c.Run(1))
	}
	require.True(t, c.IsIdle(), "scratchpad store never settled; stalls: %+v", c.ReportStalls())

	load := wire.NewRequestFlit(addr, wire.ChannelID{}, wire.OpLoadW, true)
	load.Scratchpad = true
	load.ReturnTile = wire.EncodeReturnTile(requester)
	load.ReturnChannel = 0
	require.True(t, ct.CoreRequestIn[0].Write(load))

	for i := 0; i < 2000 && !ct.CoreResponseOut[0].CanRead(); i++ {
		require.NoError(t, c.Run(1))
	}

	resp, ok := ct.CoreResponseOut[0].Read()
	require.True(t, ok, "no response observed within the cycle budget")
	require.True(t, c.IsIdle(), "chip must return to quiescence once the response is drained")
	return resp.Payload
}

// A scratchpad request addressed to the requester's own home tile must
// actually execute instead of bouncing between the broadcast filter and the
// MHL forever: directory index 0 resolves to tile (0,0) under the default
// interleaved seeding, the same tile issuing the request.
func TestChipServesScratchpadRequestAddressedToOwnTile(t *testing.T) {
	c := New(Options{Width: 2, Height: 2, BufferSize: 4})
	got := storeThenLoad(t, c, wire.TileID{X: 0, Y: 0}, 0x00, 0xA5A5A5A5)
	assert.Equal(t, uint32(0xA5A5A5A5), got)
}

// A scratchpad request addressed to a foreign tile's home must cross the
// request mesh, claim the target bank there (the same address-bit target
// the MHL uses on ordinary inbound delivery), execute, and return across the
// response mesh — the full multi-tile path the single-tile tile_test
// harness cannot exercise, since it has no mesh to route across.
func TestChipServesScratchpadRequestAddressedAcrossTiles(t *testing.T) {
	c := New(Options{Width: 2, Height: 2, BufferSize: 4})
	// Directory index 3 (addr 0x60) resolves to tile (1,1) under the default
	// interleaved seeding, a different tile from the requester below.
	got := storeThenLoad(t, c, wire.TileID{X: 0, Y: 0}, 0x60, 0x5A5A5A5A)
	assert.Equal(t, uint32(0x5A5A5A5A), got)
}
