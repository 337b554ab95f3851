package chip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilesim/tilesim/internal/wire"
)

// Two cores on the same origin tile each miss to a different remote home
// tile at the same time, stressing the funnel's wormhole arbitration between
// the two cores, the MHL's single outbound/inbound request links serving
// both packets in turn, and the response mesh routing two independent
// round trips back without either one's flits bleeding into the other's
// channel — the concurrent generalization of the single in-flight load
// already exercised by chip_test.go.
func TestChipServesConcurrentCrossTileLoadsFromDifferentCores(t *testing.T) {
	c := New(Options{Width: 2, Height: 2, BufferSize: 4})

	// Directory index 1 -> tile (1,0); index 2 -> tile (0,1), under the
	// default interleaved seeding.
	const (
		addrA = uint32(1 << 5)
		addrB = uint32(2 << 5)
	)
	_, err := c.MagicMemoryAccess(addrA, true, 0x11111111)
	require.NoError(t, err)
	_, err = c.MagicMemoryAccess(addrB, true, 0x22222222)
	require.NoError(t, err)

	origin := wire.TileID{X: 0, Y: 0}
	ct := c.Tile(origin)
	require.NotNil(t, ct)

	reqA := wire.NewRequestFlit(addrA, wire.ChannelID{}, wire.OpLoadW, true)
	reqA.ReturnTile = wire.EncodeReturnTile(origin)
	reqA.ReturnChannel = 0
	require.True(t, ct.CoreRequestIn[0].Write(reqA))

	reqB := wire.NewRequestFlit(addrB, wire.ChannelID{}, wire.OpLoadW, true)
	reqB.ReturnTile = wire.EncodeReturnTile(origin)
	reqB.ReturnChannel = 1
	require.True(t, ct.CoreRequestIn[1].Write(reqB))

	bothReady := func() bool {
		return ct.CoreResponseOut[0].CanRead() && ct.CoreResponseOut[1].CanRead()
	}
	for i := 0; i < 4000 && !bothReady(); i++ {
		require.NoError(t, c.Run(1))
	}
	require.True(t, bothReady(), "both responses must arrive within the cycle budget")

	respA, ok := ct.CoreResponseOut[0].Read()
	require.True(t, ok)
	assert.Equal(t, uint32(0x11111111), respA.Payload)

	respB, ok := ct.CoreResponseOut[1].Read()
	require.True(t, ok)
	assert.Equal(t, uint32(0x22222222), respB.Payload)

	assert.True(t, c.IsIdle(), "chip must return to quiescence once both responses are drained")
}

// Scenario F (§8): a core on tile A claims tile B's data channel 2; ICU B
// accepts and returns one credit. A core on tile C then claims the same
// channel; ICU B rejects it with a nack, since the channel is already held
// by A. Tile A sends a data flit, which arrives at B's channel 2 untouched
// by the ICU (only its Allocate bit is ever inspected). Tile A then
// disconnects; ICU B emits the final credit and clears the channel,
// exercising the full claim/nack/data/disconnect protocol across the data
// mesh end to end rather than against fabricated, unrouted tile IDs.
func TestChipConnectionClaimNackAndDisconnectAcrossTiles(t *testing.T) {
	c := New(Options{Width: 2, Height: 2, BufferSize: 4, CoresPerTile: 3})

	tileA := wire.TileID{X: 0, Y: 0}
	tileB := wire.TileID{X: 1, Y: 0}
	tileC := wire.TileID{X: 0, Y: 1}
	const destChannel = 2

	ctA := c.Tile(tileA)
	ctB := c.Tile(tileB)
	ctC := c.Tile(tileC)
	require.NotNil(t, ctA)
	require.NotNil(t, ctB)
	require.NotNil(t, ctC)

	srcA := wire.ComponentID{Tile: tileA, Position: 0}
	claimA := wire.NewRequestFlit(wire.EncodeClaimPayload(srcA, 0), wire.ChannelID{Tile: tileB, Position: 0, Channel: destChannel}, 0, true)
	claimA.Allocate = true
	require.True(t, ctA.DataRequestIn[0].Write(claimA))

	for i := 0; i < 2000 && c.CreditsDelivered(tileA) < 1; i++ {
		require.NoError(t, c.Run(1))
	}
	require.Equal(t, uint64(1), c.CreditsDelivered(tileA), "ICU B must credit A's accepted claim")

	srcC := wire.ComponentID{Tile: tileC, Position: 0}
	claimC := wire.NewRequestFlit(wire.EncodeClaimPayload(srcC, 0), wire.ChannelID{Tile: tileB, Position: 0, Channel: destChannel}, 0, true)
	claimC.Allocate = true
	require.True(t, ctC.DataRequestIn[0].Write(claimC))

	for i := 0; i < 2000 && c.CreditsDelivered(tileC) < 1; i++ {
		require.NoError(t, c.Run(1))
	}
	require.Equal(t, uint64(1), c.CreditsDelivered(tileC), "ICU B must nack C's claim on an already-claimed channel")

	data := wire.NewPayloadFlit(0x12345678, wire.ChannelID{Tile: tileB, Position: 0, Channel: destChannel}, true)
	require.True(t, ctA.DataRequestIn[0].Write(data))

	for i := 0; i < 2000 && !ctB.DataChannel(destChannel).CanRead(); i++ {
		require.NoError(t, c.Run(1))
	}
	landed, ok := ctB.DataChannel(destChannel).Read()
	require.True(t, ok, "A's data flit must arrive at B's channel untouched by the ICU")
	assert.Equal(t, uint32(0x12345678), landed.Payload)

	// Draining that data flit is this channel's own "real consumer" firing
	// OnDataConsumed, which queues and delivers a second credit to A before
	// any disconnect is sent.
	for i := 0; i < 2000 && c.CreditsDelivered(tileA) < 2; i++ {
		require.NoError(t, c.Run(1))
	}
	require.Equal(t, uint64(2), c.CreditsDelivered(tileA), "ICU B must credit A for the drained data flit")

	disconnect := wire.NewRequestFlit(wire.EncodeClaimPayload(srcA, 0), wire.ChannelID{Tile: tileB, Position: 0, Channel: destChannel}, 0, true)
	disconnect.Allocate = true
	disconnect.Acquired = true
	require.True(t, ctA.DataRequestIn[0].Write(disconnect))

	for i := 0; i < 2000 && c.CreditsDelivered(tileA) < 3; i++ {
		require.NoError(t, c.Run(1))
	}
	require.Equal(t, uint64(3), c.CreditsDelivered(tileA), "ICU B must emit A's final credit on disconnect")
	assert.True(t, c.IsIdle(), "chip must return to quiescence once the connection is torn down")
}
