package flowctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tilesim/tilesim/internal/wire"
)

func TestBufferWriteReadOrder(t *testing.T) {
	b := NewBuffer(2)
	assert.True(t, b.CanWrite())
	assert.True(t, b.Write(wire.Flit{Payload: 1}))
	assert.True(t, b.Write(wire.Flit{Payload: 2}))
	assert.False(t, b.CanWrite(), "buffer should report full at capacity")
	assert.False(t, b.Write(wire.Flit{Payload: 3}), "write past capacity must be rejected, not silently accepted")

	f, ok := b.Read()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), f.Payload)

	f, ok = b.Read()
	assert.True(t, ok)
	assert.Equal(t, uint32(2), f.Payload)

	_, ok = b.Read()
	assert.False(t, ok)
}

func TestBufferDataConsumedFiresOnce(t *testing.T) {
	b := NewBuffer(4)
	consumed := 0
	b.OnDataConsumed = func() { consumed++ }

	b.Write(wire.Flit{Payload: 7})
	b.Read()
	assert.Equal(t, 1, consumed)

	// Reading again with nothing queued must not fire the callback.
	b.Read()
	assert.Equal(t, 1, consumed)
}

func TestBufferFreeSlotsAndIdle(t *testing.T) {
	b := NewBuffer(3)
	assert.Equal(t, 3, b.FreeSlots())
	assert.True(t, b.IsIdle())

	b.Write(wire.Flit{})
	assert.Equal(t, 2, b.FreeSlots())
	assert.False(t, b.IsIdle())
}
