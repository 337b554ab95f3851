package wire

import "testing"

func TestChannelIDEncodeDecodeUnicast(t *testing.T) {
	c := ChannelID{Tile: TileID{X: 3, Y: 5}, Position: 2, Channel: 7}
	got := DecodeChannelID(c.Encode())
	if got.Tile != c.Tile || got.Position != c.Position || got.Channel != c.Channel || got.Multicast {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, c)
	}
}

func TestChannelIDEncodeDecodeMulticast(t *testing.T) {
	c := ChannelID{Tile: TileID{X: 1, Y: 1}, Multicast: true, CoreMask: 0b1011, Channel: 2}
	got := DecodeChannelID(c.Encode())
	if !got.Multicast || got.CoreMask != c.CoreMask || got.Channel != c.Channel {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, c)
	}
	if idx := got.CoreIndices(); len(idx) != 3 || idx[0] != 0 || idx[1] != 1 || idx[2] != 3 {
		t.Fatalf("unexpected core indices: %v", idx)
	}
}

func TestRequestMetadataRoundTrip(t *testing.T) {
	f := Flit{
		Op:            OpStoreConditional,
		EndOfPacket:   true,
		Scratchpad:    true,
		SkipL2:        true,
		ReturnChannel: 9,
		ReturnTile:    31,
	}
	got := DecodeMetadata(f.EncodeMetadata())
	if got.Op != f.Op || got.EndOfPacket != f.EndOfPacket || got.Scratchpad != f.Scratchpad ||
		got.SkipL1 != f.SkipL1 || got.SkipL2 != f.SkipL2 ||
		got.ReturnChannel != f.ReturnChannel || got.ReturnTile != f.ReturnTile {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestResponseMetadataRoundTrip(t *testing.T) {
	f := Flit{EndOfPacket: true, IsInstruction: true}
	got := DecodeResponseMetadata(f.EncodeResponseMetadata())
	if got.EndOfPacket != f.EndOfPacket || got.IsInstruction != f.IsInstruction {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestMessageIDMonotonic(t *testing.T) {
	a := NextMessageID()
	b := NextMessageID()
	if b <= a {
		t.Fatalf("expected monotonically increasing message IDs, got %d then %d", a, b)
	}
}

func TestMemoryAddrTag(t *testing.T) {
	addr := MemoryAddr(0x1234)
	if addr.Tag() != MemoryTag(0x1220) {
		t.Fatalf("got tag %#x, want %#x", addr.Tag(), 0x1220)
	}
}

func TestOpcodeClassifications(t *testing.T) {
	if !OpLoadW.IsLoad() || OpStoreW.IsLoad() {
		t.Fatal("IsLoad misclassified")
	}
	if !OpFetchLine.IsLineOp() || OpLoadW.IsLineOp() {
		t.Fatal("IsLineOp misclassified")
	}
	if !OpUpdateDirectoryEntry.IsDirectoryUpdate() {
		t.Fatal("IsDirectoryUpdate misclassified")
	}
	if OpStoreW.ExpectsResult() || !OpLoadW.ExpectsResult() {
		t.Fatal("ExpectsResult misclassified")
	}
}
