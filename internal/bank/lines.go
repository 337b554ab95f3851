package bank

import "github.com/tilesim/tilesim/internal/wire"

// Requester identifies the originator of a load-linked/store-conditional
// pair well enough to scope a reservation, using the same (returnTile,
// returnChannel) pair carried on the wire (§3, §6) rather than a fully
// reconstructed ChannelID — the bank never needs more than that to tell
// requesters apart.
type Requester struct {
	ReturnTile    uint8
	ReturnChannel uint8
}

// RequesterOf extracts the Requester identity from a request flit's return
// fields.
func RequesterOf(f wire.Flit) Requester {
	return Requester{ReturnTile: f.ReturnTile, ReturnChannel: f.ReturnChannel}
}

type reservationKey struct {
	who Requester
	tag wire.MemoryTag
}

// lineStore holds one bank's tag/valid/dirty/skipL2 SRAM arrays, the backing
// word data, and the load-linked reservation table (§3 "Memory bank
// state").
type lineStore struct {
	indexBits uint

	data   []uint32
	tags   []wire.MemoryTag
	valid  []bool
	dirty  []bool
	l2Skip []bool

	reservations map[reservationKey]struct{}
}

func newLineStore(indexBits uint) *lineStore {
	n := 1 << indexBits
	return &lineStore{
		indexBits:    indexBits,
		data:         make([]uint32, n*8),
		tags:         make([]wire.MemoryTag, n),
		valid:        make([]bool, n),
		dirty:        make([]bool, n),
		l2Skip:       make([]bool, n),
		reservations: make(map[reservationKey]struct{}),
	}
}

// slot computes the SRAM line index for addr per §4.6:
//
//	slot  = index XOR (bank << (indexBits-3))
//	index = (addr >> 8) & ((1<<indexBits)-1)
//	bank  = (addr >> 5) & 7
func (s *lineStore) slot(addr wire.MemoryAddr) int {
	index := (uint32(addr) >> 8) & (uint32(1)<<s.indexBits - 1)
	bankBits := (uint32(addr) >> 5) & 7
	return int(index ^ (bankBits << (s.indexBits - 3)))
}

func (s *lineStore) wordIndex(addr wire.MemoryAddr) int {
	offset := (uint32(addr) & 31) / 4
	return s.slot(addr)*8 + int(offset)
}

// Contains reports a cache hit: the line is valid and its tag matches.
func (s *lineStore) Contains(addr wire.MemoryAddr) bool {
	slot := s.slot(addr)
	return s.valid[slot] && s.tags[slot] == addr.Tag()
}

// Allocate installs addr's tag as owning this line's slot, marking it valid
// and clean.
func (s *lineStore) Allocate(addr wire.MemoryAddr, skipL2 bool) {
	slot := s.slot(addr)
	s.tags[slot] = addr.Tag()
	s.valid[slot] = true
	s.dirty[slot] = false
	s.l2Skip[slot] = skipL2
}

// Validate marks the already-allocated line valid without fetching data
// (VALIDATE_LINE/PREFETCH_LINE, §4.6).
func (s *lineStore) Validate(addr wire.MemoryAddr) {
	s.valid[s.slot(addr)] = true
}

// Invalidate clears a line and any reservations held against it.
func (s *lineStore) Invalidate(addr wire.MemoryAddr) {
	slot := s.slot(addr)
	s.valid[slot] = false
	s.dirty[slot] = false
	s.clearReservationsForLine(addr.Tag())
}

func (s *lineStore) Dirty(addr wire.MemoryAddr) bool   { return s.dirty[s.slot(addr)] }
func (s *lineStore) SkipL2(addr wire.MemoryAddr) bool  { return s.l2Skip[s.slot(addr)] }
func (s *lineStore) MarkFlushed(addr wire.MemoryAddr) { s.dirty[s.slot(addr)] = false }

func (s *lineStore) ReadWord(addr wire.MemoryAddr) uint32 {
	return s.data[s.wordIndex(addr)]
}

// WriteWord stores value, marks the line dirty, and invalidates any
// reservation on it (§4.6: "writeWord marks the line dirty ... and clears
// any reservation for that line").
func (s *lineStore) WriteWord(addr wire.MemoryAddr, value uint32) {
	s.data[s.wordIndex(addr)] = value
	s.dirty[s.slot(addr)] = true
	s.clearReservationsForLine(addr.Tag())
}

// ReadLine copies the 8 words of the line containing addr into out.
func (s *lineStore) ReadLine(addr wire.MemoryAddr, out *[8]uint32) {
	base := s.slot(addr) * 8
	copy(out[:], s.data[base:base+8])
}

// WriteLine installs 8 words as the line containing addr without marking it
// dirty — used by REFILL, which brings in a clean copy from backing storage
// or a peer tile.
func (s *lineStore) WriteLine(addr wire.MemoryAddr, words [8]uint32) {
	base := s.slot(addr) * 8
	copy(s.data[base:base+8], words[:])
}

// MakeReservation records a load-linked reservation for who on addr's line.
func (s *lineStore) MakeReservation(who Requester, addr wire.MemoryAddr) {
	s.reservations[reservationKey{who, addr.Tag()}] = struct{}{}
}

// CheckReservation reports whether who still holds a reservation on addr's
// line (a STORE_CONDITIONAL succeeds iff this holds immediately before the
// write, §4.6).
func (s *lineStore) CheckReservation(who Requester, addr wire.MemoryAddr) bool {
	_, ok := s.reservations[reservationKey{who, addr.Tag()}]
	return ok
}

func (s *lineStore) clearReservationsForLine(tag wire.MemoryTag) {
	for k := range s.reservations {
		if k.tag == tag {
			delete(s.reservations, k)
		}
	}
}
