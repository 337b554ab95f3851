// Package backend provides the in-memory MainMemory implementation
// consulted by a bank on a cache miss and by the chip's magic-memory debug
// path (§6, §9).
package backend

import (
	"fmt"
	"sync"

	"github.com/tilesim/tilesim/internal/interfaces"
)

// ShardSize is the size of each locking shard (64KB), chosen so concurrent
// magic-memory debug access and a running simulation's own bank refills
// don't serialize on one global lock.
const ShardSize = 64 * 1024

// Memory is a flat-byte-slice MainMemory, sharded for locking the same way
// the teacher's RAM-backed I/O backend shards a block device.
type Memory struct {
	data       []byte
	size       int64
	shards     []sync.RWMutex
	readOnly   []readOnlyRange
	claims     map[uint32]int // line tag -> owning bank ID
	claimsLock sync.Mutex
}

type readOnlyRange struct {
	start, end uint32 // [start, end)
}

// NewMemory creates a zeroed memory backend of the given size in bytes.
func NewMemory(size int64) *Memory {
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards < 1 {
		numShards = 1
	}
	return &Memory{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
		claims: make(map[uint32]int),
	}
}

func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

func (m *Memory) lockRange(off, length int64, write bool) {
	start, end := m.shardRange(off, length)
	for i := start; i <= end; i++ {
		if write {
			m.shards[i].Lock()
		} else {
			m.shards[i].RLock()
		}
	}
}

func (m *Memory) unlockRange(off, length int64, write bool) {
	start, end := m.shardRange(off, length)
	for i := start; i <= end; i++ {
		if write {
			m.shards[i].Unlock()
		} else {
			m.shards[i].RUnlock()
		}
	}
}

// ReadWord implements interfaces.MainMemory.
func (m *Memory) ReadWord(addr uint32) (uint32, error) {
	off := int64(addr)
	if off+4 > m.size {
		return 0, fmt.Errorf("backend: read word at 0x%x beyond end of memory (size %d)", addr, m.size)
	}
	m.lockRange(off, 4, false)
	defer m.unlockRange(off, 4, false)
	b := m.data[off : off+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// ReadByte implements interfaces.MainMemory.
func (m *Memory) ReadByte(addr uint32) (byte, error) {
	off := int64(addr)
	if off >= m.size {
		return 0, fmt.Errorf("backend: read byte at 0x%x beyond end of memory (size %d)", addr, m.size)
	}
	m.lockRange(off, 1, false)
	defer m.unlockRange(off, 1, false)
	return m.data[off], nil
}

// WriteWord implements interfaces.MainMemory.
func (m *Memory) WriteWord(addr uint32, value uint32) error {
	off := int64(addr)
	if off+4 > m.size {
		return fmt.Errorf("backend: write word at 0x%x beyond end of memory (size %d)", addr, m.size)
	}
	m.lockRange(off, 4, true)
	defer m.unlockRange(off, 4, true)
	b := m.data[off : off+4]
	b[0] = byte(value)
	b[1] = byte(value >> 8)
	b[2] = byte(value >> 16)
	b[3] = byte(value >> 24)
	return nil
}

// WriteByte implements interfaces.MainMemory.
func (m *Memory) WriteByte(addr uint32, value byte) error {
	off := int64(addr)
	if off >= m.size {
		return fmt.Errorf("backend: write byte at 0x%x beyond end of memory (size %d)", addr, m.size)
	}
	m.lockRange(off, 1, true)
	defer m.unlockRange(off, 1, true)
	m.data[off] = value
	return nil
}

// MarkReadOnly declares [start, end) read-only. Writes there are warned
// but allowed (§7) — ReadOnly only reports the condition, it does not
// enforce it.
func (m *Memory) MarkReadOnly(start, end uint32) {
	m.readOnly = append(m.readOnly, readOnlyRange{start: start, end: end})
}

// ReadOnly implements interfaces.MainMemory.
func (m *Memory) ReadOnly(addr uint32) bool {
	for _, r := range m.readOnly {
		if addr >= r.start && addr < r.end {
			return true
		}
	}
	return false
}

// ClaimCacheLine implements interfaces.MainMemory: records, for
// ownership-tracking instrumentation only, that bankID now owns the line
// containing addr.
func (m *Memory) ClaimCacheLine(bankID int, addr uint32) error {
	tag := addr &^ 0x1f
	m.claimsLock.Lock()
	defer m.claimsLock.Unlock()
	m.claims[tag] = bankID
	return nil
}

// LineOwner returns the bank ID that last claimed the line containing
// addr, or false if no bank has.
func (m *Memory) LineOwner(addr uint32) (int, bool) {
	tag := addr &^ 0x1f
	m.claimsLock.Lock()
	defer m.claimsLock.Unlock()
	bankID, ok := m.claims[tag]
	return bankID, ok
}

// Size returns the memory's total size in bytes.
func (m *Memory) Size() int64 { return m.size }

var _ interfaces.MainMemory = (*Memory)(nil)
