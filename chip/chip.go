// Package chip assembles a grid of tiles into a complete simulated chip:
// the four inter-tile mesh networks (request, response, data, credit), the
// chip-wide main-memory backend every tile's MHL shares, the magic-memory
// debug path that bypasses the simulated hierarchy entirely, and the
// top-level Run loop that drives the delta-phase kernel cycle by cycle and
// watches for deadlock, grounded on the teacher's Device/CreateAndServe
// lifecycle (backend.go).
package chip

import (
	"fmt"

	"github.com/tilesim/tilesim"
	"github.com/tilesim/tilesim/internal/backend"
	"github.com/tilesim/tilesim/internal/constants"
	"github.com/tilesim/tilesim/internal/directory"
	"github.com/tilesim/tilesim/internal/flowctl"
	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/logging"
	"github.com/tilesim/tilesim/internal/network"
	"github.com/tilesim/tilesim/internal/sim"
	"github.com/tilesim/tilesim/internal/wire"
	"github.com/tilesim/tilesim/tile"
)

// Options configures a Chip.
type Options struct {
	Width, Height int // tile grid dimensions; default 2x2

	NumBanks        int
	IndexBits       uint // SRAM lines per bank, as log2
	CoresPerTile    int
	NumAccelerators int
	BufferSize      int

	MemorySize int64 // chip-wide backing store size, bytes

	// Directory*  configure the single chip-wide directory table every
	// tile's MHL consults and updates; New builds one shared Directory
	// rather than a separate copy per tile.
	DirectoryIndexBits        uint
	DirectoryIndexShift       uint
	DirectoryTranslationShift uint
	DirectoryTranslationWidth uint

	Metrics *tilesim.Metrics
	Logger  *logging.Logger

	DeadlockCheckInterval uint64
	StallWarnInterval     uint64
}

func (o Options) withDefaults() Options {
	if o.Width < 1 {
		o.Width = 2
	}
	if o.Height < 1 {
		o.Height = 2
	}
	if o.NumBanks < 1 {
		o.NumBanks = constants.DefaultBanksPerTile
	}
	if o.IndexBits < 1 {
		o.IndexBits = 10 // log2(constants.DefaultLinesPerBank)
	}
	if o.CoresPerTile < 1 {
		o.CoresPerTile = constants.DefaultCoresPerTile
	}
	if o.BufferSize < 1 {
		o.BufferSize = constants.DefaultBufferSize
	}
	if o.MemorySize < 1 {
		o.MemorySize = 1 << 24
	}
	if o.DirectoryIndexBits < 1 {
		o.DirectoryIndexBits = 10
	}
	if o.DirectoryIndexShift < 1 {
		o.DirectoryIndexShift = constants.OffsetBits
	}
	if o.DirectoryTranslationShift < 1 {
		o.DirectoryTranslationShift = 20
	}
	if o.DirectoryTranslationWidth < 1 {
		o.DirectoryTranslationWidth = 8
	}
	if o.Metrics == nil {
		o.Metrics = tilesim.NewMetrics()
	}
	if o.Logger == nil {
		o.Logger = logging.NewLogger(nil)
	}
	if o.DeadlockCheckInterval == 0 {
		o.DeadlockCheckInterval = constants.DeadlockCheckInterval
	}
	if o.StallWarnInterval == 0 {
		o.StallWarnInterval = constants.StallWarnInterval
	}
	return o
}

// Chip is a complete simulated multicore: a tile grid, the four inter-tile
// mesh networks, and the chip-wide main-memory backend.
type Chip struct {
	opts  Options
	tiles map[wire.TileID]*tile.ComputeTile
	mem   *backend.Memory
	dir   *directory.Directory

	kernel   *sim.Kernel
	detector *sim.DeadlockDetector
	log      *logging.Logger
	metrics  interfaces.Observer

	absorbers map[wire.TileID]*creditAbsorber

	reporters []interfaces.StallReporter
}

// New builds a Chip from opts, wiring every tile onto all four inter-tile
// mesh networks and onto a single shared main-memory backend.
func New(opts Options) *Chip {
	opts = opts.withDefaults()

	mem := backend.NewMemory(opts.MemorySize)
	dir := directory.New(opts.DirectoryIndexBits, opts.DirectoryIndexShift, opts.DirectoryTranslationShift, opts.DirectoryTranslationWidth)
	seedInterleavedDirectory(dir, opts.DirectoryIndexBits, opts.Width, opts.Height)

	c := &Chip{
		opts:    opts,
		tiles:   make(map[wire.TileID]*tile.ComputeTile),
		mem:     mem,
		dir:     dir,
		kernel:  sim.New(),
		log:     opts.Logger,
		metrics: opts.Metrics,
	}

	for y := 0; y < opts.Height; y++ {
		for x := 0; x < opts.Width; x++ {
			id := wire.TileID{X: x, Y: y}
			ct := tile.New(tile.Config{
				Tile:            id,
				NumBanks:        opts.NumBanks,
				IndexBits:       opts.IndexBits,
				CoresPerTile:    opts.CoresPerTile,
				NumAccelerators: opts.NumAccelerators,
				BufferSize:      opts.BufferSize,
				Directory:       dir,
				Backend:         mem,
				Logger:          opts.Logger.WithTile(x, y),
				Observer:        c.metrics,
			})
			c.tiles[id] = ct
			for _, t := range ct.Tickers() {
				c.kernel.Add(t)
			}
			c.reporters = append(c.reporters, ct)
		}
	}

	requestExtra := c.wireMesh("request",
		func(_ wire.TileID, ct *tile.ComputeTile) *flowctl.Buffer { return ct.MHL().RequestOut },
		func(_ wire.TileID, ct *tile.ComputeTile) *flowctl.Buffer { return ct.MHL().RequestIn })

	responseExtra := c.wireMesh("response",
		func(_ wire.TileID, ct *tile.ComputeTile) *flowctl.Buffer { return ct.ResponseOut },
		func(_ wire.TileID, ct *tile.ComputeTile) *flowctl.Buffer { return ct.MHL().ResponseIn })

	// The fourth inter-tile mesh network: core-to-core connection claims,
	// disconnects, and the bulk data a claimed connection carries (§4.9),
	// routed onto the ICU's actual monitored inputs rather than any
	// intra-tile buffer.
	dataExtra := c.wireMesh("data",
		func(_ wire.TileID, ct *tile.ComputeTile) *flowctl.Buffer { return ct.DataOut },
		func(_ wire.TileID, ct *tile.ComputeTile) *flowctl.Buffer { return ct.DataIn })

	// The credit network's Local output at each tile has no core-side
	// consumer in this kernel (core computation is out of scope) — an
	// absorber Ticker drains it so the mesh has somewhere to deliver and so
	// the deadlock detector can still describe outstanding credit traffic.
	absorbers := make(map[wire.TileID]*creditAbsorber)
	creditExtra := c.wireMesh("credit",
		func(_ wire.TileID, ct *tile.ComputeTile) *flowctl.Buffer { return ct.ICU().CreditOut },
		func(id wire.TileID, _ *tile.ComputeTile) *flowctl.Buffer {
			buf := flowctl.NewBuffer(opts.BufferSize)
			absorbers[id] = &creditAbsorber{tile: id, in: buf}
			return buf
		})
	for _, a := range absorbers {
		c.kernel.Add(a)
		c.reporters = append(c.reporters, a)
	}
	c.absorbers = absorbers

	for _, extra := range [][]interfaces.Ticker{requestExtra, responseExtra, dataExtra, creditExtra} {
		for _, t := range extra {
			c.kernel.Add(t)
			if r, ok := t.(interfaces.StallReporter); ok {
				c.reporters = append(c.reporters, r)
			}
		}
	}

	c.detector = sim.NewDeadlockDetector(opts.DeadlockCheckInterval, opts.StallWarnInterval)
	return c
}

// meshPorts groups the five directional buffers of one tile's mesh router
// in the network package's fixed North/East/South/West/Local order.
type meshPorts [5]*flowctl.Buffer

// wireMesh builds one inter-tile mesh network (request, response, data, or
// credit) across the whole tile grid: a MeshRouter per tile, XY-routed
// links between grid neighbours, and a DeadEndSink on every border port
// that has no neighbour. localIn/localOut pick, for a given tile, the
// buffer that already carries that tile's own outbound traffic onto this
// network and the buffer this network should deliver tile-bound traffic
// into — the router's Local ports are wired directly to them, no copy.
func (c *Chip) wireMesh(name string, localIn, localOut func(wire.TileID, *tile.ComputeTile) *flowctl.Buffer) (extra []interfaces.Ticker) {
	width, height, size := c.opts.Width, c.opts.Height, c.opts.BufferSize

	ins := make(map[wire.TileID]*meshPorts)
	outs := make(map[wire.TileID]*meshPorts)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			id := wire.TileID{X: x, Y: y}
			ins[id] = &meshPorts{}
			outs[id] = &meshPorts{}
		}
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			id := wire.TileID{X: x, Y: y}

			if x+1 < width {
				east := wire.TileID{X: x + 1, Y: y}
				toEast := flowctl.NewBuffer(size)
				toWest := flowctl.NewBuffer(size)
				outs[id][network.East] = toEast
				ins[east][network.West] = toEast
				outs[east][network.West] = toWest
				ins[id][network.East] = toWest
			} else {
				sinkBuf := flowctl.NewBuffer(size)
				outs[id][network.East] = sinkBuf
				extra = append(extra, network.NewDeadEndSink(fmt.Sprintf("%s-%s-E", name, id), sinkBuf, c.log))
				ins[id][network.East] = flowctl.NewBuffer(size) // no east neighbour; permanently empty
			}

			if y+1 < height {
				south := wire.TileID{X: x, Y: y + 1}
				toSouth := flowctl.NewBuffer(size)
				toNorth := flowctl.NewBuffer(size)
				outs[id][network.South] = toSouth
				ins[south][network.North] = toSouth
				outs[south][network.North] = toNorth
				ins[id][network.South] = toNorth
			} else {
				sinkBuf := flowctl.NewBuffer(size)
				outs[id][network.South] = sinkBuf
				extra = append(extra, network.NewDeadEndSink(fmt.Sprintf("%s-%s-S", name, id), sinkBuf, c.log))
				ins[id][network.South] = flowctl.NewBuffer(size)
			}

			if x == 0 {
				sinkBuf := flowctl.NewBuffer(size)
				outs[id][network.West] = sinkBuf
				extra = append(extra, network.NewDeadEndSink(fmt.Sprintf("%s-%s-W", name, id), sinkBuf, c.log))
				ins[id][network.West] = flowctl.NewBuffer(size)
			}
			if y == 0 {
				sinkBuf := flowctl.NewBuffer(size)
				outs[id][network.North] = sinkBuf
				extra = append(extra, network.NewDeadEndSink(fmt.Sprintf("%s-%s-N", name, id), sinkBuf, c.log))
				ins[id][network.North] = flowctl.NewBuffer(size)
			}
		}
	}

	for id, ct := range c.tiles {
		ins[id][network.Local] = localIn(id, ct)
		outs[id][network.Local] = localOut(id, ct)
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			id := wire.TileID{X: x, Y: y}
			r := network.NewMeshRouter(fmt.Sprintf("%s-%s", name, id), id, *ins[id], *outs[id])
			extra = append(extra, r)
		}
	}

	return extra
}

// seedInterleavedDirectory gives every directory entry a default home tile
// via static address interleaving (row-major over the grid, cycling every
// indexBits-wide slice of the address) — a common default for a tiled CMP's
// directory before any UPDATE_DIRECTORY_ENTRY traffic narrows a page to one
// tile. Neither spec.md nor the original source specifies a particular
// default scheme; this is an Open Question resolution (see DESIGN.md).
func seedInterleavedDirectory(dir *directory.Directory, indexBits uint, width, height int) {
	n := 1 << indexBits
	for i := 0; i < n; i++ {
		x := i % width
		y := (i / width) % height
		addr := wire.MemoryAddr(uint32(i) << constants.OffsetBits)
		dir.UpdateEntry(addr, directory.EncodeEntry(directory.Entry{NextTileX: x, NextTileY: y}))
	}
}

// creditAbsorber drains a tile's inbound credit port. No core-side credit
// counter is modelled in this kernel — core computation is out of scope
// (SPEC_FULL.md Non-goals) — so credits have nowhere to be spent; this
// absorber exists only so the mesh has a sink and so the deadlock detector
// can still describe outstanding credit traffic.
type creditAbsorber struct {
	tile      wire.TileID
	in        *flowctl.Buffer
	Delivered uint64
}

func (c *creditAbsorber) Tick() bool {
	if _, ok := c.in.Read(); !ok {
		return false
	}
	c.Delivered++
	return true
}

func (c *creditAbsorber) IsIdle() bool { return c.in.IsIdle() }

func (c *creditAbsorber) ReportStalls() []interfaces.StallReport {
	if c.IsIdle() {
		return nil
	}
	return []interfaces.StallReport{{
		Component: "chip.creditAbsorber[" + c.tile.String() + "]",
		Detail:    "credit awaiting drain",
	}}
}

// Tile returns the ComputeTile at id, or nil if id is outside the grid.
func (c *Chip) Tile(id wire.TileID) *tile.ComputeTile { return c.tiles[id] }

// CreditsDelivered reports how many credit flits have reached tile id's
// core side over the credit mesh — no core-side counter consumes them
// (SPEC_FULL.md Non-goals), so this is exposed for test inspection only.
func (c *Chip) CreditsDelivered(id wire.TileID) uint64 {
	a := c.absorbers[id]
	if a == nil {
		return 0
	}
	return a.Delivered
}

// Cycle returns the number of cycles fully stepped so far.
func (c *Chip) Cycle() uint64 { return c.kernel.Cycle() }

// Metrics returns the chip's metrics accumulator.
func (c *Chip) Metrics() *tilesim.Metrics { return c.opts.Metrics }

// MagicMemoryAccess translates addr through the chip's directory and then
// reads or writes the chip's shared backing store directly, bypassing
// every bank's cache state and every Ticker entirely (§6, §9 debug path).
// It is meant for test/demo setup — preloading program images or scratch
// state before Run — and for post-run inspection; calling it while a bank
// somewhere in the chip holds a dirty cached copy of the same line will
// not observe that bank's pending writeback.
func (c *Chip) MagicMemoryAccess(addr uint32, isWrite bool, value uint32) (uint32, error) {
	addr = uint32(c.dir.UpdateAddress(wire.MemoryAddr(addr)))
	if isWrite {
		return 0, c.mem.WriteWord(addr, value)
	}
	return c.mem.ReadWord(addr)
}

// Run steps the chip's delta-phase kernel for up to maxCycles cycles,
// returning early with a *tilesim.SimError of CodeProtocolViolation if the
// deadlock detector finds outstanding, non-progressing work (§5, §7).
func (c *Chip) Run(maxCycles int) error {
	for i := 0; i < maxCycles; i++ {
		progressed, _ := c.kernel.Step()
		c.detector.Observe(progressed)
		if c.detector.ShouldWarn() && c.log != nil {
			c.log.Warnf("chip: no progress for %d consecutive cycles", c.opts.StallWarnInterval)
		}
		if deadlocked, reports := c.detector.Check(c.reporters); deadlocked {
			return tilesim.WrapSimError("chip.Run", wire.TileID{}, -1, tilesim.CodeProtocolViolation, c.kernel.Cycle(),
				fmt.Errorf("deadlock: %d components stalled, e.g. %s: %s", len(reports), reports[0].Component, reports[0].Detail))
		}
	}
	return nil
}

// ReportStalls collects the stall reports of every tile, mesh router, and
// absorber in the chip that is not idle.
func (c *Chip) ReportStalls() []interfaces.StallReport {
	var reports []interfaces.StallReport
	for _, r := range c.reporters {
		if !r.IsIdle() {
			reports = append(reports, r.ReportStalls()...)
		}
	}
	return reports
}

// IsIdle reports whether every tile, mesh router, and absorber in the chip
// is quiescent.
func (c *Chip) IsIdle() bool {
	for _, r := range c.reporters {
		if !r.IsIdle() {
			return false
		}
	}
	return true
}
