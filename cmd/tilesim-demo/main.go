// Command tilesim-demo wires a small fixed-configuration chip, drives a
// handful of loads and stores through it, and prints the resulting metrics
// — a smoke test you can read output from, grounded on the teacher's
// cmd/ublk-mem main (create, serve, report, clean up), minus its flag
// parsing and device-file plumbing (Non-goals: no host I/O surface here).
package main

import (
	"fmt"
	"os"

	"github.com/tilesim/tilesim/chip"
	"github.com/tilesim/tilesim/internal/logging"
	"github.com/tilesim/tilesim/internal/wire"
)

func main() {
	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.LevelInfo
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	const width, height = 2, 2

	c := chip.New(chip.Options{
		Width:        width,
		Height:       height,
		NumBanks:     4,
		CoresPerTile: 2,
		BufferSize:   4,
		MemorySize:   1 << 20,
		Logger:       logger,
	})

	logger.Info("chip assembled", "width", width, "height", height)

	// Directory index 3 resolves to tile (1,1) under the default
	// interleaved seeding (x = i % width, y = (i / width) % height) — a
	// two-hop load: tile (0,0)'s core misses locally, the request crosses
	// the mesh to the home tile, refills from the shared backend there, and
	// the response crosses back.
	const crossAddr = uint32(3 << 5)
	if _, err := c.MagicMemoryAccess(crossAddr, true, 0xCAFEBABE); err != nil {
		logger.Error("preload failed", "error", err)
		os.Exit(1)
	}

	origin := wire.TileID{X: 0, Y: 0}
	originTile := c.Tile(origin)

	req := wire.NewRequestFlit(crossAddr, wire.ChannelID{}, wire.OpLoadW, true)
	req.ReturnTile = wire.EncodeReturnTile(origin)
	req.ReturnChannel = 0
	if !originTile.CoreRequestIn[0].Write(req) {
		logger.Error("demo load request did not fit in the core's request buffer")
		os.Exit(1)
	}
	logger.Info("issued cross-tile load", "addr", fmt.Sprintf("%#x", crossAddr), "origin", origin.String())

	const maxCycles = 5000
	for i := 0; i < maxCycles && !originTile.CoreResponseOut[0].CanRead(); i++ {
		if err := c.Run(1); err != nil {
			logger.Error("chip run failed", "error", err, "cycle", c.Cycle())
			os.Exit(1)
		}
	}

	resp, ok := originTile.CoreResponseOut[0].Read()
	if !ok {
		logger.Error("no response after cycle budget", "cycles", maxCycles)
		os.Exit(1)
	}
	logger.Info("received response", "payload", fmt.Sprintf("%#x", resp.Payload), "cycle", c.Cycle())

	if err := c.Run(50); err != nil {
		logger.Error("chip run failed", "error", err, "cycle", c.Cycle())
		os.Exit(1)
	}

	snap := c.Metrics().Snapshot()
	fmt.Printf("cycles run: %d\n", c.Cycle())
	fmt.Printf("loads=%d (hits=%d) stores=%d (hits=%d) flushes=%d refills=%d forwards=%d stalls=%d\n",
		snap.Loads, snap.LoadHits, snap.Stores, snap.StoreHits, snap.Flushes, snap.Refills, snap.Forwards, snap.Stalls)
	fmt.Printf("chip idle: %v\n", c.IsIdle())
}
