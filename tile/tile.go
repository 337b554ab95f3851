// Package tile implements the per-tile wiring of §3/§6: a set of banks, the
// miss-handling logic, the inter-tile communication unit, and the local L2
// request filter that ties a tile's cores to its own banks, grounded on the
// teacher's Device (backend.go), which owns and wires together a set of
// queue runners, a scheduler, and an observer.
package tile

import (
	"fmt"

	"github.com/tilesim/tilesim/internal/bank"
	"github.com/tilesim/tilesim/internal/directory"
	"github.com/tilesim/tilesim/internal/flowctl"
	"github.com/tilesim/tilesim/internal/icu"
	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/mhl"
	"github.com/tilesim/tilesim/internal/network"
	"github.com/tilesim/tilesim/internal/wire"
)

// Config configures a ComputeTile.
type Config struct {
	Tile wire.TileID

	NumBanks        int
	IndexBits       uint // SRAM lines per bank, as log2
	CoresPerTile    int
	NumAccelerators int
	BufferSize      int

	Directory *directory.Directory
	Backend   interfaces.MainMemory

	Logger   interfaces.Logger
	Observer interfaces.Observer
}

// ComputeTile is one tile of the chip: cores' requests funnel through a
// local L2 filter onto this tile's banks, whose misses and forwards pass
// through a single miss-handling unit, while the inter-tile communication
// unit tracks per-core channel claims and emits credits (§3, §4.6-4.9).
type ComputeTile struct {
	id wire.TileID

	banks []*bank.Bank
	mhl   *mhl.MHL
	icu   *icu.ICU
	l2    *l2Broadcast

	funnel  *network.Crossbar
	fanout  *network.Crossbar
	stamper *responseStamper

	// dataFunnel merges DataRequestIn into DataOut; dataFanout demuxes the
	// mesh's DataIn delivery into each channel's own ICU-monitored buffer.
	dataFunnel *network.Crossbar
	dataFanout *network.Crossbar
	dataChans  []*flowctl.Buffer

	// CoreRequestIn[i] is core i's outbound request stream into this tile's
	// local L2 filter. CoreResponseOut[i] is where responses addressed to
	// core i land, once the fan-out has determined the response belongs to
	// this tile (returnTile == this tile).
	CoreRequestIn   []*flowctl.Buffer
	CoreResponseOut []*flowctl.Buffer

	// DataRequestIn[i] is core i's outbound stream onto the cross-tile data
	// network (§4.9): connection claims, disconnects, and the bulk data
	// flits a claimed connection carries, addressed by Dest.Tile/Dest.Channel
	// at whichever tile and ICU channel the connection was claimed against.
	DataRequestIn []*flowctl.Buffer

	// ResponseOut carries bank responses addressed to a requester on
	// another tile — the common case for a FETCH_LINE a remote tile's bank
	// forwarded here because this tile is the address's home (§4.8
	// "Incoming" — delivered to the bank indicated by the return channel,
	// which on a cross-tile response means a bank, not a core). The chip
	// wires this onto the inter-tile response mesh.
	ResponseOut *flowctl.Buffer

	// DataOut/DataIn are this tile's single uplink/downlink onto the
	// chip-wide data mesh (§4.9/§4.10) — DataOut carries the merged
	// DataRequestIn streams outward; DataIn carries whatever the mesh
	// routed here, fanned out by destination channel into icuInputs before
	// reaching this tile's ICU.
	DataOut *flowctl.Buffer
	DataIn  *flowctl.Buffer
}

// responseStamper drains bank responses already determined to be bound for
// another tile and stamps their mesh destination from the returnTile field
// the originating bank encoded, a transform network.Crossbar itself has no
// hook for.
type responseStamper struct {
	in  *flowctl.Buffer
	out *flowctl.Buffer
}

func (s *responseStamper) Tick() bool {
	if !s.out.CanWrite() {
		return false
	}
	f, ok := s.in.Read()
	if !ok {
		return false
	}
	f.Dest.Tile = wire.DecodeReturnTile(f.ReturnTile)
	s.out.Write(f)
	return true
}

func (s *responseStamper) IsIdle() bool { return s.in.IsIdle() }

func (s *responseStamper) ReportStalls() []interfaces.StallReport {
	if s.IsIdle() {
		return nil
	}
	return []interfaces.StallReport{{Component: "tile.responseStamper", Detail: "awaiting response mesh buffer space"}}
}

// New builds a ComputeTile from cfg.
func New(cfg Config) *ComputeTile {
	size := cfg.BufferSize
	if size < 1 {
		size = 1
	}
	numRequesters := cfg.CoresPerTile + cfg.NumAccelerators

	banks := make([]*bank.Bank, cfg.NumBanks)
	bankOut := make([]*flowctl.Buffer, cfg.NumBanks)
	bankIn := make([]*flowctl.Buffer, cfg.NumBanks)
	bankResponse := make([]*flowctl.Buffer, cfg.NumBanks)
	for i := range banks {
		banks[i] = bank.New(bank.Config{
			BankID:     i,
			Tile:       cfg.Tile,
			IndexBits:  cfg.IndexBits,
			BufferSize: size,
			Logger:     cfg.Logger,
			Observer:   cfg.Observer,
			Directory:  cfg.Directory,
		})
		bankOut[i] = banks[i].OutputRequest
		bankIn[i] = banks[i].InputQueue
		bankResponse[i] = banks[i].ResponseIn
	}

	m := mhl.New(mhl.Config{
		Tile:       cfg.Tile,
		NumBanks:   cfg.NumBanks,
		Directory:  cfg.Directory,
		BufferSize: size,
		Logger:     cfg.Logger,
		Backend:    cfg.Backend,
	}, bankOut, bankIn, bankResponse)

	coreIn := make([]*flowctl.Buffer, numRequesters)
	coreOut := make([]*flowctl.Buffer, numRequesters)
	for i := range coreIn {
		coreIn[i] = flowctl.NewBuffer(size)
		coreOut[i] = flowctl.NewBuffer(size)
	}

	broadcastIn := flowctl.NewBuffer(size)
	funnel := network.NewCrossbar("tile-request-funnel", coreIn, []*flowctl.Buffer{broadcastIn}, func(wire.Flit) int { return 0 })

	l2 := newL2Broadcast(banks, broadcastIn, m.RequestIn)

	respInputs := make([]*flowctl.Buffer, 0, 2*cfg.NumBanks)
	for _, b := range banks {
		respInputs = append(respInputs, b.OutputData, b.OutputInstruction)
	}
	foreignIdx := len(coreOut)
	foreignRaw := flowctl.NewBuffer(size)
	fanoutOutputs := append(append([]*flowctl.Buffer{}, coreOut...), foreignRaw)
	fanout := network.NewCrossbar("tile-response-fanout", respInputs, fanoutOutputs, func(f wire.Flit) int {
		if wire.DecodeReturnTile(f.ReturnTile) == cfg.Tile {
			return int(f.ReturnChannel)
		}
		return foreignIdx
	})

	responseOut := flowctl.NewBuffer(size)
	stamper := &responseStamper{in: foreignRaw, out: responseOut}

	// The data network (§4.9/§4.10): every core's outbound claim/disconnect/
	// data traffic merges into one uplink (dataOut) the chip wires onto the
	// mesh; whatever the mesh routes back in (dataDownlink, including this
	// tile's own loopback for a core claiming a channel on its own tile) is
	// fanned out by destination channel into the per-channel buffers the ICU
	// actually monitors — replacing the old, incorrect wiring of the ICU
	// onto this tile's own CoreResponseOut (an intra-tile bank-to-core path,
	// never touched by cross-tile connection traffic).
	dataCoreIn := make([]*flowctl.Buffer, numRequesters)
	for i := range dataCoreIn {
		dataCoreIn[i] = flowctl.NewBuffer(size)
	}
	dataOut := flowctl.NewBuffer(size)
	dataFunnel := network.NewCrossbar("tile-data-funnel", dataCoreIn, []*flowctl.Buffer{dataOut}, func(wire.Flit) int { return 0 })

	icuInputs := make([]*flowctl.Buffer, numRequesters)
	for i := range icuInputs {
		icuInputs[i] = flowctl.NewBuffer(size)
	}
	dataDownlink := flowctl.NewBuffer(size)
	dataFanout := network.NewCrossbar("tile-data-fanout", []*flowctl.Buffer{dataDownlink}, icuInputs, func(f wire.Flit) int { return f.Dest.Channel })

	u := icu.New(icu.Config{Tile: cfg.Tile, BufferSize: size, Logger: cfg.Logger}, icuInputs)

	return &ComputeTile{
		id:              cfg.Tile,
		banks:           banks,
		mhl:             m,
		icu:             u,
		l2:              l2,
		funnel:          funnel,
		fanout:          fanout,
		stamper:         stamper,
		dataFunnel:      dataFunnel,
		dataFanout:      dataFanout,
		dataChans:       icuInputs,
		CoreRequestIn:   coreIn,
		CoreResponseOut: coreOut,
		DataRequestIn:   dataCoreIn,
		ResponseOut:     responseOut,
		DataOut:         dataOut,
		DataIn:          dataDownlink,
	}
}

// MHL returns the tile's miss-handling unit, for the chip to wire onto the
// inter-tile request/response/credit networks.
func (t *ComputeTile) MHL() *mhl.MHL { return t.mhl }

// ICU returns the tile's inter-tile communication unit, for the chip to
// wire its CreditOut onto the credit network.
func (t *ComputeTile) ICU() *icu.ICU { return t.icu }

// Bank returns bank i of this tile, for direct loads (StoreInstructions/
// StoreData) and test inspection.
func (t *ComputeTile) Bank(i int) *bank.Bank { return t.banks[i] }

// DataChannel returns the landing buffer for data-network channel i — the
// same buffer the ICU monitors for claims/disconnects, and where an
// accepted connection's ordinary data flits arrive for whatever consumer
// this channel's traffic is ultimately meant for (§4.9; ICU itself only
// ever peeks a data flit's Allocate bit, leaving the flit for that
// consumer to actually drain). Exposed for test inspection.
func (t *ComputeTile) DataChannel(i int) *flowctl.Buffer { return t.dataChans[i] }

// Tickers returns every leaf component owned by this tile that must be
// driven by the chip-wide kernel, in no particular order — delta-phase
// convergence requires every leaf across the whole chip to share one
// kernel (§5), so a tile does not bundle its own components behind a
// single coarse Tick.
func (t *ComputeTile) Tickers() []interfaces.Ticker {
	ts := []interfaces.Ticker{t.funnel, t.l2, t.mhl, t.icu, t.fanout, t.stamper, t.dataFunnel, t.dataFanout}
	for _, b := range t.banks {
		ts = append(ts, b)
	}
	return ts
}

// IsIdle reports whether every component of this tile is quiescent.
func (t *ComputeTile) IsIdle() bool {
	for _, r := range t.stallReporters() {
		if !r.IsIdle() {
			return false
		}
	}
	return true
}

// ReportStalls aggregates stall diagnostics across the tile's components.
func (t *ComputeTile) ReportStalls() []interfaces.StallReport {
	var reports []interfaces.StallReport
	for _, r := range t.stallReporters() {
		reports = append(reports, r.ReportStalls()...)
	}
	return reports
}

func (t *ComputeTile) stallReporters() []interfaces.StallReporter {
	rs := []interfaces.StallReporter{t.funnel, t.l2, t.mhl, t.icu, t.fanout, t.stamper, t.ResponseOut, t.dataFunnel, t.dataFanout, t.DataOut}
	for _, b := range t.banks {
		rs = append(rs, b)
	}
	for _, b := range t.CoreRequestIn {
		rs = append(rs, b)
	}
	for _, b := range t.CoreResponseOut {
		rs = append(rs, b)
	}
	for _, b := range t.DataRequestIn {
		rs = append(rs, b)
	}
	return rs
}

// String identifies the tile for logging.
func (t *ComputeTile) String() string { return fmt.Sprintf("tile%s", t.id) }
