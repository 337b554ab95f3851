package network

import (
	"github.com/tilesim/tilesim/internal/flowctl"
	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/wire"
)

// Direction indexes a MeshRouter's five bidirectional ports.
type Direction int

const (
	North Direction = iota
	East
	South
	West
	Local
	numPorts
)

func (d Direction) String() string {
	switch d {
	case North:
		return "N"
	case East:
		return "E"
	case South:
		return "S"
	case West:
		return "W"
	case Local:
		return "Local"
	default:
		return "?"
	}
}

// MeshRouter implements the XY-deterministic router of §4.3: adjust X
// until it matches the destination tile's X, then adjust Y. It is built on
// top of Crossbar — a 5-port router is structurally a 5x5 crossbar whose
// routing function is the XY comparison against the router's own position,
// rather than a bespoke switching implementation.
type MeshRouter struct {
	*Crossbar
	position wire.TileID
}

// NewMeshRouter builds a router at position, wiring ports in the fixed
// North/East/South/West/Local order. Each ports[i] that has no live
// neighbour (a grid edge) should be a DeadEndSink's buffer pair so
// off-mesh flits are dropped and logged rather than silently lost (§4.3).
func NewMeshRouter(name string, position wire.TileID, in, out [5]*flowctl.Buffer) *MeshRouter {
	r := &MeshRouter{position: position}
	route := func(f wire.Flit) int { return int(xyDirection(position, f.Dest.Tile)) }
	r.Crossbar = NewCrossbar(name, in[:], out[:], route)
	return r
}

func xyDirection(self, dest wire.TileID) Direction {
	switch {
	case dest.X < self.X:
		return West
	case dest.X > self.X:
		return East
	case dest.Y < self.Y:
		return North
	case dest.Y > self.Y:
		return South
	default:
		return Local
	}
}

// DeadEndSink terminates a mesh edge port: any flit routed to it is logged
// and dropped (§4.3, "a flit leaving the edge of the mesh ... is dropped
// into a logged dead-end sink").
type DeadEndSink struct {
	name   string
	input  *flowctl.Buffer
	log    interfaces.Logger
	Dropped int
}

// NewDeadEndSink builds a sink draining input.
func NewDeadEndSink(name string, input *flowctl.Buffer, log interfaces.Logger) *DeadEndSink {
	return &DeadEndSink{name: name, input: input, log: log}
}

func (s *DeadEndSink) Tick() bool {
	f, ok := s.input.Read()
	if !ok {
		return false
	}
	s.Dropped++
	if s.log != nil {
		s.log.Warnf("dead-end sink %s dropped flit dest=%s op=%s", s.name, f.Dest, f.Op)
	}
	return true
}

func (s *DeadEndSink) IsIdle() bool { return s.input.IsIdle() }

func (s *DeadEndSink) ReportStalls() []interfaces.StallReport { return nil }
