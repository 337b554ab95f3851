// Package network implements the structural switching elements of §4.3:
// the crossbar, the multicast bus, the XY-routed mesh router, plus the
// channel map table and bank selector of §4.4.
package network

import (
	"fmt"

	"github.com/tilesim/tilesim/internal/arbiter"
	"github.com/tilesim/tilesim/internal/flowctl"
	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/wire"
)

// RouteFunc maps a flit to the index of the output it is destined for.
// Supplied by the caller since routing depends on context (a local forward
// crossbar routes by component position, a mesh router by XY comparison).
type RouteFunc func(wire.Flit) int

// Crossbar connects N input buffers to M output buffers. For each output
// an independent wormhole-aware arbiter chooses among the inputs currently
// routed to it (§4.3: "an input that wins an output retains it until
// endOfPacket").
type Crossbar struct {
	name     string
	inputs   []*flowctl.Buffer
	outputs  []*flowctl.Buffer
	arbiters []*arbiter.Wormhole
	route    RouteFunc
}

// NewCrossbar builds a crossbar over the given input/output buffers.
func NewCrossbar(name string, inputs, outputs []*flowctl.Buffer, route RouteFunc) *Crossbar {
	arbs := make([]*arbiter.Wormhole, len(outputs))
	for i := range arbs {
		arbs[i] = arbiter.NewWormhole(arbiter.NewRoundRobin(len(inputs)))
	}
	return &Crossbar{name: name, inputs: inputs, outputs: outputs, arbiters: arbs, route: route}
}

// Tick runs one delta-phase: every output independently arbitrates among
// its requesting inputs and, on a grant, moves exactly one flit.
func (c *Crossbar) Tick() bool {
	progressed := false
	for outIdx, out := range c.outputs {
		if !out.CanWrite() {
			continue
		}
		var requests uint32
		for i, in := range c.inputs {
			if f, ok := in.Peek(); ok && c.route(f) == outIdx {
				requests |= 1 << uint(i)
			}
		}
		if requests == 0 {
			continue
		}
		idx, ok := c.arbiters[outIdx].GetGrant(requests, 0)
		if !ok {
			continue
		}
		f, ok := c.inputs[idx].Peek()
		if !ok || c.route(f) != outIdx {
			// Reservation held by an input no longer routed here this
			// cycle (shouldn't happen absent a misbehaving producer);
			// leave the reservation in place and make no progress.
			continue
		}
		c.inputs[idx].Read()
		out.Write(f)
		c.arbiters[outIdx].Complete(idx, f.EndOfPacket)
		progressed = true
	}
	return progressed
}

func (c *Crossbar) IsIdle() bool {
	for _, in := range c.inputs {
		if !in.IsIdle() {
			return false
		}
	}
	return true
}

func (c *Crossbar) ReportStalls() []interfaces.StallReport {
	var reports []interfaces.StallReport
	for i, in := range c.inputs {
		if in.IsIdle() {
			continue
		}
		f, _ := in.Peek()
		reports = append(reports, interfaces.StallReport{
			Component: fmt.Sprintf("network.Crossbar(%s).input[%d]", c.name, i),
			Detail:    fmt.Sprintf("head op=%s dest=%s awaiting route %d", f.Op, f.Dest, c.route(f)),
		})
	}
	return reports
}
