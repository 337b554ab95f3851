package network

import (
	"fmt"

	"github.com/tilesim/tilesim/internal/flowctl"
	"github.com/tilesim/tilesim/internal/interfaces"
	"github.com/tilesim/tilesim/internal/wire"
)

// MulticastBus fans one input out to many outputs selected by a flit's
// CoreMask, holding its ready signal low until every targeted output has
// consumed the flit (ack-join, §4.3). Each output buffer must be written
// only by this bus — MulticastBus relies on the buffer's OnDataConsumed
// hook to detect the join, which only works under the single-writer
// invariant (§3).
type MulticastBus struct {
	name        string
	input       *flowctl.Buffer
	outputs     []*flowctl.Buffer
	outstanding int
	inFlight    wire.Flit
}

// NewMulticastBus builds a bus from input to the given per-core outputs.
func NewMulticastBus(name string, input *flowctl.Buffer, outputs []*flowctl.Buffer) *MulticastBus {
	m := &MulticastBus{name: name, input: input, outputs: outputs}
	for _, out := range outputs {
		out.OnDataConsumed = m.ack
	}
	return m
}

func (m *MulticastBus) ack() {
	if m.outstanding > 0 {
		m.outstanding--
	}
}

// Tick moves the head-of-line flit to every target named by its CoreMask,
// once all targets have room; it makes no progress while a prior fan-out's
// acks are still outstanding.
func (m *MulticastBus) Tick() bool {
	if m.outstanding > 0 {
		return false
	}
	f, ok := m.input.Peek()
	if !ok {
		return false
	}
	targets := f.Dest.CoreIndices()
	for _, t := range targets {
		if t < 0 || t >= len(m.outputs) || !m.outputs[t].CanWrite() {
			return false
		}
	}
	m.input.Read()
	m.inFlight = f
	for _, t := range targets {
		m.outputs[t].Write(f)
		m.outstanding++
	}
	return true
}

func (m *MulticastBus) IsIdle() bool { return m.outstanding == 0 && m.input.IsIdle() }

func (m *MulticastBus) ReportStalls() []interfaces.StallReport {
	if m.outstanding == 0 {
		return nil
	}
	return []interfaces.StallReport{{
		Component: fmt.Sprintf("network.MulticastBus(%s)", m.name),
		Detail:    fmt.Sprintf("%d acks outstanding for op=%s dest=%s", m.outstanding, m.inFlight.Op, m.inFlight.Dest),
	}}
}
