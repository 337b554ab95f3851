package tilesim

import (
	"errors"
	"fmt"

	"github.com/tilesim/tilesim/internal/wire"
)

// SimErrorCode categorizes a SimError into one of the fatal classes named
// by §7: configuration errors, protocol violations, and external I/O
// errors. Operational warnings and flow-control stalls are not errors —
// they surface through logging.Logger.Warnf and StallReporter.ReportStalls
// respectively.
type SimErrorCode string

const (
	CodeConfig            SimErrorCode = "config"
	CodeProtocolViolation SimErrorCode = "protocol violation"
	CodeIOError           SimErrorCode = "io error"
)

// SimError is a structured simulation error carrying enough context to
// locate the failure without re-running the simulation: which operation,
// which tile/bank, which cycle.
type SimError struct {
	Op     string
	Tile   wire.TileID
	BankID int // -1 if not applicable
	Code   SimErrorCode
	Cycle  uint64
	Inner  error
}

func (e *SimError) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.BankID >= 0 {
		parts = append(parts, fmt.Sprintf("tile=%s bank=%d", e.Tile, e.BankID))
	}
	parts = append(parts, fmt.Sprintf("cycle=%d", e.Cycle))
	if e.Inner != nil {
		return fmt.Sprintf("tilesim: %s: %s (%s)", e.Code, e.Inner, joinParts(parts))
	}
	return fmt.Sprintf("tilesim: %s (%s)", e.Code, joinParts(parts))
}

func joinParts(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *SimError) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison by SimErrorCode alone, matching any
// SimError of the same code regardless of context.
func (e *SimError) Is(target error) bool {
	var te *SimError
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// NewSimError builds a SimError with no wrapped cause.
func NewSimError(op string, tile wire.TileID, bankID int, code SimErrorCode, cycle uint64) *SimError {
	return &SimError{Op: op, Tile: tile, BankID: bankID, Code: code, Cycle: cycle}
}

// WrapSimError wraps inner with simulation context. Returns nil if inner is
// nil, matching the teacher's WrapError convention.
func WrapSimError(op string, tile wire.TileID, bankID int, code SimErrorCode, cycle uint64, inner error) *SimError {
	if inner == nil {
		return nil
	}
	return &SimError{Op: op, Tile: tile, BankID: bankID, Code: code, Cycle: cycle, Inner: inner}
}

// IsCode reports whether err is a *SimError of the given code.
func IsCode(err error, code SimErrorCode) bool {
	var se *SimError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
