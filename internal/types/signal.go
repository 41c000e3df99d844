// Package types holds the domain model shared by the execution core:
// signals, orders, positions and sessions.
package types

import (
	"strings"

	symbolpkg "quantra/internal/pkg/symbol"
)

// SignalType identifies the intent of a strategy signal. Only the three
// values below are acted upon; anything else is discarded by the order
// manager.
type SignalType string

const (
	// SignalEntry opens a new position.
	SignalEntry SignalType = "S1"
	// SignalPlannedExit closes a position on plan (take profit, rotation).
	SignalPlannedExit SignalType = "ZE1"
	// SignalEmergencyExit closes a position immediately regardless of plan.
	SignalEmergencyExit SignalType = "E1"
)

// Recognized reports whether the signal type is one the order manager acts on.
func (t SignalType) Recognized() bool {
	switch t {
	case SignalEntry, SignalPlannedExit, SignalEmergencyExit:
		return true
	default:
		return false
	}
}

// Side is the direction requested by a signal.
type Side string

const (
	SideBuy   Side = "buy"
	SideSell  Side = "sell"
	SideShort Side = "short"
	SideCover Side = "cover"
)

// Valid reports whether the side is one of the four recognized values.
func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideShort, SideCover:
		return true
	default:
		return false
	}
}

// Opens reports whether the side opens exposure (entry) rather than
// reducing it (exit).
func (s Side) Opens() bool {
	return s == SideBuy || s == SideShort
}

// PositionSide returns the position side the order affects.
func (s Side) PositionSide() PositionSide {
	switch s {
	case SideShort, SideCover:
		return PositionShort
	default:
		return PositionLong
	}
}

// OrderKind distinguishes market from limit execution.
type OrderKind string

const (
	OrderMarket OrderKind = "MARKET"
	OrderLimit  OrderKind = "LIMIT"
)

// Signal is the immutable payload published by a strategy evaluator on the
// signal_generated topic.
type Signal struct {
	SignalType     SignalType `json:"signal_type"`
	Symbol         string     `json:"symbol"`
	Side           Side       `json:"side"`
	Quantity       float64    `json:"quantity"`
	Price          float64    `json:"price"`
	StrategyName   string     `json:"strategy_name"`
	Leverage       float64    `json:"leverage"`
	OrderKind      OrderKind  `json:"order_kind"`
	MaxSlippagePct float64    `json:"max_slippage_pct"`
}

// Normalize returns a copy with whitespace trimmed, the symbol in canonical
// form and defaults applied for leverage and order kind. The original signal
// is never mutated.
func (s Signal) Normalize() Signal {
	out := s
	out.Symbol = symbolpkg.Canonical(s.Symbol)
	out.Side = Side(strings.ToLower(strings.TrimSpace(string(s.Side))))
	out.OrderKind = OrderKind(strings.ToUpper(strings.TrimSpace(string(s.OrderKind))))
	if out.OrderKind == "" {
		out.OrderKind = OrderMarket
	}
	if out.Leverage <= 0 {
		out.Leverage = 1
	}
	if out.MaxSlippagePct < 0 {
		out.MaxSlippagePct = 0
	}
	return out
}

// Malformed returns a reason string when the signal is structurally unusable
// (missing symbol/side, non-positive quantity or price). An empty string
// means the signal is well formed.
func (s Signal) Malformed() string {
	switch {
	case strings.TrimSpace(s.Symbol) == "":
		return "missing symbol"
	case !s.Side.Valid():
		return "invalid side"
	case s.Quantity <= 0:
		return "non-positive quantity"
	case s.Price <= 0:
		return "non-positive price"
	default:
		return ""
	}
}
