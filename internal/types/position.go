package types

import (
	"fmt"
	"time"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// PositionKey uniquely identifies a position aggregate.
type PositionKey struct {
	Symbol string
	Side   PositionSide
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%s", k.Symbol, k.Side)
}

// Position is the per (symbol, side) aggregate maintained by the order
// manager. The local copy is authoritative for the trading loop but is
// periodically reconciled against the exchange, which wins on divergence.
type Position struct {
	Symbol           string       `json:"symbol"`
	Side             PositionSide `json:"position_side"`
	Amount           float64      `json:"position_amount"`
	EntryPrice       float64      `json:"entry_price"`
	UnrealizedPnL    float64      `json:"unrealized_pnl"`
	Leverage         float64      `json:"leverage"`
	LiquidationPrice float64      `json:"liquidation_price"`
	OpenedAt         time.Time    `json:"opened_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Key returns the map key for this position.
func (p Position) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, Side: p.Side}
}

// AlertSeverity grades risk_alert events.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "INFO"
	AlertWarning  AlertSeverity = "WARNING"
	AlertCritical AlertSeverity = "CRITICAL"
)

// RiskAlert is published on the risk_alert topic when the core detects a
// condition the user-facing layer must see (liquidation, drift, breaker trip).
type RiskAlert struct {
	Severity  AlertSeverity  `json:"severity"`
	Kind      string         `json:"kind"`
	Symbol    string         `json:"symbol,omitempty"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
