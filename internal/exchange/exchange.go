// Package exchange defines the adapter abstraction for futures exchanges.
// The execution core only ever talks to an Adapter through the circuit
// breaker, so a backend can be swapped (Binance, a test double, a replay
// source) without touching order or sync logic.
package exchange

import (
	"context"
	"time"
)

// Adapter is the surface the order manager and position sync service consume.
// Every call must honor the context deadline; a timed-out call is treated as
// a transient failure by the circuit breaker.
type Adapter interface {
	Name() string

	// PlaceOrder submits an order and returns the exchange-assigned order id.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)

	// OrderStatus reports the current state of a previously placed order.
	OrderStatus(ctx context.Context, symbol, orderID string) (OrderState, error)

	// Positions returns the exchange's authoritative open position list.
	Positions(ctx context.Context) ([]PositionSnapshot, error)

	// CancelOrder cancels an open order. Cancelling an already closed order
	// returns a validation error.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// SetLeverage configures leverage for a symbol before order placement.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// OrderRequest carries the parameters for PlaceOrder.
type OrderRequest struct {
	Symbol       string
	Side         string // "BUY" or "SELL"
	PositionSide string // "LONG" or "SHORT"
	Type         string // "MARKET" or "LIMIT"
	Quantity     float64
	Price        float64 // limit price, 0 for market
	ReduceOnly   bool
	ClientID     string
}

// OrderState is the exchange-reported view of an order.
type OrderState struct {
	OrderID      string
	Status       string // NEW, PARTIALLY_FILLED, FILLED, CANCELED, REJECTED, EXPIRED
	ExecutedQty  float64
	AvgFillPrice float64
	Commission   float64
	UpdatedAt    time.Time
}

// Filled reports whether the order completed fully.
func (s OrderState) Filled() bool { return s.Status == "FILLED" }

// Closed reports whether the order reached a terminal state without filling.
func (s OrderState) Closed() bool {
	switch s.Status {
	case "CANCELED", "REJECTED", "EXPIRED":
		return true
	default:
		return false
	}
}

// PositionSnapshot is one row of the exchange's position list.
type PositionSnapshot struct {
	Symbol           string
	Side             string // "LONG" or "SHORT"
	Amount           float64
	EntryPrice       float64
	UnrealizedPnL    float64
	Leverage         float64
	LiquidationPrice float64
	MarkPrice        float64
}
