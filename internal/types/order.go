package types

import "time"

// OrderStatus is the lifecycle state of an order owned by an order manager.
type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
	OrderFailed   OrderStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderRejected || s == OrderFailed
}

// Order is created by an order manager when it accepts a signal. It is owned
// exclusively by the manager that created it and transitions to a terminal
// status within the same submission call.
type Order struct {
	OrderID          string       `json:"order_id"`
	Symbol           string       `json:"symbol"`
	Side             Side         `json:"side"`
	PositionSide     PositionSide `json:"position_side"`
	Quantity         float64      `json:"quantity"`
	RequestedPrice   float64      `json:"requested_price"`
	ExecutedPrice    float64      `json:"executed_price"`
	Status           OrderStatus  `json:"status"`
	Kind             OrderKind    `json:"order_kind"`
	Leverage         float64      `json:"leverage"`
	LiquidationPrice float64      `json:"liquidation_price"`
	Commission       float64      `json:"commission"`
	StrategyName     string       `json:"strategy_name"`
	Signal           *Signal      `json:"strategy_signal,omitempty"`
	ExchangeOrderID  string       `json:"exchange_order_id,omitempty"`
	FailReason       string       `json:"fail_reason,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}
