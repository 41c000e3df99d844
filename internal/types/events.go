package types

// FillEvent is the payload published on order_filled. Position is a copy of
// the aggregate after the fill was applied, or nil when the fill closed it.
type FillEvent struct {
	Order       Order     `json:"order"`
	Position    *Position `json:"position,omitempty"`
	RealizedPnL float64   `json:"realized_pnl"`
	Closed      bool      `json:"closed"`
}
