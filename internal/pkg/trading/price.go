// Package trading provides the money math used by the execution core.
// Prices and sizes are combined through decimals so paper and live position
// tracking round identically.
package trading

import (
	"math"

	"github.com/shopspring/decimal"

	"quantra/internal/types"
)

var decOne = decimal.NewFromInt(1)

func decFromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func decToFloat(v decimal.Decimal) float64 {
	f, _ := v.Float64()
	return f
}

// LiquidationPrice computes the forced-close price for an entry at the given
// leverage: LONG liquidates at entry*(1-1/L), SHORT at entry*(1+1/L).
func LiquidationPrice(entry, leverage float64, side types.PositionSide) float64 {
	if entry <= 0 || leverage <= 0 {
		return 0
	}
	e := decFromFloat(entry)
	inv := decOne.Div(decFromFloat(leverage))
	var factor decimal.Decimal
	if side == types.PositionShort {
		factor = decOne.Add(inv)
	} else {
		factor = decOne.Sub(inv)
	}
	return decToFloat(e.Mul(factor))
}

// ApplySlippage moves a requested price against the taker by slipPct percent:
// buys and covers pay more, sells and shorts receive less.
func ApplySlippage(price, slipPct float64, side types.Side) float64 {
	if price <= 0 || slipPct <= 0 {
		return price
	}
	p := decFromFloat(price)
	frac := decFromFloat(slipPct).Div(decimal.NewFromInt(100))
	switch side {
	case types.SideBuy, types.SideCover:
		return decToFloat(p.Mul(decOne.Add(frac)))
	default:
		return decToFloat(p.Mul(decOne.Sub(frac)))
	}
}

// WeightedEntry returns the volume-weighted average entry price after adding
// addQty at addPrice to an existing position of curQty at curPrice.
func WeightedEntry(curQty, curPrice, addQty, addPrice float64) float64 {
	if curQty <= 0 {
		return addPrice
	}
	if addQty <= 0 {
		return curPrice
	}
	cq := decFromFloat(curQty)
	aq := decFromFloat(addQty)
	total := cq.Add(aq)
	if total.IsZero() {
		return 0
	}
	notional := cq.Mul(decFromFloat(curPrice)).Add(aq.Mul(decFromFloat(addPrice)))
	return decToFloat(notional.Div(total))
}

// Margin returns the stake required for quantity at price under leverage.
func Margin(quantity, price, leverage float64) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	q := decFromFloat(quantity)
	p := decFromFloat(price)
	return decToFloat(q.Mul(p).Div(decFromFloat(leverage)))
}

// UnrealizedPnL values an open position against a mark price. Short
// positions profit when the mark is below entry.
func UnrealizedPnL(side types.PositionSide, amount, entry, mark float64) float64 {
	if amount <= 0 || entry <= 0 || mark <= 0 {
		return 0
	}
	diff := decFromFloat(mark).Sub(decFromFloat(entry))
	if side == types.PositionShort {
		diff = diff.Neg()
	}
	return decToFloat(diff.Mul(decFromFloat(amount)))
}
