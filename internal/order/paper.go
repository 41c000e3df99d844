package order

import (
	"context"
	"math/rand"
	"sync"

	"quantra/internal/pkg/trading"
	"quantra/internal/types"
)

// DefaultCommissionRate mirrors the Binance futures taker fee.
const DefaultCommissionRate = 0.0004

// PaperExecutor simulates fills in memory. MARKET orders move against the
// taker by a random slippage within [0, max_slippage_pct]; LIMIT orders fill
// at exactly the requested price.
type PaperExecutor struct {
	mu             sync.Mutex
	rng            *rand.Rand
	commissionRate float64
	defaultMaxSlip float64
}

// NewPaperExecutor seeds the slippage source. A fixed seed gives
// reproducible simulations.
func NewPaperExecutor(seed int64, commissionRate float64) *PaperExecutor {
	if commissionRate < 0 {
		commissionRate = DefaultCommissionRate
	}
	return &PaperExecutor{
		rng:            rand.New(rand.NewSource(seed)),
		commissionRate: commissionRate,
	}
}

// SetDefaultMaxSlippage bounds MARKET slippage for signals that carry no
// max_slippage_pct of their own.
func (e *PaperExecutor) SetDefaultMaxSlippage(pct float64) {
	if pct > 0 {
		e.defaultMaxSlip = pct
	}
}

func (e *PaperExecutor) Mode() string { return "paper" }

func (e *PaperExecutor) Submit(_ context.Context, ord *types.Order) (Fill, error) {
	executed := ord.RequestedPrice
	if ord.Kind == types.OrderMarket {
		maxSlip := e.defaultMaxSlip
		if ord.Signal != nil && ord.Signal.MaxSlippagePct > 0 {
			maxSlip = ord.Signal.MaxSlippagePct
		}
		if maxSlip > 0 {
			e.mu.Lock()
			slip := e.rng.Float64() * maxSlip
			e.mu.Unlock()
			executed = trading.ApplySlippage(ord.RequestedPrice, slip, ord.Side)
		}
	}

	commission := ord.Quantity * executed * e.commissionRate
	return Fill{ExecutedPrice: executed, Commission: commission}, nil
}
