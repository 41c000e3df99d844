package order

import (
	"context"
	"fmt"
	"math"
	"time"

	"quantra/internal/circuit"
	"quantra/internal/exchange"
	"quantra/internal/logger"
	"quantra/internal/types"
)

// LiveExecutor submits orders through the circuit-breaker-wrapped exchange
// adapter and polls for the fill.
type LiveExecutor struct {
	adapter exchange.Adapter
	breaker *circuit.Breaker

	callTimeout  time.Duration
	pollInterval time.Duration
	fillTimeout  time.Duration
}

// LiveConfig bounds every exchange call made during a submission.
type LiveConfig struct {
	CallTimeout  time.Duration // per REST call
	PollInterval time.Duration // between order status polls
	FillTimeout  time.Duration // total wait for a fill before giving up
}

func (c LiveConfig) withDefaults() LiveConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.FillTimeout <= 0 {
		c.FillTimeout = 20 * time.Second
	}
	return c
}

// NewLiveExecutor wires the adapter behind the breaker.
func NewLiveExecutor(adapter exchange.Adapter, breaker *circuit.Breaker, cfg LiveConfig) *LiveExecutor {
	final := cfg.withDefaults()
	return &LiveExecutor{
		adapter:      adapter,
		breaker:      breaker,
		callTimeout:  final.CallTimeout,
		pollInterval: final.PollInterval,
		fillTimeout:  final.FillTimeout,
	}
}

func (e *LiveExecutor) Mode() string { return "live" }

func (e *LiveExecutor) Submit(ctx context.Context, ord *types.Order) (Fill, error) {
	if ord.Side.Opens() && ord.Leverage > 0 {
		if err := e.setLeverage(ctx, ord.Symbol, int(math.Round(ord.Leverage))); err != nil {
			return Fill{}, err
		}
	}

	req := exchange.OrderRequest{
		Symbol:       ord.Symbol,
		Side:         apiSide(ord.Side),
		PositionSide: string(ord.PositionSide),
		Type:         string(ord.Kind),
		Quantity:     ord.Quantity,
		ClientID:     ord.OrderID,
	}
	if ord.Kind == types.OrderLimit {
		req.Price = ord.RequestedPrice
	}

	var exchangeID string
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
		id, err := e.adapter.PlaceOrder(callCtx, req)
		exchangeID = id
		return err
	})
	if err != nil {
		return Fill{}, err
	}

	return e.awaitFill(ctx, ord.Symbol, exchangeID)
}

// awaitFill polls order status until the order fills, dies, or the fill
// timeout expires. A timeout is reported as transient so the breaker and
// the sync service treat the order as "maybe filled" and reconcile it.
func (e *LiveExecutor) awaitFill(ctx context.Context, symbol, exchangeID string) (Fill, error) {
	deadline := time.Now().Add(e.fillTimeout)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		var state exchange.OrderState
		err := e.breaker.Execute(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
			defer cancel()
			st, err := e.adapter.OrderStatus(callCtx, symbol, exchangeID)
			state = st
			return err
		})
		switch {
		case err != nil:
			if !exchange.IsTransient(err) {
				return Fill{}, err
			}
			// Transient status failure: keep polling until the deadline.
		case state.Filled():
			return Fill{
				ExecutedPrice:   state.AvgFillPrice,
				Commission:      state.Commission,
				ExchangeOrderID: exchangeID,
			}, nil
		case state.Closed():
			return Fill{}, fmt.Errorf("order %s on %s closed without fill (%s)", exchangeID, symbol, state.Status)
		}

		if time.Now().After(deadline) {
			e.cancelQuietly(symbol, exchangeID)
			return Fill{}, exchange.Transient("awaitFill",
				fmt.Errorf("no fill confirmation for order %s within %s", exchangeID, e.fillTimeout))
		}

		select {
		case <-ctx.Done():
			e.cancelQuietly(symbol, exchangeID)
			return Fill{}, exchange.Transient("awaitFill", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *LiveExecutor) setLeverage(ctx context.Context, symbol string, leverage int) error {
	return e.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
		return e.adapter.SetLeverage(callCtx, symbol, leverage)
	})
}

// cancelQuietly best-effort cancels an order whose fate is unknown. The
// cancel itself may race a fill; reconciliation resolves either outcome.
func (e *LiveExecutor) cancelQuietly(symbol, exchangeID string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	defer cancel()
	if err := e.adapter.CancelOrder(ctx, symbol, exchangeID); err != nil {
		logger.Warnf("live: cancel after timeout failed symbol=%s order=%s err=%v", symbol, exchangeID, err)
	}
}

func apiSide(side types.Side) string {
	switch side {
	case types.SideBuy, types.SideCover:
		return "BUY"
	default:
		return "SELL"
	}
}
