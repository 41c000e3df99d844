package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantra/internal/bus"
	"quantra/internal/risk"
	"quantra/internal/types"
)

type collector struct {
	mu     sync.Mutex
	events []bus.Event
}

func (c *collector) Handle(_ context.Context, evt bus.Event) error {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
	return nil
}

func (c *collector) snapshot() []bus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bus.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collector) waitFor(t *testing.T, topic bus.Topic) bus.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, evt := range c.snapshot() {
			if evt.Topic == topic {
				return evt
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no event on topic %s", topic)
	return bus.Event{}
}

func newPaperManager(t *testing.T, budget float64) (*Manager, *bus.Bus, *risk.Manager, *collector) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)
	rm := risk.NewManager(risk.Limits{}, budget)
	m := NewManager(b, rm, NewPaperExecutor(42, DefaultCommissionRate), Config{})

	col := &collector{}
	for _, topic := range []bus.Topic{
		bus.TopicOrderCreated, bus.TopicOrderFilled, bus.TopicOrderFailed,
		bus.TopicPositionUpdated, bus.TopicRiskAlert,
	} {
		_, err := b.Subscribe(topic, col)
		require.NoError(t, err)
	}
	return m, b, rm, col
}

func shortSignal() types.Signal {
	return types.Signal{
		SignalType:     types.SignalEntry,
		Symbol:         "BTC_USDT",
		Side:           types.SideShort,
		Quantity:       0.1,
		Price:          50000,
		StrategyName:   "breakout",
		Leverage:       3,
		OrderKind:      types.OrderLimit,
		MaxSlippagePct: 1,
	}
}

func TestShortEntryLiquidationPrice(t *testing.T) {
	m, _, _, col := newPaperManager(t, 100000)

	ord, err := m.SubmitSignal(context.Background(), shortSignal())
	require.NoError(t, err)
	require.NotNil(t, ord)

	assert.Equal(t, types.OrderFilled, ord.Status)
	assert.Equal(t, 50000.0, ord.ExecutedPrice, "limit order fills at the requested price")
	assert.InDelta(t, 66666.67, ord.LiquidationPrice, 0.01)
	assert.Equal(t, types.PositionShort, ord.PositionSide)

	evt := col.waitFor(t, bus.TopicOrderFilled)
	fill, ok := evt.Payload.(types.FillEvent)
	require.True(t, ok)
	require.NotNil(t, fill.Position)
	assert.InDelta(t, 0.1, fill.Position.Amount, 1e-9)
	assert.InDelta(t, 66666.67, fill.Position.LiquidationPrice, 0.01)
}

func TestUnrecognizedSignalTypeIsDiscarded(t *testing.T) {
	m, _, rm, col := newPaperManager(t, 1000)

	sig := shortSignal()
	sig.SignalType = "O1"

	ord, err := m.SubmitSignal(context.Background(), sig)
	require.NoError(t, err)
	assert.Nil(t, ord)
	assert.InDelta(t, 1000, rm.Available(), 1e-9, "no budget reserved")

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, col.snapshot(), "no event published")
	assert.Empty(t, m.Positions())
}

func TestMalformedSignalIsDiscardedNotRaised(t *testing.T) {
	m, _, _, col := newPaperManager(t, 1000)

	cases := []types.Signal{
		{SignalType: types.SignalEntry, Side: types.SideBuy, Quantity: 1, Price: 1},               // no symbol
		{SignalType: types.SignalEntry, Symbol: "BTC_USDT", Side: "hold", Quantity: 1, Price: 1},  // bad side
		{SignalType: types.SignalEntry, Symbol: "BTC_USDT", Side: types.SideBuy, Price: 1},        // no quantity
		{SignalType: types.SignalEntry, Symbol: "BTC_USDT", Side: types.SideBuy, Quantity: 1},     // no price
	}
	for _, sig := range cases {
		ord, err := m.SubmitSignal(context.Background(), sig)
		require.NoError(t, err)
		assert.Nil(t, ord)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, col.snapshot())
}

func TestMarketSlippageStaysWithinBound(t *testing.T) {
	m, _, _, _ := newPaperManager(t, 1e9)

	for i := 0; i < 50; i++ {
		sig := shortSignal()
		sig.Side = types.SideBuy
		sig.OrderKind = types.OrderMarket
		sig.MaxSlippagePct = 2

		ord, err := m.SubmitSignal(context.Background(), sig)
		require.NoError(t, err)
		require.NotNil(t, ord)
		require.Equal(t, types.OrderFilled, ord.Status)

		assert.GreaterOrEqual(t, ord.ExecutedPrice, 50000.0)
		assert.LessOrEqual(t, ord.ExecutedPrice, 50000.0*1.02)
	}
}

func TestExitClosesPositionAndFreesBudget(t *testing.T) {
	m, _, rm, col := newPaperManager(t, 10000)

	entry := shortSignal()
	entry.Side = types.SideBuy
	entry.Leverage = 5
	_, err := m.SubmitSignal(context.Background(), entry)
	require.NoError(t, err)
	require.Len(t, m.Positions(), 1)
	assert.InDelta(t, 9000, rm.Available(), 1e-6, "0.1*50000/5 margin committed")

	exit := entry
	exit.SignalType = types.SignalPlannedExit
	exit.Side = types.SideSell
	exit.Price = 51000
	ord, err := m.SubmitSignal(context.Background(), exit)
	require.NoError(t, err)
	require.Equal(t, types.OrderFilled, ord.Status)

	assert.Empty(t, m.Positions(), "position removed at zero quantity")

	evts := col.snapshot()
	var closedFill *types.FillEvent
	for _, evt := range evts {
		if evt.Topic == bus.TopicOrderFilled {
			if fe, ok := evt.Payload.(types.FillEvent); ok && fe.Closed {
				closedFill = &fe
			}
		}
	}
	require.NotNil(t, closedFill)
	// (51000-50000)*0.1 gross, minus both commissions on the exit leg.
	assert.InDelta(t, 100-ord.Commission, closedFill.RealizedPnL, 1e-6)

	total, reserved, committed := rm.Snapshot()
	assert.Zero(t, reserved)
	assert.Zero(t, committed)
	assert.Greater(t, total, 10000.0, "profit realized into the budget")
}

func TestExitWithoutPositionIsDiscarded(t *testing.T) {
	m, _, _, col := newPaperManager(t, 1000)

	sig := shortSignal()
	sig.SignalType = types.SignalEmergencyExit
	sig.Side = types.SideCover

	ord, err := m.SubmitSignal(context.Background(), sig)
	require.NoError(t, err)
	assert.Nil(t, ord)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, col.snapshot())
}

func TestRiskRejectionPublishesAlert(t *testing.T) {
	m, _, rm, col := newPaperManager(t, 100)

	sig := shortSignal() // needs 0.1*50000/3 ≈ 1667 margin against 100 budget
	ord, err := m.SubmitSignal(context.Background(), sig)
	require.NoError(t, err)
	assert.Nil(t, ord)

	evt := col.waitFor(t, bus.TopicRiskAlert)
	alert, ok := evt.Payload.(types.RiskAlert)
	require.True(t, ok)
	assert.Equal(t, types.AlertInfo, alert.Severity)
	assert.Equal(t, risk.ReasonInsufficientFunds, alert.Message)
	assert.InDelta(t, 100, rm.Available(), 1e-9)
}

type failingExecutor struct{ calls int }

func (e *failingExecutor) Mode() string { return "paper" }

func (e *failingExecutor) Submit(context.Context, *types.Order) (Fill, error) {
	e.calls++
	return Fill{}, fmt.Errorf("exchange unavailable")
}

func TestSubmitFailureReleasesReservation(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)
	rm := risk.NewManager(risk.Limits{}, 10000)
	exec := &failingExecutor{}
	m := NewManager(b, rm, exec, Config{})

	col := &collector{}
	_, err := b.Subscribe(bus.TopicOrderFailed, col)
	require.NoError(t, err)

	sig := shortSignal()
	ord, err := m.SubmitSignal(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, ord)

	assert.Equal(t, types.OrderFailed, ord.Status)
	assert.Equal(t, 1, exec.calls)
	assert.InDelta(t, 10000, rm.Available(), 1e-9, "reservation released on failure")
	assert.Empty(t, m.Positions(), "no partial position state")

	evt := col.waitFor(t, bus.TopicOrderFailed)
	failed, ok := evt.Payload.(types.Order)
	require.True(t, ok)
	assert.Equal(t, types.OrderFailed, failed.Status)
	assert.NotEmpty(t, failed.FailReason)
}

func TestStartStopIdempotent(t *testing.T) {
	m, b, _, col := newPaperManager(t, 100000)

	require.NoError(t, m.Start())
	require.NoError(t, m.Start())

	require.NoError(t, b.Publish(bus.TopicSignalGenerated, shortSignal()))
	col.waitFor(t, bus.TopicOrderFilled)
	assert.Len(t, m.Positions(), 1, "double Start must not double-handle signals")

	before := m.Positions()[0].Amount

	m.Stop()
	m.Stop()

	require.NoError(t, b.Publish(bus.TopicSignalGenerated, shortSignal()))
	time.Sleep(50 * time.Millisecond)
	require.Len(t, m.Positions(), 1)
	assert.Equal(t, before, m.Positions()[0].Amount, "stopped manager ignores signals")
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	m, _, _, _ := newPaperManager(t, 1000)
	m.Stop()
	m.Stop()
}

func TestOrderIDsAreMonotonic(t *testing.T) {
	m, _, _, _ := newPaperManager(t, 1e9)

	var prev string
	for i := 0; i < 5; i++ {
		ord, err := m.SubmitSignal(context.Background(), shortSignal())
		require.NoError(t, err)
		require.NotNil(t, ord)
		if prev != "" {
			assert.Greater(t, ord.OrderID, prev)
		}
		prev = ord.OrderID
	}
}

func TestRawJSONSignalViaBus(t *testing.T) {
	m, b, _, col := newPaperManager(t, 1e9)
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	raw := []byte(`{"signal_type":"S1","symbol":"eth_usdt","side":"buy","quantity":1,"price":3000,"order_kind":"LIMIT","leverage":2}`)
	require.NoError(t, b.Publish(bus.TopicSignalGenerated, raw))

	evt := col.waitFor(t, bus.TopicOrderFilled)
	fill, ok := evt.Payload.(types.FillEvent)
	require.True(t, ok)
	assert.Equal(t, "ETH_USDT", fill.Order.Symbol)
	assert.Equal(t, 3000.0, fill.Order.ExecutedPrice)
}
