package order

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"quantra/internal/bus"
	"quantra/internal/logger"
	"quantra/internal/pkg/trading"
	"quantra/internal/risk"
	"quantra/internal/schema"
	"quantra/internal/types"
)

// Config tunes the manager independent of the execution backend.
type Config struct {
	SubmitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	return c
}

// Manager consumes signal_generated events and drives each recognized
// signal through validate -> submit -> fill/fail. It owns the local
// position map; all reads snapshot it under the lock and iterate outside.
type Manager struct {
	cfg  Config
	bus  *bus.Bus
	risk *risk.Manager
	exec Executor

	mu        sync.Mutex
	positions map[types.PositionKey]*types.Position
	margins   map[types.PositionKey]float64

	seq uint64

	startMu sync.Mutex
	sub     *bus.Subscription
}

// NewManager builds a Manager around an execution backend.
func NewManager(b *bus.Bus, rm *risk.Manager, exec Executor, cfg Config) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		bus:       b,
		risk:      rm,
		exec:      exec,
		positions: make(map[types.PositionKey]*types.Position),
		margins:   make(map[types.PositionKey]float64),
	}
}

// Mode reports the execution backend in use.
func (m *Manager) Mode() string { return m.exec.Mode() }

// Start subscribes to signal_generated. Calling Start twice is a no-op.
func (m *Manager) Start() error {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.sub != nil {
		return nil
	}
	sub, err := m.bus.Subscribe(bus.TopicSignalGenerated, bus.HandlerFunc(m.handleSignal))
	if err != nil {
		return err
	}
	m.sub = sub
	logger.Infof("order: %s manager started", m.exec.Mode())
	return nil
}

// Stop unsubscribes from the bus. Safe to call repeatedly or without a
// prior Start.
func (m *Manager) Stop() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.sub == nil {
		return
	}
	m.bus.Unsubscribe(m.sub)
	m.sub = nil
	logger.Infof("order: %s manager stopped", m.exec.Mode())
}

// handleSignal is the bus entry point. It never returns an error for
// ordinary rejections; anything surfaced here would only be logged by the
// dispatcher anyway, and a bad signal must not look like a bus failure.
func (m *Manager) handleSignal(ctx context.Context, evt bus.Event) error {
	sig, ok := coerceSignal(evt.Payload)
	if !ok {
		logger.EventWarn("invalid_signal", "reason", "unsupported payload type", "payload", fmt.Sprintf("%T", evt.Payload))
		return nil
	}

	if _, err := m.SubmitSignal(ctx, sig); err != nil {
		return err
	}
	return nil
}

// SubmitSignal runs the full state machine for one signal and returns the
// terminal order, or nil when the signal was discarded. The only error
// returned is a programming-contract violation (nil manager state); runtime
// rejections and failures are reported through events and logs.
func (m *Manager) SubmitSignal(ctx context.Context, raw types.Signal) (*types.Order, error) {
	sig := raw.Normalize()

	if !sig.SignalType.Recognized() {
		logger.Debugf("order: ignoring signal type %q for %s", sig.SignalType, sig.Symbol)
		return nil, nil
	}

	if reason := sig.Malformed(); reason != "" {
		logger.EventWarn("invalid_signal",
			"reason", reason,
			"symbol", sig.Symbol,
			"signal_type", string(sig.SignalType),
			"strategy", sig.StrategyName,
		)
		return nil, nil
	}

	key := types.PositionKey{Symbol: sig.Symbol, Side: sig.Side.PositionSide()}
	if !sig.Side.Opens() && !m.hasPosition(key) {
		logger.EventWarn("invalid_signal",
			"reason", "no position to exit",
			"symbol", sig.Symbol,
			"position_side", string(key.Side),
		)
		return nil, nil
	}

	res, reason := m.risk.ValidateAndReserve(sig, m.openCount())
	if reason != "" {
		logger.Event("risk_rejected",
			"reason", reason,
			"symbol", sig.Symbol,
			"quantity", sig.Quantity,
			"strategy", sig.StrategyName,
		)
		m.publish(bus.TopicRiskAlert, types.RiskAlert{
			Severity:  types.AlertInfo,
			Kind:      "risk_rejected",
			Symbol:    sig.Symbol,
			Message:   reason,
			CreatedAt: time.Now(),
		})
		return nil, nil
	}

	ord := m.newOrder(sig)
	m.publish(bus.TopicOrderCreated, *ord)
	logger.Event("order_created",
		"order_id", ord.OrderID,
		"symbol", ord.Symbol,
		"side", string(ord.Side),
		"quantity", ord.Quantity,
		"kind", string(ord.Kind),
	)

	submitCtx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
	fill, err := m.exec.Submit(submitCtx, ord)
	cancel()
	if err != nil {
		m.risk.Release(res)
		ord.Status = types.OrderFailed
		ord.FailReason = err.Error()
		ord.UpdatedAt = time.Now()
		logger.EventError("order_failed",
			"order_id", ord.OrderID,
			"symbol", ord.Symbol,
			"error", err.Error(),
		)
		m.publish(bus.TopicOrderFailed, *ord)
		return ord, nil
	}

	m.risk.Commit(res)
	ord.Status = types.OrderFilled
	ord.ExecutedPrice = fill.ExecutedPrice
	ord.Commission = fill.Commission
	ord.ExchangeOrderID = fill.ExchangeOrderID
	ord.LiquidationPrice = trading.LiquidationPrice(fill.ExecutedPrice, ord.Leverage, ord.PositionSide)
	ord.UpdatedAt = time.Now()

	fillEvt := m.applyFill(ord, res.Amount())

	logger.Event("order_filled",
		"order_id", ord.OrderID,
		"symbol", ord.Symbol,
		"executed_price", ord.ExecutedPrice,
		"liquidation_price", ord.LiquidationPrice,
		"realized_pnl", fillEvt.RealizedPnL,
	)
	m.publish(bus.TopicOrderFilled, fillEvt)
	if fillEvt.Position != nil {
		m.publish(bus.TopicPositionUpdated, *fillEvt.Position)
	}
	return ord, nil
}

func (m *Manager) newOrder(sig types.Signal) *types.Order {
	seq := atomic.AddUint64(&m.seq, 1)
	now := time.Now()
	sigCopy := sig
	return &types.Order{
		OrderID:        fmt.Sprintf("%s-%06d", m.exec.Mode(), seq),
		Symbol:         sig.Symbol,
		Side:           sig.Side,
		PositionSide:   sig.Side.PositionSide(),
		Quantity:       sig.Quantity,
		RequestedPrice: sig.Price,
		Status:         types.OrderPending,
		Kind:           sig.OrderKind,
		Leverage:       sig.Leverage,
		StrategyName:   sig.StrategyName,
		Signal:         &sigCopy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// applyFill folds a filled order into the position map inside one critical
// section, so a concurrent reader can never observe a half-applied fill.
func (m *Manager) applyFill(ord *types.Order, margin float64) types.FillEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := types.PositionKey{Symbol: ord.Symbol, Side: ord.PositionSide}
	now := time.Now()
	evt := types.FillEvent{Order: *ord}

	if ord.Side.Opens() {
		pos, exists := m.positions[key]
		if !exists {
			pos = &types.Position{
				Symbol:   ord.Symbol,
				Side:     ord.PositionSide,
				OpenedAt: now,
			}
			m.positions[key] = pos
		}
		pos.EntryPrice = trading.WeightedEntry(pos.Amount, pos.EntryPrice, ord.Quantity, ord.ExecutedPrice)
		pos.Amount += ord.Quantity
		pos.Leverage = ord.Leverage
		pos.LiquidationPrice = trading.LiquidationPrice(pos.EntryPrice, pos.Leverage, pos.Side)
		pos.UpdatedAt = now
		m.margins[key] += margin

		cp := *pos
		evt.Position = &cp
		return evt
	}

	pos := m.positions[key]
	if pos == nil {
		// The position vanished between validation and fill (sync removed
		// it). The fill stands; there is just nothing left to reduce.
		evt.Closed = true
		return evt
	}

	closeQty := ord.Quantity
	if closeQty > pos.Amount {
		closeQty = pos.Amount
	}
	pnl := trading.UnrealizedPnL(pos.Side, closeQty, pos.EntryPrice, ord.ExecutedPrice)
	evt.RealizedPnL = pnl - ord.Commission

	freedMargin := 0.0
	if pos.Amount > 0 {
		freedMargin = m.margins[key] * closeQty / pos.Amount
	}
	pos.Amount -= closeQty
	pos.UpdatedAt = now
	m.margins[key] -= freedMargin

	if pos.Amount <= 1e-9 {
		delete(m.positions, key)
		delete(m.margins, key)
		evt.Closed = true
	} else {
		cp := *pos
		evt.Position = &cp
	}

	m.risk.FreeCommitted(freedMargin, evt.RealizedPnL)
	return evt
}

// Positions returns a copy of the local position map.
func (m *Manager) Positions() []types.Position {
	m.mu.Lock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	m.mu.Unlock()
	return out
}

// SetPosition upserts a position from reconciliation; the exchange copy is
// authoritative, so this overwrites local tracking wholesale.
func (m *Manager) SetPosition(p types.Position) {
	m.mu.Lock()
	cp := p
	m.positions[p.Key()] = &cp
	m.mu.Unlock()
}

// RemoveForLiquidation drops a position that no longer exists on the
// exchange and writes off its margin as realized loss.
func (m *Manager) RemoveForLiquidation(key types.PositionKey) (types.Position, bool) {
	m.mu.Lock()
	pos, ok := m.positions[key]
	if !ok {
		m.mu.Unlock()
		return types.Position{}, false
	}
	removed := *pos
	margin := m.margins[key]
	delete(m.positions, key)
	delete(m.margins, key)
	m.mu.Unlock()

	m.risk.FreeCommitted(margin, -margin)
	return removed, true
}

func (m *Manager) hasPosition(key types.PositionKey) bool {
	m.mu.Lock()
	_, ok := m.positions[key]
	m.mu.Unlock()
	return ok
}

func (m *Manager) openCount() int {
	m.mu.Lock()
	n := len(m.positions)
	m.mu.Unlock()
	return n
}

func (m *Manager) publish(topic bus.Topic, payload any) {
	if err := m.bus.Publish(topic, payload); err != nil {
		logger.Warnf("order: publish %s failed: %v", topic, err)
	}
}

// coerceSignal accepts the payload shapes producers use: a typed Signal, a
// pointer to one, or raw JSON that must pass schema validation first.
func coerceSignal(payload any) (types.Signal, bool) {
	switch v := payload.(type) {
	case types.Signal:
		return v, true
	case *types.Signal:
		if v == nil {
			return types.Signal{}, false
		}
		return *v, true
	case []byte:
		sig, err := schema.ParseSignal(v)
		if err != nil {
			logger.EventWarn("invalid_signal", "reason", err.Error())
			return types.Signal{}, false
		}
		return *sig, true
	default:
		return types.Signal{}, false
	}
}
