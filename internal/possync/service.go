// Package possync reconciles the locally tracked position map against the
// exchange's authoritative position list. The exchange wins every
// disagreement; the interesting part is how each kind of divergence is
// reported.
package possync

import (
	"context"
	"fmt"
	"math"
	"time"

	"quantra/internal/bus"
	"quantra/internal/circuit"
	"quantra/internal/exchange"
	"quantra/internal/logger"
	"quantra/internal/metrics"
	symbolpkg "quantra/internal/pkg/symbol"
	"quantra/internal/types"
)

const amountTolerance = 1e-8

// PositionBook is the mutable local position state owned by the order
// manager.
type PositionBook interface {
	Positions() []types.Position
	SetPosition(types.Position)
	RemoveForLiquidation(key types.PositionKey) (types.Position, bool)
}

// SyncResult summarizes one reconciliation pass.
type SyncResult struct {
	Added   int // positions found on the exchange but not locally
	Removed int // local positions gone from the exchange (liquidations)
	Updated int // positions whose size or entry drifted
}

// Config tunes the sync loop.
type Config struct {
	Interval    time.Duration
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	return c
}

// Service periodically fetches exchange positions through the circuit
// breaker and folds the differences back into the local book.
type Service struct {
	cfg     Config
	adapter exchange.Adapter
	breaker *circuit.Breaker
	book    PositionBook
	bus     *bus.Bus
}

// NewService wires the reconciler.
func NewService(adapter exchange.Adapter, breaker *circuit.Breaker, book PositionBook, b *bus.Bus, cfg Config) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		adapter: adapter,
		breaker: breaker,
		book:    book,
		bus:     b,
	}
}

// Run drives Sync on the configured interval until the context is canceled.
// A failed cycle is logged and retried on the next tick; it never stops the
// loop.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	logger.Infof("possync: started interval=%s", s.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("possync: stopped")
			return
		case <-ticker.C:
			start := time.Now()
			res, err := s.Sync(ctx)
			metrics.ObserveSync(start)
			if err != nil {
				logger.EventWarn("sync_failed", "error", err.Error())
			} else if res.Added+res.Removed+res.Updated > 0 {
				logger.Event("sync_completed",
					"added", res.Added,
					"removed", res.Removed,
					"updated", res.Updated,
				)
			}
		}
	}
}

// Sync performs one reconciliation pass. When the exchange cannot be
// reached the local book is left untouched and the error distinguishes the
// failure from an empty position list.
func (s *Service) Sync(ctx context.Context) (SyncResult, error) {
	var snaps []exchange.PositionSnapshot
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		got, err := s.adapter.Positions(callCtx)
		snaps = got
		return err
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("possync: exchange unreachable: %w", err)
	}

	remote := make(map[types.PositionKey]exchange.PositionSnapshot, len(snaps))
	for _, snap := range snaps {
		key := types.PositionKey{
			Symbol: symbolpkg.Canonical(snap.Symbol),
			Side:   types.PositionSide(snap.Side),
		}
		remote[key] = snap
	}

	var res SyncResult
	for _, local := range s.book.Positions() {
		key := local.Key()
		snap, exists := remote[key]
		if !exists {
			s.handleLiquidation(key, local)
			res.Removed++
			continue
		}
		delete(remote, key)
		if positionsMatch(local, snap) {
			continue
		}
		updated := snapshotToPosition(key, snap)
		updated.OpenedAt = local.OpenedAt
		s.book.SetPosition(updated)
		res.Updated++
		logger.Event("position_drift",
			"symbol", key.Symbol,
			"side", string(key.Side),
			"local_amount", local.Amount,
			"exchange_amount", snap.Amount,
			"local_entry", local.EntryPrice,
			"exchange_entry", snap.EntryPrice,
		)
		s.publish(bus.TopicPositionUpdated, updated)
	}

	// Whatever remains was opened out-of-band (manual trade); adopt it.
	for key, snap := range remote {
		adopted := snapshotToPosition(key, snap)
		s.book.SetPosition(adopted)
		res.Added++
		logger.Event("position_adopted",
			"symbol", key.Symbol,
			"side", string(key.Side),
			"amount", snap.Amount,
		)
		s.publish(bus.TopicPositionUpdated, adopted)
	}

	return res, nil
}

// handleLiquidation removes a position the exchange no longer reports and
// raises a CRITICAL alert: silently absorbing a liquidation would hide a
// money-relevant event.
func (s *Service) handleLiquidation(key types.PositionKey, local types.Position) {
	removed, ok := s.book.RemoveForLiquidation(key)
	if !ok {
		return
	}
	logger.EventError("position_liquidated",
		"symbol", key.Symbol,
		"side", string(key.Side),
		"amount", removed.Amount,
		"entry_price", removed.EntryPrice,
		"liquidation_price", removed.LiquidationPrice,
	)
	s.publish(bus.TopicRiskAlert, types.RiskAlert{
		Severity: types.AlertCritical,
		Kind:     "liquidation",
		Symbol:   key.Symbol,
		Message:  fmt.Sprintf("position %s no longer exists on the exchange; assuming liquidation", key),
		Context: map[string]any{
			"amount":            removed.Amount,
			"entry_price":       removed.EntryPrice,
			"liquidation_price": removed.LiquidationPrice,
			"leverage":          removed.Leverage,
		},
		CreatedAt: time.Now(),
	})
}

func (s *Service) publish(topic bus.Topic, payload any) {
	if err := s.bus.Publish(topic, payload); err != nil {
		logger.Warnf("possync: publish %s failed: %v", topic, err)
	}
}

func positionsMatch(local types.Position, snap exchange.PositionSnapshot) bool {
	if math.Abs(local.Amount-snap.Amount) > amountTolerance {
		return false
	}
	if snap.EntryPrice > 0 && math.Abs(local.EntryPrice-snap.EntryPrice) > amountTolerance {
		return false
	}
	return true
}

func snapshotToPosition(key types.PositionKey, snap exchange.PositionSnapshot) types.Position {
	now := time.Now()
	return types.Position{
		Symbol:           key.Symbol,
		Side:             key.Side,
		Amount:           snap.Amount,
		EntryPrice:       snap.EntryPrice,
		UnrealizedPnL:    snap.UnrealizedPnL,
		Leverage:         snap.Leverage,
		LiquidationPrice: snap.LiquidationPrice,
		OpenedAt:         now,
		UpdatedAt:        now,
	}
}
