// Package app assembles and runs the execution core.
package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"quantra/internal/bus"
	"quantra/internal/circuit"
	"quantra/internal/config"
	"quantra/internal/logger"
	"quantra/internal/notifier"
	"quantra/internal/order"
	"quantra/internal/possync"
	"quantra/internal/risk"
	"quantra/internal/session"
	"quantra/internal/store/gormstore"
	"quantra/internal/store/journal"
)

// App owns the wired components and their lifecycle.
type App struct {
	cfg     *config.Config
	bus     *bus.Bus
	store   *gormstore.Store
	journal *journal.Store
	risk    *risk.Manager
	breaker *circuit.Breaker
	orders  *order.Manager
	tracker *session.Tracker
	sync    *possync.Service     // nil in paper mode
	relay   *notifier.AlertRelay // nil unless telegram is enabled
}

// NewApp builds the application object from config without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.Log.Level)
	return buildAppWithWire(cfg)
}

// EnableHotReload watches the config file and applies risk limit changes to
// the running risk manager. Other sections require a restart.
func (a *App) EnableHotReload(path string) error {
	return config.Watch(path, func(cfg *config.Config) {
		a.risk.SetLimits(risk.Limits{
			MaxPositionRatio: cfg.Risk.MaxPositionRatio,
			MaxOpenPositions: cfg.Risk.MaxOpenPositions,
			MaxLeverage:      cfg.Risk.MaxLeverage,
			DailyLossLimit:   cfg.Risk.DailyLossLimit,
		})
		logger.Event("risk_limits_reloaded",
			"max_position_ratio", cfg.Risk.MaxPositionRatio,
			"max_open_positions", cfg.Risk.MaxOpenPositions,
			"daily_loss_limit", cfg.Risk.DailyLossLimit,
		)
	})
}

// Run starts every component and blocks until the context is cancelled or a
// component fails. Shutdown is ordered: stop consuming signals first, then
// flush the session, then tear down the fabric and stores.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	// In live mode reconcile against the exchange before accepting signals
	// so a crash-restart picks up positions opened in a previous run.
	if a.sync != nil {
		if res, err := a.sync.Sync(ctx); err != nil {
			logger.Warnf("startup reconciliation failed, continuing: %v", err)
		} else {
			logger.Event("startup_hydration",
				"adopted", res.Added,
				"removed", res.Removed,
				"updated", res.Updated,
			)
		}
	}

	if err := a.orders.Start(); err != nil {
		return fmt.Errorf("start order manager: %w", err)
	}
	if err := a.tracker.Start(ctx); err != nil {
		a.orders.Stop()
		return fmt.Errorf("start session: %w", err)
	}

	logger.Event("app_started",
		"mode", a.cfg.Engine.Mode,
		"symbols", a.cfg.Engine.Symbols,
		"initial_balance", a.cfg.Engine.InitialBalance,
	)

	group, runCtx := errgroup.WithContext(ctx)
	if a.sync != nil {
		group.Go(func() error {
			a.sync.Run(runCtx)
			return nil
		})
	}
	group.Go(func() error {
		<-runCtx.Done()
		return runCtx.Err()
	})

	err := group.Wait()
	a.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) shutdown() {
	a.orders.Stop()
	if err := a.tracker.Stop(context.Background()); err != nil {
		logger.Errorf("session stop: %v", err)
	}
	if a.relay != nil {
		a.relay.Detach()
	}
	a.bus.Close()
	if err := a.journal.Close(); err != nil {
		logger.Errorf("journal close: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Errorf("store close: %v", err)
	}
	logger.Event("app_stopped")
}

// Orders exposes the order manager for embedding callers and tests.
func (a *App) Orders() *order.Manager {
	if a == nil {
		return nil
	}
	return a.orders
}

// Session exposes the session tracker.
func (a *App) Session() *session.Tracker {
	if a == nil {
		return nil
	}
	return a.tracker
}
