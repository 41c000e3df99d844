package app

import (
	"fmt"
	"strings"

	"quantra/internal/bus"
	"quantra/internal/circuit"
	"quantra/internal/config"
	"quantra/internal/exchange"
	"quantra/internal/exchange/binance"
	"quantra/internal/metrics"
	"quantra/internal/notifier"
	"quantra/internal/order"
	"quantra/internal/possync"
	"quantra/internal/risk"
	"quantra/internal/session"
	"quantra/internal/store/gormstore"
	"quantra/internal/store/journal"
	"quantra/internal/types"
)

// AppBuilder assembles the object graph from the configuration.
type AppBuilder struct {
	cfg *config.Config
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

// Build constructs but does not start the application.
func (b *AppBuilder) Build() (*App, error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	store, err := gormstore.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	jrnl, err := journal.New(cfg.Store.JournalPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	eventBus := bus.New()
	eventBus.SetJournal(jrnl.Hook())

	riskMgr := risk.NewManager(risk.Limits{
		MaxPositionRatio: cfg.Risk.MaxPositionRatio,
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		MaxLeverage:      cfg.Risk.MaxLeverage,
		DailyLossLimit:   cfg.Risk.DailyLossLimit,
	}, cfg.Engine.InitialBalance)

	breaker := circuit.New(cfg.Exchange.Name, circuit.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		Cooldown:         cfg.Circuit.CooldownDuration(),
		HalfOpenTrials:   cfg.Circuit.HalfOpenTrials,
	})
	breaker.SetStateChangeHandler(func(name string, _, to circuit.State) {
		metrics.ObserveCircuitState(to)
		if to == circuit.StateOpen {
			_ = eventBus.Publish(bus.TopicRiskAlert, types.RiskAlert{
				Severity: types.AlertWarning,
				Kind:     "circuit_open",
				Message:  fmt.Sprintf("exchange %s circuit opened, order flow suspended", name),
			})
		}
	})

	var (
		adapter exchange.Adapter
		exec    order.Executor
	)
	switch cfg.Engine.Mode {
	case "live":
		adapter, err = binance.New(binance.Config{
			APIKey:      cfg.Exchange.APIKey,
			APISecret:   cfg.Exchange.APISecret,
			BaseURL:     cfg.Exchange.BaseURL,
			HTTPTimeout: cfg.Exchange.HTTPTimeoutDuration(),
			ProxyURL:    cfg.Exchange.ProxyURL,
		})
		if err != nil {
			jrnl.Close()
			store.Close()
			return nil, fmt.Errorf("init exchange adapter: %w", err)
		}
		exec = order.NewLiveExecutor(adapter, breaker, order.LiveConfig{})
	default:
		paper := order.NewPaperExecutor(cfg.PaperSeed(), cfg.Risk.CommissionRate)
		paper.SetDefaultMaxSlippage(cfg.Risk.MaxSlippagePct)
		exec = paper
	}

	orders := order.NewManager(eventBus, riskMgr, exec, order.Config{})

	var syncSvc *possync.Service
	if adapter != nil {
		syncSvc = possync.NewService(adapter, breaker, orders, eventBus, possync.Config{
			Interval:    cfg.Sync.IntervalDuration(),
			CallTimeout: cfg.Sync.CallTimeoutDuration(),
		})
	}

	tracker := session.NewTracker(session.Config{
		Mode:             cfg.Engine.Mode,
		Symbols:          cfg.Engine.Symbols,
		Direction:        cfg.Engine.Direction,
		Leverage:         cfg.Engine.Leverage,
		InitialBalance:   cfg.Engine.InitialBalance,
		SnapshotInterval: cfg.Engine.SnapshotIntervalDuration(),
	}, eventBus, store)

	var relay *notifier.AlertRelay
	if cfg.Telegram.Enabled {
		tg := notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		relay = notifier.NewAlertRelay(tg, types.AlertSeverity(strings.ToUpper(cfg.Telegram.MinSeverity)))
		if err := relay.Attach(eventBus); err != nil {
			jrnl.Close()
			store.Close()
			return nil, fmt.Errorf("attach notifier: %w", err)
		}
	}

	if err := metrics.Attach(eventBus, orders); err != nil {
		jrnl.Close()
		store.Close()
		return nil, fmt.Errorf("attach metrics: %w", err)
	}

	return &App{
		cfg:     cfg,
		bus:     eventBus,
		store:   store,
		journal: jrnl,
		risk:    riskMgr,
		breaker: breaker,
		orders:  orders,
		tracker: tracker,
		sync:    syncSvc,
		relay:   relay,
	}, nil
}
