// Package metrics exposes Prometheus collectors for the execution core.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"quantra/internal/bus"
	"quantra/internal/circuit"
	"quantra/internal/types"
)

var OrdersCreated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "quantra",
		Subsystem: "orders",
		Name:      "created_total",
		Help:      "Orders accepted by the order manager",
	},
	[]string{"symbol", "side"},
)

var OrdersFilled = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "quantra",
		Subsystem: "orders",
		Name:      "filled_total",
		Help:      "Orders that reached FILLED",
	},
	[]string{"symbol", "side"},
)

var OrdersFailed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "quantra",
		Subsystem: "orders",
		Name:      "failed_total",
		Help:      "Orders that reached FAILED",
	},
	[]string{"symbol", "side"},
)

var RiskAlerts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "quantra",
		Subsystem: "risk",
		Name:      "alerts_total",
		Help:      "risk_alert events by kind and severity",
	},
	[]string{"kind", "severity"},
)

// RealizedPnL is a gauge because losses move it down.
var RealizedPnL = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "quantra",
		Subsystem: "risk",
		Name:      "realized_pnl_usd",
		Help:      "Cumulative realized PnL in quote currency (signed)",
	},
)

// CircuitState is 0 for CLOSED, 1 for OPEN, 2 for HALF_OPEN.
var CircuitState = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "quantra",
		Subsystem: "exchange",
		Name:      "circuit_state",
		Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	},
)

var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "quantra",
		Subsystem: "risk",
		Name:      "open_positions",
		Help:      "Open position aggregates tracked locally",
	},
)

var SyncDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "quantra",
		Subsystem: "possync",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one position reconciliation cycle",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
)

// ObserveCircuitState feeds the gauge from a breaker state change callback.
func ObserveCircuitState(state circuit.State) {
	switch state {
	case circuit.StateClosed:
		CircuitState.Set(0)
	case circuit.StateOpen:
		CircuitState.Set(1)
	case circuit.StateHalfOpen:
		CircuitState.Set(2)
	}
}

// ObserveSync records one reconciliation cycle.
func ObserveSync(start time.Time) {
	SyncDuration.Observe(time.Since(start).Seconds())
}

// PositionCounter reports how many positions are currently open.
type PositionCounter interface {
	Positions() []types.Position
}

// Attach subscribes the collectors to the bus so counters track events
// without the publishing code knowing about metrics.
func Attach(b *bus.Bus, positions PositionCounter) error {
	subscribe := func(topic bus.Topic, fn func(evt bus.Event)) error {
		_, err := b.Subscribe(topic, bus.HandlerFunc(func(_ context.Context, evt bus.Event) error {
			fn(evt)
			return nil
		}))
		return err
	}

	if err := subscribe(bus.TopicOrderCreated, func(evt bus.Event) {
		if o, ok := evt.Payload.(types.Order); ok {
			OrdersCreated.WithLabelValues(o.Symbol, string(o.Side)).Inc()
		}
	}); err != nil {
		return err
	}
	if err := subscribe(bus.TopicOrderFilled, func(evt bus.Event) {
		if fill, ok := evt.Payload.(types.FillEvent); ok {
			OrdersFilled.WithLabelValues(fill.Order.Symbol, string(fill.Order.Side)).Inc()
			RealizedPnL.Add(fill.RealizedPnL)
			if positions != nil {
				OpenPositions.Set(float64(len(positions.Positions())))
			}
		}
	}); err != nil {
		return err
	}
	if err := subscribe(bus.TopicOrderFailed, func(evt bus.Event) {
		if o, ok := evt.Payload.(types.Order); ok {
			OrdersFailed.WithLabelValues(o.Symbol, string(o.Side)).Inc()
		}
	}); err != nil {
		return err
	}
	if err := subscribe(bus.TopicPositionUpdated, func(_ bus.Event) {
		if positions != nil {
			OpenPositions.Set(float64(len(positions.Positions())))
		}
	}); err != nil {
		return err
	}
	return subscribe(bus.TopicRiskAlert, func(evt bus.Event) {
		if alert, ok := evt.Payload.(types.RiskAlert); ok {
			RiskAlerts.WithLabelValues(alert.Kind, string(alert.Severity)).Inc()
		}
	})
}
