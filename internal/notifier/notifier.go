package notifier

import (
	"context"
	"fmt"
	"strings"

	"quantra/internal/bus"
	"quantra/internal/logger"
	"quantra/internal/types"
)

// Sender delivers one rendered message to the operator.
type Sender interface {
	SendText(text string) error
}

// severityRank orders alert severities for the minimum filter.
func severityRank(s types.AlertSeverity) int {
	switch s {
	case types.AlertCritical:
		return 2
	case types.AlertWarning:
		return 1
	default:
		return 0
	}
}

// AlertRelay subscribes to risk_alert and forwards alerts at or above
// MinSeverity to the sender.
type AlertRelay struct {
	sender      Sender
	minSeverity types.AlertSeverity
	sub         *bus.Subscription
	bus         *bus.Bus
}

func NewAlertRelay(sender Sender, minSeverity types.AlertSeverity) *AlertRelay {
	if minSeverity == "" {
		minSeverity = types.AlertCritical
	}
	return &AlertRelay{sender: sender, minSeverity: minSeverity}
}

// Attach subscribes the relay to the bus.
func (r *AlertRelay) Attach(b *bus.Bus) error {
	sub, err := b.Subscribe(bus.TopicRiskAlert, bus.HandlerFunc(r.handle))
	if err != nil {
		return err
	}
	r.bus = b
	r.sub = sub
	return nil
}

// Detach removes the bus subscription. Safe to call twice.
func (r *AlertRelay) Detach() {
	if r.bus != nil && r.sub != nil {
		r.bus.Unsubscribe(r.sub)
		r.sub = nil
	}
}

func (r *AlertRelay) handle(_ context.Context, evt bus.Event) error {
	alert, ok := evt.Payload.(types.RiskAlert)
	if !ok {
		return fmt.Errorf("notifier: unexpected payload %T on %s", evt.Payload, evt.Topic)
	}
	if severityRank(alert.Severity) < severityRank(r.minSeverity) {
		return nil
	}
	if err := r.sender.SendText(formatAlert(alert)); err != nil {
		logger.Errorf("notifier: send alert failed: %v", err)
		return err
	}
	return nil
}

func formatAlert(alert types.RiskAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* `%s`\n", alert.Severity, alert.Kind)
	if alert.Symbol != "" {
		fmt.Fprintf(&b, "symbol: `%s`\n", alert.Symbol)
	}
	b.WriteString(alert.Message)
	for k, v := range alert.Context {
		fmt.Fprintf(&b, "\n%s: `%v`", k, v)
	}
	return b.String()
}
