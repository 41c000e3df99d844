// Package risk implements the synchronous pre-trade validation gate. All
// checks and the budget reservation happen inside one critical section so
// two concurrent signals can never double-spend the same capital.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quantra/internal/logger"
	"quantra/internal/pkg/trading"
	"quantra/internal/types"
)

// Rejection reasons surfaced to logs and the order history.
const (
	ReasonLeverageExceeded  = "leverage_exceeded"
	ReasonMaxPositions      = "max_positions"
	ReasonDailyLossLimit    = "daily_loss_limit"
	ReasonPositionTooLarge  = "position_too_large"
	ReasonInsufficientFunds = "insufficient_budget"
)

// Limits configures the gate.
type Limits struct {
	// MaxPositionRatio caps the margin of a single trade relative to the
	// currently available budget. 0 disables the check.
	MaxPositionRatio float64
	// MaxOpenPositions caps concurrent open positions. 0 disables the check.
	MaxOpenPositions int
	// MaxLeverage caps requested leverage. 0 disables the check.
	MaxLeverage float64
	// DailyLossLimit latches new entries closed once the day's realized loss
	// reaches this amount (quote currency). 0 disables the check.
	DailyLossLimit float64
}

// Reservation is a claim on budget held for the duration of a submission.
// It must be resolved exactly once: Commit on fill, Release on any failure.
type Reservation struct {
	id     uint64
	amount decimal.Decimal
}

// Amount returns the reserved margin.
func (r *Reservation) Amount() float64 {
	if r == nil {
		return 0
	}
	f, _ := r.amount.Float64()
	return f
}

// Manager owns the budget ledger and the risk limits.
type Manager struct {
	mu        sync.Mutex
	limits    Limits
	total     decimal.Decimal
	reserved  decimal.Decimal
	committed decimal.Decimal
	open      map[uint64]decimal.Decimal
	nextID    uint64

	dailyLoss decimal.Decimal
	lossDay   string

	nowFn func() time.Time
}

// NewManager creates a Manager with the given limits and total budget.
func NewManager(limits Limits, totalBudget float64) *Manager {
	return &Manager{
		limits: limits,
		total:  decimal.NewFromFloat(totalBudget),
		open:   make(map[uint64]decimal.Decimal),
		nowFn:  time.Now,
	}
}

// SetLimits replaces the limits, used by config hot-reload.
func (m *Manager) SetLimits(limits Limits) {
	m.mu.Lock()
	m.limits = limits
	m.mu.Unlock()
	logger.Event("risk_limits_updated",
		"max_position_ratio", limits.MaxPositionRatio,
		"max_open_positions", limits.MaxOpenPositions,
		"max_leverage", limits.MaxLeverage,
		"daily_loss_limit", limits.DailyLossLimit,
	)
}

// Validate runs the checks without reserving. It never fails for ordinary
// rejections; the reason string is empty when the signal is accepted.
func (m *Manager) Validate(sig types.Signal, openPositions int) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason := m.checkLocked(sig, openPositions)
	return reason == "", reason
}

// ValidateAndReserve validates an entry signal and, when accepted, reserves
// its margin atomically. Exit signals are accepted without a reservation
// since they release exposure rather than create it.
func (m *Manager) ValidateAndReserve(sig types.Signal, openPositions int) (*Reservation, string) {
	if !sig.Side.Opens() {
		return nil, ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if reason := m.checkLocked(sig, openPositions); reason != "" {
		return nil, reason
	}

	margin := decimal.NewFromFloat(trading.Margin(sig.Quantity, sig.Price, sig.Leverage))
	m.nextID++
	res := &Reservation{id: m.nextID, amount: margin}
	m.reserved = m.reserved.Add(margin)
	m.open[res.id] = margin
	return res, ""
}

// checkLocked runs every limit check against the current ledger. Caller
// holds m.mu.
func (m *Manager) checkLocked(sig types.Signal, openPositions int) string {
	if !sig.Side.Opens() {
		return ""
	}
	if m.limits.MaxLeverage > 0 && sig.Leverage > m.limits.MaxLeverage {
		return ReasonLeverageExceeded
	}
	if m.limits.MaxOpenPositions > 0 && openPositions >= m.limits.MaxOpenPositions {
		return ReasonMaxPositions
	}
	if m.limits.DailyLossLimit > 0 && m.dailyLossLocked().GreaterThanOrEqual(decimal.NewFromFloat(m.limits.DailyLossLimit)) {
		return ReasonDailyLossLimit
	}

	margin := decimal.NewFromFloat(trading.Margin(sig.Quantity, sig.Price, sig.Leverage))
	available := m.total.Sub(m.reserved).Sub(m.committed)
	if m.limits.MaxPositionRatio > 0 {
		maxStake := available.Mul(decimal.NewFromFloat(m.limits.MaxPositionRatio))
		if margin.GreaterThan(maxStake) {
			return ReasonPositionTooLarge
		}
	}
	if margin.GreaterThan(available) {
		return ReasonInsufficientFunds
	}
	return ""
}

// Commit converts a reservation into committed margin held by the resulting
// position. Committing an already resolved reservation is a no-op.
func (m *Manager) Commit(res *Reservation) {
	if res == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	amount, ok := m.open[res.id]
	if !ok {
		return
	}
	delete(m.open, res.id)
	m.reserved = m.reserved.Sub(amount)
	m.committed = m.committed.Add(amount)
}

// Release returns a reservation to the available budget. Releasing an
// already resolved reservation is a no-op, so failure paths may call it
// unconditionally.
func (m *Manager) Release(res *Reservation) {
	if res == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	amount, ok := m.open[res.id]
	if !ok {
		return
	}
	delete(m.open, res.id)
	m.reserved = m.reserved.Sub(amount)
}

// FreeCommitted returns margin to the budget when a position closes or is
// liquidated, and records the realized result against the daily loss latch.
func (m *Manager) FreeCommitted(margin, realizedPnL float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amt := decimal.NewFromFloat(margin)
	if amt.GreaterThan(m.committed) {
		amt = m.committed
	}
	m.committed = m.committed.Sub(amt)
	m.total = m.total.Add(decimal.NewFromFloat(realizedPnL))
	if realizedPnL < 0 {
		day := m.nowFn().UTC().Format("2006-01-02")
		if day != m.lossDay {
			m.lossDay = day
			m.dailyLoss = decimal.Zero
		}
		m.dailyLoss = m.dailyLoss.Add(decimal.NewFromFloat(-realizedPnL))
	}
}

// dailyLossLocked returns today's accumulated loss, resetting the latch when
// the UTC day rolls over. Caller holds m.mu.
func (m *Manager) dailyLossLocked() decimal.Decimal {
	day := m.nowFn().UTC().Format("2006-01-02")
	if day != m.lossDay {
		m.lossDay = day
		m.dailyLoss = decimal.Zero
	}
	return m.dailyLoss
}

// Available reports the budget not held by reservations or open positions.
func (m *Manager) Available() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, _ := m.total.Sub(m.reserved).Sub(m.committed).Float64()
	return f
}

// Snapshot returns ledger totals for observability.
func (m *Manager) Snapshot() (total, reserved, committed float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, _ := m.total.Float64()
	r, _ := m.reserved.Float64()
	c, _ := m.committed.Float64()
	return t, r, c
}

func (m *Manager) String() string {
	t, r, c := m.Snapshot()
	return fmt.Sprintf("risk{total=%.2f reserved=%.2f committed=%.2f}", t, r, c)
}
