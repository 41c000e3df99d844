package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantra/internal/bus"
	"quantra/internal/types"
)

type memRecorder struct {
	mu        sync.Mutex
	sessions  []types.Session
	orders    []types.Order
	snapshots []types.Performance
}

func (r *memRecorder) RecordSession(_ context.Context, s types.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
	return nil
}

func (r *memRecorder) RecordOrder(_ context.Context, _ string, o types.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, o)
	return nil
}

func (r *memRecorder) RecordPerformance(_ context.Context, p types.Performance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, p)
	return nil
}

func (r *memRecorder) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func newTestTracker(t *testing.T) (*Tracker, *bus.Bus, *memRecorder) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)
	rec := &memRecorder{}
	tr := NewTracker(Config{
		Mode:             "paper",
		Symbols:          []string{"BTC_USDT"},
		Direction:        "both",
		Leverage:         3,
		InitialBalance:   10000,
		SnapshotInterval: time.Hour,
	}, b, rec)
	return tr, b, rec
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func entryFill(commission float64) types.FillEvent {
	return types.FillEvent{
		Order: types.Order{
			OrderID:    "paper-000001",
			Symbol:     "BTC_USDT",
			Side:       types.SideBuy,
			Quantity:   0.1,
			Status:     types.OrderFilled,
			Commission: commission,
		},
	}
}

func exitFill(pnl, commission float64) types.FillEvent {
	return types.FillEvent{
		Order: types.Order{
			OrderID:    "paper-000002",
			Symbol:     "BTC_USDT",
			Side:       types.SideSell,
			Quantity:   0.1,
			Status:     types.OrderFilled,
			Commission: commission,
		},
		RealizedPnL: pnl,
		Closed:      true,
	}
}

func TestTrackerAggregatesFills(t *testing.T) {
	tr, b, rec := newTestTracker(t)
	require.NoError(t, tr.Start(context.Background()))

	require.NoError(t, b.Publish(bus.TopicOrderFilled, entryFill(2)))
	require.NoError(t, b.Publish(bus.TopicOrderFilled, exitFill(98, 2)))
	require.NoError(t, b.Publish(bus.TopicOrderFilled, entryFill(2)))
	require.NoError(t, b.Publish(bus.TopicOrderFilled, exitFill(-52, 2)))
	waitUntil(t, func() bool { return rec.orderCount() == 4 })

	perf := tr.Performance()
	assert.Equal(t, 2, perf.Trades)
	assert.Equal(t, 1, perf.Wins)
	assert.Equal(t, 1, perf.Losses)
	assert.InDelta(t, 46, perf.RealizedPnL, 1e-9)
	// Entry commissions come off the balance directly, exits arrive net.
	assert.InDelta(t, 10000-2-2+98-52, perf.Balance, 1e-9)
	assert.InDelta(t, 8, perf.Commission, 1e-9)

	require.NoError(t, tr.Stop(context.Background()))
}

func TestTrackerRecordsFailedOrders(t *testing.T) {
	tr, b, rec := newTestTracker(t)
	require.NoError(t, tr.Start(context.Background()))

	failed := types.Order{
		OrderID:    "paper-000003",
		Symbol:     "BTC_USDT",
		Side:       types.SideBuy,
		Status:     types.OrderFailed,
		FailReason: "exchange unavailable",
	}
	require.NoError(t, b.Publish(bus.TopicOrderFailed, failed))
	waitUntil(t, func() bool { return rec.orderCount() == 1 })

	perf := tr.Performance()
	assert.Zero(t, perf.Trades)
	assert.InDelta(t, 10000, perf.Balance, 1e-9)

	require.NoError(t, tr.Stop(context.Background()))
}

func TestTrackerStartStopIdempotent(t *testing.T) {
	tr, _, rec := newTestTracker(t)
	require.NoError(t, tr.Start(context.Background()))
	first := tr.Session().ID
	require.NoError(t, tr.Start(context.Background()))
	assert.Equal(t, first, tr.Session().ID)

	require.NoError(t, tr.Stop(context.Background()))
	require.NoError(t, tr.Stop(context.Background()))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	// One RecordSession for start, one for stop, despite duplicate calls.
	require.Len(t, rec.sessions, 2)
	assert.Equal(t, types.SessionRunning, rec.sessions[0].Status)
	assert.Equal(t, types.SessionStopped, rec.sessions[1].Status)
	require.NotEmpty(t, rec.snapshots)
	assert.Equal(t, first, rec.snapshots[len(rec.snapshots)-1].SessionID)
}

func TestTrackerStopWithoutStart(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	require.NoError(t, tr.Stop(context.Background()))
}

func TestTrackerIgnoresFillsAfterStop(t *testing.T) {
	tr, b, _ := newTestTracker(t)
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Stop(context.Background()))

	require.NoError(t, b.Publish(bus.TopicOrderFilled, exitFill(100, 2)))
	time.Sleep(50 * time.Millisecond)

	perf := tr.Performance()
	assert.Zero(t, perf.Trades)
	assert.InDelta(t, 10000, perf.Balance, 1e-9)
}
