package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantra/internal/bus"
	"quantra/internal/types"
)

func newTestJournal(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndQuery(t *testing.T) {
	s := newTestJournal(t)
	ctx := context.Background()

	base := time.Now()
	events := []bus.Event{
		{
			ID:        "evt-1",
			Topic:     bus.TopicSignalGenerated,
			Payload:   types.Signal{SignalType: types.SignalEntry, Symbol: "BTC_USDT", Side: types.SideShort, Quantity: 0.1, Price: 50000},
			CreatedAt: base,
		},
		{
			ID:    "evt-2",
			Topic: bus.TopicOrderFilled,
			Payload: types.FillEvent{
				Order: types.Order{OrderID: "paper-000001", Symbol: "BTC_USDT", Status: types.OrderFilled},
			},
			CreatedAt: base.Add(time.Millisecond),
		},
		{
			ID:        "evt-3",
			Topic:     bus.TopicRiskAlert,
			Payload:   types.RiskAlert{Severity: types.AlertCritical, Kind: "liquidation", Symbol: "ETH_USDT"},
			CreatedAt: base.Add(2 * time.Millisecond),
		},
	}
	for _, evt := range events {
		require.NoError(t, s.Append(ctx, evt))
	}

	all, err := s.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "evt-3", all[0].EventID)

	fills, err := s.Recent(ctx, string(bus.TopicOrderFilled), 10)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	// Fill payloads carry the symbol nested under order.symbol.
	assert.Equal(t, "BTC_USDT", fills[0].Symbol)

	btc, err := s.BySymbol(ctx, "btc_usdt", 10)
	require.NoError(t, err)
	assert.Len(t, btc, 2)

	eth, err := s.BySymbol(ctx, "ETH_USDT", 10)
	require.NoError(t, err)
	require.Len(t, eth, 1)
	assert.Equal(t, string(bus.TopicRiskAlert), eth[0].Topic)
}

func TestBusHookJournalsPublishes(t *testing.T) {
	s := newTestJournal(t)
	b := bus.New()
	t.Cleanup(b.Close)
	b.SetJournal(s.Hook())

	require.NoError(t, b.Publish(bus.TopicPositionUpdated, types.Position{
		Symbol: "BTC_USDT", Side: types.PositionLong, Amount: 0.5, EntryPrice: 48000,
	}))

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := s.Recent(context.Background(), string(bus.TopicPositionUpdated), 1)
		require.NoError(t, err)
		if len(entries) == 1 {
			assert.Equal(t, "BTC_USDT", entries[0].Symbol)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("journal entry never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAppendAfterClose(t *testing.T) {
	s := newTestJournal(t)
	require.NoError(t, s.Close())
	err := s.Append(context.Background(), bus.Event{ID: "evt-x", Topic: bus.TopicRiskAlert})
	assert.Error(t, err)
}
