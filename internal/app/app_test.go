package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantra/internal/config"
	"quantra/internal/types"
)

func paperConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf(`
engine:
  mode: paper
  symbols: ["BTC_USDT"]
  leverage: 3
  initial_balance: 10000
  paper_seed: 42
store:
  path: %s
  journal_path: %s
`, filepath.Join(dir, "quantra.db"), filepath.Join(dir, "journal.db"))
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestAppPaperRoundTrip(t *testing.T) {
	app, err := NewApp(paperConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// Wait for the order manager to come up.
	deadline := time.Now().Add(2 * time.Second)
	var ord *types.Order
	for time.Now().Before(deadline) {
		ord, err = app.Orders().SubmitSignal(context.Background(), types.Signal{
			SignalType:   types.SignalEntry,
			Symbol:       "BTC_USDT",
			Side:         types.SideBuy,
			Quantity:     0.1,
			Price:        50000,
			Leverage:     3,
			OrderKind:    types.OrderLimit,
			StrategyName: "smoke",
		})
		if err == nil && ord != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	require.NotNil(t, ord)
	assert.Equal(t, types.OrderFilled, ord.Status)

	positions := app.Orders().Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC_USDT", positions[0].Symbol)

	cancel()
	select {
	case runErr := <-done:
		assert.NoError(t, runErr)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not shut down")
	}

	// Session should have been persisted as stopped.
	sess := app.Session().Session()
	assert.Equal(t, types.SessionStopped, sess.Status)
}

func TestNewAppNilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}
