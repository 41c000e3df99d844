// Package session tracks one paper or live run: who is trading, with what
// balance, and how the fills that arrive over the bus add up.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantra/internal/bus"
	"quantra/internal/logger"
	"quantra/internal/scheduler"
	"quantra/internal/types"
)

// Recorder persists session lifecycle, orders and performance snapshots.
// The gorm store implements it; tests use an in-memory fake.
type Recorder interface {
	RecordSession(ctx context.Context, s types.Session) error
	RecordOrder(ctx context.Context, sessionID string, o types.Order) error
	RecordPerformance(ctx context.Context, p types.Performance) error
}

// Config describes the run the session tracks.
type Config struct {
	Mode             string
	Symbols          []string
	Direction        string
	Leverage         float64
	InitialBalance   float64
	SnapshotInterval time.Duration
}

// Tracker subscribes to order topics and keeps the running performance of a
// session. Start and Stop are idempotent.
type Tracker struct {
	cfg      Config
	bus      *bus.Bus
	recorder Recorder

	startMu   sync.Mutex
	started   bool
	cancel    context.CancelFunc
	loopDone  chan struct{}
	filledSub *bus.Subscription
	failedSub *bus.Subscription

	mu      sync.Mutex
	session types.Session
	perf    types.Performance
}

func NewTracker(cfg Config, b *bus.Bus, recorder Recorder) *Tracker {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Minute
	}
	return &Tracker{cfg: cfg, bus: b, recorder: recorder}
}

// Start opens a new session and begins consuming fills. Calling Start on a
// running tracker is a no-op.
func (t *Tracker) Start(ctx context.Context) error {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	if t.started {
		return nil
	}

	now := time.Now()
	t.mu.Lock()
	t.session = types.Session{
		ID:             uuid.NewString(),
		Mode:           t.cfg.Mode,
		Symbols:        append([]string(nil), t.cfg.Symbols...),
		Direction:      t.cfg.Direction,
		Leverage:       t.cfg.Leverage,
		InitialBalance: t.cfg.InitialBalance,
		Status:         types.SessionRunning,
		StartedAt:      now,
	}
	t.perf = types.Performance{
		SessionID: t.session.ID,
		Balance:   t.cfg.InitialBalance,
		TakenAt:   now,
	}
	sess := t.session
	t.mu.Unlock()

	if t.recorder != nil {
		if err := t.recorder.RecordSession(ctx, sess); err != nil {
			return fmt.Errorf("record session: %w", err)
		}
	}

	filledSub, err := t.bus.Subscribe(bus.TopicOrderFilled, bus.HandlerFunc(t.handleFilled))
	if err != nil {
		return err
	}
	failedSub, err := t.bus.Subscribe(bus.TopicOrderFailed, bus.HandlerFunc(t.handleFailed))
	if err != nil {
		t.bus.Unsubscribe(filledSub)
		return err
	}
	t.filledSub = filledSub
	t.failedSub = failedSub

	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.loopDone = make(chan struct{})
	sched := scheduler.NewIntervalScheduler(loopCtx, t.cfg.SnapshotInterval)
	go func() {
		defer close(t.loopDone)
		sched.Start(func() { t.snapshot(context.Background()) })
	}()

	t.started = true
	logger.Event("session_started",
		"session_id", sess.ID,
		"mode", sess.Mode,
		"initial_balance", sess.InitialBalance,
	)
	return nil
}

// Stop closes the session, records a final snapshot and detaches from the
// bus. Calling Stop on a stopped tracker is a no-op.
func (t *Tracker) Stop(ctx context.Context) error {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	if !t.started {
		return nil
	}
	t.started = false

	t.bus.Unsubscribe(t.filledSub)
	t.bus.Unsubscribe(t.failedSub)
	t.filledSub = nil
	t.failedSub = nil

	t.cancel()
	<-t.loopDone

	now := time.Now()
	t.mu.Lock()
	t.session.Status = types.SessionStopped
	t.session.StoppedAt = &now
	sess := t.session
	perf := t.perf
	perf.TakenAt = now
	t.mu.Unlock()

	if t.recorder != nil {
		if err := t.recorder.RecordPerformance(ctx, perf); err != nil {
			logger.Errorf("session: final snapshot failed: %v", err)
		}
		if err := t.recorder.RecordSession(ctx, sess); err != nil {
			return fmt.Errorf("record session: %w", err)
		}
	}
	logger.Event("session_stopped",
		"session_id", sess.ID,
		"balance", perf.Balance,
		"trades", perf.Trades,
	)
	return nil
}

// Session returns a copy of the session record.
func (t *Tracker) Session() types.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Performance returns the current aggregate, stamped at call time.
func (t *Tracker) Performance() types.Performance {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.perf
	p.TakenAt = time.Now()
	return p
}

func (t *Tracker) handleFilled(ctx context.Context, evt bus.Event) error {
	fill, ok := evt.Payload.(types.FillEvent)
	if !ok {
		return fmt.Errorf("session: unexpected payload %T on %s", evt.Payload, evt.Topic)
	}

	t.mu.Lock()
	t.perf.Commission += fill.Order.Commission
	if fill.Order.Side.Opens() {
		// Entry commission comes straight off the balance. Exit commission
		// is already netted into RealizedPnL by the order manager.
		t.perf.Balance -= fill.Order.Commission
	} else {
		t.perf.Trades++
		t.perf.RealizedPnL += fill.RealizedPnL
		t.perf.Balance += fill.RealizedPnL
		if fill.RealizedPnL >= 0 {
			t.perf.Wins++
		} else {
			t.perf.Losses++
		}
	}
	sessionID := t.session.ID
	t.mu.Unlock()

	if t.recorder != nil {
		if err := t.recorder.RecordOrder(ctx, sessionID, fill.Order); err != nil {
			logger.Errorf("session: record order %s failed: %v", fill.Order.OrderID, err)
		}
	}
	return nil
}

func (t *Tracker) handleFailed(ctx context.Context, evt bus.Event) error {
	order, ok := evt.Payload.(types.Order)
	if !ok {
		return fmt.Errorf("session: unexpected payload %T on %s", evt.Payload, evt.Topic)
	}
	t.mu.Lock()
	sessionID := t.session.ID
	t.mu.Unlock()
	if t.recorder != nil {
		if err := t.recorder.RecordOrder(ctx, sessionID, order); err != nil {
			logger.Errorf("session: record order %s failed: %v", order.OrderID, err)
		}
	}
	return nil
}

func (t *Tracker) snapshot(ctx context.Context) {
	t.mu.Lock()
	perf := t.perf
	perf.TakenAt = time.Now()
	t.mu.Unlock()
	if t.recorder == nil {
		return
	}
	if err := t.recorder.RecordPerformance(ctx, perf); err != nil {
		logger.Errorf("session: performance snapshot failed: %v", err)
	}
}
