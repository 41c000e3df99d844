// Package gormstore persists sessions, orders and performance snapshots to
// SQLite through Gorm.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"quantra/internal/types"
)

// Store implements session, order and performance storage using Gorm + SQLite.
type Store struct {
	db *gorm.DB
}

// New opens (or creates) the database at path and migrates the schema.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&sessionModel{}, &orderModel{}, &performanceModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordSession upserts the session row keyed by its UUID.
func (s *Store) RecordSession(ctx context.Context, sess types.Session) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	model := newSessionModel(sess)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_uuid"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "stopped_at", "updated_at",
			}),
		}).
		Create(&model).Error
}

// RecordOrder upserts one terminal order keyed by order_id.
func (s *Store) RecordOrder(ctx context.Context, sessionID string, o types.Order) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if strings.TrimSpace(o.OrderID) == "" {
		return fmt.Errorf("order id is required")
	}
	model := newOrderModel(sessionID, o)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"executed_price", "status", "commission", "liquidation_price",
				"exchange_order_id", "fail_reason", "updated_at",
			}),
		}).
		Create(&model).Error
}

// RecordPerformance appends one performance snapshot.
func (s *Store) RecordPerformance(ctx context.Context, p types.Performance) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	model := performanceModel{
		SessionID:   p.SessionID,
		Balance:     p.Balance,
		RealizedPnL: p.RealizedPnL,
		Trades:      p.Trades,
		Wins:        p.Wins,
		Losses:      p.Losses,
		Commission:  p.Commission,
		TakenAt:     p.TakenAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetSession loads one session by UUID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (types.Session, bool, error) {
	if s == nil || s.db == nil {
		return types.Session{}, false, fmt.Errorf("gorm store not initialized")
	}
	var model sessionModel
	err := s.db.WithContext(ctx).Where("session_uuid = ?", sessionID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Session{}, false, nil
		}
		return types.Session{}, false, err
	}
	return sessionModelToRecord(model), true, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]types.Session, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []sessionModel
	if err := s.db.WithContext(ctx).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Session, 0, len(models))
	for _, m := range models {
		out = append(out, sessionModelToRecord(m))
	}
	return out, nil
}

// GetSessionOrders returns the orders recorded for one session, oldest first.
func (s *Store) GetSessionOrders(ctx context.Context, sessionID string, limit int) ([]types.Order, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var models []orderModel
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(models))
	for _, m := range models {
		out = append(out, orderModelToRecord(m))
	}
	return out, nil
}

// LatestPerformance returns the newest snapshot for a session.
func (s *Store) LatestPerformance(ctx context.Context, sessionID string) (types.Performance, bool, error) {
	if s == nil || s.db == nil {
		return types.Performance{}, false, fmt.Errorf("gorm store not initialized")
	}
	var model performanceModel
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("taken_at DESC, id DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Performance{}, false, nil
		}
		return types.Performance{}, false, err
	}
	return types.Performance{
		SessionID:   model.SessionID,
		Balance:     model.Balance,
		RealizedPnL: model.RealizedPnL,
		Trades:      model.Trades,
		Wins:        model.Wins,
		Losses:      model.Losses,
		Commission:  model.Commission,
		TakenAt:     millisToTime(model.TakenAt),
	}, true, nil
}

// --------------------------- Models ------------------------------------

type sessionModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	SessionUUID    string         `gorm:"column:session_uuid;uniqueIndex"`
	Mode           string         `gorm:"column:mode"`
	Symbols        datatypes.JSON `gorm:"column:symbols"`
	Direction      string         `gorm:"column:direction"`
	Leverage       float64        `gorm:"column:leverage"`
	InitialBalance float64        `gorm:"column:initial_balance"`
	Status         string         `gorm:"column:status"`
	StartedAt      int64          `gorm:"column:started_at;index"`
	StoppedAt      int64          `gorm:"column:stopped_at"`
	CreatedAt      int64          `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt      int64          `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (sessionModel) TableName() string { return "sessions" }

type orderModel struct {
	ID               int64          `gorm:"column:id;primaryKey"`
	OrderID          string         `gorm:"column:order_id;uniqueIndex"`
	SessionID        string         `gorm:"column:session_id;index"`
	Symbol           string         `gorm:"column:symbol;index"`
	Side             string         `gorm:"column:side"`
	PositionSide     string         `gorm:"column:position_side"`
	Quantity         float64        `gorm:"column:quantity"`
	RequestedPrice   float64        `gorm:"column:requested_price"`
	ExecutedPrice    float64        `gorm:"column:executed_price"`
	Status           string         `gorm:"column:status"`
	Kind             string         `gorm:"column:kind"`
	Leverage         float64        `gorm:"column:leverage"`
	LiquidationPrice float64        `gorm:"column:liquidation_price"`
	Commission       float64        `gorm:"column:commission"`
	StrategyName     string         `gorm:"column:strategy_name"`
	ExchangeOrderID  string         `gorm:"column:exchange_order_id"`
	FailReason       string         `gorm:"column:fail_reason"`
	Signal           datatypes.JSON `gorm:"column:signal"`
	CreatedAt        int64          `gorm:"column:created_at;index;autoCreateTime:false"`
	UpdatedAt        int64          `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (orderModel) TableName() string { return "orders" }

type performanceModel struct {
	ID          int64   `gorm:"column:id;primaryKey"`
	SessionID   string  `gorm:"column:session_id;index"`
	Balance     float64 `gorm:"column:balance"`
	RealizedPnL float64 `gorm:"column:realized_pnl"`
	Trades      int     `gorm:"column:trades"`
	Wins        int     `gorm:"column:wins"`
	Losses      int     `gorm:"column:losses"`
	Commission  float64 `gorm:"column:commission"`
	TakenAt     int64   `gorm:"column:taken_at;index"`
}

func (performanceModel) TableName() string { return "performance_snapshots" }

// --------------------------- Conversion helpers --------------------------

func newSessionModel(sess types.Session) sessionModel {
	now := time.Now().UnixMilli()
	symbols, _ := json.Marshal(sess.Symbols)
	model := sessionModel{
		SessionUUID:    sess.ID,
		Mode:           sess.Mode,
		Symbols:        datatypes.JSON(symbols),
		Direction:      sess.Direction,
		Leverage:       sess.Leverage,
		InitialBalance: sess.InitialBalance,
		Status:         string(sess.Status),
		StartedAt:      sess.StartedAt.UnixMilli(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if sess.StoppedAt != nil && !sess.StoppedAt.IsZero() {
		model.StoppedAt = sess.StoppedAt.UnixMilli()
	}
	return model
}

func sessionModelToRecord(m sessionModel) types.Session {
	var symbols []string
	if len(m.Symbols) > 0 {
		_ = json.Unmarshal(m.Symbols, &symbols)
	}
	rec := types.Session{
		ID:             m.SessionUUID,
		Mode:           m.Mode,
		Symbols:        symbols,
		Direction:      m.Direction,
		Leverage:       m.Leverage,
		InitialBalance: m.InitialBalance,
		Status:         types.SessionStatus(m.Status),
		StartedAt:      millisToTime(m.StartedAt),
	}
	if m.StoppedAt > 0 {
		ts := millisToTime(m.StoppedAt)
		rec.StoppedAt = &ts
	}
	return rec
}

func newOrderModel(sessionID string, o types.Order) orderModel {
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	var signalJSON []byte
	if o.Signal != nil {
		signalJSON, _ = json.Marshal(o.Signal)
	}
	return orderModel{
		OrderID:          o.OrderID,
		SessionID:        sessionID,
		Symbol:           strings.ToUpper(strings.TrimSpace(o.Symbol)),
		Side:             string(o.Side),
		PositionSide:     string(o.PositionSide),
		Quantity:         o.Quantity,
		RequestedPrice:   o.RequestedPrice,
		ExecutedPrice:    o.ExecutedPrice,
		Status:           string(o.Status),
		Kind:             string(o.Kind),
		Leverage:         o.Leverage,
		LiquidationPrice: o.LiquidationPrice,
		Commission:       o.Commission,
		StrategyName:     o.StrategyName,
		ExchangeOrderID:  o.ExchangeOrderID,
		FailReason:       o.FailReason,
		Signal:           datatypes.JSON(signalJSON),
		CreatedAt:        o.CreatedAt.UnixMilli(),
		UpdatedAt:        o.UpdatedAt.UnixMilli(),
	}
}

func orderModelToRecord(m orderModel) types.Order {
	rec := types.Order{
		OrderID:          m.OrderID,
		Symbol:           m.Symbol,
		Side:             types.Side(m.Side),
		PositionSide:     types.PositionSide(m.PositionSide),
		Quantity:         m.Quantity,
		RequestedPrice:   m.RequestedPrice,
		ExecutedPrice:    m.ExecutedPrice,
		Status:           types.OrderStatus(m.Status),
		Kind:             types.OrderKind(m.Kind),
		Leverage:         m.Leverage,
		LiquidationPrice: m.LiquidationPrice,
		Commission:       m.Commission,
		StrategyName:     m.StrategyName,
		ExchangeOrderID:  m.ExchangeOrderID,
		FailReason:       m.FailReason,
		CreatedAt:        millisToTime(m.CreatedAt),
		UpdatedAt:        millisToTime(m.UpdatedAt),
	}
	if len(m.Signal) > 0 {
		var sig types.Signal
		if err := json.Unmarshal(m.Signal, &sig); err == nil {
			rec.Signal = &sig
		}
	}
	return rec
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
