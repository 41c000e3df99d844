// Package journal appends every bus event to an append-only SQLite table so
// a run can be audited or replayed after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"

	"quantra/internal/bus"
	"quantra/internal/logger"
)

// Entry is one journaled event.
type Entry struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Symbol    string          `json:"symbol,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store writes bus events to SQLite.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	ownsDB bool
}

// New opens (or creates) the journal database at path.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, ownsDB: true}, nil
}

// UseExternalDB reuses an already open SQLite connection, avoiding lock
// contention between multiple connections on the same file.
func UseExternalDB(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("external db is required")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS event_journal (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event_uuid TEXT NOT NULL,
    topic      TEXT NOT NULL,
    symbol     TEXT NOT NULL DEFAULT '',
    payload    TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_journal_topic ON event_journal(topic, created_at);
CREATE INDEX IF NOT EXISTS idx_event_journal_symbol ON event_journal(symbol, created_at);
`)
	return err
}

// Close closes the database when the store owns the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if !s.ownsDB {
		s.db = nil
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Append serializes and stores one event.
func (s *Store) Append(ctx context.Context, evt bus.Event) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return fmt.Errorf("journal store is closed")
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("journal: marshal payload for %s: %w", evt.Topic, err)
	}
	symbol := extractSymbol(payload)

	_, err = db.ExecContext(ctx, `
INSERT INTO event_journal (event_uuid, topic, symbol, payload, created_at)
VALUES (?, ?, ?, ?, ?)`,
		evt.ID, string(evt.Topic), symbol, string(payload), evt.CreatedAt.UnixMilli())
	return err
}

// Hook adapts the store to the bus journal callback. Write failures are
// logged, never propagated to publishers.
func (s *Store) Hook() func(bus.Event) {
	return func(evt bus.Event) {
		if err := s.Append(context.Background(), evt); err != nil {
			logger.Errorf("journal: append %s failed: %v", evt.Topic, err)
		}
	}
}

// Recent returns the newest entries for a topic, or for all topics when
// topic is empty. Newest first.
func (s *Store) Recent(ctx context.Context, topic string, limit int) ([]Entry, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("journal store is closed")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, event_uuid, topic, symbol, payload, created_at FROM event_journal`
	args := []any{}
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, topic)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// BySymbol returns the newest entries touching one symbol, newest first.
func (s *Store) BySymbol(ctx context.Context, symbol string, limit int) ([]Entry, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("journal store is closed")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
SELECT id, event_uuid, topic, symbol, payload, created_at FROM event_journal
WHERE symbol = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		strings.ToUpper(strings.TrimSpace(symbol)), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.Topic, &e.Symbol, &payload, &created); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// extractSymbol pulls the symbol out of whatever payload shape was
// published. Order fills nest it under order.symbol.
func extractSymbol(payload []byte) string {
	for _, path := range []string{"symbol", "order.symbol", "position.symbol"} {
		if v := gjson.GetBytes(payload, path); v.Exists() {
			return strings.ToUpper(strings.TrimSpace(v.String()))
		}
	}
	return ""
}
