package types

import "time"

// SessionStatus is the lifecycle state of a trading session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "RUNNING"
	SessionStopped   SessionStatus = "STOPPED"
	SessionCompleted SessionStatus = "COMPLETED"
)

// Session describes one paper or live run.
type Session struct {
	ID             string        `json:"id"`
	Mode           string        `json:"mode"` // "paper" or "live"
	Symbols        []string      `json:"symbols"`
	Direction      string        `json:"direction"`
	Leverage       float64       `json:"leverage"`
	InitialBalance float64       `json:"initial_balance"`
	Status         SessionStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	StoppedAt      *time.Time    `json:"stopped_at,omitempty"`
}

// Performance aggregates fill outcomes for a session.
type Performance struct {
	SessionID   string    `json:"session_id"`
	Balance     float64   `json:"balance"`
	RealizedPnL float64   `json:"realized_pnl"`
	Trades      int       `json:"trades"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Commission  float64   `json:"commission"`
	TakenAt     time.Time `json:"taken_at"`
}
