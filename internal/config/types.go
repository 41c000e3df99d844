package config

// Config is the root of the YAML configuration tree.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Circuit  CircuitConfig  `mapstructure:"circuit"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Store    StoreConfig    `mapstructure:"store"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Log      LogConfig      `mapstructure:"log"`
}

// EngineConfig describes the run itself.
type EngineConfig struct {
	Mode             string   `mapstructure:"mode"` // "paper" or "live"
	Symbols          []string `mapstructure:"symbols"`
	Direction        string   `mapstructure:"direction"`
	Leverage         float64  `mapstructure:"leverage"`
	InitialBalance   float64  `mapstructure:"initial_balance"`
	SnapshotInterval string   `mapstructure:"snapshot_interval"`
	PaperSeed        int64    `mapstructure:"paper_seed"`
}

// RiskConfig parameterizes the risk manager and the paper executor.
type RiskConfig struct {
	MaxPositionRatio float64 `mapstructure:"max_position_ratio"`
	MaxOpenPositions int     `mapstructure:"max_open_positions"`
	MaxLeverage      float64 `mapstructure:"max_leverage"`
	DailyLossLimit   float64 `mapstructure:"daily_loss_limit"`
	MaxSlippagePct   float64 `mapstructure:"max_slippage_pct"`
	CommissionRate   float64 `mapstructure:"commission_rate"`
}

// CircuitConfig parameterizes the exchange circuit breaker.
type CircuitConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold"`
	Cooldown         string `mapstructure:"cooldown"`
	HalfOpenTrials   int    `mapstructure:"half_open_trials"`
}

// SyncConfig parameterizes position reconciliation.
type SyncConfig struct {
	Interval    string `mapstructure:"interval"`
	CallTimeout string `mapstructure:"call_timeout"`
}

// ExchangeConfig holds exchange credentials and transport knobs.
type ExchangeConfig struct {
	Name        string `mapstructure:"name"`
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	BaseURL     string `mapstructure:"base_url"`
	ProxyURL    string `mapstructure:"proxy_url"`
	HTTPTimeout string `mapstructure:"http_timeout"`
}

// StoreConfig names the SQLite files.
type StoreConfig struct {
	Path        string `mapstructure:"path"`
	JournalPath string `mapstructure:"journal_path"`
}

// TelegramConfig enables the alert relay.
type TelegramConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BotToken    string `mapstructure:"bot_token"`
	ChatID      string `mapstructure:"chat_id"`
	MinSeverity string `mapstructure:"min_severity"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}
