// Package config loads and validates the YAML configuration.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"quantra/internal/logger"
	"quantra/internal/scheduler"
)

// Load reads, defaults and validates the config file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-loads the file whenever it changes and hands the fresh config to
// onChange. Edits that fail to parse or validate are logged and skipped, the
// previous config stays in effect.
func Watch(path string, onChange func(*Config)) error {
	if onChange == nil {
		return fmt.Errorf("config watch requires a callback")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watching config file failed (%s): %w", path, err)
	}
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			logger.Warnf("config reload skipped: %v", err)
			return
		}
		logger.Event("config_reloaded", "path", path)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func validate(c *Config) error {
	switch c.Engine.Mode {
	case "paper", "live":
	default:
		return fmt.Errorf("engine.mode must be paper or live, got %q", c.Engine.Mode)
	}
	if c.Engine.Mode == "live" {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("live mode requires exchange.api_key and exchange.api_secret")
		}
	}
	if c.Engine.Leverage > c.Risk.MaxLeverage {
		return fmt.Errorf("engine.leverage %.0f exceeds risk.max_leverage %.0f",
			c.Engine.Leverage, c.Risk.MaxLeverage)
	}
	if c.Risk.MaxPositionRatio > 1 {
		return fmt.Errorf("risk.max_position_ratio must be <= 1, got %v", c.Risk.MaxPositionRatio)
	}
	for name, raw := range map[string]string{
		"engine.snapshot_interval": c.Engine.SnapshotInterval,
		"circuit.cooldown":         c.Circuit.Cooldown,
		"sync.interval":            c.Sync.Interval,
		"sync.call_timeout":        c.Sync.CallTimeout,
		"exchange.http_timeout":    c.Exchange.HTTPTimeout,
	} {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	switch c.Telegram.MinSeverity {
	case "INFO", "WARNING", "CRITICAL":
	default:
		return fmt.Errorf("telegram.min_severity must be INFO, WARNING or CRITICAL, got %q",
			c.Telegram.MinSeverity)
	}
	return nil
}

// parseDuration accepts both Go duration syntax ("1m30s") and the bare
// interval shorthand ("1d").
func parseDuration(raw string) (time.Duration, error) {
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d, nil
	}
	if d, ok := scheduler.ParseIntervalDuration(raw); ok {
		return d, nil
	}
	return 0, fmt.Errorf("invalid duration %q", raw)
}

// PaperSeed returns the configured slippage seed, or a wall-clock seed when
// none was set. Fixing the seed makes paper runs reproducible.
func (c *Config) PaperSeed() int64 {
	if c.Engine.PaperSeed != 0 {
		return c.Engine.PaperSeed
	}
	return time.Now().UnixNano()
}

// Duration helpers: validation guarantees these parse.

func (c *EngineConfig) SnapshotIntervalDuration() time.Duration {
	d, _ := parseDuration(c.SnapshotInterval)
	return d
}

func (c *CircuitConfig) CooldownDuration() time.Duration {
	d, _ := parseDuration(c.Cooldown)
	return d
}

func (c *SyncConfig) IntervalDuration() time.Duration {
	d, _ := parseDuration(c.Interval)
	return d
}

func (c *SyncConfig) CallTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.CallTimeout)
	return d
}

func (c *ExchangeConfig) HTTPTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.HTTPTimeout)
	return d
}
