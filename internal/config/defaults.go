package config

func (c *Config) applyDefaults() {
	if c.Engine.Mode == "" {
		c.Engine.Mode = "paper"
	}
	if c.Engine.Direction == "" {
		c.Engine.Direction = "both"
	}
	if c.Engine.Leverage <= 0 {
		c.Engine.Leverage = 1
	}
	if c.Engine.InitialBalance <= 0 {
		c.Engine.InitialBalance = 10000
	}
	if c.Engine.SnapshotInterval == "" {
		c.Engine.SnapshotInterval = "1m"
	}

	if c.Risk.MaxPositionRatio <= 0 {
		c.Risk.MaxPositionRatio = 0.5
	}
	if c.Risk.MaxOpenPositions <= 0 {
		c.Risk.MaxOpenPositions = 5
	}
	if c.Risk.MaxLeverage <= 0 {
		c.Risk.MaxLeverage = 20
	}
	if c.Risk.MaxSlippagePct <= 0 {
		c.Risk.MaxSlippagePct = 0.05
	}
	if c.Risk.CommissionRate <= 0 {
		c.Risk.CommissionRate = 0.0004
	}

	if c.Circuit.FailureThreshold <= 0 {
		c.Circuit.FailureThreshold = 5
	}
	if c.Circuit.Cooldown == "" {
		c.Circuit.Cooldown = "30s"
	}
	if c.Circuit.HalfOpenTrials <= 0 {
		c.Circuit.HalfOpenTrials = 1
	}

	if c.Sync.Interval == "" {
		c.Sync.Interval = "30s"
	}
	if c.Sync.CallTimeout == "" {
		c.Sync.CallTimeout = "5s"
	}

	if c.Exchange.Name == "" {
		c.Exchange.Name = "binance"
	}
	if c.Exchange.HTTPTimeout == "" {
		c.Exchange.HTTPTimeout = "10s"
	}

	if c.Store.Path == "" {
		c.Store.Path = "data/quantra.db"
	}
	if c.Store.JournalPath == "" {
		c.Store.JournalPath = "data/journal.db"
	}

	if c.Telegram.MinSeverity == "" {
		c.Telegram.MinSeverity = "CRITICAL"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
