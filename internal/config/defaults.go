package config

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Oracle.BaseURL == "" {
		c.Oracle.BaseURL = "https://api.openai.com/v1"
	}
	if c.Oracle.Model == "" {
		c.Oracle.Model = "gpt-4o-mini"
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		c.Oracle.TimeoutSeconds = 60
	}
	if c.Oracle.MaxRetries < 0 {
		c.Oracle.MaxRetries = 0
	}
	if c.Market.Interval == "" {
		c.Market.Interval = "1d"
	}
	if c.Market.RateLimitPerMin <= 0 {
		c.Market.RateLimitPerMin = 480
	}
	if c.Market.MaxBatch <= 0 {
		c.Market.MaxBatch = 1000
	}
	if c.Backtest.InitialCash <= 0 {
		c.Backtest.InitialCash = 100000
	}
	if c.Backtest.Stake <= 0 {
		c.Backtest.Stake = 10
	}
	if c.Backtest.MaxRetry <= 0 {
		c.Backtest.MaxRetry = 3
	}
	if c.Backtest.AttemptTimeoutSeconds <= 0 {
		c.Backtest.AttemptTimeoutSeconds = 300
	}
	if c.Backtest.MaxConcurrent <= 0 {
		c.Backtest.MaxConcurrent = 2
	}
	if c.Backtest.StrategiesDir == "" {
		c.Backtest.StrategiesDir = "data/strategies"
	}
	if c.Backtest.DataDir == "" {
		c.Backtest.DataDir = "data"
	}
	if c.Backtest.ReportDir == "" {
		c.Backtest.ReportDir = "data/reports"
	}
	if c.Backtest.RetentionHours < 0 {
		c.Backtest.RetentionHours = 0
	}
}
