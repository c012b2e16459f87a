package config

import "fmt"

func validate(c *Config) error {
	if c.Oracle.APIKey == "" {
		return fmt.Errorf("oracle.api_key 未配置（也可通过 OPENAI_API_KEY 环境变量注入）")
	}
	if c.Backtest.MaxRetry > 10 {
		return fmt.Errorf("backtest.max_retry 过大: %d", c.Backtest.MaxRetry)
	}
	if c.Backtest.AttemptTimeoutSeconds > 3600 {
		return fmt.Errorf("backtest.attempt_timeout_seconds 过大: %d", c.Backtest.AttemptTimeoutSeconds)
	}
	return nil
}
