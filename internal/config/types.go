package config

// Config 是 quantpilot 的主配置载体。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Market   MarketConfig   `mapstructure:"market"`
	Backtest BacktestConfig `mapstructure:"backtest"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	LLMLog   string `mapstructure:"llm_log_path"`
	LLMDump  bool   `mapstructure:"llm_dump_payload"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// OracleConfig 描述代码生成/修复所用的模型接入。
type OracleConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	PromptFile     string `mapstructure:"prompt_file"`
}

// MarketConfig 描述历史行情数据源。
type MarketConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	Interval        string `mapstructure:"interval"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
	MaxBatch        int    `mapstructure:"max_batch"`
}

// BacktestConfig 控制回测引擎与修复循环。
type BacktestConfig struct {
	InitialCash           float64 `mapstructure:"initial_cash"`
	Stake                 float64 `mapstructure:"stake"`
	MaxRetry              int     `mapstructure:"max_retry"`
	AttemptTimeoutSeconds int     `mapstructure:"attempt_timeout_seconds"`
	MaxConcurrent         int     `mapstructure:"max_concurrent"`
	StrategiesDir         string  `mapstructure:"strategies_dir"`
	RetentionHours        int     `mapstructure:"retention_hours"`
	DataDir               string  `mapstructure:"data_dir"`
	ReportDir             string  `mapstructure:"report_dir"`
}
