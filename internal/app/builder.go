package app

import (
	"fmt"
	"path/filepath"
	"time"

	"quantpilot/internal/backtest"
	qpcfg "quantpilot/internal/config"
	"quantpilot/internal/market"
	"quantpilot/internal/oracle"
	"quantpilot/internal/strategy"
	"quantpilot/internal/task"
	chathttp "quantpilot/internal/transport/http/chat"
)

// AppBuilder 手工装配依赖，测试可以通过覆盖点替换外部组件。
type AppBuilder struct {
	cfg *qpcfg.Config

	providerOverride   market.Provider
	backtesterOverride task.Backtester
	repairerOverride   task.Repairer
}

type AppBuilderOption func(*AppBuilder)

// WithProvider 替换行情数据源（测试用）。
func WithProvider(p market.Provider) AppBuilderOption {
	return func(b *AppBuilder) { b.providerOverride = p }
}

// WithBacktester 替换整个回测执行器（测试用）。
func WithBacktester(bt task.Backtester) AppBuilderOption {
	return func(b *AppBuilder) { b.backtesterOverride = bt }
}

// WithRepairer 替换修复器（测试用）。
func WithRepairer(r task.Repairer) AppBuilderOption {
	return func(b *AppBuilder) { b.repairerOverride = r }
}

func NewAppBuilder(cfg *qpcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	// 策略工件
	artifacts, err := strategy.NewArtifactStore(cfg.Backtest.StrategiesDir)
	if err != nil {
		return nil, fmt.Errorf("初始化策略工件目录失败: %w", err)
	}
	loader, err := strategy.NewLoader(artifacts)
	if err != nil {
		return nil, err
	}

	// 回测执行链
	backtester := b.backtesterOverride
	if backtester == nil {
		provider := b.providerOverride
		if provider == nil {
			provider = market.NewBinanceProvider(market.BinanceConfig{
				BaseURL:         cfg.Market.BaseURL,
				RateLimitPerMin: cfg.Market.RateLimitPerMin,
				MaxBatch:        cfg.Market.MaxBatch,
			})
		}
		var reporter *backtest.Reporter
		if cfg.Backtest.ReportDir != "" {
			reporter, err = backtest.NewReporter(cfg.Backtest.ReportDir)
			if err != nil {
				return nil, fmt.Errorf("初始化回测报告目录失败: %w", err)
			}
		}
		runner, err := backtest.NewRunner(backtest.RunnerConfig{
			Loader:   loader,
			Provider: provider,
			Interval: cfg.Market.Interval,
			Engine: backtest.EngineConfig{
				InitialCash: cfg.Backtest.InitialCash,
				Stake:       cfg.Backtest.Stake,
			},
			Reporter: reporter,
		})
		if err != nil {
			return nil, err
		}
		backtester = runner
	}

	// oracle
	registry, err := oracle.NewRegistry(cfg.Oracle.PromptFile)
	if err != nil {
		return nil, fmt.Errorf("加载提示词模板失败: %w", err)
	}
	llm := oracle.NewService(&oracle.ChatClient{
		BaseURL:    cfg.Oracle.BaseURL,
		APIKey:     cfg.Oracle.APIKey,
		Model:      cfg.Oracle.Model,
		Timeout:    time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Oracle.MaxRetries,
	}, registry)

	var repairer task.Repairer = llm
	if b.repairerOverride != nil {
		repairer = b.repairerOverride
	}

	// 任务闭环
	taskStore, err := task.NewStore(filepath.Join(cfg.Backtest.DataDir, "tasks.db"))
	if err != nil {
		return nil, fmt.Errorf("初始化任务存储失败: %w", err)
	}
	ctrl := &task.Controller{
		Backtester:     backtester,
		Repairer:       repairer,
		MaxRetry:       cfg.Backtest.MaxRetry,
		AttemptTimeout: time.Duration(cfg.Backtest.AttemptTimeoutSeconds) * time.Second,
	}
	tasks := task.NewService(ctrl, taskStore, cfg.Backtest.MaxConcurrent)

	srv, err := chathttp.NewServer(chathttp.Config{
		Addr:   cfg.HTTP.Addr,
		Oracle: llm,
		Tasks:  tasks,
	})
	if err != nil {
		tasks.Close()
		taskStore.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		http:      srv,
		tasks:     tasks,
		taskStore: taskStore,
		artifacts: artifacts,
		retention: time.Duration(cfg.Backtest.RetentionHours) * time.Hour,
	}, nil
}
