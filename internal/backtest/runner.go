package backtest

import (
	"context"
	"fmt"
	"strings"

	"quantpilot/internal/logger"
	"quantpilot/internal/market"
	"quantpilot/internal/strategy"
)

// RunnerConfig 组装 Runner 的依赖与引擎参数。
type RunnerConfig struct {
	Loader   *strategy.Loader
	Provider market.Provider
	Interval string
	Engine   EngineConfig
	Reporter *Reporter
}

// Runner 把一份策略文本跑成一次完整回测：
// 物化 → 拉取行情 → 标准化 → 引擎模拟 → analyzer 汇总 → 零成交判定。
type Runner struct {
	loader   *strategy.Loader
	provider market.Provider
	interval string
	engine   *Engine
	reporter *Reporter
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("loader 不能为空")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("market provider 不能为空")
	}
	interval := strings.TrimSpace(cfg.Interval)
	if interval == "" {
		interval = "1d"
	}
	return &Runner{
		loader:   cfg.Loader,
		provider: cfg.Provider,
		interval: interval,
		engine:   NewEngine(cfg.Engine),
		reporter: cfg.Reporter,
	}, nil
}

// Run 执行一次尝试；所有失败以分类后的 AttemptError 返回。
func (r *Runner) Run(ctx context.Context, src strategy.Source, req Request) (*Result, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return nil, attemptErrf(KindInternal, "symbol 不能为空")
	}
	if req.EndTS > 0 && req.StartTS > req.EndTS {
		return nil, attemptErrf(KindInternal, "start/end 区间非法: [%d,%d]", req.StartTS, req.EndTS)
	}

	loadable, err := r.loader.Materialize(src)
	if err != nil {
		// 物化失败原样分类向上传递
		return nil, Classify(err)
	}

	raw, err := r.provider.FetchRange(ctx, req.Symbol, r.interval, req.StartTS, req.EndTS)
	if err != nil {
		return nil, attemptErrf(KindEngine, "行情拉取失败: %v", err)
	}
	candles := market.Normalize(raw, req.StartTS, req.EndTS)
	if len(candles) == 0 {
		// 与数据源故障区分：空序列多半意味着 symbol/日期有误
		return nil, attemptErrf(KindNoMarketData, "symbol=%s 在请求区间内没有任何行情数据，请检查代码或日期范围", req.Symbol)
	}
	logger.Debugf("[runner] %s 标准化后 %d 根 K 线，策略 id=%s", req.Symbol, len(candles), loadable.ID)

	out, err := r.engine.Run(loadable, candles)
	if err != nil {
		return nil, Classify(err)
	}

	trades := analyzeTrades(out)
	if trades.Closed == 0 {
		// 零成交策略：跑完但从未触发信号，按策略逻辑错误送回修复循环
		return nil, attemptErrf(KindNoTrades, "symbol=%s 回测完成但没有任何成交，策略很可能从未触发买卖信号", req.Symbol)
	}

	rets := analyzeReturns(out)
	result := &Result{
		Symbol:       req.Symbol,
		ReturnPct:    rets.RTot,
		AnnualReturn: rets.RNorm,
		MaxDrawdown:  analyzeDrawdown(out),
		Sharpe:       analyzeSharpe(out),
		StartValue:   out.startValue,
		EndValue:     out.endValue,
		Profit:       out.endValue - out.startValue,
		ClosedTrades: trades.Closed,
	}
	if r.reporter != nil {
		if path, rerr := r.reporter.Render(loadable.ID, req.Symbol, out, result); rerr != nil {
			logger.Warnf("[runner] 生成回测报告失败: %v", rerr)
		} else if path != "" {
			logger.Infof("[runner] 回测报告已生成: %s", path)
		}
	}
	return result, nil
}
