package backtest

import (
	"github.com/shopspring/decimal"

	"quantpilot/internal/logger"
	"quantpilot/internal/market"
	"quantpilot/internal/strategy"
)

// EngineConfig 引擎参数：固定初始资金 + 固定手数 sizer。
type EngineConfig struct {
	InitialCash float64
	Stake       float64
}

// Engine 逐根 K 线推演：收盘价市价成交，只做多，买入-卖出构成一笔完整交易。
type Engine struct {
	cfg EngineConfig
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = 100000
	}
	if cfg.Stake <= 0 {
		cfg.Stake = 10
	}
	return &Engine{cfg: cfg}
}

// trade 一笔已平仓的完整交易。
type trade struct {
	EntryIndex int
	ExitIndex  int
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	PnL        float64
}

// runOutput 引擎原始输出，交给各 analyzer 汇总。
type runOutput struct {
	startValue float64
	endValue   float64
	equity     []float64
	trades     []trade
}

// Run 执行一次完整模拟。策略实例由调用方独占，引擎不保留任何跨次状态。
func (e *Engine) Run(loadable *strategy.Loadable, candles []market.Candle) (*runOutput, error) {
	if len(candles) <= loadable.Warmup() {
		return nil, attemptErrf(KindEngine, "K 线数量不足：预热需要 %d 根，仅有 %d 根", loadable.Warmup(), len(candles))
	}
	if err := loadable.Bind(candles); err != nil {
		return nil, attemptErrf(KindEngine, "指标计算失败: %v", err)
	}

	cash := decimal.NewFromFloat(e.cfg.InitialCash)
	stake := decimal.NewFromFloat(e.cfg.Stake)
	var positionQty decimal.Decimal
	entryIndex := -1
	entryPrice := 0.0

	out := &runOutput{
		startValue: e.cfg.InitialCash,
		equity:     make([]float64, 0, len(candles)),
	}

	for i, bar := range candles {
		price := decimal.NewFromFloat(bar.Close)
		inPosition := positionQty.IsPositive()

		if inPosition && loadable.ExitSignal(i) {
			proceeds := positionQty.Mul(price)
			cash = cash.Add(proceeds)
			pnl := positionQty.Mul(price.Sub(decimal.NewFromFloat(entryPrice)))
			out.trades = append(out.trades, trade{
				EntryIndex: entryIndex,
				ExitIndex:  i,
				EntryPrice: entryPrice,
				ExitPrice:  bar.Close,
				Quantity:   positionQty.InexactFloat64(),
				PnL:        pnl.InexactFloat64(),
			})
			positionQty = decimal.Zero
			entryIndex = -1
			entryPrice = 0
		} else if !inPosition && loadable.EntrySignal(i) {
			cost := stake.Mul(price)
			if cost.LessThanOrEqual(cash) {
				cash = cash.Sub(cost)
				positionQty = stake
				entryIndex = i
				entryPrice = bar.Close
			} else {
				logger.Debugf("[engine] 第 %d 根资金不足，跳过买入（需要 %s，可用 %s）", i, cost.StringFixed(2), cash.StringFixed(2))
			}
		}

		equity := cash.Add(positionQty.Mul(price))
		out.equity = append(out.equity, equity.InexactFloat64())
	}

	// 未平仓头寸按最后收盘价计入期末市值，但不算已平仓交易
	final := cash.Add(positionQty.Mul(decimal.NewFromFloat(candles[len(candles)-1].Close)))
	out.endValue = final.InexactFloat64()
	return out, nil
}
