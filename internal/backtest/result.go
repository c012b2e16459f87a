package backtest

// Result 一次成功回测的绩效汇总。
// 不变量：ClosedTrades > 0（零成交不会以 Result 形式返回，见零成交策略）。
type Result struct {
	Symbol       string   `json:"symbol"`
	ReturnPct    float64  `json:"return_pct"`    // 对数总收益 ln(end/start)
	AnnualReturn float64  `json:"annual_return"` // 年化收益
	MaxDrawdown  float64  `json:"max_drawdown"`  // 最大回撤百分比
	Sharpe       *float64 `json:"sharpe"`        // 方差为零等无定义场景为 null
	StartValue   float64  `json:"start_value"`
	EndValue     float64  `json:"end_value"`
	Profit       float64  `json:"profit"`
	ClosedTrades int      `json:"closed_trades"`
}

// Request 描述一次回测请求。
type Request struct {
	Symbol     string `json:"symbol"`
	StartTS    int64  `json:"start_ts"`
	EndTS      int64  `json:"end_ts"` // 0 表示到最新
	UserIntent string `json:"user_intent,omitempty"`
}
