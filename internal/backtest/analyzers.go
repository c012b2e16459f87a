package backtest

import "math"

// 各 analyzer 把引擎原始输出折算成标准绩效指标。
// 口径对齐常见回测框架：rtot 为对数总收益，rnorm 为按交易日年化的收益。

const tradingDaysPerYear = 252

type returnsAnalysis struct {
	RTot  float64 // ln(end/start)
	RNorm float64 // 年化收益
}

func analyzeReturns(out *runOutput) returnsAnalysis {
	if out.startValue <= 0 || out.endValue <= 0 {
		return returnsAnalysis{}
	}
	ratio := out.endValue / out.startValue
	bars := len(out.equity)
	res := returnsAnalysis{RTot: math.Log(ratio)}
	if bars > 0 {
		res.RNorm = math.Pow(ratio, tradingDaysPerYear/float64(bars)) - 1
	}
	return res
}

// analyzeDrawdown 返回最大回撤百分比（0~100）。
func analyzeDrawdown(out *runOutput) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, eq := range out.equity {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			dd := (peak - eq) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// analyzeSharpe 基于资金曲线的逐根收益年化 Sharpe；方差为零或样本不足返回 nil。
func analyzeSharpe(out *runOutput) *float64 {
	if len(out.equity) < 3 {
		return nil
	}
	rets := make([]float64, 0, len(out.equity)-1)
	for i := 1; i < len(out.equity); i++ {
		prev := out.equity[i-1]
		if prev <= 0 {
			return nil
		}
		rets = append(rets, out.equity[i]/prev-1)
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	variance := 0.0
	for _, r := range rets {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(rets) - 1)
	if variance <= 0 {
		return nil
	}
	sharpe := mean / math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
	if math.IsNaN(sharpe) || math.IsInf(sharpe, 0) {
		return nil
	}
	return &sharpe
}

type tradeAnalysis struct {
	Closed int
	Won    int
	Lost   int
	NetPnL float64
}

// analyzeTrades 对异常形态保守处理：引擎输出缺失时一律按零笔计。
func analyzeTrades(out *runOutput) tradeAnalysis {
	var res tradeAnalysis
	if out == nil || out.trades == nil {
		return res
	}
	for _, tr := range out.trades {
		res.Closed++
		res.NetPnL += tr.PnL
		if tr.PnL > 0 {
			res.Won++
		} else {
			res.Lost++
		}
	}
	return res
}
