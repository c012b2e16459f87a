package strategy

import (
	"fmt"
	"strings"

	"github.com/markcheno/go-talib"

	"quantpilot/internal/market"
)

// 把策略文档编译为可执行形态：指标求值计划 + 规则树。
// 编译期只做符号解析，指标序列在 Bind 时基于真实 K 线计算。

type operandKind int

const (
	operandSeries operandKind = iota
	operandLiteral
)

type operand struct {
	kind    operandKind
	name    string
	literal float64
}

type condition struct {
	left  operand
	op    string
	right operand
}

type rule struct {
	all   []rule
	any   []rule
	leaf  *condition
}

type plan struct {
	indicators []indicatorSpec
	entry      rule
	exit       rule
	warmup     int
}

var priceFields = map[string]bool{"open": true, "high": true, "low": true, "close": true}

func compile(doc *document) (*plan, error) {
	names := make(map[string]indicatorSpec, len(doc.Indicators))
	warmup := 1
	for _, ind := range doc.Indicators {
		key := strings.TrimSpace(ind.Name)
		if priceFields[key] {
			return nil, materializeErrf("指标名 %q 与价格字段冲突", key)
		}
		if _, dup := names[key]; dup {
			return nil, materializeErrf("指标名 %q 重复定义", key)
		}
		lb, err := indicatorLookback(ind)
		if err != nil {
			return nil, err
		}
		if lb+1 > warmup {
			warmup = lb + 1
		}
		names[key] = ind
	}
	entry, err := compileRule(doc.Entry, names)
	if err != nil {
		return nil, materializeErrf("entry 规则无效: %v", err)
	}
	exit, err := compileRule(doc.Exit, names)
	if err != nil {
		return nil, materializeErrf("exit 规则无效: %v", err)
	}
	return &plan{
		indicators: doc.Indicators,
		entry:      entry,
		exit:       exit,
		warmup:     warmup,
	}, nil
}

func indicatorLookback(ind indicatorSpec) (int, error) {
	switch ind.Kind {
	case "SMA", "EMA", "RSI", "HIGHEST", "LOWEST":
		if ind.Period < 1 {
			return 0, materializeErrf("指标 %s(%s) 缺少合法 period", ind.Name, ind.Kind)
		}
		return ind.Period, nil
	case "ATR":
		if ind.Period < 1 {
			return 0, materializeErrf("指标 %s(ATR) 缺少合法 period", ind.Name)
		}
		return ind.Period + 1, nil
	case "MACD":
		fast, slow, signal := macdPeriods(ind)
		if fast >= slow {
			return 0, materializeErrf("指标 %s(MACD) fast_period 必须小于 slow_period", ind.Name)
		}
		return slow + signal, nil
	default:
		return 0, materializeErrf("未知指标类型 %q", ind.Kind)
	}
}

func macdPeriods(ind indicatorSpec) (int, int, int) {
	fast, slow, signal := ind.FastPeriod, ind.SlowPeriod, ind.SignalPeriod
	if fast <= 0 {
		fast = 12
	}
	if slow <= 0 {
		slow = 26
	}
	if signal <= 0 {
		signal = 9
	}
	return fast, slow, signal
}

func compileRule(node ruleNode, names map[string]indicatorSpec) (rule, error) {
	switch {
	case len(node.All) > 0:
		out := rule{}
		for _, child := range node.All {
			sub, err := compileRule(child, names)
			if err != nil {
				return rule{}, err
			}
			out.all = append(out.all, sub)
		}
		return out, nil
	case len(node.Any) > 0:
		out := rule{}
		for _, child := range node.Any {
			sub, err := compileRule(child, names)
			if err != nil {
				return rule{}, err
			}
			out.any = append(out.any, sub)
		}
		return out, nil
	default:
		if node.Op == "" {
			return rule{}, fmt.Errorf("规则节点既不是条件也不是 all/any 组合")
		}
		left, err := compileOperandName(node.Left, names)
		if err != nil {
			return rule{}, err
		}
		right, err := compileOperandValue(node.Right, names)
		if err != nil {
			return rule{}, err
		}
		return rule{leaf: &condition{left: left, op: node.Op, right: right}}, nil
	}
}

func compileOperandName(name string, names map[string]indicatorSpec) (operand, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return operand{}, fmt.Errorf("条件缺少 left 操作数")
	}
	if priceFields[name] {
		return operand{kind: operandSeries, name: name}, nil
	}
	if _, ok := names[name]; !ok {
		return operand{}, fmt.Errorf("引用了未定义的指标 %q", name)
	}
	return operand{kind: operandSeries, name: name}, nil
}

func compileOperandValue(v any, names map[string]indicatorSpec) (operand, error) {
	switch val := v.(type) {
	case string:
		return compileOperandName(val, names)
	case float64:
		return operand{kind: operandLiteral, literal: val}, nil
	case int:
		return operand{kind: operandLiteral, literal: float64(val)}, nil
	case nil:
		return operand{}, fmt.Errorf("条件缺少 right 操作数")
	default:
		return operand{}, fmt.Errorf("right 操作数类型非法: %T", v)
	}
}

// computeSeries 基于 K 线计算全部指标序列与价格序列。
func computeSeries(indicators []indicatorSpec, candles []market.Candle) (map[string][]float64, error) {
	n := len(candles)
	opens := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		opens[i] = c.Open
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	series := map[string][]float64{
		"open":  opens,
		"high":  highs,
		"low":   lows,
		"close": closes,
	}
	for _, ind := range indicators {
		src := closes
		switch ind.Source {
		case "", "close":
		case "open":
			src = opens
		case "high":
			src = highs
		case "low":
			src = lows
		}
		if required := requiredBars(ind); n < required {
			return nil, fmt.Errorf("指标 %s(%s) 需要至少 %d 根 K 线，仅有 %d", ind.Name, ind.Kind, required, n)
		}
		switch ind.Kind {
		case "SMA":
			series[ind.Name] = talib.Sma(src, ind.Period)
		case "EMA":
			series[ind.Name] = talib.Ema(src, ind.Period)
		case "RSI":
			series[ind.Name] = talib.Rsi(src, ind.Period)
		case "ATR":
			series[ind.Name] = talib.Atr(highs, lows, closes, ind.Period)
		case "HIGHEST":
			series[ind.Name] = talib.Max(src, ind.Period)
		case "LOWEST":
			series[ind.Name] = talib.Min(src, ind.Period)
		case "MACD":
			fast, slow, signal := macdPeriods(ind)
			macd, sig, hist := talib.Macd(src, fast, slow, signal)
			switch ind.Output {
			case "signal":
				series[ind.Name] = sig
			case "hist":
				series[ind.Name] = hist
			default:
				series[ind.Name] = macd
			}
		}
	}
	return series, nil
}

func requiredBars(ind indicatorSpec) int {
	lb, err := indicatorLookback(ind)
	if err != nil {
		return 1
	}
	return lb + 1
}

func (o operand) at(series map[string][]float64, i int) float64 {
	if o.kind == operandLiteral {
		return o.literal
	}
	return series[o.name][i]
}

func (r rule) eval(series map[string][]float64, i int) bool {
	switch {
	case len(r.all) > 0:
		for _, sub := range r.all {
			if !sub.eval(series, i) {
				return false
			}
		}
		return true
	case len(r.any) > 0:
		for _, sub := range r.any {
			if sub.eval(series, i) {
				return true
			}
		}
		return false
	case r.leaf != nil:
		return r.leaf.eval(series, i)
	default:
		return false
	}
}

func (c *condition) eval(series map[string][]float64, i int) bool {
	lv := c.left.at(series, i)
	rv := c.right.at(series, i)
	switch c.op {
	case "gt":
		return lv > rv
	case "lt":
		return lv < rv
	case "gte":
		return lv >= rv
	case "lte":
		return lv <= rv
	case "crosses_above":
		if i == 0 {
			return false
		}
		return lv > rv && c.left.at(series, i-1) <= c.right.at(series, i-1)
	case "crosses_below":
		if i == 0 {
			return false
		}
		return lv < rv && c.left.at(series, i-1) >= c.right.at(series, i-1)
	default:
		return false
	}
}
