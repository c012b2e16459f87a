package market

import "sort"

// Normalize 把原始序列整理为引擎可用的扁平时间序列：
// 按开盘时间升序、去重、截断到 [start,end]（end<=0 表示不截断右端）。
func Normalize(candles []Candle, start, end int64) []Candle {
	if len(candles) == 0 {
		return nil
	}
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if start > 0 && c.OpenTime < start {
			continue
		}
		if end > 0 && c.OpenTime > end {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	dedup := out[:1]
	for _, c := range out[1:] {
		if c.OpenTime == dedup[len(dedup)-1].OpenTime {
			dedup[len(dedup)-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup
}
