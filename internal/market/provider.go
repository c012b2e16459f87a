package market

import "context"

// Provider 抽象历史行情数据源：返回的序列可能为空（调用方自行判定）。
type Provider interface {
	// FetchRange 拉取 [start,end] 区间内的 K 线（Unix 毫秒，end<=0 表示到最新）。
	FetchRange(ctx context.Context, symbol, interval string, start, end int64) ([]Candle, error)
	Name() string
}
