package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quantpilot/internal/logger"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"
)

const maxKlineLimit = 1000

// BinanceProvider 基于 go-binance 现货 klines 接口实现 Provider。
type BinanceProvider struct {
	client   *binance.Client
	limiter  *rate.Limiter
	maxBatch int
}

type BinanceConfig struct {
	BaseURL         string
	RateLimitPerMin int
	MaxBatch        int
}

func NewBinanceProvider(cfg BinanceConfig) *BinanceProvider {
	client := binance.NewClient("", "")
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		perSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 || maxBatch > maxKlineLimit {
		maxBatch = maxKlineLimit
	}
	return &BinanceProvider{
		client:   client,
		limiter:  rate.NewLimiter(perSec, maxBatch),
		maxBatch: maxBatch,
	}
}

func (p *BinanceProvider) Name() string { return "binance" }

// FetchRange 按批翻页拉取整个区间，返回标准化前的原始序列。
func (p *BinanceProvider) FetchRange(ctx context.Context, symbol, interval string, start, end int64) ([]Candle, error) {
	symbol = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval 不能为空")
	}
	if end <= 0 {
		end = time.Now().UnixMilli()
	}
	if start > 0 && end <= start {
		return nil, fmt.Errorf("start/end 区间非法: [%d,%d]", start, end)
	}

	var out []Candle
	cursor := start
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		svc := p.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(p.maxBatch)
		if cursor > 0 {
			svc = svc.StartTime(cursor)
		}
		svc = svc.EndTime(end)
		kls, err := svc.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance 拉取失败: %w", err)
		}
		if len(kls) == 0 {
			break
		}
		for _, k := range kls {
			c, err := convertKline(k)
			if err != nil {
				logger.Warnf("[market] 丢弃无法解析的 K 线 %s@%d: %v", symbol, k.OpenTime, err)
				continue
			}
			out = append(out, c)
		}
		last := kls[len(kls)-1].CloseTime
		if len(kls) < p.maxBatch || last >= end {
			break
		}
		cursor = last + 1
	}
	logger.Debugf("[market] %s %s [%d,%d] 拉取 %d 根", symbol, interval, start, end, len(out))
	return out, nil
}

func convertKline(k *binance.Kline) (Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return Candle{}, err
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return Candle{}, err
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return Candle{}, err
	}
	closeP, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return Candle{}, err
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return Candle{}, err
	}
	return Candle{
		OpenTime:  k.OpenTime,
		CloseTime: k.CloseTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeP,
		Volume:    vol,
	}, nil
}
