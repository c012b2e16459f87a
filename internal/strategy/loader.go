package strategy

import (
	"fmt"

	"quantpilot/internal/logger"
	"quantpilot/internal/market"
)

// Loader 把策略文本物化为可执行单元：持久化产物 + 解析入口 + 编译规则。
type Loader struct {
	store *ArtifactStore
}

func NewLoader(store *ArtifactStore) (*Loader, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact store 不能为空")
	}
	return &Loader{store: store}, nil
}

// Materialize 每次调用构造全新的 Loadable，互不共享任何状态。
func (l *Loader) Materialize(src Source) (*Loadable, error) {
	doc, err := parseDocument(src)
	if err != nil {
		return nil, err
	}
	pl, err := compile(doc)
	if err != nil {
		return nil, err
	}
	id, path, err := l.store.Save(src)
	if err != nil {
		return nil, &MaterializeError{Reason: err.Error()}
	}
	logger.Debugf("[strategy] 物化完成 id=%s path=%s warmup=%d", id, path, pl.warmup)
	return &Loadable{
		ID:         id,
		Path:       path,
		EntryPoint: src.EntryPoint,
		plan:       pl,
	}, nil
}

// Loadable 一次尝试独占的可执行策略实例。
type Loadable struct {
	ID         string
	Path       string
	EntryPoint string

	plan   *plan
	series map[string][]float64
	bars   int
}

// Warmup 返回产生首个有效信号前所需的 K 线数。
func (l *Loadable) Warmup() int {
	return l.plan.warmup
}

// Bind 基于给定序列计算全部指标；数据不足按引擎错误处理。
func (l *Loadable) Bind(candles []market.Candle) error {
	series, err := computeSeries(l.plan.indicators, candles)
	if err != nil {
		return err
	}
	l.series = series
	l.bars = len(candles)
	return nil
}

// EntrySignal 第 i 根 K 线收盘时是否触发开仓。
func (l *Loadable) EntrySignal(i int) bool {
	if l.series == nil || i < l.plan.warmup || i >= l.bars {
		return false
	}
	return l.plan.entry.eval(l.series, i)
}

// ExitSignal 第 i 根 K 线收盘时是否触发平仓。
func (l *Loadable) ExitSignal(i int) bool {
	if l.series == nil || i < l.plan.warmup || i >= l.bars {
		return false
	}
	return l.plan.exit.eval(l.series, i)
}
