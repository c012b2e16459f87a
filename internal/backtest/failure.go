package backtest

import (
	"errors"
	"fmt"

	"quantpilot/internal/strategy"
)

// FailureKind 单次尝试的失败分类（见错误分级表）。
type FailureKind string

const (
	KindMaterialization   FailureKind = "materialization"
	KindMissingEntryPoint FailureKind = "missing_entry_point"
	KindNoMarketData      FailureKind = "no_market_data"
	KindEngine            FailureKind = "engine"
	KindNoTrades          FailureKind = "no_trades"
	KindInternal          FailureKind = "internal"
)

// AttemptError 一次回测尝试的已分类错误。
type AttemptError struct {
	Kind    FailureKind
	Message string
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func attemptErrf(kind FailureKind, format string, v ...any) *AttemptError {
	return &AttemptError{Kind: kind, Message: fmt.Sprintf(format, v...)}
}

// Classify 把任意错误收敛为 AttemptError。
// 未知错误保守地归为 internal：不吞错，也绝不让它击穿修复循环。
func Classify(err error) *AttemptError {
	if err == nil {
		return nil
	}
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, strategy.ErrMissingEntryPoint) {
		return &AttemptError{Kind: KindMissingEntryPoint, Message: err.Error()}
	}
	var me *strategy.MaterializeError
	if errors.As(err, &me) {
		return &AttemptError{Kind: KindMaterialization, Message: err.Error()}
	}
	return &AttemptError{Kind: KindInternal, Message: err.Error()}
}

// Failure 供修复环节使用：分类 + 可读信息 + 产生失败的策略文本。
type Failure struct {
	Kind    FailureKind
	Message string
	Source  strategy.Source
}
