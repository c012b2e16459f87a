package strategy

import (
	"errors"
	"fmt"
)

// EntryPointName 生成代码必须声明的唯一入口名。
const EntryPointName = "GeneratedStrategy"

// Source 一次尝试所用的策略文本，不可变；修复产生新的 Source 而非原地修改。
type Source struct {
	Text       string
	EntryPoint string
}

// NewSource 以规范入口名构造 Source。
func NewSource(text string) Source {
	return Source{Text: text, EntryPoint: EntryPointName}
}

// ErrMissingEntryPoint 策略文本未声明规范入口。
var ErrMissingEntryPoint = errors.New("策略未声明 " + EntryPointName + " 入口")

// MaterializeError 策略文本无法物化为可执行单元（JSON 非法、schema 不符、指标未知等）。
type MaterializeError struct {
	Reason string
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("策略物化失败: %s", e.Reason)
}

func materializeErrf(format string, v ...any) *MaterializeError {
	return &MaterializeError{Reason: fmt.Sprintf(format, v...)}
}
