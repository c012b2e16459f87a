package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quantpilot/internal/backtest"
	"quantpilot/internal/logger"
	"quantpilot/internal/oracle"
	"quantpilot/internal/strategy"
)

// Backtester 执行一次回测尝试。
type Backtester interface {
	Run(ctx context.Context, src strategy.Source, req backtest.Request) (*backtest.Result, error)
}

// Repairer 用失败上下文换取修复后的策略文本。
type Repairer interface {
	Repair(ctx context.Context, userIntent, failingSource, errorMsg string) (string, error)
}

// Controller 驱动 生成→执行→诊断→修复 的重试闭环。
// MaxRetry 计的是回测尝试次数：第 MaxRetry 次仍失败时直接终止，不再调用修复。
type Controller struct {
	Backtester     Backtester
	Repairer       Repairer
	MaxRetry       int
	AttemptTimeout time.Duration
}

// Outcome 闭环结束后的汇总。成功时 Result 非空；Failures 始终保留全部失败历史。
type Outcome struct {
	Result   *backtest.Result
	Source   strategy.Source
	Attempts int
	Failures []Attempt
}

// ExhaustedError 重试额度用尽。Error 文本给出最后一次失败原因。
type ExhaustedError struct {
	Failures []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return "重试次数已用尽"
	}
	last := e.Failures[len(e.Failures)-1]
	return fmt.Sprintf("重试 %d 次后仍失败，最后错误[%s]: %s", len(e.Failures), last.Kind, last.Message)
}

// Execute 跑完整个闭环。
// 返回非空 error 的三种情况：重试耗尽（*ExhaustedError）、oracle 修复调用失败
//（*oracle.Error，视为致命）、外部取消（ctx.Err 包装）。
func (c *Controller) Execute(ctx context.Context, src strategy.Source, req backtest.Request) (*Outcome, error) {
	maxRetry := c.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 3
	}
	out := &Outcome{Source: src}

	cur := src
	for attempt := 1; attempt <= maxRetry; attempt++ {
		out.Attempts = attempt
		logger.Infof("[task] 回测尝试 %d/%d, symbol=%s", attempt, maxRetry, req.Symbol)

		res, err := c.runAttempt(ctx, cur, req)
		if err == nil {
			out.Result = res
			out.Source = cur
			logger.Infof("[task] 尝试 %d 成功, symbol=%s, 成交 %d 笔", attempt, req.Symbol, res.ClosedTrades)
			return out, nil
		}
		if ctx.Err() != nil {
			// 外部取消优先于失败分类
			return out, fmt.Errorf("任务被终止: %w", ctx.Err())
		}

		ae := backtest.Classify(err)
		out.Failures = append(out.Failures, Attempt{Seq: attempt, Kind: ae.Kind, Message: ae.Message})
		logger.Warnf("[task] 尝试 %d 失败, kind=%s: %s", attempt, ae.Kind, ae.Message)

		if attempt == maxRetry {
			return out, &ExhaustedError{Failures: out.Failures}
		}

		logger.Infof("[task] 请求修复, 尝试 %d → %d", attempt, attempt+1)
		fixed, rerr := c.Repairer.Repair(ctx, req.UserIntent, cur.Text, ae.Message)
		if rerr != nil {
			var oerr *oracle.Error
			if errors.As(rerr, &oerr) {
				logger.Errorf("[task] 修复调用失败（致命）: %v", rerr)
			}
			return out, rerr
		}
		cur = strategy.NewSource(fixed)
		out.Source = cur
	}
	// maxRetry >= 1 时到不了这里
	return out, &ExhaustedError{Failures: out.Failures}
}

func (c *Controller) runAttempt(ctx context.Context, src strategy.Source, req backtest.Request) (*backtest.Result, error) {
	if c.AttemptTimeout > 0 {
		actx, cancel := context.WithTimeout(ctx, c.AttemptTimeout)
		defer cancel()
		res, err := c.Backtester.Run(actx, src, req)
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			// 单次尝试超时按普通失败处理，仍可进入修复
			return nil, &backtest.AttemptError{
				Kind:    backtest.KindEngine,
				Message: fmt.Sprintf("单次回测超过 %s 未完成", c.AttemptTimeout),
			}
		}
		return res, err
	}
	return c.Backtester.Run(ctx, src, req)
}
