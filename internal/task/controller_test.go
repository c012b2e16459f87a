package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantpilot/internal/backtest"
	"quantpilot/internal/oracle"
	"quantpilot/internal/strategy"
)

type scriptedBacktester struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, ctx context.Context, src strategy.Source) (*backtest.Result, error)
}

func (b *scriptedBacktester) Run(ctx context.Context, src strategy.Source, req backtest.Request) (*backtest.Result, error) {
	b.mu.Lock()
	b.calls++
	call := b.calls
	b.mu.Unlock()
	return b.fn(call, ctx, src)
}

func (b *scriptedBacktester) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type scriptedRepairer struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, userIntent, failing, errMsg string) (string, error)
}

func (r *scriptedRepairer) Repair(ctx context.Context, userIntent, failingSource, errorMsg string) (string, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.mu.Unlock()
	return r.fn(call, userIntent, failingSource, errorMsg)
}

func (r *scriptedRepairer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func okResult() *backtest.Result {
	return &backtest.Result{Symbol: "BTCUSDT", StartValue: 100000, EndValue: 101000, Profit: 1000, ClosedTrades: 3}
}

var testReq = backtest.Request{Symbol: "BTCUSDT", StartTS: 1, EndTS: 2, UserIntent: "SMA 金叉买入"}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	bt := &scriptedBacktester{fn: func(call int, _ context.Context, _ strategy.Source) (*backtest.Result, error) {
		return okResult(), nil
	}}
	rp := &scriptedRepairer{fn: func(int, string, string, string) (string, error) {
		t.Fatal("首次成功不应触发修复")
		return "", nil
	}}
	c := &Controller{Backtester: bt, Repairer: rp, MaxRetry: 3}

	out, err := c.Execute(context.Background(), strategy.NewSource("{}"), testReq)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, out.Failures)
	assert.Equal(t, 3, out.Result.ClosedTrades)
}

func TestExecuteRepairsThenSucceeds(t *testing.T) {
	bt := &scriptedBacktester{fn: func(call int, _ context.Context, src strategy.Source) (*backtest.Result, error) {
		if call == 1 {
			return nil, &backtest.AttemptError{Kind: backtest.KindNoTrades, Message: "回测期间没有任何已平仓交易"}
		}
		assert.Equal(t, "fixed-v1", src.Text)
		return okResult(), nil
	}}
	rp := &scriptedRepairer{fn: func(call int, userIntent, failing, errMsg string) (string, error) {
		// 修复调用必须拿到原始意图、旧策略文本与失败原因
		assert.Equal(t, "SMA 金叉买入", userIntent)
		assert.Equal(t, "broken-v0", failing)
		assert.Contains(t, errMsg, "已平仓交易")
		return "fixed-v1", nil
	}}
	c := &Controller{Backtester: bt, Repairer: rp, MaxRetry: 3}

	out, err := c.Execute(context.Background(), strategy.NewSource("broken-v0"), testReq)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, backtest.KindNoTrades, out.Failures[0].Kind)
	assert.Equal(t, 1, out.Failures[0].Seq)
	assert.Equal(t, "fixed-v1", out.Source.Text)
}

func TestExecuteRepairsMissingEntryPoint(t *testing.T) {
	bt := &scriptedBacktester{fn: func(call int, _ context.Context, src strategy.Source) (*backtest.Result, error) {
		if call == 1 {
			return nil, &backtest.AttemptError{Kind: backtest.KindMissingEntryPoint, Message: "策略入口 GeneratedStrategy 不存在"}
		}
		return okResult(), nil
	}}
	rp := &scriptedRepairer{fn: func(_ int, _, _, errMsg string) (string, error) {
		assert.Contains(t, errMsg, "GeneratedStrategy")
		return `{"strategy":"GeneratedStrategy"}`, nil
	}}
	c := &Controller{Backtester: bt, Repairer: rp, MaxRetry: 3}

	out, err := c.Execute(context.Background(), strategy.NewSource(`{"strategy":"MyStrategy"}`), testReq)
	require.NoError(t, err)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, backtest.KindMissingEntryPoint, out.Failures[0].Kind)
}

func TestExecuteNoMarketDataEveryAttempt(t *testing.T) {
	bt := &scriptedBacktester{fn: func(int, context.Context, strategy.Source) (*backtest.Result, error) {
		return nil, &backtest.AttemptError{Kind: backtest.KindNoMarketData, Message: "无行情数据，请检查代码或日期范围"}
	}}
	rp := &scriptedRepairer{fn: func(call int, _, _, _ string) (string, error) {
		return fmt.Sprintf("v%d", call), nil
	}}
	c := &Controller{Backtester: bt, Repairer: rp, MaxRetry: 3}

	_, err := c.Execute(context.Background(), strategy.NewSource("v0"), testReq)
	var ee *ExhaustedError
	require.ErrorAs(t, err, &ee)
	require.Len(t, ee.Failures, 3)
	for _, f := range ee.Failures {
		assert.Equal(t, backtest.KindNoMarketData, f.Kind)
	}
	// 终态错误必须携带最后一次失败原因
	assert.Contains(t, err.Error(), "日期范围")
}

func TestExecuteExhaustsWithoutFinalRepair(t *testing.T) {
	bt := &scriptedBacktester{fn: func(call int, _ context.Context, _ strategy.Source) (*backtest.Result, error) {
		return nil, &backtest.AttemptError{Kind: backtest.KindEngine, Message: fmt.Sprintf("第 %d 次失败", call)}
	}}
	rp := &scriptedRepairer{fn: func(call int, _, _, _ string) (string, error) {
		return fmt.Sprintf("fixed-v%d", call), nil
	}}
	c := &Controller{Backtester: bt, Repairer: rp, MaxRetry: 3}

	out, err := c.Execute(context.Background(), strategy.NewSource("v0"), testReq)
	require.Error(t, err)
	var ee *ExhaustedError
	require.ErrorAs(t, err, &ee)
	assert.Len(t, ee.Failures, 3)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, bt.callCount())
	// 最后一次失败后直接终止，不再请求修复
	assert.Equal(t, 2, rp.callCount())
	assert.Contains(t, err.Error(), "第 3 次失败")
}

func TestExecuteOracleFailureIsFatal(t *testing.T) {
	bt := &scriptedBacktester{fn: func(int, context.Context, strategy.Source) (*backtest.Result, error) {
		return nil, &backtest.AttemptError{Kind: backtest.KindNoMarketData, Message: "无行情数据"}
	}}
	rp := &scriptedRepairer{fn: func(int, string, string, string) (string, error) {
		return "", &oracle.Error{Op: "repair", Err: errors.New("invalid api key")}
	}}
	c := &Controller{Backtester: bt, Repairer: rp, MaxRetry: 3}

	_, err := c.Execute(context.Background(), strategy.NewSource("v0"), testReq)
	require.Error(t, err)
	var oerr *oracle.Error
	require.ErrorAs(t, err, &oerr)
	// oracle 自身失败是致命的：不消耗剩余重试
	assert.Equal(t, 1, bt.callCount())
}

func TestExecuteAttemptTimeoutIsRepairable(t *testing.T) {
	bt := &scriptedBacktester{fn: func(call int, ctx context.Context, _ strategy.Source) (*backtest.Result, error) {
		if call == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return okResult(), nil
	}}
	rp := &scriptedRepairer{fn: func(int, string, string, string) (string, error) {
		return "fixed", nil
	}}
	c := &Controller{Backtester: bt, Repairer: rp, MaxRetry: 3, AttemptTimeout: 20 * time.Millisecond}

	out, err := c.Execute(context.Background(), strategy.NewSource("v0"), testReq)
	require.NoError(t, err)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, backtest.KindEngine, out.Failures[0].Kind)
	assert.Contains(t, out.Failures[0].Message, "未完成")
}

func TestExecuteExternalCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bt := &scriptedBacktester{fn: func(_ int, actx context.Context, _ strategy.Source) (*backtest.Result, error) {
		cancel()
		<-actx.Done()
		return nil, actx.Err()
	}}
	rp := &scriptedRepairer{fn: func(int, string, string, string) (string, error) {
		t.Fatal("取消后不应再修复")
		return "", nil
	}}
	c := &Controller{Backtester: bt, Repairer: rp, MaxRetry: 3}

	_, err := c.Execute(ctx, strategy.NewSource("v0"), testReq)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, bt.callCount())
}
