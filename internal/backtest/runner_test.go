package backtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantpilot/internal/market"
	"quantpilot/internal/strategy"
)

type stubProvider struct {
	candles []market.Candle
	err     error
}

func (p *stubProvider) FetchRange(ctx context.Context, symbol, interval string, start, end int64) ([]market.Candle, error) {
	return p.candles, p.err
}

func (p *stubProvider) Name() string { return "stub" }

func newTestRunner(t *testing.T, provider market.Provider) *Runner {
	t.Helper()
	store, err := strategy.NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	loader, err := strategy.NewLoader(store)
	require.NoError(t, err)
	runner, err := NewRunner(RunnerConfig{
		Loader:   loader,
		Provider: provider,
		Interval: "1d",
		Engine:   EngineConfig{InitialCash: 100000, Stake: 10},
	})
	require.NoError(t, err)
	return runner
}

func TestRunnerSuccess(t *testing.T) {
	runner := newTestRunner(t, &stubProvider{candles: waveCandles(1260)})
	res, err := runner.Run(context.Background(), strategy.NewSource(crossoverDoc), Request{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.Greater(t, res.ClosedTrades, 0)
	assert.Equal(t, 100000.0, res.StartValue)
	assert.InDelta(t, res.EndValue-res.StartValue, res.Profit, 1e-9)
}

func TestRunnerNoMarketData(t *testing.T) {
	runner := newTestRunner(t, &stubProvider{candles: nil})
	_, err := runner.Run(context.Background(), strategy.NewSource(crossoverDoc), Request{Symbol: "NOSUCH"})
	require.Error(t, err)
	assert.Equal(t, KindNoMarketData, Classify(err).Kind)
}

func TestRunnerProviderError(t *testing.T) {
	runner := newTestRunner(t, &stubProvider{err: errors.New("网络抖动")})
	_, err := runner.Run(context.Background(), strategy.NewSource(crossoverDoc), Request{Symbol: "BTCUSDT"})
	require.Error(t, err)
	assert.Equal(t, KindEngine, Classify(err).Kind)
}

// 零成交策略：引擎跑完但没有任何成交时必须升级为失败，绝不作为成功返回。
func TestRunnerZeroTradesPromoted(t *testing.T) {
	runner := newTestRunner(t, &stubProvider{candles: waveCandles(200)})
	res, err := runner.Run(context.Background(), strategy.NewSource(neverTriggerDoc), Request{Symbol: "BTCUSDT"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, KindNoTrades, Classify(err).Kind)
}

func TestRunnerMissingEntryPointPassthrough(t *testing.T) {
	runner := newTestRunner(t, &stubProvider{candles: waveCandles(200)})
	src := strategy.NewSource(`{"strategy":"Other","indicators":[{"name":"a","kind":"SMA","period":5}],"entry":{},"exit":{}}`)
	_, err := runner.Run(context.Background(), src, Request{Symbol: "BTCUSDT"})
	require.Error(t, err)
	assert.Equal(t, KindMissingEntryPoint, Classify(err).Kind)
}

func TestRunnerRequestValidation(t *testing.T) {
	runner := newTestRunner(t, &stubProvider{candles: waveCandles(200)})
	_, err := runner.Run(context.Background(), strategy.NewSource(crossoverDoc), Request{Symbol: ""})
	require.Error(t, err)
	_, err = runner.Run(context.Background(), strategy.NewSource(crossoverDoc), Request{Symbol: "BTCUSDT", StartTS: 200, EndTS: 100})
	require.Error(t, err)
}

func TestClassifyUnknownError(t *testing.T) {
	ae := Classify(errors.New("莫名其妙"))
	assert.Equal(t, KindInternal, ae.Kind)
	assert.Nil(t, Classify(nil))
}
