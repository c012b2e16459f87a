package chathttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"quantpilot/internal/backtest"
	"quantpilot/internal/oracle"
	"quantpilot/internal/strategy"
	"quantpilot/internal/task"
)

type stubBacktester struct {
	fn func(ctx context.Context, src strategy.Source, req backtest.Request) (*backtest.Result, error)
}

func (b *stubBacktester) Run(ctx context.Context, src strategy.Source, req backtest.Request) (*backtest.Result, error) {
	return b.fn(ctx, src, req)
}

type stubRepairer struct{}

func (stubRepairer) Repair(ctx context.Context, userIntent, failingSource, errorMsg string) (string, error) {
	return failingSource, nil
}

// llmScript 按请求形态分流：带 tools 的是首轮对话，带 tool 消息的是回传，其余是生成。
func llmScript(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := make(map[string]any)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		payload, _ := json.Marshal(raw)

		switch {
		case gjson.GetBytes(payload, "tools").Exists():
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{
					"role": "assistant",
					"tool_calls": []any{map[string]any{
						"id": "call_1",
						"function": map[string]any{
							"name":      "run_strategy_backtest",
							"arguments": `{"user_prompt":"BTC 的 SMA 金叉策略，2024 全年"}`,
						},
					}},
				}}},
			})
		case gjson.GetBytes(payload, `messages.#(role=="tool")`).Exists():
			// 回传工具结果后给用户的最终答复
			toolContent := gjson.GetBytes(payload, `messages.#(role=="tool").content`).String()
			assert.Contains(t, toolContent, "task_id")
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{
					"role": "assistant", "content": "回测已提交，任务号见下方。",
				}}},
			})
		default:
			doc := map[string]any{
				"strategy_name": "sma-cross",
				"symbol":        "BTCUSDT",
				"parameters":    map[string]any{"fast": 5, "slow": 20},
				"start_date":    "2024-01-01",
				"end_date":      "2024-12-31",
				"strategy_code": `{"strategy":"GeneratedStrategy"}`,
			}
			rawDoc, _ := json.Marshal(doc)
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{
					"role": "assistant", "content": string(rawDoc),
				}}},
			})
		}
	}
}

func newTestServer(t *testing.T, llmHandler http.HandlerFunc, bt task.Backtester) (*Server, *task.Service) {
	t.Helper()
	llmSrv := httptest.NewServer(llmHandler)
	t.Cleanup(llmSrv.Close)

	svc := oracle.NewService(&oracle.ChatClient{BaseURL: llmSrv.URL, APIKey: "sk-test", Model: "m", Timeout: 5 * time.Second}, nil)
	tasks := task.NewService(&task.Controller{Backtester: bt, Repairer: stubRepairer{}, MaxRetry: 3}, nil, 2)
	t.Cleanup(tasks.Close)

	s, err := NewServer(Config{Addr: ":0", Oracle: svc, Tasks: tasks})
	require.NoError(t, err)
	return s, tasks
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestChatTriggersBacktestFlow(t *testing.T) {
	bt := &stubBacktester{fn: func(_ context.Context, src strategy.Source, req backtest.Request) (*backtest.Result, error) {
		assert.Equal(t, "BTCUSDT", req.Symbol)
		assert.Contains(t, src.Text, "GeneratedStrategy")
		assert.Less(t, req.StartTS, req.EndTS)
		return &backtest.Result{Symbol: req.Symbol, StartValue: 100000, EndValue: 103000, Profit: 3000, ClosedTrades: 5}, nil
	}}
	s, _ := newTestServer(t, llmScript(t), bt)

	w := doJSON(t, s.Handler(), http.MethodPost, "/api/chat", map[string]string{"message": "帮我回测 BTC 的 SMA 金叉策略"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Reply       string `json:"reply"`
		ToolResults []struct {
			TaskID string `json:"task_id"`
			Symbol string `json:"symbol"`
			Error  string `json:"error"`
		} `json:"tool_result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "回测已提交，任务号见下方。", resp.Reply)
	require.Len(t, resp.ToolResults, 1)
	require.Empty(t, resp.ToolResults[0].Error)
	id := resp.ToolResults[0].TaskID
	require.NotEmpty(t, id)
	assert.Equal(t, "BTCUSDT", resp.ToolResults[0].Symbol)

	// 轮询任务直到完成
	require.Eventually(t, func() bool {
		w := doJSON(t, s.Handler(), http.MethodGet, "/api/tasks/"+id, nil)
		if w.Code != http.StatusOK {
			return false
		}
		return gjson.GetBytes(w.Body.Bytes(), "status").String() == "complete"
	}, 2*time.Second, 10*time.Millisecond)

	w = doJSON(t, s.Handler(), http.MethodGet, "/api/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 3000.0, gjson.GetBytes(w.Body.Bytes(), "result.profit").Float(), 1e-9)
	assert.EqualValues(t, 5, gjson.GetBytes(w.Body.Bytes(), "result.closed_trades").Int())
}

func TestChatPlainReply(t *testing.T) {
	llm := func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{
				"role": "assistant", "content": "夏普比率衡量的是每单位波动的超额收益。",
			}}},
		})
	}
	s, _ := newTestServer(t, llm, &stubBacktester{fn: func(context.Context, strategy.Source, backtest.Request) (*backtest.Result, error) {
		t.Fatal("纯聊天不应触发回测")
		return nil, nil
	}})

	w := doJSON(t, s.Handler(), http.MethodPost, "/api/chat", map[string]string{"message": "什么是夏普比率？"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "夏普比率")
	assert.False(t, gjson.GetBytes(w.Body.Bytes(), "tool_result").Exists())
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	s, _ := newTestServer(t, llmScript(t), &stubBacktester{})
	w := doJSON(t, s.Handler(), http.MethodPost, "/api/chat", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatOracleDown(t *testing.T) {
	llm := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "invalid api key"}})
	}
	s, _ := newTestServer(t, llm, &stubBacktester{})
	w := doJSON(t, s.Handler(), http.MethodPost, "/api/chat", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "invalid api key")
}

func TestTaskEndpoints(t *testing.T) {
	release := make(chan struct{})
	bt := &stubBacktester{fn: func(ctx context.Context, _ strategy.Source, _ backtest.Request) (*backtest.Result, error) {
		select {
		case <-release:
			return &backtest.Result{ClosedTrades: 1, StartValue: 1, EndValue: 1}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	s, tasks := newTestServer(t, llmScript(t), bt)

	w := doJSON(t, s.Handler(), http.MethodGet, "/api/tasks/没有这个", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	id, err := tasks.Submit(strategy.NewSource("{}"), backtest.Request{Symbol: "BTCUSDT", StartTS: 1, EndTS: 2})
	require.NoError(t, err)

	w = doJSON(t, s.Handler(), http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, gjson.GetBytes(w.Body.Bytes(), "tasks.#").Int())

	// 取消在跑任务
	w = doJSON(t, s.Handler(), http.MethodPost, "/api/tasks/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		w := doJSON(t, s.Handler(), http.MethodGet, "/api/tasks/"+id, nil)
		return gjson.GetBytes(w.Body.Bytes(), "status").String() == "failed"
	}, 2*time.Second, 10*time.Millisecond)

	// 终态任务再取消 → 409
	w = doJSON(t, s.Handler(), http.MethodPost, "/api/tasks/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	close(release)
}

func TestParseDateRange(t *testing.T) {
	start, end, err := parseDateRange("2024-01-01", "2024-12-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), start)
	assert.Greater(t, end, start)

	// end_date 可以缺省：留空表示回测到最新行情
	start, end, err = parseDateRange("2024-01-01", "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), start)
	assert.Zero(t, end)

	_, _, err = parseDateRange("2024-13-01", "2024-12-31")
	assert.Error(t, err)
	_, _, err = parseDateRange("2024-06-01", "2024-01-01")
	assert.Error(t, err)
	_, _, err = parseDateRange("", "2024-12-31")
	assert.Error(t, err)
}

func TestChatAcceptsOpenEndedDateRange(t *testing.T) {
	llm := func(w http.ResponseWriter, r *http.Request) {
		raw := make(map[string]any)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		payload, _ := json.Marshal(raw)
		switch {
		case gjson.GetBytes(payload, "tools").Exists():
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{
					"role": "assistant",
					"tool_calls": []any{map[string]any{
						"id": "call_1",
						"function": map[string]any{
							"name":      "run_strategy_backtest",
							"arguments": `{"user_prompt":"从 2024 年初回测到现在"}`,
						},
					}},
				}}},
			})
		case gjson.GetBytes(payload, `messages.#(role=="tool")`).Exists():
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{
					"role": "assistant", "content": "任务已提交。",
				}}},
			})
		default:
			doc := map[string]any{
				"strategy_name": "sma-cross",
				"symbol":        "BTCUSDT",
				"parameters":    map[string]any{},
				"start_date":    "2024-01-01",
				"end_date":      "",
				"strategy_code": `{"strategy":"GeneratedStrategy"}`,
			}
			rawDoc, _ := json.Marshal(doc)
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{
					"role": "assistant", "content": string(rawDoc),
				}}},
			})
		}
	}
	bt := &stubBacktester{fn: func(_ context.Context, _ strategy.Source, req backtest.Request) (*backtest.Result, error) {
		// 缺省结束日透传为 0，由下游默认为最新
		assert.Zero(t, req.EndTS)
		assert.Positive(t, req.StartTS)
		return &backtest.Result{Symbol: req.Symbol, StartValue: 1, EndValue: 1, ClosedTrades: 1}, nil
	}}
	s, _ := newTestServer(t, llm, bt)

	w := doJSON(t, s.Handler(), http.MethodPost, "/api/chat", map[string]string{"message": "从 2024 年初回测到现在"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, gjson.GetBytes(w.Body.Bytes(), "tool_result.0.error").String())
	assert.NotEmpty(t, gjson.GetBytes(w.Body.Bytes(), "tool_result.0.task_id").String())
}
