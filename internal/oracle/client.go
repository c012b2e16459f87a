package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quantpilot/internal/logger"
)

// ChatClient 兼容 OpenAI / DeepSeek / Qwen 的聊天补全客户端（/v1/chat/completions）。
// 对 429/5xx 做有限重试，支持 Retry-After。
type ChatClient struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// 为 0 时默认重试 2 次
	MaxRetries int
}

func (c *ChatClient) endpoint() string {
	url := strings.TrimRight(c.BaseURL, "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	// 配置里可能已经把完整路径写进来了，去掉后统一追加一次
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

// Chat 发送一轮对话，tools 可为空。
func (c *ChatClient) Chat(ctx context.Context, purpose string, messages []Message, tools []Tool) (ChatResult, error) {
	msgs := make([]any, 0, len(messages))
	for _, m := range messages {
		entry := map[string]any{"role": m.Role, "content": m.Content}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		msgs = append(msgs, entry)
	}
	return c.chat(ctx, purpose, msgs, tools)
}

// chatRaw 直接接受已组装好的消息（含 assistant 工具调用原始消息回传）。
func (c *ChatClient) chatRaw(ctx context.Context, purpose string, rawMessages []any) (ChatResult, error) {
	return c.chat(ctx, purpose, rawMessages, nil)
}

func (c *ChatClient) chat(ctx context.Context, purpose string, msgs []any, tools []Tool) (ChatResult, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	var systemPrompt, userPrompt string
	for _, item := range msgs {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := entry["content"].(string)
		switch entry["role"] {
		case "system":
			systemPrompt = content
		case "user":
			userPrompt = content
		}
	}
	body := map[string]any{"model": c.Model, "messages": msgs, "temperature": 0.5}
	if len(tools) > 0 {
		schema := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			schema = append(schema, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		body["tools"] = schema
		body["tool_choice"] = "auto"
	}
	payload, _ := json.Marshal(body)
	logger.LogLLMRequest(purpose, systemPrompt, userPrompt, string(payload))

	httpc := &http.Client{Timeout: timeout}
	url := c.endpoint()
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt == 0 {
			logger.Debugf("[oracle] 请求: POST %s, model=%s, auth=Bearer ****%s", url, c.Model, keyTail(c.APIKey))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return ChatResult{}, &Error{Op: purpose, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := httpc.Do(req)
		if err != nil {
			lastErr = err
			break
		}
		if resp.StatusCode/100 == 2 {
			result, derr := decodeChatResponse(resp)
			if derr != nil {
				lastErr = derr
				break
			}
			logger.LogLLMResponse(purpose, result.Content)
			return result, nil
		}
		msg := decodeErrorMessage(resp)
		retryable := resp.StatusCode == 429 || resp.StatusCode == 500 || resp.StatusCode == 502 ||
			resp.StatusCode == 503 || resp.StatusCode == 504
		if retryable && attempt < maxRetries {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			if wait == 0 {
				// 基本指数退避：0.8s, 1.6s, 3.2s ...
				wait = (800 * time.Millisecond) << attempt
				if wait > 8*time.Second {
					wait = 8 * time.Second
				}
			}
			lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ChatResult{}, &Error{Op: purpose, Err: ctx.Err()}
			}
		}
		lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
		break
	}
	return ChatResult{}, &Error{Op: purpose, Err: lastErr}
}

// Complete system+user 单轮补全，返回纯文本。
func (c *ChatClient) Complete(ctx context.Context, purpose, system, user string) (string, error) {
	res, err := c.Chat(ctx, purpose, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, nil)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

func decodeChatResponse(resp *http.Response) (ChatResult, error) {
	defer resp.Body.Close()
	var r struct {
		Choices []struct {
			Message map[string]any `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return ChatResult{}, err
	}
	if len(r.Choices) == 0 {
		return ChatResult{}, fmt.Errorf("empty choices")
	}
	msg := r.Choices[0].Message
	result := ChatResult{AssistantRaw: msg}
	if content, ok := msg["content"].(string); ok {
		result.Content = content
	}
	if calls, ok := msg["tool_calls"].([]any); ok {
		for _, item := range calls {
			call, ok := item.(map[string]any)
			if !ok {
				continue
			}
			tc := ToolCall{}
			tc.ID, _ = call["id"].(string)
			if fn, ok := call["function"].(map[string]any); ok {
				tc.Name, _ = fn["name"].(string)
				tc.Arguments, _ = fn["arguments"].(string)
			}
			if tc.Name != "" {
				result.ToolCalls = append(result.ToolCalls, tc)
			}
		}
	}
	return result, nil
}

func decodeErrorMessage(resp *http.Response) string {
	defer resp.Body.Close()
	var eresp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&eresp)
	if msg := strings.TrimSpace(eresp.Error.Message); msg != "" {
		return msg
	}
	return resp.Status
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func keyTail(key string) string {
	if len(key) > 4 {
		return key[len(key)-4:]
	}
	return key
}
