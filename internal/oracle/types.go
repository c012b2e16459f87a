package oracle

import "fmt"

// Message 聊天消息。role=tool 时需携带 ToolCallID。
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Tool 暴露给模型的函数工具（JSON Schema 参数）。
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall 模型请求执行的工具调用。
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // 原始 JSON 参数文本
}

// ChatResult 单次补全输出。模型可能给文本，也可能给工具调用。
type ChatResult struct {
	Content      string
	ToolCalls    []ToolCall
	AssistantRaw map[string]any // 原始 assistant 消息，回传工具结果时原样带上
}

// Error oracle 调用本身失败（网络/鉴权/响应损坏/必填字段缺失）。
// 修复循环把它视为致命错误，立即终止。
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("oracle %s 失败: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func oracleErrf(op, format string, v ...any) *Error {
	return &Error{Op: op, Err: fmt.Errorf(format, v...)}
}
