package oracle

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"

	"quantpilot/internal/pkg/jsonutil"
)

// Service 汇集对模型的四类调用：聊天（含工具）、工具结果回传、
// 初次策略生成（结构化 JSON）、策略修复（裸文本）。
// 生成与修复是两条各自校验的解析路径，刻意不统一。
type Service struct {
	client   *ChatClient
	registry *Registry
}

func NewService(client *ChatClient, registry *Registry) *Service {
	if registry == nil {
		registry = &Registry{templates: defaultTemplates()}
	}
	return &Service{client: client, registry: registry}
}

// Templates 当前提示词（供外层组装对话）。
func (s *Service) Templates() Templates {
	return s.registry.Current()
}

// Chat 首轮调用：让模型决定是否使用工具。
func (s *Service) Chat(ctx context.Context, userMsg string, tools []Tool) (ChatResult, error) {
	tpl := s.registry.Current()
	return s.client.Chat(ctx, "chat", []Message{
		{Role: "system", Content: tpl.ChatSystem},
		{Role: "user", Content: userMsg},
	}, tools)
}

// FollowUp 把工具执行结果回传给模型，取最终答复。
// messages 需包含完整上下文（system/user/assistant 原始消息/tool 输出）。
func (s *Service) FollowUp(ctx context.Context, rawMessages []any) (string, error) {
	res, err := s.client.chatRaw(ctx, "chat-followup", rawMessages)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// GeneratedStrategy 结构化生成结果。
type GeneratedStrategy struct {
	StrategyName string         `json:"strategy_name"`
	Symbol       string         `json:"symbol"`
	Parameters   map[string]any `json:"parameters"`
	StartDate    string         `json:"start_date"`
	EndDate      string         `json:"end_date"`
	Code         string         `json:"strategy_code"`
}

var requiredGenerationKeys = []string{
	"strategy_name", "symbol", "parameters", "start_date", "end_date", "strategy_code",
}

// GenerateStrategy 初次生成：响应必须是带全部必填键的 JSON。
func (s *Service) GenerateStrategy(ctx context.Context, userMsg string) (GeneratedStrategy, error) {
	tpl := s.registry.Current()
	raw, err := s.client.Complete(ctx, "generate", tpl.GenerateSystem, userMsg)
	if err != nil {
		return GeneratedStrategy{}, err
	}
	obj, ok := jsonutil.ExtractJSONObject(raw)
	if !ok {
		return GeneratedStrategy{}, oracleErrf("generate", "响应中找不到 JSON 对象")
	}
	for _, key := range requiredGenerationKeys {
		if !gjson.Get(obj, key).Exists() {
			return GeneratedStrategy{}, oracleErrf("generate", "响应缺少必填字段 %q", key)
		}
	}
	var out GeneratedStrategy
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return GeneratedStrategy{}, oracleErrf("generate", "响应解析失败: %v", err)
	}
	if out.Symbol == "" || out.Code == "" {
		return GeneratedStrategy{}, oracleErrf("generate", "symbol/strategy_code 不能为空")
	}
	return out, nil
}

// Repair 修复路径：响应整体就是替换后的策略文本（只剥代码块，不做 JSON 封装解析）。
func (s *Service) Repair(ctx context.Context, userIntent, failingSource, errorMsg string) (string, error) {
	tpl := s.registry.Current()
	prompt := renderRepairPrompt(tpl.RepairUser, userIntent, errorMsg, failingSource)
	raw, err := s.client.Complete(ctx, "repair", tpl.RepairSystem, prompt)
	if err != nil {
		return "", err
	}
	fixed := jsonutil.StripFence(raw)
	if fixed == "" {
		return "", oracleErrf("repair", "响应为空")
	}
	return fixed, nil
}
