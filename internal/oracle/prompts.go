package oracle

import "strings"

// 内置提示词模板。可被 prompt_file 配置整体覆盖（见 Registry）。

const defaultChatSystem = "You are an AI Quant Copilot."

const defaultGenerateSystem = `You translate a user's natural-language trading idea into a strategy document.

Respond with ONLY a JSON object containing exactly these keys:
  strategy_name, symbol, parameters, start_date, end_date, strategy_code

- symbol: the trading pair the user wants, e.g. "BTCUSDT"
- start_date / end_date: "YYYY-MM-DD" (end_date may be "")
- parameters: object with the numeric parameters you chose
- strategy_code: a STRING holding one strategy document, which is itself JSON:
  {"strategy": "GeneratedStrategy", "indicators": [...], "entry": {...}, "exit": {...}}

Strategy document rules:
- The "strategy" field MUST be exactly: GeneratedStrategy
- Use ONLY these indicator kinds: SMA, EMA, RSI, ATR, MACD, HIGHEST, LOWEST
- Conditions use ops: gt, lt, gte, lte, crosses_above, crosses_below; combine with "all"/"any"
- Follow the user's strategy intent precisely
- No placeholders, no comments, immediately executable
- Do NOT include any data download, broker or simulation logic`

const defaultRepairSystem = "You repair broken strategy documents."

const defaultRepairUser = `The following is the original natural-language strategy description from the user:
=====================
USER STRATEGY REQUEST:
=====================
{user_prompt}

Your previously generated strategy document caused an execution error.

=====================
ERROR MESSAGE:
=====================
{error_msg}

=====================
ORIGINAL STRATEGY DOCUMENT:
=====================
{strategy_code}

=====================
INSTRUCTIONS:
=====================
Fix the error and output a NEW strategy document:

- The "strategy" field MUST be exactly: GeneratedStrategy
- MUST NOT use non-existent indicators
- Use only valid indicator kinds: SMA, EMA, RSI, ATR, MACD, HIGHEST, LOWEST
- Conditions use ops: gt, lt, gte, lte, crosses_above, crosses_below; combine with "all"/"any"
- The document must precisely follow the user's strategy intent described above
- Do NOT change the intended logic of the strategy
- The document must be immediately executable
- No placeholders, no TODOs
- Do NOT include any data download, broker or simulation logic
- Output MUST be ONLY the strategy document JSON (raw string), no outer JSON wrapper, no markdown`

// Templates 全套提示词。
type Templates struct {
	ChatSystem     string `mapstructure:"chat_system" yaml:"chat_system"`
	GenerateSystem string `mapstructure:"generate_system" yaml:"generate_system"`
	RepairSystem   string `mapstructure:"repair_system" yaml:"repair_system"`
	RepairUser     string `mapstructure:"repair_user" yaml:"repair_user"`
}

func defaultTemplates() Templates {
	return Templates{
		ChatSystem:     defaultChatSystem,
		GenerateSystem: defaultGenerateSystem,
		RepairSystem:   defaultRepairSystem,
		RepairUser:     defaultRepairUser,
	}
}

// renderRepairPrompt 填充修复模板占位符，失败源码逐字嵌入。
func renderRepairPrompt(tpl string, userPrompt, errorMsg, strategyCode string) string {
	r := strings.NewReplacer(
		"{user_prompt}", userPrompt,
		"{error_msg}", errorMsg,
		"{strategy_code}", strategyCode,
	)
	return r.Replace(tpl)
}
