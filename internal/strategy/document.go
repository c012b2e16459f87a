package strategy

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 策略文档契约：入口声明 + 固定指标词表 + entry/exit 规则树。
// 模型生成的策略在本系统里一律以这份 JSON 形态落地、校验、执行。

type document struct {
	Strategy   string          `json:"strategy"`
	Indicators []indicatorSpec `json:"indicators"`
	Entry      ruleNode        `json:"entry"`
	Exit       ruleNode        `json:"exit"`
}

type indicatorSpec struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Source       string `json:"source,omitempty"`
	Period       int    `json:"period,omitempty"`
	FastPeriod   int    `json:"fast_period,omitempty"`
	SlowPeriod   int    `json:"slow_period,omitempty"`
	SignalPeriod int    `json:"signal_period,omitempty"`
	Output       string `json:"output,omitempty"` // MACD: macd/signal/hist
}

// ruleNode 要么是条件叶子（left/op/right），要么是 all/any 组合。
type ruleNode struct {
	All   []ruleNode `json:"all,omitempty"`
	Any   []ruleNode `json:"any,omitempty"`
	Left  string     `json:"left,omitempty"`
	Op    string     `json:"op,omitempty"`
	Right any        `json:"right,omitempty"`
}

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["strategy", "indicators", "entry", "exit"],
  "properties": {
    "strategy": {"type": "string", "minLength": 1},
    "indicators": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "kind"],
        "properties": {
          "name": {"type": "string", "pattern": "^[a-zA-Z_][a-zA-Z0-9_]*$"},
          "kind": {"type": "string", "enum": ["SMA", "EMA", "RSI", "ATR", "MACD", "HIGHEST", "LOWEST"]},
          "source": {"type": "string", "enum": ["open", "high", "low", "close"]},
          "period": {"type": "integer", "minimum": 1},
          "fast_period": {"type": "integer", "minimum": 1},
          "slow_period": {"type": "integer", "minimum": 1},
          "signal_period": {"type": "integer", "minimum": 1},
          "output": {"type": "string", "enum": ["macd", "signal", "hist"]}
        }
      }
    },
    "entry": {"$ref": "#/$defs/rule"},
    "exit": {"$ref": "#/$defs/rule"}
  },
  "$defs": {
    "rule": {
      "type": "object",
      "properties": {
        "all": {"type": "array", "items": {"$ref": "#/$defs/rule"}},
        "any": {"type": "array", "items": {"$ref": "#/$defs/rule"}},
        "left": {"type": "string"},
        "op": {"type": "string", "enum": ["gt", "lt", "gte", "lte", "crosses_above", "crosses_below"]},
        "right": {"type": ["string", "number"]}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("strategy-document.schema.json", documentSchema)

// parseDocument 解析并用 schema 校验策略文本。
// 入口名缺失/不符单独归为 ErrMissingEntryPoint，其它问题归为 MaterializeError。
func parseDocument(src Source) (*document, error) {
	text := strings.TrimSpace(src.Text)
	if text == "" {
		return nil, materializeErrf("策略文本为空")
	}
	var generic any
	if err := json.Unmarshal([]byte(text), &generic); err != nil {
		return nil, materializeErrf("策略文本不是合法 JSON: %v", err)
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return nil, materializeErrf("策略文本根节点必须是 JSON 对象")
	}
	name, _ := obj["strategy"].(string)
	if strings.TrimSpace(name) != src.EntryPoint {
		return nil, ErrMissingEntryPoint
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, materializeErrf("schema 校验失败: %v", err)
	}
	var doc document
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, materializeErrf("策略文档解析失败: %v", err)
	}
	return &doc, nil
}
