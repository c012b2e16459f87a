package jsonutil

import "strings"

const codeFence = "```"

// ExtractJSONObject 从模型输出里提取首个完整 JSON 对象。
// 支持三种形态：裸 JSON、markdown 代码块包裹、夹杂在说明文字中间。
func ExtractJSONObject(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if obj, ok := extractFromFence(raw); ok {
		return obj, true
	}
	return scanObject(raw)
}

// StripFence 去掉包裹整段输出的 markdown 代码块（若存在），其余原样返回。
func StripFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, codeFence) {
		return raw
	}
	rest := raw[len(codeFence):]
	end := strings.LastIndex(rest, codeFence)
	if end == -1 {
		return raw
	}
	block := rest[:end]
	block = strings.TrimLeft(block, "\r\n")
	// 首行可能是语言标记（```json 等）
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") && len(first) <= 16 {
			block = block[idx+1:]
		}
	}
	return strings.TrimSpace(block)
}

func extractFromFence(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	if block == "" {
		return "", false
	}
	if obj, ok := scanObject(block); ok {
		return obj, true
	}
	return "", false
}

func scanObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), true
			}
		}
	}
	return "", false
}
