package service

import (
	"encoding/json"
	"strings"
)

// closeUnbalancedJSON дописывает недостающие закрывающие скобки в обрезанный JSON.
// Скобки внутри строк не учитываются.
func closeUnbalancedJSON(s string) string {
	if s == "" {
		return s
	}

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(s, " \t\r\n,"))
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// decodeModelJSON разбирает JSON из ответа модели. Если ответ обрезан,
// пробует закрыть скобки и разобрать еще раз.
func decodeModelJSON(raw string, v any) error {
	candidate := extractJSON(raw)
	if !json.Valid([]byte(candidate)) {
		trimmed := strings.TrimSpace(raw)
		if m := codeFenceRegex.FindStringSubmatch(trimmed); len(m) > 1 {
			trimmed = strings.TrimSpace(m[1])
		}
		if start := strings.IndexAny(trimmed, "{["); start != -1 {
			if fixed := closeUnbalancedJSON(trimmed[start:]); json.Valid([]byte(fixed)) {
				candidate = fixed
			}
		}
	}
	return json.Unmarshal([]byte(candidate), v)
}
