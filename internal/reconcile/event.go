package reconcile

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Kind 是传输边界解码出的事件类别。
type Kind string

const (
	KindStatus  Kind = "status"
	KindError   Kind = "error"
	KindUnknown Kind = "unknown"
)

// Event 是解码后的执行事件。
//
// KindStatus 与 KindError 的字段位于 Payload；错误载荷为字符串时放在 Text。
// KindUnknown 的原始文本保存在 Raw。
type Event struct {
	Kind    Kind           `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	Text    string         `json:"text,omitempty"`
	Raw     string         `json:"raw,omitempty"`
}

// Decode 识别三种原始形态：["status", {...}]、带 status 字段的对象、["error", payload]。
// 其余输入（包括非法 JSON）解码为 KindUnknown，原文保留。
func Decode(raw []byte) Event {
	trimmed := bytes.TrimSpace(raw)
	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return Event{Kind: KindUnknown, Raw: string(trimmed)}
	}

	switch v := value.(type) {
	case []any:
		if len(v) == 2 {
			tag, _ := v[0].(string)
			switch strings.ToLower(tag) {
			case "status":
				if payload, ok := v[1].(map[string]any); ok {
					return Event{Kind: KindStatus, Payload: payload, Raw: string(trimmed)}
				}
			case "error":
				ev := Event{Kind: KindError, Raw: string(trimmed)}
				switch payload := v[1].(type) {
				case map[string]any:
					ev.Payload = payload
				case string:
					ev.Text = payload
				default:
					ev.Text = stringify(payload)
				}
				return ev
			}
		}
	case map[string]any:
		return FromMap(v)
	}
	return Event{Kind: KindUnknown, Raw: string(trimmed)}
}

// FromMap 由已解码的对象构造事件：带 status 字段的对象为状态事件，其余为未知事件。
func FromMap(m map[string]any) Event {
	if _, ok := m["status"]; ok {
		return Event{Kind: KindStatus, Payload: m}
	}
	return Event{Kind: KindUnknown, Raw: stringify(m)}
}

// stringify 将任意值序列化为 JSON 文本，字符串原样返回。
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
