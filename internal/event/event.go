// Package event 提供事件信封归一化、类型过滤与观测摘要。
//
// 上游事件总线历史上发过至少两种互不兼容的信封形态,
// Normalize 按固定优先级解包, 下游只对归一化结果分发。
package event

// Observed 归一化后的事件: 非空 type + 任意属性。
type Observed struct {
	Type       string
	Properties map[string]any
}

// 转发类型白名单: 消息生命周期 / part 增量 / 会话状态 / 权限与提问 / 命令执行。
// 白名单之外的事件在归一化后直接丢弃, 约束下游需要推理的事件面。
var forwardedTypes = map[string]struct{}{
	"message.updated":      {},
	"message.removed":      {},
	"message.part.updated": {},
	"message.part.delta":   {},
	"message.part.removed": {},
	"session.status":       {},
	"session.idle":         {},
	"session.error":        {},
	"session.deleted":      {},
	"permission.updated":   {},
	"permission.asked":     {},
	"permission.replied":   {},
	"question.asked":       {},
	"question.replied":     {},
	"question.rejected":    {},
	"command.executed":     {},
}

// ShouldForward 判断归一化后的事件类型是否进入分发。
func ShouldForward(eventType string) bool {
	_, ok := forwardedTypes[eventType]
	return ok
}

// Normalize 将任意形态的入站事件解包为 *Observed, 无法识别返回 nil。
//
// 解析顺序:
//  1. 对象自带字符串 type → 直接使用
//  2. payload/data 子对象自带字符串 type → 提升
//  3. 对象带字符串 event 名 + data/payload/properties → 合成
func Normalize(raw any) *Observed {
	obj, ok := raw.(map[string]any)
	if !ok || obj == nil {
		return nil
	}

	if t, ok := obj["type"].(string); ok && t != "" {
		return &Observed{Type: t, Properties: subMap(obj, "properties")}
	}

	for _, key := range []string{"payload", "data"} {
		nested, ok := obj[key].(map[string]any)
		if !ok {
			continue
		}
		if t, ok := nested["type"].(string); ok && t != "" {
			return &Observed{Type: t, Properties: subMap(nested, "properties")}
		}
	}

	eventName, _ := obj["event"].(string)
	if eventName == "" {
		return nil
	}

	for _, key := range []string{"data", "payload"} {
		nested, ok := obj[key].(map[string]any)
		if !ok {
			continue
		}
		if t, ok := nested["type"].(string); ok && t != "" {
			return &Observed{Type: t, Properties: subMap(nested, "properties")}
		}
		if props, ok := nested["properties"].(map[string]any); ok {
			return &Observed{Type: eventName, Properties: props}
		}
		return &Observed{Type: eventName, Properties: nested}
	}

	if props, ok := obj["properties"].(map[string]any); ok {
		return &Observed{Type: eventName, Properties: props}
	}

	return nil
}

// subMap 取出子 map, 不存在时返回空 map (下游查找不必判空)。
func subMap(obj map[string]any, key string) map[string]any {
	if m, ok := obj[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// ========================================
// 属性访问器 (duck-typing 收敛到这里)
// ========================================

// StringField 依次查找第一个非空字符串字段。
func StringField(obj map[string]any, keys ...string) string {
	if obj == nil {
		return ""
	}
	for _, key := range keys {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Info 返回 properties.info 子对象。
func (e *Observed) Info() map[string]any {
	return subMap(e.Properties, "info")
}

// Part 返回 properties.part 子对象。
func (e *Observed) Part() map[string]any {
	return subMap(e.Properties, "part")
}

// Delta 返回增量文本, 无增量时为空串。
func (e *Observed) Delta() string {
	v, _ := e.Properties["delta"].(string)
	return v
}

// SessionID 从 properties / info / part 中提取会话 ID。
func (e *Observed) SessionID() string {
	if v := StringField(e.Properties, "sessionID"); v != "" {
		return v
	}
	if v := StringField(e.Info(), "sessionID"); v != "" {
		return v
	}
	return StringField(e.Part(), "sessionID")
}

// MessageID 从 info / properties / part 中提取消息 ID。
func (e *Observed) MessageID() string {
	if v := StringField(e.Info(), "id"); v != "" {
		return v
	}
	if v := StringField(e.Properties, "messageID"); v != "" {
		return v
	}
	return StringField(e.Part(), "messageID")
}

// Summarize 输出结构化日志键值对 (type / session / message / role / part / delta)。
func Summarize(e *Observed) []any {
	part := e.Part()
	_, hasMeta := part["metadata"].(map[string]any)
	return []any{
		"type", e.Type,
		"session_id", e.SessionID(),
		"message_id", e.MessageID(),
		"role", StringField(e.Info(), "role"),
		"part_type", StringField(part, "type"),
		"part_id", StringField(part, "id"),
		"has_delta", e.Delta() != "",
		"has_part_metadata", hasMeta,
	}
}
