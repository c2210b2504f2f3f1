// Package opencode 定义 AI 助手侧的外部协作者接口与 WebSocket 事件流客户端。
package opencode

import (
	"context"
	"encoding/json"
)

// MessagePart 提交给助手的一段输入 (文本或文件)。
type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// TextPart 构造纯文本输入段。
func TextPart(text string) MessagePart {
	return MessagePart{Type: "text", Text: text}
}

// Client 助手客户端能力集。桥接器只依赖这个接口。
type Client interface {
	// Subscribe 建立会话级事件订阅, 返回原始事件 JSON 通道。
	// 通道关闭表示流断开; 由调用方负责按退避策略重订阅。
	Subscribe(ctx context.Context) (<-chan json.RawMessage, error)

	// CreateSession 创建会话并返回会话 ID。
	CreateSession(ctx context.Context, title string) (string, error)

	// Prompt 向会话提交一段有序输入。
	Prompt(ctx context.Context, sessionID string, parts []MessagePart) error
}

// GlobalSubscriber 可选能力: 跨会话 (权限类事件) 的全局订阅。
type GlobalSubscriber interface {
	SubscribeGlobal(ctx context.Context) (<-chan json.RawMessage, error)
}
