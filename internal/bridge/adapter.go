// Package bridge 将 OpenCode 事件流中继到聊天平台:
// 会话注册表、消息缓冲、节流投递、授权等待门以及事件分发。
package bridge

import (
	"context"
	"sync"
)

// Adapter 聊天平台适配器能力集 (外部协作者, 桥接器只依赖接口)。
//
// 所有调用点把空返回值/错误一律当作失败处理, 不假设幂等。
type Adapter interface {
	// Provider 返回平台标识 (feishu / lark / telegram / ...), 决定节流与回退策略。
	Provider() string

	// SendMessage 发送新消息, 返回平台消息 ID, 失败返回空串或错误。
	SendMessage(ctx context.Context, chatID, text string) (string, error)

	// EditMessage 编辑既有消息, 返回是否成功。
	EditMessage(ctx context.Context, chatID, messageID, text string) (bool, error)
}

// ReactionAdapter 可选能力: 消息表情回应 (处理中指示)。
type ReactionAdapter interface {
	AddReaction(ctx context.Context, chatID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, chatID, messageID, emoji string) error
}

// CardCapable 可选能力: 平台支持富卡片, 投递前走卡片渲染。
type CardCapable interface {
	SupportsCards() bool
}

// Mux 按 key 注册的适配器多路复用器, 一个桥接实例一份。
type Mux struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewMux 创建空的适配器注册表。
func NewMux() *Mux {
	return &Mux{adapters: make(map[string]Adapter)}
}

// Register 注册适配器, 同 key 覆盖。
func (m *Mux) Register(key string, a Adapter) {
	m.mu.Lock()
	m.adapters[key] = a
	m.mu.Unlock()
}

// Get 按 key 取适配器。
func (m *Mux) Get(key string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[key]
	return a, ok
}

// Keys 返回已注册的适配器 key。
func (m *Mux) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.adapters))
	for k := range m.adapters {
		keys = append(keys, k)
	}
	return keys
}

// Len 返回注册数量。
func (m *Mux) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.adapters)
}
