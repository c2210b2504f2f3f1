// registry.go — 会话注册表: 助手会话 ↔ 聊天 ↔ 适配器的双向映射。
package bridge

import (
	"sync"

	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/opencode"
)

// SessionContext 一个活跃助手会话对应的聊天上下文。
type SessionContext struct {
	ChatID   string
	SenderID string
}

// SessionRegistry 独占持有会话映射; 显式 Register/Lookup/Remove 生命周期,
// 每个桥接实例一份, 按引用注入到各组件。
type SessionRegistry struct {
	mu             sync.Mutex
	sessionCtx     map[string]SessionContext         // sessionID → 聊天上下文
	sessionAdapter map[string]string                 // sessionID → 适配器 key
	chatSession    map[string]string                 // chatID → 缓存的 sessionID
	messageRole    map[string]string                 // messageID → 角色 (防回声)
	activeMsg      map[string]string                 // sessionID → 当前出站消息 ID
	lastInput      map[string][]opencode.MessagePart // sessionID → 最近一次提交的输入
}

// NewSessionRegistry 创建空注册表。
func NewSessionRegistry() *SessionRegistry {
	r := &SessionRegistry{}
	r.reset()
	return r
}

func (r *SessionRegistry) reset() {
	r.sessionCtx = make(map[string]SessionContext)
	r.sessionAdapter = make(map[string]string)
	r.chatSession = make(map[string]string)
	r.messageRole = make(map[string]string)
	r.activeMsg = make(map[string]string)
	r.lastInput = make(map[string][]opencode.MessagePart)
}

// RegisterSession 登记会话上下文并缓存 chat → session 映射。
func (r *SessionRegistry) RegisterSession(sessionID string, ctx SessionContext, adapterKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionCtx[sessionID] = ctx
	r.sessionAdapter[sessionID] = adapterKey
	r.chatSession[ctx.ChatID] = sessionID
}

// LookupSession 查询会话上下文与适配器 key。
func (r *SessionRegistry) LookupSession(sessionID string) (SessionContext, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.sessionCtx[sessionID]
	if !ok {
		return SessionContext{}, "", false
	}
	return ctx, r.sessionAdapter[sessionID], true
}

// RemoveSession 删除会话与其全部关联映射。
func (r *SessionRegistry) RemoveSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx, ok := r.sessionCtx[sessionID]; ok {
		if r.chatSession[ctx.ChatID] == sessionID {
			delete(r.chatSession, ctx.ChatID)
		}
	}
	delete(r.sessionCtx, sessionID)
	delete(r.sessionAdapter, sessionID)
	delete(r.activeMsg, sessionID)
	delete(r.lastInput, sessionID)
}

// CachedSession 返回聊天对应的缓存会话 ID, 无缓存返回空串。
func (r *SessionRegistry) CachedSession(chatID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chatSession[chatID]
}

// InvalidateChat 作废聊天的会话缓存 (供应失败后下一条消息干净重试)。
func (r *SessionRegistry) InvalidateChat(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chatSession, chatID)
}

// SetRole 记录消息角色。
func (r *SessionRegistry) SetRole(messageID, role string) {
	if messageID == "" || role == "" {
		return
	}
	r.mu.Lock()
	r.messageRole[messageID] = role
	r.mu.Unlock()
}

// Role 返回消息角色, 未知为空串。
func (r *SessionRegistry) Role(messageID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageRole[messageID]
}

// SetActiveMessage 记录会话当前正在更新的出站消息。
func (r *SessionRegistry) SetActiveMessage(sessionID, messageID string) {
	r.mu.Lock()
	r.activeMsg[sessionID] = messageID
	r.mu.Unlock()
}

// ActiveMessage 返回会话当前出站消息 ID。
func (r *SessionRegistry) ActiveMessage(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeMsg[sessionID]
}

// ClearActiveMessage 会话空闲后清除, 下一轮回复从新消息开始。
func (r *SessionRegistry) ClearActiveMessage(sessionID string) {
	r.mu.Lock()
	delete(r.activeMsg, sessionID)
	r.mu.Unlock()
}

// ActiveMessages 返回 sessionID → messageID 的拷贝 (全量强制冲刷用)。
func (r *SessionRegistry) ActiveMessages() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.activeMsg))
	for sid, mid := range r.activeMsg {
		out[sid] = mid
	}
	return out
}

// SetLastInput 记录会话最近一次提交的输入 (授权阻塞时延迟重放)。
func (r *SessionRegistry) SetLastInput(sessionID string, parts []opencode.MessagePart) {
	r.mu.Lock()
	r.lastInput[sessionID] = parts
	r.mu.Unlock()
}

// LastInput 返回会话最近一次提交的输入。
func (r *SessionRegistry) LastInput(sessionID string) []opencode.MessagePart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastInput[sessionID]
}

// Sessions 返回会话快照 (调试面板用)。
func (r *SessionRegistry) Sessions() map[string]SessionContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]SessionContext, len(r.sessionCtx))
	for sid, ctx := range r.sessionCtx {
		out[sid] = ctx
	}
	return out
}

// Reset 清空全部映射 (停止桥接时调用)。
func (r *SessionRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}
