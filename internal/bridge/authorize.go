// authorize.go — 授权等待门: 会话被权限/提问事件阻塞时, 拦截该聊天的
// 下一条用户输入并将其解释为授权答复。
package bridge

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/opencode"
)

// ReplyDecision 用户答复的分类结果。
type ReplyDecision string

const (
	ReplyResumeBlocked   ReplyDecision = "resume_blocked"
	ReplyStartNewSession ReplyDecision = "start_new_session"
	ReplyUnknown         ReplyDecision = "unknown"
	ReplyEmpty           ReplyDecision = "empty"
)

var resumeTokens = map[string]struct{}{
	"1": {}, "y": {}, "yes": {}, "ok": {}, "okay": {},
	"continue": {}, "resume": {},
	"继续": {}, "继续原会话": {}, "已授权": {}, "授权好了": {},
	"授权完成": {}, "好了": {}, "完成": {},
}

var newSessionTokens = map[string]struct{}{
	"2": {}, "new": {}, "new session": {}, "new topic": {},
	"skip": {}, "start new": {},
	"新会话": {}, "新话题": {}, "跳过": {}, "先聊别的": {}, "换个话题": {},
}

// ParseAuthorizationReply 归一化并分类用户对授权提示的答复。
func ParseAuthorizationReply(text string) ReplyDecision {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.Trim(s, "'\"“”‘’`")
	s = strings.TrimSpace(s)
	if s == "" {
		return ReplyEmpty
	}
	if _, ok := resumeTokens[s]; ok {
		return ReplyResumeBlocked
	}
	if _, ok := newSessionTokens[s]; ok {
		return ReplyStartNewSession
	}
	return ReplyUnknown
}

// PendingAuthorization 一次等待中的授权。每个聊天至多一条。
type PendingAuthorization struct {
	Key           string // adapterKey:chatID
	AdapterKey    string
	ChatID        string
	SenderID      string
	SessionID     string
	BlockedReason string // permission / question
	Source        string // 触发事件类型
	DeferredParts []opencode.MessagePart
	CreatedAt     time.Time
	DueAt         time.Time
}

// AuthorizationGate 管理全部等待中的授权, 按墙钟判定过期。
type AuthorizationGate struct {
	mu      sync.Mutex
	timeout time.Duration
	now     func() time.Time
	pending map[string]*PendingAuthorization // key: adapterKey:chatID
}

// NewAuthorizationGate 创建授权门。timeout<=0 时使用 15 分钟。
func NewAuthorizationGate(timeout time.Duration) *AuthorizationGate {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &AuthorizationGate{
		timeout: timeout,
		now:     time.Now,
		pending: make(map[string]*PendingAuthorization),
	}
}

func gateKey(adapterKey, chatID string) string {
	return adapterKey + ":" + chatID
}

// Begin 登记或续期一条等待。同聊天再次阻塞时延长到期并合并待重放输入。
func (g *AuthorizationGate) Begin(p PendingAuthorization) *PendingAuthorization {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey(p.AdapterKey, p.ChatID)
	now := g.now()
	if cur, ok := g.pending[key]; ok && cur.SessionID == p.SessionID {
		cur.BlockedReason = p.BlockedReason
		cur.Source = p.Source
		if len(p.DeferredParts) > 0 {
			cur.DeferredParts = p.DeferredParts
		}
		cur.DueAt = now.Add(g.timeout)
		return cur
	}

	st := &PendingAuthorization{
		Key:           key,
		AdapterKey:    p.AdapterKey,
		ChatID:        p.ChatID,
		SenderID:      p.SenderID,
		SessionID:     p.SessionID,
		BlockedReason: p.BlockedReason,
		Source:        p.Source,
		DeferredParts: p.DeferredParts,
		CreatedAt:     now,
		DueAt:         now.Add(g.timeout),
	}
	g.pending[key] = st
	return st
}

// Pending 查询某聊天是否有等待中的授权; expired 按墙钟判定。
// 过期条目在此处顺带清除。
func (g *AuthorizationGate) Pending(adapterKey, chatID string) (st *PendingAuthorization, expired bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey(adapterKey, chatID)
	cur, ok := g.pending[key]
	if !ok {
		return nil, false
	}
	if g.now().After(cur.DueAt) {
		delete(g.pending, key)
		return cur, true
	}
	return cur, false
}

// Resolve 清除某聊天的等待, 返回被清除的条目。
func (g *AuthorizationGate) Resolve(adapterKey, chatID string) *PendingAuthorization {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey(adapterKey, chatID)
	cur, ok := g.pending[key]
	if !ok {
		return nil
	}
	delete(g.pending, key)
	return cur
}

// ResolveSession 按上游会话清除等待。权限在上游侧被回复时触发。
func (g *AuthorizationGate) ResolveSession(sessionID string) *PendingAuthorization {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key, cur := range g.pending {
		if cur.SessionID == sessionID {
			delete(g.pending, key)
			return cur
		}
	}
	return nil
}

// ExpireDue 摘除全部已过期的等待并返回它们 (巡检用)。
func (g *AuthorizationGate) ExpireDue() []*PendingAuthorization {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var out []*PendingAuthorization
	for key, cur := range g.pending {
		if now.After(cur.DueAt) {
			delete(g.pending, key)
			out = append(out, cur)
		}
	}
	return out
}

// Len 当前等待数量。
func (g *AuthorizationGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Reset 清空全部等待。
func (g *AuthorizationGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = make(map[string]*PendingAuthorization)
}

// ========================================
// 提示文案
// ========================================

// AuthorizationPrompt 会话阻塞时发给聊天的提示。
func AuthorizationPrompt(reason string) string {
	what := "需要授权"
	if reason == "question" {
		what = "在等待确认"
	}
	return fmt.Sprintf(
		"⚠️ 当前会话%s，已暂停处理。\n\n"+
			"请先在 OpenCode 里完成授权，然后回复：\n"+
			"1️⃣ 回复「继续」恢复原会话\n"+
			"2️⃣ 回复「新会话」跳过并开始新话题",
		what,
	)
}

// AuthorizationHint 对无法识别的答复给出的再提示。
func AuthorizationHint() string {
	return "🤔 没看懂。回复「继续」恢复原会话，或「新会话」开始新话题。"
}

// AuthorizationResumed 恢复原会话时的状态提示。
func AuthorizationResumed() string {
	return "✅ 已恢复原会话，继续处理之前的请求。"
}

// AuthorizationTimedOut 等待超时后的状态提示。
func AuthorizationTimedOut() string {
	return "⏰ 授权等待已超时，这条消息将按新输入处理。"
}
