// logic.go — 纯逻辑函数与消息历史, 均可独立测试。
package telegram

import (
	"sync"
	"time"
)

const maxHistoryLen = 200

// truncateMiddle 中间截断: 保留头尾各 half, 中间替换为标记。
// Telegram 对单条消息有长度上限, 流式输出的中段最先过时。
func truncateMiddle(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = maxMessageRunes
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	half := maxLen/2 - 20
	if half < 0 {
		half = 0
	}
	return string(runes[:half]) + "\n\n... (已截断) ...\n\n" + string(runes[len(runes)-half:])
}

// isAuthorized 检查 chatID 是否在白名单。空白名单 = 允许所有。
func isAuthorized(chatID string, allowedChatID string) bool {
	if allowedChatID == "" {
		return true
	}
	return chatID == allowedChatID
}

// ========================================
// History 消息历史
// ========================================

// HistoryEntry 历史记录条目。
type HistoryEntry struct {
	Ts     string `json:"ts"`
	Role   string `json:"role"`
	Text   string `json:"text"`
	ChatID string `json:"chat_id"`
	User   string `json:"user"`
	Status string `json:"status"`
}

// History 线程安全的环形消息历史。
type History struct {
	mu      sync.Mutex // 保护 entries slice
	entries []HistoryEntry
	maxLen  int
}

// NewHistory 创建消息历史 (默认 200 条)。
func NewHistory() *History {
	return &History{maxLen: maxHistoryLen}
}

// Add 添加记录, text 截断到单条消息上限。
func (h *History) Add(role, text, chatID, user, status string) HistoryEntry {
	runes := []rune(text)
	if len(runes) > maxMessageRunes {
		runes = runes[:maxMessageRunes]
	}

	entry := HistoryEntry{
		Ts:     time.Now().UTC().Format(time.RFC3339),
		Role:   role,
		Text:   string(runes),
		ChatID: chatID,
		User:   user,
		Status: status,
	}

	h.mu.Lock()
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.maxLen {
		h.entries = h.entries[len(h.entries)-h.maxLen:]
	}
	h.mu.Unlock()

	return entry
}

// Get 获取最近 limit 条记录。
func (h *History) Get(limit int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit <= 0 || limit > len(h.entries) {
		limit = len(h.entries)
	}
	start := len(h.entries) - limit
	result := make([]HistoryEntry, limit)
	copy(result, h.entries[start:])
	return result
}

// Clear 清空历史。
func (h *History) Clear() {
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()
}

// Len 返回当前记录数。
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
