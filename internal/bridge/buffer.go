// buffer.go — 出站消息缓冲: 增量累积、快照合并、展示内容拼装。
package bridge

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// MessageBuffer 一条仍在接收流式更新的出站消息的可变缓冲。
//
// 增量只追加, 快照只在严格更长时替换 — 容忍快照/增量乱序交错,
// 已投递内容永不回退。
type MessageBuffer struct {
	SessionID string
	MessageID string

	PlatformMsgID string // 平台消息 ID, 首次发送后填充
	Reasoning     string // 思考流
	Text          string // 正文流
	Status        string // 会话状态行 (session.status)

	LastDisplayHash uint64    // 最近一次成功展示内容的哈希
	LastUpdateTime  time.Time // 节流预算戳 (尝试开始即盖, 失败也消耗预算)
	LastFlushedAt   time.Time // 最近一次成功投递时间
	Final           bool      // 生产步骤结束且末次冲刷成功后置位
}

// ApplyDelta 追加增量到对应桶; 缓冲内容不会因增量缩短。
func (b *MessageBuffer) ApplyDelta(partType, delta string) {
	if delta == "" {
		return
	}
	switch partType {
	case "reasoning":
		b.Reasoning += delta
	case "text":
		b.Text += delta
	}
}

// ApplySnapshot 快照仅在严格长于现值时替换对应桶。
func (b *MessageBuffer) ApplySnapshot(partType, text string) {
	switch partType {
	case "reasoning":
		if len(text) > len(b.Reasoning) {
			b.Reasoning = text
		}
	case "text":
		if len(text) > len(b.Text) {
			b.Text = text
		}
	}
}

// SetStatus 更新状态行 (整体替换, 状态是快照语义)。
func (b *MessageBuffer) SetStatus(text string) {
	b.Status = text
}

// HasContent 判断缓冲是否有可投递内容。
func (b *MessageBuffer) HasContent() bool {
	return b.Reasoning != "" || b.Text != "" || b.Status != ""
}

// BuildDisplay 拼装展示内容:
// 逐行引用的思考块 → 正文 → 状态分区。
func (b *MessageBuffer) BuildDisplay() string {
	var sb strings.Builder

	if b.Reasoning != "" {
		clean := strings.TrimRight(b.Reasoning, " \t\n")
		sb.WriteString("> 🤔 **Thinking...**\n")
		for _, line := range strings.Split(clean, "\n") {
			sb.WriteString("> ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if b.Text != "" {
		sb.WriteString(b.Text)
	}

	if status := strings.TrimSpace(b.Status); status != "" {
		sb.WriteString("\n\n## Status\n")
		sb.WriteString(status)
	}

	return sb.String()
}

// displayHash 展示内容的稳定哈希 (FNV-64a), 用于去重跳过无变化编辑。
func displayHash(content string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(content))
	return h.Sum64()
}

// ========================================
// BufferStore
// ========================================

// BufferStore 独占持有缓冲, 按助手消息 ID 键控。
type BufferStore struct {
	mu      sync.Mutex
	buffers map[string]*MessageBuffer
}

// NewBufferStore 创建空缓冲仓库。
func NewBufferStore() *BufferStore {
	return &BufferStore{buffers: make(map[string]*MessageBuffer)}
}

// GetOrCreate 返回消息对应的缓冲, 不存在则创建。
func (s *BufferStore) GetOrCreate(sessionID, messageID string) *MessageBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buffers[messageID]; ok {
		return b
	}
	b := &MessageBuffer{SessionID: sessionID, MessageID: messageID}
	s.buffers[messageID] = b
	return b
}

// Get 返回消息对应的缓冲。
func (s *BufferStore) Get(messageID string) (*MessageBuffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[messageID]
	return b, ok
}

// Remove 删除单条缓冲。
func (s *BufferStore) Remove(messageID string) {
	s.mu.Lock()
	delete(s.buffers, messageID)
	s.mu.Unlock()
}

// RemoveSession 会话结束时清除其全部缓冲。
func (s *BufferStore) RemoveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mid, b := range s.buffers {
		if b.SessionID == sessionID {
			delete(s.buffers, mid)
		}
	}
}

// Len 返回在途缓冲数量。
func (s *BufferStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

// Snapshot 返回缓冲概要 (调试面板用)。
func (s *BufferStore) Snapshot() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.buffers))
	for _, b := range s.buffers {
		out = append(out, map[string]any{
			"session_id":      b.SessionID,
			"message_id":      b.MessageID,
			"platform_msg_id": b.PlatformMsgID,
			"reasoning_len":   len(b.Reasoning),
			"text_len":        len(b.Text),
			"final":           b.Final,
		})
	}
	return out
}

// SweepFinal 删除已终态且末次投递早于 cutoff 的缓冲, 返回删除数量。
func (s *BufferStore) SweepFinal(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for mid, b := range s.buffers {
		if b.Final && !b.LastFlushedAt.IsZero() && b.LastFlushedAt.Before(cutoff) {
			delete(s.buffers, mid)
			n++
		}
	}
	return n
}

// Reset 清空全部缓冲。
func (s *BufferStore) Reset() {
	s.mu.Lock()
	s.buffers = make(map[string]*MessageBuffer)
	s.mu.Unlock()
}
