// flush.go — 节流冲刷引擎: 去重、单飞、有界重试与按平台回退策略。
package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/card"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/logger"
)

// DeliveryPolicy 按平台的投递策略。
type DeliveryPolicy struct {
	MinEditInterval time.Duration // 同一消息两次编辑的最小间隔
	RetryDelay      time.Duration // 首次编辑失败后的重试等待
	FallbackToSend  bool          // 编辑两次失败后是否允许改发新消息
}

// PolicyFor 返回平台投递策略。
//
// 飞书对单条消息的更新频率有严格限制, 编辑失败时改发新消息
// 只会成倍放大可见刷屏, 因此禁用回退。
func PolicyFor(provider string) DeliveryPolicy {
	switch provider {
	case "feishu", "lark":
		return DeliveryPolicy{MinEditInterval: 2500 * time.Millisecond, RetryDelay: 500 * time.Millisecond, FallbackToSend: false}
	case "telegram":
		return DeliveryPolicy{MinEditInterval: 120 * time.Millisecond, RetryDelay: 60 * time.Millisecond, FallbackToSend: true}
	default:
		return DeliveryPolicy{MinEditInterval: 500 * time.Millisecond, RetryDelay: 500 * time.Millisecond, FallbackToSend: true}
	}
}

// FlushEngine 决定是否/何时把缓冲内容推向聊天平台。
// 唯一允许对 PlatformMsgID 发起 send/edit 的组件。
type FlushEngine struct {
	mu       sync.Mutex
	inFlight map[string]struct{} // (chatID, platformMsgID) 单飞集合

	// DefaultInterval 覆盖无专属策略平台的最小编辑间隔, 零值沿用 500ms。
	DefaultInterval time.Duration

	// 可注入时钟与休眠, 测试免等待
	now   func() time.Time
	sleep func(time.Duration)
}

// NewFlushEngine 创建冲刷引擎。
func NewFlushEngine() *FlushEngine {
	return &FlushEngine{
		inFlight: make(map[string]struct{}),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

func (f *FlushEngine) policyFor(provider string) DeliveryPolicy {
	p := PolicyFor(provider)
	switch provider {
	case "feishu", "lark", "telegram":
	default:
		if f.DefaultInterval > 0 {
			p.MinEditInterval = f.DefaultInterval
		}
	}
	return p
}

// renderFor 按适配器能力渲染最终载荷: 卡片平台出卡片 JSON,
// 其余平台出压缩后的纯文本 (引用思考 + 正文 + 状态行)。
func renderFor(adapter Adapter, content string) string {
	if c, ok := adapter.(CardCapable); ok && c.SupportsCards() {
		return card.Render(content)
	}
	return card.RenderPlain(content)
}

// Flush 按节流/去重/单飞规则把缓冲当前内容推向平台。
//
// shouldUpdate = force || 尚无平台消息 || 距上次尝试超过平台最小间隔。
func (f *FlushEngine) Flush(ctx context.Context, adapter Adapter, chatID string, buf *MessageBuffer, force bool) {
	if buf == nil || !buf.HasContent() {
		return
	}

	policy := f.policyFor(adapter.Provider())
	now := f.now()
	shouldUpdate := force || buf.PlatformMsgID == "" ||
		now.Sub(buf.LastUpdateTime) > policy.MinEditInterval
	if !shouldUpdate {
		return
	}

	content := buf.BuildDisplay()
	if strings.TrimSpace(content) == "" {
		return
	}
	payload := renderFor(adapter, content)
	hash := displayHash(payload)

	if buf.PlatformMsgID == "" {
		buf.LastUpdateTime = now
		sent, err := adapter.SendMessage(ctx, chatID, payload)
		if err != nil || sent == "" {
			logger.Warn("flush: send failed",
				logger.FieldChatID, chatID,
				logger.FieldContentLen, len(payload),
				logger.FieldError, err,
			)
			return
		}
		buf.PlatformMsgID = sent
		buf.LastDisplayHash = hash
		buf.LastFlushedAt = f.now()
		return
	}

	// 内容未变的编辑纯属浪费速率预算
	if hash == buf.LastDisplayHash {
		return
	}

	key := chatID + ":" + buf.PlatformMsgID
	f.mu.Lock()
	if _, busy := f.inFlight[key]; busy {
		f.mu.Unlock()
		logger.Debug("flush: skip-edit-inflight",
			logger.FieldChatID, chatID,
			logger.FieldMsgID, buf.PlatformMsgID,
		)
		return
	}
	f.inFlight[key] = struct{}{}
	f.mu.Unlock()

	// 尝试一开始就盖节流戳: 失败的尝试同样消耗预算,
	// 避免对已经不稳的平台形成重试风暴。
	buf.LastUpdateTime = now

	defer func() {
		f.mu.Lock()
		delete(f.inFlight, key)
		f.mu.Unlock()
	}()

	msgID := f.safeEditWithRetry(ctx, adapter, chatID, buf.PlatformMsgID, payload, policy)
	if msgID == "" {
		return
	}
	// 回退路径可能产生了新消息 ID
	buf.PlatformMsgID = msgID
	buf.LastDisplayHash = hash
	buf.LastFlushedAt = f.now()
	buf.LastUpdateTime = f.now()
}

// safeEditWithRetry 最多尝试两次编辑; 二次失败后按策略回退或放弃。
//
// 投递失败是可恢复、可观测的状况, 只记日志, 永不向调用方抛出。
func (f *FlushEngine) safeEditWithRetry(ctx context.Context, adapter Adapter, chatID, msgID, content string, policy DeliveryPolicy) string {
	ok, err := adapter.EditMessage(ctx, chatID, msgID, content)
	if ok {
		return msgID
	}
	logger.Warn("flush: edit failed first try",
		logger.FieldChatID, chatID,
		logger.FieldMsgID, msgID,
		logger.FieldContentLen, len(content),
		logger.FieldError, err,
	)

	f.sleep(policy.RetryDelay)

	ok, err = adapter.EditMessage(ctx, chatID, msgID, content)
	if ok {
		return msgID
	}
	logger.Warn("flush: edit failed retry",
		logger.FieldChatID, chatID,
		logger.FieldMsgID, msgID,
		logger.FieldError, err,
	)

	if !policy.FallbackToSend {
		logger.Warn("flush: edit fallback disabled",
			logger.FieldChatID, chatID,
			logger.FieldMsgID, msgID,
			logger.FieldProvider, adapter.Provider(),
		)
		return ""
	}

	sent, err := adapter.SendMessage(ctx, chatID, content)
	if err != nil || sent == "" {
		logger.Warn("flush: fallback send failed",
			logger.FieldChatID, chatID,
			logger.FieldError, err,
		)
		return ""
	}
	logger.Info("flush: fallback created new message",
		logger.FieldChatID, chatID,
		"prev_msg_id", msgID,
		"new_msg_id", sent,
	)
	return sent
}
