// incoming.go — 聊天平台入站消息到 OpenCode 会话提示的转换。
package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/opencode"
	apperrors "github.com/Liyunlun/message-bridge-opencode-plugin/pkg/errors"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/logger"
)

// loadingEmoji 处理期间挂在入站消息上的表情回应。
const loadingEmoji = "OnIt"

// HandleIncoming 处理一条入站聊天消息。
//
// 顺序: ping 短路 → 授权门拦截 → 会话解析 (缓存或新建) → 提交提示。
// 所有失败都以聊天内可见的错误文本收尾, 不向调用方返回错误。
func (b *Bridge) HandleIncoming(ctx context.Context, adapterKey, chatID, senderID, messageID, text string) {
	adapter, ok := b.mux.Get(adapterKey)
	if !ok {
		logger.Warn("incoming for unknown adapter", logger.FieldAdapter, adapterKey)
		return
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	logger.Info("incoming message",
		logger.FieldAdapter, adapterKey,
		logger.FieldChatID, chatID,
		logger.FieldSenderID, senderID,
		logger.FieldContentLen, len(trimmed),
	)

	if strings.EqualFold(trimmed, "ping") {
		if _, err := adapter.SendMessage(ctx, chatID, "Pong! ⚡️"); err != nil {
			logger.Warn("pong send failed", logger.FieldChatID, chatID, logger.FieldError, err)
		}
		return
	}

	if b.interceptAuthorization(ctx, adapter, adapterKey, chatID, trimmed) {
		return
	}

	b.submitPrompt(ctx, adapter, adapterKey, chatID, senderID, messageID, trimmed)
}

// interceptAuthorization 在该聊天有等待中的授权时消费这条输入。
// 返回 true 表示输入已被门吸收, 不再作为普通提示提交。
func (b *Bridge) interceptAuthorization(ctx context.Context, adapter Adapter, adapterKey, chatID, text string) bool {
	st, expired := b.gate.Pending(adapterKey, chatID)
	if st == nil {
		return false
	}

	if expired {
		// 过期: 告知后按普通输入继续处理
		if _, err := adapter.SendMessage(ctx, chatID, AuthorizationTimedOut()); err != nil {
			logger.Warn("timeout notice send failed", logger.FieldChatID, chatID, logger.FieldError, err)
		}
		return false
	}

	switch ParseAuthorizationReply(text) {
	case ReplyEmpty:
		return true

	case ReplyUnknown:
		if _, err := adapter.SendMessage(ctx, chatID, AuthorizationHint()); err != nil {
			logger.Warn("hint send failed", logger.FieldChatID, chatID, logger.FieldError, err)
		}
		return true

	case ReplyResumeBlocked:
		b.gate.Resolve(adapterKey, chatID)
		logger.Info("authorization resumed",
			logger.FieldSessionID, st.SessionID,
			logger.FieldChatID, chatID,
		)
		if _, err := adapter.SendMessage(ctx, chatID, AuthorizationResumed()); err != nil {
			logger.Warn("resume notice send failed", logger.FieldChatID, chatID, logger.FieldError, err)
		}
		if len(st.DeferredParts) > 0 {
			if err := b.client.Prompt(ctx, st.SessionID, st.DeferredParts); err != nil {
				b.surfaceError(ctx, adapter, chatID, st.SessionID, err)
			}
		}
		return true

	case ReplyStartNewSession:
		b.gate.Resolve(adapterKey, chatID)
		b.registry.InvalidateChat(chatID)
		logger.Info("authorization skipped, starting fresh",
			logger.FieldSessionID, st.SessionID,
			logger.FieldChatID, chatID,
		)
		// 该答复本身就是新会话的首条输入
		return false
	}
	return false
}

// submitPrompt 解析或创建会话并提交用户输入。
func (b *Bridge) submitPrompt(ctx context.Context, adapter Adapter, adapterKey, chatID, senderID, messageID, text string) {
	if ra, ok := adapter.(ReactionAdapter); ok && messageID != "" {
		if err := ra.AddReaction(ctx, chatID, messageID, loadingEmoji); err != nil {
			logger.Debug("reaction add failed", logger.FieldChatID, chatID, logger.FieldError, err)
		}
		defer func() {
			if err := ra.RemoveReaction(ctx, chatID, messageID, loadingEmoji); err != nil {
				logger.Debug("reaction remove failed", logger.FieldChatID, chatID, logger.FieldError, err)
			}
		}()
	}

	sessionID := b.registry.CachedSession(chatID)
	if sessionID == "" {
		created, err := b.client.CreateSession(ctx, sessionTitle(chatID))
		if err != nil || created == "" {
			if err == nil {
				err = apperrors.Wrap(apperrors.ErrUnavailable, "Bridge.HandleIncoming", "empty session id")
			}
			b.surfaceError(ctx, adapter, chatID, "", err)
			return
		}
		sessionID = created
		b.registry.RegisterSession(sessionID, SessionContext{ChatID: chatID, SenderID: senderID}, adapterKey)
		logger.Info("session created",
			logger.FieldSessionID, sessionID,
			logger.FieldChatID, chatID,
			logger.FieldAdapter, adapterKey,
		)
	}

	parts := []opencode.MessagePart{opencode.TextPart(text)}
	b.registry.SetLastInput(sessionID, parts)

	if err := b.client.Prompt(ctx, sessionID, parts); err != nil {
		b.surfaceError(ctx, adapter, chatID, sessionID, err)
	}
}

// surfaceError 把投递失败呈现到聊天。404 意味着缓存会话已失效,
// 同时作废缓存, 下一条输入将新建会话。
func (b *Bridge) surfaceError(ctx context.Context, adapter Adapter, chatID, sessionID string, err error) {
	logger.Error("prompt submit failed",
		logger.FieldChatID, chatID,
		logger.FieldSessionID, sessionID,
		logger.FieldError, err,
	)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		b.registry.InvalidateChat(chatID)
	}
	if _, sendErr := adapter.SendMessage(ctx, chatID, "❌ Error: "+err.Error()); sendErr != nil {
		logger.Warn("error notice send failed", logger.FieldChatID, chatID, logger.FieldError, sendErr)
	}
}

// sessionTitle 为新会话生成可追溯的标题。
func sessionTitle(chatID string) string {
	tail := chatID
	if n := len(tail); n > 8 {
		tail = tail[n-8:]
	}
	return fmt.Sprintf("chat-%s-%s", tail, uuid.NewString()[:8])
}
