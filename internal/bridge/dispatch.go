// dispatch.go — 归一化事件到具体处理的分发。
package bridge

import (
	"context"

	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/event"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/logger"
)

// dispatchEvent 按事件类型路由。单事件的处理失败不影响循环。
func (b *Bridge) dispatchEvent(ctx context.Context, e *event.Observed) {
	switch e.Type {
	case "message.updated":
		b.handleMessageUpdated(e)

	case "message.removed":
		if id := e.MessageID(); id != "" {
			b.buffers.Remove(id)
		}

	case "message.part.updated", "message.part.delta":
		b.handlePartEvent(ctx, e)

	case "message.part.removed":
		logger.Debug("part removed",
			logger.FieldSessionID, e.SessionID(),
			logger.FieldMessageID, e.MessageID(),
		)

	case "session.status":
		b.handleSessionStatus(ctx, e)

	case "session.idle":
		b.handleSessionIdle(ctx, e)

	case "session.error":
		b.handleSessionError(ctx, e)

	case "session.deleted":
		b.handleSessionDeleted(e)

	case "permission.asked", "permission.updated", "question.asked":
		b.handlePermissionBlock(ctx, e)

	case "permission.replied", "question.replied", "question.rejected":
		if st := b.gate.ResolveSession(e.SessionID()); st != nil {
			logger.Info("authorization resolved upstream",
				logger.FieldSessionID, st.SessionID,
				logger.FieldChatID, st.ChatID,
				logger.FieldEventType, e.Type,
			)
		}

	case "command.executed":
		logger.Info("command executed",
			logger.FieldSessionID, e.SessionID(),
			"command", event.StringField(e.Properties, "command", "name"),
		)
	}
}

// handleMessageUpdated 记录消息角色, 用于过滤用户消息回显。
func (b *Bridge) handleMessageUpdated(e *event.Observed) {
	id := e.MessageID()
	role := event.StringField(e.Info(), "role")
	if id == "" || role == "" {
		return
	}
	b.registry.SetRole(id, role)
}

// handlePartEvent 文本/推理增量进入缓冲并触发节流冲刷;
// step-finish 强制冲刷一次, 保证阶段边界对用户可见。
func (b *Bridge) handlePartEvent(ctx context.Context, e *event.Observed) {
	part := e.Part()
	partType := event.StringField(part, "type")
	sessionID := e.SessionID()
	messageID := e.MessageID()
	if sessionID == "" || messageID == "" {
		return
	}

	// 用户消息的 part 是入站回显, 不投递
	if b.registry.Role(messageID) == "user" {
		return
	}

	sctx, adapter, ok := b.adapterFor(sessionID)
	if !ok {
		return
	}

	switch partType {
	case "text", "reasoning":
		buf := b.buffers.GetOrCreate(sessionID, messageID)
		b.registry.SetActiveMessage(sessionID, messageID)

		if delta := e.Delta(); delta != "" {
			buf.ApplyDelta(partType, delta)
		} else if text := event.StringField(part, "text"); text != "" {
			buf.ApplySnapshot(partType, text)
		} else {
			return
		}
		b.flusher.Flush(ctx, adapter, sctx.ChatID, buf, false)

	case "step-finish":
		if msgID := b.registry.ActiveMessage(sessionID); msgID != "" {
			if buf, ok := b.buffers.Get(msgID); ok {
				b.flusher.Flush(ctx, adapter, sctx.ChatID, buf, true)
			}
		}

	default:
		logger.Debug("part ignored",
			logger.FieldSessionID, sessionID,
			logger.FieldPartType, partType,
		)
	}
}

// handleSessionStatus 更新状态行并节流冲刷。
func (b *Bridge) handleSessionStatus(ctx context.Context, e *event.Observed) {
	sessionID := e.SessionID()
	status := event.StringField(e.Properties, "status", "text", "description")
	if status == "" {
		status = event.StringField(subAny(e.Properties, "status"), "text", "description", "type")
	}
	if sessionID == "" || status == "" {
		return
	}

	msgID := b.registry.ActiveMessage(sessionID)
	if msgID == "" {
		return
	}
	buf, ok := b.buffers.Get(msgID)
	if !ok {
		return
	}
	buf.SetStatus(status)

	if sctx, adapter, ok := b.adapterFor(sessionID); ok {
		b.flusher.Flush(ctx, adapter, sctx.ChatID, buf, false)
	}
}

// subAny 取嵌套 map, 与 event.subMap 同义但面向本包内的 any 属性。
func subAny(obj map[string]any, key string) map[string]any {
	if m, ok := obj[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// handleSessionIdle 回合结束: 强制冲刷终态, 标记 Final 并解除活跃消息。
func (b *Bridge) handleSessionIdle(ctx context.Context, e *event.Observed) {
	sessionID := e.SessionID()
	if sessionID == "" {
		return
	}

	msgID := b.registry.ActiveMessage(sessionID)
	if msgID != "" {
		if buf, ok := b.buffers.Get(msgID); ok {
			buf.SetStatus("done")
			buf.Final = true
			if sctx, adapter, ok := b.adapterFor(sessionID); ok {
				b.flusher.Flush(ctx, adapter, sctx.ChatID, buf, true)
			}
		}
	}
	b.registry.ClearActiveMessage(sessionID)
}

// handleSessionError 把上游错误呈现给聊天, 并作废该聊天的会话缓存,
// 下一条输入将开启新会话。
func (b *Bridge) handleSessionError(ctx context.Context, e *event.Observed) {
	sessionID := e.SessionID()
	errText := event.StringField(e.Properties, "error", "message")
	if errText == "" {
		errText = event.StringField(subAny(e.Properties, "error"), "message", "name")
	}
	if errText == "" {
		errText = "unknown error"
	}

	logger.Error("session error",
		logger.FieldSessionID, sessionID,
		logger.FieldError, errText,
	)

	sctx, adapter, ok := b.adapterFor(sessionID)
	if !ok {
		return
	}
	if _, err := adapter.SendMessage(ctx, sctx.ChatID, "❌ Error: "+errText); err != nil {
		logger.Warn("error notice send failed",
			logger.FieldChatID, sctx.ChatID,
			logger.FieldError, err,
		)
	}
	b.registry.InvalidateChat(sctx.ChatID)
	b.registry.ClearActiveMessage(sessionID)
	b.buffers.RemoveSession(sessionID)
}

// handleSessionDeleted 上游会话消亡, 清理全部关联状态。
func (b *Bridge) handleSessionDeleted(e *event.Observed) {
	sessionID := e.SessionID()
	if sessionID == "" {
		if info := e.Info(); len(info) > 0 {
			sessionID = event.StringField(info, "id")
		}
	}
	if sessionID == "" {
		return
	}

	if sctx, _, ok := b.registry.LookupSession(sessionID); ok {
		b.registry.InvalidateChat(sctx.ChatID)
	}
	b.gate.ResolveSession(sessionID)
	b.buffers.RemoveSession(sessionID)
	b.registry.RemoveSession(sessionID)
	logger.Info("session deleted", logger.FieldSessionID, sessionID)
}

// handlePermissionBlock 会话被权限/提问阻塞: 登记授权等待,
// 强制冲刷当前缓冲, 然后向聊天发出提示。
func (b *Bridge) handlePermissionBlock(ctx context.Context, e *event.Observed) {
	sessionID := e.SessionID()
	if sessionID == "" {
		return
	}
	sctx, adapterKey, ok := b.registry.LookupSession(sessionID)
	if !ok {
		return
	}
	adapter, ok := b.mux.Get(adapterKey)
	if !ok {
		return
	}

	reason := "permission"
	if e.Type == "question.asked" {
		reason = "question"
	}

	if msgID := b.registry.ActiveMessage(sessionID); msgID != "" {
		if buf, ok := b.buffers.Get(msgID); ok {
			b.flusher.Flush(ctx, adapter, sctx.ChatID, buf, true)
		}
	}

	st := b.gate.Begin(PendingAuthorization{
		AdapterKey:    adapterKey,
		ChatID:        sctx.ChatID,
		SenderID:      sctx.SenderID,
		SessionID:     sessionID,
		BlockedReason: reason,
		Source:        e.Type,
		DeferredParts: b.registry.LastInput(sessionID),
	})
	logger.Info("session blocked",
		logger.FieldSessionID, sessionID,
		logger.FieldChatID, st.ChatID,
		logger.FieldEventType, e.Type,
		"reason", reason,
	)

	if _, err := adapter.SendMessage(ctx, sctx.ChatID, AuthorizationPrompt(reason)); err != nil {
		logger.Warn("authorization prompt send failed",
			logger.FieldChatID, sctx.ChatID,
			logger.FieldError, err,
		)
	}
}
