// Package telegram 提供 Telegram Bot API 适配器: 出站消息发送/编辑与
// 入站长轮询。
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/Liyunlun/message-bridge-opencode-plugin/pkg/errors"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/logger"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/util"
)

const (
	apiBase          = "https://api.telegram.org"
	maxMessageRunes  = 4000
	longPollTimeout  = 30 * time.Second
	pollRetryBackoff = 3 * time.Second
)

// IncomingFunc 入站消息回调。
type IncomingFunc func(ctx context.Context, chatID, senderID, messageID, text string)

// Adapter Telegram 适配器。
type Adapter struct {
	token         string
	allowedChatID string // 空 = 允许所有
	base          string // 测试时指向 httptest server
	httpClient    *http.Client
	history       *History
}

// New 创建 Telegram 适配器。
func New(token, allowedChatID string) *Adapter {
	return &Adapter{
		token:         token,
		allowedChatID: allowedChatID,
		base:          apiBase,
		httpClient:    &http.Client{Timeout: longPollTimeout + 10*time.Second},
		history:       NewHistory(),
	}
}

// Provider 平台标识, 决定投递节流策略。
func (a *Adapter) Provider() string { return "telegram" }

// History 最近入站/出站记录 (调试面板用)。
func (a *Adapter) History() *History { return a.history }

// ========================================
// 出站: bridge.Adapter 实现
// ========================================

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// SendMessage 发送新消息, 返回平台消息 ID。
func (a *Adapter) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	const op = "telegram.SendMessage"
	var sent sentMessage
	err := a.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    truncateMiddle(text, maxMessageRunes),
	}, &sent)
	if err != nil {
		return "", apperrors.Wrap(err, op, "send")
	}
	id := strconv.FormatInt(sent.MessageID, 10)
	a.history.Add("assistant", text, chatID, "", "sent")
	return id, nil
}

// EditMessage 原地编辑既有消息。
func (a *Adapter) EditMessage(ctx context.Context, chatID, messageID, text string) (bool, error) {
	const op = "telegram.EditMessage"
	msgID, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return false, apperrors.Wrapf(apperrors.ErrInvalidInput, op, "message id %q", messageID)
	}
	err = a.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": msgID,
		"text":       truncateMiddle(text, maxMessageRunes),
	}, nil)
	if err != nil {
		return false, apperrors.Wrap(err, op, "edit")
	}
	return true, nil
}

// ========================================
// 入站: getUpdates 长轮询
// ========================================

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64  `json:"message_id"`
		Text      string `json:"text"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
	} `json:"message"`
}

// Poll 长轮询入站消息直到 ctx 取消。每条通过白名单的文本消息
// 交给 handle 处理。
func (a *Adapter) Poll(ctx context.Context, handle IncomingFunc) {
	var offset int64
	for ctx.Err() == nil {
		updates, err := a.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("telegram poll failed", logger.FieldError, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryBackoff):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			chatID := strconv.FormatInt(u.Message.Chat.ID, 10)
			if !isAuthorized(chatID, a.allowedChatID) {
				logger.Warn("telegram chat not allowed", logger.FieldChatID, chatID)
				continue
			}
			senderID := strconv.FormatInt(u.Message.From.ID, 10)
			messageID := strconv.FormatInt(u.Message.MessageID, 10)
			a.history.Add("user", u.Message.Text, chatID, senderID, "received")
			handle(ctx, chatID, senderID, messageID, u.Message.Text)
		}
	}
}

func (a *Adapter) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	var updates []update
	err := a.call(ctx, "getUpdates", map[string]any{
		"offset":  offset,
		"timeout": int(longPollTimeout.Seconds()),
	}, &updates)
	return updates, err
}

// call 调用 Bot API 方法并解出 result。
func (a *Adapter) call(ctx context.Context, method string, params map[string]any, out any) error {
	const op = "telegram.call"

	body, err := json.Marshal(params)
	if err != nil {
		return apperrors.Wrap(err, op, "marshal params")
	}

	url := fmt.Sprintf("%s/bot%s/%s", a.base, a.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, op, "%s", method)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.Wrap(err, op, "read response")
	}

	var api apiResponse
	if err := json.Unmarshal(data, &api); err != nil {
		return apperrors.Wrapf(err, op, "%s: decode", method)
	}
	if !api.OK {
		if api.ErrorCode == http.StatusNotFound || api.ErrorCode == http.StatusBadRequest {
			return apperrors.Wrapf(apperrors.ErrNotFound, op, "%s: %s", method, api.Description)
		}
		return apperrors.Newf(op, "%s: %s", method, util.Truncate(api.Description, 200))
	}
	if out != nil && len(api.Result) > 0 {
		if err := json.Unmarshal(api.Result, out); err != nil {
			return apperrors.Wrapf(err, op, "%s: decode result", method)
		}
	}
	return nil
}
