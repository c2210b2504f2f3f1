// Package feishu 提供飞书开放平台适配器: 互动卡片消息的发送与原地更新,
// 以及消息表情回应。
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/card"
	apperrors "github.com/Liyunlun/message-bridge-opencode-plugin/pkg/errors"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/logger"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/util"
)

const defaultAPIBase = "https://open.feishu.cn"

// Adapter 飞书适配器。出站载荷是卡片 JSON (SupportsCards = true)。
type Adapter struct {
	appID      string
	appSecret  string
	base       string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	reactions   map[string]string // messageID:emoji -> reaction_id
}

// New 创建飞书适配器。apiBase 为空时使用默认开放平台地址。
func New(appID, appSecret, apiBase string) *Adapter {
	return &Adapter{
		appID:      appID,
		appSecret:  appSecret,
		base:       util.FirstNonEmpty(apiBase, defaultAPIBase),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		reactions:  make(map[string]string),
	}
}

// Provider 平台标识, 决定投递节流策略。
func (a *Adapter) Provider() string { return "feishu" }

// SupportsCards 飞书走互动卡片通道。
func (a *Adapter) SupportsCards() bool { return true }

// ========================================
// tenant_access_token
// ========================================

// accessToken 返回缓存的租户令牌, 到期前 60 秒刷新。
func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	const op = "feishu.accessToken"

	a.mu.Lock()
	if a.token != "" && time.Now().Before(a.tokenExpiry.Add(-time.Minute)) {
		token := a.token
		a.mu.Unlock()
		return token, nil
	}
	a.mu.Unlock()

	var out struct {
		Code   int    `json:"code"`
		Msg    string `json:"msg"`
		Token  string `json:"tenant_access_token"`
		Expire int    `json:"expire"`
	}
	err := a.request(ctx, http.MethodPost, "/open-apis/auth/v3/tenant_access_token/internal",
		map[string]any{"app_id": a.appID, "app_secret": a.appSecret}, "", &out)
	if err != nil {
		return "", apperrors.Wrap(err, op, "fetch token")
	}
	if out.Code != 0 || out.Token == "" {
		return "", apperrors.Newf(op, "code %d: %s", out.Code, out.Msg)
	}

	a.mu.Lock()
	a.token = out.Token
	a.tokenExpiry = time.Now().Add(time.Duration(out.Expire) * time.Second)
	a.mu.Unlock()
	return out.Token, nil
}

// ========================================
// 出站: bridge.Adapter 实现
// ========================================

type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// ensureCard 保证出站载荷是卡片 JSON 对象。通知类文本 (pong/授权提示/
// 错误浮出) 以纯字符串到达, 在这里统一过渲染器, 避免开放平台拒收。
func ensureCard(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return content
	}
	return card.Render(content)
}

// SendMessage 发送互动卡片消息, 返回 message_id。
// content 应为渲染好的卡片 JSON; 收到纯文本时先渲染成卡片。
func (a *Adapter) SendMessage(ctx context.Context, chatID, content string) (string, error) {
	const op = "feishu.SendMessage"

	token, err := a.accessToken(ctx)
	if err != nil {
		return "", err
	}

	var env apiEnvelope
	err = a.request(ctx, http.MethodPost, "/open-apis/im/v1/messages?receive_id_type=chat_id",
		map[string]any{
			"receive_id": chatID,
			"msg_type":   "interactive",
			"content":    ensureCard(content),
		}, token, &env)
	if err != nil {
		return "", apperrors.Wrap(err, op, "send")
	}
	if env.Code != 0 {
		return "", apperrors.Newf(op, "code %d: %s", env.Code, util.Truncate(env.Msg, 200))
	}

	var data struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.MessageID == "" {
		return "", apperrors.New(op, "response carried no message id")
	}
	return data.MessageID, nil
}

// EditMessage 原地更新卡片内容。
func (a *Adapter) EditMessage(ctx context.Context, _ string, messageID, cardJSON string) (bool, error) {
	const op = "feishu.EditMessage"

	token, err := a.accessToken(ctx)
	if err != nil {
		return false, err
	}

	var env apiEnvelope
	err = a.request(ctx, http.MethodPatch, "/open-apis/im/v1/messages/"+messageID,
		map[string]any{"content": cardJSON}, token, &env)
	if err != nil {
		return false, apperrors.Wrap(err, op, "patch")
	}
	if env.Code != 0 {
		return false, apperrors.Newf(op, "code %d: %s", env.Code, util.Truncate(env.Msg, 200))
	}
	return true, nil
}

// ========================================
// 表情回应: bridge.ReactionAdapter 实现
// ========================================

// AddReaction 给消息挂表情, 记住 reaction_id 供移除。
func (a *Adapter) AddReaction(ctx context.Context, _ string, messageID, emoji string) error {
	const op = "feishu.AddReaction"

	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}

	var env apiEnvelope
	err = a.request(ctx, http.MethodPost, "/open-apis/im/v1/messages/"+messageID+"/reactions",
		map[string]any{"reaction_type": map[string]any{"emoji_type": emoji}}, token, &env)
	if err != nil {
		return apperrors.Wrap(err, op, "add")
	}
	if env.Code != 0 {
		return apperrors.Newf(op, "code %d: %s", env.Code, env.Msg)
	}

	var data struct {
		ReactionID string `json:"reaction_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err == nil && data.ReactionID != "" {
		a.mu.Lock()
		a.reactions[messageID+":"+emoji] = data.ReactionID
		a.mu.Unlock()
	}
	return nil
}

// RemoveReaction 移除此前挂上的表情。未知的组合静默忽略。
func (a *Adapter) RemoveReaction(ctx context.Context, _ string, messageID, emoji string) error {
	const op = "feishu.RemoveReaction"

	a.mu.Lock()
	reactionID, ok := a.reactions[messageID+":"+emoji]
	delete(a.reactions, messageID+":"+emoji)
	a.mu.Unlock()
	if !ok {
		return nil
	}

	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}

	var env apiEnvelope
	err = a.request(ctx, http.MethodDelete,
		"/open-apis/im/v1/messages/"+messageID+"/reactions/"+reactionID, nil, token, &env)
	if err != nil {
		return apperrors.Wrap(err, op, "delete")
	}
	if env.Code != 0 {
		return apperrors.Newf(op, "code %d: %s", env.Code, env.Msg)
	}
	return nil
}

// request 发起开放平台调用并解码 JSON 响应。
func (a *Adapter) request(ctx context.Context, method, path string, payload any, token string, out any) error {
	const op = "feishu.request"

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return apperrors.Wrap(err, op, "marshal payload")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return apperrors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, op, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.Wrap(err, op, "read response")
	}
	if resp.StatusCode == http.StatusNotFound {
		return apperrors.Wrapf(apperrors.ErrNotFound, op, "%s %s: 404", method, path)
	}
	if resp.StatusCode >= 500 {
		return apperrors.Wrapf(apperrors.ErrUnavailable, op, "%s %s: status %d", method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Debug("feishu response decode failed",
			logger.FieldURL, path,
			logger.FieldLen, len(data),
		)
		return apperrors.Wrapf(err, op, "%s %s: decode", method, path)
	}
	return nil
}
