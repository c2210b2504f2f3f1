// client_ws.go — WebSocket 事件流 + HTTP 会话操作的具体客户端。
package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/Liyunlun/message-bridge-opencode-plugin/pkg/errors"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/logger"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/util"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultIdleTimeout = 120 * time.Second
	pingInterval       = 30 * time.Second
	eventChanBuffer    = 256
)

// WSClient 通过 WebSocket 订阅事件流, 通过 HTTP 执行会话操作。
type WSClient struct {
	EventURL       string // 会话级事件流, ws:// 或 wss://
	GlobalEventURL string // 全局权限事件流, 可为空 (能力缺失)
	APIBase        string // HTTP API 根, 如 http://127.0.0.1:4096

	DialTimeout   time.Duration
	IdleTimeout   time.Duration
	PromptTimeout time.Duration // 单次会话操作上限, 0 = 不额外限时

	httpClient *http.Client
}

// NewWSClient 创建客户端。globalURL 为空时不提供全局订阅能力。
func NewWSClient(eventURL, globalURL, apiBase string) *WSClient {
	return &WSClient{
		EventURL:       eventURL,
		GlobalEventURL: globalURL,
		APIBase:        apiBase,
		DialTimeout:    defaultDialTimeout,
		IdleTimeout:    defaultIdleTimeout,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
	}
}

// Subscribe 实现 Client。
func (c *WSClient) Subscribe(ctx context.Context) (<-chan json.RawMessage, error) {
	return c.subscribe(ctx, c.EventURL)
}

// SubscribeGlobal 实现 GlobalSubscriber。URL 未配置时返回 ErrNotFound。
func (c *WSClient) SubscribeGlobal(ctx context.Context) (<-chan json.RawMessage, error) {
	if c.GlobalEventURL == "" {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "WSClient.SubscribeGlobal", "global event url not configured")
	}
	return c.subscribe(ctx, c.GlobalEventURL)
}

func (c *WSClient) subscribe(ctx context.Context, url string) (<-chan json.RawMessage, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.dialTimeout(),
		NetDialContext:   (&net.Dialer{Timeout: c.dialTimeout()}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, apperrors.Wrapf(err, "WSClient.Subscribe", "dial %s", url)
	}

	idle := c.idleTimeout()
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})

	out := make(chan json.RawMessage, eventChanBuffer)

	util.SafeGo("opencode-read", func() { c.readLoop(ctx, conn, out, idle) })
	util.SafeGo("opencode-ping", func() { c.pingLoop(ctx, conn) })

	return out, nil
}

// readLoop 逐帧读取并转发原始 JSON; 读错误即关闭通道, 重连交给上层。
func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- json.RawMessage, idle time.Duration) {
	defer func() {
		_ = conn.Close()
		close(out)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("opencode: event stream read failed", logger.FieldError, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))

		if !json.Valid(message) {
			logger.Debug("opencode: skipping non-JSON frame", "raw_len", len(message))
			continue
		}
		raw := make(json.RawMessage, len(message))
		copy(raw, message)

		select {
		case out <- raw:
		case <-ctx.Done():
			return
		default:
			// 消费端落后时丢最新帧, 下一个快照会补齐
			logger.Warn("opencode: event channel full, dropping frame", "raw_len", len(message))
		}
	}
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.dialTimeout())
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// ========================================
// HTTP 会话操作
// ========================================

// CreateSession 实现 Client。
func (c *WSClient) CreateSession(ctx context.Context, title string) (string, error) {
	body := map[string]any{"title": title}
	var resp struct {
		ID string `json:"id"`
		// 兼容包一层 data 的响应
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, "/session", body, &resp); err != nil {
		return "", apperrors.Wrap(err, "WSClient.CreateSession", "create session")
	}
	id := util.FirstNonEmpty(resp.ID, resp.Data.ID)
	if id == "" {
		return "", apperrors.New("WSClient.CreateSession", "response carried no session id")
	}
	return id, nil
}

// Prompt 实现 Client。
func (c *WSClient) Prompt(ctx context.Context, sessionID string, parts []MessagePart) error {
	if sessionID == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "WSClient.Prompt", "empty session id")
	}
	if c.PromptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.PromptTimeout)
		defer cancel()
	}
	body := map[string]any{"parts": parts}
	path := fmt.Sprintf("/session/%s/message", sessionID)
	if err := c.postJSON(ctx, path, body, nil); err != nil {
		return apperrors.Wrapf(err, "WSClient.Prompt", "prompt session %s", sessionID)
	}
	return nil
}

func (c *WSClient) postJSON(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBase+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if apperrors.Is(err, context.DeadlineExceeded) {
			return apperrors.Wrapf(apperrors.ErrTimeout, "WSClient.postJSON", "POST %s: deadline exceeded", path)
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return apperrors.Wrapf(apperrors.ErrNotFound, "WSClient.postJSON", "POST %s: 404", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.Newf("WSClient.postJSON", "POST %s: status %d: %s", path, resp.StatusCode, util.Truncate(string(data), 200))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return err
		}
	}
	return nil
}

func (c *WSClient) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return defaultDialTimeout
}

func (c *WSClient) idleTimeout() time.Duration {
	if c.IdleTimeout > 0 {
		return c.IdleTimeout
	}
	return defaultIdleTimeout
}
