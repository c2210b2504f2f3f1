// Package bridge 将 OpenCode 事件流中的增量输出合并、节流后投递到聊天平台,
// 并把聊天平台的入站消息转换为 OpenCode 会话提示。
package bridge

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/config"
	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/event"
	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/opencode"
	apperrors "github.com/Liyunlun/message-bridge-opencode-plugin/pkg/errors"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/logger"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/util"
)

// Bridge 模块中枢: 订阅事件流、维护会话映射与消息缓冲、驱动冲刷引擎。
type Bridge struct {
	cfg      *config.Config
	client   opencode.Client
	mux      *Mux
	registry *SessionRegistry
	buffers  *BufferStore
	flusher  *FlushEngine
	gate     *AuthorizationGate

	started atomic.Bool
	cancel  context.CancelFunc

	// EventSink 每个归一化事件的观察钩子 (调试面板用), 可为 nil。
	EventSink func(e *event.Observed)
}

// New 组装 Bridge。
func New(cfg *config.Config, client opencode.Client, mux *Mux) *Bridge {
	flusher := NewFlushEngine()
	if cfg.UpdateIntervalMS > 0 {
		flusher.DefaultInterval = time.Duration(cfg.UpdateIntervalMS) * time.Millisecond
	}
	return &Bridge{
		cfg:      cfg,
		client:   client,
		mux:      mux,
		registry: NewSessionRegistry(),
		buffers:  NewBufferStore(),
		flusher:  flusher,
		gate:     NewAuthorizationGate(time.Duration(cfg.AuthTimeoutMin) * time.Minute),
	}
}

// Registry 暴露会话映射 (调试面板只读)。
func (b *Bridge) Registry() *SessionRegistry { return b.registry }

// Buffers 暴露消息缓冲 (调试面板只读)。
func (b *Bridge) Buffers() *BufferStore { return b.buffers }

// Gate 暴露授权门 (调试面板只读)。
func (b *Bridge) Gate() *AuthorizationGate { return b.gate }

// Start 启动事件循环。重复调用返回错误。
func (b *Bridge) Start(ctx context.Context) error {
	const op = "Bridge.Start"
	if !b.started.CompareAndSwap(false, true) {
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "bridge already started")
	}

	ctx, b.cancel = context.WithCancel(ctx)

	util.SafeGo("bridge-event-loop", func() {
		b.runLoop(ctx, "session", func(c context.Context) (<-chan json.RawMessage, error) {
			return b.client.Subscribe(c)
		})
	})

	if gs, ok := b.client.(opencode.GlobalSubscriber); ok && b.cfg.OpenCodeGlobalURL != "" {
		util.SafeGo("bridge-global-loop", func() {
			b.runLoop(ctx, "global", gs.SubscribeGlobal)
		})
	}

	logger.Info("bridge started",
		logger.FieldComponent, "bridge",
		logger.FieldURL, b.cfg.OpenCodeURL,
	)
	return nil
}

// Stop 停止事件循环并清空运行时状态。幂等, 停止后允许再次 Start。
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.registry.Reset()
	b.buffers.Reset()
	b.gate.Reset()
	if b.started.CompareAndSwap(true, false) {
		logger.Info("bridge stopped", logger.FieldComponent, "bridge")
	}
}

// reconnectDelay 线性退避, 上限 60 秒。
func reconnectDelay(retry int) time.Duration {
	d := time.Duration(5000*(retry+1)) * time.Millisecond
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

// runLoop 订阅-消费-重连循环。订阅断开时强制冲刷所有活跃消息,
// 避免已合并但未投递的尾部内容丢失。
func (b *Bridge) runLoop(ctx context.Context, stream string, subscribe func(context.Context) (<-chan json.RawMessage, error)) {
	retry := 0
	for {
		if ctx.Err() != nil {
			return
		}

		frames, err := subscribe(ctx)
		if err != nil {
			delay := reconnectDelay(retry)
			retry++
			logger.Warn("event stream connect failed",
				logger.FieldStream, stream,
				logger.FieldAttempt, retry,
				logger.FieldWaitMS, delay.Milliseconds(),
				logger.FieldError, err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		retry = 0
		logger.Info("event stream connected", logger.FieldStream, stream)

		for frame := range frames {
			b.consumeFrame(ctx, frame)
		}

		// 订阅结束 (对端关闭或读错误), 冲刷残留内容后重连
		b.flushAll(ctx)
		logger.Warn("event stream disconnected", logger.FieldStream, stream)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay(0)):
		}
	}
}

// consumeFrame 解码单帧并进入归一化 → 过滤 → 分发流水线。
// 单帧失败只记日志, 不中断循环。
func (b *Bridge) consumeFrame(ctx context.Context, frame json.RawMessage) {
	var raw any
	if err := json.Unmarshal(frame, &raw); err != nil {
		logger.Warn("event frame decode failed",
			logger.FieldLen, len(frame),
			logger.FieldError, err,
		)
		return
	}

	e := event.Normalize(raw)
	if e == nil {
		logger.Debug("event frame unrecognized", logger.FieldLen, len(frame))
		return
	}
	if !event.ShouldForward(e.Type) {
		return
	}

	logger.Debug("event", event.Summarize(e)...)
	if b.EventSink != nil {
		b.EventSink(e)
	}
	b.dispatchEvent(ctx, e)
}

// flushAll 强制冲刷所有会话的活跃消息。
func (b *Bridge) flushAll(ctx context.Context) {
	for sessionID, messageID := range b.registry.ActiveMessages() {
		buf, ok := b.buffers.Get(messageID)
		if !ok {
			continue
		}
		sctx, adapterKey, ok := b.registry.LookupSession(sessionID)
		if !ok {
			continue
		}
		adapter, ok := b.mux.Get(adapterKey)
		if !ok {
			continue
		}
		b.flusher.Flush(ctx, adapter, sctx.ChatID, buf, true)
	}
}

// adapterFor 解析事件会话对应的聊天上下文与适配器。
func (b *Bridge) adapterFor(sessionID string) (SessionContext, Adapter, bool) {
	sctx, adapterKey, ok := b.registry.LookupSession(sessionID)
	if !ok {
		return SessionContext{}, nil, false
	}
	adapter, ok := b.mux.Get(adapterKey)
	if !ok {
		logger.Warn("adapter missing for session",
			logger.FieldSessionID, sessionID,
			logger.FieldAdapter, adapterKey,
		)
		return SessionContext{}, nil, false
	}
	return sctx, adapter, true
}
