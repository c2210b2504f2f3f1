// janitor.go — 运行时巡检: 过期授权清理、终态缓冲回收、状态快照推送。
package bridge

import (
	"context"
	"time"

	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/logger"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/util"
)

const (
	defaultSweepInterval   = 30 * time.Second
	defaultBufferRetention = 10 * time.Minute
)

// RuntimePublisher 状态快照发布接口 (解耦 SSE 总线)。
type RuntimePublisher interface {
	PublishRuntime(snapshot map[string]any)
}

// Janitor 定期清理桥接运行时的陈旧状态。
type Janitor struct {
	br        *Bridge
	publisher RuntimePublisher
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewJanitor 创建巡检器。publisher 可为 nil。
func NewJanitor(br *Bridge, publisher RuntimePublisher) *Janitor {
	return &Janitor{
		br:        br,
		publisher: publisher,
		interval:  defaultSweepInterval,
		retention: defaultBufferRetention,
		now:       time.Now,
	}
}

// SetRetention 覆盖终态缓冲的保留时长。
func (j *Janitor) SetRetention(d time.Duration) {
	if d > 0 {
		j.retention = d
	}
}

// RunOnce 执行一次清理周期并返回快照。
func (j *Janitor) RunOnce(ctx context.Context) map[string]any {
	// 过期授权: 摘除并主动告知对应聊天
	for _, st := range j.br.gate.ExpireDue() {
		logger.Info("authorization expired",
			logger.FieldSessionID, st.SessionID,
			logger.FieldChatID, st.ChatID,
		)
		adapter, ok := j.br.mux.Get(st.AdapterKey)
		if !ok {
			continue
		}
		if _, err := adapter.SendMessage(ctx, st.ChatID, AuthorizationTimedOut()); err != nil {
			logger.Warn("timeout notice send failed",
				logger.FieldChatID, st.ChatID,
				logger.FieldError, err,
			)
		}
	}

	swept := j.br.buffers.SweepFinal(j.now().Add(-j.retention))
	if swept > 0 {
		logger.Debug("final buffers swept", logger.FieldCount, swept)
	}

	snapshot := map[string]any{
		"ts":           j.now(),
		"sessions":     len(j.br.registry.Sessions()),
		"buffers":      j.br.buffers.Len(),
		"pending_auth": j.br.gate.Len(),
		"swept":        swept,
	}
	if j.publisher != nil {
		j.publisher.PublishRuntime(snapshot)
	}
	return snapshot
}

// Start 启动定期巡检 (goroutine + ticker)。
func (j *Janitor) Start(ctx context.Context) {
	util.SafeGo("bridge-janitor", func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.RunOnce(ctx)
			}
		}
	})
	logger.Infow("janitor started", "interval_sec", int(j.interval.Seconds()))
}
