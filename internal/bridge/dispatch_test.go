package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/config"
	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/event"
	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/opencode"
)

// fakeClient 记录会话/提示调用的假 OpenCode 客户端。
type fakeClient struct {
	mu        sync.Mutex
	sessions  int
	prompts   []promptCall
	promptErr error
}

type promptCall struct {
	sessionID string
	text      string
}

func (c *fakeClient) Subscribe(ctx context.Context) (<-chan json.RawMessage, error) {
	ch := make(chan json.RawMessage)
	close(ch)
	return ch, nil
}

func (c *fakeClient) CreateSession(ctx context.Context, title string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions++
	return fmt.Sprintf("sess-%d", c.sessions), nil
}

func (c *fakeClient) Prompt(ctx context.Context, sessionID string, parts []opencode.MessagePart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.promptErr != nil {
		return c.promptErr
	}
	text := ""
	if len(parts) > 0 {
		text = parts[0].Text
	}
	c.prompts = append(c.prompts, promptCall{sessionID: sessionID, text: text})
	return nil
}

func (c *fakeClient) promptCalls() []promptCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]promptCall, len(c.prompts))
	copy(out, c.prompts)
	return out
}

// newTestBridge 组装带假客户端/假平台的桥接, 冻结冲刷时钟。
func newTestBridge(t *testing.T) (*Bridge, *fakeAdapter, *fakeClient, *time.Time) {
	t.Helper()
	cfg := &config.Config{UpdateIntervalMS: 500, AuthTimeoutMin: 15}
	client := &fakeClient{}
	mux := NewMux()
	a := &fakeAdapter{provider: "test"}
	mux.Register("test", a)

	b := New(cfg, client, mux)
	now := time.Unix(1700000000, 0)
	b.flusher.now = func() time.Time { return now }
	b.flusher.sleep = func(time.Duration) {}
	b.gate.now = func() time.Time { return now }
	return b, a, client, &now
}

func partDeltaEvent(sessionID, messageID, partType, delta string) *event.Observed {
	return &event.Observed{
		Type: "message.part.delta",
		Properties: map[string]any{
			"delta": delta,
			"part": map[string]any{
				"type":      partType,
				"sessionID": sessionID,
				"messageID": messageID,
			},
		},
	}
}

func TestDispatchPartDeltaDelivers(t *testing.T) {
	b, a, _, _ := newTestBridge(t)
	ctx := context.Background()
	b.registry.RegisterSession("s1", SessionContext{ChatID: "c1"}, "test")

	b.dispatchEvent(ctx, partDeltaEvent("s1", "m1", "text", "Hello"))

	if a.sendCount() != 1 {
		t.Fatalf("sends = %d, want 1", a.sendCount())
	}
	if got := b.registry.ActiveMessage("s1"); got != "m1" {
		t.Errorf("active message = %q", got)
	}
	buf, ok := b.buffers.Get("m1")
	if !ok || buf.Text != "Hello" {
		t.Errorf("buffer = %+v", buf)
	}
}

func TestDispatchFiltersUserEcho(t *testing.T) {
	b, a, _, _ := newTestBridge(t)
	ctx := context.Background()
	b.registry.RegisterSession("s1", SessionContext{ChatID: "c1"}, "test")

	b.dispatchEvent(ctx, &event.Observed{
		Type:       "message.updated",
		Properties: map[string]any{"info": map[string]any{"id": "m1", "role": "user"}},
	})
	b.dispatchEvent(ctx, partDeltaEvent("s1", "m1", "text", "echo"))

	if a.sendCount() != 0 {
		t.Errorf("user echo delivered: sends = %d", a.sendCount())
	}
}

func TestDispatchUnknownSessionDropped(t *testing.T) {
	b, a, _, _ := newTestBridge(t)

	b.dispatchEvent(context.Background(), partDeltaEvent("ghost", "m1", "text", "x"))

	if a.sendCount() != 0 {
		t.Errorf("sends = %d, want 0", a.sendCount())
	}
}

func TestDispatchSessionIdleFinalizes(t *testing.T) {
	b, a, _, now := newTestBridge(t)
	ctx := context.Background()
	b.registry.RegisterSession("s1", SessionContext{ChatID: "c1"}, "test")

	b.dispatchEvent(ctx, partDeltaEvent("s1", "m1", "text", "answer"))
	*now = now.Add(time.Hour)
	b.dispatchEvent(ctx, &event.Observed{
		Type:       "session.idle",
		Properties: map[string]any{"sessionID": "s1"},
	})

	buf, _ := b.buffers.Get("m1")
	if buf == nil || !buf.Final {
		t.Fatalf("buffer not finalized: %+v", buf)
	}
	if b.registry.ActiveMessage("s1") != "" {
		t.Error("active message not cleared")
	}
	// 终态冲刷带压缩后的状态行 (纯文本平台不出现裸标题)
	if a.editCount() != 1 || !strings.Contains(a.edits[0], "✅") {
		t.Errorf("final flush missing: edits = %v", a.edits)
	}
	if strings.Contains(a.edits[0], "## Status") {
		t.Errorf("plain payload leaked raw heading: %q", a.edits[0])
	}
}

func TestDispatchSessionErrorSurfaces(t *testing.T) {
	b, a, _, _ := newTestBridge(t)
	ctx := context.Background()
	b.registry.RegisterSession("s1", SessionContext{ChatID: "c1"}, "test")

	b.dispatchEvent(ctx, &event.Observed{
		Type: "session.error",
		Properties: map[string]any{
			"sessionID": "s1",
			"error":     map[string]any{"message": "model exploded"},
		},
	})

	if a.sendCount() != 1 || !strings.Contains(a.sends[0], "model exploded") {
		t.Fatalf("error not surfaced: %v", a.sends)
	}
	if b.registry.CachedSession("c1") != "" {
		t.Error("chat cache not invalidated")
	}
}

func TestDispatchPermissionBlockOpensGate(t *testing.T) {
	b, a, _, _ := newTestBridge(t)
	ctx := context.Background()
	b.registry.RegisterSession("s1", SessionContext{ChatID: "c1"}, "test")
	b.registry.SetLastInput("s1", []opencode.MessagePart{opencode.TextPart("do the thing")})

	b.dispatchEvent(ctx, &event.Observed{
		Type:       "permission.asked",
		Properties: map[string]any{"sessionID": "s1"},
	})

	st, expired := b.gate.Pending("test", "c1")
	if st == nil || expired {
		t.Fatalf("gate not opened: (%v, %v)", st, expired)
	}
	if len(st.DeferredParts) != 1 || st.DeferredParts[0].Text != "do the thing" {
		t.Errorf("DeferredParts = %+v", st.DeferredParts)
	}
	if a.sendCount() != 1 || !strings.Contains(a.sends[0], "继续") {
		t.Errorf("prompt not sent: %v", a.sends)
	}
}

func TestDispatchUpstreamReplyClosesGate(t *testing.T) {
	b, _, _, _ := newTestBridge(t)
	ctx := context.Background()
	b.registry.RegisterSession("s1", SessionContext{ChatID: "c1"}, "test")
	b.gate.Begin(PendingAuthorization{AdapterKey: "test", ChatID: "c1", SessionID: "s1"})

	b.dispatchEvent(ctx, &event.Observed{
		Type:       "permission.replied",
		Properties: map[string]any{"sessionID": "s1"},
	})

	if st, _ := b.gate.Pending("test", "c1"); st != nil {
		t.Error("gate still pending after upstream reply")
	}
}

func TestDispatchSessionDeletedCleansUp(t *testing.T) {
	b, _, _, _ := newTestBridge(t)
	ctx := context.Background()
	b.registry.RegisterSession("s1", SessionContext{ChatID: "c1"}, "test")
	b.buffers.GetOrCreate("s1", "m1")
	b.gate.Begin(PendingAuthorization{AdapterKey: "test", ChatID: "c1", SessionID: "s1"})

	b.dispatchEvent(ctx, &event.Observed{
		Type:       "session.deleted",
		Properties: map[string]any{"sessionID": "s1"},
	})

	if _, _, ok := b.registry.LookupSession("s1"); ok {
		t.Error("session survived deletion")
	}
	if b.buffers.Len() != 0 {
		t.Error("buffers survived deletion")
	}
	if b.gate.Len() != 0 {
		t.Error("gate entry survived deletion")
	}
	if b.registry.CachedSession("c1") != "" {
		t.Error("chat cache survived deletion")
	}
}

func TestDispatchMessageRemoved(t *testing.T) {
	b, _, _, _ := newTestBridge(t)
	b.buffers.GetOrCreate("s1", "m1")

	b.dispatchEvent(context.Background(), &event.Observed{
		Type:       "message.removed",
		Properties: map[string]any{"messageID": "m1"},
	})

	if b.buffers.Len() != 0 {
		t.Error("buffer survived message.removed")
	}
}
