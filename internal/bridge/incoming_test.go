package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/opencode"
	apperrors "github.com/Liyunlun/message-bridge-opencode-plugin/pkg/errors"
)

func TestHandleIncomingPing(t *testing.T) {
	b, a, client, _ := newTestBridge(t)

	b.HandleIncoming(context.Background(), "test", "c1", "u1", "in1", "  ping  ")

	if a.sendCount() != 1 || a.sends[0] != "Pong! ⚡️" {
		t.Errorf("sends = %v", a.sends)
	}
	if len(client.promptCalls()) != 0 {
		t.Error("ping reached the assistant")
	}
}

func TestHandleIncomingCreatesAndReusesSession(t *testing.T) {
	b, _, client, _ := newTestBridge(t)
	ctx := context.Background()

	b.HandleIncoming(ctx, "test", "c1", "u1", "in1", "first question")
	b.HandleIncoming(ctx, "test", "c1", "u1", "in2", "follow up")

	calls := client.promptCalls()
	if len(calls) != 2 {
		t.Fatalf("prompts = %d, want 2", len(calls))
	}
	if calls[0].sessionID != calls[1].sessionID {
		t.Errorf("session not reused: %q vs %q", calls[0].sessionID, calls[1].sessionID)
	}
	if calls[0].text != "first question" || calls[1].text != "follow up" {
		t.Errorf("prompt texts = %+v", calls)
	}

	sctx, adapterKey, ok := b.registry.LookupSession(calls[0].sessionID)
	if !ok || sctx.ChatID != "c1" || adapterKey != "test" {
		t.Errorf("registry mapping = (%+v, %q, %v)", sctx, adapterKey, ok)
	}
	if got := b.registry.LastInput(calls[0].sessionID); len(got) != 1 || got[0].Text != "follow up" {
		t.Errorf("last input = %+v", got)
	}
}

func TestHandleIncomingStaleSessionInvalidates(t *testing.T) {
	b, a, client, _ := newTestBridge(t)
	ctx := context.Background()

	b.HandleIncoming(ctx, "test", "c1", "u1", "in1", "hello")
	first := client.promptCalls()[0].sessionID

	// 上游会话已消亡, Prompt 返回 404
	client.promptErr = apperrors.Wrap(apperrors.ErrNotFound, "WSClient.Prompt", "session gone")
	b.HandleIncoming(ctx, "test", "c1", "u1", "in2", "still there?")

	if a.sendCount() == 0 || !strings.Contains(a.sends[len(a.sends)-1], "❌ Error") {
		t.Fatalf("error not surfaced: %v", a.sends)
	}
	if b.registry.CachedSession("c1") != "" {
		t.Fatal("stale session still cached")
	}

	// 下一条输入开启新会话
	client.promptErr = nil
	b.HandleIncoming(ctx, "test", "c1", "u1", "in3", "retry")
	calls := client.promptCalls()
	if calls[len(calls)-1].sessionID == first {
		t.Error("stale session reused after invalidation")
	}
}

func TestHandleIncomingGateUnknownReply(t *testing.T) {
	b, a, client, _ := newTestBridge(t)
	ctx := context.Background()
	b.gate.Begin(PendingAuthorization{AdapterKey: "test", ChatID: "c1", SessionID: "s1"})

	b.HandleIncoming(ctx, "test", "c1", "u1", "in1", "banana")

	if a.sendCount() != 1 || !strings.Contains(a.sends[0], "没看懂") {
		t.Errorf("hint not sent: %v", a.sends)
	}
	if len(client.promptCalls()) != 0 {
		t.Error("unknown reply reached the assistant")
	}
	if st, _ := b.gate.Pending("test", "c1"); st == nil {
		t.Error("gate closed by unknown reply")
	}
}

func TestHandleIncomingGateResume(t *testing.T) {
	b, a, client, _ := newTestBridge(t)
	ctx := context.Background()
	b.gate.Begin(PendingAuthorization{
		AdapterKey: "test", ChatID: "c1", SessionID: "s1",
		DeferredParts: []opencode.MessagePart{opencode.TextPart("blocked work")},
	})

	b.HandleIncoming(ctx, "test", "c1", "u1", "in1", "继续")

	if st, _ := b.gate.Pending("test", "c1"); st != nil {
		t.Fatal("gate still pending after resume")
	}
	calls := client.promptCalls()
	if len(calls) != 1 || calls[0].sessionID != "s1" || calls[0].text != "blocked work" {
		t.Fatalf("deferred input not replayed: %+v", calls)
	}
	if a.sendCount() != 1 || !strings.Contains(a.sends[0], "已恢复") {
		t.Errorf("resume notice missing: %v", a.sends)
	}
}

func TestHandleIncomingGateStartNew(t *testing.T) {
	b, _, client, _ := newTestBridge(t)
	ctx := context.Background()

	b.HandleIncoming(ctx, "test", "c1", "u1", "in1", "hello")
	first := client.promptCalls()[0].sessionID
	b.gate.Begin(PendingAuthorization{AdapterKey: "test", ChatID: "c1", SessionID: first})

	b.HandleIncoming(ctx, "test", "c1", "u1", "in2", "新会话")

	if st, _ := b.gate.Pending("test", "c1"); st != nil {
		t.Fatal("gate still pending")
	}
	calls := client.promptCalls()
	if len(calls) != 2 {
		t.Fatalf("prompts = %d, want 2", len(calls))
	}
	if calls[1].sessionID == first {
		t.Error("new-session reply stayed on the old session")
	}
	// 答复本身作为新会话的首条输入
	if calls[1].text != "新会话" {
		t.Errorf("first input = %q", calls[1].text)
	}
}

func TestHandleIncomingGateExpired(t *testing.T) {
	b, a, client, now := newTestBridge(t)
	ctx := context.Background()
	b.gate.Begin(PendingAuthorization{AdapterKey: "test", ChatID: "c1", SessionID: "s1"})

	*now = now.Add(16 * time.Minute)
	b.HandleIncoming(ctx, "test", "c1", "u1", "in1", "are you alive?")

	// 超时提示在前, 消息仍按普通输入处理
	if a.sendCount() == 0 || !strings.Contains(a.sends[0], "超时") {
		t.Fatalf("timeout notice missing: %v", a.sends)
	}
	calls := client.promptCalls()
	if len(calls) != 1 || calls[0].text != "are you alive?" {
		t.Errorf("input not processed after expiry: %+v", calls)
	}
}

func TestHandleIncomingBlankIgnored(t *testing.T) {
	b, a, client, _ := newTestBridge(t)

	b.HandleIncoming(context.Background(), "test", "c1", "u1", "in1", "   ")

	if a.sendCount() != 0 || len(client.promptCalls()) != 0 {
		t.Error("blank input produced traffic")
	}
}
