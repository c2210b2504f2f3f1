package telegram

import (
	"strings"
	"testing"
)

func TestTruncateMiddle(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		check  func(t *testing.T, got string)
	}{
		{
			name:   "短文本原样返回",
			text:   "hello",
			maxLen: 100,
			check: func(t *testing.T, got string) {
				if got != "hello" {
					t.Errorf("got %q", got)
				}
			},
		},
		{
			name:   "超长文本保留头尾",
			text:   strings.Repeat("a", 300) + strings.Repeat("z", 300),
			maxLen: 100,
			check: func(t *testing.T, got string) {
				if !strings.Contains(got, "(已截断)") {
					t.Errorf("missing truncation marker: %q", got)
				}
				if !strings.HasPrefix(got, "aaa") || !strings.HasSuffix(got, "zzz") {
					t.Errorf("head/tail not preserved: %q", got)
				}
			},
		},
		{
			name:   "maxLen 为 0 使用默认值",
			text:   "short",
			maxLen: 0,
			check: func(t *testing.T, got string) {
				if got != "short" {
					t.Errorf("got %q", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, truncateMiddle(tt.text, tt.maxLen))
		})
	}
}

func TestIsAuthorized(t *testing.T) {
	tests := []struct {
		name    string
		chatID  string
		allowed string
		want    bool
	}{
		{"空白名单允许所有", "12345", "", true},
		{"匹配白名单", "12345", "12345", true},
		{"不匹配白名单", "99999", "12345", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAuthorized(tt.chatID, tt.allowed); got != tt.want {
				t.Errorf("isAuthorized(%q, %q) = %v, want %v", tt.chatID, tt.allowed, got, tt.want)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory()

	if h.Len() != 0 {
		t.Fatalf("new history len = %d", h.Len())
	}

	h.Add("user", "hello", "chat1", "u1", "received")
	h.Add("assistant", "world", "chat1", "", "sent")

	if h.Len() != 2 {
		t.Errorf("len = %d, want 2", h.Len())
	}

	got := h.Get(1)
	if len(got) != 1 || got[0].Text != "world" {
		t.Errorf("Get(1) = %+v", got)
	}

	got = h.Get(0)
	if len(got) != 2 {
		t.Errorf("Get(0) len = %d, want 2", len(got))
	}

	h.Clear()
	if h.Len() != 0 {
		t.Errorf("len after clear = %d", h.Len())
	}
}

func TestHistoryRingLimit(t *testing.T) {
	h := NewHistory()
	for i := 0; i < maxHistoryLen+50; i++ {
		h.Add("user", "x", "c", "u", "")
	}
	if h.Len() != maxHistoryLen {
		t.Errorf("len = %d, want %d", h.Len(), maxHistoryLen)
	}
}
