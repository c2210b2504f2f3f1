package card

import (
	"encoding/json"
	"strings"
	"testing"
)

// decode 解析 Render 输出, 顺带验证它是合法 JSON。
func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("Render output is not valid JSON: %v\n%s", err, raw)
	}
	return m
}

func header(t *testing.T, m map[string]any) (title, template string) {
	t.Helper()
	h := m["header"].(map[string]any)
	return h["title"].(map[string]any)["content"].(string), h["template"].(string)
}

func TestRender_WideScreenAlwaysOn(t *testing.T) {
	m := decode(t, Render("hello"))
	cfg := m["config"].(map[string]any)
	if cfg["wide_screen_mode"] != true {
		t.Errorf("wide_screen_mode = %v", cfg["wide_screen_mode"])
	}
}

func TestRender_HeaderSelection(t *testing.T) {
	tests := []struct {
		name         string
		md           string
		wantTitle    string
		wantTemplate string
	}{
		{"answer_framing", "final answer", "📝 Answer", "blue"},
		{"tools_framing", "## Tools\nran ls", "🧰 Tools / Steps", "wathet"},
		{"thinking_framing", "> pondering\n", "🤔 Thinking Process", "turquoise"},
		{"generic_default", "## Status\nworking", "🤖 AI Assistant", "blue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, template := header(t, decode(t, Render(tt.md)))
			if title != tt.wantTitle || template != tt.wantTemplate {
				t.Errorf("header = (%q, %q), want (%q, %q)", title, template, tt.wantTitle, tt.wantTemplate)
			}
		})
	}
}

func TestRender_PlaceholderWhenEmpty(t *testing.T) {
	raw := Render("")
	if !strings.Contains(raw, Placeholder) {
		t.Errorf("empty input should render placeholder, got %s", raw)
	}
}

func TestRender_ElementsOrder(t *testing.T) {
	md := "> deep thought\n\n## Tools\nls -la\n## Status\nrunning\n\nbody text"
	// body text 在 Status 标题之后, 属于 status 桶 — 换一个输入保证 answer 存在
	md = "> deep thought\n\nbody text\n## Tools\nls -la\n## Status\nrunning"
	m := decode(t, Render(md))
	elements := m["elements"].([]any)

	var tags []string
	for _, el := range elements {
		tags = append(tags, el.(map[string]any)["tag"].(string))
	}
	// thinking 面板 → 间隔 → tools 面板 → hr → 正文 → hr → note
	want := []string{"collapsible_panel", "div", "collapsible_panel", "hr", "div", "hr", "note"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("element[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestRender_PanelsNeverExpanded(t *testing.T) {
	m := decode(t, Render("> thought\n\nanswer"))
	for _, el := range m["elements"].([]any) {
		elm := el.(map[string]any)
		if elm["tag"] == "collapsible_panel" && elm["expanded"] != false {
			t.Errorf("panel expanded = %v, want false", elm["expanded"])
		}
	}
}

func TestRender_QuotedThinkingKeepsBody(t *testing.T) {
	// 流式展示的常见形态: 引用思考块 + 无标题正文
	m := decode(t, Render("> 🤔 **Thinking...**\n> pondering\n\nThe actual answer body"))
	raw, _ := json.Marshal(m["elements"])
	if !strings.Contains(string(raw), "The actual answer body") {
		t.Errorf("answer body missing from card elements: %s", raw)
	}
	if !strings.Contains(string(raw), "pondering") {
		t.Errorf("thinking panel missing: %s", raw)
	}
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantEmoji string
	}{
		{"done", "Task done", "✅"},
		{"stopped", "Stopped by user", "✅"},
		{"finished", "finished all steps", "✅"},
		{"idle", "session Idle", "✅"},
		{"in_progress", "crunching numbers", "⚡️"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StatusLine(tt.in)
			if !strings.HasPrefix(got, tt.wantEmoji) {
				t.Errorf("StatusLine(%q) = %q, want prefix %q", tt.in, got, tt.wantEmoji)
			}
		})
	}

	t.Run("newlines_compressed", func(t *testing.T) {
		got := StatusLine("line1\nline2")
		if strings.Contains(got, "\n") {
			t.Errorf("StatusLine kept newline: %q", got)
		}
		if !strings.Contains(got, "line1 | line2") {
			t.Errorf("StatusLine = %q, want separator token", got)
		}
	})

	t.Run("length_capped", func(t *testing.T) {
		got := StatusLine(strings.Repeat("x", 500))
		if len([]rune(got)) > statusMaxLen+5 {
			t.Errorf("StatusLine too long: %d runes", len([]rune(got)))
		}
	})
}

func TestRenderPlain(t *testing.T) {
	t.Run("quoted_thinking_plus_body", func(t *testing.T) {
		got := RenderPlain("> mulling\n\nthe answer")
		if !strings.Contains(got, "> mulling") {
			t.Errorf("missing quoted thinking: %q", got)
		}
		if !strings.Contains(got, "the answer") {
			t.Errorf("missing body: %q", got)
		}
	})

	t.Run("empty_gets_placeholder", func(t *testing.T) {
		if got := RenderPlain(""); got != Placeholder {
			t.Errorf("RenderPlain(\"\") = %q", got)
		}
	})

	t.Run("status_appended", func(t *testing.T) {
		got := RenderPlain("body\n## Status\ndone")
		if !strings.Contains(got, "✅") {
			t.Errorf("missing status line: %q", got)
		}
	})
}
