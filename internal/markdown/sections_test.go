package markdown

import (
	"strings"
	"testing"
)

func TestParseSections_PlainTextOnly(t *testing.T) {
	s := ParseSections("plain text only")
	if s.Answer != "plain text only" {
		t.Errorf("Answer = %q, want %q", s.Answer, "plain text only")
	}
	if s.Thinking != "" || s.Tools != "" || s.Status != "" {
		t.Errorf("other buckets not empty: %+v", s)
	}
}

func TestParseSections_LeadingQuoteBecomesThinking(t *testing.T) {
	s := ParseSections("> reasoning line\n\nSome answer")
	if !strings.Contains(s.Thinking, "> reasoning line") {
		t.Errorf("Thinking = %q, want quoted line", s.Thinking)
	}
	if strings.TrimSpace(s.Answer) != "Some answer" {
		t.Errorf("Answer = %q, want %q", s.Answer, "Some answer")
	}
}

func TestParseSections_ExplicitThinkingHeadingDisablesQuoteCapture(t *testing.T) {
	md := "> quoted\n\n## Thinking\ndeep thoughts\n## Answer\nfinal"
	s := ParseSections(md)
	// 显式 Thinking 标题存在时, 前导引用不再单独摘出
	if !strings.Contains(s.Thinking, "deep thoughts") {
		t.Errorf("Thinking = %q", s.Thinking)
	}
	if !strings.Contains(s.Answer, "final") {
		t.Errorf("Answer = %q", s.Answer)
	}
	// 前导引用属于首个标题之前的文本 → answer
	if !strings.Contains(s.Answer, "> quoted") {
		t.Errorf("Answer should keep preamble quote, got %q", s.Answer)
	}
}

func TestParseSections_KeywordRouting(t *testing.T) {
	tests := []struct {
		name    string
		md      string
		bucket  func(Sections) string
		content string
	}{
		{"tools_en", "## Tools\nran ls", func(s Sections) string { return s.Tools }, "ran ls"},
		{"steps", "## Steps\nstep one", func(s Sections) string { return s.Tools }, "step one"},
		{"tools_zh", "## 工具调用\nbash", func(s Sections) string { return s.Tools }, "bash"},
		{"status_en", "## Status\nrunning", func(s Sections) string { return s.Status }, "running"},
		{"status_zh", "## 状态\n处理中", func(s Sections) string { return s.Status }, "处理中"},
		{"answer_en", "## Answer\n42", func(s Sections) string { return s.Answer }, "42"},
		{"answer_zh", "## 回答\n好的", func(s Sections) string { return s.Answer }, "好的"},
		{"thinking_en", "## Thinking\nhmm", func(s Sections) string { return s.Thinking }, "hmm"},
		{"thinking_zh", "## 思考\n想想", func(s Sections) string { return s.Thinking }, "想想"},
		{"case_insensitive", "## STATUS\nidle", func(s Sections) string { return s.Status }, "idle"},
		{"bold_heading", "**Tools**\nexec", func(s Sections) string { return s.Tools }, "exec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ParseSections(tt.md)
			if got := tt.bucket(s); !strings.Contains(got, tt.content) {
				t.Errorf("bucket = %q, want to contain %q (sections %+v)", got, tt.content, s)
			}
		})
	}
}

func TestParseSections_PreambleIsAnswer(t *testing.T) {
	s := ParseSections("intro text\n## Status\ndone")
	if !strings.Contains(s.Answer, "intro text") {
		t.Errorf("Answer = %q", s.Answer)
	}
	if !strings.Contains(s.Status, "done") {
		t.Errorf("Status = %q", s.Status)
	}
}

func TestParseSections_UnknownHeadingFoldedWithLabel(t *testing.T) {
	s := ParseSections("## Résultat\nvoilà")
	if !strings.Contains(s.Answer, "**Résultat**") {
		t.Errorf("Answer = %q, want bold label re-inserted", s.Answer)
	}
	if !strings.Contains(s.Answer, "voilà") {
		t.Errorf("Answer = %q, want body kept", s.Answer)
	}
}

func TestParseSections_UnknownHeadingWithoutFolding(t *testing.T) {
	s := ParseSectionsWith("## Résultat\nvoilà", Options{FoldUnknownHeadings: false})
	if strings.Contains(s.Answer, "**Résultat**") {
		t.Errorf("Answer = %q, label should not be re-inserted", s.Answer)
	}
	if !strings.Contains(s.Answer, "voilà") {
		t.Errorf("Answer = %q, body must be preserved", s.Answer)
	}
}

func TestParseSections_TrailingHeadingNoPanic(t *testing.T) {
	// 标题正好处于文本末尾, 捕获区间为空但不得崩溃
	s := ParseSections("body\n## Status")
	if !strings.Contains(s.Answer, "body") {
		t.Errorf("Answer = %q", s.Answer)
	}
	if s.Status != "" {
		t.Errorf("Status = %q, want empty span", s.Status)
	}
}

func TestParseSections_MultipleSameBucketAppended(t *testing.T) {
	s := ParseSections("## Tools\nfirst\n## Steps\nsecond")
	if !strings.Contains(s.Tools, "first") || !strings.Contains(s.Tools, "second") {
		t.Errorf("Tools = %q, want both spans", s.Tools)
	}
}

func TestParseSections_Empty(t *testing.T) {
	s := ParseSections("")
	if s.Thinking != "" || s.Answer != "" || s.Tools != "" || s.Status != "" {
		t.Errorf("expected all buckets empty, got %+v", s)
	}
}

func TestParseSections_HeadingSuffixStripped(t *testing.T) {
	s := ParseSections("## Status:\nworking")
	if !strings.Contains(s.Status, "working") {
		t.Errorf("Status = %q", s.Status)
	}
	s = ParseSections("**Status:**\nworking")
	if !strings.Contains(s.Status, "working") {
		t.Errorf("Status (bold) = %q", s.Status)
	}
}
