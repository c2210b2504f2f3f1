// Package card 将分区后的 transcript 渲染为飞书卡片 JSON 或纯文本。
package card

import (
	"encoding/json"
	"strings"

	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/markdown"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/util"
)

// Placeholder 内容三空 (thinking/answer/status) 时的兜底文案,
// 保证聊天侧不会出现一条空白消息。
const Placeholder = "Allocating resources..."

const statusMaxLen = 100

// Card 飞书互动卡片结构。
type Card struct {
	Config   CardConfig `json:"config"`
	Header   CardHeader `json:"header"`
	Elements []any      `json:"elements"`
}

// CardConfig 卡片全局配置。
type CardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

// CardHeader 卡片头部 (emoji 标题 + 强调色)。
type CardHeader struct {
	Title    CardText `json:"title"`
	Template string   `json:"template"`
}

// CardText 纯文本节点。
type CardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

func plainText(content string) CardText {
	return CardText{Tag: "plain_text", Content: content}
}

func larkMd(content string) map[string]any {
	return map[string]any{
		"tag":  "div",
		"text": map[string]any{"tag": "lark_md", "content": content},
	}
}

// collapsiblePanel 折叠面板 (思考/工具分区默认收起), 内容为空返回 nil。
func collapsiblePanel(title, content string) map[string]any {
	c := strings.TrimSpace(content)
	if c == "" {
		return nil
	}
	return map[string]any{
		"tag":              "collapsible_panel",
		"expanded":         false,
		"background_style": "grey",
		"header": map[string]any{
			"title": plainText(title),
		},
		"border": map[string]any{
			"top":    true,
			"bottom": true,
		},
		"elements": []any{larkMd(c)},
	}
}

// StatusLine 压缩状态文本为单行并添加进度 emoji。
//
// done/stop/finish/idle (大小写不敏感) 视为已完成, 其余视为进行中。
func StatusLine(statusText string) string {
	s := strings.ToLower(statusText)
	done := strings.Contains(s, "done") || strings.Contains(s, "stop") ||
		strings.Contains(s, "finish") || strings.Contains(s, "idle")

	emoji := "⚡️"
	if done {
		emoji = "✅"
	}

	clean := util.Truncate(strings.ReplaceAll(statusText, "\n", " | "), statusMaxLen)
	return emoji + " " + clean
}

// headerFor 选择标题与强调色: answer 优先, 其次 tools, 再次 thinking。
// 仅影响头部展示, 不影响缓冲内容。
func headerFor(s markdown.Sections) (title, color string) {
	switch {
	case strings.TrimSpace(s.Answer) != "":
		return "📝 Answer", "blue"
	case strings.TrimSpace(s.Tools) != "":
		return "🧰 Tools / Steps", "wathet"
	case strings.TrimSpace(s.Thinking) != "":
		return "🤔 Thinking Process", "turquoise"
	default:
		return "🤖 AI Assistant", "blue"
	}
}

// Render 将 transcript markdown 渲染为卡片 JSON 字符串。
//
// 元素顺序: thinking 面板 → tools 面板 → 分隔线 → 正文 → 状态注脚。
func Render(md string) string {
	sections := markdown.ParseSections(md)

	title, color := headerFor(sections)
	var elements []any

	if strings.TrimSpace(sections.Thinking) != "" {
		if p := collapsiblePanel("💭 Thinking", sections.Thinking); p != nil {
			elements = append(elements, p)
		}
	}

	if strings.TrimSpace(sections.Tools) != "" {
		if len(elements) > 0 {
			elements = append(elements, larkMd(" "))
		}
		if p := collapsiblePanel("⚙️ Execution", sections.Tools); p != nil {
			elements = append(elements, p)
		}
	}

	answer := strings.TrimSpace(sections.Answer)
	status := strings.TrimSpace(sections.Status)
	if answer != "" {
		if len(elements) > 0 {
			elements = append(elements, map[string]any{"tag": "hr"})
		}
		elements = append(elements, larkMd(answer))
	} else if status == "" && strings.TrimSpace(sections.Thinking) == "" {
		elements = append(elements, larkMd(Placeholder))
	}

	if status != "" {
		elements = append(elements, map[string]any{"tag": "hr"})
		elements = append(elements, map[string]any{
			"tag":      "note",
			"elements": []any{plainText(StatusLine(status))},
		})
	}

	c := Card{
		Config:   CardConfig{WideScreenMode: true},
		Header:   CardHeader{Title: plainText(title), Template: color},
		Elements: elements,
	}
	raw, err := json.Marshal(c)
	if err != nil {
		// Card 只含可序列化基础类型, 走不到这里
		return "{}"
	}
	return string(raw)
}

// RenderPlain 为不支持卡片的平台渲染纯文本 (思考引用 + 正文 + 状态行)。
func RenderPlain(md string) string {
	sections := markdown.ParseSections(md)

	var b strings.Builder
	if t := strings.TrimSpace(sections.Thinking); t != "" {
		for _, line := range strings.Split(t, "\n") {
			if strings.HasPrefix(line, ">") {
				b.WriteString(line)
			} else {
				b.WriteString("> " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if a := strings.TrimSpace(sections.Answer); a != "" {
		b.WriteString(a)
		b.WriteString("\n")
	}
	if s := strings.TrimSpace(sections.Status); s != "" {
		b.WriteString("\n")
		b.WriteString(StatusLine(s))
		b.WriteString("\n")
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return Placeholder
	}
	return out
}
