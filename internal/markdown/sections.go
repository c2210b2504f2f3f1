// Package markdown 将流式传输的 transcript 快照切分为语义分区。
//
// 单趟行扫描器: 识别开头引用块、##+ 标题、加粗伪标题,
// 按标题关键词把内容路由到 thinking / tools / status / answer 四个桶。
package markdown

import "strings"

// Sections 四个互斥的文本累积桶, 每次渲染重新计算, 不持久化。
type Sections struct {
	Thinking string
	Answer   string
	Tools    string
	Status   string
}

// Options 解析策略。
type Options struct {
	// FoldUnknownHeadings 为 true 时, 未识别标题的正文折叠进 answer
	// 并以加粗标题行作为前导; 为 false 时仅追加正文。
	FoldUnknownHeadings bool
}

// ParseSections 按默认策略解析 (未识别标题折叠进 answer)。
func ParseSections(md string) Sections {
	return ParseSectionsWith(md, Options{FoldUnknownHeadings: true})
}

// ParseSectionsWith 按指定策略解析。
func ParseSectionsWith(md string, opts Options) Sections {
	var s Sections
	if md == "" {
		return s
	}

	rest := md
	// 开头引用块: 没有显式 Thinking 标题时, 整段前导引用视为思考内容。
	if !strings.Contains(md, "## Thinking") {
		quoted, remainder := splitLeadingQuote(md)
		if quoted != "" {
			s.Thinking = quoted
			rest = remainder
		}
	}

	lines := strings.Split(rest, "\n")
	type span struct {
		title string // 原始标题文本 (保留给未识别标题回插)
		body  []string
	}
	var preamble []string
	var spans []span

	for _, line := range lines {
		if title, ok := headingTitle(line); ok {
			spans = append(spans, span{title: title})
			continue
		}
		if len(spans) == 0 {
			preamble = append(preamble, line)
		} else {
			last := &spans[len(spans)-1]
			last.body = append(last.body, line)
		}
	}

	// 首个标题之前的文本属于 answer (隐式标题)。无标题的流式快照
	// 整段都是 preamble, 同样落入 answer。
	if pre := strings.Join(preamble, "\n"); strings.TrimSpace(pre) != "" {
		s.Answer += pre
	}

	for _, sp := range spans {
		content := strings.Join(sp.body, "\n")
		key := strings.ToLower(strings.TrimSpace(sp.title))
		switch {
		case strings.Contains(key, "think") || strings.Contains(key, "思"):
			s.Thinking += content
		case strings.Contains(key, "tool") || strings.Contains(key, "step") || strings.Contains(key, "工具"):
			s.Tools += content
		case strings.Contains(key, "status") || strings.Contains(key, "状态"):
			s.Status += content
		case strings.Contains(key, "answer") || strings.Contains(key, "回答"):
			s.Answer += content
		default:
			// 未识别的分区不丢弃
			if opts.FoldUnknownHeadings {
				s.Answer += "\n\n**" + sp.title + "**\n" + content
			} else {
				s.Answer += content
			}
		}
	}

	return s
}

// splitLeadingQuote 摘出开头连续的 "> " 引用行, 剩余部分原样返回。
func splitLeadingQuote(md string) (quoted, remainder string) {
	lines := strings.Split(md, "\n")
	n := 0
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "> ") || trimmed == ">" {
			n++
			continue
		}
		break
	}
	if n == 0 {
		return "", md
	}
	return strings.Join(lines[:n], "\n"), strings.Join(lines[n:], "\n")
}

// headingTitle 判断一行是否为标题 (##+ 或加粗伪标题), 返回标题文本。
func headingTitle(line string) (string, bool) {
	if strings.HasPrefix(line, "##") {
		title := strings.TrimSpace(strings.TrimLeft(line, "#"))
		return trimHeadingSuffix(title), true
	}
	if strings.HasPrefix(line, "**") {
		title := strings.TrimSpace(strings.TrimPrefix(line, "**"))
		return trimHeadingSuffix(title), true
	}
	return "", false
}

// trimHeadingSuffix 去掉标题行尾部的 "**" 或 ":" 装饰。
func trimHeadingSuffix(title string) string {
	title = strings.TrimSuffix(title, "**")
	title = strings.TrimSuffix(title, ":")
	title = strings.TrimSuffix(title, "：")
	return strings.TrimSpace(title)
}
