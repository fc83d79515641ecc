package document

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownParser Markdown文档解析器
// 先渲染为HTML再剥离标签，保证列表和标题的断句位置正确
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{}
}

// Parse 解析Markdown内容并提取纯文本
func (p *MarkdownParser) Parse(content []byte, fileType string) (*ParsedDocument, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: markdown content is not valid UTF-8", ErrUnreadableContainer)
	}

	// 创建Markdown解析器
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)

	// 解析Markdown内容
	doc := mdParser.Parse(content)

	// 创建HTML渲染器
	htmlFlags := html.CommonFlags
	renderer := html.NewRenderer(html.RendererOptions{Flags: htmlFlags})

	// 将Markdown转换为HTML
	htmlContent := markdown.Render(doc, renderer)

	// 从HTML中提取纯文本
	plainText := extractTextFromHTML(string(htmlContent))
	paragraphs := splitParagraphs(plainText)

	return &ParsedDocument{
		RawText: plainText,
		Pages:   []Page{{PageNum: 1, Content: plainText}},
		Metadata: Metadata{
			Method:         "direct",
			PageCount:      1,
			ParagraphCount: len(paragraphs),
		},
	}, nil
}

// extractTextFromHTML 从HTML中提取纯文本
// 简化实现，块级标签替换为换行后移除其余标签
func extractTextFromHTML(htmlText string) string {
	replacements := []struct {
		Old string
		New string
	}{
		{"<br>", "\n"},
		{"<br/>", "\n"},
		{"<br />", "\n"},
		{"<p>", ""},
		{"</p>", "\n\n"},
		{"<li>", "- "},
		{"</li>", "\n"},
		{"<ul>", "\n"},
		{"</ul>", "\n"},
		{"<ol>", "\n"},
		{"</ol>", "\n"},
		{"<h1>", "\n\n"},
		{"</h1>", "\n\n"},
		{"<h2>", "\n\n"},
		{"</h2>", "\n\n"},
		{"<h3>", "\n\n"},
		{"</h3>", "\n\n"},
		{"<h4>", "\n\n"},
		{"</h4>", "\n\n"},
		{"<h5>", "\n\n"},
		{"</h5>", "\n\n"},
		{"<h6>", "\n\n"},
		{"</h6>", "\n\n"},
	}

	result := htmlText
	for _, r := range replacements {
		result = strings.ReplaceAll(result, r.Old, r.New)
	}

	// 移除所有剩余HTML标签
	for {
		start := strings.Index(result, "<")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], ">")
		if end == -1 {
			break
		}
		result = result[:start] + " " + result[start+end+1:]
	}

	return normalizeWhitespace(result)
}

// normalizeWhitespace 规范化文本中的空白符
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")

	// 压缩连续空行
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(text)
}
