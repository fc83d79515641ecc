package document

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// PlainTextParser 纯文本解析器
type PlainTextParser struct{}

// NewPlainTextParser 创建一个新的纯文本解析器
func NewPlainTextParser() *PlainTextParser {
	return &PlainTextParser{}
}

// Parse 解析纯文本内容
func (p *PlainTextParser) Parse(content []byte, fileType string) (*ParsedDocument, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: text content is not valid UTF-8", ErrUnreadableContainer)
	}

	text := strings.TrimSpace(string(content))
	paragraphs := splitParagraphs(text)

	return &ParsedDocument{
		RawText: text,
		Pages:   []Page{{PageNum: 1, Content: text}},
		Metadata: Metadata{
			Method:         "direct",
			PageCount:      1,
			ParagraphCount: len(paragraphs),
		},
	}, nil
}

// splitParagraphs 按空行切分段落，过滤空白段
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var result []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
