package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat 不支持的文档格式错误
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrUnreadableContainer 文件损坏或无法读取错误
	ErrUnreadableContainer = errors.New("unreadable document container")
)

// Parser 文档解析器接口
// 负责将不同格式的文档解析为带页结构的纯文本
type Parser interface {
	// Parse 解析文档字节内容，返回结构化解析结果
	Parse(content []byte, fileType string) (*ParsedDocument, error)
}

// ContentType 表示文档的内容类型
type ContentType string

const (
	// PDF 文档类型
	PDF ContentType = "pdf"
	// DOCX Office OpenXML文档类型
	DOCX ContentType = "docx"
	// Markdown 文档类型
	Markdown ContentType = "markdown"
	// PlainText 纯文本类型
	PlainText ContentType = "plaintext"
	// LegacyDoc 旧版二进制DOC类型，明确不支持
	LegacyDoc ContentType = "doc"
	// Unknown 未知类型
	Unknown ContentType = "unknown"
)

// Page 文档中的单页内容
type Page struct {
	PageNum int    `json:"page_num"` // 页码，从1开始
	Content string `json:"content"`  // 页面文本内容
}

// Table 文档中提取的表格
type Table struct {
	Page int        `json:"page"` // 所在页码
	Rows [][]string `json:"rows"` // 行列单元格文本
}

// Metadata 解析过程的元数据
type Metadata struct {
	Method         string `json:"method"`          // 提取方式：direct或ocr
	PageCount      int    `json:"page_count"`      // 页数
	ParagraphCount int    `json:"paragraph_count"` // 段落数
	HasTables      bool   `json:"has_tables"`      // 是否包含表格
	HasImages      bool   `json:"has_images"`      // 是否包含图片
	ImageCount     int    `json:"image_count"`     // 图片数量
}

// ParsedDocument 解析后的文档结构
// 解析完成后不再修改，由调用方持有
type ParsedDocument struct {
	RawText  string   // 文档全文
	Pages    []Page   // 按页拆分的内容
	Tables   []Table  // 提取的表格
	Metadata Metadata // 提取元数据
}

// ParserFactory 解析器工厂函数，根据文件类型创建对应的解析器
// 旧版二进制DOC明确拒绝，避免误当作DOCX解析出乱码
func ParserFactory(fileType string, opts ...ParserOption) (Parser, error) {
	cfg := defaultParserConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	switch normalizeContentType(fileType) {
	case PDF:
		return newPDFParser(cfg), nil
	case DOCX:
		return newDOCXParser(cfg), nil
	case Markdown:
		return NewMarkdownParser(), nil
	case PlainText:
		return NewPlainTextParser(), nil
	case LegacyDoc:
		return nil, fmt.Errorf("%w: legacy binary DOC is not supported, convert to DOCX", ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, fileType)
	}
}

// normalizeContentType 根据文件类型或扩展名检测内容类型
func normalizeContentType(fileType string) ContentType {
	t := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(fileType), "."))
	// 允许传入完整文件名
	if ext := filepath.Ext(t); ext != "" {
		t = strings.TrimPrefix(ext, ".")
	}

	switch t {
	case "pdf":
		return PDF
	case "docx":
		return DOCX
	case "doc":
		return LegacyDoc
	case "md", "markdown":
		return Markdown
	case "txt", "text", "plaintext":
		return PlainText
	default:
		return Unknown
	}
}

// parserConfig 解析器内部配置
type parserConfig struct {
	MinTextLength int        // 判定直接提取有效的最小字符数
	OCRImageLimit int        // 图片存在时触发OCR的文本长度上限
	OCREngine     *OCREngine // OCR引擎，nil表示不可用
}

// defaultParserConfig 返回默认解析器配置
func defaultParserConfig() *parserConfig {
	return &parserConfig{
		MinTextLength: 100,
		OCRImageLimit: 500,
		OCREngine:     NewOCREngine(),
	}
}

// ParserOption 解析器配置选项
type ParserOption func(*parserConfig)

// WithMinTextLength 设置直接提取有效的最小字符数
func WithMinTextLength(n int) ParserOption {
	return func(c *parserConfig) {
		if n > 0 {
			c.MinTextLength = n
		}
	}
}

// WithOCREngine 设置OCR引擎
func WithOCREngine(engine *OCREngine) ParserOption {
	return func(c *parserConfig) {
		c.OCREngine = engine
	}
}
