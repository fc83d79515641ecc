package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCXParser OOXML格式的Word文档解析器
// 段落和表格行合并进正文流，文本过短时对嵌入图片做OCR补救
type DOCXParser struct {
	cfg *parserConfig
}

// newDOCXParser 创建一个新的DOCX解析器
func newDOCXParser(cfg *parserConfig) *DOCXParser {
	return &DOCXParser{cfg: cfg}
}

// NewDOCXParser 使用默认配置创建DOCX解析器
func NewDOCXParser() *DOCXParser {
	return newDOCXParser(defaultParserConfig())
}

// docxBody word/document.xml的文档主体
// 只解析段落和表格两类块级元素
type docxBody struct {
	XMLName xml.Name    `xml:"document"`
	Body    docxContent `xml:"body"`
}

type docxContent struct {
	Paragraphs []docxParagraph `xml:"p"`
	Tables     []docxTable     `xml:"tbl"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Texts []string `xml:"t"`
}

type docxTable struct {
	Rows []docxTableRow `xml:"tr"`
}

type docxTableRow struct {
	Cells []docxTableCell `xml:"tc"`
}

type docxTableCell struct {
	Paragraphs []docxParagraph `xml:"p"`
}

// Parse 解析DOCX字节内容并提取文本
func (p *DOCXParser) Parse(content []byte, fileType string) (*ParsedDocument, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid OOXML archive: %v", ErrUnreadableContainer, err)
	}

	docXML, err := readZipEntry(reader, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableContainer, err)
	}

	var doc docxBody
	if err := xml.Unmarshal(docXML, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed document xml: %v", ErrUnreadableContainer, err)
	}

	var paragraphs []string
	for _, para := range doc.Body.Paragraphs {
		if text := paragraphText(para); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}

	// 表格行以竖线拼接单元格后并入正文，表格里的需求语句不会丢失
	var tables []Table
	for _, tbl := range doc.Body.Tables {
		var rows [][]string
		for _, row := range tbl.Rows {
			var cells []string
			for _, cell := range row.Cells {
				var cellParts []string
				for _, para := range cell.Paragraphs {
					if text := paragraphText(para); text != "" {
						cellParts = append(cellParts, text)
					}
				}
				cells = append(cells, strings.Join(cellParts, " "))
			}
			rows = append(rows, cells)

			var nonEmpty []string
			for _, c := range cells {
				if strings.TrimSpace(c) != "" {
					nonEmpty = append(nonEmpty, strings.TrimSpace(c))
				}
			}
			if rowText := strings.Join(nonEmpty, " | "); rowText != "" {
				paragraphs = append(paragraphs, rowText)
			}
		}
		if len(rows) > 0 {
			tables = append(tables, Table{Page: 1, Rows: rows})
		}
	}

	rawText := strings.Join(paragraphs, "\n\n")

	// 文本太短时尝试OCR嵌入图片
	method := "direct"
	imageCount := 0
	if len(strings.TrimSpace(rawText)) < p.cfg.MinTextLength && p.cfg.OCREngine.Available() {
		ocrParts, count := p.ocrEmbeddedImages(reader)
		imageCount = count
		if len(ocrParts) > 0 {
			rawText = strings.TrimSpace(rawText + "\n\n" + strings.Join(ocrParts, "\n\n"))
			method = "ocr"
		}
	}

	// DOCX没有可靠的分页信息，整体视为单页
	pages := []Page{{PageNum: 1, Content: rawText}}

	return &ParsedDocument{
		RawText: rawText,
		Pages:   pages,
		Tables:  tables,
		Metadata: Metadata{
			Method:         method,
			PageCount:      1,
			ParagraphCount: len(paragraphs),
			HasTables:      len(tables) > 0,
			HasImages:      imageCount > 0,
			ImageCount:     imageCount,
		},
	}, nil
}

// ocrEmbeddedImages 对word/media下的嵌入图片逐张OCR
// 返回识别出的文本片段和图片总数，单张失败跳过
func (p *DOCXParser) ocrEmbeddedImages(reader *zip.Reader) ([]string, int) {
	ctx := context.Background()

	var parts []string
	count := 0
	for _, file := range reader.File {
		if !strings.HasPrefix(file.Name, "word/media/") {
			continue
		}
		count++

		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}

		text, err := p.cfg.OCREngine.RecognizeImage(ctx, data)
		if err == nil && strings.TrimSpace(text) != "" {
			parts = append(parts, strings.TrimSpace(text))
		}
	}

	return parts, count
}

// paragraphText 拼接段落中所有文本run
func paragraphText(para docxParagraph) string {
	var sb strings.Builder
	for _, run := range para.Runs {
		for _, text := range run.Texts {
			sb.WriteString(text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// readZipEntry 读取zip包中指定路径的文件内容
func readZipEntry(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %v", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("missing %s", name)
}
