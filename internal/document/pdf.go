package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	// pageNumPattern 从pdfcpu输出文件名中提取页码
	pageNumPattern = regexp.MustCompile(`_(?:page_)?(\d+)`)

	// multiSpacePattern 表格行里的列分隔空白
	multiSpacePattern = regexp.MustCompile(`\s{2,}`)
)

// PDFParser PDF文档解析器
// 直接提取文本，提取质量不足时回退到对嵌入图片做OCR
type PDFParser struct {
	cfg *parserConfig
}

// newPDFParser 创建一个新的PDF解析器
func newPDFParser(cfg *parserConfig) *PDFParser {
	return &PDFParser{cfg: cfg}
}

// NewPDFParser 使用默认配置创建PDF解析器
func NewPDFParser() *PDFParser {
	return newPDFParser(defaultParserConfig())
}

// Parse 解析PDF字节内容并提取文本
func (p *PDFParser) Parse(content []byte, fileType string) (*ParsedDocument, error) {
	// pdfcpu的提取接口基于文件，先落盘到临时文件
	tmpFile, err := os.CreateTemp("", "tender_parse_*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp pdf file: %v", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("failed to write temp pdf file: %v", err)
	}
	tmpFile.Close()

	conf := model.NewDefaultConfiguration()

	// 容器不可读是致命错误
	if err := api.ValidateFile(tmpPath, conf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableContainer, err)
	}

	pages, err := p.extractText(tmpPath, conf)
	if err != nil {
		return nil, err
	}

	var allText []string
	for _, page := range pages {
		allText = append(allText, page.Content)
	}
	rawText := strings.TrimSpace(strings.Join(allText, "\n\n"))

	// 抽出嵌入图片，同时作为图片存在信号和OCR输入
	imageFiles, imgCleanup := p.extractImages(tmpPath, conf)
	defer imgCleanup()
	hasImages := len(imageFiles) > 0

	// 文本过短，或有图片且文本仍然偏短时，回退到OCR
	method := "direct"
	textLength := len(rawText)
	if (textLength < p.cfg.MinTextLength || (hasImages && textLength < p.cfg.OCRImageLimit)) &&
		p.cfg.OCREngine.Available() && hasImages {
		if ocrPages := p.ocrImages(imageFiles); len(ocrPages) > 0 {
			var ocrText []string
			for _, page := range ocrPages {
				ocrText = append(ocrText, page.Content)
			}
			joined := strings.TrimSpace(strings.Join(ocrText, "\n\n"))
			if len(joined) > textLength {
				rawText = joined
				pages = ocrPages
				method = "ocr"
			}
		}
	}

	tables := detectTables(pages)

	return &ParsedDocument{
		RawText: rawText,
		Pages:   pages,
		Tables:  tables,
		Metadata: Metadata{
			Method:     method,
			PageCount:  len(pages),
			HasTables:  len(tables) > 0,
			HasImages:  hasImages,
			ImageCount: len(imageFiles),
		},
	}, nil
}

// extractText 按页提取PDF文本
func (p *PDFParser) extractText(pdfPath string, conf *model.Configuration) ([]Page, error) {
	tmpDir, err := os.MkdirTemp("", "pdfcpu_extract_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := api.ExtractContentFile(pdfPath, tmpDir, nil, conf); err != nil {
		return nil, fmt.Errorf("%w: failed to extract text: %v", ErrUnreadableContainer, err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted text dir: %v", err)
	}

	var pages []Page
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(tmpDir, entry.Name()))
		if err != nil {
			continue
		}
		pages = append(pages, Page{
			PageNum: pageNumberFromName(entry.Name()),
			Content: strings.TrimSpace(string(data)),
		})
	}

	// 按页码排序，文件名中没有页码的排在最后
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].PageNum < pages[j].PageNum
	})

	// 重新分配连续页码
	for i := range pages {
		pages[i].PageNum = i + 1
	}

	return pages, nil
}

// extractImages 提取PDF中的嵌入图片，返回图片文件路径和清理函数
// 提取失败视作没有图片，不中断解析
func (p *PDFParser) extractImages(pdfPath string, conf *model.Configuration) ([]string, func()) {
	tmpDir, err := os.MkdirTemp("", "pdfcpu_images_")
	if err != nil {
		return nil, func() {}
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	if err := api.ExtractImagesFile(pdfPath, tmpDir, nil, conf); err != nil {
		return nil, cleanup
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, cleanup
	}

	var files []string
	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		if strings.HasSuffix(name, ".png") || strings.HasSuffix(name, ".jpg") ||
			strings.HasSuffix(name, ".jpeg") || strings.HasSuffix(name, ".tif") ||
			strings.HasSuffix(name, ".tiff") {
			files = append(files, filepath.Join(tmpDir, entry.Name()))
		}
	}

	// 大致按页码顺序处理
	sort.Slice(files, func(i, j int) bool {
		return pageNumberFromName(filepath.Base(files[i])) < pageNumberFromName(filepath.Base(files[j]))
	})

	return files, cleanup
}

// ocrImages 对提取出的图片逐张OCR，单张失败写入占位文本
func (p *PDFParser) ocrImages(imageFiles []string) []Page {
	ctx := context.Background()

	var pages []Page
	for i, file := range imageFiles {
		text, err := p.cfg.OCREngine.RecognizeImageFile(ctx, file)
		if err != nil {
			text = ocrFailedPlaceholder
		}
		pages = append(pages, Page{
			PageNum: i + 1,
			Content: text,
		})
	}
	return pages
}

// pageNumberFromName 从pdfcpu输出文件名中解析页码
func pageNumberFromName(name string) int {
	matches := pageNumPattern.FindAllStringSubmatch(name, -1)
	if len(matches) == 0 {
		return 1 << 30
	}
	// 取最后一个数字段，pdfcpu把页码放在文件名尾部
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 1 << 30
	}
	return n
}

// detectTables 从页面文本中识别表格结构
// 把包含多列分隔（制表符或连续空格）的相邻行归为一张表
func detectTables(pages []Page) []Table {
	var tables []Table

	for _, page := range pages {
		var rows [][]string
		for _, line := range strings.Split(page.Content, "\n") {
			cells := splitTableRow(line)
			if len(cells) >= 2 {
				rows = append(rows, cells)
				continue
			}
			// 表格行中断，收集已积累的行
			if len(rows) >= 2 {
				tables = append(tables, Table{Page: page.PageNum, Rows: rows})
			}
			rows = nil
		}
		if len(rows) >= 2 {
			tables = append(tables, Table{Page: page.PageNum, Rows: rows})
		}
	}

	return tables
}

// splitTableRow 按制表符或连续空格把一行拆为单元格
func splitTableRow(line string) []string {
	line = strings.TrimRight(line, " \t")
	if line == "" {
		return nil
	}

	var parts []string
	if strings.Contains(line, "\t") {
		parts = strings.Split(line, "\t")
	} else if strings.Contains(line, "  ") {
		parts = multiSpacePattern.Split(line, -1)
	} else {
		return nil
	}

	var cells []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			cells = append(cells, part)
		}
	}
	return cells
}
