package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/tender-response-system/internal/document"
	"github.com/fyerfyer/tender-response-system/internal/extractor"
	"github.com/fyerfyer/tender-response-system/internal/matcher"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/repository"
	"github.com/fyerfyer/tender-response-system/pkg/storage"
)

// 流水线各阶段的进度里程碑
const (
	progressParsingStart    = 10
	progressParsingDone     = 30
	progressExtractingStart = 40
	progressExtractingDone  = 60
	progressMatchingStart   = 70
	progressMatchingDone    = 90
)

// maxMatchedContentLen 匹配记录中保存的知识库内容截取长度
const maxMatchedContentLen = 500

// PipelineResult 流水线处理结果
type PipelineResult struct {
	DocumentID       string  // 文档ID
	RequirementCount int     // 提取的需求数量
	MatchedCount     int     // 匹配度达标的需求数量
	OverallMatch     float64 // 总体匹配度（0-100）
}

// Pipeline 标书处理流水线
// 串联解析、需求提取、知识库匹配三个阶段，驱动文档状态机前进
type Pipeline struct {
	statusManager *DocumentStatusManager        // 状态管理器
	repo          repository.DocumentRepository // 文档仓储
	storage       storage.Storage               // 文件存储
	extractor     *extractor.Extractor          // 需求提取器
	matcher       *matcher.Service              // 匹配服务
	parserOpts    []document.ParserOption       // 解析器配置选项
	logger        *logrus.Logger                // 日志记录器
}

// PipelineOption 流水线配置选项
type PipelineOption func(*Pipeline)

// WithParserOptions 设置文档解析器选项
func WithParserOptions(opts ...document.ParserOption) PipelineOption {
	return func(p *Pipeline) {
		p.parserOpts = opts
	}
}

// WithPipelineLogger 设置日志记录器
func WithPipelineLogger(logger *logrus.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline 创建标书处理流水线
func NewPipeline(
	statusManager *DocumentStatusManager,
	repo repository.DocumentRepository,
	store storage.Storage,
	ext *extractor.Extractor,
	match *matcher.Service,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		statusManager: statusManager,
		repo:          repo,
		storage:       store,
		extractor:     ext,
		matcher:       match,
		logger:        logrus.New(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Process 执行完整的标书处理流水线
// 任一阶段失败会将文档置为ERROR状态并返回错误
func (p *Pipeline) Process(ctx context.Context, documentID string) (*PipelineResult, error) {
	doc, err := p.statusManager.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"document_id": documentID,
		"filename":    doc.FileName,
	}).Info("Starting document pipeline")

	result, err := p.run(ctx, doc)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"document_id": documentID,
			"error":       err.Error(),
		}).Error("Document pipeline failed")

		if markErr := p.statusManager.MarkAsError(ctx, documentID, err.Error()); markErr != nil {
			p.logger.WithError(markErr).Error("Failed to mark document as error")
		}
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"document_id":       documentID,
		"requirement_count": result.RequirementCount,
		"matched_count":     result.MatchedCount,
		"overall_match":     result.OverallMatch,
	}).Info("Document pipeline completed")

	return result, nil
}

// run 顺序执行各阶段，由Process统一处理失败状态
func (p *Pipeline) run(ctx context.Context, doc *models.Document) (*PipelineResult, error) {
	// 阶段一：解析文档
	if err := p.statusManager.Transition(ctx, doc.ID, models.DocStatusParsing, progressParsingStart); err != nil {
		return nil, err
	}

	parsed, err := p.parse(doc)
	if err != nil {
		return nil, err
	}

	if err := p.statusManager.UpdateProgress(ctx, doc.ID, progressParsingDone); err != nil {
		return nil, err
	}

	// 阶段二：提取需求条目
	if err := p.statusManager.Transition(ctx, doc.ID, models.DocStatusExtracting, progressExtractingStart); err != nil {
		return nil, err
	}

	requirements, err := p.extract(ctx, doc, parsed)
	if err != nil {
		return nil, err
	}

	if err := p.statusManager.UpdateProgress(ctx, doc.ID, progressExtractingDone); err != nil {
		return nil, err
	}

	// 阶段三：知识库匹配
	if err := p.statusManager.Transition(ctx, doc.ID, models.DocStatusMatching, progressMatchingStart); err != nil {
		return nil, err
	}

	matches, err := p.match(ctx, doc, requirements)
	if err != nil {
		return nil, err
	}

	if err := p.statusManager.UpdateProgress(ctx, doc.ID, progressMatchingDone); err != nil {
		return nil, err
	}

	// 计算并保存匹配摘要
	summary := matcher.CalculateSummary(doc.ID, requirements, matches)
	if err := p.repo.SaveSummary(summary); err != nil {
		return nil, fmt.Errorf("failed to save match summary: %w", err)
	}

	// 流水线完成
	if err := p.statusManager.MarkAsReady(ctx, doc.ID); err != nil {
		return nil, err
	}

	return &PipelineResult{
		DocumentID:       doc.ID,
		RequirementCount: len(requirements),
		MatchedCount:     summary.MatchedRequirements,
		OverallMatch:     summary.OverallMatch,
	}, nil
}

// parse 下载并解析文档，解析元数据保存到文档记录
func (p *Pipeline) parse(doc *models.Document) (*document.ParsedDocument, error) {
	// 文档ID即存储中的文件ID，找不到时回退到存储路径
	reader, err := p.storage.Get(doc.ID)
	if err != nil {
		reader, err = p.storage.Get(doc.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to get file from storage: %w", err)
		}
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}

	parser, err := document.ParserFactory(doc.FileType, p.parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create parser: %w", err)
	}

	parsed, err := parser.Parse(content, doc.FileType)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	// 保存解析元数据
	metadata, err := json.Marshal(parsed.Metadata)
	if err == nil {
		doc.Metadata = metadata
		if err := p.repo.Update(doc); err != nil {
			p.logger.WithError(err).Warn("Failed to save parse metadata")
		}
	}

	p.logger.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"page_count":  parsed.Metadata.PageCount,
		"method":      parsed.Metadata.Method,
		"text_length": len(parsed.RawText),
	}).Info("Document parsed")

	return parsed, nil
}

// extract 提取需求条目并保存到数据库
func (p *Pipeline) extract(ctx context.Context, doc *models.Document, parsed *document.ParsedDocument) ([]models.Requirement, error) {
	extracted, err := p.extractor.Extract(ctx, parsed.RawText, parsed.Pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract requirements: %w", err)
	}

	requirements := make([]models.Requirement, 0, len(extracted))
	records := make([]*models.Requirement, 0, len(extracted))
	for _, item := range extracted {
		req := models.Requirement{
			ID:           uuid.New().String(),
			DocumentID:   doc.ID,
			Text:         item.Text,
			Category:     item.Category,
			SubCategory:  item.SubCategory,
			Confidence:   item.Confidence,
			PageNumber:   item.PageNumber,
			ExtractOrder: item.Order,
		}
		requirements = append(requirements, req)
		records = append(records, &requirements[len(requirements)-1])
	}

	if err := p.repo.SaveRequirements(records); err != nil {
		return nil, fmt.Errorf("failed to save requirements: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"document_id":       doc.ID,
		"requirement_count": len(requirements),
	}).Info("Requirements extracted")

	return requirements, nil
}

// match 对需求逐条检索知识库并保存匹配记录
func (p *Pipeline) match(ctx context.Context, doc *models.Document, requirements []models.Requirement) (map[string][]matcher.Match, error) {
	matches, err := p.matcher.MatchRequirements(ctx, requirements, doc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to match requirements: %w", err)
	}

	records := make([]*models.MatchRecord, 0, len(requirements))
	for _, req := range requirements {
		for _, m := range matches[req.ID] {
			records = append(records, &models.MatchRecord{
				DocumentID:     doc.ID,
				RequirementID:  req.ID,
				KBItemID:       m.Item.ID,
				MatchedContent: truncateContent(m.Item.Content, maxMatchedContentLen),
				Score:          m.Score,
				Rank:           m.Rank,
			})
		}
	}

	if err := p.repo.SaveMatches(doc.ID, records); err != nil {
		return nil, fmt.Errorf("failed to save matches: %w", err)
	}

	return matches, nil
}

// truncateContent 按字符截取内容，避免截断多字节字符
func truncateContent(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit])
}
