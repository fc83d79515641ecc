package matcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/tender-response-system/internal/embedding"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/vectordb"
)

// MatchedThreshold 需求被视为"已匹配"的最低匹配度（百分比）
const MatchedThreshold = 50.0

// Match 单条需求与知识库条目的匹配结果
type Match struct {
	Item  vectordb.Document // 匹配到的知识库条目
	Score float32           // 相似度得分（0-1）
	Rank  int               // 排名，从1开始稠密递增
}

// Service 需求匹配服务
// 将需求文本嵌入后在知识库向量索引中检索最相关的条目
// 数据库是知识库的权威存储，索引变更都通过本服务串行执行
type Service struct {
	embedder  embedding.Client          // 嵌入模型客户端
	processor *embedding.BatchProcessor // 批量嵌入处理器，用于重建索引
	index     vectordb.Repository       // 向量索引
	logger    *logrus.Logger            // 日志记录器
	mu        sync.Mutex                // 串行化索引变更
	topK      int                       // 每条需求返回的匹配数
	minScore  float32                   // 最低相似度分数
}

// Option 匹配服务配置选项
type Option func(*Service)

// WithTopK 设置每条需求返回的匹配数量
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithMinScore 设置最低相似度分数
func WithMinScore(score float32) Option {
	return func(s *Service) {
		s.minScore = score
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithBatchProcessor 设置批量嵌入处理器
func WithBatchProcessor(processor *embedding.BatchProcessor) Option {
	return func(s *Service) {
		s.processor = processor
	}
}

// NewService 创建匹配服务实例
func NewService(embedder embedding.Client, index vectordb.Repository, opts ...Option) *Service {
	service := &Service{
		embedder: embedder,
		index:    index,
		logger:   logrus.New(),
		topK:     3,   // 默认每条需求取前3个匹配
		minScore: 0.3, // 默认最低相似度
	}

	for _, opt := range opts {
		opt(service)
	}

	if service.processor == nil {
		service.processor = embedding.NewBatchProcessor(embedder, 16, 4)
	}

	return service
}

// docFromItem 将知识库条目转换为索引文档
func docFromItem(item models.KnowledgeBaseItem, vector []float32) vectordb.Document {
	return vectordb.Document{
		ID:       item.ID,
		TenantID: item.TenantID,
		Category: item.Category,
		Content:  item.Content,
		Vector:   vector,
		Metadata: map[string]interface{}{
			"title": item.Title,
		},
	}
}

// AddItem 将单个知识库条目加入索引
func (s *Service) AddItem(ctx context.Context, item models.KnowledgeBaseItem) error {
	if item.ID == "" {
		return fmt.Errorf("knowledge base item ID cannot be empty")
	}

	vector, err := s.embedder.Embed(ctx, item.Content)
	if err != nil {
		return fmt.Errorf("failed to embed knowledge base item %s: %w", item.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Add(docFromItem(item, vector)); err != nil {
		return fmt.Errorf("failed to index knowledge base item %s: %w", item.ID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"item_id":   item.ID,
		"tenant_id": item.TenantID,
	}).Debug("knowledge base item indexed")

	return nil
}

// RemoveItem 将知识库条目从索引中移除
// 条目移除后搜索结果不会再返回它
func (s *Service) RemoveItem(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Delete(itemID); err != nil {
		if err == vectordb.ErrDocumentNotFound {
			// 条目本来就不在索引中，视为成功
			return nil
		}
		return fmt.Errorf("failed to remove item %s from index: %w", itemID, err)
	}

	s.logger.WithField("item_id", itemID).Debug("knowledge base item removed from index")
	return nil
}

// RebuildIndex 用给定条目全量重建索引
// 调用方传入数据库中全部生效条目，索引中不在列表里的条目随重建消失
func (s *Service) RebuildIndex(ctx context.Context, items []models.KnowledgeBaseItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Reset(); err != nil {
		return fmt.Errorf("failed to reset index: %w", err)
	}

	if len(items) == 0 {
		s.logger.Info("index rebuilt empty: no active knowledge base items")
		return nil
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Content
	}

	vectors, err := s.processor.Process(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed knowledge base items: %w", err)
	}

	docs := make([]vectordb.Document, 0, len(items))
	for i, item := range items {
		if vectors[i] == nil {
			s.logger.WithField("item_id", item.ID).Warn("skipping item with empty content")
			continue
		}
		docs = append(docs, docFromItem(item, vectors[i]))
	}

	if err := s.index.AddBatch(docs); err != nil {
		return fmt.Errorf("failed to index knowledge base items: %w", err)
	}

	s.logger.WithField("item_count", len(docs)).Info("knowledge base index rebuilt")
	return nil
}

// Search 检索与查询文本最相关的知识库条目
// 返回结果按得分降序，排名从1开始稠密递增
func (s *Service) Search(ctx context.Context, query string, tenantID string, topK int) ([]Match, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if topK <= 0 {
		topK = s.topK
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.index.Search(vector, vectordb.SearchFilter{
		TenantID:   tenantID,
		MinScore:   s.minScore,
		MaxResults: topK,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, res := range results {
		matches = append(matches, Match{
			Item:  res.Document,
			Score: res.Score,
			Rank:  len(matches) + 1,
		})
	}

	return matches, nil
}

// MatchRequirements 为一组需求逐条检索匹配
// 单条需求无匹配不视为错误，结果中该需求对应空列表
func (s *Service) MatchRequirements(ctx context.Context, requirements []models.Requirement, tenantID string) (map[string][]Match, error) {
	matches := make(map[string][]Match, len(requirements))

	for _, req := range requirements {
		reqMatches, err := s.Search(ctx, req.Text, tenantID, s.topK)
		if err != nil {
			return nil, fmt.Errorf("failed to match requirement %s: %w", req.ID, err)
		}
		matches[req.ID] = reqMatches
	}

	s.logger.WithFields(logrus.Fields{
		"requirement_count": len(requirements),
		"tenant_id":         tenantID,
	}).Info("requirements matched against knowledge base")

	return matches, nil
}

// MatchPercentage 计算单条需求的匹配度（0-100）
// 取最高匹配得分换算为百分比
func MatchPercentage(matches []Match) float64 {
	if len(matches) == 0 {
		return 0
	}

	best := matches[0].Score
	for _, m := range matches[1:] {
		if m.Score > best {
			best = m.Score
		}
	}

	pct := float64(best) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// CalculateSummary 计算文档级匹配汇总
// 每个类别取其需求匹配度的平均值，总体匹配度是有需求的类别的等权平均
func CalculateSummary(documentID string, requirements []models.Requirement, matches map[string][]Match) *models.MatchSummary {
	summary := &models.MatchSummary{
		DocumentID:        documentID,
		TotalRequirements: len(requirements),
	}

	categorySums := make(map[models.RequirementCategory]float64)
	categoryCounts := make(map[models.RequirementCategory]int)

	for _, req := range requirements {
		pct := MatchPercentage(matches[req.ID])
		categorySums[req.Category] += pct
		categoryCounts[req.Category]++

		if pct >= MatchedThreshold {
			summary.MatchedRequirements++
		}
	}

	categoryAvg := func(cat models.RequirementCategory) float64 {
		if categoryCounts[cat] == 0 {
			return 0
		}
		return categorySums[cat] / float64(categoryCounts[cat])
	}

	summary.EligibilityMatch = categoryAvg(models.CategoryEligibility)
	summary.TechnicalMatch = categoryAvg(models.CategoryTechnical)
	summary.ComplianceMatch = categoryAvg(models.CategoryCompliance)

	// 总体匹配度只对有需求的类别求平均
	var total float64
	var active int
	for _, cat := range []models.RequirementCategory{
		models.CategoryEligibility,
		models.CategoryTechnical,
		models.CategoryCompliance,
	} {
		if categoryCounts[cat] > 0 {
			total += categoryAvg(cat)
			active++
		}
	}
	if active > 0 {
		summary.OverallMatch = total / float64(active)
	}

	return summary
}
