package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/tender-response-system/internal/matcher"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/repository"
)

// KnowledgeBaseService 知识库服务
// 数据库是知识库条目的权威存储，向量索引只是派生缓存
// 每次写操作都同步更新索引，索引损坏时可以随时重建
type KnowledgeBaseService struct {
	repo    repository.KnowledgeBaseRepository // 知识库仓储
	matcher *matcher.Service                   // 匹配服务，持有向量索引
	logger  *logrus.Logger                     // 日志记录器
}

// NewKnowledgeBaseService 创建知识库服务
func NewKnowledgeBaseService(repo repository.KnowledgeBaseRepository, match *matcher.Service, logger *logrus.Logger) *KnowledgeBaseService {
	if logger == nil {
		logger = logrus.New()
	}

	return &KnowledgeBaseService{
		repo:    repo,
		matcher: match,
		logger:  logger,
	}
}

// CreateItem 创建知识库条目并加入向量索引
func (s *KnowledgeBaseService) CreateItem(ctx context.Context, title, content, category, tenantID string) (*models.KnowledgeBaseItem, error) {
	if title == "" {
		return nil, errors.New("title cannot be empty")
	}
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}

	item := &models.KnowledgeBaseItem{
		ID:       uuid.New().String(),
		Title:    title,
		Content:  content,
		Category: category,
		TenantID: tenantID,
		Active:   true,
	}

	if err := s.repo.Create(item); err != nil {
		return nil, fmt.Errorf("failed to create knowledge base item: %w", err)
	}

	// 同步加入向量索引，失败时回滚数据库记录
	if err := s.matcher.AddItem(ctx, *item); err != nil {
		if delErr := s.repo.Delete(item.ID); delErr != nil {
			s.logger.WithError(delErr).Error("Failed to roll back knowledge base item after index error")
		}
		return nil, fmt.Errorf("failed to index knowledge base item: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"item_id":  item.ID,
		"title":    title,
		"category": category,
	}).Info("Knowledge base item created")

	return item, nil
}

// UpdateItem 更新知识库条目并刷新向量索引
func (s *KnowledgeBaseService) UpdateItem(ctx context.Context, id, title, content, category string, active bool) (*models.KnowledgeBaseItem, error) {
	item, err := s.repo.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge base item: %w", err)
	}

	if title != "" {
		item.Title = title
	}
	if content != "" {
		item.Content = content
	}
	if category != "" {
		item.Category = category
	}
	item.Active = active

	if err := s.repo.Update(item); err != nil {
		return nil, fmt.Errorf("failed to update knowledge base item: %w", err)
	}

	// 先移除旧向量再按当前内容重新索引，停用的条目只移除
	if err := s.matcher.RemoveItem(ctx, item.ID); err != nil {
		s.logger.WithError(err).Warn("Failed to remove stale index entry")
	}
	if item.Active {
		if err := s.matcher.AddItem(ctx, *item); err != nil {
			return nil, fmt.Errorf("failed to reindex knowledge base item: %w", err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"item_id": item.ID,
		"active":  item.Active,
	}).Info("Knowledge base item updated")

	return item, nil
}

// DeleteItem 删除知识库条目并从向量索引中移除
func (s *KnowledgeBaseService) DeleteItem(ctx context.Context, id string) error {
	if err := s.repo.Delete(id); err != nil {
		return fmt.Errorf("failed to delete knowledge base item: %w", err)
	}

	if err := s.matcher.RemoveItem(ctx, id); err != nil {
		// 数据库记录已删除，索引残留由下次重建清理
		s.logger.WithError(err).WithField("item_id", id).Warn("Failed to remove item from index")
	}

	s.logger.WithField("item_id", id).Info("Knowledge base item deleted")
	return nil
}

// GetItem 获取知识库条目
func (s *KnowledgeBaseService) GetItem(ctx context.Context, id string) (*models.KnowledgeBaseItem, error) {
	return s.repo.GetByID(id)
}

// ListItems 列出知识库条目
func (s *KnowledgeBaseService) ListItems(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.KnowledgeBaseItem, int64, error) {
	return s.repo.List(offset, limit, filters)
}

// SyncIndex 从数据库重建租户的向量索引
// 索引与数据库不一致时的恢复手段
func (s *KnowledgeBaseService) SyncIndex(ctx context.Context, tenantID string) (int, error) {
	items, err := s.repo.ListActive(tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list active items: %w", err)
	}

	values := make([]models.KnowledgeBaseItem, 0, len(items))
	for _, item := range items {
		values = append(values, *item)
	}

	if err := s.matcher.RebuildIndex(ctx, values); err != nil {
		return 0, fmt.Errorf("failed to rebuild index: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"item_count": len(values),
	}).Info("Knowledge base index rebuilt")

	return len(values), nil
}
