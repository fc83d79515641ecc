package repository

import (
	"errors"
	"fmt"

	"github.com/fyerfyer/tender-response-system/internal/database"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"gorm.io/gorm"
)

// kbRepository 知识库条目仓储实现
type kbRepository struct {
	db *gorm.DB // 数据库连接
}

// NewKnowledgeBaseRepository 创建知识库仓储实例
func NewKnowledgeBaseRepository() KnowledgeBaseRepository {
	return &kbRepository{
		db: database.MustDB(),
	}
}

// NewKnowledgeBaseRepositoryWithDB 使用指定的数据库连接创建知识库仓储实例
func NewKnowledgeBaseRepositoryWithDB(db *gorm.DB) KnowledgeBaseRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &kbRepository{db: db}
}

// Create 创建知识库条目
func (r *kbRepository) Create(item *models.KnowledgeBaseItem) error {
	if item.ID == "" {
		return errors.New("knowledge base item ID cannot be empty")
	}

	return r.db.Create(item).Error
}

// Update 更新知识库条目
func (r *kbRepository) Update(item *models.KnowledgeBaseItem) error {
	if item.ID == "" {
		return errors.New("knowledge base item ID cannot be empty")
	}

	return r.db.Save(item).Error
}

// GetByID 根据ID获取知识库条目
func (r *kbRepository) GetByID(id string) (*models.KnowledgeBaseItem, error) {
	var item models.KnowledgeBaseItem
	err := r.db.Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrKBItemNotFound, id)
		}
		return nil, err
	}
	return &item, nil
}

// List 列出知识库条目，支持分页和筛选
func (r *kbRepository) List(offset, limit int, filters map[string]interface{}) ([]*models.KnowledgeBaseItem, int64, error) {
	var items []*models.KnowledgeBaseItem
	var total int64

	query := r.db.Model(&models.KnowledgeBaseItem{})

	if filters != nil {
		// 类别过滤
		if category, ok := filters["category"].(string); ok && category != "" {
			query = query.Where("category = ?", category)
		}

		// 租户过滤
		if tenantID, ok := filters["tenant_id"].(string); ok && tenantID != "" {
			query = query.Where("tenant_id = ?", tenantID)
		}

		// 生效状态过滤
		if active, ok := filters["active"].(bool); ok {
			query = query.Where("active = ?", active)
		}

		// 标题关键词过滤
		if title, ok := filters["title"].(string); ok && title != "" {
			query = query.Where("title LIKE ?", "%"+title+"%")
		}
	}

	// 获取总数
	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	// 应用排序、分页并执行查询
	err = query.Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error

	if err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

// ListActive 列出所有启用的条目，用于向量索引重建
// tenantID为空时返回全部租户的启用条目
func (r *kbRepository) ListActive(tenantID string) ([]*models.KnowledgeBaseItem, error) {
	var items []*models.KnowledgeBaseItem

	query := r.db.Where("active = ?", true)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}

	err := query.Order("created_at ASC").Find(&items).Error
	return items, err
}

// Delete 删除知识库条目
func (r *kbRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&models.KnowledgeBaseItem{}).Error
}
