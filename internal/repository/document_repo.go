package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/tender-response-system/internal/database"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/pkg/taskqueue"
	"gorm.io/gorm"
)

// docRepository 标书文档仓储实现
type docRepository struct {
	db        *gorm.DB        // 数据库连接
	taskQueue taskqueue.Queue // 任务队列
	ctx       context.Context // 上下文，可用于事务或超时控制
}

// NewDocumentRepository 创建文档仓储实例
func NewDocumentRepository() DocumentRepository {
	return &docRepository{
		db:  database.MustDB(),
		ctx: context.Background(),
	}
}

// NewDocumentRepositoryWithDB 使用指定的数据库连接创建文档仓储实例
func NewDocumentRepositoryWithDB(db *gorm.DB) DocumentRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &docRepository{
		db:  db,
		ctx: context.Background(),
	}
}

// NewDocumentRepositoryWithQueue 使用指定的数据库连接和任务队列创建文档仓储实例
func NewDocumentRepositoryWithQueue(db *gorm.DB, queue taskqueue.Queue) DocumentRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &docRepository{
		db:        db,
		taskQueue: queue,
		ctx:       context.Background(),
	}
}

// Create 创建文档记录
func (r *docRepository) Create(doc *models.Document) error {
	if doc.ID == "" {
		return errors.New("document ID cannot be empty")
	}

	return r.db.Create(doc).Error
}

// Update 更新文档记录
func (r *docRepository) Update(doc *models.Document) error {
	if doc.ID == "" {
		return errors.New("document ID cannot be empty")
	}

	return r.db.Save(doc).Error
}

// GetByID 根据ID获取文档
func (r *docRepository) GetByID(id string) (*models.Document, error) {
	var doc models.Document
	err := r.db.Where("id = ?", id).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
		}
		return nil, err
	}
	return &doc, nil
}

// List 列出文档列表，支持分页和筛选
func (r *docRepository) List(offset, limit int, filters map[string]interface{}) ([]*models.Document, int64, error) {
	var docs []*models.Document
	var total int64

	// 创建查询构造器
	query := r.db.Model(&models.Document{})

	// 应用筛选条件
	if filters != nil {
		// 状态过滤
		if status, ok := filters["status"]; ok {
			switch s := status.(type) {
			case models.DocumentStatus:
				query = query.Where("status = ?", string(s))
			case string:
				if s != "" {
					query = query.Where("status = ?", s)
				}
			default:
				statusStr := fmt.Sprintf("%v", status)
				if statusStr != "" {
					query = query.Where("status = ?", statusStr)
				}
			}
		}

		// 租户过滤
		if tenantID, ok := filters["tenant_id"].(string); ok && tenantID != "" {
			query = query.Where("tenant_id = ?", tenantID)
		}

		// 时间范围过滤
		if startTime, ok := filters["start_time"].(string); ok && startTime != "" {
			query = query.Where("uploaded_at >= ?", startTime)
		}

		if endTime, ok := filters["end_time"].(string); ok && endTime != "" {
			query = query.Where("uploaded_at <= ?", endTime)
		}

		// 文件名过滤
		if fileName, ok := filters["file_name"].(string); ok && fileName != "" {
			query = query.Where("file_name LIKE ?", "%"+fileName+"%")
		}
	}

	// 获取总数
	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	// 应用排序、分页并执行查询
	err = query.Order("uploaded_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&docs).Error

	if err != nil {
		return nil, 0, err
	}

	return docs, total, nil
}

// Delete 删除文档及其关联数据
func (r *docRepository) Delete(id string) error {
	// 开启事务
	return r.db.Transaction(func(tx *gorm.DB) error {
		// 1. 删除需求对应的应答
		if err := tx.Where("document_id = ?", id).Delete(&models.Response{}).Error; err != nil {
			return err
		}

		// 2. 删除匹配记录和匹配摘要
		if err := tx.Where("document_id = ?", id).Delete(&models.MatchRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", id).Delete(&models.MatchSummary{}).Error; err != nil {
			return err
		}

		// 3. 删除需求条目
		if err := tx.Where("document_id = ?", id).Delete(&models.Requirement{}).Error; err != nil {
			return err
		}

		// 4. 删除文档记录
		if err := tx.Where("id = ?", id).Delete(&models.Document{}).Error; err != nil {
			return err
		}

		// 5. 如果任务队列已初始化，尝试获取并删除相关任务
		if r.taskQueue != nil {
			ctx := r.getContext()
			tasks, err := r.taskQueue.GetTasksByDocument(ctx, id)
			if err == nil && len(tasks) > 0 {
				for _, task := range tasks {
					// 忽略错误，因为任务可能已经被删除
					_ = r.taskQueue.DeleteTask(ctx, task.ID)
				}
			}
		}

		return nil
	})
}

// UpdateStatus 更新文档状态
// 状态只能沿流水线向前推进，ERROR可以从任何非终止状态进入
func (r *docRepository) UpdateStatus(id string, status models.DocumentStatus, errorMsg string) error {
	doc, err := r.GetByID(id)
	if err != nil {
		return err
	}

	if !models.CanTransition(doc.Status, status) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusTransition, doc.Status, status)
	}

	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}

	// 如果有错误消息，更新错误字段
	if errorMsg != "" {
		updates["error_message"] = errorMsg
	}

	// 终止状态设置处理完成时间
	if status == models.DocStatusReady || status == models.DocStatusError {
		now := time.Now()
		updates["processed_at"] = &now
	}

	return r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateProgress 更新文档处理进度
func (r *docRepository) UpdateProgress(id string, progress int) error {
	// 确保进度在0-100范围内
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	return r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"progress":   progress,
			"updated_at": time.Now(),
		}).Error
}

// SaveRequirements 批量保存需求条目
func (r *docRepository) SaveRequirements(reqs []*models.Requirement) error {
	if len(reqs) == 0 {
		return nil
	}

	// 使用事务批量插入
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(reqs, 100).Error
	})
}

// GetRequirements 获取文档的所有需求条目，按提取顺序排列
func (r *docRepository) GetRequirements(docID string) ([]*models.Requirement, error) {
	var reqs []*models.Requirement
	err := r.db.Where("document_id = ?", docID).
		Order("extract_order ASC").
		Find(&reqs).Error
	return reqs, err
}

// GetRequirementByID 根据ID获取需求条目
func (r *docRepository) GetRequirementByID(id string) (*models.Requirement, error) {
	var req models.Requirement
	err := r.db.Where("id = ?", id).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrRequirementNotFound, id)
		}
		return nil, err
	}
	return &req, nil
}

// CountRequirements 统计文档的需求数量
func (r *docRepository) CountRequirements(docID string) (int, error) {
	var count int64
	err := r.db.Model(&models.Requirement{}).
		Where("document_id = ?", docID).
		Count(&count).Error
	return int(count), err
}

// DeleteRequirements 删除文档的所有需求条目
func (r *docRepository) DeleteRequirements(docID string) error {
	return r.db.Where("document_id = ?", docID).
		Delete(&models.Requirement{}).Error
}

// SaveMatches 批量保存匹配记录，先清除文档原有的匹配结果
func (r *docRepository) SaveMatches(docID string, matches []*models.MatchRecord) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// 重新匹配时替换旧结果
		if err := tx.Where("document_id = ?", docID).Delete(&models.MatchRecord{}).Error; err != nil {
			return err
		}

		if len(matches) == 0 {
			return nil
		}
		return tx.CreateInBatches(matches, 100).Error
	})
}

// GetMatches 获取文档的所有匹配记录
func (r *docRepository) GetMatches(docID string) ([]*models.MatchRecord, error) {
	var matches []*models.MatchRecord
	err := r.db.Where("document_id = ?", docID).
		Order("requirement_id ASC, rank ASC").
		Find(&matches).Error
	return matches, err
}

// GetMatchesByRequirement 获取单个需求的匹配记录，按排名升序
func (r *docRepository) GetMatchesByRequirement(reqID string) ([]*models.MatchRecord, error) {
	var matches []*models.MatchRecord
	err := r.db.Where("requirement_id = ?", reqID).
		Order("rank ASC").
		Find(&matches).Error
	return matches, err
}

// SaveSummary 保存或更新文档的匹配摘要
func (r *docRepository) SaveSummary(summary *models.MatchSummary) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// 每个文档只保留一份摘要
		if err := tx.Where("document_id = ?", summary.DocumentID).Delete(&models.MatchSummary{}).Error; err != nil {
			return err
		}
		return tx.Create(summary).Error
	})
}

// GetSummary 获取文档的匹配摘要
func (r *docRepository) GetSummary(docID string) (*models.MatchSummary, error) {
	var summary models.MatchSummary
	err := r.db.Where("document_id = ?", docID).First(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &summary, nil
}

// WithContext 创建带有上下文的仓储
func (r *docRepository) WithContext(ctx context.Context) DocumentRepository {
	return &docRepository{
		db:        r.db.WithContext(ctx),
		taskQueue: r.taskQueue,
		ctx:       ctx,
	}
}

// getContext 获取仓储的上下文，如果未设置则使用背景上下文
func (r *docRepository) getContext() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}
