package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/tender-response-system/internal/database"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"gorm.io/gorm"
)

// responseRepository 应答内容仓储实现
type responseRepository struct {
	db *gorm.DB // 数据库连接
}

// NewResponseRepository 创建应答仓储实例
func NewResponseRepository() ResponseRepository {
	return &responseRepository{
		db: database.MustDB(),
	}
}

// NewResponseRepositoryWithDB 使用指定的数据库连接创建应答仓储实例
func NewResponseRepositoryWithDB(db *gorm.DB) ResponseRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &responseRepository{db: db}
}

// Create 创建应答记录
func (r *responseRepository) Create(resp *models.Response) error {
	if resp.ID == "" {
		return errors.New("response ID cannot be empty")
	}

	return r.db.Create(resp).Error
}

// Update 更新应答记录
func (r *responseRepository) Update(resp *models.Response) error {
	if resp.ID == "" {
		return errors.New("response ID cannot be empty")
	}

	return r.db.Save(resp).Error
}

// GetByID 根据ID获取应答
func (r *responseRepository) GetByID(id string) (*models.Response, error) {
	var resp models.Response
	err := r.db.Where("id = ?", id).First(&resp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrResponseNotFound, id)
		}
		return nil, err
	}
	return &resp, nil
}

// GetByRequirement 获取需求对应的最新应答
func (r *responseRepository) GetByRequirement(reqID string) (*models.Response, error) {
	var resp models.Response
	err := r.db.Where("requirement_id = ?", reqID).
		Order("created_at DESC").
		First(&resp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: requirement %s", models.ErrResponseNotFound, reqID)
		}
		return nil, err
	}
	return &resp, nil
}

// ListByDocument 列出文档的所有应答
func (r *responseRepository) ListByDocument(docID string) ([]*models.Response, error) {
	var resps []*models.Response
	err := r.db.Where("document_id = ?", docID).
		Order("created_at ASC").
		Find(&resps).Error
	return resps, err
}

// UpdateStatus 更新应答审核状态
func (r *responseRepository) UpdateStatus(id string, status models.ResponseStatus) error {
	result := r.db.Model(&models.Response{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrResponseNotFound, id)
	}
	return nil
}

// Delete 删除应答记录
func (r *responseRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&models.Response{}).Error
}
