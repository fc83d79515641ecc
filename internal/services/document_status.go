package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/repository"
	"github.com/sirupsen/logrus"
)

// DocumentStatusManager 文档状态管理器
// 负责管理标书文档处理流水线的生命周期状态
type DocumentStatusManager struct {
	repo   repository.DocumentRepository // 文档仓储接口
	logger *logrus.Logger                // 日志记录器
	mu     sync.Mutex                    // 互斥锁，保证状态转换的原子性
}

// NewDocumentStatusManager 创建文档状态管理器
func NewDocumentStatusManager(repo repository.DocumentRepository, logger *logrus.Logger) *DocumentStatusManager {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	return &DocumentStatusManager{
		repo:   repo,
		logger: logger,
	}
}

// MarkAsUploaded 将文档标记为已上传状态
// 在流水线开始前创建文档记录，作为状态机的起点
func (m *DocumentStatusManager) MarkAsUploaded(ctx context.Context, docID string, fileName string, filePath string, fileSize int64, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"doc_id":   docID,
		"filename": fileName,
	}).Info("Marking document as uploaded")

	// 创建新的文档记录
	doc := &models.Document{
		ID:         docID,
		FileName:   fileName,
		FileType:   getFileType(fileName),
		FilePath:   filePath,
		FileSize:   fileSize,
		Status:     models.DocStatusUploaded,
		TenantID:   tenantID,
		UploadedAt: time.Now(),
		UpdatedAt:  time.Now(),
		Progress:   0,
	}

	// 保存到仓储
	return m.repo.Create(doc)
}

// Transition 将文档推进到流水线的下一个阶段并更新进度
// 状态只能沿 UPLOADED → PARSING → EXTRACTING → MATCHING → READY 前进
func (m *DocumentStatusManager) Transition(ctx context.Context, docID string, status models.DocumentStatus, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 获取当前文档
	doc, err := m.repo.GetByID(docID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	// 检查状态转换的有效性
	if !models.CanTransition(doc.Status, status) {
		return fmt.Errorf("invalid state transition: document %s cannot go from %s to %s",
			docID, doc.Status, status)
	}

	m.logger.WithFields(logrus.Fields{
		"doc_id":   docID,
		"from":     doc.Status,
		"to":       status,
		"progress": progress,
	}).Info("Transitioning document status")

	// 更新状态
	if err := m.repo.UpdateStatus(docID, status, ""); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	// 更新进度
	if err := m.repo.UpdateProgress(docID, progress); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	return nil
}

// MarkAsReady 将文档标记为处理完成状态
func (m *DocumentStatusManager) MarkAsReady(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 获取当前文档
	doc, err := m.repo.GetByID(docID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	if !models.CanTransition(doc.Status, models.DocStatusReady) {
		return fmt.Errorf("invalid state transition: document %s cannot go from %s to %s",
			docID, doc.Status, models.DocStatusReady)
	}

	m.logger.WithField("doc_id", docID).Info("Marking document as ready")

	// 更新状态和完成时间
	now := time.Now()
	doc.Status = models.DocStatusReady
	doc.Progress = 100
	doc.ProcessedAt = &now
	doc.ErrorMessage = ""
	return m.repo.Update(doc)
}

// MarkAsError 将文档标记为处理失败状态
// ERROR可以从任何非终止状态进入
func (m *DocumentStatusManager) MarkAsError(ctx context.Context, docID string, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 获取当前文档
	doc, err := m.repo.GetByID(docID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	if !models.CanTransition(doc.Status, models.DocStatusError) {
		return fmt.Errorf("invalid state transition: document %s cannot go from %s to %s",
			docID, doc.Status, models.DocStatusError)
	}

	m.logger.WithFields(logrus.Fields{
		"doc_id": docID,
		"error":  errorMsg,
	}).Error("Marking document as failed")

	// 更新状态和错误信息
	return m.repo.UpdateStatus(docID, models.DocStatusError, errorMsg)
}

// UpdateProgress 更新文档处理进度
// 同一阶段内的进度推进，不改变状态
func (m *DocumentStatusManager) UpdateProgress(ctx context.Context, docID string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 获取当前文档
	doc, err := m.repo.GetByID(docID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	// 终止状态的进度不再变化
	if doc.Status == models.DocStatusReady || doc.Status == models.DocStatusError {
		return fmt.Errorf("cannot update progress: document %s is in terminal state %s", docID, doc.Status)
	}

	// 进度只能向前推进
	if progress < doc.Progress {
		return fmt.Errorf("cannot update progress: document %s progress cannot decrease from %d to %d",
			docID, doc.Progress, progress)
	}

	m.logger.WithFields(logrus.Fields{
		"doc_id":   docID,
		"progress": progress,
	}).Debug("Updating document progress")

	// 更新进度
	return m.repo.UpdateProgress(docID, progress)
}

// GetStatus 获取文档当前状态
func (m *DocumentStatusManager) GetStatus(ctx context.Context, docID string) (models.DocumentStatus, error) {
	doc, err := m.repo.GetByID(docID)
	if err != nil {
		return "", fmt.Errorf("failed to get document status: %w", err)
	}
	return doc.Status, nil
}

// GetDocument 获取完整的文档对象
func (m *DocumentStatusManager) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	return m.repo.GetByID(docID)
}

// ListDocuments 获取文档列表
func (m *DocumentStatusManager) ListDocuments(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Document, int64, error) {
	return m.repo.List(offset, limit, filters)
}

// DeleteDocument 删除文档状态记录
func (m *DocumentStatusManager) DeleteDocument(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithField("doc_id", docID).Info("Deleting document status record")
	return m.repo.Delete(docID)
}

// getFileType 根据文件名获取文件类型
func getFileType(fileName string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
}
