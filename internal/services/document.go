package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/repository"
	"github.com/fyerfyer/tender-response-system/pkg/storage"
	"github.com/fyerfyer/tender-response-system/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// DocumentService 标书文档服务
// 负责文档上传、处理流水线的触发和文档生命周期管理
type DocumentService struct {
	storage       storage.Storage               // 文件存储服务
	pipeline      *Pipeline                     // 处理流水线
	repo          repository.DocumentRepository // 文档元数据存储
	statusManager *DocumentStatusManager        // 文档状态管理器
	taskQueue     taskqueue.Queue               // 任务队列
	asyncEnabled  bool                          // 是否启用异步处理
	timeout       time.Duration                 // 同步处理超时时间
	logger        *logrus.Logger                // 日志记录器
}

// DocumentOption 文档服务配置选项
type DocumentOption func(*DocumentService)

// NewDocumentService 创建一个新的文档服务
func NewDocumentService(
	store storage.Storage,
	pipeline *Pipeline,
	repo repository.DocumentRepository,
	opts ...DocumentOption,
) *DocumentService {
	srv := &DocumentService{
		storage:      store,
		pipeline:     pipeline,
		repo:         repo,
		timeout:      time.Minute * 5, // 默认超时时间
		logger:       logrus.New(),    // 默认日志记录器
		asyncEnabled: false,           // 默认不启用异步处理
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

// WithTimeout 设置同步处理超时时间
func WithTimeout(timeout time.Duration) DocumentOption {
	return func(s *DocumentService) {
		s.timeout = timeout
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) DocumentOption {
	return func(s *DocumentService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStatusManager 设置状态管理器
func WithStatusManager(manager *DocumentStatusManager) DocumentOption {
	return func(s *DocumentService) {
		s.statusManager = manager
	}
}

// WithTaskQueue 设置任务队列
func WithTaskQueue(queue taskqueue.Queue) DocumentOption {
	return func(s *DocumentService) {
		s.taskQueue = queue
		s.asyncEnabled = queue != nil
	}
}

// WithAsyncProcessing 设置是否启用异步处理
func WithAsyncProcessing(enabled bool) DocumentOption {
	return func(s *DocumentService) {
		s.asyncEnabled = enabled
	}
}

// Init 初始化文档服务
// 确保必要的依赖都已设置
func (s *DocumentService) Init() error {
	if s.repo == nil {
		s.repo = repository.NewDocumentRepository()
	}

	if s.statusManager == nil {
		s.statusManager = NewDocumentStatusManager(s.repo, s.logger)
	}

	return nil
}

// UploadDocument 上传标书文档并触发处理流水线
// 文件保存后文档先进入UPLOADED状态，再按配置同步或异步处理
func (s *DocumentService) UploadDocument(ctx context.Context, reader io.Reader, filename string, tenantID string) (*models.Document, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}

	if filename == "" {
		return nil, errors.New("filename cannot be empty")
	}

	// 保存文件到存储
	fileInfo, err := s.storage.Save(reader, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"file_id":  fileInfo.ID,
		"filename": filename,
		"size":     fileInfo.Size,
	}).Info("Document file saved")

	// 文档ID复用存储的文件ID
	docID := fileInfo.ID
	if err := s.statusManager.MarkAsUploaded(ctx, docID, filename, fileInfo.Path, fileInfo.Size, tenantID); err != nil {
		// 状态记录创建失败时清理已保存的文件
		if delErr := s.storage.Delete(fileInfo.ID); delErr != nil {
			s.logger.WithError(delErr).Warn("Failed to clean up file after status error")
		}
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	// 触发处理流水线
	if err := s.ProcessDocument(ctx, docID); err != nil {
		return nil, err
	}

	return s.statusManager.GetDocument(ctx, docID)
}

// ProcessDocument 触发文档处理流水线
func (s *DocumentService) ProcessDocument(ctx context.Context, docID string) error {
	if err := s.Init(); err != nil {
		return err
	}

	if docID == "" {
		return errors.New("document ID cannot be empty")
	}

	// 如果启用异步处理并且任务队列已配置，使用任务队列处理
	if s.asyncEnabled && s.taskQueue != nil {
		return s.processDocumentAsync(ctx, docID)
	}

	// 否则，使用同步方式处理
	return s.processDocumentSync(ctx, docID)
}

// processDocumentAsync 异步处理文档
// 将任务加入队列并立即返回
func (s *DocumentService) processDocumentAsync(ctx context.Context, docID string) error {
	doc, err := s.statusManager.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"document_id": docID,
		"filename":    doc.FileName,
	}).Info("Enqueuing document for async processing")

	payload := taskqueue.ProcessDocumentPayload{
		DocumentID: docID,
		FilePath:   doc.FilePath,
		FileName:   doc.FileName,
		FileType:   doc.FileType,
		TenantID:   doc.TenantID,
		Metadata: map[string]string{
			"source": "api",
		},
	}

	taskID, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskProcessDocument, docID, payload)
	if err != nil {
		s.failDocument(ctx, docID, fmt.Sprintf("failed to create processing task: %v", err))
		return fmt.Errorf("failed to create processing task: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"document_id": docID,
		"task_id":     taskID,
	}).Info("Document processing task created successfully")

	return nil
}

// processDocumentSync 同步处理文档
// 直接在当前进程中执行流水线
func (s *DocumentService) processDocumentSync(ctx context.Context, docID string) error {
	if s.pipeline == nil {
		return errors.New("pipeline not configured")
	}

	// 设置上下文超时
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// 流水线内部负责状态推进和失败标记
	_, err := s.pipeline.Process(ctx, docID)
	return err
}

// ReprocessDocument 重新处理文档
// 只允许对READY或ERROR状态的文档重试，状态回到UPLOADED后重新走流水线
func (s *DocumentService) ReprocessDocument(ctx context.Context, docID string) error {
	if err := s.Init(); err != nil {
		return err
	}

	doc, err := s.statusManager.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	if doc.Status != models.DocStatusError && doc.Status != models.DocStatusReady {
		return fmt.Errorf("cannot reprocess document %s: status is %s, expected %s or %s",
			docID, doc.Status, models.DocStatusReady, models.DocStatusError)
	}

	s.logger.WithField("document_id", docID).Info("Reprocessing document")

	// 清理上一轮的提取结果，状态重置为UPLOADED
	if err := s.repo.DeleteRequirements(docID); err != nil {
		return fmt.Errorf("failed to clean up previous requirements: %w", err)
	}

	doc.Status = models.DocStatusUploaded
	doc.Progress = 0
	doc.ErrorMessage = ""
	doc.ProcessedAt = nil
	if err := s.repo.Update(doc); err != nil {
		return fmt.Errorf("failed to reset document status: %w", err)
	}

	return s.ProcessDocument(ctx, docID)
}

// DeleteDocument 删除文档及其相关数据
func (s *DocumentService) DeleteDocument(ctx context.Context, docID string) error {
	if err := s.Init(); err != nil {
		return err
	}

	s.logger.WithField("document_id", docID).Info("Deleting document")

	// 1. 从存储中删除文件
	if err := s.storage.Delete(docID); err != nil {
		// 文件可能已被删除，记录错误但不中断流程
		s.logger.WithError(err).Warn("Failed to delete file from storage")
	}

	// 2. 删除文档记录，仓储级联删除需求、匹配记录和关联任务
	if err := s.statusManager.DeleteDocument(ctx, docID); err != nil {
		s.logger.WithError(err).Error("Failed to delete document record")
		return fmt.Errorf("failed to delete document record: %w", err)
	}

	s.logger.WithField("document_id", docID).Info("Document deleted successfully")
	return nil
}

// GetDocumentInfo 获取文档信息
func (s *DocumentService) GetDocumentInfo(ctx context.Context, docID string) (map[string]interface{}, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}

	// 获取文档状态
	doc, err := s.statusManager.GetDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	// 构建文档信息
	info := map[string]interface{}{
		"document_id":  doc.ID,
		"filename":     doc.FileName,
		"file_type":    doc.FileType,
		"status":       doc.Status,
		"status_label": models.StatusLabel(doc.Status),
		"progress":     doc.Progress,
		"size":         doc.FileSize,
		"uploaded_at":  doc.UploadedAt.Format(time.RFC3339),
		"updated_at":   doc.UpdatedAt.Format(time.RFC3339),
	}

	if doc.TenantID != "" {
		info["tenant_id"] = doc.TenantID
	}

	// 如果有错误信息，添加到返回结果
	if doc.ErrorMessage != "" {
		info["error"] = doc.ErrorMessage
	}

	// 如果有处理完成时间，添加到返回结果
	if doc.ProcessedAt != nil {
		info["processed_at"] = doc.ProcessedAt.Format(time.RFC3339)
	}

	// 处理完成后附带需求数量和匹配摘要
	if doc.Status == models.DocStatusReady {
		if count, err := s.repo.CountRequirements(docID); err == nil {
			info["requirement_count"] = count
		}
		if summary, err := s.repo.GetSummary(docID); err == nil && summary != nil {
			info["overall_match"] = summary.OverallMatch
			info["matched_requirements"] = summary.MatchedRequirements
		}
	}

	// 如果启用了异步处理，尝试获取相关任务信息
	if s.asyncEnabled && s.taskQueue != nil {
		tasks, err := s.taskQueue.GetTasksByDocument(ctx, docID)
		if err == nil && len(tasks) > 0 {
			latestTask := tasks[0]
			for _, task := range tasks {
				if task.UpdatedAt.After(latestTask.UpdatedAt) {
					latestTask = task
				}
			}

			info["task_id"] = latestTask.ID
			info["task_status"] = latestTask.Status
			if latestTask.Error != "" {
				info["task_error"] = latestTask.Error
			}
		}
	}

	return info, nil
}

// GetDocumentStatus 获取文档处理状态
func (s *DocumentService) GetDocumentStatus(ctx context.Context, docID string) (models.DocumentStatus, error) {
	if err := s.Init(); err != nil {
		return "", err
	}

	return s.statusManager.GetStatus(ctx, docID)
}

// GetRequirements 获取文档提取的需求条目
func (s *DocumentService) GetRequirements(ctx context.Context, docID string) ([]*models.Requirement, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}

	return s.repo.GetRequirements(docID)
}

// GetMatches 获取文档的知识库匹配记录
func (s *DocumentService) GetMatches(ctx context.Context, docID string) ([]*models.MatchRecord, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}

	return s.repo.GetMatches(docID)
}

// GetSummary 获取文档的匹配摘要
func (s *DocumentService) GetSummary(ctx context.Context, docID string) (*models.MatchSummary, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}

	return s.repo.GetSummary(docID)
}

// ListDocuments 获取文档列表
func (s *DocumentService) ListDocuments(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Document, int64, error) {
	if err := s.Init(); err != nil {
		return nil, 0, err
	}

	return s.statusManager.ListDocuments(ctx, offset, limit, filters)
}

// WaitForDocumentProcessing 等待文档处理完成
func (s *DocumentService) WaitForDocumentProcessing(ctx context.Context, docID string, timeout time.Duration) error {
	if err := s.Init(); err != nil {
		return err
	}

	if !s.asyncEnabled || s.taskQueue == nil {
		// 如果未启用异步处理，直接检查文档状态
		status, err := s.statusManager.GetStatus(ctx, docID)
		if err != nil {
			return err
		}
		if status == models.DocStatusError {
			return fmt.Errorf("document processing failed")
		}
		if status != models.DocStatusReady {
			return fmt.Errorf("document not processed")
		}
		return nil
	}

	// 设置上下文超时
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// 获取文档相关的任务
	tasks, err := s.taskQueue.GetTasksByDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("failed to get document tasks: %w", err)
	}

	if len(tasks) == 0 {
		return fmt.Errorf("no processing tasks found for document %s", docID)
	}

	// 找到最新的处理任务
	var latestTask *taskqueue.Task
	for _, task := range tasks {
		if task.Type == taskqueue.TaskProcessDocument {
			if latestTask == nil || task.CreatedAt.After(latestTask.CreatedAt) {
				latestTask = task
			}
		}
	}

	if latestTask == nil {
		return fmt.Errorf("no processing task found for document %s", docID)
	}

	// 等待任务完成
	_, err = s.taskQueue.WaitForTask(ctx, latestTask.ID, timeout)
	if err != nil {
		return fmt.Errorf("failed to wait for document processing: %w", err)
	}

	// 再次检查文档状态
	status, err := s.statusManager.GetStatus(ctx, docID)
	if err != nil {
		return err
	}

	if status == models.DocStatusError {
		return fmt.Errorf("document processing failed")
	}

	if status != models.DocStatusReady {
		return fmt.Errorf("document processing incomplete")
	}

	return nil
}

// failDocument 将文档标记为失败状态
func (s *DocumentService) failDocument(ctx context.Context, docID string, errorMsg string) {
	if s.statusManager == nil {
		s.logger.Error("Cannot mark document as failed: status manager not initialized")
		return
	}

	if err := s.statusManager.MarkAsError(ctx, docID, errorMsg); err != nil {
		s.logger.WithFields(logrus.Fields{
			"document_id": docID,
			"error":       err,
		}).Error("Failed to mark document as failed")
	}
}

// GetStatusManager 返回文档状态管理器实例
func (s *DocumentService) GetStatusManager() *DocumentStatusManager {
	return s.statusManager
}

// GetTaskQueue 返回任务队列实例
func (s *DocumentService) GetTaskQueue() taskqueue.Queue {
	return s.taskQueue
}
