package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyerfyer/tender-response-system/api/middleware"
	"github.com/fyerfyer/tender-response-system/api/model"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DocumentHandler 处理标书文档相关的API请求
type DocumentHandler struct {
	documentService *services.DocumentService // 文档服务
	logger          *logrus.Logger            // 日志记录器
}

// NewDocumentHandler 创建新的文档处理器
func NewDocumentHandler(documentService *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		logger:          middleware.GetLogger(),
	}
}

// UploadDocument 处理标书上传请求
// POST /api/documents
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	var req model.DocumentUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid document upload request")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	if req.File == nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"未提供文件",
		))
		return
	}

	// 检查文件类型
	filename := req.File.Filename
	ext := strings.ToLower(filepath.Ext(filename))
	if !isValidFileType(ext) {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"不支持的文件类型，仅支持 .pdf, .docx, .txt, .md",
		))
		return
	}

	file, err := req.File.Open()
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"filename": filename,
		}).Error("Failed to open uploaded file")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"无法打开上传的文件",
		))
		return
	}
	defer file.Close()

	// 保存文件并启动处理流水线
	doc, err := h.documentService.UploadDocument(c.Request.Context(), file, filename, req.TenantID)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"filename": filename,
		}).Error("Failed to upload document")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"文档上传失败",
		))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"filename":    doc.FileName,
		"size":        doc.FileSize,
		"status":      doc.Status,
	}).Info("Document uploaded successfully")

	resp := model.DocumentUploadResponse{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		Status:     string(doc.Status),
		Progress:   doc.Progress,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetDocument 获取文档详情
// GET /api/documents/:id
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	docInfo, err := h.documentService.GetDocumentInfo(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithError(err).WithField("document_id", req.ID).Warn("Failed to get document info")
		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到文档"))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(docInfo))
}

// GetDocumentStatus 获取文档处理状态
// GET /api/documents/:id/status
func (h *DocumentHandler) GetDocumentStatus(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	doc, err := h.documentService.GetStatusManager().GetDocument(c.Request.Context(), req.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到文档"))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ConvertDocumentInfo(doc)))
}

// ListDocuments 获取文档列表
// GET /api/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	var req model.DocumentListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的查询参数"))
		return
	}

	// 构建过滤条件
	filters := make(map[string]interface{})
	if req.Status != "" {
		filters["status"] = req.Status
	}
	if req.TenantID != "" {
		filters["tenant_id"] = req.TenantID
	}
	if req.StartTime != nil {
		filters["start_time"] = req.StartTime.Format(time.RFC3339)
	}
	if req.EndTime != nil {
		filters["end_time"] = req.EndTime.Format(time.RFC3339)
	}

	page := req.GetPage()
	pageSize := req.GetPageSize()
	offset := (page - 1) * pageSize

	docs, total, err := h.documentService.ListDocuments(c.Request.Context(), offset, pageSize, filters)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list documents")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取文档列表失败",
		))
		return
	}

	infos := make([]model.DocumentInfo, len(docs))
	for i, doc := range docs {
		infos[i] = model.ConvertDocumentInfo(doc)
	}

	resp := model.DocumentListResponse{
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
		Documents: infos,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// DeleteDocument 删除文档及其派生数据
// DELETE /api/documents/:id
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	err := h.documentService.DeleteDocument(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithError(err).WithField("document_id", req.ID).Error("Failed to delete document")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"删除文档失败",
		))
		return
	}

	h.logger.WithField("document_id", req.ID).Info("Document deleted successfully")

	resp := model.DocumentDeleteResponse{
		Success:    true,
		DocumentID: req.ID,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ReprocessDocument 重新处理文档
// POST /api/documents/:id/reprocess
func (h *DocumentHandler) ReprocessDocument(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	err := h.documentService.ReprocessDocument(c.Request.Context(), req.ID)
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到文档"))
			return
		}

		h.logger.WithError(err).WithField("document_id", req.ID).Warn("Failed to reprocess document")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"重新处理失败: "+err.Error(),
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"document_id": req.ID,
		"status":      string(models.DocStatusUploaded),
	}))
}

// GetRequirements 获取文档提取的需求条目
// GET /api/documents/:id/requirements
func (h *DocumentHandler) GetRequirements(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	if !h.ensureDocumentExists(c, req.ID) {
		return
	}

	requirements, err := h.documentService.GetRequirements(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithError(err).WithField("document_id", req.ID).Error("Failed to get requirements")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取需求条目失败",
		))
		return
	}

	infos := make([]model.RequirementInfo, len(requirements))
	for i, r := range requirements {
		infos[i] = model.ConvertRequirementInfo(r)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(infos))
}

// GetMatches 获取文档的知识库匹配记录
// GET /api/documents/:id/matches
func (h *DocumentHandler) GetMatches(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	if !h.ensureDocumentExists(c, req.ID) {
		return
	}

	matches, err := h.documentService.GetMatches(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithError(err).WithField("document_id", req.ID).Error("Failed to get matches")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取匹配记录失败",
		))
		return
	}

	infos := make([]model.MatchInfo, len(matches))
	for i, m := range matches {
		infos[i] = model.MatchInfo{
			RequirementID:  m.RequirementID,
			KBItemID:       m.KBItemID,
			MatchedContent: m.MatchedContent,
			Score:          m.Score,
			Rank:           m.Rank,
		}
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(infos))
}

// GetMatchSummary 获取文档的匹配汇总报告
// GET /api/documents/:id/match-summary
func (h *DocumentHandler) GetMatchSummary(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	if !h.ensureDocumentExists(c, req.ID) {
		return
	}

	summary, err := h.documentService.GetSummary(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithError(err).WithField("document_id", req.ID).Error("Failed to get match summary")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取匹配汇总失败",
		))
		return
	}

	if summary == nil {
		c.JSON(http.StatusNotFound, model.NewErrorResponse(
			http.StatusNotFound,
			"文档尚无匹配汇总，请等待处理完成",
		))
		return
	}

	resp := model.MatchSummaryInfo{
		DocumentID:          summary.DocumentID,
		EligibilityMatch:    summary.EligibilityMatch,
		TechnicalMatch:      summary.TechnicalMatch,
		ComplianceMatch:     summary.ComplianceMatch,
		OverallMatch:        summary.OverallMatch,
		TotalRequirements:   summary.TotalRequirements,
		MatchedRequirements: summary.MatchedRequirements,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ensureDocumentExists 校验文档存在，不存在时写入404响应
func (h *DocumentHandler) ensureDocumentExists(c *gin.Context, docID string) bool {
	_, err := h.documentService.GetStatusManager().GetDocument(c.Request.Context(), docID)
	if err != nil {
		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到文档"))
		return false
	}
	return true
}

// isValidFileType 检查文件类型是否有效
func isValidFileType(ext string) bool {
	validTypes := map[string]bool{
		".pdf":  true,
		".docx": true,
		".txt":  true,
		".md":   true,
	}
	return validTypes[ext]
}
