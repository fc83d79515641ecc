package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/tender-response-system/api/middleware"
	"github.com/fyerfyer/tender-response-system/api/model"
	"github.com/fyerfyer/tender-response-system/internal/composer"
	"github.com/fyerfyer/tender-response-system/internal/detector"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/services"
	"github.com/fyerfyer/tender-response-system/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ResponseHandler 处理应答草稿相关的API请求
type ResponseHandler struct {
	responseService *services.ResponseService // 应答服务
	queue           taskqueue.Queue           // 任务队列（异步批量生成用，可为nil）
	logger          *logrus.Logger            // 日志记录器
}

// NewResponseHandler 创建新的应答处理器
func NewResponseHandler(responseService *services.ResponseService, queue taskqueue.Queue) *ResponseHandler {
	return &ResponseHandler{
		responseService: responseService,
		queue:           queue,
		logger:          middleware.GetLogger(),
	}
}

// ListResponses 获取文档的全部应答草稿
// GET /api/documents/:id/responses
func (h *ResponseHandler) ListResponses(c *gin.Context) {
	documentID := c.Param("id")
	if documentID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "文档ID不能为空"))
		return
	}

	responses, err := h.responseService.ListResponses(c.Request.Context(), documentID)
	if err != nil {
		h.logger.WithError(err).WithField("document_id", documentID).Error("Failed to list responses")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取应答列表失败",
		))
		return
	}

	infos := make([]model.ResponseInfo, len(responses))
	for i, resp := range responses {
		infos[i] = model.ConvertResponseInfo(resp)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(infos))
}

// GenerateResponses 为文档生成应答草稿
// POST /api/documents/:id/responses/generate
func (h *ResponseHandler) GenerateResponses(c *gin.Context) {
	documentID := c.Param("id")
	if documentID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "文档ID不能为空"))
		return
	}

	var req model.GenerateResponsesRequest
	// 请求体可以为空，为空时使用默认选项生成全部需求
	_ = c.ShouldBindJSON(&req)

	opts := composeOptionsFromRequest(req.Style, req.Mode, req.Tone)

	// 异步模式下提交批量生成任务后立即返回
	if req.Async && h.queue != nil {
		payload := &taskqueue.GenerateBatchPayload{
			DocumentID: documentID,
			Style:      req.Style,
			Mode:       req.Mode,
			Tone:       req.Tone,
		}

		taskID, err := h.queue.Enqueue(c.Request.Context(), taskqueue.TaskGenerateBatch, documentID, payload)
		if err != nil {
			h.logger.WithError(err).WithField("document_id", documentID).Error("Failed to enqueue batch generation task")
			c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
				http.StatusInternalServerError,
				"提交批量生成任务失败",
			))
			return
		}

		c.JSON(http.StatusOK, model.NewSuccessResponse(model.GenerateResponsesResponse{
			DocumentID: documentID,
			TaskID:     taskID,
		}))
		return
	}

	// 指定了需求ID时逐条生成
	if len(req.RequirementIDs) > 0 {
		generated, failed := 0, 0
		for _, reqID := range req.RequirementIDs {
			if _, err := h.responseService.GenerateForRequirement(c.Request.Context(), reqID, opts); err != nil {
				h.logger.WithError(err).WithField("requirement_id", reqID).Warn("Failed to generate response")
				failed++
				continue
			}
			generated++
		}

		c.JSON(http.StatusOK, model.NewSuccessResponse(model.GenerateResponsesResponse{
			DocumentID: documentID,
			Generated:  generated,
			Failed:     failed,
		}))
		return
	}

	result, err := h.responseService.GenerateForDocument(c.Request.Context(), documentID, opts)
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到文档"))
			return
		}

		h.logger.WithError(err).WithField("document_id", documentID).Error("Failed to generate responses")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"生成应答失败: "+err.Error(),
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.GenerateResponsesResponse{
		DocumentID: result.DocumentID,
		Generated:  result.Generated,
		Failed:     result.Failed,
	}))
}

// GenerateForRequirement 为单条需求生成应答草稿
// POST /api/requirements/:id/response
func (h *ResponseHandler) GenerateForRequirement(c *gin.Context) {
	requirementID := c.Param("id")
	if requirementID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "需求ID不能为空"))
		return
	}

	var req model.GenerateResponsesRequest
	_ = c.ShouldBindJSON(&req)

	opts := composeOptionsFromRequest(req.Style, req.Mode, req.Tone)

	resp, err := h.responseService.GenerateForRequirement(c.Request.Context(), requirementID, opts)
	if err != nil {
		if errors.Is(err, models.ErrRequirementNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到需求条目"))
			return
		}

		h.logger.WithError(err).WithField("requirement_id", requirementID).Error("Failed to generate response")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"生成应答失败",
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ConvertResponseInfo(resp)))
}

// GetResponse 获取应答草稿详情
// GET /api/responses/:id
func (h *ResponseHandler) GetResponse(c *gin.Context) {
	responseID := c.Param("id")
	if responseID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "应答ID不能为空"))
		return
	}

	resp, err := h.responseService.GetResponse(c.Request.Context(), responseID)
	if err != nil {
		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到应答记录"))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ConvertResponseInfo(resp)))
}

// UpdateStatus 更新应答审核状态
// PUT /api/responses/:id/status
func (h *ResponseHandler) UpdateStatus(c *gin.Context) {
	responseID := c.Param("id")
	if responseID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "应答ID不能为空"))
		return
	}

	var req model.ResponseStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的请求参数"))
		return
	}

	err := h.responseService.UpdateStatus(c.Request.Context(), responseID, models.ResponseStatus(req.Status))
	if err != nil {
		if errors.Is(err, models.ErrResponseNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到应答记录"))
			return
		}

		h.logger.WithError(err).WithFields(logrus.Fields{
			"response_id": responseID,
			"status":      req.Status,
		}).Warn("Failed to update response status")

		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"更新应答状态失败: "+err.Error(),
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"response_id": responseID,
		"status":      req.Status,
	}))
}

// DeleteResponse 删除应答草稿
// DELETE /api/responses/:id
func (h *ResponseHandler) DeleteResponse(c *gin.Context) {
	responseID := c.Param("id")
	if responseID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "应答ID不能为空"))
		return
	}

	if err := h.responseService.DeleteResponse(c.Request.Context(), responseID); err != nil {
		h.logger.WithError(err).WithField("response_id", responseID).Error("Failed to delete response")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"删除应答失败",
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"success":     true,
		"response_id": responseID,
	}))
}

// composeOptionsFromRequest 根据请求参数构建生成选项，未提供的字段使用默认值
func composeOptionsFromRequest(style, mode, tone string) composer.ComposeOptions {
	opts := composer.DefaultComposeOptions()
	if style != "" {
		opts.Style = style
	}
	if mode != "" {
		switch detector.Intensity(mode) {
		case detector.IntensityLight, detector.IntensityBalanced, detector.IntensityAggressive:
			opts.Mode = detector.Intensity(mode)
		}
	}
	if tone != "" {
		opts.Tone = tone
	}
	return opts
}
