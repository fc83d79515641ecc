package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/tender-response-system/api/middleware"
	"github.com/fyerfyer/tender-response-system/api/model"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/services"
	"github.com/fyerfyer/tender-response-system/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// KnowledgeHandler 处理知识库相关的API请求
type KnowledgeHandler struct {
	kbService *services.KnowledgeBaseService // 知识库服务
	queue     taskqueue.Queue                // 任务队列（异步重建索引用，可为nil）
	logger    *logrus.Logger                 // 日志记录器
}

// NewKnowledgeHandler 创建新的知识库处理器
func NewKnowledgeHandler(kbService *services.KnowledgeBaseService, queue taskqueue.Queue) *KnowledgeHandler {
	return &KnowledgeHandler{
		kbService: kbService,
		queue:     queue,
		logger:    middleware.GetLogger(),
	}
}

// CreateItem 创建知识库条目
// POST /api/knowledge-base
func (h *KnowledgeHandler) CreateItem(c *gin.Context) {
	var req model.KnowledgeItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数：title和content不能为空",
		))
		return
	}

	item, err := h.kbService.CreateItem(c.Request.Context(), req.Title, req.Content, req.Category, req.TenantID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create knowledge base item")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"创建知识库条目失败",
		))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"item_id": item.ID,
		"title":   item.Title,
	}).Info("Knowledge base item created")

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ConvertKnowledgeItemInfo(item)))
}

// UpdateItem 更新知识库条目
// PUT /api/knowledge-base/:id
func (h *KnowledgeHandler) UpdateItem(c *gin.Context) {
	itemID := c.Param("id")
	if itemID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "条目ID不能为空"))
		return
	}

	var req model.KnowledgeItemUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的请求参数"))
		return
	}

	// Active未提供时保留原值
	current, err := h.kbService.GetItem(c.Request.Context(), itemID)
	if err != nil {
		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到知识库条目"))
		return
	}

	active := current.Active
	if req.Active != nil {
		active = *req.Active
	}

	item, err := h.kbService.UpdateItem(c.Request.Context(), itemID, req.Title, req.Content, req.Category, active)
	if err != nil {
		if errors.Is(err, models.ErrKBItemNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到知识库条目"))
			return
		}

		h.logger.WithError(err).WithField("item_id", itemID).Error("Failed to update knowledge base item")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"更新知识库条目失败",
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ConvertKnowledgeItemInfo(item)))
}

// DeleteItem 删除知识库条目
// DELETE /api/knowledge-base/:id
func (h *KnowledgeHandler) DeleteItem(c *gin.Context) {
	itemID := c.Param("id")
	if itemID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "条目ID不能为空"))
		return
	}

	if err := h.kbService.DeleteItem(c.Request.Context(), itemID); err != nil {
		if errors.Is(err, models.ErrKBItemNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到知识库条目"))
			return
		}

		h.logger.WithError(err).WithField("item_id", itemID).Error("Failed to delete knowledge base item")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"删除知识库条目失败",
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"success": true,
		"item_id": itemID,
	}))
}

// GetItem 获取知识库条目详情
// GET /api/knowledge-base/:id
func (h *KnowledgeHandler) GetItem(c *gin.Context) {
	itemID := c.Param("id")
	if itemID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "条目ID不能为空"))
		return
	}

	item, err := h.kbService.GetItem(c.Request.Context(), itemID)
	if err != nil {
		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到知识库条目"))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ConvertKnowledgeItemInfo(item)))
}

// ListItems 获取知识库条目列表
// GET /api/knowledge-base
func (h *KnowledgeHandler) ListItems(c *gin.Context) {
	var req model.KnowledgeListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的查询参数"))
		return
	}

	filters := make(map[string]interface{})
	if req.Category != "" {
		filters["category"] = req.Category
	}
	if req.TenantID != "" {
		filters["tenant_id"] = req.TenantID
	}

	page := req.GetPage()
	pageSize := req.GetPageSize()
	offset := (page - 1) * pageSize

	items, total, err := h.kbService.ListItems(c.Request.Context(), offset, pageSize, filters)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list knowledge base items")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取知识库列表失败",
		))
		return
	}

	infos := make([]model.KnowledgeItemInfo, len(items))
	for i, item := range items {
		infos[i] = model.ConvertKnowledgeItemInfo(item)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"items":     infos,
	}))
}

// SyncIndex 重建向量索引
// POST /api/knowledge-base/sync
func (h *KnowledgeHandler) SyncIndex(c *gin.Context) {
	var req model.KnowledgeSyncRequest
	// 请求体可以为空，为空时同步重建全部
	_ = c.ShouldBindJSON(&req)

	// 异步模式下提交重建任务后立即返回
	if req.Async && h.queue != nil {
		payload := &taskqueue.RebuildIndexPayload{TenantID: req.TenantID}
		taskID, err := h.queue.Enqueue(c.Request.Context(), taskqueue.TaskRebuildIndex, "", payload)
		if err != nil {
			h.logger.WithError(err).Error("Failed to enqueue index rebuild task")
			c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
				http.StatusInternalServerError,
				"提交索引重建任务失败",
			))
			return
		}

		c.JSON(http.StatusOK, model.NewSuccessResponse(model.KnowledgeSyncResponse{TaskID: taskID}))
		return
	}

	count, err := h.kbService.SyncIndex(c.Request.Context(), req.TenantID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to sync knowledge base index")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"重建索引失败",
		))
		return
	}

	h.logger.WithField("item_count", count).Info("Knowledge base index rebuilt")

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.KnowledgeSyncResponse{ItemCount: count}))
}
