package api

import (
	"github.com/fyerfyer/tender-response-system/api/handler"
	"github.com/fyerfyer/tender-response-system/api/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(
	docHandler *handler.DocumentHandler,
	kbHandler *handler.KnowledgeHandler,
	respHandler *handler.ResponseHandler,
	humanizeHandler *handler.HumanizeHandler,
	taskHandler *handler.TaskHandler,
) *gin.Engine {
	router := gin.Default()

	// 应用全局中间件
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())
	router.Use(middleware.SetTraceID())

	// 在调试模式下记录请求体和响应体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
	}

	api := router.Group("/api")
	{
		// 标书文档API
		docGroup := api.Group("/documents")
		{
			// 上传标书 - POST /api/documents
			docGroup.POST("", docHandler.UploadDocument)

			// 获取文档列表 - GET /api/documents
			docGroup.GET("", docHandler.ListDocuments)

			// 获取文档详情 - GET /api/documents/:id
			docGroup.GET("/:id", docHandler.GetDocument)

			// 获取处理状态 - GET /api/documents/:id/status
			docGroup.GET("/:id/status", docHandler.GetDocumentStatus)

			// 删除文档 - DELETE /api/documents/:id
			docGroup.DELETE("/:id", docHandler.DeleteDocument)

			// 重新处理失败的文档 - POST /api/documents/:id/reprocess
			docGroup.POST("/:id/reprocess", docHandler.ReprocessDocument)

			// 获取提取的需求条目 - GET /api/documents/:id/requirements
			docGroup.GET("/:id/requirements", docHandler.GetRequirements)

			// 获取匹配记录 - GET /api/documents/:id/matches
			docGroup.GET("/:id/matches", docHandler.GetMatches)

			// 获取匹配汇总报告 - GET /api/documents/:id/match-summary
			docGroup.GET("/:id/match-summary", docHandler.GetMatchSummary)

			// 获取应答草稿列表 - GET /api/documents/:id/responses
			docGroup.GET("/:id/responses", respHandler.ListResponses)

			// 批量生成应答草稿 - POST /api/documents/:id/responses/generate
			docGroup.POST("/:id/responses/generate", respHandler.GenerateResponses)

			// 获取文档相关任务 - GET /api/documents/:id/tasks
			docGroup.GET("/:id/tasks", taskHandler.GetDocumentTasks)
		}

		// 需求条目API
		reqGroup := api.Group("/requirements")
		{
			// 为单条需求生成应答 - POST /api/requirements/:id/response
			reqGroup.POST("/:id/response", respHandler.GenerateForRequirement)
		}

		// 应答草稿API
		respGroup := api.Group("/responses")
		{
			// 获取应答详情 - GET /api/responses/:id
			respGroup.GET("/:id", respHandler.GetResponse)

			// 更新审核状态 - PUT /api/responses/:id/status
			respGroup.PUT("/:id/status", respHandler.UpdateStatus)

			// 删除应答 - DELETE /api/responses/:id
			respGroup.DELETE("/:id", respHandler.DeleteResponse)
		}

		// 知识库API
		kbGroup := api.Group("/knowledge-base")
		{
			// 创建条目 - POST /api/knowledge-base
			kbGroup.POST("", kbHandler.CreateItem)

			// 获取条目列表 - GET /api/knowledge-base
			kbGroup.GET("", kbHandler.ListItems)

			// 获取条目详情 - GET /api/knowledge-base/:id
			kbGroup.GET("/:id", kbHandler.GetItem)

			// 更新条目 - PUT /api/knowledge-base/:id
			kbGroup.PUT("/:id", kbHandler.UpdateItem)

			// 删除条目 - DELETE /api/knowledge-base/:id
			kbGroup.DELETE("/:id", kbHandler.DeleteItem)

			// 重建向量索引 - POST /api/knowledge-base/sync
			kbGroup.POST("/sync", kbHandler.SyncIndex)
		}

		// 文本改写API
		api.POST("/humanize", humanizeHandler.Humanize)
		api.POST("/humanize/score", humanizeHandler.Score)

		// 任务API
		taskGroup := api.Group("/tasks")
		{
			// 任务回调 - POST /api/tasks/callback
			taskGroup.POST("/callback", taskHandler.HandleCallback)

			// 获取任务状态 - GET /api/tasks/:id
			taskGroup.GET("/:id", taskHandler.GetTaskStatus)
		}

		// 健康检查API
		api.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status": "ok",
			})
		})
	}

	return router
}

// Cors 跨域资源共享中间件
// 如果需要支持跨域请求，可以启用此中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
