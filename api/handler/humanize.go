package handler

import (
	"net/http"
	"strings"

	"github.com/fyerfyer/tender-response-system/api/middleware"
	"github.com/fyerfyer/tender-response-system/api/model"
	"github.com/fyerfyer/tender-response-system/internal/detector"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// minHumanizeLength 改写文本的最小长度
const minHumanizeLength = 10

// HumanizeHandler 处理文本改写相关的API请求
type HumanizeHandler struct {
	humanizer *detector.Humanizer // 改写器
	logger    *logrus.Logger      // 日志记录器
}

// NewHumanizeHandler 创建新的文本改写处理器
func NewHumanizeHandler(humanizer *detector.Humanizer) *HumanizeHandler {
	return &HumanizeHandler{
		humanizer: humanizer,
		logger:    middleware.GetLogger(),
	}
}

// Humanize 改写文本使其更接近人工写作
// POST /api/humanize
func (h *HumanizeHandler) Humanize(c *gin.Context) {
	var req model.HumanizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的请求参数"))
		return
	}

	text := strings.TrimSpace(req.Text)
	if len(text) < minHumanizeLength {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"文本长度不足，至少需要10个字符",
		))
		return
	}

	intensity := detector.IntensityBalanced
	switch detector.Intensity(req.Mode) {
	case detector.IntensityLight, detector.IntensityBalanced, detector.IntensityAggressive:
		intensity = detector.Intensity(req.Mode)
	}

	result, err := h.humanizer.Humanize(c.Request.Context(), text, intensity)
	if err != nil {
		h.logger.WithError(err).Error("Failed to humanize text")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"文本改写失败",
		))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"original_score": result.OriginalScore,
		"final_score":    result.NewScore,
		"techniques":     len(result.Techniques),
	}).Info("Text humanized")

	resp := model.HumanizeResponse{
		OriginalText:  text,
		HumanizedText: result.Text,
		OriginalScore: result.OriginalScore,
		FinalScore:    result.NewScore,
		Techniques:    result.Techniques,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// Score 计算文本的机器生成得分
// POST /api/humanize/score
func (h *HumanizeHandler) Score(c *gin.Context) {
	var req model.HumanizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的请求参数"))
		return
	}

	score, patterns := detector.Score(req.Text)

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"score":    score,
		"patterns": patterns,
	}))
}
