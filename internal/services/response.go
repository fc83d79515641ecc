package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/tender-response-system/internal/cache"
	"github.com/fyerfyer/tender-response-system/internal/composer"
	"github.com/fyerfyer/tender-response-system/internal/matcher"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/repository"
)

// responseCachePrefix 应答缓存键前缀
const responseCachePrefix = "response"

// responseCacheTTL 应答缓存过期时间
const responseCacheTTL = time.Hour * 24

// BatchResult 批量生成应答的结果
type BatchResult struct {
	DocumentID string // 文档ID
	Generated  int    // 成功生成的应答数量
	Failed     int    // 生成失败的需求数量
}

// ResponseService 应答生成服务
// 为需求条目编排检索和文本合成，并持久化生成结果
type ResponseService struct {
	repo     repository.ResponseRepository // 应答仓储
	docRepo  repository.DocumentRepository // 文档仓储
	matcher  *matcher.Service              // 匹配服务
	composer *composer.Service             // 应答合成服务
	cache    cache.Cache                   // 结果缓存，可为空
	logger   *logrus.Logger                // 日志记录器
}

// ResponseOption 应答服务配置选项
type ResponseOption func(*ResponseService)

// WithResponseCache 设置应答结果缓存
func WithResponseCache(c cache.Cache) ResponseOption {
	return func(s *ResponseService) {
		s.cache = c
	}
}

// WithResponseLogger 设置日志记录器
func WithResponseLogger(logger *logrus.Logger) ResponseOption {
	return func(s *ResponseService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewResponseService 创建应答生成服务
func NewResponseService(
	repo repository.ResponseRepository,
	docRepo repository.DocumentRepository,
	match *matcher.Service,
	compose *composer.Service,
	opts ...ResponseOption,
) *ResponseService {
	srv := &ResponseService{
		repo:     repo,
		docRepo:  docRepo,
		matcher:  match,
		composer: compose,
		logger:   logrus.New(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

// GenerateForRequirement 为单条需求生成应答
// AI占比超过阈值时回退到纯知识库摘录，GatePassed置为false
func (s *ResponseService) GenerateForRequirement(ctx context.Context, requirementID string, opts composer.ComposeOptions) (*models.Response, error) {
	req, err := s.docRepo.GetRequirementByID(requirementID)
	if err != nil {
		return nil, fmt.Errorf("failed to get requirement: %w", err)
	}

	doc, err := s.docRepo.GetByID(req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	// 检查缓存，命中时直接持久化缓存的合成结果
	cacheKey := cache.GenerateCacheKey(responseCachePrefix, requirementID, opts.Style, string(opts.Mode), opts.Tone)
	if composed, ok := s.getCachedResponse(cacheKey); ok {
		s.logger.WithField("requirement_id", requirementID).Debug("Response cache hit")
		return s.saveResponse(req, composed, true)
	}

	// 检索知识库匹配
	matches, err := s.matcher.Search(ctx, req.Text, doc.TenantID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge base: %w", err)
	}

	// 合成应答文本
	gatePassed := true
	composed, err := s.composer.Compose(ctx, req.Text, matches, opts)
	if err != nil {
		var thresholdErr *composer.ThresholdError
		if !errors.As(err, &thresholdErr) && !errors.Is(err, composer.ErrAIThresholdNotMet) {
			return nil, fmt.Errorf("failed to compose response: %w", err)
		}

		// 改写多轮仍未达标，回退到纯知识库摘录
		s.logger.WithFields(logrus.Fields{
			"requirement_id": requirementID,
			"error":          err.Error(),
		}).Warn("AI threshold not met, falling back to knowledge base excerpt")

		composed = s.composer.ExcerptResponse(ctx, req.Text, matches, opts)
		gatePassed = false
	}

	// 只缓存通过阈值的结果，回退摘录不进缓存
	if gatePassed {
		s.setCachedResponse(cacheKey, composed)
	}

	return s.saveResponse(req, composed, gatePassed)
}

// GenerateForDocument 为文档的全部需求批量生成应答
// 单条需求失败不中断批处理，失败数计入结果
func (s *ResponseService) GenerateForDocument(ctx context.Context, documentID string, opts composer.ComposeOptions) (*BatchResult, error) {
	doc, err := s.docRepo.GetByID(documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if doc.Status != models.DocStatusReady {
		return nil, fmt.Errorf("document %s is not ready: status is %s", documentID, doc.Status)
	}

	requirements, err := s.docRepo.GetRequirements(documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get requirements: %w", err)
	}

	result := &BatchResult{DocumentID: documentID}
	for _, req := range requirements {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if _, err := s.GenerateForRequirement(ctx, req.ID, opts); err != nil {
			s.logger.WithFields(logrus.Fields{
				"document_id":    documentID,
				"requirement_id": req.ID,
				"error":          err.Error(),
			}).Error("Failed to generate response for requirement")
			result.Failed++
			continue
		}
		result.Generated++
	}

	s.logger.WithFields(logrus.Fields{
		"document_id": documentID,
		"generated":   result.Generated,
		"failed":      result.Failed,
	}).Info("Batch response generation finished")

	return result, nil
}

// GetResponse 获取应答记录
func (s *ResponseService) GetResponse(ctx context.Context, responseID string) (*models.Response, error) {
	return s.repo.GetByID(responseID)
}

// GetResponseByRequirement 获取需求对应的应答
func (s *ResponseService) GetResponseByRequirement(ctx context.Context, requirementID string) (*models.Response, error) {
	return s.repo.GetByRequirement(requirementID)
}

// ListResponses 列出文档的所有应答
func (s *ResponseService) ListResponses(ctx context.Context, documentID string) ([]*models.Response, error) {
	return s.repo.ListByDocument(documentID)
}

// UpdateStatus 更新应答的审核状态
func (s *ResponseService) UpdateStatus(ctx context.Context, responseID string, status models.ResponseStatus) error {
	switch status {
	case models.ResponseStatusDraft, models.ResponseStatusInReview, models.ResponseStatusApproved:
	default:
		return fmt.Errorf("invalid response status: %s", status)
	}

	return s.repo.UpdateStatus(responseID, status)
}

// DeleteResponse 删除应答记录
// 同时使该需求下所有文体组合的缓存合成结果失效，避免重新生成时命中旧缓存
func (s *ResponseService) DeleteResponse(ctx context.Context, responseID string) error {
	resp, err := s.repo.GetByID(responseID)
	if err != nil {
		return fmt.Errorf("failed to get response: %w", err)
	}

	if err := s.repo.Delete(responseID); err != nil {
		return err
	}

	s.invalidateCachedResponses(resp.RequirementID)
	return nil
}

// invalidateCachedResponses 按需求ID前缀清除缓存的合成结果
func (s *ResponseService) invalidateCachedResponses(requirementID string) {
	if s.cache == nil {
		return
	}

	prefix := cache.GenerateCacheKey(responseCachePrefix, requirementID)
	removed, err := s.cache.DeleteByPrefix(prefix)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to invalidate cached responses")
		return
	}

	if removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"requirement_id": requirementID,
			"removed":        removed,
		}).Debug("Cached responses invalidated")
	}
}

// saveResponse 持久化合成结果
// 需求已有应答时覆盖更新，保持每条需求至多一条应答
func (s *ResponseService) saveResponse(req *models.Requirement, composed *composer.ComposedResponse, gatePassed bool) (*models.Response, error) {
	provenance, err := json.Marshal(composed.Provenance)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provenance: %w", err)
	}

	existing, err := s.repo.GetByRequirement(req.ID)
	if err == nil && existing != nil {
		existing.Text = composed.Text
		existing.Provenance = provenance
		existing.KBPercentage = composed.KBPercentage
		existing.AIPercentage = composed.AIPercentage
		existing.GatePassed = gatePassed
		existing.NeedsReview = composed.NeedsReview
		existing.Status = models.ResponseStatusDraft
		if err := s.repo.Update(existing); err != nil {
			return nil, fmt.Errorf("failed to update response: %w", err)
		}
		return existing, nil
	}

	resp := &models.Response{
		ID:            uuid.New().String(),
		DocumentID:    req.DocumentID,
		RequirementID: req.ID,
		Text:          composed.Text,
		Provenance:    provenance,
		KBPercentage:  composed.KBPercentage,
		AIPercentage:  composed.AIPercentage,
		GatePassed:    gatePassed,
		NeedsReview:   composed.NeedsReview,
		Status:        models.ResponseStatusDraft,
	}

	if err := s.repo.Create(resp); err != nil {
		return nil, fmt.Errorf("failed to save response: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"response_id":    resp.ID,
		"requirement_id": req.ID,
		"ai_percentage":  resp.AIPercentage,
		"gate_passed":    gatePassed,
	}).Info("Response generated")

	return resp, nil
}

// getCachedResponse 从缓存读取合成结果
func (s *ResponseService) getCachedResponse(key string) (*composer.ComposedResponse, bool) {
	if s.cache == nil {
		return nil, false
	}

	value, found, err := s.cache.Get(key)
	if err != nil || !found {
		return nil, false
	}

	var composed composer.ComposedResponse
	if err := json.Unmarshal([]byte(value), &composed); err != nil {
		return nil, false
	}
	return &composed, true
}

// setCachedResponse 将合成结果写入缓存
func (s *ResponseService) setCachedResponse(key string, composed *composer.ComposedResponse) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(composed)
	if err != nil {
		return
	}

	if err := s.cache.Set(key, string(data), responseCacheTTL); err != nil {
		s.logger.WithError(err).Debug("Failed to cache response")
	}
}
