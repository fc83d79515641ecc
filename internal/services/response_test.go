package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/tender-response-system/internal/cache"
	"github.com/fyerfyer/tender-response-system/internal/composer"
	"github.com/fyerfyer/tender-response-system/internal/matcher"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/repository"
	"github.com/fyerfyer/tender-response-system/internal/vectordb"
)

type responseFixture struct {
	service *ResponseService
	docRepo repository.DocumentRepository
	cache   cache.Cache
}

func setupResponseService(t *testing.T) *responseFixture {
	t.Helper()

	dbName := fmt.Sprintf("file:memdb_response_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Document{},
		&models.Requirement{},
		&models.MatchRecord{},
		&models.MatchSummary{},
		&models.Response{},
	)
	require.NoError(t, err)

	docRepo := repository.NewDocumentRepositoryWithDB(db)
	respRepo := repository.NewResponseRepositoryWithDB(db)

	index, err := vectordb.NewMemoryRepository(vectordb.Config{
		Dimension:    8,
		DistanceType: vectordb.Cosine,
	})
	require.NoError(t, err)

	matchSvc := matcher.NewService(&flatEmbedder{dim: 8}, index)
	err = matchSvc.RebuildIndex(context.Background(), []models.KnowledgeBaseItem{
		{ID: "kb-1", Title: "ISO certification", Content: "Our company holds ISO 27001 certification covering all delivery centers. The certification is renewed annually by an accredited body."},
	})
	require.NoError(t, err)

	memCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	// 无大模型配置，走纯知识库摘录路径
	svc := NewResponseService(
		respRepo,
		docRepo,
		matchSvc,
		composer.NewService(),
		WithResponseCache(memCache),
	)

	return &responseFixture{
		service: svc,
		docRepo: docRepo,
		cache:   memCache,
	}
}

func (f *responseFixture) createReadyDocument(t *testing.T, docID string, reqTexts []string) []*models.Requirement {
	t.Helper()

	now := time.Now()
	doc := &models.Document{
		ID:          docID,
		FileName:    "tender.pdf",
		FileType:    "pdf",
		FilePath:    "/files/tender.pdf",
		FileSize:    1024,
		Status:      models.DocStatusReady,
		Progress:    100,
		ProcessedAt: &now,
	}
	require.NoError(t, f.docRepo.Create(doc))

	reqs := make([]*models.Requirement, 0, len(reqTexts))
	for i, text := range reqTexts {
		reqs = append(reqs, &models.Requirement{
			ID:           fmt.Sprintf("%s-req-%d", docID, i+1),
			DocumentID:   docID,
			Text:         text,
			Category:     models.CategoryEligibility,
			Confidence:   0.8,
			ExtractOrder: i,
		})
	}
	require.NoError(t, f.docRepo.SaveRequirements(reqs))
	return reqs
}

func TestGenerateForRequirement(t *testing.T) {
	fixture := setupResponseService(t)
	ctx := context.Background()

	reqs := fixture.createReadyDocument(t, "doc-1", []string{
		"The bidder must have ISO 27001 certification for information security.",
	})

	resp, err := fixture.service.GenerateForRequirement(ctx, reqs[0].ID, composer.DefaultComposeOptions())
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.NotEmpty(t, resp.Text, "Response text should not be empty")
	assert.Equal(t, "doc-1", resp.DocumentID)
	assert.Equal(t, reqs[0].ID, resp.RequirementID)
	assert.Equal(t, models.ResponseStatusDraft, resp.Status)
	assert.True(t, resp.GatePassed, "Knowledge base excerpt should pass the gate")
	assert.InDelta(t, 100.0, resp.KBPercentage+resp.AIPercentage, 1.0, "Percentages should sum to 100")

	// 重复生成覆盖已有应答，不产生新记录
	resp2, err := fixture.service.GenerateForRequirement(ctx, reqs[0].ID, composer.DefaultComposeOptions())
	require.NoError(t, err)
	assert.Equal(t, resp.ID, resp2.ID, "Regeneration should update the existing response")
}

func TestGenerateForRequirementNotFound(t *testing.T) {
	fixture := setupResponseService(t)

	_, err := fixture.service.GenerateForRequirement(context.Background(), "missing-req", composer.DefaultComposeOptions())
	assert.Error(t, err, "Should fail for unknown requirement")
}

func TestGenerateForDocument(t *testing.T) {
	fixture := setupResponseService(t)
	ctx := context.Background()

	fixture.createReadyDocument(t, "doc-2", []string{
		"The bidder must have ISO 27001 certification for information security.",
		"The supplier shall provide audited financial statements for three years.",
	})

	result, err := fixture.service.GenerateForDocument(ctx, "doc-2", composer.DefaultComposeOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Generated, "Both requirements should get responses")
	assert.Equal(t, 0, result.Failed)

	responses, err := fixture.service.ListResponses(ctx, "doc-2")
	require.NoError(t, err)
	assert.Len(t, responses, 2)
}

func TestGenerateForDocumentNotReady(t *testing.T) {
	fixture := setupResponseService(t)
	ctx := context.Background()

	doc := &models.Document{
		ID:       "doc-3",
		FileName: "tender.pdf",
		FileType: "pdf",
		FilePath: "/files/tender.pdf",
		FileSize: 1024,
		Status:   models.DocStatusParsing,
	}
	require.NoError(t, fixture.docRepo.Create(doc))

	_, err := fixture.service.GenerateForDocument(ctx, "doc-3", composer.DefaultComposeOptions())
	assert.Error(t, err, "Should refuse documents that are not ready")
}

func TestUpdateResponseStatus(t *testing.T) {
	fixture := setupResponseService(t)
	ctx := context.Background()

	reqs := fixture.createReadyDocument(t, "doc-4", []string{
		"The bidder must have ISO 27001 certification for information security.",
	})

	resp, err := fixture.service.GenerateForRequirement(ctx, reqs[0].ID, composer.DefaultComposeOptions())
	require.NoError(t, err)

	err = fixture.service.UpdateStatus(ctx, resp.ID, models.ResponseStatusInReview)
	require.NoError(t, err)

	updated, err := fixture.service.GetResponse(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusInReview, updated.Status)

	// 未知状态被拒绝
	err = fixture.service.UpdateStatus(ctx, resp.ID, models.ResponseStatus("PUBLISHED"))
	assert.Error(t, err, "Unknown status should be rejected")
}

func TestResponseCacheHit(t *testing.T) {
	fixture := setupResponseService(t)
	ctx := context.Background()

	reqs := fixture.createReadyDocument(t, "doc-5", []string{
		"The bidder must have ISO 27001 certification for information security.",
	})

	resp, err := fixture.service.GenerateForRequirement(ctx, reqs[0].ID, composer.DefaultComposeOptions())
	require.NoError(t, err)

	// 生成结果进入缓存
	opts := composer.DefaultComposeOptions()
	key := cache.GenerateCacheKey("response", reqs[0].ID, opts.Style, string(opts.Mode), opts.Tone)
	_, found, err := fixture.cache.Get(key)
	require.NoError(t, err)
	assert.True(t, found, "Composed response should be cached")

	// 缓存命中时仍然正常持久化
	resp2, err := fixture.service.GenerateForRequirement(ctx, reqs[0].ID, opts)
	require.NoError(t, err)
	assert.Equal(t, resp.Text, resp2.Text, "Cached composition should produce the same text")
}

func TestDeleteResponseInvalidatesCache(t *testing.T) {
	fixture := setupResponseService(t)
	ctx := context.Background()

	reqs := fixture.createReadyDocument(t, "doc-6", []string{
		"The bidder must have ISO 27001 certification for information security.",
	})

	opts := composer.DefaultComposeOptions()
	resp, err := fixture.service.GenerateForRequirement(ctx, reqs[0].ID, opts)
	require.NoError(t, err)

	key := cache.GenerateCacheKey("response", reqs[0].ID, opts.Style, string(opts.Mode), opts.Tone)
	_, found, err := fixture.cache.Get(key)
	require.NoError(t, err)
	require.True(t, found, "Composed response should be cached before deletion")

	// 删除应答后，该需求下的缓存合成结果一并失效
	require.NoError(t, fixture.service.DeleteResponse(ctx, resp.ID))

	_, found, err = fixture.cache.Get(key)
	require.NoError(t, err)
	assert.False(t, found, "Deleting a response should drop its cached composition")

	_, err = fixture.service.GetResponse(ctx, resp.ID)
	assert.Error(t, err, "Deleted response should not be retrievable")
}
