package repository

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/fyerfyer/tender-response-system/internal/database"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	// 使用唯一的内存数据库标识符
	dbName := fmt.Sprintf("file:memdb_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")

	// 运行迁移以创建所需的表
	err = db.AutoMigrate(
		&models.Document{},
		&models.Requirement{},
		&models.MatchRecord{},
		&models.MatchSummary{},
		&models.Response{},
		&models.KnowledgeBaseItem{},
	)
	require.NoError(t, err, "Failed to run migrations")

	// 保存原始全局DB引用
	originalDB := database.DB

	// 替换全局DB为测试DB
	database.DB = db

	// 返回测试DB和清理函数
	cleanup := func() {
		// 恢复原始DB引用
		database.DB = originalDB
	}

	return db, cleanup
}

func createTestDocument(t *testing.T, repo DocumentRepository, id string, status models.DocumentStatus) *models.Document {
	doc := &models.Document{
		ID:       id,
		FileName: "tender.pdf",
		FileType: "pdf",
		FilePath: "/path/to/tender.pdf",
		FileSize: 1024,
		Status:   status,
	}
	require.NoError(t, repo.Create(doc), "Document creation should succeed")
	return doc
}

func TestDocumentRepository_Create(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()

	doc := createTestDocument(t, repo, "test-doc-1", models.DocStatusUploaded)

	// 验证文档已创建
	savedDoc, err := repo.GetByID(doc.ID)
	assert.NoError(t, err, "Should be able to retrieve created document")
	assert.Equal(t, doc.ID, savedDoc.ID, "Document ID should match")
	assert.Equal(t, doc.FileName, savedDoc.FileName, "Document filename should match")
	assert.Equal(t, models.DocStatusUploaded, savedDoc.Status, "Document status should match")
}

func TestDocumentRepository_GetByID(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()

	// 测试获取不存在的文档
	doc, err := repo.GetByID("non-existing")
	assert.Error(t, err, "Should return error for non-existing document")
	assert.Nil(t, doc, "Should return nil for non-existing document")

	createTestDocument(t, repo, "test-doc-2", models.DocStatusUploaded)

	// 测试获取存在的文档
	doc, err = repo.GetByID("test-doc-2")
	assert.NoError(t, err, "Should retrieve existing document without error")
	assert.NotNil(t, doc, "Should return document object")
	assert.Equal(t, "tender.pdf", doc.FileName, "Document properties should match")
}

func TestDocumentRepository_List(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()

	// 创建测试文档
	docs := []*models.Document{
		{
			ID:         "test-doc-3",
			FileName:   "rfp_a.pdf",
			FileType:   "pdf",
			Status:     models.DocStatusUploaded,
			UploadedAt: time.Now().Add(-2 * time.Hour),
		},
		{
			ID:         "test-doc-4",
			FileName:   "rfp_b.docx",
			FileType:   "docx",
			Status:     models.DocStatusMatching,
			TenantID:   "tenant-a",
			UploadedAt: time.Now().Add(-1 * time.Hour),
		},
		{
			ID:         "test-doc-5",
			FileName:   "rfp_c.pdf",
			FileType:   "pdf",
			Status:     models.DocStatusReady,
			TenantID:   "tenant-a",
			UploadedAt: time.Now(),
		},
	}

	for _, doc := range docs {
		require.NoError(t, repo.Create(doc))
	}

	// 测试无过滤器列表
	resultDocs, total, err := repo.List(0, 10, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), total, "Total count should be 3")
	assert.Len(t, resultDocs, 3, "Should return 3 documents")

	// 测试分页
	resultDocs, total, err = repo.List(1, 2, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), total, "Total count should still be 3")
	assert.Len(t, resultDocs, 2, "Should return 2 documents with offset 1")

	// 测试状态过滤器
	filters := map[string]interface{}{
		"status": string(models.DocStatusMatching),
	}
	resultDocs, total, err = repo.List(0, 10, filters)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), total, "Total count should be 1")
	assert.Len(t, resultDocs, 1, "Should return 1 document")
	assert.Equal(t, "test-doc-4", resultDocs[0].ID, "Should return the matching document")

	// 测试租户过滤器
	filters = map[string]interface{}{
		"tenant_id": "tenant-a",
	}
	resultDocs, total, err = repo.List(0, 10, filters)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), total, "Total count should be 2")
	assert.Len(t, resultDocs, 2, "Should return 2 documents for tenant-a")
}

func TestDocumentRepository_UpdateStatus(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()
	doc := createTestDocument(t, repo, "test-doc-6", models.DocStatusUploaded)

	// 状态沿流水线向前推进
	err := repo.UpdateStatus(doc.ID, models.DocStatusParsing, "")
	assert.NoError(t, err, "Status update should succeed")

	updatedDoc, err := repo.GetByID(doc.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.DocStatusParsing, updatedDoc.Status, "Status should be updated")

	// 跳过中间阶段也是向前推进，允许
	err = repo.UpdateStatus(doc.ID, models.DocStatusMatching, "")
	assert.NoError(t, err)

	// 状态不能回退
	err = repo.UpdateStatus(doc.ID, models.DocStatusParsing, "")
	assert.Error(t, err, "Backward transition should be rejected")
	assert.ErrorIs(t, err, models.ErrInvalidStatusTransition)

	// 任何非终止状态都可以进入ERROR
	err = repo.UpdateStatus(doc.ID, models.DocStatusError, "embedding service unavailable")
	assert.NoError(t, err)

	updatedDoc, err = repo.GetByID(doc.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.DocStatusError, updatedDoc.Status, "Status should be updated to error")
	assert.Equal(t, "embedding service unavailable", updatedDoc.ErrorMessage, "Error message should be set")
	assert.NotNil(t, updatedDoc.ProcessedAt, "ProcessedAt should be set for terminal status")

	// 终止状态后不再接受转换
	err = repo.UpdateStatus(doc.ID, models.DocStatusReady, "")
	assert.Error(t, err, "Transition out of error should be rejected")
}

func TestDocumentRepository_UpdateProgress(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()
	doc := createTestDocument(t, repo, "test-doc-7", models.DocStatusParsing)

	// 测试更新进度
	err := repo.UpdateProgress(doc.ID, 30)
	assert.NoError(t, err, "Progress update should succeed")

	updatedDoc, err := repo.GetByID(doc.ID)
	assert.NoError(t, err)
	assert.Equal(t, 30, updatedDoc.Progress, "Progress should be updated to 30")

	// 测试负进度值被调整为0
	err = repo.UpdateProgress(doc.ID, -20)
	assert.NoError(t, err)

	updatedDoc, err = repo.GetByID(doc.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, updatedDoc.Progress, "Negative progress should be adjusted to 0")

	// 测试超过100的进度值被调整为100
	err = repo.UpdateProgress(doc.ID, 120)
	assert.NoError(t, err)

	updatedDoc, err = repo.GetByID(doc.ID)
	assert.NoError(t, err)
	assert.Equal(t, 100, updatedDoc.Progress, "Progress over 100 should be adjusted to 100")
}

func TestDocumentRepository_RequirementOperations(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()
	doc := createTestDocument(t, repo, "test-doc-8", models.DocStatusExtracting)

	reqs := []*models.Requirement{
		{
			ID:           "req-1",
			DocumentID:   doc.ID,
			Text:         "The bidder must have ISO 27001 certification.",
			Category:     models.CategoryEligibility,
			SubCategory:  "certification",
			Confidence:   0.9,
			ExtractOrder: 0,
		},
		{
			ID:           "req-2",
			DocumentID:   doc.ID,
			Text:         "The system shall support 1000 concurrent users.",
			Category:     models.CategoryTechnical,
			Confidence:   0.8,
			ExtractOrder: 1,
		},
	}

	// 批量保存
	err := repo.SaveRequirements(reqs)
	assert.NoError(t, err, "SaveRequirements should succeed")

	// 按提取顺序返回
	saved, err := repo.GetRequirements(doc.ID)
	assert.NoError(t, err)
	require.Len(t, saved, 2, "Should return 2 requirements")
	assert.Equal(t, "req-1", saved[0].ID, "Requirements should be ordered by extract order")
	assert.Equal(t, models.CategoryTechnical, saved[1].Category)

	// 单条获取
	req, err := repo.GetRequirementByID("req-2")
	assert.NoError(t, err)
	assert.Equal(t, "The system shall support 1000 concurrent users.", req.Text)

	// 统计数量
	count, err := repo.CountRequirements(doc.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, count, "Should count 2 requirements")

	// 删除后清空
	err = repo.DeleteRequirements(doc.ID)
	assert.NoError(t, err, "DeleteRequirements should succeed")

	saved, err = repo.GetRequirements(doc.ID)
	assert.NoError(t, err)
	assert.Empty(t, saved, "Requirements should be deleted")
}

func TestDocumentRepository_MatchOperations(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()
	doc := createTestDocument(t, repo, "test-doc-9", models.DocStatusMatching)

	matches := []*models.MatchRecord{
		{DocumentID: doc.ID, RequirementID: "req-1", KBItemID: "kb-1", MatchedContent: "ISO 27001 certified since 2019", Score: 0.92, Rank: 1},
		{DocumentID: doc.ID, RequirementID: "req-1", KBItemID: "kb-2", MatchedContent: "Security policy overview", Score: 0.61, Rank: 2},
		{DocumentID: doc.ID, RequirementID: "req-2", KBItemID: "kb-3", MatchedContent: "Load test report", Score: 0.55, Rank: 1},
	}

	err := repo.SaveMatches(doc.ID, matches)
	assert.NoError(t, err, "SaveMatches should succeed")

	// 按需求查询，按排名排序
	reqMatches, err := repo.GetMatchesByRequirement("req-1")
	assert.NoError(t, err)
	require.Len(t, reqMatches, 2)
	assert.Equal(t, 1, reqMatches[0].Rank, "Matches should be ordered by rank")
	assert.Equal(t, "kb-1", reqMatches[0].KBItemID)

	// 重新保存替换旧结果
	err = repo.SaveMatches(doc.ID, []*models.MatchRecord{
		{DocumentID: doc.ID, RequirementID: "req-1", KBItemID: "kb-4", MatchedContent: "Updated match", Score: 0.8, Rank: 1},
	})
	assert.NoError(t, err)

	allMatches, err := repo.GetMatches(doc.ID)
	assert.NoError(t, err)
	require.Len(t, allMatches, 1, "Old matches should be replaced")
	assert.Equal(t, "kb-4", allMatches[0].KBItemID)
}

func TestDocumentRepository_SummaryOperations(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()
	doc := createTestDocument(t, repo, "test-doc-10", models.DocStatusMatching)

	// 没有摘要时返回nil而不报错
	summary, err := repo.GetSummary(doc.ID)
	assert.NoError(t, err)
	assert.Nil(t, summary, "Should return nil when no summary exists")

	err = repo.SaveSummary(&models.MatchSummary{
		DocumentID:          doc.ID,
		EligibilityMatch:    80,
		TechnicalMatch:      60,
		ComplianceMatch:     0,
		OverallMatch:        70,
		TotalRequirements:   5,
		MatchedRequirements: 3,
	})
	assert.NoError(t, err, "SaveSummary should succeed")

	// 重复保存覆盖旧摘要
	err = repo.SaveSummary(&models.MatchSummary{
		DocumentID:          doc.ID,
		OverallMatch:        75,
		TotalRequirements:   5,
		MatchedRequirements: 4,
	})
	assert.NoError(t, err)

	summary, err = repo.GetSummary(doc.ID)
	assert.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 75.0, summary.OverallMatch, "Summary should be replaced")
	assert.Equal(t, 4, summary.MatchedRequirements)
}

func TestDocumentRepository_Delete(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()
	doc := createTestDocument(t, repo, "test-doc-11", models.DocStatusReady)

	// 关联数据
	require.NoError(t, repo.SaveRequirements([]*models.Requirement{
		{ID: "req-del-1", DocumentID: doc.ID, Text: "Bidder shall provide warranty.", Category: models.CategoryCompliance, Confidence: 0.7},
	}))
	require.NoError(t, repo.SaveMatches(doc.ID, []*models.MatchRecord{
		{DocumentID: doc.ID, RequirementID: "req-del-1", KBItemID: "kb-1", Score: 0.5, Rank: 1},
	}))
	require.NoError(t, repo.SaveSummary(&models.MatchSummary{DocumentID: doc.ID, TotalRequirements: 1}))

	// 测试删除
	err := repo.Delete(doc.ID)
	assert.NoError(t, err, "Delete should succeed")

	// 验证文档已删除
	_, err = repo.GetByID(doc.ID)
	assert.Error(t, err, "Document should no longer exist")

	// 验证关联数据已级联删除
	reqs, err := repo.GetRequirements(doc.ID)
	assert.NoError(t, err)
	assert.Empty(t, reqs, "Requirements should be deleted along with the document")

	matches, err := repo.GetMatches(doc.ID)
	assert.NoError(t, err)
	assert.Empty(t, matches, "Matches should be deleted along with the document")

	summary, err := repo.GetSummary(doc.ID)
	assert.NoError(t, err)
	assert.Nil(t, summary, "Summary should be deleted along with the document")
}

func TestMain(m *testing.M) {
	// 确保测试目录存在
	os.MkdirAll("../../data", 0755)

	// 运行测试
	exitCode := m.Run()

	// 退出
	os.Exit(exitCode)
}
