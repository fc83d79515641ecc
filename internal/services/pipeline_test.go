package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/tender-response-system/internal/extractor"
	"github.com/fyerfyer/tender-response-system/internal/matcher"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/repository"
	"github.com/fyerfyer/tender-response-system/internal/vectordb"
	"github.com/fyerfyer/tender-response-system/pkg/storage"
)

// stubStorage 测试用的内存文件存储
type stubStorage struct {
	files map[string][]byte
}

func newStubStorage() *stubStorage {
	return &stubStorage{files: make(map[string][]byte)}
}

func (s *stubStorage) Save(reader io.Reader, filename string) (storage.FileInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return storage.FileInfo{}, err
	}
	id := fmt.Sprintf("file-%d", len(s.files)+1)
	s.files[id] = data
	return storage.FileInfo{ID: id, Name: filename, Size: int64(len(data)), Path: "/stub/" + id}, nil
}

func (s *stubStorage) Get(id string) (io.ReadCloser, error) {
	data, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *stubStorage) Delete(id string) error {
	delete(s.files, id)
	return nil
}

func (s *stubStorage) List() ([]storage.FileInfo, error) {
	infos := make([]storage.FileInfo, 0, len(s.files))
	for id, data := range s.files {
		infos = append(infos, storage.FileInfo{ID: id, Size: int64(len(data))})
	}
	return infos, nil
}

func (s *stubStorage) Exists(id string) (bool, error) {
	_, ok := s.files[id]
	return ok, nil
}

// flatEmbedder 任何文本都返回同一个归一化向量
// 让检索结果稳定可预期
type flatEmbedder struct {
	dim int
}

func (f *flatEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dim)
	val := float32(1.0 / math.Sqrt(float64(f.dim)))
	for i := range vec {
		vec[i] = val
	}
	return vec, nil
}

func (f *flatEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *flatEmbedder) Name() string    { return "flat" }
func (f *flatEmbedder) Dimensions() int { return f.dim }

// tenderText 包含可提取需求句的标书样例
const tenderText = `Invitation to tender for a document management platform.

The bidder must have ISO 27001 certification for information security management. The system shall support at least 1000 concurrent users during peak hours. The supplier shall provide audited financial statements for the last three fiscal years.`

type pipelineFixture struct {
	pipeline *Pipeline
	manager  *DocumentStatusManager
	repo     repository.DocumentRepository
	storage  *stubStorage
}

func setupPipeline(t *testing.T) *pipelineFixture {
	t.Helper()

	dbName := fmt.Sprintf("file:memdb_pipeline_%d?mode=memory", time.Now().UnixNano())
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

	repo := repository.NewDocumentRepositoryWithDB(db)
	manager := NewDocumentStatusManager(repo, nil)

	index, err := vectordb.NewMemoryRepository(vectordb.Config{
		Dimension:    8,
		DistanceType: vectordb.Cosine,
	})
	require.NoError(t, err)

	matchSvc := matcher.NewService(&flatEmbedder{dim: 8}, index)
	err = matchSvc.RebuildIndex(context.Background(), []models.KnowledgeBaseItem{
		{ID: "kb-1", Title: "ISO certification", Content: "Our company holds ISO 27001 certification covering all delivery centers."},
		{ID: "kb-2", Title: "Financials", Content: "Audited financial statements for the last three fiscal years are available."},
	})
	require.NoError(t, err)

	store := newStubStorage()
	pipeline := NewPipeline(manager, repo, store, extractor.New(), matchSvc)

	return &pipelineFixture{
		pipeline: pipeline,
		manager:  manager,
		repo:     repo,
		storage:  store,
	}
}

func (f *pipelineFixture) uploadDocument(t *testing.T, content, filename string) string {
	t.Helper()

	info, err := f.storage.Save(strings.NewReader(content), filename)
	require.NoError(t, err)

	err = f.manager.MarkAsUploaded(context.Background(), info.ID, filename, info.Path, info.Size, "")
	require.NoError(t, err)

	return info.ID
}

func TestPipelineProcess(t *testing.T) {
	fixture := setupPipeline(t)
	ctx := context.Background()

	docID := fixture.uploadDocument(t, tenderText, "tender.txt")

	result, err := fixture.pipeline.Process(ctx, docID)
	require.NoError(t, err, "Pipeline should complete")
	require.NotNil(t, result)

	// 文档进入终止状态
	doc, err := fixture.manager.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusReady, doc.Status)
	assert.Equal(t, 100, doc.Progress)
	assert.NotNil(t, doc.ProcessedAt)
	assert.Empty(t, doc.ErrorMessage)

	// 需求条目已保存
	reqs, err := fixture.repo.GetRequirements(docID)
	require.NoError(t, err)
	assert.NotEmpty(t, reqs, "Requirements should be extracted and saved")
	assert.Equal(t, len(reqs), result.RequirementCount)

	// 提取顺序单调递增
	for i := 1; i < len(reqs); i++ {
		assert.Greater(t, reqs[i].ExtractOrder, reqs[i-1].ExtractOrder, "Extract order should increase")
	}

	// 匹配记录已保存且排名从1开始
	matches, err := fixture.repo.GetMatchesByRequirement(reqs[0].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, matches, "Matches should be saved")
	assert.Equal(t, 1, matches[0].Rank)

	// 匹配摘要已保存
	summary, err := fixture.repo.GetSummary(docID)
	require.NoError(t, err)
	require.NotNil(t, summary, "Summary should be saved")
	assert.Equal(t, len(reqs), summary.TotalRequirements)
	assert.Equal(t, summary.MatchedRequirements, result.MatchedCount)
	assert.InDelta(t, summary.OverallMatch, result.OverallMatch, 0.001)
}

func TestPipelineParseFailure(t *testing.T) {
	fixture := setupPipeline(t)
	ctx := context.Background()

	// 不支持的文件类型在解析阶段失败
	docID := fixture.uploadDocument(t, "binary gibberish", "tender.xyz")

	_, err := fixture.pipeline.Process(ctx, docID)
	require.Error(t, err, "Pipeline should fail for unsupported file type")

	doc, getErr := fixture.manager.GetDocument(ctx, docID)
	require.NoError(t, getErr)
	assert.Equal(t, models.DocStatusError, doc.Status, "Document should be marked as error")
	assert.NotEmpty(t, doc.ErrorMessage, "Error message should be recorded")
}

func TestPipelineMissingFile(t *testing.T) {
	fixture := setupPipeline(t)
	ctx := context.Background()

	// 文档记录存在但存储中没有文件
	err := fixture.manager.MarkAsUploaded(ctx, "ghost-doc", "tender.txt", "/stub/ghost", 10, "")
	require.NoError(t, err)

	_, err = fixture.pipeline.Process(ctx, "ghost-doc")
	require.Error(t, err)

	doc, getErr := fixture.manager.GetDocument(ctx, "ghost-doc")
	require.NoError(t, getErr)
	assert.Equal(t, models.DocStatusError, doc.Status)
}

func TestPipelineEmptyKnowledgeBase(t *testing.T) {
	fixture := setupPipeline(t)
	ctx := context.Background()

	// 清空索引后重新处理，零匹配不是错误
	require.NoError(t, fixture.pipeline.matcher.RebuildIndex(ctx, nil))

	docID := fixture.uploadDocument(t, tenderText, "tender.txt")

	result, err := fixture.pipeline.Process(ctx, docID)
	require.NoError(t, err, "Pipeline should complete with empty knowledge base")
	assert.Equal(t, 0, result.MatchedCount)
	assert.Equal(t, float64(0), result.OverallMatch)

	doc, err := fixture.manager.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusReady, doc.Status)
}
