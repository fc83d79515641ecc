package vectordb

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestDoc 创建用于测试的文档
func createTestDoc(id, tenantID, category string, vector []float32) Document {
	return Document{
		ID:       id,
		TenantID: tenantID,
		Category: category,
		Content:  "knowledge base entry " + id,
		Vector:   vector,
		Metadata: map[string]interface{}{
			"source": "test",
		},
		CreatedAt: time.Now(),
	}
}

// TestMemoryRepository 测试内存向量仓库
func TestMemoryRepository(t *testing.T) {
	config := Config{
		Type:         "memory",
		Dimension:    4,
		DistanceType: Cosine,
	}

	repo, err := NewRepository(config)
	require.NoError(t, err)
	defer repo.Close()

	// 添加文档
	doc1 := createTestDoc("1", "tenant-a", "TECHNICAL", []float32{1, 0, 0, 0})
	doc2 := createTestDoc("2", "tenant-a", "COMPLIANCE", []float32{0, 1, 0, 0})
	doc3 := createTestDoc("3", "tenant-b", "TECHNICAL", []float32{0.9, 0.1, 0, 0})
	shared := createTestDoc("4", "", "TECHNICAL", []float32{0.8, 0.2, 0, 0})

	require.NoError(t, repo.Add(doc1))
	require.NoError(t, repo.AddBatch([]Document{doc2, doc3, shared}))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// 获取文档
	got, err := repo.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", got.TenantID)

	_, err = repo.Get("missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	// 搜索：自身应当排第一且得分接近1
	results, err := repo.Search([]float32{1, 0, 0, 0}, SearchFilter{MaxResults: 4})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "1", results[0].Document.ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.01)

	// 租户过滤：tenant-a只能看到自己的和共享的条目
	results, err = repo.Search([]float32{1, 0, 0, 0}, SearchFilter{
		TenantID:   "tenant-a",
		MaxResults: 10,
	})
	require.NoError(t, err)
	for _, res := range results {
		assert.NotEqual(t, "tenant-b", res.Document.TenantID)
	}

	// 分类过滤
	results, err = repo.Search([]float32{0, 1, 0, 0}, SearchFilter{
		Category:   "COMPLIANCE",
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2", results[0].Document.ID)

	// 删除后搜索不再返回
	require.NoError(t, repo.Delete("1"))
	_, err = repo.Get("1")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	results, err = repo.Search([]float32{1, 0, 0, 0}, SearchFilter{MaxResults: 10})
	require.NoError(t, err)
	for _, res := range results {
		assert.NotEqual(t, "1", res.Document.ID)
	}
}

// TestMemoryRepositoryDeleteByTenant 测试按租户删除
func TestMemoryRepositoryDeleteByTenant(t *testing.T) {
	repo, err := NewMemoryRepository(Config{Dimension: 4, DistanceType: Cosine})
	require.NoError(t, err)

	require.NoError(t, repo.AddBatch([]Document{
		createTestDoc("1", "tenant-a", "TECHNICAL", []float32{1, 0, 0, 0}),
		createTestDoc("2", "tenant-a", "TECHNICAL", []float32{0, 1, 0, 0}),
		createTestDoc("3", "tenant-b", "TECHNICAL", []float32{0, 0, 1, 0}),
	}))

	require.NoError(t, repo.DeleteByTenant("tenant-a"))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = repo.Get("3")
	assert.NoError(t, err)

	// 删除不存在的租户不报错
	assert.NoError(t, repo.DeleteByTenant("tenant-x"))
}

// TestMemoryRepositoryReset 测试索引重建清空
func TestMemoryRepositoryReset(t *testing.T) {
	repo, err := NewMemoryRepository(Config{Dimension: 4, DistanceType: Cosine})
	require.NoError(t, err)

	require.NoError(t, repo.Add(createTestDoc("1", "", "TECHNICAL", []float32{1, 0, 0, 0})))
	require.NoError(t, repo.Reset())

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	results, err := repo.Search([]float32{1, 0, 0, 0}, DefaultSearchFilter())
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TestMemoryRepositoryLargeBatch 测试并行搜索路径
func TestMemoryRepositoryLargeBatch(t *testing.T) {
	repo, err := NewMemoryRepository(Config{Dimension: 4, DistanceType: Cosine})
	require.NoError(t, err)

	docs := make([]Document, 0, 300)
	for i := 0; i < 300; i++ {
		vec := []float32{float32(i%7) + 1, float32(i%11) + 1, float32(i%13) + 1, 1}
		docs = append(docs, createTestDoc(fmt.Sprintf("doc-%d", i), "", "TECHNICAL", vec))
	}
	require.NoError(t, repo.AddBatch(docs))

	results, err := repo.Search([]float32{1, 1, 1, 1}, SearchFilter{MaxResults: 5})
	require.NoError(t, err)
	assert.Len(t, results, 5)

	// 结果按得分降序排列
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

// TestValidateVector 测试向量验证
func TestValidateVector(t *testing.T) {
	assert.ErrorIs(t, ValidateVector(nil, 4), ErrEmptyVector)
	assert.Error(t, ValidateVector([]float32{1, 2}, 4))
	assert.NoError(t, ValidateVector([]float32{1, 2, 3, 4}, 4))
}

// TestDistanceToScore 测试距离到评分的转换
func TestDistanceToScore(t *testing.T) {
	assert.InDelta(t, 1.0, float64(DistanceToScore(0, Cosine)), 1e-6)
	assert.InDelta(t, 0.0, float64(DistanceToScore(1, Cosine)), 1e-6)
	assert.InDelta(t, 1.0, float64(DistanceToScore(1, DotProduct)), 1e-6)
	assert.InDelta(t, 1.0, float64(DistanceToScore(0, Euclidean)), 1e-6)
}

// TestFaissScore 测试Faiss原始距离到评分的转换
func TestFaissScore(t *testing.T) {
	// 内积索引直接返回相似度
	assert.InDelta(t, 0.95, float64(faissScore(0.95, Cosine)), 1e-6)
	assert.InDelta(t, 1.0, float64(faissScore(1.2, Cosine)), 1e-6)
	assert.InDelta(t, 0.0, float64(faissScore(-0.3, Cosine)), 1e-6)
}

// TestMatchTenant 测试租户可见性规则
func TestMatchTenant(t *testing.T) {
	assert.True(t, matchTenant("", ""))
	assert.True(t, matchTenant("", "tenant-a"))
	assert.True(t, matchTenant("tenant-a", ""))
	assert.True(t, matchTenant("tenant-a", "tenant-a"))
	assert.False(t, matchTenant("tenant-b", "tenant-a"))
}
