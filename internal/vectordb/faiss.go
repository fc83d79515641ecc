package vectordb

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DataIntelligenceCrew/go-faiss"
)

// FaissRepository 实现基于Faiss的向量仓库
// 使用平坦索引（精确搜索），索引和条目元数据持久化到文件
type FaissRepository struct {
	*BaseRepository
	mu             sync.RWMutex
	index          faiss.Index
	documents      map[string]Document
	tenantToDocIDs map[string][]string
	idToPosition   map[string]int
	positionToID   map[int]string
	indexPath      string
	metaPath       string
	dimension      int
	distanceType   DistanceType
	saveOnClose    bool
	autoSave       bool
	autoSaveCount  int
	operationCount int
}

// NewFaissRepository 创建新的Faiss向量仓库
func NewFaissRepository(config Config) (Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	if config.Path != "" && !config.InMemory {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
	}

	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}

	base := NewBaseRepository(config.Dimension, distType)
	indexPath := config.Path
	metaPath := ""
	if indexPath != "" {
		metaPath = indexPath + ".meta.json"
	}

	repo := &FaissRepository{
		BaseRepository: base,
		documents:      make(map[string]Document),
		tenantToDocIDs: make(map[string][]string),
		idToPosition:   make(map[string]int),
		positionToID:   make(map[int]string),
		indexPath:      indexPath,
		metaPath:       metaPath,
		dimension:      config.Dimension,
		distanceType:   distType,
		saveOnClose:    true,
		autoSave:       true,
		autoSaveCount:  100,
	}

	var index faiss.Index
	var err error

	// 尝试从文件加载索引
	if indexPath != "" && !config.InMemory && fileExists(indexPath) {
		index, err = faiss.ReadIndex(indexPath, 0)
		if err != nil {
			if config.CreateIfNotExists {
				index, err = createFaissIndex(config.Dimension, distType)
				if err != nil {
					return nil, fmt.Errorf("failed to create Faiss index: %v", err)
				}
			} else {
				return nil, fmt.Errorf("failed to read index file: %v", err)
			}
		} else {
			if err := repo.loadMetadata(metaPath); err != nil {
				return nil, fmt.Errorf("failed to load documents metadata: %v", err)
			}
		}
	} else {
		index, err = createFaissIndex(config.Dimension, distType)
		if err != nil {
			return nil, fmt.Errorf("failed to create Faiss index: %v", err)
		}
	}

	repo.index = index
	return repo, nil
}

// createFaissIndex 创建Faiss索引
func createFaissIndex(dimension int, distType DistanceType) (faiss.Index, error) {
	var metric int
	switch distType {
	case Cosine, DotProduct:
		metric = faiss.MetricInnerProduct
	case Euclidean:
		metric = faiss.MetricL2
	default:
		metric = faiss.MetricL2
	}
	return faiss.NewIndexFlat(dimension, metric)
}

// faissScore 将Faiss返回的原始距离转换为[0,1]评分
// 内积索引直接返回相似度，L2索引返回平方距离
func faissScore(dist float32, distType DistanceType) float32 {
	switch distType {
	case Cosine:
		// 归一化向量的内积就是余弦相似度
		if dist > 1 {
			return 1
		}
		if dist < 0 {
			return 0
		}
		return dist
	case DotProduct:
		return (dist + 1) / 2
	case Euclidean:
		return float32(math.Exp(-math.Sqrt(float64(dist))))
	default:
		return 0
	}
}

// Add 添加单个文档到仓库
func (r *FaissRepository) Add(doc Document) error {
	if err := ValidateVector(doc.Vector, r.dimension); err != nil {
		return err
	}
	if r.distanceType == Cosine {
		doc.Vector = normalizeVector(doc.Vector)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]interface{})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nextPos := int(r.index.Ntotal())
	err := r.index.Add(doc.Vector)
	if err != nil {
		return fmt.Errorf("failed to add vector to index: %v", err)
	}

	r.documents[doc.ID] = doc
	r.idToPosition[doc.ID] = nextPos
	r.positionToID[nextPos] = doc.ID
	r.tenantToDocIDs[doc.TenantID] = append(r.tenantToDocIDs[doc.TenantID], doc.ID)
	r.operationCount++

	if r.autoSave && r.operationCount >= r.autoSaveCount {
		if err := r.saveIndex(); err != nil {
			return fmt.Errorf("auto-save failed: %v", err)
		}
		r.operationCount = 0
	}
	return nil
}

// AddBatch 批量添加文档到仓库
func (r *FaissRepository) AddBatch(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	for i := range docs {
		if err := ValidateVector(docs[i].Vector, r.dimension); err != nil {
			return fmt.Errorf("invalid vector for document %s: %v", docs[i].ID, err)
		}
		if r.distanceType == Cosine {
			docs[i].Vector = normalizeVector(docs[i].Vector)
		}
		if docs[i].CreatedAt.IsZero() {
			docs[i].CreatedAt = time.Now()
		}
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]interface{})
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	startPos := int(r.index.Ntotal())
	for i := range docs {
		if err := r.index.Add(docs[i].Vector); err != nil {
			return fmt.Errorf("failed to add vector to index: %v", err)
		}
	}

	for i, doc := range docs {
		position := startPos + i
		r.documents[doc.ID] = doc
		r.idToPosition[doc.ID] = position
		r.positionToID[position] = doc.ID
		r.tenantToDocIDs[doc.TenantID] = append(r.tenantToDocIDs[doc.TenantID], doc.ID)
	}
	r.operationCount += len(docs)
	if r.autoSave && r.operationCount >= r.autoSaveCount {
		if err := r.saveIndex(); err != nil {
			return fmt.Errorf("auto-save failed: %v", err)
		}
		r.operationCount = 0
	}
	return nil
}

// Get 获取单个文档
func (r *FaissRepository) Get(id string) (Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, exists := r.documents[id]
	if !exists {
		return Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

// Delete 删除单个文档
// 平坦索引不支持原地删除，向量留在索引中作为墓碑，
// 元数据删除后搜索结果不再返回该条目
func (r *FaissRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, exists := r.documents[id]
	if !exists {
		return ErrDocumentNotFound
	}
	if pos, ok := r.idToPosition[id]; ok {
		delete(r.positionToID, pos)
	}
	delete(r.documents, id)
	delete(r.idToPosition, id)
	if docIDs, ok := r.tenantToDocIDs[doc.TenantID]; ok {
		updatedIDs := make([]string, 0, len(docIDs)-1)
		for _, docID := range docIDs {
			if docID != id {
				updatedIDs = append(updatedIDs, docID)
			}
		}
		if len(updatedIDs) == 0 {
			delete(r.tenantToDocIDs, doc.TenantID)
		} else {
			r.tenantToDocIDs[doc.TenantID] = updatedIDs
		}
	}
	r.operationCount++
	return nil
}

// DeleteByTenant 删除指定租户的所有条目
func (r *FaissRepository) DeleteByTenant(tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	docIDs, exists := r.tenantToDocIDs[tenantID]
	if !exists {
		return nil
	}
	for _, id := range docIDs {
		if pos, ok := r.idToPosition[id]; ok {
			delete(r.positionToID, pos)
		}
		delete(r.documents, id)
		delete(r.idToPosition, id)
	}
	delete(r.tenantToDocIDs, tenantID)
	r.operationCount += len(docIDs)
	return nil
}

// Reset 丢弃现有索引并创建空索引，用于全量重建
func (r *FaissRepository) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, err := createFaissIndex(r.dimension, r.distanceType)
	if err != nil {
		return fmt.Errorf("failed to create Faiss index: %v", err)
	}

	r.index = index
	r.documents = make(map[string]Document)
	r.tenantToDocIDs = make(map[string][]string)
	r.idToPosition = make(map[string]int)
	r.positionToID = make(map[int]string)
	r.operationCount = 0
	return nil
}

// Search 相似度搜索
// 带租户过滤时扩大候选范围，过滤后再截取前N个结果
func (r *FaissRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	if r.distanceType == Cosine {
		vector = normalizeVector(vector)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.documents) == 0 {
		return []SearchResult{}, nil
	}
	k := filter.MaxResults
	if k <= 0 {
		k = 10
	}
	queryLimit := k * 2
	if filter.TenantID != "" {
		// 过滤可能丢弃大量候选，预取更多
		queryLimit = k * 10
	}
	total := int(r.index.Ntotal())
	if queryLimit > total {
		queryLimit = total
	}
	if queryLimit == 0 {
		return []SearchResult{}, nil
	}
	distances, indices, err := r.index.Search(vector, int64(queryLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %v", err)
	}
	var results []SearchResult
	for i := 0; i < len(indices); i++ {
		idx := indices[i]
		if idx < 0 {
			continue
		}
		docID, found := r.positionToID[int(idx)]
		if !found {
			// 已删除的墓碑位置
			continue
		}
		doc, exists := r.documents[docID]
		if !exists {
			continue
		}
		if !matchDocument(doc, filter) {
			continue
		}
		dist := distances[i]
		score := faissScore(dist, r.distanceType)
		if score < filter.MinScore {
			continue
		}
		results = append(results, SearchResult{
			Document: doc,
			Score:    score,
			Distance: dist,
		})
		if len(results) >= k {
			break
		}
	}
	SortSearchResults(results)
	return results, nil
}

// Count 获取文档总数
func (r *FaissRepository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.documents), nil
}

// Close 关闭仓库
func (r *FaissRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveOnClose && r.indexPath != "" {
		if err := r.saveIndex(); err != nil {
			return fmt.Errorf("failed to save index on close: %v", err)
		}
	}
	return nil
}

// GetDimension 返回向量维数
func (r *FaissRepository) GetDimension() int {
	return r.dimension
}

// saveIndex 保存索引和文档数据到文件
func (r *FaissRepository) saveIndex() error {
	if r.indexPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.indexPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %v", err)
	}
	if err := faiss.WriteIndex(r.index, r.indexPath); err != nil {
		return fmt.Errorf("failed to write index to file: %v", err)
	}
	return r.saveMetadata()
}

// faissMetadata 索引旁存的条目元数据文件结构
type faissMetadata struct {
	Documents      map[string]Document `json:"documents"`
	TenantToDocIDs map[string][]string `json:"tenant_to_doc_ids"`
	IDToPosition   map[string]int      `json:"id_to_position"`
	OperationCount int                 `json:"operation_count"`
}

// saveMetadata 保存文档元数据到文件
func (r *FaissRepository) saveMetadata() error {
	if r.metaPath == "" {
		return nil
	}
	metadata := faissMetadata{
		Documents:      r.documents,
		TenantToDocIDs: r.tenantToDocIDs,
		IDToPosition:   r.idToPosition,
		OperationCount: r.operationCount,
	}
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(r.metaPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %v", err)
	}
	return nil
}

// loadMetadata 从文件加载文档元数据
func (r *FaissRepository) loadMetadata(path string) error {
	if path == "" {
		return nil
	}
	if !fileExists(path) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read metadata file: %v", err)
	}
	var metadata faissMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %v", err)
	}
	r.documents = metadata.Documents
	r.tenantToDocIDs = metadata.TenantToDocIDs
	r.idToPosition = metadata.IDToPosition
	r.operationCount = metadata.OperationCount
	r.positionToID = make(map[int]string, len(metadata.IDToPosition))
	for id, pos := range metadata.IDToPosition {
		r.positionToID[pos] = id
	}
	return nil
}

// fileExists 检查文件是否存在
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func init() {
	RegisterRepository("faiss", NewFaissRepository)
}
