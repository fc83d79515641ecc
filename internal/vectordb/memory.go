package vectordb

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// MemoryRepository 内存向量仓库实现
// 用于开发和测试环境的简单内存存储
type MemoryRepository struct {
	*BaseRepository                     // 嵌入基础仓库实现
	mu              sync.RWMutex        // 读写锁，确保并发安全
	documents       map[string]Document // 文档存储，ID到文档的映射
	tenantToDocIDs  map[string][]string // 租户ID到文档ID的映射
}

// NewMemoryRepository 创建内存向量仓库
func NewMemoryRepository(config Config) (Repository, error) {
	// 确保维度大于0
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	// 确保距离类型有效
	distType := config.DistanceType
	if distType != Cosine && distType != DotProduct && distType != Euclidean {
		distType = Cosine // 默认使用余弦距离
	}

	// 创建基础仓库
	base := NewBaseRepository(config.Dimension, distType)

	// 创建并返回内存仓库
	return &MemoryRepository{
		BaseRepository: base,
		documents:      make(map[string]Document),
		tenantToDocIDs: make(map[string][]string),
	}, nil
}

// Add 添加单个文档到内存仓库
func (r *MemoryRepository) Add(doc Document) error {
	// 验证向量维度
	if err := ValidateVector(doc.Vector, r.dimension); err != nil {
		return err
	}

	// 如果没有设置创建时间，设置为当前时间
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	// 如果没有初始化元数据，则创建一个空映射
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]interface{})
	}

	// 对于余弦距离，先对向量进行归一化处理
	if r.distType == Cosine {
		doc.Vector = normalizeVector(doc.Vector)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// 存储文档
	r.documents[doc.ID] = doc

	// 更新租户到文档的映射
	r.tenantToDocIDs[doc.TenantID] = append(r.tenantToDocIDs[doc.TenantID], doc.ID)

	return nil
}

// AddBatch 批量添加文档到内存仓库
func (r *MemoryRepository) AddBatch(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	// 使用单个锁进行批处理，避免多次加解锁开销
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range docs {
		doc := &docs[i] // 使用指针避免复制

		// 验证向量维度
		if err := ValidateVector(doc.Vector, r.dimension); err != nil {
			return fmt.Errorf("invalid vector for document %s: %v", doc.ID, err)
		}

		// 设置创建时间（如果未设置）
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = time.Now()
		}

		// 初始化元数据（如果未设置）
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]interface{})
		}

		// 对于余弦距离，对向量进行归一化处理
		if r.distType == Cosine {
			doc.Vector = normalizeVector(doc.Vector)
		}

		// 存储文档
		r.documents[doc.ID] = *doc

		// 更新租户到文档的映射
		r.tenantToDocIDs[doc.TenantID] = append(r.tenantToDocIDs[doc.TenantID], doc.ID)
	}

	return nil
}

// Get 获取单个文档
func (r *MemoryRepository) Get(id string) (Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, exists := r.documents[id]
	if !exists {
		return Document{}, ErrDocumentNotFound
	}

	return doc, nil
}

// Delete 删除单个文档
func (r *MemoryRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, exists := r.documents[id]
	if !exists {
		return ErrDocumentNotFound
	}

	// 删除文档
	delete(r.documents, id)

	// 更新租户到文档映射
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

	return nil
}

// DeleteByTenant 删除指定租户的所有条目
func (r *MemoryRepository) DeleteByTenant(tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 获取属于该租户的所有文档ID
	docIDs, exists := r.tenantToDocIDs[tenantID]
	if !exists {
		// 如果没有找到租户ID，不需要执行任何操作
		return nil
	}

	// 删除所有关联的文档
	for _, id := range docIDs {
		delete(r.documents, id)
	}

	// 删除租户到文档的映射
	delete(r.tenantToDocIDs, tenantID)

	return nil
}

// Reset 清空索引及全部文档
func (r *MemoryRepository) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.documents = make(map[string]Document)
	r.tenantToDocIDs = make(map[string][]string)

	return nil
}

// Search 相似度搜索
// 对大量文档使用并行计算加速
func (r *MemoryRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	// 验证向量
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}

	// 对于余弦距离，对查询向量进行归一化处理
	if r.distType == Cosine {
		vector = normalizeVector(vector)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// 过滤文档
	filteredDocs := make([]Document, 0, len(r.documents))
	for _, doc := range r.documents {
		if matchDocument(doc, filter) {
			filteredDocs = append(filteredDocs, doc)
		}
	}

	// 如果没有符合条件的文档，返回空结果
	if len(filteredDocs) == 0 {
		return []SearchResult{}, nil
	}

	// 根据CPU核心数量决定线程数，但不超过可用核心数的80%
	threads := runtime.NumCPU() * 4 / 5
	if threads < 1 {
		threads = 1
	}
	// 对于小量文档不使用并发
	if len(filteredDocs) < 100 || threads == 1 {
		return r.serialSearch(vector, filteredDocs, filter)
	}
	return r.parallelSearch(vector, filteredDocs, filter, threads)
}

// serialSearch 串行搜索实现
func (r *MemoryRepository) serialSearch(vector []float32, docs []Document, filter SearchFilter) ([]SearchResult, error) {
	results := make([]SearchResult, 0, len(docs))

	// 计算所有向量距离
	for _, doc := range docs {
		dist, err := ComputeDistance(vector, doc.Vector, r.distType)
		if err != nil {
			return nil, fmt.Errorf("error computing distance: %v", err)
		}

		// 计算得分，转换取决于距离类型
		score := DistanceToScore(dist, r.distType)

		// 只保留高于最小分数的结果
		if score >= filter.MinScore {
			results = append(results, SearchResult{
				Document: doc,
				Score:    score,
				Distance: dist,
			})
		}
	}

	// 按得分排序（从高到低）
	SortSearchResults(results)

	// 只返回前N个结果
	if filter.MaxResults > 0 && len(results) > filter.MaxResults {
		results = results[:filter.MaxResults]
	}

	return results, nil
}

// parallelSearch 并行搜索实现
func (r *MemoryRepository) parallelSearch(vector []float32, docs []Document, filter SearchFilter, threads int) ([]SearchResult, error) {
	// 计算每个线程处理的文档数量
	docsPerThread := (len(docs) + threads - 1) / threads

	// 使用通道收集结果
	resultsChan := make(chan []SearchResult, threads)
	errorsChan := make(chan error, threads)

	launched := 0
	for i := 0; i < threads; i++ {
		start := i * docsPerThread
		end := start + docsPerThread
		if end > len(docs) {
			end = len(docs)
		}

		if start >= end {
			continue
		}
		launched++

		go func(start, end int) {
			threadResults := make([]SearchResult, 0, end-start)

			for j := start; j < end; j++ {
				doc := docs[j]

				dist, err := ComputeDistance(vector, doc.Vector, r.distType)
				if err != nil {
					errorsChan <- fmt.Errorf("error computing distance: %v", err)
					return
				}

				score := DistanceToScore(dist, r.distType)

				if score >= filter.MinScore {
					threadResults = append(threadResults, SearchResult{
						Document: doc,
						Score:    score,
						Distance: dist,
					})
				}
			}

			resultsChan <- threadResults
			errorsChan <- nil
		}(start, end)
	}

	// 收集结果和错误
	var allResults []SearchResult
	for i := 0; i < launched; i++ {
		if err := <-errorsChan; err != nil {
			return nil, err
		}
		allResults = append(allResults, <-resultsChan...)
	}

	// 排序并截取前N个结果
	SortSearchResults(allResults)

	if filter.MaxResults > 0 && len(allResults) > filter.MaxResults {
		allResults = allResults[:filter.MaxResults]
	}

	return allResults, nil
}

// Count 获取文档总数
func (r *MemoryRepository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.documents), nil
}

// Close 关闭数据库连接
// 对于内存实现这是一个空操作
func (r *MemoryRepository) Close() error {
	return nil
}

// GetDimension 返回向量维数
func (r *MemoryRepository) GetDimension() int {
	return r.dimension
}

// 在包初始化时注册内存仓库
func init() {
	RegisterRepository("memory", NewMemoryRepository)
}
