package repository

import "github.com/fyerfyer/tender-response-system/internal/models"

// DocumentRepository 标书文档仓储接口
// 负责文档元数据、需求条目和匹配结果的存储和检索
type DocumentRepository interface {
	// Create 创建文档记录
	Create(doc *models.Document) error

	// Update 更新文档记录
	Update(doc *models.Document) error

	// GetByID 根据ID获取文档
	GetByID(id string) (*models.Document, error)

	// List 列出文档列表，支持分页和筛选
	List(offset, limit int, filters map[string]interface{}) ([]*models.Document, int64, error)

	// Delete 删除文档及其关联的需求和匹配记录
	Delete(id string) error

	// UpdateStatus 更新文档处理状态
	UpdateStatus(id string, status models.DocumentStatus, errorMsg string) error

	// UpdateProgress 更新文档处理进度
	UpdateProgress(id string, progress int) error

	// SaveRequirements 批量保存需求条目
	SaveRequirements(reqs []*models.Requirement) error

	// GetRequirements 获取文档的所有需求条目
	GetRequirements(docID string) ([]*models.Requirement, error)

	// GetRequirementByID 根据ID获取需求条目
	GetRequirementByID(id string) (*models.Requirement, error)

	// CountRequirements 统计文档的需求数量
	CountRequirements(docID string) (int, error)

	// DeleteRequirements 删除文档的所有需求条目
	DeleteRequirements(docID string) error

	// SaveMatches 批量保存匹配记录，替换文档原有的匹配结果
	SaveMatches(docID string, matches []*models.MatchRecord) error

	// GetMatches 获取文档的所有匹配记录
	GetMatches(docID string) ([]*models.MatchRecord, error)

	// GetMatchesByRequirement 获取单个需求的匹配记录
	GetMatchesByRequirement(reqID string) ([]*models.MatchRecord, error)

	// SaveSummary 保存或更新文档的匹配摘要
	SaveSummary(summary *models.MatchSummary) error

	// GetSummary 获取文档的匹配摘要
	GetSummary(docID string) (*models.MatchSummary, error)
}

// KnowledgeBaseRepository 知识库条目仓储接口
// 数据库中的条目是权威数据，向量索引只是派生缓存
type KnowledgeBaseRepository interface {
	// Create 创建知识库条目
	Create(item *models.KnowledgeBaseItem) error

	// Update 更新知识库条目
	Update(item *models.KnowledgeBaseItem) error

	// GetByID 根据ID获取知识库条目
	GetByID(id string) (*models.KnowledgeBaseItem, error)

	// List 列出知识库条目，支持分页和筛选
	List(offset, limit int, filters map[string]interface{}) ([]*models.KnowledgeBaseItem, int64, error)

	// ListActive 列出所有启用的条目，用于索引重建
	ListActive(tenantID string) ([]*models.KnowledgeBaseItem, error)

	// Delete 删除知识库条目
	Delete(id string) error
}

// ResponseRepository 应答内容仓储接口
type ResponseRepository interface {
	// Create 创建应答记录
	Create(resp *models.Response) error

	// Update 更新应答记录
	Update(resp *models.Response) error

	// GetByID 根据ID获取应答
	GetByID(id string) (*models.Response, error)

	// GetByRequirement 获取需求对应的应答
	GetByRequirement(reqID string) (*models.Response, error)

	// ListByDocument 列出文档的所有应答
	ListByDocument(docID string) ([]*models.Response, error)

	// UpdateStatus 更新应答审核状态
	UpdateStatus(id string, status models.ResponseStatus) error

	// Delete 删除应答记录
	Delete(id string) error
}
