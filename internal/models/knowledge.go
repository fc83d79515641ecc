package models

import (
	"time"

	"gorm.io/gorm"
)

// KnowledgeBaseItem 知识库条目数据模型
// 存储组织的既有内容，作为应答文本的首选来源
// 数据库是知识库的权威存储，向量索引只是派生缓存
type KnowledgeBaseItem struct {
	ID        string    `gorm:"primaryKey"`                  // 条目ID，主键
	Title     string    `gorm:"not null"`                    // 标题
	Content   string    `gorm:"type:text;not null"`          // 正文内容
	Category  string    `gorm:"size:50;index"`               // 内容类别（可选）
	TenantID  string    `gorm:"size:50;index"`               // 所属租户（可选，空表示全局共享）
	Active    bool      `gorm:"not null;default:true;index"` // 是否生效
	CreatedAt time.Time `gorm:"not null"`                    // 创建时间
	UpdatedAt time.Time `gorm:"not null"`                    // 更新时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (k *KnowledgeBaseItem) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	k.CreatedAt = now
	k.UpdatedAt = now
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (k *KnowledgeBaseItem) BeforeUpdate(tx *gorm.DB) (err error) {
	k.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (KnowledgeBaseItem) TableName() string {
	return "knowledge_base_items"
}
