package models

import (
	"time"

	"gorm.io/gorm"
)

// RequirementCategory 需求条目类别
type RequirementCategory string

const (
	// CategoryEligibility 资格类需求（资质、经验、财务能力）
	CategoryEligibility RequirementCategory = "ELIGIBILITY"
	// CategoryTechnical 技术类需求（系统、方案、性能指标）
	CategoryTechnical RequirementCategory = "TECHNICAL"
	// CategoryCompliance 合规类需求（文件提交、声明、承诺）
	CategoryCompliance RequirementCategory = "COMPLIANCE"
)

// Requirement 需求条目数据模型
// 存储从标书文档中提取的单条需求
type Requirement struct {
	ID           string              `gorm:"primaryKey"`         // 需求ID，主键
	DocumentID   string              `gorm:"not null;index"`     // 所属文档ID
	Text         string              `gorm:"type:text;not null"` // 需求原文
	Category     RequirementCategory `gorm:"not null;size:20"`   // 类别
	SubCategory  string              `gorm:"size:50"`            // 子类别（可选）
	Confidence   float64             `gorm:"not null"`           // 分类置信度（0-1）
	PageNumber   *int                `gorm:""`                   // 页码（可选）
	ExtractOrder int                 `gorm:"not null"`           // 提取顺序，文档内单调递增
	CreatedAt    time.Time           `gorm:"not null"`           // 创建时间
	UpdatedAt    time.Time           `gorm:"not null"`           // 更新时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (r *Requirement) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// TableName 明确指定表名
func (Requirement) TableName() string {
	return "requirements"
}

// MatchRecord 需求与知识库条目的匹配记录
type MatchRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"` // 主键ID
	DocumentID     string    `gorm:"not null;index"`           // 所属文档ID
	RequirementID  string    `gorm:"not null;index"`           // 需求ID
	KBItemID       string    `gorm:"not null;size:50"`         // 知识库条目ID
	MatchedContent string    `gorm:"type:text"`                // 匹配内容（截取）
	Score          float32   `gorm:"not null"`                 // 相似度得分（0-1）
	Rank           int       `gorm:"not null"`                 // 排名（1起，稠密无间隔）
	CreatedAt      time.Time `gorm:"not null"`                 // 创建时间
}

// TableName 明确指定表名
func (MatchRecord) TableName() string {
	return "match_records"
}

// MatchSummary 文档级匹配汇总统计
type MatchSummary struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement"` // 主键ID
	DocumentID          string    `gorm:"not null;uniqueIndex"`     // 所属文档ID
	EligibilityMatch    float64   `gorm:"not null"`                 // 资格类平均匹配度（0-100）
	TechnicalMatch      float64   `gorm:"not null"`                 // 技术类平均匹配度（0-100）
	ComplianceMatch     float64   `gorm:"not null"`                 // 合规类平均匹配度（0-100）
	OverallMatch        float64   `gorm:"not null"`                 // 总体匹配度（类别等权平均）
	TotalRequirements   int       `gorm:"not null"`                 // 需求总数
	MatchedRequirements int       `gorm:"not null"`                 // 匹配度≥50%的需求数
	CreatedAt           time.Time `gorm:"not null"`                 // 创建时间
}

// TableName 明确指定表名
func (MatchSummary) TableName() string {
	return "match_summaries"
}
