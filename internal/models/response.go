package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ResponseStatus 应答草稿状态
type ResponseStatus string

const (
	// ResponseStatusDraft 草稿
	ResponseStatusDraft ResponseStatus = "DRAFT"
	// ResponseStatusInReview 待人工审核
	ResponseStatusInReview ResponseStatus = "IN_REVIEW"
	// ResponseStatusApproved 审核通过
	ResponseStatusApproved ResponseStatus = "APPROVED"
)

// Response 需求应答数据模型
// 存储为单条需求生成的应答文本及其内容来源审计信息
type Response struct {
	ID            string         `gorm:"primaryKey"`         // 应答ID，主键
	DocumentID    string         `gorm:"not null;index"`     // 所属文档ID
	RequirementID string         `gorm:"not null;index"`     // 需求ID
	Text          string         `gorm:"type:text;not null"` // 应答文本
	Provenance    datatypes.JSON `gorm:"type:json"`          // 内容来源区间，JSON格式
	KBPercentage  float64        `gorm:"not null"`           // 知识库内容占比（0-100）
	AIPercentage  float64        `gorm:"not null"`           // AI生成内容占比（0-100）
	GatePassed    bool           `gorm:"not null"`           // 是否通过AI占比阈值
	NeedsReview   bool           `gorm:"not null"`           // 是否需要人工复查（无匹配时置位）
	Status        ResponseStatus `gorm:"not null;size:20"`   // 审核状态
	CreatedAt     time.Time      `gorm:"not null"`           // 创建时间
	UpdatedAt     time.Time      `gorm:"not null"`           // 更新时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (r *Response) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = ResponseStatusDraft
	}
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (r *Response) BeforeUpdate(tx *gorm.DB) (err error) {
	r.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (Response) TableName() string {
	return "responses"
}
