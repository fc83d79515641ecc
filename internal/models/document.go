package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DocumentStatus 标书文档处理状态类型
type DocumentStatus string

const (
	// DocStatusUploaded 文档已上传，等待处理
	DocStatusUploaded DocumentStatus = "UPLOADED"
	// DocStatusParsing 文档解析中
	DocStatusParsing DocumentStatus = "PARSING"
	// DocStatusExtracting 需求条目提取中
	DocStatusExtracting DocumentStatus = "EXTRACTING"
	// DocStatusMatching 知识库匹配中
	DocStatusMatching DocumentStatus = "MATCHING"
	// DocStatusReady 处理完成，结果可用
	DocStatusReady DocumentStatus = "READY"
	// DocStatusError 处理失败
	DocStatusError DocumentStatus = "ERROR"
)

// statusRank 状态在流水线中的序号，用于校验状态只能向前推进
var statusRank = map[DocumentStatus]int{
	DocStatusUploaded:   0,
	DocStatusParsing:    1,
	DocStatusExtracting: 2,
	DocStatusMatching:   3,
	DocStatusReady:      4,
}

// CanTransition 判断状态转换是否合法
// ERROR可以从任何非终止状态进入；其余状态只能沿流水线顺序前进
func CanTransition(from, to DocumentStatus) bool {
	if from == to {
		return true
	}
	if to == DocStatusError {
		return from != DocStatusReady && from != DocStatusError
	}
	fromRank, ok1 := statusRank[from]
	toRank, ok2 := statusRank[to]
	if !ok1 || !ok2 {
		return false
	}
	return toRank > fromRank
}

// StatusLabel 返回状态对应的进度描述文案
func StatusLabel(status DocumentStatus) string {
	switch status {
	case DocStatusUploaded:
		return "Uploaded, waiting for processing"
	case DocStatusParsing:
		return "Extracting text from document"
	case DocStatusExtracting:
		return "Identifying requirements"
	case DocStatusMatching:
		return "Matching against knowledge base"
	case DocStatusReady:
		return "Processing complete"
	case DocStatusError:
		return "Processing failed"
	default:
		return "Unknown"
	}
}

// Document 标书文档数据模型
// 记录上传的招标文件及其处理进度
type Document struct {
	ID           string         `gorm:"primaryKey"`         // 文档ID，主键
	FileName     string         `gorm:"not null"`           // 文件名
	FileType     string         `gorm:"not null"`           // 文件类型（PDF/DOCX/TXT/MD）
	FilePath     string         `gorm:"not null"`           // 存储路径
	FileSize     int64          `gorm:"not null"`           // 文件大小（字节）
	Status       DocumentStatus `gorm:"not null;index"`     // 处理状态
	Progress     int            `gorm:"not null;default:0"` // 处理进度（0-100）
	ErrorMessage string         `gorm:"type:text"`          // 错误信息
	TenantID     string         `gorm:"size:50;index"`      // 所属租户（可选）
	UploadedAt   time.Time      `gorm:"not null;index"`     // 上传时间
	ProcessedAt  *time.Time     `gorm:"index"`              // 处理完成时间
	UpdatedAt    time.Time      `gorm:"not null;index"`     // 更新时间
	Metadata     datatypes.JSON `gorm:"type:json"`          // 解析元数据，JSON格式
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (d *Document) BeforeCreate(tx *gorm.DB) (err error) {
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now()
	}
	d.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (d *Document) BeforeUpdate(tx *gorm.DB) (err error) {
	d.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (Document) TableName() string {
	return "documents"
}
