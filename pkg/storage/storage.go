package storage

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ErrFileNotFound 按ID查找不到文件时返回
// 调用方用errors.Is判断，不解析错误文本
var ErrFileNotFound = errors.New("file not found")

// FileInfo 标书文件元数据
type FileInfo struct {
	ID         string    // 文件唯一标识符，上传后作为文档ID使用
	Name       string    // 原始文件名
	Size       int64     // 文件大小(字节)
	MimeType   string    // 文件MIME类型
	Path       string    // 内部存储路径(实现相关)
	UploadedAt time.Time // 上传时间
}

// Storage 标书文件存储接口
// 上传的标书原件保存在这里，处理流水线按文档ID读回原文
type Storage interface {
	// Save 保存文件并返回文件信息
	Save(reader io.Reader, filename string) (FileInfo, error)

	// Get 按ID读取文件内容，不存在时返回ErrFileNotFound
	Get(id string) (io.ReadCloser, error)

	// Delete 按ID删除文件
	Delete(id string) error

	// List 列出所有文件
	List() ([]FileInfo, error)

	// Exists 检查文件是否存在
	Exists(id string) (bool, error)
}

// Factory 存储实现的工厂函数
type Factory func(cfg interface{}) (Storage, error)

// DetectMimeType 根据扩展名判断标书文件的MIME类型
// 覆盖系统支持的上传格式，未知扩展名按二进制流处理
func DetectMimeType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".doc":
		return "application/msword"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// datedObjectName 按上传日期组织的存储名，形如 2026/08/29/<id><ext>
// 斜杠分隔，本地存储转换为平台路径后使用
func datedObjectName(id string, ext string, now time.Time) string {
	return fmt.Sprintf("%04d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), id, ext)
}
