package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalStorage 本地文件系统存储
// 文件按上传日期分目录存放，ID到路径的映射在进程内做索引，
// 进程启动前已存在的文件在首次访问时通过目录遍历补录
type LocalStorage struct {
	basePath string

	mu    sync.RWMutex
	paths map[string]string // 文档ID -> 绝对路径
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	Path string // 本地存储根目录
}

// NewLocalStorage 创建本地存储实例
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: absPath,
		paths:    make(map[string]string),
	}, nil
}

// Save 保存标书文件
// 生成uuid作为文档ID，按上传日期建立子目录
func (s *LocalStorage) Save(reader io.Reader, filename string) (FileInfo, error) {
	id := uuid.New().String()
	now := time.Now()

	relPath := filepath.FromSlash(datedObjectName(id, filepath.Ext(filename), now))
	fullPath := filepath.Join(s.basePath, relPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return FileInfo{}, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	size, err := io.Copy(file, reader)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to write file: %w", err)
	}

	s.mu.Lock()
	s.paths[id] = fullPath
	s.mu.Unlock()

	return FileInfo{
		ID:         id,
		Name:       filename,
		Size:       size,
		MimeType:   DetectMimeType(filename),
		Path:       relPath,
		UploadedAt: now,
	}, nil
}

// Get 按ID读取文件内容
func (s *LocalStorage) Get(id string) (io.ReadCloser, error) {
	fullPath, err := s.resolvePath(id)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s: %w", id, ErrFileNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete 按ID删除文件
func (s *LocalStorage) Delete(id string) error {
	fullPath, err := s.resolvePath(id)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	s.mu.Lock()
	delete(s.paths, id)
	s.mu.Unlock()

	return nil
}

// List 列出所有已保存的标书文件
func (s *LocalStorage) List() ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.Walk(s.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		fileName := filepath.Base(path)
		files = append(files, FileInfo{
			ID:         strings.TrimSuffix(fileName, filepath.Ext(fileName)),
			Name:       fileName,
			Size:       info.Size(),
			MimeType:   DetectMimeType(fileName),
			Path:       relPath,
			UploadedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return files, nil
}

// Exists 检查文件是否存在
func (s *LocalStorage) Exists(id string) (bool, error) {
	_, err := s.resolvePath(id)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// resolvePath 解析文档ID对应的绝对路径
// 索引未命中时遍历存储目录补录，仍未找到返回ErrFileNotFound
func (s *LocalStorage) resolvePath(id string) (string, error) {
	s.mu.RLock()
	fullPath, ok := s.paths[id]
	s.mu.RUnlock()

	if ok {
		if _, err := os.Stat(fullPath); err == nil {
			return fullPath, nil
		}
		// 文件在索引之后被外部删除，剔除过期条目
		s.mu.Lock()
		delete(s.paths, id)
		s.mu.Unlock()
	}

	fullPath, err := s.scanForID(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.paths[id] = fullPath
	s.mu.Unlock()

	return fullPath, nil
}

// scanForID 遍历存储目录查找文件名匹配ID的文件
func (s *LocalStorage) scanForID(id string) (string, error) {
	var match string

	err := filepath.Walk(s.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		fileName := filepath.Base(path)
		if strings.TrimSuffix(fileName, filepath.Ext(fileName)) == id {
			match = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("error searching for file: %w", err)
	}

	if match == "" {
		return "", fmt.Errorf("file %s: %w", id, ErrFileNotFound)
	}

	return match, nil
}
