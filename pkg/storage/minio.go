package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// metaOriginalName 对象元数据中保存的原始文件名键
const metaOriginalName = "Original-Name"

// MinioStorage 基于MinIO对象存储的实现
// 多实例部署时各API节点和Worker共享同一个桶里的标书原件
type MinioStorage struct {
	client     *minio.Client
	bucketName string
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
}

// NewMinioStorage 创建MinIO存储实例，桶不存在时自动创建
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStorage{
		client:     client,
		bucketName: cfg.Bucket,
	}, nil
}

// Save 流式上传标书文件
// 大小传-1交给客户端做分片上传，标书PDF可能上百MB，不落内存
func (s *MinioStorage) Save(reader io.Reader, filename string) (FileInfo, error) {
	id := uuid.New().String()
	now := time.Now()

	objectName := datedObjectName(id, filepath.Ext(filename), now)
	contentType := DetectMimeType(filename)

	info, err := s.client.PutObject(
		context.Background(),
		s.bucketName,
		objectName,
		reader,
		-1,
		minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: map[string]string{metaOriginalName: filename},
		},
	)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to upload file: %w", err)
	}

	return FileInfo{
		ID:         id,
		Name:       filename,
		Size:       info.Size,
		MimeType:   contentType,
		Path:       objectName,
		UploadedAt: now,
	}, nil
}

// Get 按ID读取文件内容
func (s *MinioStorage) Get(id string) (io.ReadCloser, error) {
	object, err := s.findObject(id)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(
		context.Background(),
		s.bucketName,
		object.Key,
		minio.GetObjectOptions{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	return obj, nil
}

// Delete 按ID删除文件
func (s *MinioStorage) Delete(id string) error {
	object, err := s.findObject(id)
	if err != nil {
		return err
	}

	err = s.client.RemoveObject(
		context.Background(),
		s.bucketName,
		object.Key,
		minio.RemoveObjectOptions{},
	)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// List 列出桶中所有标书文件
func (s *MinioStorage) List() ([]FileInfo, error) {
	var files []FileInfo

	objectCh := s.client.ListObjects(
		context.Background(),
		s.bucketName,
		minio.ListObjectsOptions{Recursive: true},
	)

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}
		files = append(files, fileInfoFromObject(object))
	}

	return files, nil
}

// Exists 检查文件是否存在
func (s *MinioStorage) Exists(id string) (bool, error) {
	_, err := s.findObject(id)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// findObject 遍历桶查找对象名匹配ID的对象
// 对象按日期分目录，没有按ID直接寻址的键，只能前缀遍历
func (s *MinioStorage) findObject(id string) (minio.ObjectInfo, error) {
	objectCh := s.client.ListObjects(
		context.Background(),
		s.bucketName,
		minio.ListObjectsOptions{Recursive: true},
	)

	for object := range objectCh {
		if object.Err != nil {
			return minio.ObjectInfo{}, fmt.Errorf("error listing objects: %w", object.Err)
		}
		if objectID(object.Key) == id {
			return object, nil
		}
	}

	return minio.ObjectInfo{}, fmt.Errorf("file %s: %w", id, ErrFileNotFound)
}

// objectID 从对象键提取文档ID
func objectID(key string) string {
	fileName := filepath.Base(key)
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// fileInfoFromObject 由对象信息构建文件元数据
func fileInfoFromObject(object minio.ObjectInfo) FileInfo {
	fileName := filepath.Base(object.Key)
	return FileInfo{
		ID:         objectID(object.Key),
		Name:       fileName,
		Size:       object.Size,
		MimeType:   DetectMimeType(fileName),
		Path:       object.Key,
		UploadedAt: object.LastModified,
	}
}
