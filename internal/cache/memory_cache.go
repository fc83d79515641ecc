package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 基于go-cache的进程内缓存
// 单实例部署的默认选择，进程重启后应答合成结果需要重新生成
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache(config Config) (Cache, error) {
	defaults := DefaultConfig()

	ttl := config.DefaultTTL
	if ttl == 0 {
		ttl = defaults.DefaultTTL
	}

	cleanup := config.CleanupInterval
	if cleanup == 0 {
		cleanup = defaults.CleanupInterval
	}

	return &MemoryCache{
		store: gocache.New(ttl, cleanup),
	}, nil
}

// Get 读取缓存值
// 历史上只存字符串值，类型不符视为未命中
func (m *MemoryCache) Get(key string) (string, bool, error) {
	value, found := m.store.Get(key)
	if !found {
		return "", false, nil
	}

	str, ok := value.(string)
	if !ok {
		return "", false, nil
	}
	return str, true, nil
}

// Set 写入缓存值
func (m *MemoryCache) Set(key string, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	m.store.Set(key, value, ttl)
	return nil
}

// Delete 删除单个缓存键
func (m *MemoryCache) Delete(key string) error {
	m.store.Delete(key)
	return nil
}

// DeleteByPrefix 删除指定前缀下的所有缓存键
// 用于需求被删除或文档重新处理后使其全部文体组合的应答失效
func (m *MemoryCache) DeleteByPrefix(prefix string) (int, error) {
	removed := 0
	for key := range m.store.Items() {
		if strings.HasPrefix(key, prefix) {
			m.store.Delete(key)
			removed++
		}
	}
	return removed, nil
}

// Clear 清空所有缓存
func (m *MemoryCache) Clear() error {
	m.store.Flush()
	return nil
}

func init() {
	RegisterCache("memory", NewMemoryCache)
}
