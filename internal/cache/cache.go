package cache

import (
	"strings"
	"time"
)

// Cache 应答合成结果缓存接口
// 键按"前缀:需求ID:文体参数"组织，DeleteByPrefix用于按需求维度批量失效
type Cache interface {
	// Get 读取缓存值，键不存在时found为false
	Get(key string) (value string, found bool, err error)

	// Set 写入缓存值，ttl为0时使用实现的默认过期时间
	Set(key string, value string, ttl time.Duration) error

	// Delete 删除单个缓存键
	Delete(key string) error

	// DeleteByPrefix 删除指定前缀下的所有缓存键，返回删除数量
	DeleteByPrefix(prefix string) (int, error)

	// Clear 清空本系统写入的全部缓存
	Clear() error
}

// Config 缓存配置
type Config struct {
	// 缓存类型: "memory", "redis"
	Type string
	// Redis连接地址 (仅Redis缓存使用)
	RedisAddr string
	// Redis密码 (仅Redis缓存使用)
	RedisPassword string
	// Redis数据库编号 (仅Redis缓存使用)
	RedisDB int
	// 默认缓存过期时间
	DefaultTTL time.Duration
	// 自动清理间隔时间 (仅内存缓存使用)
	CleanupInterval time.Duration
}

// DefaultConfig 返回默认缓存配置
// 应答合成结果默认缓存24小时，与标书处理周期匹配
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		DefaultTTL:      time.Hour * 24,
		CleanupInterval: time.Minute * 10,
	}
}

// Factory 缓存工厂函数类型
type Factory func(config Config) (Cache, error)

var registry = make(map[string]Factory)

// RegisterCache 注册缓存实现
func RegisterCache(name string, factory Factory) {
	registry[name] = factory
}

// NewCache 根据配置创建缓存实例
// 未注册的类型回退到内存缓存
func NewCache(config Config) (Cache, error) {
	if factory, ok := registry[config.Type]; ok {
		return factory(config)
	}
	return NewMemoryCache(config)
}

// GenerateCacheKey 由前缀和参数段拼接缓存键
// 相同参数总是产生相同的键，段之间以冒号分隔
func GenerateCacheKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}
