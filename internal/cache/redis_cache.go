package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyNamespace 本系统写入Redis的键统一前缀
// 与同一实例上的其他业务键隔离，Clear只清理本命名空间
const redisKeyNamespace = "tender:cache:"

// redisScanBatch SCAN每批返回的键数量
const redisScanBatch = 100

// RedisCache 基于Redis的共享缓存
// 多个API实例和任务Worker共享同一份应答合成结果
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// NewRedisCache 创建Redis缓存并验证连接
func NewRedisCache(config Config) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := config.DefaultTTL
	if ttl == 0 {
		ttl = DefaultConfig().DefaultTTL
	}

	return &RedisCache{
		client:     client,
		defaultTTL: ttl,
	}, nil
}

// namespaced 给业务键加上命名空间前缀
func (r *RedisCache) namespaced(key string) string {
	return redisKeyNamespace + key
}

// Get 读取缓存值
func (r *RedisCache) Get(key string) (string, bool, error) {
	value, err := r.client.Get(context.Background(), r.namespaced(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set 写入缓存值
func (r *RedisCache) Set(key string, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	return r.client.Set(context.Background(), r.namespaced(key), value, ttl).Err()
}

// Delete 删除单个缓存键
func (r *RedisCache) Delete(key string) error {
	return r.client.Del(context.Background(), r.namespaced(key)).Err()
}

// DeleteByPrefix 删除指定前缀下的所有缓存键
func (r *RedisCache) DeleteByPrefix(prefix string) (int, error) {
	return r.deleteByPattern(r.namespaced(prefix) + "*")
}

// Clear 清空本命名空间下的全部缓存键
// 不使用FlushDB，避免误删同库中其他业务的数据
func (r *RedisCache) Clear() error {
	_, err := r.deleteByPattern(redisKeyNamespace + "*")
	return err
}

// deleteByPattern 通过SCAN遍历匹配的键并逐批删除
func (r *RedisCache) deleteByPattern(pattern string) (int, error) {
	ctx := context.Background()
	removed := 0

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, redisScanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan cache keys: %w", err)
		}

		if len(keys) > 0 {
			deleted, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to delete cache keys: %w", err)
			}
			removed += int(deleted)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return removed, nil
}

func init() {
	RegisterCache("redis", NewRedisCache)
}
