package permcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL 是权限查询结果的缓存时长。缓存只用于加速，
// 敏感写操作仍会回库校验角色，所以过期窗口内的误差是可接受的。
const DefaultTTL = time.Hour

// Cache 在 Redis 里缓存“用户是否具备某权限”的查询结果。
type Cache struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// New 构造权限缓存。ttl<=0 时使用 DefaultTTL。
func New(redisClient redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{redis: redisClient, ttl: ttl}
}

func key(userID uint, perm string) string {
	return fmt.Sprintf("perm:%d:%s", userID, perm)
}

// Get 返回缓存结果；第二个返回值表示是否命中。Redis 故障按未命中处理。
func (c *Cache) Get(ctx context.Context, userID uint, perm string) (allowed, hit bool) {
	value, err := c.redis.Get(ctx, key(userID, perm)).Result()
	if err != nil {
		return false, false
	}
	return value == "1", true
}

// Set 写入缓存结果。
func (c *Cache) Set(ctx context.Context, userID uint, perm string, allowed bool) {
	value := "0"
	if allowed {
		value = "1"
	}
	_ = c.redis.Set(ctx, key(userID, perm), value, c.ttl).Err()
}

// Invalidate 清除某用户的某项权限缓存，角色变更时调用。
func (c *Cache) Invalidate(ctx context.Context, userID uint, perms ...string) error {
	keys := make([]string, 0, len(perms))
	for _, perm := range perms {
		keys = append(keys, key(userID, perm))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("invalidate permission cache: %w", err)
	}
	return nil
}
