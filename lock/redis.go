package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock 基于 Redis SetNX 的非阻塞锁。
// 每次加锁生成独立 token 并在本地登记，释放时用 Lua 校验 token，
// 保证锁过期后被其他实例抢走的情况下不会误删别人的锁。
type RedisLock struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	tokens map[string]string // key -> 本实例持有的 token
}

// NewRedisLock 创建 Redis 分布式锁
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	return &RedisLock{
		client: client,
		prefix: prefix,
		tokens: make(map[string]string),
	}
}

// generateToken 为每次加锁生成唯一的 token
func generateToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// TryLock 尝试获取锁，立即返回。锁在 ttl 后自动过期，
// 覆盖持有者崩溃未释放的情况。
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	lockKey := r.prefix + key
	token := generateToken()

	ok, err := r.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	if ok {
		r.mu.Lock()
		r.tokens[key] = token
		r.mu.Unlock()
	}

	return ok, nil
}

// Unlock 释放锁。只有本实例登记过 token 的锁才会发起释放
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	r.mu.Lock()
	token, exists := r.tokens[key]
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("lock not held: %s", key)
	}

	// Lua 脚本确保原子性：只有持有锁的实例才能释放
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	result, err := r.client.Eval(ctx, script, []string{r.prefix + key}, token).Result()
	if err != nil {
		return fmt.Errorf("redis eval failed: %w", err)
	}

	r.mu.Lock()
	delete(r.tokens, key)
	r.mu.Unlock()

	if result.(int64) == 0 {
		return fmt.Errorf("lock not held or expired: %s", key)
	}

	return nil
}

// Close 关闭连接
func (r *RedisLock) Close() error {
	return r.client.Close()
}
