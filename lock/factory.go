package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"nodemesh/logger"
)

// Config 分布式锁配置
type Config struct {
	Enabled    bool
	Prefix     string
	DefaultTTL time.Duration
	Redis      RedisConfig
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewDistributedLock 根据配置创建分布式锁实例
// 如果未启用分布式锁，返回 NopLock（单实例模式，零开销）
func NewDistributedLock(config *Config) (DistributedLock, error) {
	if !config.Enabled {
		return NewNopLock(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// 启动时探活：连不上只告警不中断，换日任务里 TryLock 失败会再次暴露
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("⚠️ Redis 连接检查失败: %v", err)
	}

	return NewRedisLock(client, config.Prefix), nil
}
