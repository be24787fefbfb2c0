package lock

import (
	"context"
	"time"
)

// DistributedLock 分布式锁接口。
// 唯一的使用场景是换日汇总任务：多实例部署时只允许一个实例执行，
// 抢不到锁就跳过本轮，所以只需要非阻塞的 TryLock。
type DistributedLock interface {
	// TryLock 尝试获取锁，立即返回
	// 返回 true 表示成功获取锁，false 表示锁已被占用
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error

	// Close 关闭连接
	Close() error
}

// NopLock 空实现（单实例模式），TryLock 永远成功
type NopLock struct{}

func NewNopLock() *NopLock {
	return &NopLock{}
}

func (n *NopLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (n *NopLock) Unlock(ctx context.Context, key string) error {
	return nil
}

func (n *NopLock) Close() error {
	return nil
}
