package lock

import (
	"context"
	"testing"
	"time"
)

func TestFactoryDisabledReturnsNop(t *testing.T) {
	dl, err := NewDistributedLock(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("创建锁失败: %v", err)
	}
	if _, ok := dl.(*NopLock); !ok {
		t.Fatalf("未启用时应返回 NopLock, 得到 %T", dl)
	}
}

func TestNopLockAlwaysAcquires(t *testing.T) {
	n := NewNopLock()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := n.TryLock(ctx, "snapshot:rollover", time.Minute)
		if err != nil {
			t.Fatalf("TryLock 失败: %v", err)
		}
		if !ok {
			t.Fatal("NopLock 应总是成功获取锁")
		}
	}
	if err := n.Unlock(ctx, "snapshot:rollover"); err != nil {
		t.Errorf("NopLock 释放不应报错: %v", err)
	}
}

func TestRedisLockUnlockWithoutHold(t *testing.T) {
	// 未登记 token 的 key 在访问 Redis 之前就应被拒绝
	r := NewRedisLock(nil, "nodemesh:lock:")
	if err := r.Unlock(context.Background(), "snapshot:rollover"); err == nil {
		t.Error("释放未持有的锁应报错")
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := generateToken()
		if len(tok) != 32 {
			t.Fatalf("token 长度应为32, 得到 %d", len(tok))
		}
		if seen[tok] {
			t.Fatal("token 不应重复")
		}
		seen[tok] = true
	}
}
