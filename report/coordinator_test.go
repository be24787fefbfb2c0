package report

import (
	"path/filepath"
	"testing"
	"time"

	"nodemesh/storage"
)

func newTestCoordinator(t *testing.T) (*Coordinator, storage.Storage) {
	t.Helper()

	store, err := storage.NewGormStorage(&storage.DBConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "report_test.db"),
	})
	if err != nil {
		t.Fatalf("创建测试存储失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for _, id := range []string{"node-1", "node-2", "node-3"} {
		if err := store.UpsertNodeHeartbeat(&storage.Node{ID: id}); err != nil {
			t.Fatalf("写入节点失败: %v", err)
		}
	}

	return NewCoordinator(store), store
}

func TestBroadcastFansOutPerNode(t *testing.T) {
	c, _ := newTestCoordinator(t)

	requests, err := c.Request("")
	if err != nil {
		t.Fatalf("广播失败: %v", err)
	}
	if len(requests) != 3 {
		t.Fatalf("应为每个节点各落一行, 实际 %d", len(requests))
	}

	// 三个节点各自可见且各自独立消费
	for _, id := range []string{"node-1", "node-2", "node-3"} {
		pending, err := c.CheckPending(id)
		if err != nil {
			t.Fatalf("查询待消费请求失败: %v", err)
		}
		if pending == nil {
			t.Fatalf("节点 %s 应有待消费请求", id)
		}
	}

	// node-1 消费后，node-2/node-3 的请求不受影响
	pending, _ := c.CheckPending("node-1")
	if err := c.Consume(pending.ID); err != nil {
		t.Fatalf("消费失败: %v", err)
	}

	if p, _ := c.CheckPending("node-1"); p != nil {
		t.Error("node-1 的请求已消费, 不应再返回")
	}
	if p, _ := c.CheckPending("node-2"); p == nil {
		t.Error("node-2 的请求不应受 node-1 消费影响")
	}
}

func TestRequestSingleNode(t *testing.T) {
	c, _ := newTestCoordinator(t)

	requests, err := c.Request("node-2")
	if err != nil {
		t.Fatalf("下发失败: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("单节点请求应只有一行, 实际 %d", len(requests))
	}

	if p, _ := c.CheckPending("node-1"); p != nil {
		t.Error("node-1 不应看到发给 node-2 的请求")
	}
	if p, _ := c.CheckPending("node-2"); p == nil {
		t.Error("node-2 应看到自己的请求")
	}
}

func TestRequestUnknownNode(t *testing.T) {
	c, _ := newTestCoordinator(t)

	if _, err := c.Request("ghost"); err != storage.ErrNodeNotFound {
		t.Errorf("未知节点应返回 ErrNodeNotFound, 实际: %v", err)
	}
}

func TestConsumeTwiceFails(t *testing.T) {
	c, _ := newTestCoordinator(t)

	requests, err := c.Request("node-1")
	if err != nil {
		t.Fatalf("下发失败: %v", err)
	}

	if err := c.Consume(requests[0].ID); err != nil {
		t.Fatalf("首次消费失败: %v", err)
	}
	if err := c.Consume(requests[0].ID); err != storage.ErrRequestNotFound {
		t.Errorf("重复消费应返回 ErrRequestNotFound, 实际: %v", err)
	}
}

func TestCheckPendingReturnsNewest(t *testing.T) {
	c, _ := newTestCoordinator(t)

	if _, err := c.Request("node-1"); err != nil {
		t.Fatalf("下发失败: %v", err)
	}
	// 人为把第一条请求的时间拨早，再下发第二条
	time.Sleep(10 * time.Millisecond)
	second, err := c.Request("node-1")
	if err != nil {
		t.Fatalf("下发失败: %v", err)
	}

	pending, err := c.CheckPending("node-1")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if pending == nil || pending.ID != second[0].ID {
		t.Errorf("应返回最新一条未消费请求")
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	c, store := newTestCoordinator(t)

	nodeID := "node-1"
	old := time.Now().AddDate(0, 0, -10)
	if err := store.CreateReportRequests([]*storage.ReportRequest{{
		ID:          "00000000-0000-0000-0000-000000000001",
		NodeID:      &nodeID,
		RequestedAt: old,
	}}); err != nil {
		t.Fatalf("写入过期请求失败: %v", err)
	}
	if _, err := c.Request("node-1"); err != nil {
		t.Fatalf("下发失败: %v", err)
	}

	deleted, err := c.Cleanup(3)
	if err != nil {
		t.Fatalf("清理失败: %v", err)
	}
	if deleted != 1 {
		t.Errorf("应清理 1 条过期请求, 实际 %d", deleted)
	}

	// 新请求仍在
	if p, _ := c.CheckPending("node-1"); p == nil {
		t.Error("保留期内的请求不应被清理")
	}
}

func TestPendingCountTracksLifecycle(t *testing.T) {
	c, store := newTestCoordinator(t)

	requests, err := c.Request("")
	if err != nil {
		t.Fatalf("广播失败: %v", err)
	}

	count, err := store.CountPendingRequests()
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if count != 3 {
		t.Fatalf("广播后应有3条待处理请求, 得到 %d", count)
	}

	if err := c.Consume(requests[0].ID); err != nil {
		t.Fatalf("消费失败: %v", err)
	}
	if count, _ = store.CountPendingRequests(); count != 2 {
		t.Errorf("消费后应剩2条待处理请求, 得到 %d", count)
	}
}
