package monitor

import (
	"path/filepath"
	"testing"
	"time"

	"nodemesh/calendar"
	"nodemesh/event"
	"nodemesh/storage"
)

func newTestMonitor(t *testing.T) (*LivenessMonitor, storage.Storage, *event.EventBus) {
	t.Helper()

	store, err := storage.NewGormStorage(&storage.DBConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "monitor_test.db"),
	})
	if err != nil {
		t.Fatalf("创建测试存储失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := event.NewEventBus(16)
	t.Cleanup(bus.Close)

	cal := calendar.New(time.UTC, calendar.DefaultRolloverMinutes)
	m := NewLivenessMonitor(store, cal, bus, 60*time.Second, 900*time.Second)
	return m, store, bus
}

func seedNode(t *testing.T, store storage.Storage, id, status string, lastHeartbeat time.Time) {
	t.Helper()
	if err := store.UpsertNodeHeartbeat(&storage.Node{ID: id, LastHeartbeatAt: &lastHeartbeat}); err != nil {
		t.Fatalf("写入节点失败: %v", err)
	}
	if err := store.UpdateNodeStatus(id, status); err != nil {
		t.Fatalf("更新状态失败: %v", err)
	}
}

func drainEvents(bus *event.EventBus) []*event.Event {
	var events []*event.Event
	for {
		select {
		case evt := <-bus.Subscribe():
			events = append(events, evt)
		default:
			return events
		}
	}
}

// 中午时刻，远离换日窗口
func noon() time.Time {
	return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
}

func TestPollMarksOfflineExactlyOnce(t *testing.T) {
	m, store, _ := newTestMonitor(t)
	now := noon()

	seedNode(t, store, "node-1", storage.StatusOnline, now.Add(-time.Hour))

	if err := m.Poll(now); err != nil {
		t.Fatalf("巡检失败: %v", err)
	}

	node, err := store.GetNode("node-1")
	if err != nil {
		t.Fatalf("查询节点失败: %v", err)
	}
	if node.Status != storage.StatusOffline {
		t.Errorf("节点应已离线, 实际 %s", node.Status)
	}

	// 再巡检一轮，状态未变，不应产生新的审计行
	if err := m.Poll(now.Add(time.Minute)); err != nil {
		t.Fatalf("第二轮巡检失败: %v", err)
	}

	trs, err := store.TransitionsForNode("node-1", 10)
	if err != nil {
		t.Fatalf("查询审计失败: %v", err)
	}
	if len(trs) != 1 {
		t.Fatalf("同一次离线应只有一行审计, 实际 %d", len(trs))
	}
	if trs[0].FromStatus != storage.StatusOnline || trs[0].ToStatus != storage.StatusOffline {
		t.Errorf("审计内容错误: %s -> %s", trs[0].FromStatus, trs[0].ToStatus)
	}
	if !trs[0].Notified {
		t.Error("未静音未换日, 通知不应被抑制")
	}
}

func TestPollMarksOnlineAndPublishes(t *testing.T) {
	m, store, bus := newTestMonitor(t)
	now := noon()

	seedNode(t, store, "node-1", storage.StatusOffline, now.Add(-time.Minute))

	if err := m.Poll(now); err != nil {
		t.Fatalf("巡检失败: %v", err)
	}

	node, err := store.GetNode("node-1")
	if err != nil {
		t.Fatalf("查询节点失败: %v", err)
	}
	if node.Status != storage.StatusOnline {
		t.Errorf("节点应恢复在线, 实际 %s", node.Status)
	}

	events := drainEvents(bus)
	if len(events) != 1 || events[0].Type != event.EventTypeNodeOnline {
		t.Errorf("应发布一条恢复在线事件, 实际 %v", events)
	}
}

func TestMuteSuppressesNotificationKeepsAudit(t *testing.T) {
	m, store, bus := newTestMonitor(t)
	now := noon()

	seedNode(t, store, "node-1", storage.StatusOnline, now.Add(-time.Hour))
	m.Mute("node-1")

	if err := m.Poll(now); err != nil {
		t.Fatalf("巡检失败: %v", err)
	}

	// 审计行照常写入，但标记未通知
	trs, err := store.TransitionsForNode("node-1", 10)
	if err != nil {
		t.Fatalf("查询审计失败: %v", err)
	}
	if len(trs) != 1 {
		t.Fatalf("应有一行审计, 实际 %d", len(trs))
	}
	if trs[0].Notified {
		t.Error("静音节点的审计行应标记 Notified=false")
	}

	if events := drainEvents(bus); len(events) != 0 {
		t.Errorf("静音节点不应发布事件, 实际 %d 条", len(events))
	}
}

func TestMuteClearedOnOnlineTransition(t *testing.T) {
	m, store, _ := newTestMonitor(t)
	now := noon()

	seedNode(t, store, "node-1", storage.StatusOffline, now.Add(-time.Minute))
	m.Mute("node-1")

	if err := m.Poll(now); err != nil {
		t.Fatalf("巡检失败: %v", err)
	}

	if m.IsMuted("node-1") {
		t.Error("恢复在线后静音应自动解除")
	}
}

func TestNearRolloverSuppressesOfflineNotification(t *testing.T) {
	m, store, bus := newTestMonitor(t)

	// 00:30，处于换日窗口内（换日时刻 01:30）
	now := time.Date(2026, 8, 30, 0, 30, 0, 0, time.UTC)
	seedNode(t, store, "node-1", storage.StatusOnline, now.Add(-time.Hour))

	if err := m.Poll(now); err != nil {
		t.Fatalf("巡检失败: %v", err)
	}

	node, err := store.GetNode("node-1")
	if err != nil {
		t.Fatalf("查询节点失败: %v", err)
	}
	if node.Status != storage.StatusOffline {
		t.Errorf("状态切换本身不应被抑制, 实际 %s", node.Status)
	}

	trs, err := store.TransitionsForNode("node-1", 10)
	if err != nil {
		t.Fatalf("查询审计失败: %v", err)
	}
	if len(trs) != 1 || trs[0].Notified {
		t.Errorf("换日窗口内离线应落审计行且 Notified=false, 实际 %+v", trs)
	}

	if events := drainEvents(bus); len(events) != 0 {
		t.Errorf("换日窗口内不应发布离线事件, 实际 %d 条", len(events))
	}
}

func TestNearRolloverDoesNotSuppressOnline(t *testing.T) {
	m, store, bus := newTestMonitor(t)

	now := time.Date(2026, 8, 30, 0, 30, 0, 0, time.UTC)
	seedNode(t, store, "node-1", storage.StatusOffline, now.Add(-time.Minute))

	if err := m.Poll(now); err != nil {
		t.Fatalf("巡检失败: %v", err)
	}

	events := drainEvents(bus)
	if len(events) != 1 || events[0].Type != event.EventTypeNodeOnline {
		t.Errorf("恢复在线通知不应被换日窗口抑制, 实际 %v", events)
	}
}

func TestStatusHelper(t *testing.T) {
	now := noon()
	timeout := 900 * time.Second

	if got := Status(nil, now, timeout); got != storage.StatusOffline {
		t.Errorf("无心跳应判定离线, 实际 %s", got)
	}

	fresh := now.Add(-14 * time.Minute)
	if got := Status(&fresh, now, timeout); got != storage.StatusOnline {
		t.Errorf("14 分钟前心跳应判定在线, 实际 %s", got)
	}

	stale := now.Add(-16 * time.Minute)
	if got := Status(&stale, now, timeout); got != storage.StatusOffline {
		t.Errorf("16 分钟前心跳应判定离线, 实际 %s", got)
	}
}

func TestSetTimeoutHotReload(t *testing.T) {
	m, store, _ := newTestMonitor(t)
	now := noon()

	// 10 分钟前的心跳：默认 900s 超时下在线
	seedNode(t, store, "node-1", storage.StatusOnline, now.Add(-10*time.Minute))

	if err := m.Poll(now); err != nil {
		t.Fatalf("巡检失败: %v", err)
	}
	node, _ := store.GetNode("node-1")
	if node.Status != storage.StatusOnline {
		t.Fatalf("默认超时下应在线, 实际 %s", node.Status)
	}

	// 收紧超时到 5 分钟后，同一心跳应判定离线
	m.SetTimeout(5 * time.Minute)
	if err := m.Poll(now); err != nil {
		t.Fatalf("巡检失败: %v", err)
	}
	node, _ = store.GetNode("node-1")
	if node.Status != storage.StatusOffline {
		t.Errorf("收紧超时后应离线, 实际 %s", node.Status)
	}
}
