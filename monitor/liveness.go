package monitor

import (
	"context"
	"sync"
	"time"

	"nodemesh/calendar"
	"nodemesh/event"
	"nodemesh/logger"
	"nodemesh/metrics"
	"nodemesh/storage"
)

// LivenessMonitor 节点存活监控：周期巡检全部节点，
// 维护 online/offline 状态并记录每次切换。
type LivenessMonitor struct {
	store    storage.Storage
	cal      *calendar.Calendar
	bus      *event.EventBus
	promMetr *metrics.PrometheusMetrics

	pollInterval time.Duration

	mu      sync.RWMutex
	timeout time.Duration
	muted   map[string]bool // 静音集合，节点恢复在线时自动解除

	cancel context.CancelFunc
}

// NewLivenessMonitor 创建存活监控
func NewLivenessMonitor(store storage.Storage, cal *calendar.Calendar, bus *event.EventBus, pollInterval, timeout time.Duration) *LivenessMonitor {
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}
	if timeout <= 0 {
		timeout = 900 * time.Second
	}
	return &LivenessMonitor{
		store:        store,
		cal:          cal,
		bus:          bus,
		promMetr:     metrics.GetPrometheusMetrics(),
		pollInterval: pollInterval,
		timeout:      timeout,
		muted:        make(map[string]bool),
	}
}

// SetTimeout 热更在线判定超时
func (m *LivenessMonitor) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	logger.Info("🔄 存活超时已更新: %v", timeout)
}

// Mute 静音某节点的离线通知
func (m *LivenessMonitor) Mute(nodeID string) {
	m.mu.Lock()
	m.muted[nodeID] = true
	m.mu.Unlock()
	logger.Info("🔇 节点已静音: %s", nodeID)
}

// Unmute 解除静音
func (m *LivenessMonitor) Unmute(nodeID string) {
	m.mu.Lock()
	delete(m.muted, nodeID)
	m.mu.Unlock()
	logger.Info("🔊 节点已解除静音: %s", nodeID)
}

// IsMuted 查询静音状态
func (m *LivenessMonitor) IsMuted(nodeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.muted[nodeID]
}

// Start 启动巡检循环
func (m *LivenessMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	logger.Info("✅ 存活监控已启动 (巡检间隔: %v, 超时: %v)", m.pollInterval, m.currentTimeout())

	go func() {
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Poll(time.Now()); err != nil {
					logger.Error("❌ 存活巡检失败: %v", err)
				}
			}
		}
	}()
}

// Stop 停止巡检
func (m *LivenessMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	logger.Info("✅ 存活监控已停止")
}

func (m *LivenessMonitor) currentTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeout
}

// Poll 巡检一轮：对每个节点判定应处状态，与库中状态不一致则切换。
// 每次切换恰好落一行审计记录；通知在静音或临近换日时间窗内被抑制，
// 但审计行照常写入（Notified=false）。
func (m *LivenessMonitor) Poll(now time.Time) error {
	nodes, err := m.store.ListNodes()
	if err != nil {
		return err
	}

	timeout := m.currentTimeout()
	nearRollover := m.cal.IsNearRollover(now)

	online, offline := 0, 0
	for _, node := range nodes {
		expected := Status(node.LastHeartbeatAt, now, timeout)
		if expected == storage.StatusOnline {
			online++
		} else {
			offline++
		}

		if node.Status == expected {
			continue
		}

		if err := m.transition(node, expected, now, nearRollover); err != nil {
			logger.Error("❌ 节点状态切换失败: %s: %v", node.ID, err)
		}
	}

	m.promMetr.SetNodeCounts(online, offline)
	return nil
}

// transition 执行一次状态切换
func (m *LivenessMonitor) transition(node *storage.Node, toStatus string, now time.Time, nearRollover bool) error {
	if err := m.store.UpdateNodeStatus(node.ID, toStatus); err != nil {
		return err
	}

	// 通知抑制：静音节点、临近换日的离线切换
	suppressed := false
	if toStatus == storage.StatusOffline {
		if m.IsMuted(node.ID) {
			suppressed = true
			logger.Info("🔇 节点离线但已静音, 跳过通知: %s", node.ID)
		} else if nearRollover {
			suppressed = true
			logger.Info("🌙 临近换日, 抑制离线通知: %s", node.ID)
		}
	}

	tr := &storage.StateTransition{
		NodeID:     node.ID,
		FromStatus: node.Status,
		ToStatus:   toStatus,
		At:         now,
		Notified:   !suppressed,
	}
	if err := m.store.AppendTransition(tr); err != nil {
		return err
	}

	m.promMetr.RecordStateTransition(node.ID, toStatus)

	if toStatus == storage.StatusOnline {
		// 恢复在线自动解除静音
		if m.IsMuted(node.ID) {
			m.Unmute(node.ID)
		}
		logger.Info("🟢 节点恢复在线: %s (%s)", node.ID, node.Name)
	} else {
		logger.Warn("🔴 节点离线: %s (%s) 最后心跳: %v", node.ID, node.Name, node.LastHeartbeatAt)
	}

	if suppressed || m.bus == nil {
		return nil
	}

	eventType := event.EventTypeNodeOnline
	if toStatus == storage.StatusOffline {
		eventType = event.EventTypeNodeOffline
	}
	m.bus.Publish(&event.Event{
		Type:      eventType,
		Timestamp: now,
		Data: map[string]interface{}{
			"节点": node.ID,
			"名称": node.Name,
			"券商": node.Broker,
			"分组": node.Group,
		},
	})

	return nil
}

// Status 按最后心跳判定节点应处状态。从未上报过心跳视为离线。
func Status(lastHeartbeat *time.Time, now time.Time, timeout time.Duration) string {
	if lastHeartbeat == nil {
		return storage.StatusOffline
	}
	if now.Sub(*lastHeartbeat) > timeout {
		return storage.StatusOffline
	}
	return storage.StatusOnline
}
