package report

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"nodemesh/logger"
	"nodemesh/metrics"
	"nodemesh/storage"
)

// Coordinator 主动报告协调器：下发"立即上报"请求，节点轮询并一次性消费
type Coordinator struct {
	store    storage.Storage
	promMetr *metrics.PrometheusMetrics
}

// NewCoordinator 创建报告协调器
func NewCoordinator(store storage.Storage) *Coordinator {
	return &Coordinator{
		store:    store,
		promMetr: metrics.GetPrometheusMetrics(),
	}
}

// Request 创建报告请求。nodeID 为空表示广播：给每个已知节点各落一行，
// 各节点独立消费互不影响。返回创建的请求列表。
func (c *Coordinator) Request(nodeID string) ([]*storage.ReportRequest, error) {
	now := time.Now()
	var requests []*storage.ReportRequest

	if nodeID == "" {
		nodes, err := c.store.ListNodes()
		if err != nil {
			return nil, fmt.Errorf("查询节点列表失败: %w", err)
		}
		for _, n := range nodes {
			id := n.ID
			requests = append(requests, &storage.ReportRequest{
				ID:          uuid.NewString(),
				NodeID:      &id,
				RequestedAt: now,
			})
		}
		if len(requests) == 0 {
			logger.Warn("⚠️ 广播报告请求: 当前没有已知节点")
			return nil, nil
		}
		c.promMetr.RecordReportRequest("broadcast")
		logger.Info("📣 广播报告请求: %d 个节点", len(requests))
	} else {
		if _, err := c.store.GetNode(nodeID); err != nil {
			return nil, err
		}
		id := nodeID
		requests = append(requests, &storage.ReportRequest{
			ID:          uuid.NewString(),
			NodeID:      &id,
			RequestedAt: now,
		})
		c.promMetr.RecordReportRequest("node")
		logger.Info("📣 下发报告请求: %s", nodeID)
	}

	if err := c.store.CreateReportRequests(requests); err != nil {
		return nil, fmt.Errorf("创建报告请求失败: %w", err)
	}
	c.refreshPendingGauge()

	return requests, nil
}

// refreshPendingGauge 把未消费请求数同步到监控指标
func (c *Coordinator) refreshPendingGauge() {
	count, err := c.store.CountPendingRequests()
	if err != nil {
		logger.Warn("⚠️ 统计待处理请求失败: %v", err)
		return
	}
	c.promMetr.SetReportPendingCount(int(count))
}

// CheckPending 查询某节点最新的未消费请求；没有则返回 (nil, nil)
func (c *Coordinator) CheckPending(nodeID string) (*storage.ReportRequest, error) {
	return c.store.PendingRequestForNode(nodeID)
}

// Consume 消费一条请求，只标记该行。已消费或不存在返回 ErrRequestNotFound。
func (c *Coordinator) Consume(requestID string) error {
	if err := c.store.ConsumeRequest(requestID, time.Now()); err != nil {
		return err
	}
	c.refreshPendingGauge()
	logger.Debug("✅ 报告请求已消费: %s", requestID)
	return nil
}

// Cleanup 清理早于保留期的请求（无论是否消费），返回删除行数
func (c *Coordinator) Cleanup(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	before := time.Now().AddDate(0, 0, -retentionDays)
	deleted, err := c.store.CleanupRequests(before)
	if err != nil {
		return 0, fmt.Errorf("清理报告请求失败: %w", err)
	}
	if deleted > 0 {
		logger.Info("🧹 清理过期报告请求: %d 条", deleted)
	}
	c.refreshPendingGauge()
	return deleted, nil
}
