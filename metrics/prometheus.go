package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 节点指标
	heartbeatTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodemesh_heartbeat_total",
			Help: "Total number of heartbeats received",
		},
		[]string{"node", "group"},
	)

	statReportTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodemesh_stat_report_total",
			Help: "Total number of daily stat reports received",
		},
		[]string{"node", "status"}, // status: accepted, rejected
	)

	nodesOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodemesh_nodes_online",
			Help: "Number of nodes currently online",
		},
	)

	nodesOffline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodemesh_nodes_offline",
			Help: "Number of nodes currently offline",
		},
	)

	stateTransitionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodemesh_state_transition_total",
			Help: "Total number of node state transitions",
		},
		[]string{"node", "to_status"},
	)

	// 汇总指标
	snapshotDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nodemesh_snapshot_duration_seconds",
			Help:    "Daily snapshot computation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"trigger"}, // trigger: scheduled, manual, reconcile
	)

	snapshotFailureTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nodemesh_snapshot_failure_total",
			Help: "Total number of failed snapshot computations",
		},
	)

	// 报表请求指标
	reportRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodemesh_report_request_total",
			Help: "Total number of report requests created",
		},
		[]string{"scope"}, // scope: node, broadcast
	)

	reportPendingCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodemesh_report_pending_count",
			Help: "Number of unconsumed report requests",
		},
	)

	// 分布式锁指标
	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodemesh_lock_acquire_total",
			Help: "Total number of lock acquisitions",
		},
		[]string{"key", "status"}, // status: success, failed, skipped
	)

	// 系统指标
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodemesh_goroutine_count",
			Help: "Number of goroutines",
		},
	)

	memoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodemesh_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)
)

// PrometheusMetrics Prometheus 指标记录器
type PrometheusMetrics struct{}

var (
	instance *PrometheusMetrics
	once     sync.Once
)

// NewPrometheusMetrics 创建指标记录器
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

// GetPrometheusMetrics 获取全局指标记录器
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		instance = NewPrometheusMetrics()
	})
	return instance
}

// RecordHeartbeat 记录心跳
func (pm *PrometheusMetrics) RecordHeartbeat(node, group string) {
	heartbeatTotal.WithLabelValues(node, group).Inc()
}

// RecordStatReport 记录日报上报
func (pm *PrometheusMetrics) RecordStatReport(node, status string) {
	statReportTotal.WithLabelValues(node, status).Inc()
}

// SetNodeCounts 更新在线/离线节点数
func (pm *PrometheusMetrics) SetNodeCounts(online, offline int) {
	nodesOnline.Set(float64(online))
	nodesOffline.Set(float64(offline))
}

// RecordStateTransition 记录状态切换
func (pm *PrometheusMetrics) RecordStateTransition(node, toStatus string) {
	stateTransitionTotal.WithLabelValues(node, toStatus).Inc()
}

// RecordSnapshotDuration 记录汇总耗时
func (pm *PrometheusMetrics) RecordSnapshotDuration(trigger string, duration time.Duration) {
	snapshotDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordSnapshotFailure 记录汇总失败
func (pm *PrometheusMetrics) RecordSnapshotFailure() {
	snapshotFailureTotal.Inc()
}

// RecordReportRequest 记录报表请求
func (pm *PrometheusMetrics) RecordReportRequest(scope string) {
	reportRequestTotal.WithLabelValues(scope).Inc()
}

// SetReportPendingCount 更新待消费请求数
func (pm *PrometheusMetrics) SetReportPendingCount(count int) {
	reportPendingCount.Set(float64(count))
}

// RecordLockAcquire 记录锁获取
func (pm *PrometheusMetrics) RecordLockAcquire(key, status string) {
	lockAcquireTotal.WithLabelValues(key, status).Inc()
}

// SetGoroutineCount 更新 goroutine 数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 更新内存分配量
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	memoryAllocBytes.Set(float64(bytes))
}
