package web

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"

	"nodemesh/ledger"
	"nodemesh/metrics"
	"nodemesh/registry"
	"nodemesh/storage"
	"nodemesh/utils"
)

// postHeartbeat 接收节点心跳。响应携带待消费的报告请求（如有），
// 节点无需额外轮询即可得知需要立即上报。
func (s *Server) postHeartbeat(c *gin.Context) {
	nodeID := c.Param("id")

	var input registry.HeartbeatInput
	if err := c.ShouldBindJSON(&input); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "心跳载荷无效: " + err.Error()})
		return
	}

	node, err := s.registry.RecordHeartbeat(nodeID, &input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pending, err := s.coord.CheckPending(nodeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"node":           node,
		"report_request": pending,
	})
}

// statReportRequest 日统计上报载荷
type statReportRequest struct {
	TradingDate string `json:"trading_date" binding:"required"`
	ledger.StatInput
}

// postStats 接收节点的单日统计上报
func (s *Server) postStats(c *gin.Context) {
	nodeID := c.Param("id")

	var req statReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "统计载荷无效: " + err.Error()})
		return
	}

	stat, err := s.ledger.UpsertDailyStat(nodeID, req.TradingDate, &req.StatInput)
	if err != nil {
		if err == storage.ErrNodeNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "节点未注册, 请先发送心跳"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stat": stat})
}

// getNodes 返回全部节点（附带今日统计和存活判定）
func (s *Server) getNodes(c *gin.Context) {
	nodes, err := s.registry.GetAllEnriched()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

// deleteNode 删除节点及其全部统计
func (s *Server) deleteNode(c *gin.Context) {
	if err := s.registry.Delete(c.Param("id")); err != nil {
		if err == storage.ErrNodeNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "节点不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// getNodeStats 查询节点在日期区间内的统计
func (s *Server) getNodeStats(c *gin.Context) {
	start := c.Query("start")
	end := c.Query("end")
	if start == "" || end == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 start/end 参数"})
		return
	}

	stats, err := s.ledger.StatsForNodeInRange(c.Param("id"), start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// getNodeTransitions 返回节点最近的状态变更记录
func (s *Server) getNodeTransitions(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	transitions, err := s.store.TransitionsForNode(c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": transitions})
}

// getSnapshots 返回最近的汇总快照
func (s *Server) getSnapshots(c *gin.Context) {
	limit := 30
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	snaps, err := s.store.ListSnapshots(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

// getSnapshotsRange 按日期区间查询快照
func (s *Server) getSnapshotsRange(c *gin.Context) {
	start := c.Query("start")
	end := c.Query("end")
	if start == "" || end == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 start/end 参数"})
		return
	}

	snaps, err := s.store.SnapshotsInRange(start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

// recomputeSnapshot 手动触发汇总；日期为空取当前交易日
func (s *Server) recomputeSnapshot(c *gin.Context) {
	var req struct {
		Date string `json:"date"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "载荷无效: " + err.Error()})
			return
		}
	}

	snap, err := s.engine.Manual(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": snap})
}

// requestReport 下发主动报告请求；node_id 为空广播到全部节点
func (s *Server) requestReport(c *gin.Context) {
	var req struct {
		NodeID string `json:"node_id"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "载荷无效: " + err.Error()})
			return
		}
	}

	requests, err := s.coord.Request(req.NodeID)
	if err != nil {
		if err == storage.ErrNodeNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "节点不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

// getPendingReport 查询节点待消费的报告请求
func (s *Server) getPendingReport(c *gin.Context) {
	pending, err := s.coord.CheckPending(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": pending})
}

// consumeReport 消费一条报告请求
func (s *Server) consumeReport(c *gin.Context) {
	if err := s.coord.Consume(c.Param("id")); err != nil {
		if err == storage.ErrRequestNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "请求不存在或已消费"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"consumed": true})
}

// muteNode 静音节点的离线通知
func (s *Server) muteNode(c *gin.Context) {
	s.liveness.Mute(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"muted": true})
}

// unmuteNode 解除静音
func (s *Server) unmuteNode(c *gin.Context) {
	s.liveness.Unmute(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"muted": false})
}

// clearStats 运维重置：date 为空清空全部, 否则清指定日期（可按分组）
func (s *Server) clearStats(c *gin.Context) {
	var req struct {
		Date  string `json:"date"`
		Group string `json:"group"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "载荷无效: " + err.Error()})
			return
		}
	}

	var err error
	if req.Date == "" {
		err = s.ledger.ClearAll()
	} else {
		err = s.ledger.ClearForDate(req.Date, req.Group)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.notifier != nil {
		if req.Date == "" {
			s.notifier.NotifyCustom("运维操作: 已清空全部日统计")
		} else {
			s.notifier.NotifyCustom(fmt.Sprintf("运维操作: 已清除 %s 的日统计 (分组=%s)", req.Date, req.Group))
		}
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// getStatus 系统运行状态：运行时长、goroutine、进程 CPU/内存
func (s *Server) getStatus(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm := metrics.GetPrometheusMetrics()
	pm.SetGoroutineCount(runtime.NumGoroutine())
	pm.SetMemoryAlloc(memStats.Alloc)

	status := gin.H{
		"uptime":      time.Since(s.startTime).Round(time.Second).String(),
		"server_time": utils.NowConfiguredTimezone().Format("2006-01-02 15:04:05"),
		"goroutines":  runtime.NumGoroutine(),
		"heap_alloc":  memStats.Alloc,
	}

	// 进程级指标采集失败不影响整体响应
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpuPercent, err := proc.CPUPercent(); err == nil {
			status["cpu_percent"] = cpuPercent
		}
		if memInfo, err := proc.MemoryInfo(); err == nil {
			status["rss_bytes"] = memInfo.RSS
		}
	}

	c.JSON(http.StatusOK, status)
}
