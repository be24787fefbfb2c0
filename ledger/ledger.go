package ledger

import (
	"fmt"
	"time"

	"nodemesh/calendar"
	"nodemesh/logger"
	"nodemesh/metrics"
	"nodemesh/storage"
)

// StatInput 单节点单日统计上报载荷。
// 节点上报的是当日累计值，重复上报整行覆盖，绝不累加。
type StatInput struct {
	ALots            float64 `json:"a_lots"`
	BLots            float64 `json:"b_lots"`
	LotsDiff         float64 `json:"lots_diff"`
	AProfit          float64 `json:"a_profit"`
	BProfit          float64 `json:"b_profit"`
	ABProfit         float64 `json:"ab_profit"`
	Interest         float64 `json:"interest"`
	CostPerLot       float64 `json:"cost_per_lot"`
	CommissionPerLot float64 `json:"commission_per_lot"`
	OpenLots         float64 `json:"open_lots"`
}

// Ledger 日统计台账服务
type Ledger struct {
	store    storage.Storage
	promMetr *metrics.PrometheusMetrics
}

// NewLedger 创建日统计台账
func NewLedger(store storage.Storage) *Ledger {
	return &Ledger{
		store:    store,
		promMetr: metrics.GetPrometheusMetrics(),
	}
}

// UpsertDailyStat 写入某节点某交易日的统计。
// 节点必须已注册；日期必须是 YYYY-MM-DD。同键重复写入为整行覆盖。
func (l *Ledger) UpsertDailyStat(nodeID, tradingDate string, input *StatInput) (*storage.DailyNodeStat, error) {
	if input == nil {
		return nil, fmt.Errorf("统计载荷不能为空")
	}

	if _, err := calendar.ParseDate(tradingDate); err != nil {
		l.promMetr.RecordStatReport(nodeID, "rejected")
		return nil, fmt.Errorf("交易日格式无效: %w", err)
	}

	if _, err := l.store.GetNode(nodeID); err != nil {
		l.promMetr.RecordStatReport(nodeID, "rejected")
		if err == storage.ErrNodeNotFound {
			return nil, storage.ErrNodeNotFound
		}
		return nil, fmt.Errorf("查询节点失败: %w", err)
	}

	stat := &storage.DailyNodeStat{
		NodeID:           nodeID,
		TradingDate:      tradingDate,
		ALots:            input.ALots,
		BLots:            input.BLots,
		LotsDiff:         input.LotsDiff,
		AProfit:          input.AProfit,
		BProfit:          input.BProfit,
		ABProfit:         input.ABProfit,
		Interest:         input.Interest,
		CostPerLot:       input.CostPerLot,
		CommissionPerLot: input.CommissionPerLot,
		OpenLots:         input.OpenLots,
		ReportedAt:       time.Now(),
	}

	if err := l.store.UpsertDailyStat(stat); err != nil {
		l.promMetr.RecordStatReport(nodeID, "rejected")
		return nil, fmt.Errorf("写入统计失败: %w", err)
	}

	l.promMetr.RecordStatReport(nodeID, "accepted")
	logger.Debug("📥 收到日统计: %s @ %s (A手数=%.2f)", nodeID, tradingDate, input.ALots)

	return stat, nil
}

// StatsForDate 查询某交易日全部节点的统计
func (l *Ledger) StatsForDate(tradingDate string) ([]*storage.DailyNodeStat, error) {
	if _, err := calendar.ParseDate(tradingDate); err != nil {
		return nil, fmt.Errorf("交易日格式无效: %w", err)
	}
	return l.store.StatsForDate(tradingDate)
}

// StatsForNodeInRange 查询某节点在日期区间内的统计，按日期倒序
func (l *Ledger) StatsForNodeInRange(nodeID, start, end string) ([]*storage.DailyNodeStat, error) {
	if _, err := calendar.ParseDate(start); err != nil {
		return nil, fmt.Errorf("起始日期无效: %w", err)
	}
	if _, err := calendar.ParseDate(end); err != nil {
		return nil, fmt.Errorf("结束日期无效: %w", err)
	}
	return l.store.StatsForNodeInRange(nodeID, start, end)
}

// ClearAll 清空全部日统计（运维操作，不动节点表）
func (l *Ledger) ClearAll() error {
	if err := l.store.ClearStats(); err != nil {
		return fmt.Errorf("清空统计失败: %w", err)
	}
	logger.Warn("🧹 已清空全部日统计")
	return nil
}

// ClearForDate 清除某交易日的统计；group 非空时只清该分组的节点
func (l *Ledger) ClearForDate(tradingDate, group string) error {
	if _, err := calendar.ParseDate(tradingDate); err != nil {
		return fmt.Errorf("交易日格式无效: %w", err)
	}
	if err := l.store.ClearStatsForDate(tradingDate, group); err != nil {
		return fmt.Errorf("清除统计失败: %w", err)
	}
	logger.Warn("🧹 已清除日统计: %s (分组=%s)", tradingDate, group)
	return nil
}
