package snapshot

import (
	"context"
	"fmt"
	"time"

	"nodemesh/calendar"
	"nodemesh/event"
	"nodemesh/lock"
	"nodemesh/logger"
	"nodemesh/metrics"
	"nodemesh/storage"
)

const rolloverLockKey = "snapshot:rollover"

// Engine 每日汇总引擎：把全部节点的日统计汇总成单行快照
type Engine struct {
	store    storage.Storage
	cal      *calendar.Calendar
	bus      *event.EventBus
	dlock    lock.DistributedLock
	lockTTL  time.Duration
	promMetr *metrics.PrometheusMetrics
}

// NewEngine 创建汇总引擎
func NewEngine(store storage.Storage, cal *calendar.Calendar, bus *event.EventBus, dlock lock.DistributedLock, lockTTL time.Duration) *Engine {
	if dlock == nil {
		dlock = lock.NewNopLock()
	}
	if lockTTL <= 0 {
		lockTTL = 60 * time.Second
	}
	return &Engine{
		store:    store,
		cal:      cal,
		bus:      bus,
		dlock:    dlock,
		lockTTL:  lockTTL,
		promMetr: metrics.GetPrometheusMetrics(),
	}
}

// ComputeAndStore 计算并落库某交易日的汇总快照。
// 所有数值字段逐节点求和；佣金按节点逐个加权（commission_per_lot × A腿手数）；
// 每手成本 = ab_profit_sum / (a_lots_sum + b_lots_sum)，分母为 0 时取 0。
// 在线/离线按此刻的节点状态统计。
func (e *Engine) ComputeAndStore(tradingDate, trigger string) (*storage.DailySnapshot, error) {
	start := time.Now()

	if _, err := calendar.ParseDate(tradingDate); err != nil {
		return nil, fmt.Errorf("交易日格式无效: %w", err)
	}

	nodes, err := e.store.ListNodes()
	if err != nil {
		e.recordFailure(tradingDate, err)
		return nil, fmt.Errorf("查询节点列表失败: %w", err)
	}

	stats, err := e.store.StatsForDate(tradingDate)
	if err != nil {
		e.recordFailure(tradingDate, err)
		return nil, fmt.Errorf("查询日统计失败: %w", err)
	}

	snap := &storage.DailySnapshot{
		TradingDate: tradingDate,
		TotalNodes:  len(nodes),
		CreatedAt:   time.Now(),
	}

	for _, n := range nodes {
		if n.Status == storage.StatusOnline {
			snap.OnlineNodes++
		} else {
			// 状态未知（刚启动、尚未被存活监控判定）计入离线
			snap.OfflineNodes++
		}
	}

	for _, s := range stats {
		snap.ALotsSum += s.ALots
		snap.BLotsSum += s.BLots
		snap.LotsDiffSum += s.LotsDiff
		snap.AProfitSum += s.AProfit
		snap.BProfitSum += s.BProfit
		snap.ABProfitSum += s.ABProfit
		snap.InterestSum += s.Interest
		snap.OpenLotsSum += s.OpenLots
		snap.CommissionTotal += s.CommissionPerLot * s.ALots
	}

	if denom := snap.ALotsSum + snap.BLotsSum; denom != 0 {
		snap.CostPerLot = snap.ABProfitSum / denom
	}

	if err := e.store.UpsertSnapshot(snap); err != nil {
		e.recordFailure(tradingDate, err)
		return nil, fmt.Errorf("写入快照失败: %w", err)
	}

	e.promMetr.RecordSnapshotDuration(trigger, time.Since(start))
	logger.Info("📊 汇总完成: %s 节点=%d 在线=%d A手数=%.2f AB盈亏=%.2f",
		tradingDate, snap.TotalNodes, snap.OnlineNodes, snap.ALotsSum, snap.ABProfitSum)

	if e.bus != nil {
		e.bus.Publish(&event.Event{
			Type:      event.EventTypeSnapshotCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"交易日":  tradingDate,
				"节点数":  snap.TotalNodes,
				"AB盈亏": snap.ABProfitSum,
			},
		})
	}

	return snap, nil
}

// recordFailure 记录汇总失败并广播事件
func (e *Engine) recordFailure(tradingDate string, err error) {
	e.promMetr.RecordSnapshotFailure()
	if e.bus != nil {
		e.bus.Publish(&event.Event{
			Type:      event.EventTypeSnapshotFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"交易日": tradingDate,
				"错误":  err.Error(),
			},
		})
	}
}

// Manual 手动触发汇总；日期为空时取当前交易日
func (e *Engine) Manual(tradingDate string) (*storage.DailySnapshot, error) {
	if tradingDate == "" {
		tradingDate = e.cal.Today()
	}
	return e.ComputeAndStore(tradingDate, "manual")
}

// RunScheduled 换日定时任务：为刚结束的交易日（昨天）生成快照。
// 启用分布式锁时用 TryLock 保证多实例只有一个执行。
func (e *Engine) RunScheduled(ctx context.Context) {
	tradingDate := e.cal.Yesterday()

	ok, err := e.dlock.TryLock(ctx, rolloverLockKey, e.lockTTL)
	if err != nil {
		logger.Warn("⚠️ 获取汇总锁失败, 本实例继续执行: %v", err)
	} else if !ok {
		e.promMetr.RecordLockAcquire(rolloverLockKey, "skipped")
		logger.Info("⏭️ 其他实例正在执行汇总, 跳过: %s", tradingDate)
		return
	} else {
		e.promMetr.RecordLockAcquire(rolloverLockKey, "success")
		defer func() {
			if err := e.dlock.Unlock(ctx, rolloverLockKey); err != nil {
				logger.Warn("⚠️ 释放汇总锁失败: %v", err)
			}
		}()
	}

	if _, err := e.ComputeAndStore(tradingDate, "scheduled"); err != nil {
		logger.Error("❌ 换日汇总失败: %s: %v", tradingDate, err)
	}
}

// ReconcileRecent 自愈对账：回看最近 days 个已结束的交易日，
// 补算缺失的快照，重算"全零但有非零底层统计"的坏快照（先删再算）。
// 单个日期失败不影响其余日期。
func (e *Engine) ReconcileRecent(days int) {
	if days <= 0 {
		return
	}

	yesterday := e.cal.Yesterday()
	repaired := 0

	for i := 0; i < days; i++ {
		date := calendar.AddDays(yesterday, -i)

		if err := e.reconcileDate(date, &repaired); err != nil {
			logger.Error("❌ 对账失败: %s: %v", date, err)
		}
	}

	if repaired > 0 {
		logger.Info("🔧 对账完成: 修复 %d 个交易日的快照", repaired)
	} else {
		logger.Info("✅ 对账完成: 最近 %d 个交易日的快照完好", days)
	}
}

// reconcileDate 对账单个交易日
func (e *Engine) reconcileDate(date string, repaired *int) error {
	snap, err := e.store.GetSnapshot(date)
	if err != nil && err != storage.ErrSnapshotNotFound {
		return fmt.Errorf("查询快照失败: %w", err)
	}

	if snap == nil {
		// 缺失：直接补算
		if _, err := e.ComputeAndStore(date, "reconcile"); err != nil {
			return err
		}
		*repaired++
		return nil
	}

	if !allZeroSums(snap) {
		return nil
	}

	stats, err := e.store.StatsForDate(date)
	if err != nil {
		return fmt.Errorf("查询日统计失败: %w", err)
	}
	if !anyNonZeroStat(stats) {
		// 真的没有数据，全零快照是正确的
		return nil
	}

	// 坏快照：先删再算，避免残留旧行
	logger.Warn("🩹 发现全零坏快照, 重算: %s", date)
	if err := e.store.DeleteSnapshot(date); err != nil {
		return fmt.Errorf("删除坏快照失败: %w", err)
	}
	if _, err := e.ComputeAndStore(date, "reconcile"); err != nil {
		return err
	}
	*repaired++
	return nil
}

// allZeroSums 判断快照的全部数值汇总是否为零
func allZeroSums(s *storage.DailySnapshot) bool {
	return s.ALotsSum == 0 && s.BLotsSum == 0 && s.LotsDiffSum == 0 &&
		s.AProfitSum == 0 && s.BProfitSum == 0 && s.ABProfitSum == 0 &&
		s.InterestSum == 0 && s.OpenLotsSum == 0 &&
		s.CostPerLot == 0 && s.CommissionTotal == 0
}

// anyNonZeroStat 判断底层统计中是否存在非零值
func anyNonZeroStat(stats []*storage.DailyNodeStat) bool {
	for _, s := range stats {
		if s.ALots != 0 || s.BLots != 0 || s.LotsDiff != 0 ||
			s.AProfit != 0 || s.BProfit != 0 || s.ABProfit != 0 ||
			s.Interest != 0 || s.CommissionPerLot != 0 || s.OpenLots != 0 {
			return true
		}
	}
	return false
}
