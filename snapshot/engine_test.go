package snapshot

import (
	"path/filepath"
	"testing"
	"time"

	"nodemesh/calendar"
	"nodemesh/storage"
)

func newTestEngine(t *testing.T) (*Engine, storage.Storage) {
	t.Helper()

	store, err := storage.NewGormStorage(&storage.DBConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "snapshot_test.db"),
	})
	if err != nil {
		t.Fatalf("创建测试存储失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cal := calendar.New(time.UTC, calendar.DefaultRolloverMinutes)
	return NewEngine(store, cal, nil, nil, 0), store
}

func seedNode(t *testing.T, store storage.Storage, id, status string) {
	t.Helper()
	now := time.Now()
	if err := store.UpsertNodeHeartbeat(&storage.Node{ID: id, LastHeartbeatAt: &now}); err != nil {
		t.Fatalf("写入节点失败: %v", err)
	}
	if status != "" {
		if err := store.UpdateNodeStatus(id, status); err != nil {
			t.Fatalf("更新状态失败: %v", err)
		}
	}
}

func TestComputeAndStoreSums(t *testing.T) {
	e, store := newTestEngine(t)
	date := "2026-08-30"

	seedNode(t, store, "node-1", storage.StatusOnline)
	seedNode(t, store, "node-2", storage.StatusOffline)
	seedNode(t, store, "node-3", "")

	// node-1: 佣金 7/手 × A腿 1 手; node-2: 佣金 3/手 × A腿 2 手
	stats := []*storage.DailyNodeStat{
		{NodeID: "node-1", TradingDate: date, ALots: 1, BLots: 1, ABProfit: 10, Interest: 0.5, CommissionPerLot: 7, OpenLots: 2},
		{NodeID: "node-2", TradingDate: date, ALots: 2, BLots: 2, ABProfit: 20, Interest: 1.5, CommissionPerLot: 3, OpenLots: 0},
	}
	for _, s := range stats {
		if err := store.UpsertDailyStat(s); err != nil {
			t.Fatalf("写入统计失败: %v", err)
		}
	}

	snap, err := e.ComputeAndStore(date, "manual")
	if err != nil {
		t.Fatalf("汇总失败: %v", err)
	}

	if snap.TotalNodes != 3 {
		t.Errorf("总节点数错误: %d", snap.TotalNodes)
	}
	if snap.OnlineNodes != 1 || snap.OfflineNodes != 2 {
		t.Errorf("在线/离线统计错误: online=%d offline=%d", snap.OnlineNodes, snap.OfflineNodes)
	}
	if snap.ALotsSum != 3 || snap.BLotsSum != 3 {
		t.Errorf("手数求和错误: a=%v b=%v", snap.ALotsSum, snap.BLotsSum)
	}
	if snap.ABProfitSum != 30 {
		t.Errorf("AB盈亏求和错误: %v", snap.ABProfitSum)
	}
	if snap.InterestSum != 2 {
		t.Errorf("利息求和错误: %v", snap.InterestSum)
	}

	// 佣金逐节点加权: 7×1 + 3×2 = 13, 不是 (7+3)×(1+2)
	if snap.CommissionTotal != 13 {
		t.Errorf("佣金加权错误: 期望 13, 实际 %v", snap.CommissionTotal)
	}

	// 每手成本: 30 / (3+3) = 5
	if snap.CostPerLot != 5 {
		t.Errorf("每手成本错误: 期望 5, 实际 %v", snap.CostPerLot)
	}
}

func TestComputeAndStoreZeroDenominator(t *testing.T) {
	e, store := newTestEngine(t)
	date := "2026-08-30"

	seedNode(t, store, "node-1", storage.StatusOnline)
	if err := store.UpsertDailyStat(&storage.DailyNodeStat{
		NodeID: "node-1", TradingDate: date, Interest: 3,
	}); err != nil {
		t.Fatalf("写入统计失败: %v", err)
	}

	snap, err := e.ComputeAndStore(date, "manual")
	if err != nil {
		t.Fatalf("汇总失败: %v", err)
	}
	if snap.CostPerLot != 0 {
		t.Errorf("零手数时每手成本应为 0, 实际 %v", snap.CostPerLot)
	}
}

func TestComputeAndStoreIdempotent(t *testing.T) {
	e, store := newTestEngine(t)
	date := "2026-08-30"

	seedNode(t, store, "node-1", storage.StatusOnline)
	if err := store.UpsertDailyStat(&storage.DailyNodeStat{
		NodeID: "node-1", TradingDate: date, ALots: 5,
	}); err != nil {
		t.Fatalf("写入统计失败: %v", err)
	}

	if _, err := e.ComputeAndStore(date, "manual"); err != nil {
		t.Fatalf("首次汇总失败: %v", err)
	}
	if _, err := e.ComputeAndStore(date, "manual"); err != nil {
		t.Fatalf("重复汇总失败: %v", err)
	}

	snaps, err := store.ListSnapshots(10)
	if err != nil {
		t.Fatalf("查询快照失败: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("同一交易日应只有一行快照, 实际 %d", len(snaps))
	}
	if snaps[0].ALotsSum != 5 {
		t.Errorf("快照值错误: %v", snaps[0].ALotsSum)
	}
}

func TestManualDefaultsToToday(t *testing.T) {
	e, store := newTestEngine(t)

	snap, err := e.Manual("")
	if err != nil {
		t.Fatalf("手动汇总失败: %v", err)
	}

	cal := calendar.New(time.UTC, calendar.DefaultRolloverMinutes)
	if snap.TradingDate != cal.Today() {
		t.Errorf("默认交易日错误: %s", snap.TradingDate)
	}

	if _, err := store.GetSnapshot(snap.TradingDate); err != nil {
		t.Errorf("快照未落库: %v", err)
	}
}

func TestReconcileRecomputesMissing(t *testing.T) {
	e, store := newTestEngine(t)
	cal := calendar.New(time.UTC, calendar.DefaultRolloverMinutes)
	date := cal.Yesterday()

	seedNode(t, store, "node-1", storage.StatusOnline)
	if err := store.UpsertDailyStat(&storage.DailyNodeStat{
		NodeID: "node-1", TradingDate: date, ALots: 4, ABProfit: 8,
	}); err != nil {
		t.Fatalf("写入统计失败: %v", err)
	}

	e.ReconcileRecent(3)

	snap, err := store.GetSnapshot(date)
	if err != nil {
		t.Fatalf("缺失快照未补算: %v", err)
	}
	if snap.ALotsSum != 4 {
		t.Errorf("补算结果错误: %v", snap.ALotsSum)
	}
}

func TestReconcileRepairsZeroedSnapshot(t *testing.T) {
	e, store := newTestEngine(t)
	cal := calendar.New(time.UTC, calendar.DefaultRolloverMinutes)
	date := cal.Yesterday()

	seedNode(t, store, "node-1", storage.StatusOnline)
	if err := store.UpsertDailyStat(&storage.DailyNodeStat{
		NodeID: "node-1", TradingDate: date, ALots: 4, ABProfit: 8,
	}); err != nil {
		t.Fatalf("写入统计失败: %v", err)
	}

	// 坏快照：全零但底层统计非零
	if err := store.UpsertSnapshot(&storage.DailySnapshot{TradingDate: date}); err != nil {
		t.Fatalf("写入坏快照失败: %v", err)
	}

	e.ReconcileRecent(1)

	snap, err := store.GetSnapshot(date)
	if err != nil {
		t.Fatalf("查询快照失败: %v", err)
	}
	if snap.ALotsSum != 4 || snap.ABProfitSum != 8 {
		t.Errorf("坏快照未修复: a=%v ab=%v", snap.ALotsSum, snap.ABProfitSum)
	}
}

func TestReconcileLeavesLegitZeroSnapshot(t *testing.T) {
	e, store := newTestEngine(t)
	cal := calendar.New(time.UTC, calendar.DefaultRolloverMinutes)
	date := cal.Yesterday()

	// 没有任何底层统计，全零快照是合法的
	if err := store.UpsertSnapshot(&storage.DailySnapshot{TradingDate: date, TotalNodes: 2}); err != nil {
		t.Fatalf("写入快照失败: %v", err)
	}

	e.ReconcileRecent(1)

	snap, err := store.GetSnapshot(date)
	if err != nil {
		t.Fatalf("查询快照失败: %v", err)
	}
	// TotalNodes 保留说明快照没有被重算覆盖
	if snap.TotalNodes != 2 {
		t.Errorf("合法全零快照不应被重算: TotalNodes=%d", snap.TotalNodes)
	}
}
