package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"gorm.io/gorm/clause"
)

// 存储层哨兵错误
var (
	ErrNodeNotFound     = errors.New("节点不存在")
	ErrSnapshotNotFound = errors.New("快照不存在")
	ErrRequestNotFound  = errors.New("报告请求不存在或已消费")
)

// Storage 存储接口
type Storage interface {
	// 节点
	GetNode(id string) (*Node, error)
	ListNodes() ([]*Node, error)
	UpsertNodeHeartbeat(node *Node) error
	UpdateNodeStatus(id, status string) error
	DeleteNode(id string) error

	// 单节点日统计
	UpsertDailyStat(stat *DailyNodeStat) error
	StatsForDate(tradingDate string) ([]*DailyNodeStat, error)
	StatsForNodeInRange(nodeID, start, end string) ([]*DailyNodeStat, error)
	ClearStats() error
	ClearStatsForDate(tradingDate, group string) error

	// 每日汇总快照
	UpsertSnapshot(snapshot *DailySnapshot) error
	GetSnapshot(tradingDate string) (*DailySnapshot, error)
	ListSnapshots(limit int) ([]*DailySnapshot, error)
	SnapshotsInRange(start, end string) ([]*DailySnapshot, error)
	DeleteSnapshot(tradingDate string) error

	// 报告请求
	CreateReportRequests(requests []*ReportRequest) error
	PendingRequestForNode(nodeID string) (*ReportRequest, error)
	ConsumeRequest(requestID string, at time.Time) error
	CountPendingRequests() (int64, error)
	CleanupRequests(before time.Time) (int64, error)

	// 状态变更审计
	AppendTransition(tr *StateTransition) error
	TransitionsForNode(nodeID string, limit int) ([]*StateTransition, error)
	CleanupTransitions(before time.Time) (int64, error)

	Close() error
}

// DBConfig 数据库配置
type DBConfig struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

// GormStorage GORM 存储实现
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage 创建 GORM 存储实例
func NewGormStorage(cfg *DBConfig) (*GormStorage, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "sqlite":
		// 确保数据目录存在
		if dir := filepath.Dir(cfg.DSN); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("创建数据目录失败: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Type)
	}

	logLevel := gormlogger.Silent
	switch cfg.LogLevel {
	case "error":
		logLevel = gormlogger.Error
	case "warn":
		logLevel = gormlogger.Warn
	case "info":
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层连接失败: %w", err)
	}

	// 配置连接池；sqlite 限制单写连接，由数据库序列化并发写入
	if cfg.Type == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// 自动迁移
	if err := db.AutoMigrate(
		&Node{},
		&DailyNodeStat{},
		&DailySnapshot{},
		&ReportRequest{},
		&StateTransition{},
	); err != nil {
		return nil, fmt.Errorf("自动迁移失败: %w", err)
	}

	return &GormStorage{db: db}, nil
}

// ===== 节点 =====

// GetNode 按 id 获取节点
func (g *GormStorage) GetNode(id string) (*Node, error) {
	var node Node
	if err := g.db.First(&node, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("查询节点失败: %w", err)
	}
	return &node, nil
}

// ListNodes 列出全部节点
func (g *GormStorage) ListNodes() ([]*Node, error) {
	var nodes []*Node
	if err := g.db.Order("id").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("查询节点列表失败: %w", err)
	}
	return nodes, nil
}

// UpsertNodeHeartbeat 按 id 插入或更新节点心跳信息。
// 冲突时只覆盖心跳相关列，status 由在线状态监控独占维护。
func (g *GormStorage) UpsertNodeHeartbeat(node *Node) error {
	err := g.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "broker", "account", "node_group",
			"last_heartbeat_at",
			"open_buy_lots", "open_sell_lots", "floating_pnl", "balance", "equity",
			"updated_at",
		}),
	}).Create(node).Error
	if err != nil {
		return fmt.Errorf("写入节点心跳失败: %w", err)
	}
	return nil
}

// UpdateNodeStatus 更新节点在线状态
func (g *GormStorage) UpdateNodeStatus(id, status string) error {
	result := g.db.Model(&Node{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("更新节点状态失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// DeleteNode 删除节点，并级联删除其统计记录
func (g *GormStorage) DeleteNode(id string) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("node_id = ?", id).Delete(&DailyNodeStat{}).Error; err != nil {
			return fmt.Errorf("删除节点统计失败: %w", err)
		}
		result := tx.Delete(&Node{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("删除节点失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNodeNotFound
		}
		return nil
	})
}

// ===== 单节点日统计 =====

// UpsertDailyStat 按 (node_id, trading_date) 整行覆盖写入
func (g *GormStorage) UpsertDailyStat(stat *DailyNodeStat) error {
	err := g.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "node_id"}, {Name: "trading_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"a_lots", "b_lots", "lots_diff",
			"a_profit", "b_profit", "ab_profit",
			"interest", "cost_per_lot", "commission_per_lot", "open_lots",
			"reported_at",
		}),
	}).Create(stat).Error
	if err != nil {
		return fmt.Errorf("写入日统计失败: %w", err)
	}
	return nil
}

// StatsForDate 某交易日的全部统计记录
func (g *GormStorage) StatsForDate(tradingDate string) ([]*DailyNodeStat, error) {
	var stats []*DailyNodeStat
	if err := g.db.Where("trading_date = ?", tradingDate).Order("node_id").Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("查询日统计失败: %w", err)
	}
	return stats, nil
}

// StatsForNodeInRange 单节点在日期区间内的统计记录（按日期倒序）
func (g *GormStorage) StatsForNodeInRange(nodeID, start, end string) ([]*DailyNodeStat, error) {
	var stats []*DailyNodeStat
	err := g.db.Where("node_id = ? AND trading_date >= ? AND trading_date <= ?", nodeID, start, end).
		Order("trading_date DESC").
		Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("查询节点统计失败: %w", err)
	}
	return stats, nil
}

// ClearStats 清空全部统计记录（不动节点表）
func (g *GormStorage) ClearStats() error {
	if err := g.db.Where("1 = 1").Delete(&DailyNodeStat{}).Error; err != nil {
		return fmt.Errorf("清空统计失败: %w", err)
	}
	return nil
}

// ClearStatsForDate 清除某交易日的统计记录，group 非空时只清该分组的节点
func (g *GormStorage) ClearStatsForDate(tradingDate, group string) error {
	query := g.db.Where("trading_date = ?", tradingDate)
	if group != "" {
		query = query.Where("node_id IN (?)",
			g.db.Model(&Node{}).Select("id").Where("node_group = ?", group))
	}
	if err := query.Delete(&DailyNodeStat{}).Error; err != nil {
		return fmt.Errorf("清除日统计失败: %w", err)
	}
	return nil
}

// ===== 每日汇总快照 =====

// UpsertSnapshot 按交易日整行覆盖写入快照
func (g *GormStorage) UpsertSnapshot(snapshot *DailySnapshot) error {
	err := g.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trading_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_nodes", "online_nodes", "offline_nodes",
			"a_lots_sum", "b_lots_sum", "lots_diff_sum",
			"a_profit_sum", "b_profit_sum", "ab_profit_sum",
			"interest_sum", "open_lots_sum",
			"cost_per_lot", "commission_total",
			"created_at",
		}),
	}).Create(snapshot).Error
	if err != nil {
		return fmt.Errorf("写入快照失败: %w", err)
	}
	return nil
}

// GetSnapshot 按交易日获取快照
func (g *GormStorage) GetSnapshot(tradingDate string) (*DailySnapshot, error) {
	var snapshot DailySnapshot
	if err := g.db.First(&snapshot, "trading_date = ?", tradingDate).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("查询快照失败: %w", err)
	}
	return &snapshot, nil
}

// ListSnapshots 按日期倒序列出快照，limit<=0 表示不限制
func (g *GormStorage) ListSnapshots(limit int) ([]*DailySnapshot, error) {
	var snapshots []*DailySnapshot
	query := g.db.Order("trading_date DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("查询快照列表失败: %w", err)
	}
	return snapshots, nil
}

// SnapshotsInRange 日期区间内的快照（倒序）
func (g *GormStorage) SnapshotsInRange(start, end string) ([]*DailySnapshot, error) {
	var snapshots []*DailySnapshot
	err := g.db.Where("trading_date >= ? AND trading_date <= ?", start, end).
		Order("trading_date DESC").
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("查询快照区间失败: %w", err)
	}
	return snapshots, nil
}

// DeleteSnapshot 删除某交易日的快照
func (g *GormStorage) DeleteSnapshot(tradingDate string) error {
	if err := g.db.Where("trading_date = ?", tradingDate).Delete(&DailySnapshot{}).Error; err != nil {
		return fmt.Errorf("删除快照失败: %w", err)
	}
	return nil
}

// ===== 报告请求 =====

// CreateReportRequests 批量创建报告请求
func (g *GormStorage) CreateReportRequests(requests []*ReportRequest) error {
	if len(requests) == 0 {
		return nil
	}
	if err := g.db.Create(&requests).Error; err != nil {
		return fmt.Errorf("创建报告请求失败: %w", err)
	}
	return nil
}

// PendingRequestForNode 该节点最新的未消费请求（含面向全部节点的请求），没有则返回 nil
func (g *GormStorage) PendingRequestForNode(nodeID string) (*ReportRequest, error) {
	var request ReportRequest
	err := g.db.Where("(node_id = ? OR node_id IS NULL) AND consumed_at IS NULL", nodeID).
		Order("requested_at DESC").
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询待处理请求失败: %w", err)
	}
	return &request, nil
}

// ConsumeRequest 标记单条请求已消费，不影响其他请求
func (g *GormStorage) ConsumeRequest(requestID string, at time.Time) error {
	result := g.db.Model(&ReportRequest{}).
		Where("id = ? AND consumed_at IS NULL", requestID).
		Update("consumed_at", at)
	if result.Error != nil {
		return fmt.Errorf("消费报告请求失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// CountPendingRequests 当前未消费的请求总数
func (g *GormStorage) CountPendingRequests() (int64, error) {
	var count int64
	err := g.db.Model(&ReportRequest{}).Where("consumed_at IS NULL").Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计待处理请求失败: %w", err)
	}
	return count, nil
}

// CleanupRequests 删除保留期之前的请求（无论是否已消费）
func (g *GormStorage) CleanupRequests(before time.Time) (int64, error) {
	result := g.db.Where("requested_at < ?", before).Delete(&ReportRequest{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理报告请求失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ===== 状态变更审计 =====

// AppendTransition 追加一条状态变更记录
func (g *GormStorage) AppendTransition(tr *StateTransition) error {
	if err := g.db.Create(tr).Error; err != nil {
		return fmt.Errorf("写入状态变更记录失败: %w", err)
	}
	return nil
}

// TransitionsForNode 某节点最近的状态变更记录
func (g *GormStorage) TransitionsForNode(nodeID string, limit int) ([]*StateTransition, error) {
	var transitions []*StateTransition
	query := g.db.Where("node_id = ?", nodeID).Order("at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&transitions).Error; err != nil {
		return nil, fmt.Errorf("查询状态变更记录失败: %w", err)
	}
	return transitions, nil
}

// CleanupTransitions 删除保留期之前的状态变更记录
func (g *GormStorage) CleanupTransitions(before time.Time) (int64, error) {
	result := g.db.Where("at < ?", before).Delete(&StateTransition{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理状态变更记录失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Close 关闭数据库连接
func (g *GormStorage) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
