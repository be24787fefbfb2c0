package storage

import "time"

// 节点状态
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DefaultGroup 节点默认分组
const DefaultGroup = "A"

// Node 节点模型：一个远程上报的交易机器人实例
type Node struct {
	ID              string     `gorm:"primaryKey;size:64" json:"id"`
	Name            string     `gorm:"size:128" json:"name"`
	Broker          string     `gorm:"size:128" json:"broker"`
	Account         string     `gorm:"size:64" json:"account"`
	Group           string     `gorm:"column:node_group;size:32;default:A" json:"group"`
	Status          string     `gorm:"size:16;default:offline" json:"status"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at"`

	// 最近一次心跳携带的持仓快照
	OpenBuyLots  float64 `json:"open_buy_lots"`
	OpenSellLots float64 `json:"open_sell_lots"`
	FloatingPnl  float64 `json:"floating_pnl"`
	Balance      float64 `json:"balance"`
	Equity       float64 `json:"equity"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DailyNodeStat 单节点单交易日的统计记录。
// (node_id, trading_date) 唯一；重复写入为整行覆盖（节点上报的是当日累计值，不是增量）。
type DailyNodeStat struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	NodeID      string `gorm:"size:64;uniqueIndex:idx_stat_node_date" json:"node_id"`
	TradingDate string `gorm:"size:10;uniqueIndex:idx_stat_node_date;index:idx_stat_date" json:"trading_date"`

	ALots    float64 `json:"a_lots"`
	BLots    float64 `json:"b_lots"`
	LotsDiff float64 `json:"lots_diff"`
	// ab_profit 由节点上报而非两腿相加，保留上报端的舍入
	AProfit          float64 `json:"a_profit"`
	BProfit          float64 `json:"b_profit"`
	ABProfit         float64 `json:"ab_profit"`
	Interest         float64 `json:"interest"`
	CostPerLot       float64 `json:"cost_per_lot"`
	CommissionPerLot float64 `json:"commission_per_lot"`
	OpenLots         float64 `json:"open_lots"`

	ReportedAt time.Time `json:"reported_at"`
}

// DailySnapshot 全节点的每日汇总快照，每个交易日一行
type DailySnapshot struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	TradingDate string `gorm:"size:10;uniqueIndex" json:"trading_date"`

	TotalNodes   int `json:"total_nodes"`
	OnlineNodes  int `json:"online_nodes"`
	OfflineNodes int `json:"offline_nodes"`

	ALotsSum    float64 `json:"a_lots_sum"`
	BLotsSum    float64 `json:"b_lots_sum"`
	LotsDiffSum float64 `json:"lots_diff_sum"`
	AProfitSum  float64 `json:"a_profit_sum"`
	BProfitSum  float64 `json:"b_profit_sum"`
	ABProfitSum float64 `json:"ab_profit_sum"`
	InterestSum float64 `json:"interest_sum"`
	OpenLotsSum float64 `json:"open_lots_sum"`

	// cost_per_lot = ab_profit_sum / (a_lots_sum + b_lots_sum)，分母为0时取0
	CostPerLot float64 `json:"cost_per_lot"`
	// commission_total 按节点逐个加权：Σ(commission_per_lot_i × a_lots_i)
	CommissionTotal float64 `json:"commission_total"`

	CreatedAt time.Time `json:"created_at"`
}

// ReportRequest 主动报告请求：节点轮询并一次性消费
type ReportRequest struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	NodeID      *string    `gorm:"size:64;index" json:"node_id"` // nil 表示面向全部节点
	RequestedAt time.Time  `json:"requested_at"`
	ConsumedAt  *time.Time `json:"consumed_at"`
}

// StateTransition 节点状态变更审计记录（只追加）
type StateTransition struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	NodeID     string    `gorm:"size:64;index" json:"node_id"`
	FromStatus string    `gorm:"size:16" json:"from_status"`
	ToStatus   string    `gorm:"size:16" json:"to_status"`
	At         time.Time `gorm:"index" json:"at"`
	Notified   bool      `json:"notified"`
}
