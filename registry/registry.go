package registry

import (
	"fmt"
	"time"

	"nodemesh/calendar"
	"nodemesh/logger"
	"nodemesh/metrics"
	"nodemesh/monitor"
	"nodemesh/storage"
)

// HeartbeatInput 心跳上报载荷。指针字段表示可选：未携带时沿用库中已有值。
type HeartbeatInput struct {
	Name    *string `json:"name"`
	Broker  *string `json:"broker"`
	Account *string `json:"account"`
	Group   *string `json:"group"`

	OpenBuyLots  *float64 `json:"open_buy_lots"`
	OpenSellLots *float64 `json:"open_sell_lots"`
	FloatingPnl  *float64 `json:"floating_pnl"`
	Balance      *float64 `json:"balance"`
	Equity       *float64 `json:"equity"`
}

// EnrichedNode 节点视图：注册信息 + 今日统计 + 实时在线判定
type EnrichedNode struct {
	*storage.Node
	TodayStat *storage.DailyNodeStat `json:"today_stat"`
	Alive     bool                   `json:"alive"`
}

// Registry 节点注册表服务
type Registry struct {
	store    storage.Storage
	cal      *calendar.Calendar
	timeout  time.Duration
	promMetr *metrics.PrometheusMetrics
}

// NewRegistry 创建节点注册表
func NewRegistry(store storage.Storage, cal *calendar.Calendar, timeout time.Duration) *Registry {
	return &Registry{
		store:    store,
		cal:      cal,
		timeout:  timeout,
		promMetr: metrics.GetPrometheusMetrics(),
	}
}

// RecordHeartbeat 处理一次心跳：按 ID upsert 节点并刷新 LastHeartbeatAt。
// 节点状态（online/offline）由存活监控独占维护，这里绝不触碰。
func (r *Registry) RecordHeartbeat(nodeID string, input *HeartbeatInput) (*storage.Node, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("节点 ID 不能为空")
	}

	// 先取已有记录，可选字段未携带时沿用旧值
	node, err := r.store.GetNode(nodeID)
	if err != nil && err != storage.ErrNodeNotFound {
		return nil, fmt.Errorf("查询节点失败: %w", err)
	}
	if node == nil {
		node = &storage.Node{
			ID:    nodeID,
			Group: storage.DefaultGroup,
		}
	}

	if input != nil {
		if input.Name != nil {
			node.Name = *input.Name
		}
		if input.Broker != nil {
			node.Broker = *input.Broker
		}
		if input.Account != nil {
			node.Account = *input.Account
		}
		if input.Group != nil && *input.Group != "" {
			node.Group = *input.Group
		}
		if input.OpenBuyLots != nil {
			node.OpenBuyLots = *input.OpenBuyLots
		}
		if input.OpenSellLots != nil {
			node.OpenSellLots = *input.OpenSellLots
		}
		if input.FloatingPnl != nil {
			node.FloatingPnl = *input.FloatingPnl
		}
		if input.Balance != nil {
			node.Balance = *input.Balance
		}
		if input.Equity != nil {
			node.Equity = *input.Equity
		}
	}

	now := time.Now()
	node.LastHeartbeatAt = &now

	if err := r.store.UpsertNodeHeartbeat(node); err != nil {
		return nil, fmt.Errorf("写入心跳失败: %w", err)
	}

	r.promMetr.RecordHeartbeat(nodeID, node.Group)
	logger.Debug("💓 收到心跳: %s (%s)", nodeID, node.Name)

	return node, nil
}

// Get 按 ID 查询节点
func (r *Registry) Get(nodeID string) (*storage.Node, error) {
	return r.store.GetNode(nodeID)
}

// GetAllEnriched 返回全部节点，附带今日统计和实时存活判定
func (r *Registry) GetAllEnriched() ([]*EnrichedNode, error) {
	nodes, err := r.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("查询节点列表失败: %w", err)
	}

	today := r.cal.Today()
	stats, err := r.store.StatsForDate(today)
	if err != nil {
		return nil, fmt.Errorf("查询今日统计失败: %w", err)
	}

	statByNode := make(map[string]*storage.DailyNodeStat, len(stats))
	for _, s := range stats {
		statByNode[s.NodeID] = s
	}

	now := time.Now()
	result := make([]*EnrichedNode, 0, len(nodes))
	for _, n := range nodes {
		result = append(result, &EnrichedNode{
			Node:      n,
			TodayStat: statByNode[n.ID],
			Alive:     monitor.Status(n.LastHeartbeatAt, now, r.timeout) == storage.StatusOnline,
		})
	}

	return result, nil
}

// Delete 删除节点，级联删除其全部日统计
func (r *Registry) Delete(nodeID string) error {
	if err := r.store.DeleteNode(nodeID); err != nil {
		return err
	}
	logger.Info("🗑️ 节点已删除: %s", nodeID)
	return nil
}
