package notify

import (
	"sync"
	"time"

	"nodemesh/config"
	"nodemesh/event"
	"nodemesh/logger"
)

// Notifier 通知接口
type Notifier interface {
	Send(evt *event.Event) error
	Name() string
}

// NotificationService 通知服务：把节点事件扇出到所有启用的通知渠道。
// 发送为异步、尽力而为；失败只记日志，绝不向调用方传播。
type NotificationService struct {
	notifiers []Notifier

	mu    sync.RWMutex
	rules rules
}

type rules struct {
	enabled        bool
	nodeOffline    bool
	nodeOnline     bool
	snapshotFailed bool
}

// NewNotificationService 创建通知服务
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{}
	ns.ApplyConfig(cfg)

	// 初始化启用的通知渠道
	if cfg.Notifications.Enabled {
		if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
			telegramNotifier, err := NewTelegramNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, telegramNotifier)
				logger.Info("✅ Telegram 通知已启用")
			}
		}

		if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
			webhookNotifier, err := NewWebhookNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, webhookNotifier)
				logger.Info("✅ Webhook 通知已启用")
			}
		}

		if cfg.Notifications.Feishu.Enabled && cfg.Notifications.Feishu.Webhook != "" {
			feishuNotifier, err := NewFeishuNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化飞书通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, feishuNotifier)
				logger.Info("✅ 飞书通知已启用")
			}
		}
	}

	return ns
}

// ApplyConfig 应用可热更的通知规则
func (ns *NotificationService) ApplyConfig(cfg *config.Config) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.rules = rules{
		enabled:        cfg.Notifications.Enabled,
		nodeOffline:    cfg.Notifications.Rules.NodeOffline,
		nodeOnline:     cfg.Notifications.Rules.NodeOnline,
		snapshotFailed: cfg.Notifications.Rules.SnapshotFailed,
	}
}

// shouldNotify 检查是否需要通知
func (ns *NotificationService) shouldNotify(eventType event.EventType) bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	if !ns.rules.enabled {
		return false
	}

	switch eventType {
	case event.EventTypeNodeOffline:
		return ns.rules.nodeOffline
	case event.EventTypeNodeOnline:
		return ns.rules.nodeOnline
	case event.EventTypeSnapshotFailed:
		return ns.rules.snapshotFailed
	default:
		// 其他事件默认通知
		return true
	}
}

// Send 发送通知（异步，不阻塞）
func (ns *NotificationService) Send(evt *event.Event) {
	if evt == nil {
		return
	}

	if !ns.shouldNotify(evt.Type) {
		return
	}

	go func() {
		var wg sync.WaitGroup
		for _, notifier := range ns.notifiers {
			wg.Add(1)
			go func(n Notifier) {
				defer wg.Done()
				if err := n.Send(evt); err != nil {
					logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
				}
			}(notifier)
		}
		wg.Wait()
	}()
}

// NotifyCustom 自定义文本通知（运维操作使用）
func (ns *NotificationService) NotifyCustom(text string) {
	ns.Send(&event.Event{
		Type:      event.EventTypeCustom,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"消息": text,
		},
	})
}
