package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nodemesh/config"
	"nodemesh/event"
	"nodemesh/utils"
)

// WebhookNotifier Webhook 通知器，把节点/汇总事件推给外部系统（值守平台、自建面板等）
type WebhookNotifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// webhookPayload 推送给外部系统的结构化消息体
type webhookPayload struct {
	Source    string                 `json:"source"`
	Event     string                 `json:"event"`
	Title     string                 `json:"title"`
	Severity  string                 `json:"severity"`
	Node      string                 `json:"node,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(cfg *config.Config) (*WebhookNotifier, error) {
	if cfg.Notifications.Webhook.URL == "" {
		return nil, fmt.Errorf("Webhook URL 未配置")
	}

	timeout := time.Duration(cfg.Notifications.Webhook.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &WebhookNotifier{
		url:     cfg.Notifications.Webhook.URL,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Name 返回通知器名称
func (wn *WebhookNotifier) Name() string {
	return "Webhook"
}

// Send 发送通知
func (wn *WebhookNotifier) Send(evt *event.Event) error {
	jsonData, err := json.Marshal(buildWebhookPayload(evt))
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), wn.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", wn.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回错误状态码: %d", resp.StatusCode)
	}

	return nil
}

// buildWebhookPayload 把内部事件转成对外的结构化消息。
// 节点事件把节点 ID 提升到顶层，方便接收方按节点路由告警。
func buildWebhookPayload(evt *event.Event) *webhookPayload {
	_, title := eventTitle(evt.Type)

	p := &webhookPayload{
		Source:    "nodemesh",
		Event:     string(evt.Type),
		Title:     title,
		Severity:  eventSeverity(evt.Type),
		Timestamp: utils.ToConfiguredTimezone(evt.Timestamp).Format(time.RFC3339),
		Detail:    evt.Data,
	}

	if node, ok := evt.Data["节点"].(string); ok {
		p.Node = node
	}

	return p
}

// eventSeverity 事件级别：离线和汇总失败需要值守介入，其余只是信息通报
func eventSeverity(t event.EventType) string {
	switch t {
	case event.EventTypeNodeOffline, event.EventTypeSnapshotFailed:
		return "critical"
	default:
		return "info"
	}
}
