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

// TelegramNotifier Telegram 通知器
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(cfg *config.Config) (*TelegramNotifier, error) {
	if cfg.Notifications.Telegram.BotToken == "" || cfg.Notifications.Telegram.ChatID == "" {
		return nil, fmt.Errorf("Telegram BotToken 或 ChatID 未配置")
	}

	return &TelegramNotifier{
		botToken: cfg.Notifications.Telegram.BotToken,
		chatID:   cfg.Notifications.Telegram.ChatID,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}, nil
}

// Name 返回通知器名称
func (tn *TelegramNotifier) Name() string {
	return "Telegram"
}

// Send 发送通知
func (tn *TelegramNotifier) Send(evt *event.Event) error {
	message := formatTelegramMessage(evt)
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", tn.botToken)

	payload := map[string]interface{}{
		"chat_id":    tn.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	// 设置超时（3秒）
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Telegram API 返回错误: %d", resp.StatusCode)
	}

	return nil
}

// formatTelegramMessage 格式化 Telegram 消息
func formatTelegramMessage(evt *event.Event) string {
	emoji, title := eventTitle(evt.Type)

	message := fmt.Sprintf("%s *%s*\n", emoji, title)
	// 通知里的时间统一展示为交易时区
	message += fmt.Sprintf("时间: %s\n", utils.ToConfiguredTimezone(evt.Timestamp).Format("2006-01-02 15:04:05"))

	// 添加事件数据
	if evt.Data != nil {
		for key, value := range evt.Data {
			message += fmt.Sprintf("%s: `%v`\n", key, value)
		}
	}

	return message
}

// eventTitle 返回事件对应的图标与标题
func eventTitle(t event.EventType) (string, string) {
	switch t {
	case event.EventTypeNodeOffline:
		return "🚨", "节点离线"
	case event.EventTypeNodeOnline:
		return "✅", "节点恢复在线"
	case event.EventTypeSnapshotCompleted:
		return "📊", "每日汇总完成"
	case event.EventTypeSnapshotFailed:
		return "❌", "每日汇总失败"
	case event.EventTypeSystemStart:
		return "🚀", "系统启动"
	case event.EventTypeSystemStop:
		return "🛑", "系统停止"
	default:
		return "ℹ️", "系统通知"
	}
}
