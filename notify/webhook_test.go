package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nodemesh/config"
	"nodemesh/event"
)

func TestWebhookSendsStructuredPayload(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("消息体应为合法 JSON: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.Webhook.URL = srv.URL

	wn, err := NewWebhookNotifier(cfg)
	if err != nil {
		t.Fatalf("创建通知器失败: %v", err)
	}

	evt := &event.Event{
		Type:      event.EventTypeNodeOffline,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"节点": "bot-7",
			"分组": "A",
		},
	}
	if err := wn.Send(evt); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	if received.Source != "nodemesh" {
		t.Errorf("source 应为 nodemesh, 得到 %q", received.Source)
	}
	if received.Event != "node_offline" {
		t.Errorf("event 应为 node_offline, 得到 %q", received.Event)
	}
	if received.Node != "bot-7" {
		t.Errorf("节点 ID 应提升到顶层, 得到 %q", received.Node)
	}
	if received.Severity != "critical" {
		t.Errorf("离线事件级别应为 critical, 得到 %q", received.Severity)
	}
	if received.Detail["分组"] != "A" {
		t.Errorf("detail 应保留原始事件数据, 得到 %v", received.Detail)
	}
}

func TestWebhookRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.Webhook.URL = srv.URL

	wn, err := NewWebhookNotifier(cfg)
	if err != nil {
		t.Fatalf("创建通知器失败: %v", err)
	}

	if err := wn.Send(&event.Event{Type: event.EventTypeCustom, Timestamp: time.Now()}); err == nil {
		t.Error("非 2xx 响应应返回错误")
	}
}

func TestEventSeverity(t *testing.T) {
	cases := []struct {
		t    event.EventType
		want string
	}{
		{event.EventTypeNodeOffline, "critical"},
		{event.EventTypeSnapshotFailed, "critical"},
		{event.EventTypeNodeOnline, "info"},
		{event.EventTypeSnapshotCompleted, "info"},
		{event.EventTypeSystemStart, "info"},
	}
	for _, tc := range cases {
		if got := eventSeverity(tc.t); got != tc.want {
			t.Errorf("eventSeverity(%s) = %s, 期望 %s", tc.t, got, tc.want)
		}
	}
}
