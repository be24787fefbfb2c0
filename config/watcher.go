package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"nodemesh/logger"
)

// Watcher 配置文件监控器，文件变化时重新加载并下发可热更字段
type Watcher struct {
	configPath string
	watcher    *fsnotify.Watcher
	onChange   func(*Config)
	mu         sync.Mutex
	isWatching bool
}

// NewWatcher 创建配置监控器
func NewWatcher(configPath string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &Watcher{
		configPath: configPath,
		watcher:    fw,
		onChange:   onChange,
	}, nil
}

// Start 开始监控配置文件
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isWatching {
		return fmt.Errorf("配置监控器已经在运行")
	}

	// 监控配置文件所在目录（编辑器通常以重命名方式保存文件）
	configDir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(configDir); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	w.isWatching = true
	go w.watchLoop(ctx)

	logger.Info("✅ 配置热更新监控已启动: %s", w.configPath)
	return nil
}

// Stop 停止监控
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isWatching {
		return nil
	}
	w.isWatching = false
	return w.watcher.Close()
}

// watchLoop 监控循环（带去抖，避免编辑器多次写入触发多次加载）
func (w *Watcher) watchLoop(ctx context.Context) {
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("⚠️ 配置文件监控错误: %v", err)
		}
	}
}

// reload 重新加载配置并通知订阅者
func (w *Watcher) reload() {
	cfg, err := Load(w.configPath)
	if err != nil {
		logger.Error("❌ 配置热更新失败，保留旧配置: %v", err)
		return
	}

	logger.Info("🔄 配置文件已变化，应用可热更字段")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
