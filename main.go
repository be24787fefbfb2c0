package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nodemesh/calendar"
	"nodemesh/config"
	"nodemesh/event"
	"nodemesh/ledger"
	"nodemesh/lock"
	"nodemesh/logger"
	"nodemesh/monitor"
	"nodemesh/notify"
	"nodemesh/registry"
	"nodemesh/report"
	"nodemesh/scheduler"
	"nodemesh/snapshot"
	"nodemesh/storage"
	"nodemesh/utils"
	"nodemesh/web"
)

// Version 版本号
var Version = "1.2.0"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-version" || os.Args[1] == "--version") {
		fmt.Printf("NodeMesh Fleet Hub\n")
		fmt.Printf("Version: %s\n", Version)
		os.Exit(0)
	}

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("❌ 加载配置失败: %v", err)
	}

	// 日志与时区：所有交易日计算统一走配置的交易时区
	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Fatal("❌ 设置时区失败: %v", err)
	}
	logger.SetLocation(utils.GlobalLocation)

	logger.Info("🚀 NodeMesh 节点监控中枢启动...")
	logger.Info("📦 版本号: %s", Version)
	logger.Info("🕐 交易时区: %s, 换日时刻: 午夜+%d分钟", cfg.System.Timezone, *cfg.System.RolloverMinutes)

	cal := calendar.New(utils.GlobalLocation, *cfg.System.RolloverMinutes)

	// 存储
	store, err := storage.NewGormStorage(&storage.DBConfig{
		Type:            cfg.Database.Type,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		logger.Fatal("❌ 初始化存储失败: %v", err)
	}
	defer store.Close()
	logger.Info("✅ 存储已就绪 (%s)", cfg.Database.Type)

	// 事件总线与通知
	bus := event.NewEventBus(cfg.EventBus.BufferSize)
	notifier := notify.NewNotificationService(cfg)

	// 分布式锁（未启用时为空实现）
	dlock, err := lock.NewDistributedLock(&lock.Config{
		Enabled:    cfg.DistributedLock.Enabled,
		Prefix:     cfg.DistributedLock.Prefix,
		DefaultTTL: time.Duration(cfg.DistributedLock.DefaultTTL) * time.Second,
		Redis: lock.RedisConfig{
			Addr:     cfg.DistributedLock.Redis.Addr,
			Password: cfg.DistributedLock.Redis.Password,
			DB:       cfg.DistributedLock.Redis.DB,
			PoolSize: cfg.DistributedLock.Redis.PoolSize,
		},
	})
	if err != nil {
		logger.Fatal("❌ 初始化分布式锁失败: %v", err)
	}
	defer dlock.Close()

	// 领域服务
	livenessTimeout := time.Duration(cfg.Liveness.TimeoutSeconds) * time.Second
	reg := registry.NewRegistry(store, cal, livenessTimeout)
	led := ledger.NewLedger(store)
	engine := snapshot.NewEngine(store, cal, bus, dlock,
		time.Duration(cfg.DistributedLock.DefaultTTL)*time.Second)
	coord := report.NewCoordinator(store)
	liveness := monitor.NewLivenessMonitor(store, cal, bus,
		time.Duration(cfg.Liveness.PollInterval)*time.Second, livenessTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 事件分发：通知渠道 + WebSocket 看板各得一份
	go func() {
		for evt := range bus.Subscribe() {
			notifier.Send(evt)
			web.BroadcastEvent(evt)
		}
	}()

	// 启动自愈对账：补齐/修复最近几个交易日的汇总快照
	go engine.ReconcileRecent(cfg.Snapshot.ReconcileDays)

	// 存活监控
	liveness.Start(ctx)

	// 定时任务
	sched := scheduler.NewScheduler(cal, engine, coord, store,
		cfg.Reports.ScheduleTimes, cfg.Reports.RetentionDays, cfg.Transitions.RetentionDays)
	if err := sched.RegisterAll(ctx); err != nil {
		logger.Fatal("❌ 注册定时任务失败: %v", err)
	}
	sched.Start()

	// Web 服务
	server := web.NewServer(cfg, reg, led, engine, coord, liveness, notifier, store)
	if err := server.Start(ctx); err != nil {
		logger.Fatal("❌ 启动 Web 服务失败: %v", err)
	}

	// 配置热更：存活超时与通知规则即时生效
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		liveness.SetTimeout(time.Duration(newCfg.Liveness.TimeoutSeconds) * time.Second)
		notifier.ApplyConfig(newCfg)
		logger.SetLevel(logger.ParseLogLevel(newCfg.System.LogLevel))
	})
	if err != nil {
		logger.Warn("⚠️ 配置热更不可用: %v", err)
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("⚠️ 启动配置监听失败: %v", err)
	}

	bus.Publish(&event.Event{
		Type:      event.EventTypeSystemStart,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"版本": Version},
	})

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("⏹️ 收到退出信号: %v, 开始优雅关闭...", sig)

	bus.Publish(&event.Event{
		Type:      event.EventTypeSystemStop,
		Timestamp: time.Now(),
	})
	// 给停止事件留出发送窗口
	time.Sleep(500 * time.Millisecond)

	cancel()
	sched.Stop()
	liveness.Stop()
	server.Stop()
	bus.Close()
	logger.Info("👋 NodeMesh 已退出")
	logger.Close()
}
