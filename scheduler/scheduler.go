package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"nodemesh/calendar"
	"nodemesh/logger"
	"nodemesh/report"
	"nodemesh/snapshot"
	"nodemesh/storage"
)

// Scheduler 定时任务调度器：换日汇总、定时报告请求、每日垃圾回收。
// 全部任务按交易时区的挂钟时间触发。
type Scheduler struct {
	cron   *cron.Cron
	cal    *calendar.Calendar
	engine *snapshot.Engine
	coord  *report.Coordinator
	store  storage.Storage

	scheduleTimes       []string
	reportRetentionDays int
	transitionRetention int
}

// NewScheduler 创建调度器
func NewScheduler(cal *calendar.Calendar, engine *snapshot.Engine, coord *report.Coordinator, store storage.Storage,
	scheduleTimes []string, reportRetentionDays, transitionRetentionDays int) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(cal.Location()),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		cal:                 cal,
		engine:              engine,
		coord:               coord,
		store:               store,
		scheduleTimes:       scheduleTimes,
		reportRetentionDays: reportRetentionDays,
		transitionRetention: transitionRetentionDays,
	}
}

// RegisterAll 注册全部定时任务
func (s *Scheduler) RegisterAll(ctx context.Context) error {
	// 换日时刻：为刚结束的交易日生成汇总快照
	hour, minute := s.cal.RolloverClock()
	rolloverSpec := fmt.Sprintf("%d %d * * *", minute, hour)
	if _, err := s.cron.AddFunc(rolloverSpec, func() {
		s.engine.RunScheduled(ctx)
	}); err != nil {
		return fmt.Errorf("注册换日汇总任务失败: %w", err)
	}
	logger.Info("⏰ 换日汇总任务: 每日 %02d:%02d (%s)", hour, minute, s.cal.Location())

	// 定时广播报告请求
	for _, t := range s.scheduleTimes {
		var h, m int
		if _, err := fmt.Sscanf(t, "%d:%d", &h, &m); err != nil {
			return fmt.Errorf("报告时间格式无效 %q: %w", t, err)
		}
		spec := fmt.Sprintf("%d %d * * *", m, h)
		if _, err := s.cron.AddFunc(spec, func() {
			if _, err := s.coord.Request(""); err != nil {
				logger.Error("❌ 定时广播报告请求失败: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("注册报告任务失败 %q: %w", t, err)
		}
		logger.Info("⏰ 定时报告任务: 每日 %02d:%02d (%s)", h, m, s.cal.Location())
	}

	// 每日垃圾回收：过期报告请求 + 老旧状态审计
	if _, err := s.cron.AddFunc("30 3 * * *", s.runGC); err != nil {
		return fmt.Errorf("注册垃圾回收任务失败: %w", err)
	}

	return nil
}

// runGC 清理过期数据
func (s *Scheduler) runGC() {
	if _, err := s.coord.Cleanup(s.reportRetentionDays); err != nil {
		logger.Error("❌ 清理报告请求失败: %v", err)
	}

	if s.transitionRetention > 0 {
		before := time.Now().AddDate(0, 0, -s.transitionRetention)
		deleted, err := s.store.CleanupTransitions(before)
		if err != nil {
			logger.Error("❌ 清理状态审计失败: %v", err)
		} else if deleted > 0 {
			logger.Info("🧹 清理状态审计: %d 条", deleted)
		}
	}
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("✅ 调度器已启动")
}

// Stop 停止调度器，等待在途任务结束
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("✅ 调度器已停止")
}
