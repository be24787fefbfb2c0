package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 节点监控系统配置
type Config struct {
	System struct {
		LogLevel        string `yaml:"log_level"`        // 日志级别: debug, info, warn, error
		Timezone        string `yaml:"timezone"`         // 交易时区，如 "Europe/London"
		// 交易日切换时刻（相对当地午夜的分钟数），默认90（01:30）。
		// 指针区分"未配置"和显式配置为 0（切换时刻恰为午夜）
		RolloverMinutes *int `yaml:"rollover_minutes"`
	} `yaml:"system"`

	// 数据库配置（支持 SQLite、PostgreSQL、MySQL）
	Database struct {
		Type            string `yaml:"type"`              // 数据库类型: sqlite, postgres, mysql，默认 sqlite
		DSN             string `yaml:"dsn"`               // 数据源名称，默认 ./data/nodemesh.db
		MaxOpenConns    int    `yaml:"max_open_conns"`    // 最大打开连接数，默认100（sqlite 强制为1）
		MaxIdleConns    int    `yaml:"max_idle_conns"`    // 最大空闲连接数，默认10
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 连接最大生命周期（秒），默认3600
		LogLevel        string `yaml:"log_level"`         // 日志级别: silent, error, warn, info，默认 error
	} `yaml:"database"`

	// 在线状态监控配置
	Liveness struct {
		PollInterval   int `yaml:"poll_interval"`   // 轮询间隔（秒），默认60
		TimeoutSeconds int `yaml:"timeout_seconds"` // 心跳超时（秒），默认900
	} `yaml:"liveness"`

	// 每日快照配置
	Snapshot struct {
		ReconcileDays int `yaml:"reconcile_days"` // 启动时回补校验的天数，默认7
	} `yaml:"snapshot"`

	// 主动报告请求配置
	Reports struct {
		ScheduleTimes []string `yaml:"schedule_times"` // 每日定时请求时刻（交易时区 HH:MM），默认 ["08:00", "20:00"]
		RetentionDays int      `yaml:"retention_days"` // 请求记录保留天数，默认3
	} `yaml:"reports"`

	// 状态变更审计记录配置
	Transitions struct {
		RetentionDays int `yaml:"retention_days"` // 审计记录保留天数，默认90
	} `yaml:"transitions"`

	// 通知配置
	Notifications struct {
		Enabled bool `yaml:"enabled"`

		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`

		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 秒，默认 3
		} `yaml:"webhook"`

		Feishu struct {
			Enabled bool   `yaml:"enabled"`
			Webhook string `yaml:"webhook"`
		} `yaml:"feishu"`

		// 通知规则：哪些事件需要通知
		Rules struct {
			NodeOffline    bool `yaml:"node_offline"`
			NodeOnline     bool `yaml:"node_online"`
			SnapshotFailed bool `yaml:"snapshot_failed"`
		} `yaml:"rules"`
	} `yaml:"notifications"`

	// Web 服务配置
	Web struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"` // 监听地址，默认 :8080

		RateLimit struct {
			RPS   float64 `yaml:"rps"`   // 上报接口每秒请求数上限，默认50
			Burst int     `yaml:"burst"` // 突发容量，默认100
		} `yaml:"rate_limit"`
	} `yaml:"web"`

	// 分布式锁配置（多实例部署）
	DistributedLock struct {
		Enabled    bool   `yaml:"enabled"`     // 是否启用分布式锁，默认false（单实例模式）
		Prefix     string `yaml:"prefix"`      // 锁键前缀，默认 "nodemesh:lock:"
		DefaultTTL int    `yaml:"default_ttl"` // 默认锁过期时间（秒），默认60

		Redis struct {
			Addr     string `yaml:"addr"`      // Redis 地址，默认 localhost:6379
			Password string `yaml:"password"`  // Redis 密码，默认为空
			DB       int    `yaml:"db"`        // Redis 数据库，默认0
			PoolSize int    `yaml:"pool_size"` // 连接池大小，默认10
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	// 事件总线配置
	EventBus struct {
		BufferSize int `yaml:"buffer_size"` // 事件队列容量，默认1000
	} `yaml:"event_bus"`
}

// Load 从文件加载配置并填充默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults 填充默认值
func (c *Config) applyDefaults() {
	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "Europe/London"
	}
	if c.System.RolloverMinutes == nil {
		rollover := 90
		c.System.RolloverMinutes = &rollover
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "./data/nodemesh.db"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error"
	}

	if c.Liveness.PollInterval == 0 {
		c.Liveness.PollInterval = 60
	}
	if c.Liveness.TimeoutSeconds == 0 {
		c.Liveness.TimeoutSeconds = 900
	}

	if c.Snapshot.ReconcileDays == 0 {
		c.Snapshot.ReconcileDays = 7
	}

	if len(c.Reports.ScheduleTimes) == 0 {
		c.Reports.ScheduleTimes = []string{"08:00", "20:00"}
	}
	if c.Reports.RetentionDays == 0 {
		c.Reports.RetentionDays = 3
	}

	if c.Transitions.RetentionDays == 0 {
		c.Transitions.RetentionDays = 90
	}

	if c.Web.Listen == "" {
		c.Web.Listen = ":8080"
	}
	if c.Web.RateLimit.RPS == 0 {
		c.Web.RateLimit.RPS = 50
	}
	if c.Web.RateLimit.Burst == 0 {
		c.Web.RateLimit.Burst = 100
	}

	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "nodemesh:lock:"
	}
	if c.DistributedLock.DefaultTTL == 0 {
		c.DistributedLock.DefaultTTL = 60
	}
	if c.DistributedLock.Redis.Addr == "" {
		c.DistributedLock.Redis.Addr = "localhost:6379"
	}
	if c.DistributedLock.Redis.PoolSize == 0 {
		c.DistributedLock.Redis.PoolSize = 10
	}

	if c.EventBus.BufferSize == 0 {
		c.EventBus.BufferSize = 1000
	}
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.System.Timezone); err != nil {
		return fmt.Errorf("无效的时区配置 %q: %w", c.System.Timezone, err)
	}
	if *c.System.RolloverMinutes < 0 || *c.System.RolloverMinutes >= 24*60 {
		return fmt.Errorf("无效的交易日切换时刻: %d（应在 [0, 1440) 分钟内）", *c.System.RolloverMinutes)
	}

	switch c.Database.Type {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}

	if c.Liveness.PollInterval <= 0 {
		return fmt.Errorf("无效的轮询间隔: %d", c.Liveness.PollInterval)
	}
	if c.Liveness.TimeoutSeconds <= 0 {
		return fmt.Errorf("无效的心跳超时: %d", c.Liveness.TimeoutSeconds)
	}

	for _, ts := range c.Reports.ScheduleTimes {
		var hour, min int
		if _, err := fmt.Sscanf(ts, "%d:%d", &hour, &min); err != nil {
			return fmt.Errorf("无效的定时请求时刻 %q: %w", ts, err)
		}
		if hour < 0 || hour > 23 || min < 0 || min > 59 {
			return fmt.Errorf("无效的定时请求时刻: %s", ts)
		}
	}

	return nil
}
