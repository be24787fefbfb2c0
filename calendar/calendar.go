package calendar

import (
	"fmt"
	"time"
)

// DateFormat 交易日的统一格式
const DateFormat = "2006-01-02"

// DefaultRolloverMinutes 默认交易日切换时刻：当地时间 01:30
const DefaultRolloverMinutes = 90

// nearRolloverLeadMinutes 切换前告警抑制窗口起点：当地时间 23:55
const nearRolloverLeadMinutes = 23*60 + 55

// Calendar 交易日历：把墙钟时间换算为交易日。
// 交易日不以午夜为界，而是以当地时间的切换时刻（默认 01:30）为界，
// 即交易日覆盖 [切换时刻, 切换时刻+24h)。深夜到次日凌晨切换前的所有活动
// 都归属前一个日历日。系统内所有日期换算必须经过本包，禁止各处自行做时区运算。
type Calendar struct {
	loc             *time.Location
	rolloverMinutes int
}

// New 创建交易日历。rolloverMinutes 超出 [0, 1440) 时回退到默认值。
func New(loc *time.Location, rolloverMinutes int) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	if rolloverMinutes < 0 || rolloverMinutes >= 24*60 {
		rolloverMinutes = DefaultRolloverMinutes
	}
	return &Calendar{loc: loc, rolloverMinutes: rolloverMinutes}
}

// Location 返回交易时区
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// TradingDate 返回某一时刻所属的交易日（"YYYY-MM-DD"）
func (c *Calendar) TradingDate(t time.Time) string {
	local := t.In(c.loc)
	minutes := local.Hour()*60 + local.Minute()

	// 锚定到正午再做日期加减，避开夏令时当天不存在/重复的凌晨时刻
	anchor := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, c.loc)
	if minutes < c.rolloverMinutes {
		anchor = anchor.AddDate(0, 0, -1)
	}
	return anchor.Format(DateFormat)
}

// Today 返回当前交易日
func (c *Calendar) Today() string {
	return c.TradingDate(time.Now())
}

// Yesterday 返回刚刚结束的交易日（当前交易日的前一天）
func (c *Calendar) Yesterday() string {
	return AddDays(c.Today(), -1)
}

// IsNearRollover 判断时刻是否落在切换时刻附近的告警抑制窗口内（23:55 至切换时刻）。
// 仅用于在线状态监控抑制误报，不参与交易日换算。
func (c *Calendar) IsNearRollover(t time.Time) bool {
	local := t.In(c.loc)
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= nearRolloverLeadMinutes || minutes < c.rolloverMinutes
}

// RolloverClock 返回切换时刻的 (时, 分)，供调度器注册每日任务
func (c *Calendar) RolloverClock() (hour, minute int) {
	return c.rolloverMinutes / 60, c.rolloverMinutes % 60
}

// ParseDate 严格校验交易日字符串
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("无效的交易日格式 %q（应为 YYYY-MM-DD）: %w", s, err)
	}
	return t, nil
}

// AddDays 对交易日字符串做日历日加减。入参非法时原样返回。
func AddDays(date string, days int) string {
	t, err := time.Parse(DateFormat, date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, days).Format(DateFormat)
}
