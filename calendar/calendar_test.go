package calendar

import (
	"testing"
	"time"
)

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("加载时区失败: %v", err)
	}
	return loc
}

func TestTradingDateRolloverBoundary(t *testing.T) {
	loc := mustLoadLocation(t, "Europe/London")
	cal := New(loc, 90)

	cases := []struct {
		name  string
		local time.Time
		want  string
	}{
		{"切换前一分钟归前一日", time.Date(2025, 11, 25, 1, 29, 59, 0, loc), "2025-11-24"},
		{"切换时刻归当日", time.Date(2025, 11, 25, 1, 30, 0, 0, loc), "2025-11-25"},
		{"深夜归当日", time.Date(2025, 11, 25, 23, 50, 0, 0, loc), "2025-11-25"},
		{"午夜后仍归前一日", time.Date(2025, 11, 26, 0, 10, 0, 0, loc), "2025-11-25"},
		{"月末边界", time.Date(2025, 12, 1, 0, 30, 0, 0, loc), "2025-11-30"},
		{"年末边界", time.Date(2026, 1, 1, 1, 29, 0, 0, loc), "2025-12-31"},
		{"白天归当日", time.Date(2025, 6, 15, 14, 0, 0, 0, loc), "2025-06-15"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cal.TradingDate(tc.local); got != tc.want {
				t.Errorf("TradingDate(%v) = %s, 期望 %s", tc.local, got, tc.want)
			}
		})
	}
}

func TestTradingDateDSTTransitions(t *testing.T) {
	loc := mustLoadLocation(t, "Europe/London")
	cal := New(loc, 90)

	// 2025-03-30 伦敦进入夏令时，当地 01:00 直接跳到 02:00，01:30 不存在。
	// UTC 00:59 = 当地 00:59 GMT，仍在切换前，归前一日
	before := time.Date(2025, 3, 30, 0, 59, 0, 0, time.UTC)
	if got := cal.TradingDate(before); got != "2025-03-29" {
		t.Errorf("夏令时切换前: TradingDate = %s, 期望 2025-03-29", got)
	}
	// UTC 01:00 = 当地 02:00 BST，已过切换时刻，归当日
	after := time.Date(2025, 3, 30, 1, 0, 0, 0, time.UTC)
	if got := cal.TradingDate(after); got != "2025-03-30" {
		t.Errorf("夏令时切换后: TradingDate = %s, 期望 2025-03-30", got)
	}

	// 2025-10-26 退出夏令时，当地 01:00-02:00 经历两次
	fallBackEarly := time.Date(2025, 10, 26, 0, 15, 0, 0, time.UTC) // 当地 01:15 BST（第一次）
	if got := cal.TradingDate(fallBackEarly); got != "2025-10-25" {
		t.Errorf("冬令时切换（第一次01:15）: TradingDate = %s, 期望 2025-10-25", got)
	}
	fallBackLate := time.Date(2025, 10, 26, 1, 45, 0, 0, time.UTC) // 当地 01:45 GMT（第二次）
	if got := cal.TradingDate(fallBackLate); got != "2025-10-26" {
		t.Errorf("冬令时切换（第二次01:45）: TradingDate = %s, 期望 2025-10-26", got)
	}
}

func TestTradingDateZeroRollover(t *testing.T) {
	cal := New(time.UTC, 0)
	// 切换时刻为午夜时退化为普通日历日
	if got := cal.TradingDate(time.Date(2025, 5, 1, 0, 0, 1, 0, time.UTC)); got != "2025-05-01" {
		t.Errorf("TradingDate = %s, 期望 2025-05-01", got)
	}
	if got := cal.TradingDate(time.Date(2025, 4, 30, 23, 59, 59, 0, time.UTC)); got != "2025-04-30" {
		t.Errorf("TradingDate = %s, 期望 2025-04-30", got)
	}
}

func TestIsNearRollover(t *testing.T) {
	loc := mustLoadLocation(t, "Europe/London")
	cal := New(loc, 90)

	cases := []struct {
		name  string
		local time.Time
		want  bool
	}{
		{"窗口前", time.Date(2025, 11, 25, 23, 54, 0, 0, loc), false},
		{"窗口起点", time.Date(2025, 11, 25, 23, 55, 0, 0, loc), true},
		{"午夜后仍在窗口", time.Date(2025, 11, 26, 0, 30, 0, 0, loc), true},
		{"切换前一分钟", time.Date(2025, 11, 26, 1, 29, 0, 0, loc), true},
		{"切换时刻窗口结束", time.Date(2025, 11, 26, 1, 30, 0, 0, loc), false},
		{"白天", time.Date(2025, 11, 26, 12, 0, 0, 0, loc), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cal.IsNearRollover(tc.local); got != tc.want {
				t.Errorf("IsNearRollover(%v) = %v, 期望 %v", tc.local, got, tc.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	if _, err := ParseDate("2025-11-25"); err != nil {
		t.Errorf("合法日期不应报错: %v", err)
	}
	for _, bad := range []string{"2025/11/25", "25-11-2025", "2025-13-01", "abc", ""} {
		if _, err := ParseDate(bad); err == nil {
			t.Errorf("非法日期 %q 应该报错", bad)
		}
	}
}

func TestAddDays(t *testing.T) {
	if got := AddDays("2025-03-01", -1); got != "2025-02-28" {
		t.Errorf("AddDays = %s, 期望 2025-02-28", got)
	}
	if got := AddDays("2024-02-28", 1); got != "2024-02-29" {
		t.Errorf("闰年 AddDays = %s, 期望 2024-02-29", got)
	}
	if got := AddDays("2025-12-31", 1); got != "2026-01-01" {
		t.Errorf("跨年 AddDays = %s, 期望 2026-01-01", got)
	}
}

func TestRolloverClock(t *testing.T) {
	cal := New(time.UTC, 90)
	h, m := cal.RolloverClock()
	if h != 1 || m != 30 {
		t.Errorf("RolloverClock = %d:%d, 期望 1:30", h, m)
	}
}
