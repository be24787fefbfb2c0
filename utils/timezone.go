package utils

import (
	"time"
)

var (
	// GlobalLocation 全局配置的交易时区
	GlobalLocation *time.Location
)

func init() {
	// 默认加载伦敦时区（多数节点按伦敦时间结算交易日）
	SetLocation("Europe/London")
}

// SetLocation 设置全局交易时区
func SetLocation(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// 加载失败时保留原有时区或默认值
		if GlobalLocation == nil {
			GlobalLocation = time.Local
		}
		return err
	}
	GlobalLocation = loc
	return nil
}

// ToConfiguredTimezone 将时间转换为配置的交易时区
func ToConfiguredTimezone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(GlobalLocation)
}

// NowConfiguredTimezone 获取当前配置时区的时间
func NowConfiguredTimezone() time.Time {
	return time.Now().In(GlobalLocation)
}
