// Package recurring 实现周期记账的核心调度逻辑：
// 日期规则计算、到期候选筛选、单条规则的幂等处理和整批执行。
package recurring

import (
	"time"

	"fintrack/internal/models"
)

// Midnight 把任意时间归一化到当天零点（UTC）。
// 调度只关心日期粒度，时分秒不参与任何比较。
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextOccurrence 根据频率计算下一次应该入账的日期（零点，UTC）。
// 结果一定严格晚于 ref。未知频率按 daily 处理，和历史数据保持兼容（见 DESIGN.md）。
func NextOccurrence(freq models.Frequency, ref time.Time, dayOfWeek, dayOfMonth *int) time.Time {
	date := Midnight(ref)

	switch freq {
	case models.FrequencyDaily:
		return date.AddDate(0, 0, 1)

	case models.FrequencyWeekly:
		if dayOfWeek == nil {
			return date.AddDate(0, 0, 7)
		}
		// 推到下一个目标星期；当天就是目标星期时也要推到下周，绝不原地踏步
		days := *dayOfWeek - int(date.Weekday())
		if days <= 0 {
			days += 7
		}
		return date.AddDate(0, 0, days)

	case models.FrequencyMonthly:
		if dayOfMonth == nil {
			return date.AddDate(0, 1, 0)
		}
		year, month, _ := date.Date()
		month++ // 12 月加一会溢出到 13，time.Date 会自动进位到下一年
		day := *dayOfMonth
		if last := daysInMonth(year, month); day > last {
			day = last // 目标月份没有这一天时取月末，例如 2 月的 31 号
		}
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)

	case models.FrequencyYearly:
		return date.AddDate(1, 0, 0)

	default:
		return date.AddDate(0, 0, 1)
	}
}

// daysInMonth 返回指定月份的天数（day 取 0 表示上个月最后一天）。
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
