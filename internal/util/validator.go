package util

import (
	"fmt"
	"time"

	"fintrack/internal/models"
)

// ValidateAmountCent 验证金额（分）：不能为 0，绝对值不超过上限
func ValidateAmountCent(amountCent int64) error {
	if amountCent == 0 {
		return fmt.Errorf("amount must not be zero")
	}
	if amountCent > 1000000000 || amountCent < -1000000000 { // 限制最大金额为1千万元
		return fmt.Errorf("amount too large, got %d", amountCent)
	}
	return nil
}

// ValidateDate 验证日期格式（必须为 YYYY-MM-DD）
func ValidateDate(dateStr string) error {
	if dateStr == "" {
		return fmt.Errorf("date is empty")
	}
	_, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return fmt.Errorf("invalid date format: %w", err)
	}
	return nil
}

// ValidateRecurrence 验证频率及其附带字段：
// weekly 必须给 dayOfWeek（0-6），monthly 必须给 dayOfMonth（1-31），
// 其它频率不允许携带这两个字段以外的歧义值（多余的会被忽略，不报错）。
func ValidateRecurrence(freq models.Frequency, dayOfWeek, dayOfMonth *int) error {
	if !freq.Valid() {
		return fmt.Errorf("unsupported frequency %q", freq)
	}
	if freq == models.FrequencyWeekly {
		if dayOfWeek == nil {
			return fmt.Errorf("day_of_week is required for weekly frequency")
		}
		if *dayOfWeek < 0 || *dayOfWeek > 6 {
			return fmt.Errorf("day_of_week must be 0-6, got %d", *dayOfWeek)
		}
	}
	if freq == models.FrequencyMonthly {
		if dayOfMonth == nil {
			return fmt.Errorf("day_of_month is required for monthly frequency")
		}
		if *dayOfMonth < 1 || *dayOfMonth > 31 {
			return fmt.Errorf("day_of_month must be 1-31, got %d", *dayOfMonth)
		}
	}
	return nil
}

// ValidateDateRange 验证结束日期不能早于开始日期（end 为 nil 表示不限）
func ValidateDateRange(start time.Time, end *time.Time) error {
	if end != nil && end.Before(start) {
		return fmt.Errorf("end date %s before start date %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return nil
}
