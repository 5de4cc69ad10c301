package recurring

import (
	"testing"
	"time"

	"fintrack/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intPtr(n int) *int { return &n }

// TestNextOccurrence_Daily daily 固定加一天
func TestNextOccurrence_Daily(t *testing.T) {
	got := NextOccurrence(models.FrequencyDaily, date(2024, 3, 4), nil, nil)
	want := date(2024, 3, 5)
	if !got.Equal(want) {
		t.Errorf("daily next = %v, want %v", got, want)
	}

	// 跨月、跨年
	got = NextOccurrence(models.FrequencyDaily, date(2023, 12, 31), nil, nil)
	if want := date(2024, 1, 1); !got.Equal(want) {
		t.Errorf("daily next = %v, want %v", got, want)
	}
}

// TestNextOccurrence_WeeklyWithDay weekly 推到下一个目标星期
func TestNextOccurrence_WeeklyWithDay(t *testing.T) {
	// 2024-03-04 是周一（1），目标周三（3）→ 2024-03-06
	got := NextOccurrence(models.FrequencyWeekly, date(2024, 3, 4), intPtr(3), nil)
	if want := date(2024, 3, 6); !got.Equal(want) {
		t.Errorf("weekly next = %v, want %v", got, want)
	}

	// 目标星期在参考日之前 → 下周
	got = NextOccurrence(models.FrequencyWeekly, date(2024, 3, 6), intPtr(1), nil)
	if want := date(2024, 3, 11); !got.Equal(want) {
		t.Errorf("weekly next = %v, want %v", got, want)
	}

	// 当天就是目标星期 → 必须推到下周，绝不返回当天
	got = NextOccurrence(models.FrequencyWeekly, date(2024, 3, 4), intPtr(1), nil)
	if want := date(2024, 3, 11); !got.Equal(want) {
		t.Errorf("weekly same-day next = %v, want %v", got, want)
	}
}

// TestNextOccurrence_WeeklyWithoutDay 不带 day_of_week 固定加 7 天
func TestNextOccurrence_WeeklyWithoutDay(t *testing.T) {
	got := NextOccurrence(models.FrequencyWeekly, date(2024, 3, 4), nil, nil)
	if want := date(2024, 3, 11); !got.Equal(want) {
		t.Errorf("weekly next = %v, want %v", got, want)
	}
}

// TestNextOccurrence_WeeklyForwardOnly 性质检查：
// 任意参考日 + 任意目标星期，结果都严格晚于参考日、不超过 7 天，且星期正确
func TestNextOccurrence_WeeklyForwardOnly(t *testing.T) {
	for offset := 0; offset < 14; offset++ {
		ref := date(2024, 2, 20).AddDate(0, 0, offset)
		for dow := 0; dow <= 6; dow++ {
			got := NextOccurrence(models.FrequencyWeekly, ref, intPtr(dow), nil)

			if !got.After(ref) {
				t.Errorf("weekly(%v, dow=%d) = %v, not after reference", ref, dow, got)
			}
			if got.Sub(ref) > 7*24*time.Hour {
				t.Errorf("weekly(%v, dow=%d) = %v, more than 7 days later", ref, dow, got)
			}
			if int(got.Weekday()) != dow {
				t.Errorf("weekly(%v, dow=%d) = %v, weekday = %d", ref, dow, got, got.Weekday())
			}
		}
	}
}

// TestNextOccurrence_MonthlyClamp 目标月份没有这一天时取月末
func TestNextOccurrence_MonthlyClamp(t *testing.T) {
	testCases := []struct {
		ref        time.Time
		dayOfMonth int
		want       time.Time
	}{
		// 2024 闰年，2 月 29 天
		{date(2024, 1, 15), 31, date(2024, 2, 29)},
		// 2023 平年，2 月 28 天
		{date(2023, 1, 15), 31, date(2023, 2, 28)},
		// 31 号在 30 天的月份
		{date(2024, 3, 31), 31, date(2024, 4, 30)},
		// 不需要截断的情况
		{date(2024, 1, 15), 20, date(2024, 2, 20)},
		// 12 月进位到下一年
		{date(2024, 12, 10), 15, date(2025, 1, 15)},
	}

	for _, tc := range testCases {
		got := NextOccurrence(models.FrequencyMonthly, tc.ref, nil, intPtr(tc.dayOfMonth))
		if !got.Equal(tc.want) {
			t.Errorf("monthly(%v, dom=%d) = %v, want %v", tc.ref, tc.dayOfMonth, got, tc.want)
		}
	}
}

// TestNextOccurrence_MonthlyWithoutDay 不带 day_of_month 直接加一个月
func TestNextOccurrence_MonthlyWithoutDay(t *testing.T) {
	got := NextOccurrence(models.FrequencyMonthly, date(2024, 3, 15), nil, nil)
	if want := date(2024, 4, 15); !got.Equal(want) {
		t.Errorf("monthly next = %v, want %v", got, want)
	}
}

// TestNextOccurrence_Yearly yearly 加一年
func TestNextOccurrence_Yearly(t *testing.T) {
	got := NextOccurrence(models.FrequencyYearly, date(2024, 3, 15), nil, nil)
	if want := date(2025, 3, 15); !got.Equal(want) {
		t.Errorf("yearly next = %v, want %v", got, want)
	}
}

// TestNextOccurrence_UnknownFrequency 未知频率按 daily 兜底
func TestNextOccurrence_UnknownFrequency(t *testing.T) {
	got := NextOccurrence(models.Frequency("hourly"), date(2024, 3, 4), nil, nil)
	if want := date(2024, 3, 5); !got.Equal(want) {
		t.Errorf("unknown frequency next = %v, want %v", got, want)
	}
}

// TestNextOccurrence_NormalizesTime 带时分秒的参考时间也归一化到零点
func TestNextOccurrence_NormalizesTime(t *testing.T) {
	ref := time.Date(2024, 3, 4, 23, 59, 58, 0, time.UTC)
	got := NextOccurrence(models.FrequencyDaily, ref, nil, nil)
	if want := date(2024, 3, 5); !got.Equal(want) {
		t.Errorf("daily next = %v, want %v", got, want)
	}
}

// TestMidnight 归一化只保留日期
func TestMidnight(t *testing.T) {
	got := Midnight(time.Date(2024, 3, 4, 15, 30, 45, 123, time.UTC))
	if want := date(2024, 3, 4); !got.Equal(want) {
		t.Errorf("Midnight = %v, want %v", got, want)
	}
}
