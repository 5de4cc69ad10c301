package models

import "time"

// RecurringRule 表示用户的周期记账规则
// 金额用分存储，避免浮点误差；正数为收入，负数为支出
// 定义字段（标题、金额、频率等）由用户接口维护；
// 处理游标 LastProcessedDate / NextProcessDate 只归调度器推进。
type RecurringRule struct {
	ID         uint     `gorm:"primaryKey"`
	UserID     uint     `gorm:"index;not null"`
	Title      string   `gorm:"size:128;not null"`
	AmountCent int64    `gorm:"not null"`
	Category   Category `gorm:"size:32;not null;default:Others"`
	Note       string   `gorm:"size:255"`
	Tags       []string `gorm:"serializer:json"`

	// 周期定义
	Frequency  Frequency  `gorm:"size:16;not null"`
	DayOfWeek  *int       // 0-6，周日为 0；weekly 必填
	DayOfMonth *int       // 1-31；monthly 必填
	StartDate  time.Time  `gorm:"not null"`
	EndDate    *time.Time // nil 表示没有结束日期
	IsActive   bool       `gorm:"index"`

	// 处理游标（调度器专用）
	LastProcessedDate *time.Time // 最近一次入账的日期，nil 表示从未处理过
	NextProcessDate   time.Time  `gorm:"index;not null"` // 下一次可以入账的日期

	CreatedAt time.Time
	UpdatedAt time.Time
}
