package models

import "time"

// Transaction 表示一笔账目记录
// 金额用分存储，避免浮点误差，比如 12.34 元 = 1234 分
// 周期规则生成的记录会带上 "recurring" 标签；规则删除后历史记录保留。
type Transaction struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     uint      `gorm:"index;not null"`
	Title      string    `gorm:"size:128;not null"`
	AmountCent int64     `gorm:"not null"`
	Category   Category  `gorm:"size:32;index;not null;default:Others"`
	Note       string    `gorm:"size:255"`
	Tags       []string  `gorm:"serializer:json"`
	OccurredAt time.Time `gorm:"index;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
