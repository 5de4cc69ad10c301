package models

import "time"

// 批处理触发来源
const (
	TriggerCron   = "cron"   // 定时任务触发
	TriggerManual = "manual" // 管理接口手动触发
)

// JobRun 记录每一次周期记账批处理的执行情况，便于事后排查。
type JobRun struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Trigger    string    `gorm:"size:16;not null" json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`     // 候选规则数
	Processed  int       `json:"processed"` // 实际入账数
	Error      string    `gorm:"size:1024" json:"error,omitempty"` // 全局失败时的错误信息（查询候选集失败）
	CreatedAt  time.Time `json:"created_at"`
}
