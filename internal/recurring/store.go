package recurring

import (
	"fmt"
	"time"

	"fintrack/internal/models"

	"gorm.io/gorm"
)

// Store 封装调度器对规则表和账本表的全部读写。
// 账本表对调度器来说是只追加的：这里只创建记录，从不修改已有记录。
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DueRules 返回 today 可能需要处理的候选规则集合。
// 这是一个偏宽松的筛选：nextProcessDate 缺失或已过期、从未处理过的规则
// 都会被捞出来，最终要不要入账由 ProcessRule 重新判定。
// last_processed_date IS NULL 和 next_process_date IS NULL 两个分支
// 是兜底条件（正常创建的规则一定有 next_process_date），按原有行为保留。
func (s *Store) DueRules(today time.Time) ([]models.RecurringRule, error) {
	var rules []models.RecurringRule
	err := s.db.
		Where("is_active = ?", true).
		Where("start_date <= ?", today).
		Where("end_date IS NULL OR end_date >= ?", today).
		Where("next_process_date <= ? OR last_processed_date IS NULL OR next_process_date IS NULL", today).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("query due rules: %w", err)
	}
	return rules, nil
}

// CreateTransaction 往账本追加一条记录。
func (s *Store) CreateTransaction(tx *gorm.DB, txn *models.Transaction) error {
	if tx == nil {
		tx = s.db
	}
	if err := tx.Create(txn).Error; err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// AdvanceCursor 条件推进规则游标：只有数据库里的 last_processed_date
// 仍然等于 expected 时更新才会生效。返回 false 表示没抢到——
// 另一个批次已经在今天处理过这条规则，调用方不应再入账。
func (s *Store) AdvanceCursor(tx *gorm.DB, ruleID uint, expected *time.Time, newLast, newNext time.Time) (bool, error) {
	if tx == nil {
		tx = s.db
	}

	q := tx.Model(&models.RecurringRule{}).Where("id = ?", ruleID)
	if expected == nil {
		q = q.Where("last_processed_date IS NULL")
	} else {
		q = q.Where("last_processed_date = ?", *expected)
	}

	res := q.Updates(map[string]interface{}{
		"last_processed_date": newLast,
		"next_process_date":   newNext,
	})
	if res.Error != nil {
		return false, fmt.Errorf("advance cursor: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RecordRun 落一条批处理执行记录。
func (s *Store) RecordRun(run *models.JobRun) error {
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("record job run: %w", err)
	}
	return nil
}
