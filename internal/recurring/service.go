package recurring

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fintrack/internal/models"

	"gorm.io/gorm"
)

// 资格复查不通过时的原因描述（会原样出现在批处理结果里）
const (
	ReasonInactive    = "规则已停用"
	ReasonNotStarted  = "未到开始日期"
	ReasonEnded       = "已过结束日期"
	ReasonAlreadyDone = "今天已经入账"
	ReasonNotDue      = "今天不到期"
	ReasonLostRace    = "已被并发批次处理"
)

// errCursorConflict 表示条件推进游标时没抢到（并发批次已处理）
var errCursorConflict = errors.New("cursor already advanced")

// RuleResult 是单条规则的处理结果。
type RuleResult struct {
	RuleID        uint   `json:"rule_id"`
	Title         string `json:"title"`
	Processed     bool   `json:"processed"`
	Reason        string `json:"reason,omitempty"`
	TransactionID uint   `json:"transaction_id,omitempty"`
}

// BatchResult 是一次批处理的汇总结果。
type BatchResult struct {
	Total     int          `json:"total"`
	Processed int          `json:"processed"`
	Results   []RuleResult `json:"results"`
}

// Service 实现周期规则的幂等处理和整批执行。
type Service struct {
	db    *gorm.DB
	store *Store
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, store: NewStore(db)}
}

// Store 暴露底层存储，规则管理接口创建规则时会用到。
func (s *Service) Store() *Store {
	return s.store
}

// checkEligible 按顺序复查规则资格，不通过时返回原因。
// DueRules 的筛选是宽松的候选集，这里才是权威判定。
func checkEligible(rule *models.RecurringRule, today time.Time) (string, bool) {
	if !rule.IsActive {
		return ReasonInactive, false
	}
	if Midnight(rule.StartDate).After(today) {
		return ReasonNotStarted, false
	}
	if rule.EndDate != nil && Midnight(*rule.EndDate).Before(today) {
		return ReasonEnded, false
	}
	if rule.LastProcessedDate != nil && Midnight(*rule.LastProcessedDate).Equal(today) {
		return ReasonAlreadyDone, false
	}
	if Midnight(rule.NextProcessDate).After(today) {
		return ReasonNotDue, false
	}
	return "", true
}

// ProcessRule 处理单条规则：复查资格，入账一笔，推进游标。
//
// 入账和游标推进放在同一个数据库事务里，并且游标推进是条件更新：
// 只有 last_processed_date 仍然是读取时的旧值才会生效。两个批次并发处理
// 同一条规则时恰好一个成功，另一个整个事务回滚、不产生账目，
// 返回 processed=false。存储错误同样只体现在结果里，不会往上抛。
func (s *Service) ProcessRule(rule *models.RecurringRule, today time.Time) RuleResult {
	today = Midnight(today)
	res := RuleResult{RuleID: rule.ID, Title: rule.Title}

	if reason, ok := checkEligible(rule, today); !ok {
		res.Reason = reason
		return res
	}

	note := rule.Note
	if note == "" {
		note = fmt.Sprintf("Recurring: %s", rule.Frequency)
	}
	tags := append(append([]string{}, rule.Tags...), "recurring")

	next := NextOccurrence(rule.Frequency, today, rule.DayOfWeek, rule.DayOfMonth)
	expected := rule.LastProcessedDate

	var txnID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// 先抢游标：没抢到说明别的批次今天已经处理过，直接回滚，不入账
		ok, err := s.store.AdvanceCursor(tx, rule.ID, expected, today, next)
		if err != nil {
			return err
		}
		if !ok {
			return errCursorConflict
		}

		txn := models.Transaction{
			UserID:     rule.UserID,
			Title:      rule.Title,
			AmountCent: rule.AmountCent,
			Category:   rule.Category,
			Note:       note,
			Tags:       tags,
			OccurredAt: today,
		}
		if err := s.store.CreateTransaction(tx, &txn); err != nil {
			return err
		}
		txnID = txn.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, errCursorConflict) {
			res.Reason = ReasonLostRace
		} else {
			res.Reason = err.Error()
		}
		return res
	}

	// 同步内存里的游标，调用方拿到的规则和数据库保持一致
	rule.LastProcessedDate = &today
	rule.NextProcessDate = next

	res.Processed = true
	res.TransactionID = txnID
	return res
}

// ProcessAll 跑一次完整批处理：查候选集，逐条处理，汇总结果。
// 单条规则的失败只记录在它自己的结果里，不影响后面的规则；
// 唯一往上抛的错误是候选集本身查不出来。
// ctx 取消后不再开始新的规则，正在处理的规则会完成它的写入。
func (s *Service) ProcessAll(ctx context.Context, today time.Time) (*BatchResult, error) {
	today = Midnight(today)

	rules, err := s.store.DueRules(today)
	if err != nil {
		return nil, err
	}

	batch := &BatchResult{
		Total:   len(rules),
		Results: make([]RuleResult, 0, len(rules)),
	}
	for i := range rules {
		if ctx.Err() != nil {
			// 剩下的规则留给下一次批处理
			break
		}
		r := s.ProcessRule(&rules[i], today)
		if r.Processed {
			batch.Processed++
		}
		batch.Results = append(batch.Results, r)
	}
	return batch, nil
}

// Run 执行一次批处理并把执行情况落库（JobRun）。
// trigger 标记来源：models.TriggerCron 或 models.TriggerManual。
func (s *Service) Run(ctx context.Context, trigger string, now time.Time) (*BatchResult, error) {
	started := time.Now()
	batch, err := s.ProcessAll(ctx, now)

	run := models.JobRun{
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		run.Error = err.Error()
	} else {
		run.Total = batch.Total
		run.Processed = batch.Processed
	}
	if recErr := s.store.RecordRun(&run); recErr != nil {
		// 执行记录写不进去不影响批处理本身的结果
		log.Printf("record job run: %v", recErr)
	}

	return batch, err
}
