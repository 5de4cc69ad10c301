package recurring

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"fintrack/internal/database"
	"fintrack/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB 打开一个临时 SQLite 库并建表
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	// 并发测试需要：写锁被占时等待而不是直接报错
	_, _ = sqlDB.Exec("PRAGMA journal_mode = WAL;")
	_, _ = sqlDB.Exec("PRAGMA busy_timeout = 5000;")

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// makeRule 建一条默认可处理的 daily 规则，mut 可以在落库前修改字段
func makeRule(t *testing.T, db *gorm.DB, mut func(*models.RecurringRule)) *models.RecurringRule {
	t.Helper()

	rule := &models.RecurringRule{
		UserID:          1,
		Title:           "每日咖啡",
		AmountCent:      -2500,
		Category:        models.CategoryFood,
		Frequency:       models.FrequencyDaily,
		StartDate:       date(2024, 1, 1),
		IsActive:        true,
		NextProcessDate: date(2024, 1, 2),
	}
	if mut != nil {
		mut(rule)
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func countTransactions(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.Transaction{}).Count(&n).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return n
}

// TestProcessRule_CreatesTransaction 正常入账：账目内容、标签和游标推进
func TestProcessRule_CreatesTransaction(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	today := date(2024, 3, 4)

	rule := makeRule(t, db, func(r *models.RecurringRule) {
		r.Tags = []string{"订阅"}
	})

	res := svc.ProcessRule(rule, today)
	if !res.Processed {
		t.Fatalf("ProcessRule processed = false, reason = %q", res.Reason)
	}
	if res.TransactionID == 0 {
		t.Error("ProcessRule returned zero transaction id")
	}

	var txn models.Transaction
	if err := db.First(&txn, res.TransactionID).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if !txn.OccurredAt.Equal(today) {
		t.Errorf("transaction date = %v, want %v", txn.OccurredAt, today)
	}
	if txn.AmountCent != -2500 || txn.Category != models.CategoryFood {
		t.Errorf("transaction amount/category = %d/%s", txn.AmountCent, txn.Category)
	}
	// 备注为空时默认写频率
	if txn.Note != "Recurring: daily" {
		t.Errorf("transaction note = %q, want %q", txn.Note, "Recurring: daily")
	}
	// 规则自己的标签 + recurring
	if want := []string{"订阅", "recurring"}; !reflect.DeepEqual(txn.Tags, want) {
		t.Errorf("transaction tags = %v, want %v", txn.Tags, want)
	}

	// 游标推进：last = today，next = 明天
	var stored models.RecurringRule
	if err := db.First(&stored, rule.ID).Error; err != nil {
		t.Fatalf("reload rule: %v", err)
	}
	if stored.LastProcessedDate == nil || !Midnight(*stored.LastProcessedDate).Equal(today) {
		t.Errorf("last processed = %v, want %v", stored.LastProcessedDate, today)
	}
	if !Midnight(stored.NextProcessDate).Equal(today.AddDate(0, 0, 1)) {
		t.Errorf("next process = %v, want %v", stored.NextProcessDate, today.AddDate(0, 0, 1))
	}
}

// TestProcessRule_KeepsCustomNote 规则已有备注时不覆盖
func TestProcessRule_KeepsCustomNote(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)

	rule := makeRule(t, db, func(r *models.RecurringRule) {
		r.Note = "楼下那家"
	})

	res := svc.ProcessRule(rule, date(2024, 3, 4))
	if !res.Processed {
		t.Fatalf("ProcessRule processed = false, reason = %q", res.Reason)
	}

	var txn models.Transaction
	if err := db.First(&txn, res.TransactionID).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if txn.Note != "楼下那家" {
		t.Errorf("transaction note = %q, want %q", txn.Note, "楼下那家")
	}
}

// TestProcessRule_IdempotentSameDay 同一天重复处理只入账一次
func TestProcessRule_IdempotentSameDay(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	today := date(2024, 3, 4)

	rule := makeRule(t, db, nil)
	stale := *rule // 处理前的旧快照，模拟另一个批次读到的状态

	first := svc.ProcessRule(rule, today)
	if !first.Processed {
		t.Fatalf("first ProcessRule processed = false, reason = %q", first.Reason)
	}

	// 同一个对象再处理：资格复查直接拦下
	second := svc.ProcessRule(rule, today)
	if second.Processed {
		t.Error("second ProcessRule processed = true, want false")
	}
	if second.Reason != ReasonAlreadyDone {
		t.Errorf("second reason = %q, want %q", second.Reason, ReasonAlreadyDone)
	}

	// 旧快照再处理：资格复查会放行，但条件更新抢不到游标
	third := svc.ProcessRule(&stale, today)
	if third.Processed {
		t.Error("stale ProcessRule processed = true, want false")
	}
	if third.Reason != ReasonLostRace {
		t.Errorf("stale reason = %q, want %q", third.Reason, ReasonLostRace)
	}

	if n := countTransactions(t, db); n != 1 {
		t.Errorf("transaction count = %d, want 1", n)
	}
}

// TestProcessRule_Concurrent 两个批次并发处理同一条规则，恰好一个成功
func TestProcessRule_Concurrent(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	today := date(2024, 3, 4)

	rule := makeRule(t, db, nil)

	copies := []models.RecurringRule{*rule, *rule}
	results := make([]RuleResult, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.ProcessRule(&copies[i], today)
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, r := range results {
		if r.Processed {
			processed++
		}
	}
	if processed != 1 {
		t.Errorf("processed count = %d, want exactly 1 (results: %+v)", processed, results)
	}
	if n := countTransactions(t, db); n != 1 {
		t.Errorf("transaction count = %d, want 1", n)
	}
}

// TestProcessRule_WindowExclusion 窗口外的规则永远不入账，哪怕游标显示到期
func TestProcessRule_WindowExclusion(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	today := date(2024, 3, 4)

	testCases := []struct {
		name   string
		mut    func(*models.RecurringRule)
		reason string
	}{
		{
			name: "未到开始日期",
			mut: func(r *models.RecurringRule) {
				r.StartDate = date(2024, 4, 1)
				r.NextProcessDate = date(2024, 1, 2) // 游标故意放在过去
			},
			reason: ReasonNotStarted,
		},
		{
			name: "已过结束日期",
			mut: func(r *models.RecurringRule) {
				end := date(2024, 2, 1)
				r.EndDate = &end
			},
			reason: ReasonEnded,
		},
		{
			name: "规则已停用",
			mut: func(r *models.RecurringRule) {
				r.IsActive = false
			},
			reason: ReasonInactive,
		},
	}

	for _, tc := range testCases {
		rule := makeRule(t, db, tc.mut)

		// 候选集就不应该包含它
		due, err := svc.Store().DueRules(today)
		if err != nil {
			t.Fatalf("%s: DueRules: %v", tc.name, err)
		}
		for _, d := range due {
			if d.ID == rule.ID {
				t.Errorf("%s: rule unexpectedly selected as due", tc.name)
			}
		}

		// 直接处理也必须被资格复查拦下
		res := svc.ProcessRule(rule, today)
		if res.Processed {
			t.Errorf("%s: processed = true, want false", tc.name)
		}
		if res.Reason != tc.reason {
			t.Errorf("%s: reason = %q, want %q", tc.name, res.Reason, tc.reason)
		}
	}

	if n := countTransactions(t, db); n != 0 {
		t.Errorf("transaction count = %d, want 0", n)
	}
}

// TestDueRules_Selection 候选集筛选是宽松的：
// 从未处理过的规则哪怕游标在未来也会进候选集（兜底 OR 分支），
// 最终由 ProcessRule 的资格复查拦下；处理过且没到期的才会被直接排除
func TestDueRules_Selection(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	today := date(2024, 3, 4)

	due := makeRule(t, db, func(r *models.RecurringRule) {
		r.Title = "到期规则"
		r.NextProcessDate = today
	})
	yesterday := date(2024, 3, 3)
	notYet := makeRule(t, db, func(r *models.RecurringRule) {
		r.Title = "还没到期"
		r.LastProcessedDate = &yesterday
		r.NextProcessDate = date(2024, 3, 10)
	})
	neverRunFuture := makeRule(t, db, func(r *models.RecurringRule) {
		r.Title = "从未处理且没到期"
		r.NextProcessDate = date(2024, 3, 10)
	})

	rules, err := svc.Store().DueRules(today)
	if err != nil {
		t.Fatalf("DueRules: %v", err)
	}

	got := map[uint]bool{}
	for _, r := range rules {
		got[r.ID] = true
	}
	if !got[due.ID] {
		t.Error("due rule not selected")
	}
	// 从未处理：宽松筛选必须捞出来，哪怕游标显示没到期
	if !got[neverRunFuture.ID] {
		t.Error("never-run rule with future cursor not selected as candidate")
	}
	// 处理过且没到期：直接排除
	if got[notYet.ID] {
		t.Error("processed not-yet-due rule selected")
	}

	// 被宽松筛选捞出来的没到期规则，资格复查要拦下，不能入账
	res := svc.ProcessRule(neverRunFuture, today)
	if res.Processed {
		t.Error("never-run future rule processed = true, want false")
	}
	if res.Reason != ReasonNotDue {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonNotDue)
	}
}

// TestProcessAll_PartialFailureIsolation 一条规则入账失败不影响其它规则
func TestProcessAll_PartialFailureIsolation(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	today := date(2024, 3, 4)

	// 模拟存储故障：标题命中时账本写入直接报错
	err := db.Callback().Create().Before("gorm:create").Register("simulate_write_failure", func(tx *gorm.DB) {
		if txn, ok := tx.Statement.Dest.(*models.Transaction); ok && txn.Title == "故障规则" {
			tx.AddError(errors.New("simulated write failure"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	bad := makeRule(t, db, func(r *models.RecurringRule) { r.Title = "故障规则" })
	good := makeRule(t, db, func(r *models.RecurringRule) { r.Title = "正常规则" })

	batch, err := svc.ProcessAll(context.Background(), today)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}

	if batch.Total != 2 || batch.Processed != 1 {
		t.Errorf("batch total/processed = %d/%d, want 2/1", batch.Total, batch.Processed)
	}

	for _, r := range batch.Results {
		switch r.RuleID {
		case bad.ID:
			if r.Processed {
				t.Error("failed rule reported processed = true")
			}
			if r.Reason == "" {
				t.Error("failed rule has empty reason")
			}
		case good.ID:
			if !r.Processed {
				t.Errorf("good rule processed = false, reason = %q", r.Reason)
			}
		}
	}

	// 失败规则的游标必须回滚，下一次批处理还能重试
	var stored models.RecurringRule
	if err := db.First(&stored, bad.ID).Error; err != nil {
		t.Fatalf("reload bad rule: %v", err)
	}
	if stored.LastProcessedDate != nil {
		t.Errorf("failed rule cursor advanced: last processed = %v", stored.LastProcessedDate)
	}

	if n := countTransactions(t, db); n != 1 {
		t.Errorf("transaction count = %d, want 1", n)
	}
}

// TestProcessAll_ContextCancel 取消之后不再开始新的规则
func TestProcessAll_ContextCancel(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	today := date(2024, 3, 4)

	for i := 0; i < 3; i++ {
		makeRule(t, db, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, err := svc.ProcessAll(ctx, today)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if batch.Total != 3 {
		t.Errorf("batch total = %d, want 3", batch.Total)
	}
	if len(batch.Results) != 0 || batch.Processed != 0 {
		t.Errorf("cancelled batch results = %d, processed = %d, want 0/0",
			len(batch.Results), batch.Processed)
	}
	if n := countTransactions(t, db); n != 0 {
		t.Errorf("transaction count = %d, want 0", n)
	}
}

// TestProcessAll_QueryFailurePropagates 候选集查询失败是唯一往上抛的错误
func TestProcessAll_QueryFailurePropagates(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)

	if err := db.Migrator().DropTable(&models.RecurringRule{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	if _, err := svc.ProcessAll(context.Background(), date(2024, 3, 4)); err == nil {
		t.Error("ProcessAll error = nil, want error when due-set query fails")
	}
}

// TestAdvanceCursor_Conditional 条件更新只在 expected 匹配时生效
func TestAdvanceCursor_Conditional(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	today := date(2024, 3, 4)
	next := today.AddDate(0, 0, 1)

	rule := makeRule(t, db, nil)

	ok, err := store.AdvanceCursor(nil, rule.ID, nil, today, next)
	if err != nil || !ok {
		t.Fatalf("first AdvanceCursor = (%v, %v), want (true, nil)", ok, err)
	}

	// expected 还是 nil：已经被上面推进过，必须失败
	ok, err = store.AdvanceCursor(nil, rule.ID, nil, today, next)
	if err != nil {
		t.Fatalf("second AdvanceCursor: %v", err)
	}
	if ok {
		t.Error("second AdvanceCursor = true, want false")
	}

	// 用正确的 expected 再推进一天，应该成功
	tomorrow := next
	ok, err = store.AdvanceCursor(nil, rule.ID, &today, tomorrow, tomorrow.AddDate(0, 0, 1))
	if err != nil || !ok {
		t.Errorf("third AdvanceCursor = (%v, %v), want (true, nil)", ok, err)
	}
}

// TestRun_RecordsJobRun 每次批处理都要落一条执行记录
func TestRun_RecordsJobRun(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)

	makeRule(t, db, nil)

	batch, err := svc.Run(context.Background(), models.TriggerManual, date(2024, 3, 4))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if batch.Processed != 1 {
		t.Errorf("batch processed = %d, want 1", batch.Processed)
	}

	var run models.JobRun
	if err := db.Last(&run).Error; err != nil {
		t.Fatalf("load job run: %v", err)
	}
	if run.Trigger != models.TriggerManual {
		t.Errorf("job run trigger = %q, want %q", run.Trigger, models.TriggerManual)
	}
	if run.Total != 1 || run.Processed != 1 {
		t.Errorf("job run total/processed = %d/%d, want 1/1", run.Total, run.Processed)
	}
	if run.Error != "" {
		t.Errorf("job run error = %q, want empty", run.Error)
	}
}
