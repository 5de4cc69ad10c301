// Package scheduler 负责按 cron 表达式周期触发记账批处理。
// 默认每天凌晨 2 点跑一次，表达式和时区可配置。
package scheduler

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"fintrack/internal/config"
	"fintrack/internal/models"
	"fintrack/internal/recurring"

	"github.com/robfig/cron/v3"
)

// DefaultSpec 是未配置时的兜底表达式：每天 02:00
const DefaultSpec = "0 2 * * *"

// Scheduler 把 recurring.Service 挂到 cron 上。
type Scheduler struct {
	cfg  config.SchedulerConfig
	svc  *recurring.Service
	cron *cron.Cron
}

func New(cfg config.SchedulerConfig, svc *recurring.Service) *Scheduler {
	return &Scheduler{cfg: cfg, svc: svc}
}

// Start 注册任务并启动 cron；Enabled 为 false 时什么都不做。
// ctx 传给每一轮批处理：取消后批处理不再开始新的规则。
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		log.Printf("recurring scheduler disabled")
		return nil
	}

	spec := strings.TrimSpace(s.cfg.Cron)
	if spec == "" {
		spec = DefaultSpec
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}

	s.cron = cron.New(cron.WithLocation(loc))
	if _, err := s.cron.AddFunc(spec, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("add cron job %q: %w", spec, err)
	}
	s.cron.Start()

	log.Printf("recurring job scheduled: %q (tz=%s)", spec, loc)
	return nil
}

// runOnce 执行一轮批处理。panic 兜底，不能打挂 cron 的运行线程。
func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic in recurring job: %v\n%s", r, debug.Stack())
		}
	}()

	batch, err := s.svc.Run(ctx, models.TriggerCron, time.Now())
	if err != nil {
		// 只有候选集查询失败才会走到这里，留给下一个周期重试
		log.Printf("recurring job failed: %v", err)
		return
	}
	log.Printf("recurring job done: total=%d processed=%d", batch.Total, batch.Processed)
}

// Stop 停止 cron 并等待正在执行的批处理结束。
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	log.Printf("recurring scheduler stopped")
}
