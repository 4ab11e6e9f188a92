// Package scheduler 基于 robfig/cron 调度后台任务，如会话的定时序列号重置.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/metrics"
	"github.com/wyfcoding/fixengine/retry"
)

var (
	// ErrJobNameEmpty 任务名称为空.
	ErrJobNameEmpty = errors.New("job name is empty")
	// ErrJobSpecInvalid cron 表达式非法.
	ErrJobSpecInvalid = errors.New("job spec is invalid")
	// ErrJobAlreadyExists 任务名称重复.
	ErrJobAlreadyExists = errors.New("job already exists")
	// ErrJobHandlerNil 任务处理函数为空.
	ErrJobHandlerNil = errors.New("job handler is nil")
)

// Job 定义定时任务函数原型.
type Job func(ctx context.Context) error

// JobConfig 定义任务调度参数.
type JobConfig struct {
	Name            string        // 任务名称 (唯一)
	Spec            string        // cron 表达式，支持秒字段与 @every/@daily 描述符，时区为 UTC
	Timeout         time.Duration // 单次执行超时
	RetryConfig     retry.Config  // 重试策略配置
	AllowConcurrent bool          // 是否允许任务并发执行
}

// parser 第一个字段 (秒) 可省略.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSpec 校验 cron 表达式.
func ParseSpec(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrJobSpecInvalid, spec, err)
	}
	return s, nil
}

// Scheduler 负责任务的统一调度与生命周期管理.
type Scheduler struct {
	logger  *slog.Logger
	cron    *cron.Cron
	mu      sync.Mutex
	jobs    map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	metrics *schedulerMetrics
}

type schedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// NewScheduler 创建任务调度器，m 为 nil 时不采集指标.
func NewScheduler(logger *logging.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}

	var schedMetrics *schedulerMetrics
	if m != nil {
		schedMetrics = &schedulerMetrics{
			jobRuns: m.NewCounterVec(&prometheus.CounterOpts{
				Namespace: "fix",
				Subsystem: "scheduler",
				Name:      "job_runs_total",
				Help:      "Total number of scheduled job runs",
			}, []string{"job", "status"}),
			jobDuration: m.NewHistogramVec(&prometheus.HistogramOpts{
				Namespace: "fix",
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Scheduled job execution duration",
				Buckets:   prometheus.DefBuckets,
			}, []string{"job"}),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:  logger.Logger,
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		jobs:    make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
		metrics: schedMetrics,
	}
}

// AddJob 注册一个新的调度任务，可在 Start 前后调用.
func (s *Scheduler) AddJob(cfg JobConfig, handler Job) error {
	if cfg.Name == "" {
		return ErrJobNameEmpty
	}
	if handler == nil {
		return ErrJobHandlerNil
	}
	sched, err := ParseSpec(cfg.Spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[cfg.Name]; exists {
		return ErrJobAlreadyExists
	}

	var running atomic.Bool
	id := s.cron.Schedule(sched, cron.FuncJob(func() {
		if !cfg.AllowConcurrent {
			if !running.CompareAndSwap(false, true) {
				s.logger.Warn("scheduler job skipped (already running)", "job", cfg.Name)
				s.count(cfg.Name, "skipped")
				return
			}
			defer running.Store(false)
		}
		s.execute(cfg, handler)
	}))
	s.jobs[cfg.Name] = id
	return nil
}

// RemoveJob 移除任务，不存在时忽略.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
}

// Next 返回任务下一次触发时间.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start 启动调度器.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 取消正在执行的任务并等待其退出.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop().Done()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Scheduler) execute(cfg JobConfig, handler Job) {
	execCtx := s.ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(s.ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := retry.Retry(execCtx, func() error {
		return handler(execCtx)
	}, cfg.RetryConfig)
	if s.metrics != nil {
		s.metrics.jobDuration.WithLabelValues(cfg.Name).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		s.count(cfg.Name, "failed")
		s.logger.Error("scheduler job failed", "job", cfg.Name, "error", err)
		return
	}

	s.count(cfg.Name, "success")
	s.logger.Debug("scheduler job succeeded", "job", cfg.Name)
}

func (s *Scheduler) count(job, status string) {
	if s.metrics != nil {
		s.metrics.jobRuns.WithLabelValues(job, status).Inc()
	}
}
