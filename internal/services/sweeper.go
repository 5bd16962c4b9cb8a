package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Expirer 过期扫描执行者
type Expirer interface {
	ExpireSweep(ctx context.Context) (SweepResult, error)
}

// ExpirationSweeper 按固定间隔调度过期扫描。上一轮未结束时跳过本轮。
type ExpirationSweeper struct {
	expirer  Expirer
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Logger
	cron     *cron.Cron
}

// NewExpirationSweeper 创建扫描调度器；interval <= 0 时使用 5 分钟
func NewExpirationSweeper(expirer Expirer, interval, timeout time.Duration, logger *logrus.Logger) *ExpirationSweeper {
	if logger == nil {
		logger = logrus.New()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = interval
	}
	c := cron.New(
		cron.WithLogger(cron.PrintfLogger(logger)),
		cron.WithChain(
			cron.Recover(cron.PrintfLogger(logger)),
			cron.SkipIfStillRunning(cron.PrintfLogger(logger)),
		),
	)
	s := &ExpirationSweeper{
		expirer:  expirer,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		cron:     c,
	}
	c.Schedule(cron.Every(interval), cron.FuncJob(s.RunOnce))
	return s
}

// Start 启动调度（非阻塞）
func (s *ExpirationSweeper) Start() {
	s.logger.Infof("Expiration sweeper started, interval=%s", s.interval)
	s.cron.Start()
}

// Stop 停止调度并等待正在执行的扫描结束，或 ctx 到期
func (s *ExpirationSweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("expiration sweeper stop timed out")
	}
}

// RunOnce 执行一轮扫描
func (s *ExpirationSweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.expirer.ExpireSweep(ctx); err != nil {
		s.logger.WithError(err).Error("expiration sweep failed, retrying next tick")
	}
}
