package proxypool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	RefreshInterval time.Duration
	CheckInterval   time.Duration
	RefreshDelay    time.Duration
	CheckDelay      time.Duration
}

// DefaultSchedulerConfig 每 3 小时刷新列表，每小时检测一次
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		RefreshInterval: 3 * time.Hour,
		CheckInterval:   time.Hour,
		RefreshDelay:    5 * time.Second,
		CheckDelay:      15 * time.Second,
	}
}

// Scheduler 在单个 goroutine 中依次执行刷新和检测，两者不会重叠
type Scheduler struct {
	manager *Manager
	cfg     SchedulerConfig
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler 创建调度器
func NewScheduler(manager *Manager, cfg SchedulerConfig, logger zerolog.Logger) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	return &Scheduler{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start 启动调度循环
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop()

	s.logger.Info().
		Dur("refresh_interval", s.cfg.RefreshInterval).
		Dur("check_interval", s.cfg.CheckInterval).
		Msg("Proxy scheduler started")
}

// Stop 停止调度并等待当前任务结束
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	refresh := time.NewTimer(s.cfg.RefreshDelay)
	check := time.NewTimer(s.cfg.CheckDelay)
	defer refresh.Stop()
	defer check.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-refresh.C:
			if _, err := s.manager.RefreshAndIngest(s.ctx); err != nil {
				s.logger.Error().Err(err).Msg("Proxy list update failed")
			}
			refresh.Reset(s.cfg.RefreshInterval)
		case <-check.C:
			if err := s.manager.Check(s.ctx); err != nil && !errors.Is(err, ErrCheckInProgress) {
				s.logger.Error().Err(err).Msg("Proxy check failed")
			}
			check.Reset(s.cfg.CheckInterval)
		}
	}
}
