package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"scraper-backend/pkg/store"
	"scraper-backend/pkg/types"
)

const (
	DefaultMaxWorkers   = 5
	DefaultPollInterval = 5 * time.Second
	DefaultBackoff      = 5 * time.Second

	// 终态写回失败时的最大尝试次数，任务不会被重新抓取
	saveAttempts = 3
)

// ProxySource 提供每轮使用的存活代理快照
type ProxySource interface {
	AliveProxies(ctx context.Context) ([]*types.Proxy, error)
}

// Runner 执行单个任务
type Runner interface {
	Run(ctx context.Context, task *types.Task, proxies []*types.Proxy) *types.TaskResult
}

// Notifier 任务状态变化通知
type Notifier interface {
	TaskUpdated(task *types.Task)
}

// Config 消费者配置
type Config struct {
	MaxWorkers   int
	PollInterval time.Duration
	Backoff      time.Duration
}

// Stats 运行状态
type Stats struct {
	MaxWorkers int   `json:"max_workers"`
	InFlight   int64 `json:"in_flight"`
	Claimed    int64 `json:"claimed"`
	Done       int64 `json:"done"`
	Failed     int64 `json:"failed"`
}

// Consumer 从任务队列认领任务并分发给有限数量的并发执行者
type Consumer struct {
	cfg      Config
	tasks    store.TaskStore
	proxies  ProxySource
	runner   Runner
	notifier Notifier
	logger   zerolog.Logger

	sem      *semaphore.Weighted
	inFlight atomic.Int64
	claimed  atomic.Int64
	done     atomic.Int64
	failed   atomic.Int64
	snapshot []*types.Proxy

	ctx     context.Context
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	tasksWG sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(cfg Config, tasks store.TaskStore, proxies ProxySource, runner Runner, logger zerolog.Logger) *Consumer {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Consumer{
		cfg:     cfg,
		tasks:   tasks,
		proxies: proxies,
		runner:  runner,
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(cfg.MaxWorkers)),
	}
}

// SetNotifier 设置状态通知，需在 Start 之前调用
func (c *Consumer) SetNotifier(n Notifier) {
	c.notifier = n
}

// Start 启动发现循环
func (c *Consumer) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.loopWG.Add(1)
	go c.loop()

	c.logger.Info().
		Int("max_workers", c.cfg.MaxWorkers).
		Dur("poll_interval", c.cfg.PollInterval).
		Msg("Task consumer started")
}

// Stop 停止发现新任务，并等待正在执行的任务写完终态
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.loopWG.Wait()
	c.tasksWG.Wait()
	c.logger.Info().Msg("Task consumer stopped")
}

// Stats 返回当前统计
func (c *Consumer) Stats() Stats {
	return Stats{
		MaxWorkers: c.cfg.MaxWorkers,
		InFlight:   c.inFlight.Load(),
		Claimed:    c.claimed.Load(),
		Done:       c.done.Load(),
		Failed:     c.failed.Load(),
	}
}

func (c *Consumer) loop() {
	defer c.loopWG.Done()

	for {
		wait := c.cycle()
		if wait <= 0 {
			continue
		}
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// cycle 执行一轮发现，返回下一轮之前需要等待的时间
func (c *Consumer) cycle() time.Duration {
	if c.ctx.Err() != nil {
		return c.cfg.PollInterval
	}

	c.refreshSnapshot()

	slots := 0
	for slots < c.cfg.MaxWorkers && c.sem.TryAcquire(1) {
		slots++
	}
	if slots == 0 {
		return c.cfg.Backoff
	}

	claimed, err := c.tasks.ClaimTasks(c.ctx, slots)
	if err != nil {
		c.logger.Error().Err(err).Int("claimed", len(claimed)).Msg("Failed to claim tasks")
	}
	if unused := slots - len(claimed); unused > 0 {
		c.sem.Release(int64(unused))
	}

	proxies := c.snapshot
	for _, task := range claimed {
		c.dispatch(task, proxies)
	}

	if len(claimed) == 0 {
		return c.cfg.PollInterval
	}
	return 0
}

// refreshSnapshot 读取失败时沿用上一轮的快照
func (c *Consumer) refreshSnapshot() {
	if c.proxies == nil {
		return
	}
	proxies, err := c.proxies.AliveProxies(c.ctx)
	if err != nil {
		c.logger.Warn().Err(err).Int("previous", len(c.snapshot)).Msg("Failed to read alive proxies, keeping previous snapshot")
		return
	}
	c.snapshot = proxies
}

// dispatch 调用前已占用一个信号量
func (c *Consumer) dispatch(task *types.Task, proxies []*types.Proxy) {
	c.claimed.Add(1)
	c.inFlight.Add(1)
	c.tasksWG.Add(1)
	c.notify(task)

	go func() {
		defer c.tasksWG.Done()
		defer c.sem.Release(1)
		defer c.inFlight.Add(-1)

		// 不随发现循环一起取消，任务在自身超时内完成并写回终态
		ctx := context.WithoutCancel(c.ctx)

		c.logger.Info().Str("task_id", task.ID).Str("url", task.URL).Msg("Task start")
		result := c.runner.Run(ctx, task, proxies)

		if err := c.saveResult(ctx, task.ID, result); err != nil {
			c.logger.Error().Err(err).Str("task_id", task.ID).Str("status", result.Status.String()).Msg("Failed to save task result")
			return
		}

		if result.Status == types.TaskStatusDone {
			c.done.Add(1)
		} else {
			c.failed.Add(1)
		}

		result.Apply(task, time.Now().UTC())
		c.notify(task)
	}()
}

// saveResult 写回终态，失败时按 Backoff 间隔重试
func (c *Consumer) saveResult(ctx context.Context, id string, result *types.TaskResult) error {
	var err error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		if err = c.tasks.CompleteTask(ctx, id, result); err == nil {
			return nil
		}
		if errors.Is(err, store.ErrNotFound) || attempt == saveAttempts {
			break
		}
		c.logger.Warn().Err(err).Str("task_id", id).Int("attempt", attempt).Msg("Saving task result failed, retrying")
		time.Sleep(c.cfg.Backoff)
	}
	return err
}

func (c *Consumer) notify(task *types.Task) {
	if c.notifier == nil {
		return
	}
	snapshot := *task
	c.notifier.TaskUpdated(&snapshot)
}
