package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scraper-backend/pkg/config"
	"scraper-backend/pkg/content"
	"scraper-backend/pkg/logger"
	"scraper-backend/pkg/proxypool"
	"scraper-backend/pkg/server"
	"scraper-backend/pkg/server/services"
	"scraper-backend/pkg/store"
	"scraper-backend/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

// App 服务端进程：HTTP 接口、代理池调度和内嵌的任务消费者
type App struct {
	config    *config.ServerConfig
	logger    *logger.Logger
	store     store.Store
	content   content.Store
	manager   *proxypool.Manager
	scheduler *proxypool.Scheduler
	consumer  *worker.Consumer
	hub       *services.EventHub
	server    *server.Server
}

func NewApp(
	cfg *config.ServerConfig,
	logger *logger.Logger,
	store store.Store,
	contentStore content.Store,
	manager *proxypool.Manager,
	scheduler *proxypool.Scheduler,
	consumer *worker.Consumer,
	hub *services.EventHub,
	srv *server.Server,
) *App {
	return &App{
		config:    cfg,
		logger:    logger,
		store:     store,
		content:   contentStore,
		manager:   manager,
		scheduler: scheduler,
		consumer:  consumer,
		hub:       hub,
		server:    srv,
	}
}

// Run 启动所有组件并阻塞到收到退出信号
func (a *App) Run() error {
	log := a.logger.GetLogger("app")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 启动时先以本地文件为准导入一次
	if _, err := a.manager.Ingest(ctx); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Initial proxy ingest failed")
	}

	go a.hub.Run()
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}
	if a.consumer != nil {
		a.consumer.Start(ctx)
	}

	if err := a.server.Start(); err != nil {
		a.shutdown()
		return err
	}

	log.Info().
		Str("address", a.server.Addr()).
		Bool("embedded_worker", a.consumer != nil).
		Bool("proxy_schedule", a.scheduler != nil).
		Msg("Scraper server running")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	a.shutdown()
	return nil
}

func (a *App) shutdown() {
	log := a.logger.GetLogger("app")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Error stopping server")
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	// 等待正在执行的任务写回终态
	if a.consumer != nil {
		a.consumer.Stop()
	}
	a.hub.Close()

	if err := a.content.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing content store")
	}
	if err := a.store.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing store")
	}
	a.logger.Close()
}
