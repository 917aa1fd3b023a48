package main

import (
	"fmt"
	"os"
	"time"

	"scraper-backend/pkg/config"
	"scraper-backend/pkg/content"
	"scraper-backend/pkg/fetcher"
	"scraper-backend/pkg/logger"
	"scraper-backend/pkg/proxypool"
	"scraper-backend/pkg/server"
	"scraper-backend/pkg/server/services"
	"scraper-backend/pkg/store"
	"scraper-backend/pkg/worker"
)

// ConfigPath 配置文件路径的类型包装器
type ConfigPath string

func provideConfig(path ConfigPath) (*config.ServerConfig, error) {
	workspaceRoot, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	return config.LoadServerConfig(string(path), workspaceRoot)
}

func provideLogger(cfg *config.ServerConfig) *logger.Logger {
	return logger.Setup(cfg.Log.Debug, cfg.Log.File)
}

func provideStore(cfg *config.ServerConfig) (store.Store, error) {
	s, err := store.NewStore(cfg.Storage.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	return s, nil
}

func provideContentStore(cfg *config.ServerConfig) (content.Store, error) {
	s, err := content.NewStore(cfg.Content.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("creating content store: %w", err)
	}
	return s, nil
}

func provideProxyManager(cfg *config.ServerConfig, s store.Store, log *logger.Logger) *proxypool.Manager {
	return proxypool.NewManager(cfg.ProxyPool.ManagerConfig(), s, log.GetLogger("proxypool"))
}

func provideScheduler(cfg *config.ServerConfig, m *proxypool.Manager, log *logger.Logger) *proxypool.Scheduler {
	if !cfg.ProxyPool.Schedule {
		return nil
	}
	return proxypool.NewScheduler(m, cfg.ProxyPool.SchedulerConfig(), log.GetLogger("scheduler"))
}

func provideFetcher(cfg *config.ServerConfig, s store.Store, cs content.Store, log *logger.Logger) *fetcher.Fetcher {
	l := log.GetLogger("fetcher")
	agents := fetcher.LoadUserAgentPool(cfg.Worker.UserAgentFile, l)
	return fetcher.New(cfg.Worker.FetcherConfig(), s, cs, agents, fetcher.NewRand(time.Now().UnixNano()), l)
}

func provideEventHub(log *logger.Logger) *services.EventHub {
	return services.NewEventHub(log.GetLogger("events"))
}

func provideConsumer(cfg *config.ServerConfig, s store.Store, m *proxypool.Manager, f *fetcher.Fetcher, hub *services.EventHub, log *logger.Logger) *worker.Consumer {
	if !cfg.Worker.Enabled {
		return nil
	}
	c := worker.NewConsumer(cfg.Worker.WorkerConfig(), s, m, f, log.GetLogger("worker"))
	c.SetNotifier(hub)
	return c
}

func provideTaskService(cfg *config.ServerConfig, s store.Store, cs content.Store, log *logger.Logger) *services.TaskService {
	return services.NewTaskService(log.GetLogger("api"), s, cs, cfg.API.MaxBatch)
}

func provideProxyService(m *proxypool.Manager, log *logger.Logger) *services.ProxyService {
	return services.NewProxyService(log.GetLogger("api"), m)
}

func provideStatusService(cfg *config.ServerConfig, s store.Store, c *worker.Consumer, log *logger.Logger) *services.StatusService {
	// 未内嵌消费者时不能传入 nil 指针
	var stats services.WorkerStats
	if c != nil {
		stats = c
	}
	return services.NewStatusService(log.GetLogger("api"), s, s, stats, "/")
}

func provideServer(cfg *config.ServerConfig, log *logger.Logger, tasks *services.TaskService, proxies *services.ProxyService, status *services.StatusService, hub *services.EventHub) *server.Server {
	return server.New(cfg, log.GetLogger("http"), tasks, proxies, status, hub)
}
