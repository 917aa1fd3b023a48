package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"scraper-backend/pkg/config"
	"scraper-backend/pkg/content"
	"scraper-backend/pkg/fetcher"
	"scraper-backend/pkg/logger"
	"scraper-backend/pkg/proxypool"
	"scraper-backend/pkg/store"
	"scraper-backend/pkg/worker"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "configs/worker.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "环境变量文件路径")
	version := flag.Bool("version", false, "显示版本信息")
	flag.Parse()

	// 显示版本信息
	if *version {
		fmt.Printf("scraper-worker version %s (built at %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error loading env file: %v\n", err)
		os.Exit(1)
	}

	// 获取工作区根目录
	workspaceRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting current directory: %v\n", err)
		os.Exit(1)
	}

	// 加载配置
	cfg, err := config.LoadWorkerConfig(*configPath, workspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logs := logger.Setup(cfg.Log.Debug, cfg.Log.File)
	defer logs.Close()
	log := logs.GetLogger("main")

	// 初始化存储
	db, err := store.NewStore(cfg.Storage.StoreConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating store")
	}
	defer db.Close()

	blobs, err := content.NewStore(cfg.Content.StoreConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating content store")
	}
	defer blobs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 代理池
	manager := proxypool.NewManager(cfg.ProxyPool.ManagerConfig(), db, logs.GetLogger("proxypool"))
	if _, err := manager.Ingest(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial proxy ingest failed")
	}
	var scheduler *proxypool.Scheduler
	if cfg.ProxyPool.Schedule {
		scheduler = proxypool.NewScheduler(manager, cfg.ProxyPool.SchedulerConfig(), logs.GetLogger("scheduler"))
		scheduler.Start(ctx)
	}

	// 任务消费者
	fetchLog := logs.GetLogger("fetcher")
	agents := fetcher.LoadUserAgentPool(cfg.Worker.UserAgentFile, fetchLog)
	f := fetcher.New(cfg.Worker.FetcherConfig(), db, blobs, agents, fetcher.NewRand(time.Now().UnixNano()), fetchLog)
	consumer := worker.NewConsumer(cfg.Worker.WorkerConfig(), db, manager, f, logs.GetLogger("worker"))
	consumer.Start(ctx)

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Int("max_workers", cfg.Worker.MaxWorkers).
		Msg("Worker started successfully")

	// 等待信号
	<-ctx.Done()

	// 优雅关闭
	if scheduler != nil {
		scheduler.Stop()
	}
	consumer.Stop()
	log.Info().Msg("Worker stopped")
}
