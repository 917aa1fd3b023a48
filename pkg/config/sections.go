package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scraper-backend/pkg/content"
	"scraper-backend/pkg/fetcher"
	"scraper-backend/pkg/proxypool"
	"scraper-backend/pkg/store"
	"scraper-backend/pkg/worker"
)

// LogConfig 日志配置
type LogConfig struct {
	Debug bool   `yaml:"debug" env:"LOG_DEBUG"`
	File  string `yaml:"file" env:"LOG_FILE"`
}

// StorageConfig 任务与代理的存储配置
type StorageConfig struct {
	Type   string `yaml:"type" env:"STORAGE_TYPE"`
	SQLite struct {
		Path         string `yaml:"path" env:"SQLITE_PATH"`
		MaxOpenConns int    `yaml:"max_open_conns" env:"SQLITE_MAX_OPEN_CONNS"`
	} `yaml:"sqlite"`
	Postgres struct {
		Host     string `yaml:"host" env:"POSTGRES_HOST"`
		Port     int    `yaml:"port" env:"POSTGRES_PORT"`
		User     string `yaml:"user" env:"POSTGRES_USER"`
		Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
		DBName   string `yaml:"dbname" env:"POSTGRES_DB"`
		SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSLMODE"`
	} `yaml:"postgres"`
}

// StoreConfig 转换为 store 包的配置
func (c StorageConfig) StoreConfig() *store.Config {
	sqliteCfg := store.DefaultSQLiteConfig(c.SQLite.Path)
	if c.SQLite.MaxOpenConns > 0 {
		sqliteCfg.MaxOpenConns = c.SQLite.MaxOpenConns
		sqliteCfg.MaxIdleConns = c.SQLite.MaxOpenConns
	}
	return &store.Config{
		Type:   c.Type,
		SQLite: *sqliteCfg,
		Postgres: store.PostgresConfig{
			Host:     c.Postgres.Host,
			Port:     c.Postgres.Port,
			User:     c.Postgres.User,
			Password: c.Postgres.Password,
			DBName:   c.Postgres.DBName,
			SSLMode:  c.Postgres.SSLMode,
		},
	}
}

func (c StorageConfig) validate() error {
	switch c.Type {
	case "memory":
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required")
		}
	case "postgres":
		if c.Postgres.Host == "" || c.Postgres.DBName == "" {
			return fmt.Errorf("storage.postgres.host and storage.postgres.dbname are required")
		}
	case "":
		return fmt.Errorf("storage.type is required")
	default:
		return fmt.Errorf("unknown storage.type: %s", c.Type)
	}
	return nil
}

// ContentConfig 抓取结果存储配置
type ContentConfig struct {
	Type     string `yaml:"type" env:"CONTENT_TYPE"`
	Dir      string `yaml:"dir" env:"CONTENT_DIR"`
	BoltPath string `yaml:"bolt_path" env:"CONTENT_BOLT_PATH"`
}

// StoreConfig 转换为 content 包的配置
func (c ContentConfig) StoreConfig() *content.Config {
	return &content.Config{Type: c.Type, Dir: c.Dir, BoltPath: c.BoltPath}
}

func (c ContentConfig) validate() error {
	switch c.Type {
	case "file":
		if c.Dir == "" {
			return fmt.Errorf("content.dir is required")
		}
	case "bolt":
		if c.BoltPath == "" {
			return fmt.Errorf("content.bolt_path is required")
		}
	default:
		return fmt.Errorf("unknown content.type: %q", c.Type)
	}
	return nil
}

// ConsumerConfig 任务消费者与抓取配置
type ConsumerConfig struct {
	Enabled         bool          `yaml:"enabled" env:"WORKER_ENABLED"`
	MaxWorkers      int           `yaml:"max_workers" env:"MAX_WORKERS"`
	PollInterval    time.Duration `yaml:"poll_interval" env:"WORKER_POLL_INTERVAL"`
	Backoff         time.Duration `yaml:"backoff" env:"WORKER_BACKOFF"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" env:"WORKER_CONNECT_TIMEOUT"`
	PremiumPoolSize int           `yaml:"premium_pool_size" env:"PREMIUM_POOL_SIZE"`
	MaxBodySize     int64         `yaml:"max_body_size" env:"MAX_BODY_SIZE"`
	UserAgentFile   string        `yaml:"user_agent_file" env:"USER_AGENT_FILE"`
}

// WorkerConfig 转换为 worker 包的配置
func (c ConsumerConfig) WorkerConfig() worker.Config {
	return worker.Config{
		MaxWorkers:   c.MaxWorkers,
		PollInterval: c.PollInterval,
		Backoff:      c.Backoff,
	}
}

// FetcherConfig 转换为 fetcher 包的配置
func (c ConsumerConfig) FetcherConfig() fetcher.Config {
	return fetcher.Config{
		ConnectTimeout:  c.ConnectTimeout,
		PremiumPoolSize: c.PremiumPoolSize,
		MaxBodySize:     c.MaxBodySize,
	}
}

func (c ConsumerConfig) validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("invalid worker.max_workers: %d", c.MaxWorkers)
	}
	if c.PollInterval <= 0 || c.Backoff <= 0 {
		return fmt.Errorf("worker.poll_interval and worker.backoff must be positive")
	}
	return nil
}

// ProxyPoolConfig 代理池配置
type ProxyPoolConfig struct {
	ListFile        string                        `yaml:"list_file" env:"PROXY_LIST_FILE"`
	RemoteURL       string                        `yaml:"remote_url" env:"PROXY_REMOTE_URL"`
	TableSources    []proxypool.TableSourceConfig `yaml:"table_sources"`
	FetchTimeout    time.Duration                 `yaml:"fetch_timeout" env:"PROXY_FETCH_TIMEOUT"`
	MaxWorkers      int                           `yaml:"max_workers" env:"MAX_PROXY_WORKERS"`
	ConnectTimeout  time.Duration                 `yaml:"connect_timeout" env:"PROXY_CONNECT_TIMEOUT"`
	CheckTimeout    time.Duration                 `yaml:"check_timeout" env:"PROXY_CHECK_TIMEOUT"`
	CheckURLHTTP    string                        `yaml:"check_url_http" env:"PROXY_CHECK_URL_HTTP"`
	CheckURLHTTPS   string                        `yaml:"check_url_https" env:"PROXY_CHECK_URL_HTTPS"`
	Schedule        bool                          `yaml:"schedule" env:"PROXY_SCHEDULE"`
	RefreshInterval time.Duration                 `yaml:"refresh_interval" env:"PROXY_REFRESH_INTERVAL"`
	CheckInterval   time.Duration                 `yaml:"check_interval" env:"PROXY_CHECK_INTERVAL"`
	RefreshDelay    time.Duration                 `yaml:"refresh_delay" env:"PROXY_REFRESH_DELAY"`
	CheckDelay      time.Duration                 `yaml:"check_delay" env:"PROXY_CHECK_DELAY"`
}

// ManagerConfig 转换为 proxypool 包的配置
func (c ProxyPoolConfig) ManagerConfig() proxypool.Config {
	return proxypool.Config{
		ListFile:     c.ListFile,
		RemoteURL:    c.RemoteURL,
		TableSources: c.TableSources,
		FetchTimeout: c.FetchTimeout,
		Checker: proxypool.CheckerConfig{
			Workers:        c.MaxWorkers,
			ConnectTimeout: c.ConnectTimeout,
			CheckTimeout:   c.CheckTimeout,
			TargetHTTP:     c.CheckURLHTTP,
			TargetHTTPS:    c.CheckURLHTTPS,
		},
	}
}

// SchedulerConfig 转换为调度配置
func (c ProxyPoolConfig) SchedulerConfig() proxypool.SchedulerConfig {
	return proxypool.SchedulerConfig{
		RefreshInterval: c.RefreshInterval,
		CheckInterval:   c.CheckInterval,
		RefreshDelay:    c.RefreshDelay,
		CheckDelay:      c.CheckDelay,
	}
}

func (c ProxyPoolConfig) validate() error {
	if c.ListFile == "" {
		return fmt.Errorf("proxy_pool.list_file is required")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("invalid proxy_pool.max_workers: %d", c.MaxWorkers)
	}
	if c.RefreshInterval <= 0 || c.CheckInterval <= 0 {
		return fmt.Errorf("proxy_pool intervals must be positive")
	}
	return nil
}

func defaultLog(cfg *LogConfig, file string) {
	cfg.Debug = false
	cfg.File = file
}

func defaultStorage(cfg *StorageConfig) {
	cfg.Type = "sqlite"
	cfg.SQLite.Path = "data/scraper.db"
	cfg.SQLite.MaxOpenConns = 1
	cfg.Postgres.Port = 5432
	cfg.Postgres.SSLMode = "disable"
}

func defaultContent(cfg *ContentConfig) {
	cfg.Type = "file"
	cfg.Dir = "data/content"
	cfg.BoltPath = "data/content.db"
}

func defaultConsumer(cfg *ConsumerConfig) {
	cfg.Enabled = true
	cfg.MaxWorkers = worker.DefaultMaxWorkers
	cfg.PollInterval = worker.DefaultPollInterval
	cfg.Backoff = worker.DefaultBackoff
	cfg.ConnectTimeout = fetcher.DefaultConnectTimeout
	cfg.PremiumPoolSize = fetcher.DefaultPremiumPoolSize
	cfg.MaxBodySize = fetcher.DefaultMaxBodySize
	cfg.UserAgentFile = "data/user_agents.csv"
}

func defaultProxyPool(cfg *ProxyPoolConfig) {
	sched := proxypool.DefaultSchedulerConfig()
	cfg.ListFile = "data/proxy-list.txt"
	cfg.RemoteURL = proxypool.DefaultRemoteURL
	cfg.FetchTimeout = 30 * time.Second
	cfg.MaxWorkers = proxypool.DefaultCheckWorkers
	cfg.ConnectTimeout = proxypool.DefaultConnectTimeout
	cfg.CheckTimeout = proxypool.DefaultCheckTimeout
	cfg.CheckURLHTTP = proxypool.DefaultTargetHTTP
	cfg.CheckURLHTTPS = proxypool.DefaultTargetHTTPS
	cfg.Schedule = true
	cfg.RefreshInterval = sched.RefreshInterval
	cfg.CheckInterval = sched.CheckInterval
	cfg.RefreshDelay = sched.RefreshDelay
	cfg.CheckDelay = sched.CheckDelay
}

// resolvePath 将相对路径转换为基于 baseDir 的绝对路径，并确保父目录存在
func resolvePath(baseDir string, path *string) error {
	if *path == "" || filepath.IsAbs(*path) {
		return nil
	}
	*path = filepath.Join(baseDir, *path)
	if err := os.MkdirAll(filepath.Dir(*path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", *path, err)
	}
	return nil
}
