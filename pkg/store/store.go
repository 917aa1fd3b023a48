package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scraper-backend/pkg/types"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrConflict 状态不允许此次变更
	ErrConflict = errors.New("state conflict")
)

// TaskStore 任务队列存储
type TaskStore interface {
	CreateTask(ctx context.Context, task *types.Task) error
	CreateTasks(ctx context.Context, tasks []*types.Task) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	GetTasks(ctx context.Context, ids []string) ([]*types.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*types.Task, error)

	// ClaimTasks 按插入顺序认领至多 limit 个 NEW 任务并置为 INPROGRESS，
	// 每个任务只会被一个调用方认领成功
	ClaimTasks(ctx context.Context, limit int) ([]*types.Task, error)
	// CompleteTask 写入终态，任务必须处于 INPROGRESS，否则返回 ErrConflict
	CompleteTask(ctx context.Context, id string, result *types.TaskResult) error
	// FindLatestDone 查找同一 URL 最近一次成功的任务
	FindLatestDone(ctx context.Context, url string, excludeID string) (*types.Task, error)
	CountTasks(ctx context.Context) (map[types.TaskStatus]int64, error)
}

// ProxyStore 代理存储
type ProxyStore interface {
	GetProxy(ctx context.Context, server string) (*types.Proxy, error)
	InsertProxy(ctx context.Context, proxy *types.Proxy) error
	DeleteProxy(ctx context.Context, server string) error
	ListProxies(ctx context.Context, filter ProxyFilter) ([]*types.Proxy, error)
	UpdateProxyHealth(ctx context.Context, results []*types.ProxyHealth) error
	CountProxies(ctx context.Context) (total int64, alive int64, err error)
}

// Store 定义存储接口
type Store interface {
	TaskStore
	ProxyStore
	Close() error
}

// TaskFilter 定义任务过滤条件
type TaskFilter struct {
	Status *types.TaskStatus
	URL    string
	Limit  int
	Offset int
}

// ProxyFilter 定义代理过滤条件，结果按延迟升序，未测延迟的排在最后
type ProxyFilter struct {
	AliveOnly       bool
	PositiveLatency bool
	HTTPS           *bool
	Limit           int
}

// Config 存储配置
type Config struct {
	Type     string         `json:"type"`     // 存储类型：memory, sqlite, postgres
	SQLite   SQLiteConfig   `json:"sqlite"`   // SQLite配置
	Postgres PostgresConfig `json:"postgres"` // PostgreSQL配置
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `json:"path"`               // 数据库文件路径
	MaxOpenConns    int           `json:"max_open_conns"`     // 最大打开连接数
	MaxIdleConns    int           `json:"max_idle_conns"`     // 最大空闲连接数
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`  // 连接最大生命周期
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"` // 连接最大空闲时间
}

// PostgresConfig PostgreSQL配置
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// NewStore 创建存储实例
func NewStore(cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(&cfg.SQLite)
	case "postgres":
		return NewPostgreStore(cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// prepareTask 补齐 ID、时间戳和初始状态
func prepareTask(task *types.Task, now time.Time) error {
	if task.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating task id: %w", err)
		}
		task.ID = id.String()
	}
	if task.InsertTS.IsZero() {
		task.InsertTS = now
	}
	task.UpdateTS = task.InsertTS
	task.Status = types.TaskStatusNew
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgreStore)(nil)
)
