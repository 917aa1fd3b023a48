package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound 内容不存在
var ErrNotFound = errors.New("content not found")

// Store 按任务 ID 存放抓取到的响应内容，每个 ID 至多一份
type Store interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	// Copy 将 src 的内容复制为 dst，src 不存在时返回 ErrNotFound
	Copy(ctx context.Context, src, dst string) error
	Exists(ctx context.Context, id string) (bool, error)
	Close() error
}

// Config 内容存储配置
type Config struct {
	Type     string `json:"type"` // file, bolt
	Dir      string `json:"dir"`
	BoltPath string `json:"bolt_path"`
}

// NewStore 创建内容存储实例
func NewStore(cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch cfg.Type {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "bolt":
		return NewBoltStore(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unknown content store type: %s", cfg.Type)
	}
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid content id %q", id)
	}
	return nil
}
