package config

import (
	"fmt"
)

// WorkerConfig 独立消费者进程的配置，不包含 HTTP 服务
type WorkerConfig struct {
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Content   ContentConfig   `yaml:"content"`
	Worker    ConsumerConfig  `yaml:"worker"`
	ProxyPool ProxyPoolConfig `yaml:"proxy_pool"`
}

// LoadWorkerConfig 加载消费者进程配置
func LoadWorkerConfig(path string, workspaceRoot string) (*WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	if err := LoadConfig(path, cfg); err != nil {
		return nil, err
	}

	if err := cfg.resolveRelativePaths(workspaceRoot); err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}

	return cfg, nil
}

// Validate 实现Config接口
func (c *WorkerConfig) Validate() error {
	// 多个进程共享队列时内存存储没有意义
	if c.Storage.Type == "memory" {
		return fmt.Errorf("storage.type memory cannot be shared with other processes")
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Content.validate(); err != nil {
		return err
	}
	if err := c.Worker.validate(); err != nil {
		return err
	}
	return c.ProxyPool.validate()
}

// resolveRelativePaths 处理相对路径
func (c *WorkerConfig) resolveRelativePaths(baseDir string) error {
	paths := []*string{
		&c.Log.File,
		&c.Content.BoltPath,
		&c.Worker.UserAgentFile,
		&c.ProxyPool.ListFile,
	}
	if c.Storage.Type == "sqlite" {
		paths = append(paths, &c.Storage.SQLite.Path)
	}
	if c.Content.Type == "file" {
		paths = append(paths, &c.Content.Dir)
	}
	for _, p := range paths {
		if err := resolvePath(baseDir, p); err != nil {
			return err
		}
	}
	return nil
}

// DefaultWorkerConfig 返回默认消费者进程配置
func DefaultWorkerConfig() *WorkerConfig {
	cfg := &WorkerConfig{}
	defaultLog(&cfg.Log, "data/scraper-worker.log")
	defaultStorage(&cfg.Storage)
	defaultContent(&cfg.Content)
	defaultConsumer(&cfg.Worker)
	defaultProxyPool(&cfg.ProxyPool)
	return cfg
}
