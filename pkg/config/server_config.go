package config

import (
	"fmt"
)

// ServerConfig 服务端配置，API 与内嵌的任务消费者共用
type ServerConfig struct {
	// 服务器配置
	Server struct {
		Host string `yaml:"host" env:"SERVER_HOST"`
		Port int    `yaml:"port" env:"SERVER_PORT"`
		TLS  struct {
			Enabled bool   `yaml:"enabled" env:"SERVER_TLS_ENABLED"`
			Cert    string `yaml:"cert" env:"SERVER_TLS_CERT"`
			Key     string `yaml:"key" env:"SERVER_TLS_KEY"`
		} `yaml:"tls"`
	} `yaml:"server"`

	// 接口限制
	API struct {
		MaxBatch int `yaml:"max_batch" env:"API_MAX_BATCH"`
	} `yaml:"api"`

	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Content   ContentConfig   `yaml:"content"`
	Worker    ConsumerConfig  `yaml:"worker"`
	ProxyPool ProxyPoolConfig `yaml:"proxy_pool"`
}

// LoadServerConfig 加载服务端配置
func LoadServerConfig(path string, workspaceRoot string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := LoadConfig(path, cfg); err != nil {
		return nil, err
	}

	// 处理相对路径
	if err := cfg.resolveRelativePaths(workspaceRoot); err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}

	return cfg, nil
}

// Validate 实现Config接口
func (c *ServerConfig) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.Cert == "" || c.Server.TLS.Key == "") {
		return fmt.Errorf("server.tls.cert and server.tls.key are required when tls is enabled")
	}
	if c.API.MaxBatch <= 0 {
		return fmt.Errorf("invalid api.max_batch: %d", c.API.MaxBatch)
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
func (c *ServerConfig) resolveRelativePaths(baseDir string) error {
	paths := []*string{
		&c.Log.File,
		&c.Content.BoltPath,
		&c.Worker.UserAgentFile,
		&c.ProxyPool.ListFile,
		&c.Server.TLS.Cert,
		&c.Server.TLS.Key,
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

// DefaultServerConfig 返回默认服务端配置
func DefaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{}

	// 服务器配置
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.API.MaxBatch = 1000

	defaultLog(&cfg.Log, "data/scraper-server.log")
	defaultStorage(&cfg.Storage)
	defaultContent(&cfg.Content)
	defaultConsumer(&cfg.Worker)
	defaultProxyPool(&cfg.ProxyPool)

	return cfg
}
