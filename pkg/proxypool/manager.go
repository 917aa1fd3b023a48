package proxypool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"scraper-backend/pkg/store"
	"scraper-backend/pkg/types"
)

// DefaultRemoteURL 默认的远程代理列表
const DefaultRemoteURL = "https://raw.githubusercontent.com/clarketm/proxy-list/master/proxy-list.txt"

// ErrCheckInProgress 上一轮检测尚未结束
var ErrCheckInProgress = errors.New("proxy check already in progress")

// Config 代理池配置
type Config struct {
	ListFile     string
	RemoteURL    string
	TableSources []TableSourceConfig
	FetchTimeout time.Duration
	Checker      CheckerConfig
}

// IngestStats 一次导入的统计
type IngestStats struct {
	Inserted int
	Deleted  int
	Skipped  int
}

// Manager 代理池管理器
type Manager struct {
	cfg      Config
	store    store.ProxyStore
	checker  *Checker
	sources  []Source
	logger   zerolog.Logger
	checking atomic.Bool
	ingestMu sync.Mutex
}

// NewManager 创建代理池管理器
func NewManager(cfg Config, proxyStore store.ProxyStore, logger zerolog.Logger) *Manager {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}

	m := &Manager{
		cfg:     cfg,
		store:   proxyStore,
		checker: NewChecker(cfg.Checker, logger),
		logger:  logger,
	}
	if cfg.RemoteURL != "" {
		m.AddSource(NewTextSource(cfg.RemoteURL, cfg.FetchTimeout))
	}
	for _, tc := range cfg.TableSources {
		m.AddSource(NewTableSource(tc, cfg.FetchTimeout))
	}
	return m
}

// AddSource 添加远程来源
func (m *Manager) AddSource(s Source) {
	m.sources = append(m.sources, s)
}

// Ingest 导入本地列表文件
func (m *Manager) Ingest(ctx context.Context) (IngestStats, error) {
	if m.cfg.ListFile == "" {
		return IngestStats{}, fmt.Errorf("proxy list file is not configured")
	}
	f, err := os.Open(m.cfg.ListFile)
	if err != nil {
		return IngestStats{}, fmt.Errorf("opening proxy list: %w", err)
	}
	defer f.Close()

	stats, err := m.IngestReader(ctx, f)
	if err != nil {
		return stats, err
	}
	m.logger.Info().
		Str("file", m.cfg.ListFile).
		Int("inserted", stats.Inserted).
		Int("deleted", stats.Deleted).
		Int("skipped", stats.Skipped).
		Msg("Proxy list ingested")
	return stats, nil
}

// IngestReader 逐行导入，已存在的代理只会被 "-" 删除，不会被覆盖。
// 同一 Manager 上的导入串行执行。
func (m *Manager) IngestReader(ctx context.Context, r io.Reader) (IngestStats, error) {
	m.ingestMu.Lock()
	defer m.ingestMu.Unlock()

	var stats IngestStats

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		entry, ok := ParseLine(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				stats.Skipped++
				m.logger.Debug().Str("line", line).Msg("Skipping malformed proxy line")
			}
			continue
		}

		_, err := m.store.GetProxy(ctx, entry.Address)
		switch {
		case err == nil:
			if entry.Marker == MarkerRemove {
				err := m.store.DeleteProxy(ctx, entry.Address)
				switch {
				case err == nil:
					stats.Deleted++
				case !errors.Is(err, store.ErrNotFound):
					return stats, fmt.Errorf("deleting proxy %s: %w", entry.Address, err)
				}
			}
		case errors.Is(err, store.ErrNotFound):
			if entry.Marker != MarkerAdd {
				continue
			}
			proxy := &types.Proxy{
				ProxyServer: entry.Address,
				Country:     entry.Country,
				HTTPS:       entry.HTTPS,
				StatusCheck: types.CheckUnknown,
			}
			if err := m.store.InsertProxy(ctx, proxy); err != nil {
				// 共享数据库上的其他进程可能已先一步写入
				if _, getErr := m.store.GetProxy(ctx, entry.Address); getErr == nil {
					continue
				}
				return stats, fmt.Errorf("inserting proxy %s: %w", entry.Address, err)
			}
			stats.Inserted++
		default:
			return stats, fmt.Errorf("looking up proxy %s: %w", entry.Address, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("reading proxy list: %w", err)
	}
	return stats, nil
}

// Refresh 从远程来源更新本地列表文件，至少一个来源成功时返回 true
func (m *Manager) Refresh(ctx context.Context) bool {
	if m.cfg.ListFile == "" || len(m.sources) == 0 {
		return false
	}

	var lines []string
	succeeded := 0
	for _, s := range m.sources {
		got, err := s.Fetch(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Str("source", s.Name()).Msg("Proxy source fetch failed")
			continue
		}
		succeeded++
		lines = append(lines, got...)
		m.logger.Info().Str("source", s.Name()).Int("count", len(got)).Msg("Proxy source fetched")
	}
	if succeeded == 0 {
		return false
	}

	if err := writeFileAtomic(m.cfg.ListFile, []byte(strings.Join(lines, "\n")+"\n")); err != nil {
		m.logger.Error().Err(err).Str("file", m.cfg.ListFile).Msg("Failed to write proxy list")
		return false
	}
	return true
}

// RefreshAndIngest 刷新失败时仍以本地文件为准
func (m *Manager) RefreshAndIngest(ctx context.Context) (IngestStats, error) {
	if !m.Refresh(ctx) {
		m.logger.Warn().Str("file", m.cfg.ListFile).Msg("Proxy list refresh failed, using local file")
	}
	return m.Ingest(ctx)
}

// Check 检测全部代理并在整批完成后写回结果
func (m *Manager) Check(ctx context.Context) error {
	if !m.checking.CompareAndSwap(false, true) {
		return ErrCheckInProgress
	}
	defer m.checking.Store(false)

	proxies, err := m.store.ListProxies(ctx, store.ProxyFilter{})
	if err != nil {
		return fmt.Errorf("listing proxies: %w", err)
	}

	m.logger.Info().Int("count", len(proxies)).Msg("Checking proxies")
	start := time.Now()
	results := m.checker.Check(ctx, proxies)

	alive := 0
	for _, r := range results {
		if r.Status == types.CheckOK {
			alive++
		}
	}

	if err := m.store.UpdateProxyHealth(ctx, results); err != nil {
		return fmt.Errorf("saving check results: %w", err)
	}

	m.logger.Info().
		Int("count", len(results)).
		Int("alive", alive).
		Dur("elapsed", time.Since(start)).
		Msg("Proxy check finished")
	return nil
}

// Checking 当前是否有检测在进行
func (m *Manager) Checking() bool {
	return m.checking.Load()
}

// AliveProxies 最近一次检测成功的代理，按延迟升序
func (m *Manager) AliveProxies(ctx context.Context) ([]*types.Proxy, error) {
	return m.store.ListProxies(ctx, store.ProxyFilter{AliveOnly: true})
}

// RankedProxies 延迟为正的前 count 个代理
func (m *Manager) RankedProxies(ctx context.Context, count int) ([]*types.Proxy, error) {
	return m.store.ListProxies(ctx, store.ProxyFilter{PositiveLatency: true, Limit: count})
}

// List 列出代理
func (m *Manager) List(ctx context.Context, aliveOnly bool) ([]*types.Proxy, error) {
	return m.store.ListProxies(ctx, store.ProxyFilter{AliveOnly: aliveOnly})
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
