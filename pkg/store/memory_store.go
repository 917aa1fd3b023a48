package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"scraper-backend/pkg/types"
)

// MemoryStore 内存存储实现
type MemoryStore struct {
	sync.RWMutex
	tasks   map[string]*types.Task
	order   []string // 插入顺序
	proxies map[string]*types.Proxy
}

// NewMemoryStore 创建内存存储实例
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*types.Task),
		proxies: make(map[string]*types.Proxy),
	}
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	return nil
}

func copyTask(t *types.Task) *types.Task {
	c := *t
	c.Spec.Headers = maps.Clone(t.Spec.Headers)
	c.Spec.Cookies = maps.Clone(t.Spec.Cookies)
	c.Spec.Params = maps.Clone(t.Spec.Params)
	if t.ErrorReason != nil {
		c.ErrorReason = t.ErrorReason.Pointer()
	}
	return &c
}

func copyProxy(p *types.Proxy) *types.Proxy {
	c := *p
	if p.HTTPCode != nil {
		v := *p.HTTPCode
		c.HTTPCode = &v
	}
	if p.Latency != nil {
		v := *p.Latency
		c.Latency = &v
	}
	if p.LastCheck != nil {
		v := *p.LastCheck
		c.LastCheck = &v
	}
	if p.LastAlive != nil {
		v := *p.LastAlive
		c.LastAlive = &v
	}
	return &c
}

// CreateTask 创建任务
func (s *MemoryStore) CreateTask(ctx context.Context, task *types.Task) error {
	return s.CreateTasks(ctx, []*types.Task{task})
}

// CreateTasks 批量创建任务
func (s *MemoryStore) CreateTasks(_ context.Context, tasks []*types.Task) error {
	s.Lock()
	defer s.Unlock()

	now := time.Now().UTC()
	for _, task := range tasks {
		if err := prepareTask(task, now); err != nil {
			return err
		}
		if _, exists := s.tasks[task.ID]; exists {
			return fmt.Errorf("task %s already exists", task.ID)
		}
	}
	for _, task := range tasks {
		s.tasks[task.ID] = copyTask(task)
		s.order = append(s.order, task.ID)
	}
	return nil
}

// GetTask 获取任务
func (s *MemoryStore) GetTask(_ context.Context, id string) (*types.Task, error) {
	s.RLock()
	defer s.RUnlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return copyTask(task), nil
}

// GetTasks 批量获取任务
func (s *MemoryStore) GetTasks(_ context.Context, ids []string) ([]*types.Task, error) {
	s.RLock()
	defer s.RUnlock()

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	tasks := []*types.Task{}
	for _, id := range s.order {
		if _, ok := wanted[id]; ok {
			tasks = append(tasks, copyTask(s.tasks[id]))
		}
	}
	return tasks, nil
}

// ListTasks 列出任务
func (s *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]*types.Task, error) {
	s.RLock()
	defer s.RUnlock()

	tasks := []*types.Task{}
	skipped := 0
	for _, id := range s.order {
		task := s.tasks[id]
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		if filter.URL != "" && task.URL != filter.URL {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		tasks = append(tasks, copyTask(task))
		if filter.Limit > 0 && len(tasks) >= filter.Limit {
			break
		}
	}
	return tasks, nil
}

// ClaimTasks 认领任务
func (s *MemoryStore) ClaimTasks(_ context.Context, limit int) ([]*types.Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.Lock()
	defer s.Unlock()

	now := time.Now().UTC()
	claimed := make([]*types.Task, 0, limit)
	for _, id := range s.order {
		task := s.tasks[id]
		if task.Status != types.TaskStatusNew {
			continue
		}
		task.Status = types.TaskStatusInProgress
		task.UpdateTS = now
		claimed = append(claimed, copyTask(task))
		if len(claimed) >= limit {
			break
		}
	}
	return claimed, nil
}

// CompleteTask 写入任务终态
func (s *MemoryStore) CompleteTask(_ context.Context, id string, res *types.TaskResult) error {
	if res == nil || !types.TaskStatusInProgress.CanTransitionTo(res.Status) {
		return fmt.Errorf("task %s: invalid terminal status: %w", id, ErrConflict)
	}

	s.Lock()
	defer s.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if task.Status != types.TaskStatusInProgress {
		return fmt.Errorf("task %s is not in progress: %w", id, ErrConflict)
	}
	res.Apply(task, time.Now().UTC())
	if res.ErrorReason != nil {
		task.ErrorReason = res.ErrorReason.Pointer()
	}
	return nil
}

// FindLatestDone 查找同一 URL 最近一次成功的任务
func (s *MemoryStore) FindLatestDone(_ context.Context, url string, excludeID string) (*types.Task, error) {
	s.RLock()
	defer s.RUnlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		task := s.tasks[s.order[i]]
		if task.ID == excludeID || task.URL != url || task.Status != types.TaskStatusDone {
			continue
		}
		return copyTask(task), nil
	}
	return nil, ErrNotFound
}

// CountTasks 按状态统计任务数量
func (s *MemoryStore) CountTasks(_ context.Context) (map[types.TaskStatus]int64, error) {
	s.RLock()
	defer s.RUnlock()

	counts := make(map[types.TaskStatus]int64)
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts, nil
}

// GetProxy 获取代理
func (s *MemoryStore) GetProxy(_ context.Context, server string) (*types.Proxy, error) {
	s.RLock()
	defer s.RUnlock()

	proxy, exists := s.proxies[server]
	if !exists {
		return nil, fmt.Errorf("proxy %s: %w", server, ErrNotFound)
	}
	return copyProxy(proxy), nil
}

// InsertProxy 新增代理
func (s *MemoryStore) InsertProxy(_ context.Context, proxy *types.Proxy) error {
	s.Lock()
	defer s.Unlock()

	if _, exists := s.proxies[proxy.ProxyServer]; exists {
		return fmt.Errorf("proxy %s already exists", proxy.ProxyServer)
	}
	s.proxies[proxy.ProxyServer] = copyProxy(proxy)
	return nil
}

// DeleteProxy 删除代理
func (s *MemoryStore) DeleteProxy(_ context.Context, server string) error {
	s.Lock()
	defer s.Unlock()

	if _, exists := s.proxies[server]; !exists {
		return fmt.Errorf("proxy %s: %w", server, ErrNotFound)
	}
	delete(s.proxies, server)
	return nil
}

// ListProxies 列出代理
func (s *MemoryStore) ListProxies(_ context.Context, filter ProxyFilter) ([]*types.Proxy, error) {
	s.RLock()
	proxies := make([]*types.Proxy, 0, len(s.proxies))
	for _, p := range s.proxies {
		if filter.AliveOnly && p.StatusCheck != types.CheckOK {
			continue
		}
		if filter.PositiveLatency && (p.Latency == nil || *p.Latency <= 0) {
			continue
		}
		if filter.HTTPS != nil && p.HTTPS != *filter.HTTPS {
			continue
		}
		proxies = append(proxies, copyProxy(p))
	}
	s.RUnlock()

	sort.Slice(proxies, func(i, j int) bool {
		a, b := proxies[i], proxies[j]
		if (a.Latency == nil) != (b.Latency == nil) {
			return b.Latency == nil
		}
		if a.Latency != nil && *a.Latency != *b.Latency {
			return *a.Latency < *b.Latency
		}
		return a.ProxyServer < b.ProxyServer
	})

	if filter.Limit > 0 && len(proxies) > filter.Limit {
		proxies = proxies[:filter.Limit]
	}
	return proxies, nil
}

// UpdateProxyHealth 批量写入检测结果
func (s *MemoryStore) UpdateProxyHealth(_ context.Context, results []*types.ProxyHealth) error {
	s.Lock()
	defer s.Unlock()

	for _, h := range results {
		if p, exists := s.proxies[h.ProxyServer]; exists {
			h.Apply(p)
		}
	}
	return nil
}

// CountProxies 统计代理总数和存活数
func (s *MemoryStore) CountProxies(_ context.Context) (int64, int64, error) {
	s.RLock()
	defer s.RUnlock()

	var alive int64
	for _, p := range s.proxies {
		if p.Alive() {
			alive++
		}
	}
	return int64(len(s.proxies)), alive, nil
}
