package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scraper-backend/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// proxyOrder 延迟升序，未测延迟的排在最后
const proxyOrder = "CASE WHEN latency IS NULL THEN 1 ELSE 0 END, latency ASC, proxy_server ASC"

// GormStore 通用GORM存储实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建GORM存储实例
func NewGormStore(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})

	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &GormStore{db: db}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	return store, nil
}

// initialize 初始化数据库
func (s *GormStore) initialize() error {
	err := s.db.AutoMigrate(&types.Task{}, &types.Proxy{})
	if err != nil {
		return fmt.Errorf("auto migrating tables: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql db: %w", err)
	}
	return sqlDB.Close()
}

// CreateTask 创建任务
func (s *GormStore) CreateTask(ctx context.Context, task *types.Task) error {
	if err := prepareTask(task, time.Now().UTC()); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// CreateTasks 批量创建任务，要么全部成功要么全部失败
func (s *GormStore) CreateTasks(ctx context.Context, tasks []*types.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, task := range tasks {
		if err := prepareTask(task, now); err != nil {
			return err
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(tasks, 100).Error
	})
	if err != nil {
		return fmt.Errorf("inserting tasks: %w", err)
	}
	return nil
}

// GetTask 获取任务
func (s *GormStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	result := s.db.WithContext(ctx).First(&task, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying task: %w", result.Error)
	}

	return &task, nil
}

// GetTasks 批量获取任务，不存在的 ID 直接忽略
func (s *GormStore) GetTasks(ctx context.Context, ids []string) ([]*types.Task, error) {
	var tasks []*types.Task
	if len(ids) == 0 {
		return tasks, nil
	}
	result := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("insert_ts ASC, id ASC").
		Find(&tasks)
	if result.Error != nil {
		return nil, fmt.Errorf("querying tasks: %w", result.Error)
	}
	return tasks, nil
}

// ListTasks 列出任务
func (s *GormStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*types.Task, error) {
	query := s.db.WithContext(ctx).Model(&types.Task{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.URL != "" {
		query = query.Where("url = ?", filter.URL)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var tasks []*types.Task
	if err := query.Order("insert_ts ASC, id ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	return tasks, nil
}

// ClaimTasks 认领任务
//
// 先按插入顺序选出候选，再逐个执行条件更新，只有影响行数为 1 的任务算认领成功。
// 中途出错时已认领的任务仍会随错误一起返回，调用方需要处理它们。
func (s *GormStore) ClaimTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	var candidates []*types.Task
	result := s.db.WithContext(ctx).
		Where("status = ?", types.TaskStatusNew).
		Order("insert_ts ASC, id ASC").
		Limit(limit).
		Find(&candidates)
	if result.Error != nil {
		return nil, fmt.Errorf("querying new tasks: %w", result.Error)
	}

	claimed := make([]*types.Task, 0, len(candidates))
	for _, task := range candidates {
		now := time.Now().UTC()
		result := s.db.WithContext(ctx).
			Model(&types.Task{}).
			Where("id = ? AND status = ?", task.ID, types.TaskStatusNew).
			Updates(map[string]interface{}{
				"status":    types.TaskStatusInProgress,
				"update_ts": now,
			})
		if result.Error != nil {
			return claimed, fmt.Errorf("claiming task %s: %w", task.ID, result.Error)
		}
		if result.RowsAffected != 1 {
			// 已被其他消费者认领
			continue
		}
		task.Status = types.TaskStatusInProgress
		task.UpdateTS = now
		claimed = append(claimed, task)
	}

	return claimed, nil
}

// CompleteTask 写入任务终态
func (s *GormStore) CompleteTask(ctx context.Context, id string, res *types.TaskResult) error {
	if res == nil || !types.TaskStatusInProgress.CanTransitionTo(res.Status) {
		return fmt.Errorf("task %s: invalid terminal status: %w", id, ErrConflict)
	}

	result := s.db.WithContext(ctx).
		Model(&types.Task{}).
		Where("id = ? AND status = ?", id, types.TaskStatusInProgress).
		Updates(map[string]interface{}{
			"status":        res.Status,
			"update_ts":     time.Now().UTC(),
			"download_time": res.DownloadTime,
			"error_reason":  res.ErrorReason,
			"proxy":         res.Proxy,
			"cache":         res.CacheHit,
			"attempts":      res.Attempts,
		})
	if result.Error != nil {
		return fmt.Errorf("completing task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetTask(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("task %s is not in progress: %w", id, ErrConflict)
	}
	return nil
}

// FindLatestDone 查找同一 URL 最近一次成功的任务
func (s *GormStore) FindLatestDone(ctx context.Context, url string, excludeID string) (*types.Task, error) {
	var task types.Task
	result := s.db.WithContext(ctx).
		Where("url = ? AND status = ? AND id <> ?", url, types.TaskStatusDone, excludeID).
		Order("insert_ts DESC, id DESC").
		First(&task)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying done task: %w", result.Error)
	}
	return &task, nil
}

// CountTasks 按状态统计任务数量
func (s *GormStore) CountTasks(ctx context.Context) (map[types.TaskStatus]int64, error) {
	var rows []struct {
		Status types.TaskStatus
		Count  int64
	}
	result := s.db.WithContext(ctx).
		Model(&types.Task{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("counting tasks: %w", result.Error)
	}

	counts := make(map[types.TaskStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// GetProxy 获取代理
func (s *GormStore) GetProxy(ctx context.Context, server string) (*types.Proxy, error) {
	var proxy types.Proxy
	result := s.db.WithContext(ctx).First(&proxy, "proxy_server = ?", server)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("proxy %s: %w", server, ErrNotFound)
		}
		return nil, fmt.Errorf("querying proxy: %w", result.Error)
	}
	return &proxy, nil
}

// InsertProxy 新增代理
func (s *GormStore) InsertProxy(ctx context.Context, proxy *types.Proxy) error {
	if err := s.db.WithContext(ctx).Create(proxy).Error; err != nil {
		return fmt.Errorf("inserting proxy: %w", err)
	}
	return nil
}

// DeleteProxy 删除代理
func (s *GormStore) DeleteProxy(ctx context.Context, server string) error {
	result := s.db.WithContext(ctx).Delete(&types.Proxy{}, "proxy_server = ?", server)
	if result.Error != nil {
		return fmt.Errorf("deleting proxy: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("proxy %s: %w", server, ErrNotFound)
	}
	return nil
}

// ListProxies 列出代理
func (s *GormStore) ListProxies(ctx context.Context, filter ProxyFilter) ([]*types.Proxy, error) {
	query := s.db.WithContext(ctx).Model(&types.Proxy{})
	if filter.AliveOnly {
		query = query.Where("status_check = ?", types.CheckOK)
	}
	if filter.PositiveLatency {
		query = query.Where("latency > ?", 0)
	}
	if filter.HTTPS != nil {
		query = query.Where("https = ?", *filter.HTTPS)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var proxies []*types.Proxy
	if err := query.Order(proxyOrder).Find(&proxies).Error; err != nil {
		return nil, fmt.Errorf("querying proxies: %w", err)
	}
	return proxies, nil
}

// UpdateProxyHealth 批量写入检测结果，已被删除的代理直接跳过
func (s *GormStore) UpdateProxyHealth(ctx context.Context, results []*types.ProxyHealth) error {
	if len(results) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, h := range results {
			updates := map[string]interface{}{
				"status_check": h.Status,
				"last_check":   h.CheckedAt,
			}
			if h.Latency != nil {
				updates["latency"] = *h.Latency
			}
			if h.HTTPCode != nil {
				updates["http_code"] = *h.HTTPCode
			}
			if h.Response != nil {
				updates["response"] = *h.Response
			}
			if h.AliveAt != nil {
				updates["last_alive"] = *h.AliveAt
			}

			result := tx.Model(&types.Proxy{}).
				Where("proxy_server = ?", h.ProxyServer).
				Updates(updates)
			if result.Error != nil {
				return fmt.Errorf("updating proxy %s: %w", h.ProxyServer, result.Error)
			}
		}
		return nil
	})
}

// CountProxies 统计代理总数和存活数
func (s *GormStore) CountProxies(ctx context.Context) (int64, int64, error) {
	var total, alive int64
	if err := s.db.WithContext(ctx).Model(&types.Proxy{}).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("counting proxies: %w", err)
	}
	err := s.db.WithContext(ctx).
		Model(&types.Proxy{}).
		Where("status_check = ?", types.CheckOK).
		Count(&alive).Error
	if err != nil {
		return 0, 0, fmt.Errorf("counting alive proxies: %w", err)
	}
	return total, alive, nil
}
