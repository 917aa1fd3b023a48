package services

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"scraper-backend/pkg/store"
	"scraper-backend/pkg/types"
	"scraper-backend/pkg/worker"
)

// WorkerStats 提供消费者运行状态，未内嵌消费者时为 nil
type WorkerStats interface {
	Stats() worker.Stats
}

// SystemMetrics 主机指标
type SystemMetrics struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	DiskUsage   float64 `json:"disk_usage"`
	Uptime      uint64  `json:"uptime"`
	Goroutines  int     `json:"goroutines"`
}

// SystemStatus 系统整体状态
type SystemStatus struct {
	Tasks   map[string]int64 `json:"tasks"`
	Proxies struct {
		Total int64 `json:"total"`
		Alive int64 `json:"alive"`
	} `json:"proxies"`
	Worker    *worker.Stats  `json:"worker,omitempty"`
	System    *SystemMetrics `json:"system,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StatusService 实现状态查询服务
type StatusService struct {
	logger  zerolog.Logger
	tasks   store.TaskStore
	proxies store.ProxyStore
	worker  WorkerStats
	diskDir string
}

// NewStatusService 创建状态服务实例
func NewStatusService(logger zerolog.Logger, tasks store.TaskStore, proxies store.ProxyStore, stats WorkerStats, diskDir string) *StatusService {
	if diskDir == "" {
		diskDir = "/"
	}
	return &StatusService{
		logger:  logger.With().Str("service", "status").Logger(),
		tasks:   tasks,
		proxies: proxies,
		worker:  stats,
		diskDir: diskDir,
	}
}

// RegisterRoutes 注册路由
func (s *StatusService) RegisterRoutes(r *gin.Engine) {
	r.GET("/status", s.HandleGetStatus)
}

// GetSystemStatus 获取系统整体状态
func (s *StatusService) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	counts, err := s.tasks.CountTasks(ctx)
	if err != nil {
		return nil, err
	}
	total, alive, err := s.proxies.CountProxies(ctx)
	if err != nil {
		return nil, err
	}

	status := &SystemStatus{
		Tasks:     make(map[string]int64, 4),
		Timestamp: time.Now().UTC(),
	}
	for st := types.TaskStatusNew; st <= types.TaskStatusError; st++ {
		status.Tasks[st.String()] = counts[st]
	}
	status.Proxies.Total = total
	status.Proxies.Alive = alive

	if s.worker != nil {
		ws := s.worker.Stats()
		status.Worker = &ws
	}

	metrics, err := s.collectMetrics(ctx)
	if err != nil {
		// 主机指标不可用时仍返回队列状态
		s.logger.Warn().Err(err).Msg("Failed to collect host metrics")
	} else {
		status.System = metrics
	}
	return status, nil
}

// HandleGetStatus HTTP处理器：获取系统状态
func (s *StatusService) HandleGetStatus(c *gin.Context) {
	status, err := s.GetSystemStatus(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get system status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// collectMetrics CPU 使用率取自上次调用以来的区间，不阻塞请求
func (s *StatusService) collectMetrics(ctx context.Context) (*SystemMetrics, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}

	diskInfo, err := disk.UsageWithContext(ctx, s.diskDir)
	if err != nil {
		return nil, err
	}

	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return nil, err
	}

	m := &SystemMetrics{
		MemoryUsage: memInfo.UsedPercent,
		DiskUsage:   diskInfo.UsedPercent,
		Uptime:      uptime,
		Goroutines:  runtime.NumGoroutine(),
	}
	if len(cpuPercent) > 0 {
		m.CPUUsage = cpuPercent[0]
	}
	return m, nil
}
