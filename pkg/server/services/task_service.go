package services

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"scraper-backend/pkg/content"
	"scraper-backend/pkg/store"
	"scraper-backend/pkg/types"
)

// DefaultMaxBatch fetch_many 单次允许的最大 URL 数
const DefaultMaxBatch = 1000

// defaultListLimit 任务列表的默认条数
const defaultListLimit = 100

// fetchParams fetch_one 与 fetch_many 共用的请求参数
type fetchParams struct {
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers"`
	Cookies      map[string]string `json:"cookies"`
	Params       map[string]string `json:"params"`
	UserAgent    string            `json:"user_agent"`
	NoProxy      bool              `json:"no_proxy"`
	PremiumProxy bool              `json:"premium_proxy"`
	UseCache     bool              `json:"use_cache"`
	Timeout      *int              `json:"timeout"`
	Retries      *int              `json:"retries"`
}

type fetchOneRequest struct {
	fetchParams
	URL string `json:"url" binding:"required"`
}

type fetchManyRequest struct {
	fetchParams
	URLs []string `json:"urls" binding:"required"`
}

// fetchResponse 新建任务的返回
type fetchResponse struct {
	URL    string `json:"url"`
	TaskID string `json:"task_id"`
}

// spec 校验参数并生成请求描述
func (p *fetchParams) spec() (types.RequestSpec, error) {
	spec := types.RequestSpec{
		Method:       p.Method,
		Headers:      p.Headers,
		Cookies:      p.Cookies,
		Params:       p.Params,
		UserAgent:    p.UserAgent,
		Timeout:      types.DefaultTimeout,
		Retries:      types.DefaultRetries,
		NoProxy:      p.NoProxy,
		PremiumProxy: p.PremiumProxy,
		UseCache:     p.UseCache,
	}
	spec.Normalize()
	if spec.Method != types.MethodGet && spec.Method != types.MethodPost {
		return spec, fmt.Errorf("unsupported method %q: use GET or POST", p.Method)
	}
	if p.Timeout != nil {
		if *p.Timeout <= 0 {
			return spec, fmt.Errorf("timeout must be positive")
		}
		spec.Timeout = *p.Timeout
	}
	if p.Retries != nil {
		if *p.Retries < 0 || *p.Retries > types.MaxRetries {
			return spec, fmt.Errorf("retries must be between 0 and %d", types.MaxRetries)
		}
		spec.Retries = *p.Retries
	}
	return spec, nil
}

// validateURL 只接受带主机名的 http/https 地址
func validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("not a valid URL: %s", raw)
	}
	return nil
}

// TaskService 任务提交与查询接口
type TaskService struct {
	logger   zerolog.Logger
	store    store.TaskStore
	content  content.Store
	maxBatch int
}

// NewTaskService 创建任务服务实例
func NewTaskService(logger zerolog.Logger, taskStore store.TaskStore, contentStore content.Store, maxBatch int) *TaskService {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &TaskService{
		logger:   logger.With().Str("service", "task").Logger(),
		store:    taskStore,
		content:  contentStore,
		maxBatch: maxBatch,
	}
}

// RegisterRoutes 注册路由
func (s *TaskService) RegisterRoutes(r *gin.Engine) {
	r.POST("/fetch_one", s.HandleFetchOne)
	r.POST("/fetch_many", s.HandleFetchMany)
	r.GET("/get_task/:id", s.HandleGetTask)
	r.POST("/get_tasks", s.HandleGetTasks)
	r.GET("/tasks", s.HandleListTasks)
	r.GET("/content/:id", s.HandleGetContent)
}

// HandleFetchOne 提交单个 URL
func (s *TaskService) HandleFetchOne(c *gin.Context) {
	var req fetchOneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec, err := req.spec()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task := &types.Task{URL: req.URL, Spec: spec}
	if err := s.store.CreateTask(c.Request.Context(), task); err != nil {
		s.logger.Error().Err(err).Str("url", req.URL).Msg("Failed to create task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	s.logger.Info().Str("task_id", task.ID).Str("url", task.URL).Msg("Task created")
	c.JSON(http.StatusOK, fetchResponse{URL: task.URL, TaskID: task.ID})
}

// HandleFetchMany 批量提交，任一 URL 不合法时整批拒绝
func (s *TaskService) HandleFetchMany(c *gin.Context) {
	var req fetchManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.URLs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "urls must not be empty"})
		return
	}
	if len(req.URLs) > s.maxBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d urls per request", s.maxBatch)})
		return
	}
	spec, err := req.spec()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, u := range req.URLs {
		if err := validateURL(u); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	tasks := make([]*types.Task, len(req.URLs))
	for i, u := range req.URLs {
		tasks[i] = &types.Task{URL: u, Spec: spec}
	}
	if err := s.store.CreateTasks(c.Request.Context(), tasks); err != nil {
		s.logger.Error().Err(err).Int("count", len(tasks)).Msg("Failed to create tasks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	resp := make([]fetchResponse, len(tasks))
	for i, t := range tasks {
		resp[i] = fetchResponse{URL: t.URL, TaskID: t.ID}
	}
	s.logger.Info().Int("count", len(tasks)).Msg("Tasks created")
	c.JSON(http.StatusOK, resp)
}

// HandleGetTask 获取任务
func (s *TaskService) HandleGetTask(c *gin.Context) {
	task, err := s.store.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		s.logger.Error().Err(err).Str("task_id", c.Param("id")).Msg("Failed to get task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// HandleGetTasks 批量获取任务，不存在的 ID 被忽略
func (s *TaskService) HandleGetTasks(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.IDs) == 0 || len(req.IDs) > s.maxBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ids must contain 1 to %d entries", s.maxBatch)})
		return
	}

	tasks, err := s.store.GetTasks(c.Request.Context(), req.IDs)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get tasks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if len(tasks) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "tasks not found"})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// HandleListTasks 按状态列出任务
func (s *TaskService) HandleListTasks(c *gin.Context) {
	filter := store.TaskFilter{Limit: defaultListLimit, URL: c.Query("url")}

	if v := c.Query("status"); v != "" {
		status, ok := parseTaskStatus(v)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = &status
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > s.maxBatch {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		filter.Offset = n
	}

	tasks, err := s.store.ListTasks(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list tasks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// HandleGetContent 返回任务抓取到的原始内容
func (s *TaskService) HandleGetContent(c *gin.Context) {
	id := c.Param("id")
	data, err := s.content.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "content not found"})
			return
		}
		s.logger.Error().Err(err).Str("task_id", id).Msg("Failed to read content")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

// parseTaskStatus 接受数字或名称
func parseTaskStatus(v string) (types.TaskStatus, bool) {
	if n, err := strconv.Atoi(v); err == nil {
		status := types.TaskStatus(n)
		return status, status >= types.TaskStatusNew && status <= types.TaskStatusError
	}
	for s := types.TaskStatusNew; s <= types.TaskStatusError; s++ {
		if strings.EqualFold(s.String(), v) {
			return s, true
		}
	}
	return 0, false
}
