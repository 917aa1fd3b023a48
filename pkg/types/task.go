package types

import (
	"strings"
	"time"
)

// TaskStatus 定义任务状态
type TaskStatus int

const (
	TaskStatusNew        TaskStatus = iota // 等待执行
	TaskStatusInProgress                   // 正在执行
	TaskStatusDone                         // 执行成功
	TaskStatusError                        // 执行失败
)

const (
	MethodGet  = "GET"
	MethodPost = "POST"

	DefaultRetries = 3
	MaxRetries     = 99
	DefaultTimeout = 60 // 秒
)

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusNew:
		return "NEW"
	case TaskStatusInProgress:
		return "INPROGRESS"
	case TaskStatusDone:
		return "DONE"
	case TaskStatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal 是否为终态
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusError
}

// CanTransitionTo 状态只能向前流转: NEW -> INPROGRESS -> DONE/ERROR
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusNew:
		return next == TaskStatusInProgress
	case TaskStatusInProgress:
		return next.Terminal()
	default:
		return false
	}
}

// Pointer 返回 *TaskStatus
func (s TaskStatus) Pointer() *TaskStatus {
	return &s
}

// RequestSpec 描述一次抓取请求的参数
type RequestSpec struct {
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers,omitempty"`
	Cookies      map[string]string `json:"cookies,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Timeout      int               `json:"timeout"` // 秒
	Retries      int               `json:"retries"`
	NoProxy      bool              `json:"no_proxy"`
	PremiumProxy bool              `json:"premium_proxy"`
	UseCache     bool              `json:"use_cache"`
}

// Normalize 补齐默认值并统一方法大小写
func (r *RequestSpec) Normalize() {
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = MethodGet
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultTimeout
	}
}

// TimeoutDuration 单次请求超时
func (r *RequestSpec) TimeoutDuration() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout * time.Second
	}
	return time.Duration(r.Timeout) * time.Second
}

// Task 定义抓取任务
type Task struct {
	ID           string       `json:"id" gorm:"primaryKey;size:36"`
	URL          string       `json:"url" gorm:"not null;index:idx_tasks_url_status,priority:1"`
	Spec         RequestSpec  `json:"request_spec" gorm:"column:request_spec;serializer:json"`
	Status       TaskStatus   `json:"status" gorm:"not null;index;index:idx_tasks_url_status,priority:2"`
	InsertTS     time.Time    `json:"insert_ts" gorm:"column:insert_ts;index"`
	UpdateTS     time.Time    `json:"update_ts" gorm:"column:update_ts"`
	DownloadTime float64      `json:"download_time" gorm:"column:download_time"`
	ErrorReason  *CheckStatus `json:"error_reason,omitempty" gorm:"column:error_reason"`
	Proxy        string       `json:"proxy,omitempty" gorm:"column:proxy;size:64"`
	CacheHit     bool         `json:"cache" gorm:"column:cache"`
	Attempts     int          `json:"attempts" gorm:"column:attempts"`
}

// TableName 表名
func (Task) TableName() string {
	return "tasks"
}

// TaskResult 定义任务执行结果
type TaskResult struct {
	Status       TaskStatus   `json:"status"`
	DownloadTime float64      `json:"download_time"`
	ErrorReason  *CheckStatus `json:"error_reason,omitempty"`
	Proxy        string       `json:"proxy,omitempty"`
	CacheHit     bool         `json:"cache"`
	Attempts     int          `json:"attempts"`
}

// Apply 将结果写回任务副本
func (r *TaskResult) Apply(task *Task, now time.Time) {
	task.Status = r.Status
	task.UpdateTS = now
	task.DownloadTime = r.DownloadTime
	task.ErrorReason = r.ErrorReason
	task.Proxy = r.Proxy
	task.CacheHit = r.CacheHit
	task.Attempts = r.Attempts
}
