package services

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"scraper-backend/pkg/types"
)

const (
	eventBufferSize = 256
	writeWait       = 10 * time.Second
)

// TaskEvent 推送给 websocket 客户端的任务状态变化
type TaskEvent struct {
	Type string      `json:"type"`
	Data *types.Task `json:"data"`
}

// EventHub 维护 websocket 连接并广播任务状态变化
type EventHub struct {
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex
	done       chan struct{}
	closeOnce  sync.Once
}

// NewEventHub 创建事件中心，需调用 Run
func NewEventHub(logger zerolog.Logger) *EventHub {
	return &EventHub{
		logger: logger.With().Str("service", "events").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, eventBufferSize),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// RegisterRoutes 注册路由
func (h *EventHub) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/tasks", h.HandleWebSocket)
}

// Run 事件循环，Close 后返回
func (h *EventHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			h.logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				h.logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					// 读循环负责注销断开的连接
					h.logger.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Close 停止事件循环并断开所有客户端
func (h *EventHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Clients 当前连接数
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// TaskUpdated 实现 worker.Notifier，缓冲区满时丢弃事件
func (h *EventHub) TaskUpdated(task *types.Task) {
	msg, err := json.Marshal(TaskEvent{Type: "task_update", Data: task})
	if err != nil {
		h.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to marshal task event")
		return
	}

	select {
	case h.broadcast <- msg:
	default:
	}
}

// HandleWebSocket 升级连接并注册客户端
func (h *EventHub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// 读循环只用于发现客户端断开
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				return
			}
		}
	}()
}
