package services

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"scraper-backend/pkg/proxypool"
	"scraper-backend/pkg/types"
)

const defaultRankedCount = 10

// proxyView 列表接口返回的代理，不包含检测响应
type proxyView struct {
	ProxyServer string            `json:"proxy_server"`
	Country     string            `json:"country"`
	HTTPS       bool              `json:"https"`
	StatusCheck types.CheckStatus `json:"status_check"`
	HTTPCode    *int              `json:"http_code"`
	Latency     *float64          `json:"latency"`
	LastCheck   *time.Time        `json:"last_check"`
	LastAlive   *time.Time        `json:"last_alive"`
}

func newProxyView(p *types.Proxy) proxyView {
	return proxyView{
		ProxyServer: p.ProxyServer,
		Country:     p.Country,
		HTTPS:       p.HTTPS,
		StatusCheck: p.StatusCheck,
		HTTPCode:    p.HTTPCode,
		Latency:     p.Latency,
		LastCheck:   p.LastCheck,
		LastAlive:   p.LastAlive,
	}
}

// ProxyService 代理池查询与维护接口
type ProxyService struct {
	logger  zerolog.Logger
	manager *proxypool.Manager
}

// NewProxyService 创建代理服务实例
func NewProxyService(logger zerolog.Logger, manager *proxypool.Manager) *ProxyService {
	return &ProxyService{
		logger:  logger.With().Str("service", "proxy").Logger(),
		manager: manager,
	}
}

// RegisterRoutes 注册路由
func (s *ProxyService) RegisterRoutes(r *gin.Engine) {
	r.GET("/proxies", s.HandleListProxies)
	r.GET("/proxies/ranked", s.HandleRankedProxies)
	r.POST("/proxies/refresh", s.HandleRefresh)
	r.POST("/proxies/check", s.HandleCheck)
}

// HandleListProxies alive 为正数时只返回存活代理，按延迟升序
func (s *ProxyService) HandleListProxies(c *gin.Context) {
	alive, _ := strconv.Atoi(c.DefaultQuery("alive", "0"))

	proxies, err := s.manager.List(c.Request.Context(), alive > 0)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list proxies")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, toViews(proxies))
}

// HandleRankedProxies 延迟最低的 count 个代理
func (s *ProxyService) HandleRankedProxies(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(defaultRankedCount)))
	if err != nil || count <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid count"})
		return
	}

	proxies, err := s.manager.RankedProxies(c.Request.Context(), count)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to rank proxies")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, toViews(proxies))
}

// HandleRefresh 从远程来源刷新列表并导入，客户端断开不会中断导入
func (s *ProxyService) HandleRefresh(c *gin.Context) {
	stats, err := s.manager.RefreshAndIngest(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		s.logger.Error().Err(err).Msg("Proxy refresh failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"inserted": stats.Inserted,
		"deleted":  stats.Deleted,
		"skipped":  stats.Skipped,
	})
}

// HandleCheck 在后台启动一轮检测
func (s *ProxyService) HandleCheck(c *gin.Context) {
	if s.manager.Checking() {
		c.JSON(http.StatusConflict, gin.H{"error": proxypool.ErrCheckInProgress.Error()})
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	go func() {
		if err := s.manager.Check(ctx); err != nil && !errors.Is(err, proxypool.ErrCheckInProgress) {
			s.logger.Error().Err(err).Msg("Proxy check failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"message": "proxy check started"})
}

func toViews(proxies []*types.Proxy) []proxyView {
	views := make([]proxyView, len(proxies))
	for i, p := range proxies {
		views[i] = newProxyView(p)
	}
	return views
}
