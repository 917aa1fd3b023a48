package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"scraper-backend/pkg/config"
	"scraper-backend/pkg/server/middleware"
)

// RouteRegistrar 向 gin 注册路由的服务
type RouteRegistrar interface {
	RegisterRoutes(r *gin.Engine)
}

// Server HTTP 服务器
type Server struct {
	config     *config.ServerConfig
	logger     zerolog.Logger
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// New 创建服务器实例并注册所有服务的路由
func New(cfg *config.ServerConfig, logger zerolog.Logger, services ...RouteRegistrar) *Server {
	if !cfg.Log.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery(logger), middleware.RequestLogger(logger))
	for _, s := range services {
		s.RegisterRoutes(engine)
	}

	return &Server{
		config: cfg,
		logger: logger.With().Str("component", "server").Logger(),
		engine: engine,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler 返回路由处理器
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 监听端口并在后台提供服务
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if s.config.Server.TLS.Enabled {
			err = s.httpServer.ServeTLS(listener, s.config.Server.TLS.Cert, s.config.Server.TLS.Key)
		} else {
			err = s.httpServer.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().
		Str("address", listener.Addr().String()).
		Bool("tls", s.config.Server.TLS.Enabled).
		Msg("Server started")

	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	// 优雅关闭 HTTP 服务器
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	// 等待所有服务停止
	s.wg.Wait()

	s.logger.Info().Msg("Server stopped")
	return nil
}
