// Package dashboard 提供调试面板 HTTP 服务: 运行时状态快照与事件 SSE 流。
package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Liyunlun/message-bridge-opencode-plugin/internal/bridge"
	apperrors "github.com/Liyunlun/message-bridge-opencode-plugin/pkg/errors"
	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/logger"
)

// Server 调试面板 HTTP 服务。
type Server struct {
	router *gin.Engine
	br     *bridge.Bridge
	mux    *bridge.Mux
	bus    *EventBus
	hsrv   *http.Server
}

// NewServer 创建面板服务。
func NewServer(br *bridge.Bridge, mux *bridge.Mux) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		serverError(c, apperrors.Wrapf(apperrors.ErrInternal, "dashboard", "handler panic: %v", rec))
	}))

	s := &Server{router: r, br: br, mux: mux, bus: NewEventBus()}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// Start 在 addr 上启动服务, 阻塞直到服务退出。
func (s *Server) Start(addr string) error {
	s.hsrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("dashboard listening", logger.FieldAddr, addr)
	err := s.hsrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown 优雅停止。
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hsrv == nil {
		return nil
	}
	return s.hsrv.Shutdown(ctx)
}
