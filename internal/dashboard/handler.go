// handler.go — 面板路由与状态快照 handler。
package dashboard

import (
	"github.com/gin-gonic/gin"
)

// registerRoutes 注册全部路由。
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.healthHandler)

	api := s.router.Group("/api")
	{
		api.GET("/state", s.stateHandler)
		api.GET("/sessions", s.sessionsHandler)
		api.GET("/buffers", s.buffersHandler)
		api.GET("/buffers/:message_id", s.bufferHandler)
		api.GET("/events", s.sseHandler)
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// stateHandler 运行时总览。
func (s *Server) stateHandler(c *gin.Context) {
	success(c, gin.H{
		"adapters":        s.mux.Keys(),
		"sessions":        len(s.br.Registry().Sessions()),
		"buffers":         s.br.Buffers().Len(),
		"pending_auth":    s.br.Gate().Len(),
		"active_messages": s.br.Registry().ActiveMessages(),
	})
}

// sessionsHandler 会话到聊天的映射快照。
func (s *Server) sessionsHandler(c *gin.Context) {
	sessions := s.br.Registry().Sessions()
	out := make([]gin.H, 0, len(sessions))
	for id, sctx := range sessions {
		out = append(out, gin.H{
			"session_id": id,
			"chat_id":    sctx.ChatID,
			"sender_id":  sctx.SenderID,
		})
	}
	success(c, out)
}

// buffersHandler 全部消息缓冲的摘要。
func (s *Server) buffersHandler(c *gin.Context) {
	success(c, s.br.Buffers().Snapshot())
}

// bufferHandler 单个缓冲的完整展示内容。
func (s *Server) bufferHandler(c *gin.Context) {
	id := c.Param("message_id")
	buf, ok := s.br.Buffers().Get(id)
	if !ok {
		notFound(c, "buffer not found: "+id)
		return
	}
	success(c, gin.H{
		"session_id":      buf.SessionID,
		"message_id":      buf.MessageID,
		"platform_msg_id": buf.PlatformMsgID,
		"final":           buf.Final,
		"status":          buf.Status,
		"display":         buf.BuildDisplay(),
	})
}
