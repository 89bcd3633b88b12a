// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ramanshu-1216/news-agent/internal/model"
	"github.com/Ramanshu-1216/news-agent/internal/service"
	"github.com/Ramanshu-1216/news-agent/pkg/response"
)

// SessionStore 会话处理器依赖的服务能力
type SessionStore interface {
	CreateSession(ctx context.Context) (*model.SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*model.SessionInfo, error)
	ListSessions(ctx context.Context) ([]model.SessionInfo, error)
	ClearSession(ctx context.Context, sessionID string) error
	GetChatHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
}

// SessionHandler 会话请求处理器
type SessionHandler struct {
	sessions SessionStore
}

// NewSessionHandler 创建 SessionHandler 实例
func NewSessionHandler(sessions SessionStore) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// writeServiceError 把服务层错误翻译成 HTTP 响应
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.SessionNotFound(c)
	case errors.Is(err, service.ErrStoreUnavailable):
		response.StoreUnavailable(c)
	default:
		response.InternalError(c, "Internal server error", err.Error())
	}
}

// CreateSession 创建新会话
// POST /sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	info, err := h.sessions.CreateSession(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Created(c, gin.H{
		"sessionId": info.ID,
		"message":   "Session created successfully",
		"createdAt": info.CreatedAt,
	})
}

// GetSession 获取会话摘要
// GET /sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	info, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.OK(c, info)
}

// ListSessions 获取所有会话摘要
// GET /sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.ListSessions(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.OK(c, gin.H{
		"totalSessions": len(sessions),
		"sessions":      sessions,
	})
}

// ClearSession 清空会话
// DELETE /sessions/:id
// 只清空消息和计数，会话本身保留
func (h *SessionHandler) ClearSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.sessions.ClearSession(c.Request.Context(), sessionID); err != nil {
		writeServiceError(c, err)
		return
	}

	response.OK(c, gin.H{
		"message":   "Session cleared successfully",
		"sessionId": sessionID,
		"clearedAt": time.Now(),
	})
}

// GetChatHistory 获取会话的消息列表
// GET /chat-history/:id
// 历史为空时要区分"空会话"和"无会话"：后者返回 404
func (h *SessionHandler) GetChatHistory(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	messages, err := h.sessions.GetChatHistory(ctx, sessionID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if len(messages) == 0 {
		if _, err := h.sessions.GetSession(ctx, sessionID); err != nil {
			writeServiceError(c, err)
			return
		}
	}

	response.OK(c, gin.H{
		"sessionId":     sessionID,
		"messages":      messages,
		"totalMessages": len(messages),
	})
}
