// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ramanshu-1216/news-agent/internal/backend"
	"github.com/Ramanshu-1216/news-agent/internal/model"
	"github.com/Ramanshu-1216/news-agent/internal/relay"
	"github.com/Ramanshu-1216/news-agent/internal/service"
	"github.com/Ramanshu-1216/news-agent/pkg/response"
	"github.com/Ramanshu-1216/news-agent/pkg/sse"
	"github.com/Ramanshu-1216/news-agent/pkg/util"
)

// ChatRelay 对话处理器依赖的服务能力
type ChatRelay interface {
	SendMessage(ctx context.Context, req *service.SendMessageRequest) (*service.SendMessageResponse, error)
	OpenStream(ctx context.Context, req *service.SendMessageRequest) (<-chan backend.StreamEvent, error)
	SaveAssistantMessage(ctx context.Context, sessionID, content string, citations []model.Citation, category string) (*model.ChatMessage, error)
}

// ChatHandler 对话请求处理器
type ChatHandler struct {
	chat      ChatRelay
	keepAlive time.Duration // 流式接口的下行心跳间隔
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(chat ChatRelay, keepAlive time.Duration) *ChatHandler {
	return &ChatHandler{
		chat:      chat,
		keepAlive: keepAlive,
	}
}

// writeChatError 把对话链路上的错误翻译成 HTTP 响应
func writeChatError(c *gin.Context, err error) {
	var backendErr *backend.Error
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.SessionNotFound(c)
	case errors.Is(err, service.ErrStoreUnavailable):
		response.StoreUnavailable(c)
	case errors.Is(err, backend.ErrUnavailable):
		response.BackendUnavailable(c)
	case errors.As(err, &backendErr):
		response.BackendError(c, backendErr.Detail)
	default:
		response.InternalError(c, "Failed to send message", err.Error())
	}
}

// SendMessage 单次对话
// POST /chat
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "sessionId and message are required")
		return
	}

	log.Printf("[INFO] 对话请求 session=%s query=%s", req.SessionID, util.TruncateString(req.Message, 50))

	resp, err := h.chat.SendMessage(c.Request.Context(), &req)
	if err != nil {
		writeChatError(c, err)
		return
	}

	response.OK(c, resp)
}

// StreamMessage 流式对话
// POST /chat/stream
// 响应是一条持久的 SSE 事件流: connected / ping / chunk / complete / error
// 会话不存在或用户消息落库失败发生在流开始之前，仍然以普通 JSON 状态码返回
func (h *ChatHandler) StreamMessage(c *gin.Context) {
	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "sessionId and message are required")
		return
	}

	log.Printf("[INFO] 流式对话请求 session=%s query=%s", req.SessionID, util.TruncateString(req.Message, 50))

	events, err := h.chat.OpenStream(c.Request.Context(), &req)
	if err != nil {
		writeChatError(c, err)
		return
	}

	sse.SetHeaders(c.Writer)
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		response.InternalError(c, "Streaming unsupported", err.Error())
		return
	}

	rel := relay.New(writer, h.keepAlive)
	rel.Run(c.Request.Context(), events, func(resp string, citations []model.Citation) error {
		// 持久化不能继承请求上下文：客户端在 complete 已经生成后断开
		// 不应该丢掉这条已经完整的回答
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := h.chat.SaveAssistantMessage(ctx, req.SessionID, resp, citations, req.Category)
		return err
	})
}
