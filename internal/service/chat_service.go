// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ramanshu-1216/news-agent/internal/backend"
	"github.com/Ramanshu-1216/news-agent/internal/model"
)

// BackendClient 问答后端能力
type BackendClient interface {
	SendMessage(ctx context.Context, req *backend.ChatRequest) (*backend.ChatResponse, error)
	StreamMessage(ctx context.Context, req *backend.ChatRequest) <-chan backend.StreamEvent
}

// SendMessageRequest 一次对话请求
type SendMessageRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Category  string `json:"category"`
}

// SendMessageResponse 单次对话的响应
type SendMessageResponse struct {
	SessionID string             `json:"sessionId"`
	Response  string             `json:"response"`
	Citations model.CitationList `json:"citations"`
	MessageID string             `json:"messageId"`
	Timestamp time.Time          `json:"timestamp"`
}

// ChatService 对话服务
// 串起一轮对话：校验会话、落用户消息、带历史调后端、落助手消息
type ChatService struct {
	sessions *SessionService
	backend  BackendClient
}

// NewChatService 创建 ChatService 实例
func NewChatService(sessions *SessionService, backendClient BackendClient) *ChatService {
	return &ChatService{
		sessions: sessions,
		backend:  backendClient,
	}
}

// SendMessage 单次（非流式）对话
// 用户消息落库失败时整个请求失败，不吞掉用户的这一轮输入
func (s *ChatService) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	category := req.Category
	if category == "" {
		category = model.CategoryDefault
	}

	if _, err := s.sessions.GetSession(ctx, req.SessionID); err != nil {
		return nil, err
	}

	userMessage := newMessage(req.SessionID, model.MessageRoleUser, req.Message, category)
	if err := s.sessions.AppendMessage(ctx, userMessage); err != nil {
		return nil, err
	}

	history, err := s.formatHistory(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	resp, err := s.backend.SendMessage(ctx, &backend.ChatRequest{
		Query:       req.Message,
		ChatHistory: history,
		Category:    category,
	})
	if err != nil {
		return nil, err
	}

	assistantMessage := newMessage(req.SessionID, model.MessageRoleAssistant, resp.Response, category)
	assistantMessage.Citations = resp.Citations
	if err := s.sessions.AppendMessage(ctx, assistantMessage); err != nil {
		return nil, err
	}

	return &SendMessageResponse{
		SessionID: req.SessionID,
		Response:  resp.Response,
		Citations: assistantMessage.Citations,
		MessageID: assistantMessage.ID,
		Timestamp: assistantMessage.Timestamp,
	}, nil
}

// OpenStream 开启一次流式对话
// 校验会话并落用户消息之后，向后端发起流式请求
// 之后的一切失败（包括立即失败）都以 Error 事件出现在返回的通道上
func (s *ChatService) OpenStream(ctx context.Context, req *SendMessageRequest) (<-chan backend.StreamEvent, error) {
	category := req.Category
	if category == "" {
		category = model.CategoryDefault
	}

	if _, err := s.sessions.GetSession(ctx, req.SessionID); err != nil {
		return nil, err
	}

	userMessage := newMessage(req.SessionID, model.MessageRoleUser, req.Message, category)
	if err := s.sessions.AppendMessage(ctx, userMessage); err != nil {
		return nil, err
	}

	history, err := s.formatHistory(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	return s.backend.StreamMessage(ctx, &backend.ChatRequest{
		Query:       req.Message,
		ChatHistory: history,
		Category:    category,
	}), nil
}

// SaveAssistantMessage 持久化流式对话的最终回答
// 只在流成功完成时调用，半途失败的流不会留下助手消息
func (s *ChatService) SaveAssistantMessage(ctx context.Context, sessionID, content string, citations []model.Citation, category string) (*model.ChatMessage, error) {
	if category == "" {
		category = model.CategoryDefault
	}

	message := newMessage(sessionID, model.MessageRoleAssistant, content, category)
	message.Citations = citations
	if err := s.sessions.AppendMessage(ctx, message); err != nil {
		return nil, err
	}
	return message, nil
}

// formatHistory 把会话历史整理成后端需要的形状
// 只保留 user/assistant 两种角色
func (s *ChatService) formatHistory(ctx context.Context, sessionID string) ([]backend.HistoryEntry, error) {
	messages, err := s.sessions.GetChatHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	history := make([]backend.HistoryEntry, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != model.MessageRoleUser && msg.Role != model.MessageRoleAssistant {
			continue
		}
		history = append(history, backend.HistoryEntry{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return history, nil
}

// newMessage 构造一条新消息
func newMessage(sessionID, role, content, category string) *model.ChatMessage {
	return &model.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Category:  category,
	}
}
