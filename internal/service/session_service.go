// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Ramanshu-1216/news-agent/internal/model"
	"github.com/Ramanshu-1216/news-agent/internal/repository"
)

// 会话服务相关错误
// 存储层的原生错误不会穿透到这层之上
var (
	ErrSessionNotFound  = errors.New("会话不存在")
	ErrStoreUnavailable = errors.New("存储服务不可用")
)

// SessionRepo 会话持久层能力
type SessionRepo interface {
	Create(ctx context.Context, session *model.Session) error
	GetInfoByID(ctx context.Context, id string) (*model.SessionInfo, error)
	ListInfos(ctx context.Context) ([]model.SessionInfo, error)
	Count(ctx context.Context) (int64, error)
	AppendMessage(ctx context.Context, message *model.ChatMessage) error
	Clear(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// MessageRepo 消息持久层能力
type MessageRepo interface {
	GetBySessionID(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	GetRecentBySessionID(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error)
}

// HistoryCache 缓存层能力
// 实现必须吞掉自身故障：读失败表现为未命中，写失败返回的错误
// 只允许调用方用来降级为失效处理
type HistoryCache interface {
	CacheSession(ctx context.Context, info *model.SessionInfo) error
	GetCachedSession(ctx context.Context, sessionID string) (*model.SessionInfo, bool)
	InvalidateSession(ctx context.Context, sessionID string)
	CacheChatHistory(ctx context.Context, sessionID string, messages []model.ChatMessage) error
	GetCachedChatHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, bool)
	InvalidateChatHistory(ctx context.Context, sessionID string)
}

// SessionService 会话服务
// 在数据库之上做 cache-aside：读优先走缓存，写先落库再做定向缓存修补
// 数据库永远是权威，缓存全灭时所有操作依然正确
type SessionService struct {
	sessions SessionRepo
	messages MessageRepo
	cache    HistoryCache
}

// NewSessionService 创建 SessionService 实例
func NewSessionService(sessions SessionRepo, messages MessageRepo, cache HistoryCache) *SessionService {
	return &SessionService{
		sessions: sessions,
		messages: messages,
		cache:    cache,
	}
}

// wrapStoreErr 把持久层错误映射为领域错误
func wrapStoreErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSessionNotFound
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// CreateSession 创建新会话
// 直接写库，不预填缓存，下次读取时自然回填
func (s *SessionService) CreateSession(ctx context.Context) (*model.SessionInfo, error) {
	session := &model.Session{}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, wrapStoreErr(err)
	}
	log.Printf("[INFO] 创建会话: %s", session.ID)
	return session.Info(), nil
}

// GetSession 获取会话摘要
// 缓存命中直接返回；未命中读库并以新 TTL 回填
// 会话不存在返回 ErrSessionNotFound，不缓存"不存在"
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*model.SessionInfo, error) {
	if info, ok := s.cache.GetCachedSession(ctx, sessionID); ok {
		return info, nil
	}

	info, err := s.sessions.GetInfoByID(ctx, sessionID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if info == nil {
		return nil, ErrSessionNotFound
	}

	s.cache.CacheSession(ctx, info)
	return info, nil
}

// ListSessions 获取所有会话摘要，按最后活动时间倒序
func (s *SessionService) ListSessions(ctx context.Context) ([]model.SessionInfo, error) {
	infos, err := s.sessions.ListInfos(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return infos, nil
}

// CountSessions 统计会话总数
func (s *SessionService) CountSessions(ctx context.Context) (int64, error) {
	count, err := s.sessions.Count(ctx)
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	return count, nil
}

// GetChatHistory 获取会话的消息列表
// 与 GetSession 相同的 cache-aside 模式，键为 chat_history:<id>
// 会话不存在时返回空列表，"空会话"和"无会话"由调用方结合 GetSession 区分
func (s *SessionService) GetChatHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	if messages, ok := s.cache.GetCachedChatHistory(ctx, sessionID); ok {
		return messages, nil
	}

	messages, err := s.messages.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	s.cache.CacheChatHistory(ctx, sessionID, messages)
	return messages, nil
}

// GetRecentMessages 获取会话的最新 N 条消息
// 只读最近上下文，不走历史缓存
func (s *SessionService) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	messages, err := s.messages.GetRecentBySessionID(ctx, sessionID, limit)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return messages, nil
}

// AppendMessage 追加一条消息
// 先在数据库里完成事务性追加（消息 + 计数 + 活动时间），
// 成功之后才做缓存修补；修补失败绝不回滚落库结果
func (s *SessionService) AppendMessage(ctx context.Context, message *model.ChatMessage) error {
	if err := s.sessions.AppendMessage(ctx, message); err != nil {
		return wrapStoreErr(err)
	}

	s.patchCaches(ctx, message)
	return nil
}

// patchCaches 追加消息后的定向缓存修补
// 历史缓存命中则把新消息追加进去并刷新 TTL（续聊的热路径不用全量重载）；
// 未命中则只失效键，不凭空构造半份缓存。会话缓存同理，只修活动元数据。
// 任何一步修补失败都降级为双键失效：宁可多一次回源，不留错数据
func (s *SessionService) patchCaches(ctx context.Context, message *model.ChatMessage) {
	sessionID := message.SessionID

	if history, ok := s.cache.GetCachedChatHistory(ctx, sessionID); ok {
		if err := s.cache.CacheChatHistory(ctx, sessionID, append(history, *message)); err != nil {
			s.invalidateBoth(ctx, sessionID)
			return
		}
	} else {
		s.cache.InvalidateChatHistory(ctx, sessionID)
	}

	if info, ok := s.cache.GetCachedSession(ctx, sessionID); ok {
		info.LastActivity = message.Timestamp
		info.MessageCount++
		if err := s.cache.CacheSession(ctx, info); err != nil {
			s.invalidateBoth(ctx, sessionID)
		}
	} else {
		s.cache.InvalidateSession(ctx, sessionID)
	}
}

// invalidateBoth 同时失效会话摘要和聊天历史两个缓存键
func (s *SessionService) invalidateBoth(ctx context.Context, sessionID string) {
	s.cache.InvalidateChatHistory(ctx, sessionID)
	s.cache.InvalidateSession(ctx, sessionID)
}

// ClearSession 清空会话
// 数据库内事务性地删消息、清计数，然后无条件失效两个缓存键
// 清空是低频操作，下次读取回源重载即可，不做修补
func (s *SessionService) ClearSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Clear(ctx, sessionID); err != nil {
		return wrapStoreErr(err)
	}

	s.invalidateBoth(ctx, sessionID)
	log.Printf("[INFO] 清空会话: %s", sessionID)
	return nil
}

// DeleteSession 删除会话及其全部消息
func (s *SessionService) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return wrapStoreErr(err)
	}

	s.invalidateBoth(ctx, sessionID)
	log.Printf("[INFO] 删除会话: %s", sessionID)
	return nil
}
