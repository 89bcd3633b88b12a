// Package repository 提供数据访问层的实现
package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/Ramanshu-1216/news-agent/internal/model"
)

// MessageRepository 消息数据访问层
// 负责消息相关的所有数据库操作
// 消息写入走 SessionRepository.AppendMessage（需要和计数同事务）
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建 MessageRepository 实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// GetBySessionID 获取会话的所有消息
// 按时间正序排列，时间相同时按插入顺序排列
// 参数:
//   - ctx: 上下文
//   - sessionID: 会话ID
//
// 返回:
//   - []model.ChatMessage: 消息列表
//   - error: 数据库错误
func (r *MessageRepository) GetBySessionID(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC, seq ASC").
		Find(&messages).Error
	return messages, err
}

// GetRecentBySessionID 获取会话的最新 N 条消息
// 用于展示最近的对话上下文
// 参数:
//   - ctx: 上下文
//   - sessionID: 会话ID
//   - limit: 要获取的消息数量
//
// 返回:
//   - []model.ChatMessage: 消息列表（按时间正序）
//   - error: 数据库错误
func (r *MessageRepository) GetRecentBySessionID(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage

	// 先倒序取最新的 N 条，外层再按时间正序排列
	subQuery := r.db.WithContext(ctx).
		Model(&model.ChatMessage{}).
		Where("session_id = ?", sessionID).
		Order("timestamp DESC, seq DESC").
		Limit(limit)

	err := r.db.WithContext(ctx).
		Table("(?) as t", subQuery).
		Order("timestamp ASC, seq ASC").
		Find(&messages).Error

	return messages, err
}

// GetBySessionIDAndRole 获取会话中指定角色的消息
// 参数:
//   - ctx: 上下文
//   - sessionID: 会话ID
//   - role: 角色，见 model.MessageRole 常量
//
// 返回:
//   - []model.ChatMessage: 消息列表
//   - error: 数据库错误
func (r *MessageRepository) GetBySessionIDAndRole(ctx context.Context, sessionID, role string) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND role = ?", sessionID, role).
		Order("timestamp ASC, seq ASC").
		Find(&messages).Error
	return messages, err
}

// CountBySessionID 统计会话的消息数量
// 直接数表里的行，用于校验冗余计数
// 参数:
//   - ctx: 上下文
//   - sessionID: 会话ID
//
// 返回:
//   - int64: 消息数量
//   - error: 数据库错误
func (r *MessageRepository) CountBySessionID(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ChatMessage{}).Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}

// DeleteBySessionID 删除会话的所有消息
// 参数:
//   - ctx: 上下文
//   - sessionID: 会话ID
//
// 返回:
//   - error: 数据库错误
func (r *MessageRepository) DeleteBySessionID(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.ChatMessage{}).Error
}
