// Package repository 提供数据访问层的实现
// 数据库是会话和消息的唯一权威来源，缓存只是加速层
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Ramanshu-1216/news-agent/internal/model"
)

// ErrNotFound 目标记录不存在
// 上层服务据此区分"会话不存在"和"存储故障"
var ErrNotFound = errors.New("记录不存在")

// SessionRepository 会话数据访问层
// 负责会话相关的所有数据库操作
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建 SessionRepository 实例
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create 创建新会话
// 参数:
//   - ctx: 上下文
//   - session: 会话对象，ID 和时间字段会被自动填充
//
// 返回:
//   - error: 数据库错误
func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// GetByID 根据 ID 获取会话
// 参数:
//   - ctx: 上下文
//   - id: 会话ID
//
// 返回:
//   - *model.Session: 会话对象，未找到返回 nil
//   - error: 数据库错误
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// GetInfoByID 根据 ID 获取会话摘要
// 只查询元数据列，不加载消息
// 参数:
//   - ctx: 上下文
//   - id: 会话ID
//
// 返回:
//   - *model.SessionInfo: 会话摘要，未找到返回 nil
//   - error: 数据库错误
func (r *SessionRepository) GetInfoByID(ctx context.Context, id string) (*model.SessionInfo, error) {
	var session model.Session
	err := r.db.WithContext(ctx).
		Select("id", "created_at", "last_activity", "message_count").
		First(&session, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return session.Info(), nil
}

// ListInfos 获取所有会话的摘要
// 按最后活动时间倒序排列
// 参数:
//   - ctx: 上下文
//
// 返回:
//   - []model.SessionInfo: 摘要列表
//   - error: 数据库错误
func (r *SessionRepository) ListInfos(ctx context.Context) ([]model.SessionInfo, error) {
	var sessions []model.Session
	err := r.db.WithContext(ctx).
		Select("id", "created_at", "last_activity", "message_count").
		Order("last_activity DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}

	infos := make([]model.SessionInfo, len(sessions))
	for i := range sessions {
		infos[i] = *sessions[i].Info()
	}
	return infos, nil
}

// Count 统计会话总数
// 参数:
//   - ctx: 上下文
//
// 返回:
//   - int64: 会话数量
//   - error: 数据库错误
func (r *SessionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Session{}).Count(&count).Error
	return count, err
}

// AppendMessage 追加一条消息
// 消息插入、计数自增、活动时间更新在同一个事务内提交
// 事务失败时三者都不生效，不会出现部分写入
// 参数:
//   - ctx: 上下文
//   - message: 消息对象，SessionID 必须已设置
//
// 返回:
//   - error: 会话不存在返回 ErrNotFound，否则为数据库错误
func (r *SessionRepository) AppendMessage(ctx context.Context, message *model.ChatMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Session{}).
			Where("id = ?", message.SessionID).
			Updates(map[string]interface{}{
				"message_count": gorm.Expr("message_count + ?", 1),
				"last_activity": message.Timestamp,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(message).Error
	})
}

// Clear 清空会话
// 删除所有消息、计数归零、活动时间更新在同一个事务内提交
// 参数:
//   - ctx: 上下文
//   - id: 会话ID
//
// 返回:
//   - error: 会话不存在返回 ErrNotFound，否则为数据库错误
func (r *SessionRepository) Clear(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Session{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"message_count": 0,
				"last_activity": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("session_id = ?", id).Delete(&model.ChatMessage{}).Error
	})
}

// Delete 删除会话
// 级联删除关联的所有消息
// 参数:
//   - ctx: 上下文
//   - id: 会话ID
//
// 返回:
//   - error: 会话不存在返回 ErrNotFound，否则为数据库错误
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&model.Session{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
