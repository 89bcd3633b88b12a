// Package model 定义了与数据库表对应的数据结构
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session 会话模型
// 对应数据库表 sessions
// 表示一次与新闻问答后端的对话，只保存身份和活动元数据
// 消息内容单独存放在 chat_messages 表中
type Session struct {
	// ID 会话唯一标识，服务端生成的 UUID
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// CreatedAt 创建时间，创建后不再变化
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`

	// LastActivity 最后活动时间
	// 每次追加消息或清空会话时更新，单调不减
	LastActivity time.Time `gorm:"index;not null" json:"lastActivity"`

	// MessageCount 消息数量
	// 冗余计数，与消息写入在同一事务内维护
	MessageCount int64 `gorm:"not null;default:0" json:"messageCount"`

	// Messages 会话中的所有消息（一对多关系）
	// 删除会话时级联删除
	Messages []ChatMessage `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName 指定表名
func (Session) TableName() string {
	return "sessions"
}

// BeforeCreate 在插入前填充 ID 和初始活动时间
func (s *Session) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.LastActivity.IsZero() {
		s.LastActivity = time.Now()
	}
	return nil
}

// SessionInfo 会话摘要
// 只包含元数据，不携带消息内容，用于列表和详情接口
// 也是 session:<id> 缓存键中存放的载荷
type SessionInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	MessageCount int64     `json:"messageCount"`
}

// Info 返回会话的摘要视图
func (s *Session) Info() *SessionInfo {
	return &SessionInfo{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		MessageCount: s.MessageCount,
	}
}
