// Package model 定义了与数据库表对应的数据结构
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MessageRole 消息角色常量
// 角色是封闭枚举，写入和读出都使用这三个标签
const (
	MessageRoleUser      = "user"      // 用户消息
	MessageRoleAssistant = "assistant" // 助手响应
	MessageRoleSystem    = "system"    // 系统消息
)

// CategoryDefault 消息分类的默认值
// 请求未指定分类时使用
const CategoryDefault = "other"

// ValidRole 判断角色是否属于封闭枚举
func ValidRole(role string) bool {
	switch role {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
		return true
	}
	return false
}

// Citation 引用来源
// 助手消息附带的新闻出处，网关只负责透传，不做解析
type Citation struct {
	URL           string   `json:"url"`
	Source        string   `json:"source"`
	Authors       []string `json:"authors"`
	PublishedDate string   `json:"published_date"`
	ArticleID     string   `json:"article_id"`
}

// CitationList 引用列表，序列化为 JSON 存入数据库
type CitationList []Citation

// Value 实现 driver.Valuer，写库时序列化
func (c CitationList) Value() (driver.Value, error) {
	if len(c) == 0 {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan 实现 sql.Scanner，读库时反序列化
func (c *CitationList) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	data, ok := value.([]byte)
	if !ok {
		if s, sok := value.(string); sok {
			data = []byte(s)
		} else {
			return fmt.Errorf("无法将 %T 解析为 CitationList", value)
		}
	}
	return json.Unmarshal(data, c)
}

// Metadata 消息附加信息，不透明的键值对，序列化为 JSON 存入数据库
type Metadata map[string]interface{}

// Value 实现 driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	data, ok := value.([]byte)
	if !ok {
		if s, sok := value.(string); sok {
			data = []byte(s)
		} else {
			return fmt.Errorf("无法将 %T 解析为 Metadata", value)
		}
	}
	return json.Unmarshal(data, m)
}

// ChatMessage 消息模型
// 对应数据库表 chat_messages
// 消息只追加，不会更新；只在清空或删除会话时批量删除
type ChatMessage struct {
	// ID 消息唯一标识，创建时生成的 UUID
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// Seq 插入顺序号
	// timestamp 相同时按 seq 保证排序稳定
	Seq int64 `gorm:"autoIncrement;uniqueIndex" json:"-"`

	// SessionID 所属会话ID，外键关联 sessions.id
	SessionID string `gorm:"index;size:36;not null" json:"sessionId"`

	// Role 消息角色，取值见 MessageRole 常量
	Role string `gorm:"size:20;not null" json:"role"`

	// Content 消息内容
	Content string `gorm:"type:text;not null" json:"content"`

	// Timestamp 消息创建时间，会话内排序的依据
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`

	// Category 消息分类，未指定时为 other
	Category string `gorm:"size:50;not null;default:other" json:"category,omitempty"`

	// Citations 引用来源，可选
	Citations CitationList `gorm:"type:json" json:"citations,omitempty"`

	// Metadata 附加信息，可选
	Metadata Metadata `gorm:"type:json" json:"metadata,omitempty"`

	// Session 所属会话（多对一关系）
	Session *Session `gorm:"foreignKey:SessionID" json:"session,omitempty"`
}

// TableName 指定表名
func (ChatMessage) TableName() string {
	return "chat_messages"
}
