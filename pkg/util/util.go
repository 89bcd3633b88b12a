// Package util 提供通用工具函数
package util

import (
	"github.com/google/uuid"
)

// GenerateID 生成 UUID v4 字符串
// 会话和消息的标识都用它
func GenerateID() string {
	return uuid.NewString()
}

// TruncateString 截断字符串到指定长度
// 如果字符串超过指定长度，截断并添加 "..."
// 用于日志里收敛用户问题的长度
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
