// Package response 提供统一的 HTTP 响应辅助函数
// 成功响应直接返回业务载荷，错误响应统一为 {"error": ..., "details": ...}
// 与前端约定的线格式保持一致；流式接口不经过这里，直接写 SSE 帧
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody 错误响应结构
type ErrorBody struct {
	Error   string `json:"error"`             // 错误信息
	Details string `json:"details,omitempty"` // 错误详情，可选
}

// OK 返回 200 成功响应
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created 返回 201 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// BadRequest 返回 400 错误（请求参数错误）
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorBody{Error: message})
}

// NotFound 返回 404 错误（资源不存在）
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, ErrorBody{Error: message})
}

// SessionNotFound 返回会话不存在错误
func SessionNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorBody{Error: "Session not found"})
}

// InternalError 返回 500 错误（服务器内部错误）
func InternalError(c *gin.Context, message, details string) {
	c.JSON(http.StatusInternalServerError, ErrorBody{Error: message, Details: details})
}

// StoreUnavailable 返回 500 错误（存储不可用）
// 落库失败的请求必须响亮地失败，客户端据此重试
func StoreUnavailable(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, ErrorBody{Error: "Storage unavailable, please retry"})
}

// BackendUnavailable 返回 502 错误（问答后端不可用）
func BackendUnavailable(c *gin.Context) {
	c.JSON(http.StatusBadGateway, ErrorBody{Error: "AI backend is not available. Please ensure it's running."})
}

// BackendError 返回 502 错误（问答后端出错）
func BackendError(c *gin.Context, details string) {
	c.JSON(http.StatusBadGateway, ErrorBody{Error: "AI backend error", Details: details})
}
