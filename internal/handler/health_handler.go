// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger 健康检查探测接口
type Pinger interface {
	Ping(ctx context.Context) error
}

// BackendPinger 问答后端探测接口
type BackendPinger interface {
	Health(ctx context.Context) error
}

// HealthHandler 健康检查处理器
// 汇总数据库、缓存和问答后端三路探测结果
type HealthHandler struct {
	db      Pinger
	cache   Pinger
	backend BackendPinger
}

// NewHealthHandler 创建 HealthHandler 实例
func NewHealthHandler(db, cache Pinger, backend BackendPinger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		cache:   cache,
		backend: backend,
	}
}

// Check 健康检查
// GET /health
// 数据库或问答后端不可用时返回 503
// 缓存只是加速层，挂了照常服务，只在响应里如实上报
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := gin.H{
		"database": "ok",
		"cache":    "ok",
		"agent":    "ok",
	}
	degraded := false
	unavailable := false

	if err := h.db.Ping(ctx); err != nil {
		components["database"] = err.Error()
		unavailable = true
	}
	if err := h.cache.Ping(ctx); err != nil {
		components["cache"] = err.Error()
		degraded = true
	}
	if err := h.backend.Health(ctx); err != nil {
		components["agent"] = err.Error()
		unavailable = true
	}

	status := "ok"
	code := http.StatusOK
	switch {
	case unavailable:
		status = "unavailable"
		code = http.StatusServiceUnavailable
	case degraded:
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":     status,
		"components": components,
		"timestamp":  time.Now(),
	})
}
