// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Ramanshu-1216/news-agent/internal/model"
	"github.com/Ramanshu-1216/news-agent/internal/relay"
	"github.com/Ramanshu-1216/news-agent/internal/service"
)

// WSHandler WebSocket 流式对话处理器
// 事件内容和 SSE 接口完全一致，只是换了传输：
// 客户端连上后发送一条 {sessionId, message, category} JSON，
// 随后在同一连接上接收 connected / ping / chunk / complete / error 事件
type WSHandler struct {
	chat      ChatRelay
	upgrader  websocket.Upgrader
	keepAlive time.Duration
}

// NewWSHandler 创建 WSHandler 实例
func NewWSHandler(chat ChatRelay, keepAlive time.Duration) *WSHandler {
	return &WSHandler{
		chat: chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 跨域由业务层的 CORS 配置统一把关
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		keepAlive: keepAlive,
	}
}

// wsEventWriter 把中继事件写成 WebSocket JSON 帧
// 写串行化由中继层保证
type wsEventWriter struct {
	conn *websocket.Conn
}

func (w *wsEventWriter) WriteEvent(event string, data interface{}) error {
	return w.conn.WriteJSON(map[string]interface{}{
		"event": event,
		"data":  data,
	})
}

// Stream 处理一次 WebSocket 流式对话
// GET /chat/ws
func (h *WSHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WARN] WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	writer := &wsEventWriter{conn: conn}

	// 第一条消息携带请求体
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var req service.SendMessageRequest
	if err := conn.ReadJSON(&req); err != nil {
		writer.WriteEvent("error", map[string]interface{}{"error": "invalid request payload"})
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writer.WriteEvent("error", map[string]interface{}{"error": "sessionId and message are required"})
		return
	}
	conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 下游断开监测：读协程出错即取消中继
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	events, err := h.chat.OpenStream(ctx, &req)
	if err != nil {
		writeStreamOpenError(writer, err)
		return
	}

	rel := relay.New(writer, h.keepAlive)
	rel.Run(ctx, events, func(resp string, citations []model.Citation) error {
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer saveCancel()
		_, err := h.chat.SaveAssistantMessage(saveCtx, req.SessionID, resp, citations, req.Category)
		return err
	})
}

// writeStreamOpenError 把流开启前的失败写成一个 error 事件
// WebSocket 已经升级成功，没有 HTTP 状态码可用
func writeStreamOpenError(w relay.EventWriter, err error) {
	w.WriteEvent("error", map[string]interface{}{"error": err.Error()})
}
