// Package sse 提供 Server-Sent Events 的写入封装
// 线格式与前端约定一致：每个事件是一行
// data: {"event": "...", "data": {...}} 外加一个空行
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// envelope 下行事件信封，事件类型放在 JSON 里而不是 event: 字段
type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// SetHeaders 设置 SSE 响应头
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")
}

// Writer 把事件写到一个支持 Flush 的 http.ResponseWriter
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter 创建 SSE 写入器
// 底层连接不支持 Flush 时返回错误
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent 写出一个事件并立即刷出
// 写失败意味着客户端已断开
func (s *Writer) WriteEvent(event string, data interface{}) error {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
