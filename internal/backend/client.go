// Package backend 封装对新闻问答后端的调用
// 后端是纯粹的请求-响应服务：单次问答走 /chat/query，
// 流式问答走 /chat/stream（data: 前缀的 JSON 信封，按行分割）
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Ramanshu-1216/news-agent/internal/config"
	"github.com/Ramanshu-1216/news-agent/internal/model"
)

// ErrUnavailable 后端连不上（进程没起、网络不通）
var ErrUnavailable = errors.New("问答后端不可用")

// Error 后端返回的业务错误（非 2xx 或载荷损坏）
type Error struct {
	Status int    // HTTP 状态码，载荷损坏时为 0
	Detail string // 错误详情
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("问答后端错误 (status %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("问答后端错误: %s", e.Detail)
}

// HistoryEntry 发给后端的历史记录条目
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 问答请求
type ChatRequest struct {
	Query       string         `json:"query"`
	ChatHistory []HistoryEntry `json:"chat_history"`
	Category    string         `json:"category,omitempty"`
}

// ChatResponse 单次问答的响应
type ChatResponse struct {
	Response  string           `json:"response"`
	Citations []model.Citation `json:"citations"`
}

// EventKind 流式事件类型
type EventKind int

// 三种互斥的流式事件：片段、完成、失败
// Complete 和 Error 是终止事件，之后通道会被关闭
const (
	KindChunk EventKind = iota
	KindComplete
	KindError
)

// StreamEvent 流式问答的带标签事件
// 通过通道交给中继层消费，避免回调穿透
type StreamEvent struct {
	Kind      EventKind
	Chunk     string           // KindChunk: 文本片段
	Response  string           // KindComplete: 完整回答
	Citations []model.Citation // KindComplete: 引用列表
	Err       string           // KindError: 错误描述
}

// Client 问答后端客户端
type Client struct {
	baseURL         string
	queryClient     *http.Client // 单次问答，30s 超时
	streamClient    *http.Client // 流式问答，超时由请求上下文控制
	streamTimeout   time.Duration
	watchdogTimeout time.Duration
}

// NewClient 创建后端客户端
// 未配置的超时取和原服务一致的默认值
func NewClient(cfg config.AgentConfig) *Client {
	queryTimeout := cfg.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	streamTimeout := cfg.StreamTimeout
	if streamTimeout <= 0 {
		streamTimeout = 120 * time.Second
	}
	watchdog := cfg.WatchdogTimeout
	if watchdog <= 0 {
		watchdog = 30 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		queryClient:     &http.Client{Timeout: queryTimeout},
		streamClient:    &http.Client{},
		streamTimeout:   streamTimeout,
		watchdogTimeout: watchdog,
	}
}

// SendMessage 单次问答
// 参数:
//   - ctx: 上下文
//   - req: 问题、历史和分类
//
// 返回:
//   - *ChatResponse: 回答和引用
//   - error: 连接失败返回 ErrUnavailable，其余为 *Error
func (c *Client) SendMessage(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/query", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.queryClient.Do(httpReq)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Status: resp.StatusCode, Detail: string(body)}
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, &Error{Detail: fmt.Sprintf("响应解析失败: %v", err)}
	}
	return &chatResp, nil
}

// StreamMessage 流式问答
// 返回的通道上最多出现一个终止事件（Complete 或 Error），随后关闭
// 整个交互受 stream_timeout 约束，首字节另有独立的看门狗
func (c *Client) StreamMessage(ctx context.Context, req *ChatRequest) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)
	go c.runStream(ctx, req, events)
	return events
}

// streamEnvelope 后端流式信封: data: {"event": ..., "data": {...}}
type streamEnvelope struct {
	Event string `json:"event"`
	Data  struct {
		Chunk     string           `json:"chunk"`
		Response  string           `json:"response"`
		Citations []model.Citation `json:"citations"`
		Error     string           `json:"error"`
	} `json:"data"`
}

const dataPrefix = "data: "

func (c *Client) runStream(ctx context.Context, req *ChatRequest, events chan<- StreamEvent) {
	defer close(events)

	ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)
	defer cancel()

	// 消费方可能随时弃读（下游断开后中继直接退出），
	// 所有发送都要能被 ctx 解除阻塞，否则本协程连同缓冲一起泄漏
	// 缓冲有空位时直接入队，超时当口的终止事件不能被 ctx 随机吃掉
	emit := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		default:
		}
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		emit(StreamEvent{Kind: KindError, Err: fmt.Sprintf("请求序列化失败: %v", err)})
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/stream", bytes.NewReader(payload))
	if err != nil {
		emit(StreamEvent{Kind: KindError, Err: err.Error()})
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		emit(StreamEvent{Kind: KindError, Err: "问答后端不可用，请确认其已在运行"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		emit(StreamEvent{Kind: KindError, Err: fmt.Sprintf("问答后端错误 (status %d): %s", resp.StatusCode, string(body))})
		return
	}

	// 首字节看门狗：watchdog_timeout 内没有任何数据就掐断流
	// 收到第一行后停止，与整体超时相互独立
	var watchdogFired atomic.Bool
	watchdog := time.AfterFunc(c.watchdogTimeout, func() {
		watchdogFired.Store(true)
		resp.Body.Close()
	})
	defer watchdog.Stop()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		watchdog.Stop()

		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		var env streamEnvelope
		if err := json.Unmarshal([]byte(line[len(dataPrefix):]), &env); err != nil {
			log.Printf("[WARN] 流式信封解析失败: %v", err)
			continue
		}

		switch env.Event {
		case "response_chunk":
			if !emit(StreamEvent{Kind: KindChunk, Chunk: env.Data.Chunk}) {
				return
			}
		case "complete":
			emit(StreamEvent{Kind: KindComplete, Response: env.Data.Response, Citations: env.Data.Citations})
			return
		case "error":
			msg := env.Data.Error
			if msg == "" {
				msg = "未知的流式错误"
			}
			emit(StreamEvent{Kind: KindError, Err: msg})
			return
		}
	}

	// 到这里说明流在终止事件之前断开了
	if watchdogFired.Load() {
		emit(StreamEvent{Kind: KindError, Err: "stream timeout - 问答后端无响应"})
		return
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			emit(StreamEvent{Kind: KindError, Err: "流式响应超时"})
			return
		}
		emit(StreamEvent{Kind: KindError, Err: err.Error()})
		return
	}
	emit(StreamEvent{Kind: KindError, Err: "问答后端在完成前关闭了流"})
}

// Health 探测后端存活
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.queryClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Error{Status: resp.StatusCode, Detail: "health check failed"}
	}
	return nil
}
