// Package relay 实现流式对话的下行中继
// 状态机: Idle → Connected → Streaming → Completed|Failed（终态）
// 单次请求内有三个并发活动：心跳计时器、上游事件转发、下游断开监测，
// 任何终止事件发出的瞬间三者一起收尾，之后不再向连接写任何东西
package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Ramanshu-1216/news-agent/internal/backend"
	"github.com/Ramanshu-1216/news-agent/internal/model"
)

// State 中继状态
type State int32

const (
	StateIdle State = iota
	StateConnected
	StateStreaming
	StateCompleted
	StateFailed
)

// EventWriter 下行事件写入器
// SSE 和 WebSocket 两种传输各自实现；写失败视为下游断开
type EventWriter interface {
	WriteEvent(event string, data interface{}) error
}

// PersistFunc 在流成功完成时持久化助手消息
// 只会被调用一次，且只在 Completed 转换上
type PersistFunc func(response string, citations []model.Citation) error

// Relay 一次流式请求的中继实例，不可复用
type Relay struct {
	writer    EventWriter
	keepAlive time.Duration

	mu    sync.Mutex
	state State
}

// New 创建中继实例
// keepAlive <= 0 时取 30 秒
func New(writer EventWriter, keepAlive time.Duration) *Relay {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &Relay{
		writer:    writer,
		keepAlive: keepAlive,
		state:     StateIdle,
	}
}

// State 返回当前状态
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// write 串行化地写一个事件
// 终态之后拒绝一切写入，心跳协程和主循环共用这一个入口
func (r *Relay) write(event string, data interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateCompleted || r.state == StateFailed {
		return nil
	}
	return r.writer.WriteEvent(event, data)
}

// terminate 发出终止事件并进入终态
// 写失败说明连接已不可写，忽略即可
func (r *Relay) terminate(state State, event string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateCompleted || r.state == StateFailed {
		return
	}
	if err := r.writer.WriteEvent(event, data); err != nil {
		log.Printf("[WARN] 终止事件写入失败: %v", err)
	}
	r.state = state
}

// abort 不写任何事件直接进入 Failed
// 用于下游已断开的退出路径
func (r *Relay) abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateCompleted || r.state == StateFailed {
		return
	}
	r.state = StateFailed
}

// Run 驱动整个中继
// 立即发出 connected 事件并启动心跳，然后消费上游事件直到终态：
//   - Chunk: 转发为 chunk 事件
//   - Complete: 停心跳 → 持久化助手消息 → 发 complete → Completed
//   - Error: 停心跳 → 发 error → Failed
//
// ctx 结束（下游断开）时停止转发并静默退出，不算应用错误
// Run 返回时所有内部协程都已退出
func (r *Relay) Run(ctx context.Context, events <-chan backend.StreamEvent, persist PersistFunc) {
	r.mu.Lock()
	r.state = StateConnected
	connErr := r.writer.WriteEvent("connected", map[string]interface{}{"message": "Stream connected"})
	r.mu.Unlock()
	if connErr != nil {
		log.Printf("[INFO] 下游连接不可写，中继未启动: %v", connErr)
		r.abort()
		return
	}

	// 心跳：终态前每隔 keepAlive 发一个 ping，防止空闲断连
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopKeepAlive := func() { stopOnce.Do(func() { close(stop) }) }

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.write("ping", map[string]interface{}{"timestamp": time.Now().UnixMilli()})
			case <-stop:
				return
			}
		}
	}()
	defer func() {
		stopKeepAlive()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] 客户端断开，流中继退出")
			r.abort()
			return

		case ev, ok := <-events:
			if !ok {
				stopKeepAlive()
				r.terminate(StateFailed, "error", map[string]interface{}{"error": "上游流意外结束"})
				return
			}

			switch ev.Kind {
			case backend.KindChunk:
				r.mu.Lock()
				if r.state == StateConnected {
					r.state = StateStreaming
				}
				err := r.writer.WriteEvent("chunk", map[string]interface{}{"chunk": ev.Chunk})
				r.mu.Unlock()
				if err != nil {
					log.Printf("[INFO] 下游写入失败，停止转发: %v", err)
					r.abort()
					return
				}

			case backend.KindComplete:
				stopKeepAlive()
				citations := ev.Citations
				if citations == nil {
					citations = []model.Citation{}
				}
				if persist != nil {
					if err := persist(ev.Response, citations); err != nil {
						log.Printf("[ERROR] 助手消息持久化失败: %v", err)
						r.terminate(StateFailed, "error", map[string]interface{}{"error": "回答保存失败，请重试"})
						return
					}
				}
				r.terminate(StateCompleted, "complete", map[string]interface{}{
					"response":  ev.Response,
					"citations": citations,
				})
				return

			case backend.KindError:
				stopKeepAlive()
				r.terminate(StateFailed, "error", map[string]interface{}{"error": ev.Err})
				return
			}
		}
	}
}
